package realtime

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"

	"inboxsync/pkg/logger"
)

// Event is one server-sent event from the push channel. Data is owned by
// the receiver once delivered.
type Event struct {
	ID   string
	Type string
	Data []byte
}

// Consumer maintains the persistent SSE connection to the platform's push
// channel. It reconnects with capped backoff after a drop; it never replays
// events across a gap. Instead OnResync fires after every reconnect so the
// owner can schedule a REST re-fetch as the reconciliation mechanism.
type Consumer struct {
	url   string
	token string
	hc    *http.Client

	// OnEvent receives each decoded event. Called from the consumer's
	// goroutine; implementations must not block for long.
	OnEvent func(Event)
	// OnResync fires after a successful reconnect following a drop.
	OnResync func()

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

const maxBackoff = 30 * time.Second

func NewConsumer(url, token string) *Consumer {
	return &Consumer{url: url, token: token, hc: &http.Client{}}
}

// Start begins consuming in a background goroutine. Safe to call once per
// Stop; extra calls are no-ops.
func (c *Consumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	go c.run(ctx)
}

// Stop tears the connection down and waits for the loop to exit.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.running = false
	c.mu.Unlock()
	cancel()
	<-done
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)
	backoff := time.Second
	connected := false
	for {
		if ctx.Err() != nil {
			return
		}
		ok, err := c.consumeOnce(ctx, connected)
		if ctx.Err() != nil {
			return
		}
		if ok {
			// the stream was up; start the next escalation from scratch
			connected = true
			backoff = time.Second
		}
		if err != nil {
			logger.Warn("realtime_stream_dropped", "error", err, "retry_in", backoff.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// consumeOnce opens the stream and reads events until it breaks. hadGap
// tells it a previous connection existed, in which case OnResync fires once
// the new stream is up. The bool reports whether the stream came up at all.
func (c *Consumer) consumeOnce(ctx context.Context, hadGap bool) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, &streamError{status: resp.StatusCode}
	}
	logger.Info("realtime_stream_connected", "url", c.url)
	if hadGap && c.OnResync != nil {
		// events during the gap are gone for good; owner re-fetches
		c.OnResync()
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 16*1024), 1024*1024)

	var ev Event
	data := bytebufferpool.Get()
	defer bytebufferpool.Put(data)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 || ev.Type != "" {
				ev.Data = append([]byte(nil), data.Bytes()...)
				if c.OnEvent != nil {
					c.OnEvent(ev)
				}
			}
			ev = Event{}
			data.Reset()
		case strings.HasPrefix(line, "id:"):
			ev.ID = strings.TrimSpace(line[len("id:"):])
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				_ = data.WriteByte('\n')
			}
			_, _ = data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		}
	}
	return true, scanner.Err()
}

type streamError struct{ status int }

func (e *streamError) Error() string {
	return "realtime: unexpected stream status " + http.StatusText(e.status)
}
