package bus

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"inboxsync/pkg/logger"
	"inboxsync/pkg/metrics"
	"inboxsync/pkg/models"
	"inboxsync/pkg/realtime"
)

// Source is the upstream push channel the bus owns. It is started when the
// first subscriber appears and stopped when the last one cancels, so an
// idle session holds no connection.
type Source interface {
	Start()
	Stop()
}

// MessageHandler receives message.created events.
type MessageHandler func(models.MessageCreated)

// ConversationHandler receives conversation.updated events.
type ConversationHandler func(models.ConversationUpdated)

// ResyncHandler fires when the channel reconnected after a gap and the
// store must be rebuilt via REST re-fetch.
type ResyncHandler func()

const defaultQueueCapacity = 4096

// Bus normalizes push events into typed callbacks and guarantees
// at-most-once delivery per event id. Subscriptions are handle-based:
// cancelling one registration never touches another, even if the same
// function value was registered twice.
type Bus struct {
	mu     sync.Mutex
	src    Source
	nextID uint64

	msgSubs    map[uint64]MessageHandler
	convSubs   map[uint64]ConversationHandler
	resyncSubs map[uint64]ResyncHandler

	queue   chan realtime.Event
	resyncC chan struct{}
	stop    chan struct{}
	done    chan struct{}
	running bool

	// set while the dispatch goroutine is inside handlers, so a handler
	// cancelling the last subscription does not join its own loop
	delivering atomic.Bool

	seen *seenRing
}

// New creates a Bus over the given source. The source's event callbacks
// must be wired to Enqueue and NotifyResync by the caller (internal/app
// does this) before any subscription arrives.
func New(src Source) *Bus {
	return &Bus{
		src:        src,
		msgSubs:    make(map[uint64]MessageHandler),
		convSubs:   make(map[uint64]ConversationHandler),
		resyncSubs: make(map[uint64]ResyncHandler),
		seen:       newSeenRing(1024),
	}
}

// Subscription is a cancellable registration handle.
type Subscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
	drop func(id uint64)
}

// Cancel removes exactly this registration. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		s.drop(s.id)
		active := s.bus.subscriberCountLocked()
		s.bus.mu.Unlock()
		if active == 0 {
			s.bus.shutdown()
		}
	})
}

func (b *Bus) subscriberCountLocked() int {
	return len(b.msgSubs) + len(b.convSubs) + len(b.resyncSubs)
}

func (b *Bus) subscribe(register func(id uint64), drop func(id uint64)) *Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	register(id)
	first := b.subscriberCountLocked() == 1
	b.mu.Unlock()
	if first {
		b.startup()
	}
	return &Subscription{bus: b, id: id, drop: drop}
}

// SubscribeMessages registers fn for message.created events.
func (b *Bus) SubscribeMessages(fn MessageHandler) *Subscription {
	return b.subscribe(
		func(id uint64) { b.msgSubs[id] = fn },
		func(id uint64) { delete(b.msgSubs, id) },
	)
}

// SubscribeConversations registers fn for conversation.updated events.
func (b *Bus) SubscribeConversations(fn ConversationHandler) *Subscription {
	return b.subscribe(
		func(id uint64) { b.convSubs[id] = fn },
		func(id uint64) { delete(b.convSubs, id) },
	)
}

// SubscribeResync registers fn for post-reconnect resync notifications.
func (b *Bus) SubscribeResync(fn ResyncHandler) *Subscription {
	return b.subscribe(
		func(id uint64) { b.resyncSubs[id] = fn },
		func(id uint64) { delete(b.resyncSubs, id) },
	)
}

// startup connects the source and starts the dispatch loop.
func (b *Bus) startup() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.queue = make(chan realtime.Event, defaultQueueCapacity)
	b.resyncC = make(chan struct{}, 1)
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	b.running = true
	go b.dispatch(b.queue, b.resyncC, b.stop, b.done)
	b.mu.Unlock()
	if b.src != nil {
		b.src.Start()
	}
	logger.Info("bus_started")
}

// shutdown stops the source and the dispatch loop. Called when the last
// subscriber cancels; a later subscribe starts everything again.
func (b *Bus) shutdown() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	stop, done := b.stop, b.done
	b.running = false
	b.mu.Unlock()
	if b.src != nil {
		b.src.Stop()
	}
	close(stop)
	if !b.delivering.Load() {
		// when handlers are mid-flight the loop drains itself after the
		// current delivery; waiting here would deadlock a self-cancel
		<-done
	}
	logger.Info("bus_stopped")
}

// Close force-stops regardless of subscriber count (session teardown).
func (b *Bus) Close() {
	b.mu.Lock()
	b.msgSubs = make(map[uint64]MessageHandler)
	b.convSubs = make(map[uint64]ConversationHandler)
	b.resyncSubs = make(map[uint64]ResyncHandler)
	b.mu.Unlock()
	b.shutdown()
}

// Enqueue accepts a raw push event. Non-blocking: when the queue is full
// the event is dropped and counted; the periodic re-fetch repairs the gap.
func (b *Bus) Enqueue(ev realtime.Event) {
	b.mu.Lock()
	running, q := b.running, b.queue
	b.mu.Unlock()
	if !running {
		return
	}
	select {
	case q <- ev:
	default:
		metrics.BusDropped.Inc()
		logger.Warn("bus_queue_full_drop", "event_id", ev.ID, "type", ev.Type)
	}
}

// NotifyResync signals that the realtime channel reconnected after a gap.
func (b *Bus) NotifyResync() {
	b.mu.Lock()
	running, c := b.running, b.resyncC
	b.mu.Unlock()
	if !running {
		return
	}
	select {
	case c <- struct{}{}:
	default:
	}
}

// dispatch is the single delivery goroutine. Serial delivery keeps handler
// execution ordered the way events arrived.
func (b *Bus) dispatch(q chan realtime.Event, resyncC chan struct{}, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-resyncC:
			b.delivering.Store(true)
			for _, fn := range b.resyncSnapshot() {
				fn()
			}
			b.delivering.Store(false)
		case ev := <-q:
			b.delivering.Store(true)
			b.deliver(ev)
			b.delivering.Store(false)
		}
	}
}

func (b *Bus) deliver(ev realtime.Event) {
	// at-most-once per event id; the channel itself is at-least-once
	if ev.ID != "" && !b.seen.Add(ev.ID) {
		metrics.BusDeduped.Inc()
		logger.Debug("bus_duplicate_event", "event_id", ev.ID)
		return
	}
	switch ev.Type {
	case models.EventMessageCreated:
		var payload models.MessageCreated
		if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.ConvID == "" {
			metrics.BusMalformed.Inc()
			logger.Warn("bus_malformed_event", "type", ev.Type, "error", err)
			return
		}
		metrics.BusDelivered.WithLabelValues(ev.Type).Inc()
		for _, fn := range b.messageSnapshot() {
			fn(payload)
		}
	case models.EventConversationUpdated:
		var payload models.ConversationUpdated
		if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.ConvID == "" {
			metrics.BusMalformed.Inc()
			logger.Warn("bus_malformed_event", "type", ev.Type, "error", err)
			return
		}
		metrics.BusDelivered.WithLabelValues(ev.Type).Inc()
		for _, fn := range b.conversationSnapshot() {
			fn(payload)
		}
	default:
		logger.Debug("bus_unknown_event", "type", ev.Type)
	}
}

// snapshot helpers copy handlers under the lock so delivery runs without it
// and a handler cancelling its own subscription cannot deadlock.

func (b *Bus) messageSnapshot() []MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]MessageHandler, 0, len(b.msgSubs))
	for _, fn := range b.msgSubs {
		out = append(out, fn)
	}
	return out
}

func (b *Bus) conversationSnapshot() []ConversationHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ConversationHandler, 0, len(b.convSubs))
	for _, fn := range b.convSubs {
		out = append(out, fn)
	}
	return out
}

func (b *Bus) resyncSnapshot() []ResyncHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ResyncHandler, 0, len(b.resyncSubs))
	for _, fn := range b.resyncSubs {
		out = append(out, fn)
	}
	return out
}
