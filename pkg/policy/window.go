// Package policy computes send eligibility under the platform's reply
// window rule: operator messages are only allowed inside a fixed period
// after the most recent inbound message from the lead.
package policy

import (
	"errors"
	"time"

	"inboxsync/pkg/models"
)

// ErrWindowClosed is the pure local rejection for a send attempted outside
// the reply window. It never reaches the network.
var ErrWindowClosed = errors.New("reply window closed")

// DefaultWindow is the platform's reply window.
const DefaultWindow = 24 * time.Hour

// Window is the evaluation result. Derived state only: callers recompute it
// on every read because it changes with nothing but wall-clock time.
type Window struct {
	Open bool `json:"open"`
	// LastInboundTS is the unix-nano timestamp the window is anchored to.
	// Zero when the conversation has no inbound message at all.
	LastInboundTS int64 `json:"last_inbound_ts,omitempty"`
	// ExpiresTS is when the window closes (or closed). Zero when Open is
	// true because no inbound message ever started the timer.
	ExpiresTS int64 `json:"expires_ts,omitempty"`
}

// Evaluate scans msgs for the most recent lead-direction message and
// compares the elapsed time against window. No inbound message at all means
// open: a never-contacted conversation is sendable, the restriction only
// starts ticking once a real inbound event exists. The boundary is
// inclusive on the closed side: elapsed == window is closed.
func Evaluate(msgs []models.Message, now time.Time, window time.Duration) Window {
	if window <= 0 {
		window = DefaultWindow
	}
	var last int64
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Direction == models.DirLead {
			last = msgs[i].TS
			break
		}
	}
	if last == 0 {
		return Window{Open: true}
	}
	expires := last + window.Nanoseconds()
	return Window{
		Open:          now.UnixNano() < expires,
		LastInboundTS: last,
		ExpiresTS:     expires,
	}
}
