package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"inboxsync/pkg/models"
)

func lead(ts int64) models.Message {
	return models.Message{Direction: models.DirLead, TS: ts, Status: models.StatusDelivered}
}

func operator(ts int64) models.Message {
	return models.Message{Direction: models.DirOperator, TS: ts, Status: models.StatusSent}
}

func TestEvaluate(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	anchor := base.UnixNano()

	cases := []struct {
		name string
		msgs []models.Message
		now  time.Time
		open bool
	}{
		{
			name: "no messages at all",
			msgs: nil,
			now:  base,
			open: true,
		},
		{
			name: "only operator messages",
			msgs: []models.Message{operator(anchor)},
			now:  base.Add(100 * 24 * time.Hour),
			open: true,
		},
		{
			name: "inbound one minute ago",
			msgs: []models.Message{lead(anchor)},
			now:  base.Add(time.Minute),
			open: true,
		},
		{
			name: "one minute before the deadline",
			msgs: []models.Message{lead(anchor)},
			now:  base.Add(24*time.Hour - time.Minute),
			open: true,
		},
		{
			name: "exactly at the deadline",
			msgs: []models.Message{lead(anchor)},
			now:  base.Add(24 * time.Hour),
			open: false,
		},
		{
			name: "past the deadline",
			msgs: []models.Message{lead(anchor)},
			now:  base.Add(25 * time.Hour),
			open: false,
		},
		{
			name: "operator replies do not reset the timer",
			msgs: []models.Message{lead(anchor), operator(base.Add(23 * time.Hour).UnixNano())},
			now:  base.Add(25 * time.Hour),
			open: false,
		},
		{
			name: "newer inbound reopens",
			msgs: []models.Message{lead(anchor), lead(base.Add(30 * time.Hour).UnixNano())},
			now:  base.Add(31 * time.Hour),
			open: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := Evaluate(tc.msgs, tc.now, DefaultWindow)
			assert.Equal(t, tc.open, w.Open)
		})
	}
}

func TestEvaluateAnchorsToLastInbound(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	second := base.Add(2 * time.Hour)
	msgs := []models.Message{lead(base.UnixNano()), lead(second.UnixNano())}

	w := Evaluate(msgs, base.Add(3*time.Hour), DefaultWindow)
	assert.True(t, w.Open)
	assert.Equal(t, second.UnixNano(), w.LastInboundTS)
	assert.Equal(t, second.Add(24*time.Hour).UnixNano(), w.ExpiresTS)
}

func TestEvaluateCustomWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []models.Message{lead(base.UnixNano())}

	assert.True(t, Evaluate(msgs, base.Add(30*time.Minute), time.Hour).Open)
	assert.False(t, Evaluate(msgs, base.Add(61*time.Minute), time.Hour).Open)
}
