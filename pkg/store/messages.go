package store

import (
	"sort"
	"strings"

	"inboxsync/pkg/logger"
	"inboxsync/pkg/metrics"
	"inboxsync/pkg/models"
)

// Draft is the local half of a send: what the operator wants to say. The
// pipeline breaks one compose action into several drafts (one per
// attachment, one for the text).
type Draft struct {
	Text        string
	Attachments []models.Attachment
}

// InsertOptimistic appends a pending operator message and returns its temp
// id. Synchronous: the entry is visible to readers before any network call
// happens, which is what makes the send feel instant.
func (s *Store) InsertOptimistic(convID string, d Draft) string {
	s.mu.Lock()
	c := s.getOrCreateLocked(convID)
	ts := s.now()
	if n := len(c.msgs); n > 0 && ts < c.msgs[n-1].TS {
		// clock went backwards relative to the list tail; clamp so the
		// ordering invariant holds
		ts = c.msgs[n-1].TS
	}
	m := models.Message{
		Ident:       models.Ident{Kind: models.IdentPending, TempID: s.tempID()},
		ConvID:      convID,
		Text:        d.Text,
		Attachments: append([]models.Attachment(nil), d.Attachments...),
		Direction:   models.DirOperator,
		TS:          ts,
		Status:      models.StatusPending,
	}
	c.byKey[m.Ident.TempID] = len(c.msgs)
	c.msgs = append(c.msgs, m)
	c.bumpPreviewLocked(m)
	s.mu.Unlock()
	return m.Ident.TempID
}

// Reconcile swaps the pending entry's identity for the server's, in place.
// The list position and the client-assigned timestamp are kept. Idempotent:
// a second call with the same temp id is a no-op, as is a call after the
// conversation was reset by a full re-fetch.
func (s *Store) Reconcile(convID, tempID string, server models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return false
	}
	idx, ok := c.byKey[tempID]
	if !ok || c.msgs[idx].Ident.Kind != models.IdentPending {
		return false
	}
	serverID := server.Ident.ServerID
	if serverID == "" {
		logger.Warn("reconcile_missing_server_id", "conv", convID, "temp", tempID)
		return false
	}
	if dup, exists := c.byKey[serverID]; exists {
		// the confirmed message already arrived over the push channel;
		// drop the placeholder rather than duplicating
		delete(c.byKey, tempID)
		c.removeAtLocked(idx)
		logger.Debug("reconcile_collapsed_into_remote", "conv", convID, "server_id", serverID, "kept_at", dup)
		return true
	}
	// identity swap in place; the client-assigned TS is never renumbered
	m := &c.msgs[idx]
	m.Ident = models.Ident{Kind: models.IdentConfirmed, ServerID: serverID}
	if server.Text != "" {
		m.Text = server.Text
	}
	if len(server.Attachments) > 0 {
		m.Attachments = append([]models.Attachment(nil), server.Attachments...)
	}
	m.Status = models.StatusSent
	if server.Status != "" && models.StatusSent.UpgradesTo(server.Status) {
		m.Status = server.Status
	}
	delete(c.byKey, tempID)
	c.byKey[serverID] = idx
	return true
}

// MarkFailed flips a pending entry to the terminal failed status. The entry
// stays in the list so the user sees exactly what did not go through.
// Idempotent; a no-op once the message confirmed.
func (s *Store) MarkFailed(convID, tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return false
	}
	idx, ok := c.byKey[tempID]
	if !ok {
		return false
	}
	m := &c.msgs[idx]
	if m.Ident.Kind != models.IdentPending || m.Status == models.StatusFailed {
		return false
	}
	m.Status = models.StatusFailed
	return true
}

// RemoveFailed drops a failed entry (the user dismissed it). Only failed
// entries can be removed.
func (s *Store) RemoveFailed(convID, tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return false
	}
	idx, ok := c.byKey[tempID]
	if !ok || c.msgs[idx].Status != models.StatusFailed {
		return false
	}
	delete(c.byKey, tempID)
	c.removeAtLocked(idx)
	return true
}

// MergeRemote inserts a confirmed message delivered by the push channel or
// a page fetch. De-duplicated by server id; inserting an id the store holds
// is a no-op, as is a message carrying neither text nor attachments. The
// owning conversation is created on demand. Lead-direction messages bump
// the unread counter.
func (s *Store) MergeRemote(convID string, m models.Message) bool {
	if m.Ident.Kind != models.IdentConfirmed || m.Ident.ServerID == "" {
		logger.Warn("merge_remote_unconfirmed", "conv", convID)
		return false
	}
	if !m.HasContent() {
		logger.Warn("merge_remote_empty", "conv", convID, "server_id", m.Ident.ServerID)
		return false
	}
	s.mu.Lock()
	c := s.getOrCreateLocked(convID)
	if _, exists := c.byKey[m.Ident.ServerID]; exists {
		s.mu.Unlock()
		metrics.MergeDeduped.Inc()
		return false
	}
	m.ConvID = convID
	c.insertOrderedLocked(m)
	c.bumpPreviewLocked(m)
	if m.Direction == models.DirLead {
		c.meta.UnreadCount++
	}
	s.mu.Unlock()
	s.persistAsync()
	return true
}

// ApplyStatus upgrades a confirmed message along sent -> delivered -> read.
// Downgrades and repeats are no-ops.
func (s *Store) ApplyStatus(convID, serverID string, status models.MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return false
	}
	idx, ok := c.byKey[serverID]
	if !ok {
		return false
	}
	m := &c.msgs[idx]
	if !m.Status.UpgradesTo(status) {
		return false
	}
	m.Status = status
	return true
}

// ReplaceMessages swaps in a freshly fetched message list (oldest-first).
// In-flight pending entries are discarded: after a full re-fetch their
// reconcile no-ops, and the fetch is the reconciliation mechanism. Failed
// entries are local-only and survive the swap so the user can still retry
// or dismiss them.
func (s *Store) ReplaceMessages(convID string, msgs []models.Message) {
	s.mu.Lock()
	c := s.getOrCreateLocked(convID)
	var failed []models.Message
	for _, m := range c.msgs {
		if m.Ident.Kind == models.IdentPending && m.Status == models.StatusFailed {
			failed = append(failed, m)
		}
	}
	c.msgs = c.msgs[:0]
	c.byKey = make(map[string]int, len(msgs)+len(failed))
	for _, m := range msgs {
		if m.Ident.Kind != models.IdentConfirmed || m.Ident.ServerID == "" {
			continue
		}
		if _, dup := c.byKey[m.Ident.ServerID]; dup {
			continue
		}
		m.ConvID = convID
		c.insertOrderedLocked(m)
	}
	for _, m := range failed {
		c.insertOrderedLocked(m)
	}
	if n := len(c.msgs); n > 0 {
		c.bumpPreviewLocked(c.msgs[n-1])
	}
	s.mu.Unlock()
	s.persistAsync()
}

// Messages returns a copy of a conversation's ordered message list.
func (s *Store) Messages(convID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return nil
	}
	out := make([]models.Message, len(c.msgs))
	copy(out, c.msgs)
	for i := range out {
		out[i].Attachments = append([]models.Attachment(nil), c.msgs[i].Attachments...)
	}
	return out
}

// insertOrderedLocked places m at the position keeping TS non-decreasing.
// Equal timestamps keep arrival order; existing entries never move relative
// to each other.
func (c *conversation) insertOrderedLocked(m models.Message) {
	idx := sort.Search(len(c.msgs), func(i int) bool { return c.msgs[i].TS > m.TS })
	c.msgs = append(c.msgs, models.Message{})
	copy(c.msgs[idx+1:], c.msgs[idx:])
	c.msgs[idx] = m
	for i := idx; i < len(c.msgs); i++ {
		c.byKey[c.msgs[i].Ident.Key()] = i
	}
}

// removeAtLocked deletes msgs[idx] and reindexes the tail.
func (c *conversation) removeAtLocked(idx int) {
	c.msgs = append(c.msgs[:idx], c.msgs[idx+1:]...)
	for i := idx; i < len(c.msgs); i++ {
		c.byKey[c.msgs[i].Ident.Key()] = i
	}
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func contains(haystack, needle string) bool {
	return needle != "" && strings.Contains(strings.ToLower(haystack), needle)
}
