// Package store holds the authoritative client-side inbox state: the
// ordered conversation list and one ordered message list per conversation,
// including in-flight optimistic entries. Every mutation goes through a
// Store method under one mutex; no caller ever holds a reference into
// internal state. That single serialized mutation path is what keeps
// interleaved sends, push events and re-fetches from tearing state.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"inboxsync/pkg/logger"
	"inboxsync/pkg/metrics"
	"inboxsync/pkg/models"
)

// conversation pairs the list-level metadata with the ordered message list.
type conversation struct {
	meta models.Conversation
	// msgs is ordered by non-decreasing TS. Existing entries never move
	// relative to each other; reconcile swaps identity in place.
	msgs []models.Message
	// byKey maps the current ident key (temp or server id) to an index
	// into msgs.
	byKey map[string]int
}

// Store is constructed once per session and torn down on logout. An
// optional Cache persists a snapshot so a restart renders instantly while
// the real re-fetch runs.
type Store struct {
	mu    sync.Mutex
	convs map[string]*conversation
	cache *Cache

	// test seams; default to wall clock and uuid
	now    func() int64
	tempID func() string
}

func New(cache *Cache) *Store {
	return &Store{
		convs:  make(map[string]*conversation),
		cache:  cache,
		now:    func() int64 { return time.Now().UTC().UnixNano() },
		tempID: func() string { return "tmp-" + uuid.NewString() },
	}
}

// Close flushes the snapshot cache if one is attached.
func (s *Store) Close() {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.cache.persist(snap)
	s.cache.Close()
}

// getOrCreateLocked returns the conversation, creating a skeleton when a
// message arrives for a conversation the store has never fetched.
func (s *Store) getOrCreateLocked(convID string) *conversation {
	c, ok := s.convs[convID]
	if !ok {
		c = &conversation{
			meta:  models.Conversation{ID: convID, Status: models.ConversationOpen},
			byKey: make(map[string]int),
		}
		s.convs[convID] = c
		metrics.Conversations.Set(float64(len(s.convs)))
		logger.Debug("conversation_created_on_demand", "conv", convID)
	}
	return c
}

// UpsertConversations merges a fetched conversation page. Server metadata
// wins; locally-held messages are kept untouched.
func (s *Store) UpsertConversations(convs []models.Conversation) {
	s.mu.Lock()
	for _, in := range convs {
		if in.ID == "" {
			continue
		}
		c := s.getOrCreateLocked(in.ID)
		c.meta = in
	}
	metrics.Conversations.Set(float64(len(s.convs)))
	s.mu.Unlock()
	s.persistAsync()
}

// Conversation returns a copy of one conversation's metadata.
func (s *Store) Conversation(convID string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return models.Conversation{}, false
	}
	return copyConversation(c.meta), true
}

// ListFilter narrows Conversations output.
type ListFilter struct {
	Status models.ConversationStatus
	Search string
}

// Conversations returns a copy of the conversation list ordered by
// last-message timestamp, newest first.
func (s *Store) Conversations(f ListFilter) []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		if f.Status != "" && c.meta.Status != f.Status {
			continue
		}
		if f.Search != "" && !matchesSearch(c.meta, f.Search) {
			continue
		}
		out = append(out, copyConversation(c.meta))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.TS > out[j].LastMessage.TS
	})
	return out
}

// SetUnread sets the unread counter and returns the previous value so the
// caller can revert when the server rejects the mark-read.
func (s *Store) SetUnread(convID string, n int) (prev int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, found := s.convs[convID]
	if !found {
		return 0, false
	}
	prev = c.meta.UnreadCount
	if n < 0 {
		n = 0
	}
	c.meta.UnreadCount = n
	return prev, true
}

// ApplyLeadPatch applies a lead edit and returns a snapshot of the previous
// lead for rollback on server failure.
func (s *Store) ApplyLeadPatch(convID string, patch models.LeadPatch) (prev *models.Lead, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, found := s.convs[convID]
	if !found || c.meta.Lead == nil {
		return nil, false
	}
	prev = copyLead(c.meta.Lead)
	if patch.Notes != nil {
		c.meta.Lead.Notes = *patch.Notes
	}
	if patch.Tags != nil {
		c.meta.Lead.Tags = append([]string(nil), (*patch.Tags)...)
	}
	return prev, true
}

// RestoreLead reverts a failed lead edit to its pre-mutation snapshot.
func (s *Store) RestoreLead(convID string, lead *models.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[convID]; ok {
		c.meta.Lead = copyLead(lead)
	}
}

// ApplyConversationPatch applies a conversation.updated push event. Server
// state is authoritative for every field it names.
func (s *Store) ApplyConversationPatch(convID string, patch models.ConversationPatch) {
	s.mu.Lock()
	c := s.getOrCreateLocked(convID)
	if patch.UnreadCount != nil && *patch.UnreadCount >= 0 {
		c.meta.UnreadCount = *patch.UnreadCount
	}
	if patch.Status != nil {
		c.meta.Status = *patch.Status
	}
	if patch.Lead != nil {
		c.meta.Lead = copyLead(patch.Lead)
	}
	s.mu.Unlock()
	s.persistAsync()
}

// bumpPreviewLocked refreshes the denormalized last-message preview.
func (c *conversation) bumpPreviewLocked(m models.Message) {
	if m.TS < c.meta.LastMessage.TS {
		return
	}
	c.meta.LastMessage = models.LastMessage{
		Text:          m.Text,
		HasAttachment: len(m.Attachments) > 0,
		TS:            m.TS,
	}
}

func copyConversation(in models.Conversation) models.Conversation {
	out := in
	out.Participants = append([]models.Participant(nil), in.Participants...)
	out.Lead = copyLead(in.Lead)
	return out
}

func copyLead(in *models.Lead) *models.Lead {
	if in == nil {
		return nil
	}
	out := *in
	out.Tags = append([]string(nil), in.Tags...)
	return &out
}

func matchesSearch(c models.Conversation, q string) bool {
	q = normalize(q)
	if c.Lead != nil {
		if contains(c.Lead.Name, q) || contains(c.Lead.Username, q) {
			return true
		}
	}
	for _, p := range c.Participants {
		if contains(p.DisplayName, q) {
			return true
		}
	}
	return contains(c.LastMessage.Text, q)
}
