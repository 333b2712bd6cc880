package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"inboxsync/pkg/bus"
	"inboxsync/pkg/models"
	"inboxsync/pkg/send"
	"inboxsync/pkg/store"
	"inboxsync/pkg/transport"
	"inboxsync/pkg/validation"
)

// stubClient is a controllable transport.Client for engine tests.
type stubClient struct {
	markReadErr   error
	markReadCalls int

	updateLeadErr   error
	updateLeadID    string
	updateLeadCalls int

	convPages []transport.Page[models.Conversation]
	msgPages  map[string][]transport.Page[models.Message]

	sendErr error
	nextID  int
}

func (c *stubClient) ListConversations(_ context.Context, f transport.Filters) (transport.Page[models.Conversation], error) {
	if len(c.convPages) == 0 {
		return transport.Page[models.Conversation]{}, nil
	}
	idx := 0
	for i, p := range c.convPages {
		if f.Cursor == "" && i == 0 {
			idx = 0
			break
		}
		if p.NextCursor == f.Cursor && i+1 < len(c.convPages) {
			idx = i + 1
		}
	}
	return c.convPages[idx], nil
}

func (c *stubClient) ListMessages(_ context.Context, convID, cursor string) (transport.Page[models.Message], error) {
	pages := c.msgPages[convID]
	if len(pages) == 0 {
		return transport.Page[models.Message]{}, nil
	}
	if cursor == "" {
		return pages[0], nil
	}
	for i, p := range pages {
		if p.NextCursor == cursor && i+1 < len(pages) {
			return pages[i+1], nil
		}
	}
	return transport.Page[models.Message]{}, nil
}

func (c *stubClient) SendMessage(_ context.Context, convID string, out transport.Outgoing) (models.Message, error) {
	if c.sendErr != nil {
		return models.Message{}, c.sendErr
	}
	c.nextID++
	return models.Message{
		Ident:     models.Ident{Kind: models.IdentConfirmed, ServerID: fmt.Sprintf("srv-%d", c.nextID)},
		ConvID:    convID,
		Text:      out.Text,
		Direction: models.DirOperator,
		Status:    models.StatusSent,
	}, nil
}

func (c *stubClient) MarkRead(_ context.Context, _ string) error {
	c.markReadCalls++
	return c.markReadErr
}

func (c *stubClient) UpdateLead(_ context.Context, leadID string, _ models.LeadPatch) error {
	c.updateLeadCalls++
	c.updateLeadID = leadID
	return c.updateLeadErr
}

func (c *stubClient) UploadMedia(_ context.Context, name, _ string, src io.Reader) (string, error) {
	io.Copy(io.Discard, src)
	return "https://media.example/" + name, nil
}

// nopSource keeps the bus happy without a real SSE connection.
type nopSource struct{}

func (nopSource) Start() {}
func (nopSource) Stop()  {}

func newTestEngine(t *testing.T, client transport.Client) (*Engine, *store.Store) {
	t.Helper()
	st := store.New(nil)
	b := bus.New(nopSource{})
	e := NewEngine(st, client, b, validation.Rules{MaxTextLen: 4096}, 0, nil)
	t.Cleanup(e.Close)
	return e, st
}

func TestMarkReadOptimisticRevert(t *testing.T) {
	client := &stubClient{markReadErr: errors.New("server says no")}
	e, st := newTestEngine(t, client)
	st.UpsertConversations([]models.Conversation{{ID: "c1", UnreadCount: 3, Status: models.ConversationOpen}})

	err := e.MarkRead(context.Background(), "c1")
	if err == nil {
		t.Fatal("expected the server rejection to surface")
	}
	conv, _ := st.Conversation("c1")
	if conv.UnreadCount != 3 {
		t.Fatalf("unread must be restored to 3, got %d", conv.UnreadCount)
	}

	client.markReadErr = nil
	if err := e.MarkRead(context.Background(), "c1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, _ = st.Conversation("c1")
	if conv.UnreadCount != 0 {
		t.Fatalf("unread should stay zero after success, got %d", conv.UnreadCount)
	}
}

func TestEditLeadRevertsOnRejection(t *testing.T) {
	client := &stubClient{updateLeadErr: errors.New("crm down")}
	e, st := newTestEngine(t, client)
	st.UpsertConversations([]models.Conversation{{
		ID: "c1", Status: models.ConversationOpen,
		Lead: &models.Lead{ID: "l1", Notes: "original"},
	}})

	notes := "edited"
	err := e.EditLead(context.Background(), "c1", validation.LeadPatchInput{Notes: &notes})
	if err == nil {
		t.Fatal("expected rejection to surface")
	}
	conv, _ := st.Conversation("c1")
	if conv.Lead.Notes != "original" {
		t.Fatalf("lead not reverted: %q", conv.Lead.Notes)
	}
	if client.updateLeadID != "l1" {
		t.Fatalf("patch must target the lead id, got %q", client.updateLeadID)
	}

	client.updateLeadErr = nil
	if err := e.EditLead(context.Background(), "c1", validation.LeadPatchInput{Notes: &notes}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, _ = st.Conversation("c1")
	if conv.Lead.Notes != "edited" {
		t.Fatalf("patch lost after success: %q", conv.Lead.Notes)
	}
}

func TestEditLeadWithoutLeadFails(t *testing.T) {
	client := &stubClient{}
	e, st := newTestEngine(t, client)
	st.UpsertConversations([]models.Conversation{{ID: "c1", Status: models.ConversationOpen}})

	notes := "x"
	if err := e.EditLead(context.Background(), "c1", validation.LeadPatchInput{Notes: &notes}); err == nil {
		t.Fatal("expected error for a conversation without a lead")
	}
	if client.updateLeadCalls != 0 {
		t.Fatal("no network call without a lead")
	}
}

func TestPushedMessageMergesIntoStore(t *testing.T) {
	e, st := newTestEngine(t, &stubClient{})

	e.handleMessageCreated(models.MessageCreated{
		ConvID:  "c1",
		Message: models.RemoteMessage{ID: "m1", Text: "hey", Direction: models.DirLead, TS: 100},
	})
	msgs := st.Messages("c1")
	if len(msgs) != 1 || msgs[0].Ident.ServerID != "m1" {
		t.Fatalf("push not merged: %+v", msgs)
	}
	conv, _ := st.Conversation("c1")
	if conv.UnreadCount != 1 {
		t.Fatalf("unread not bumped, got %d", conv.UnreadCount)
	}
}

func TestDuplicatePushMayOnlyUpgradeStatus(t *testing.T) {
	e, st := newTestEngine(t, &stubClient{})

	first := models.MessageCreated{
		ConvID:  "c1",
		Message: models.RemoteMessage{ID: "m1", Text: "hi", Direction: models.DirOperator, TS: 100, Status: models.StatusSent},
	}
	e.handleMessageCreated(first)
	// redelivery with a newer status
	first.Message.Status = models.StatusRead
	e.handleMessageCreated(first)

	msgs := st.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("duplicate must not add an entry, got %d", len(msgs))
	}
	if msgs[0].Status != models.StatusRead {
		t.Fatalf("status upgrade lost, got %s", msgs[0].Status)
	}
}

func TestConversationPatchApplied(t *testing.T) {
	e, st := newTestEngine(t, &stubClient{})
	st.UpsertConversations([]models.Conversation{{ID: "c1", UnreadCount: 5, Status: models.ConversationOpen}})

	zero := 0
	closed := models.ConversationClosed
	e.handleConversationUpdated(models.ConversationUpdated{
		ConvID: "c1",
		Patch:  models.ConversationPatch{UnreadCount: &zero, Status: &closed},
	})
	conv, _ := st.Conversation("c1")
	if conv.UnreadCount != 0 || conv.Status != models.ConversationClosed {
		t.Fatalf("patch not applied: %+v", conv)
	}
}

func TestFetchMessagesPagesAndReplaces(t *testing.T) {
	client := &stubClient{msgPages: map[string][]transport.Page[models.Message]{
		"c1": {
			{Items: []models.Message{confirmed("a", 100)}, NextCursor: "p2"},
			{Items: []models.Message{confirmed("b", 200)}},
		},
	}}
	e, st := newTestEngine(t, client)
	// a stale pending entry from before the re-fetch
	st.InsertOptimistic("c1", store.Draft{Text: "stale"})

	if err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs := st.Messages("c1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages after replace, got %d", len(msgs))
	}
	if msgs[0].Ident.ServerID != "a" || msgs[1].Ident.ServerID != "b" {
		t.Fatalf("pages merged wrong: %+v", msgs)
	}
}

func TestRefreshAllPopulatesStore(t *testing.T) {
	client := &stubClient{
		convPages: []transport.Page[models.Conversation]{{
			Items: []models.Conversation{
				{ID: "c1", Status: models.ConversationOpen},
				{ID: "c2", Status: models.ConversationClosed},
			},
		}},
		msgPages: map[string][]transport.Page[models.Message]{
			"c1": {{Items: []models.Message{confirmed("m1", 100)}}},
		},
	}
	e, st := newTestEngine(t, client)

	if err := e.RefreshAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(st.Conversations(store.ListFilter{})); got != 2 {
		t.Fatalf("expected 2 conversations, got %d", got)
	}
	if got := len(st.Messages("c1")); got != 1 {
		t.Fatalf("expected 1 message in c1, got %d", got)
	}
}

func TestWindowReflectsStoreState(t *testing.T) {
	e, st := newTestEngine(t, &stubClient{})
	if !e.Window("ghost").Open {
		t.Fatal("a conversation with no inbound history is sendable")
	}
	st.MergeRemote("c1", models.Message{
		Ident:     models.Ident{Kind: models.IdentConfirmed, ServerID: "m1"},
		Text:      "hello there",
		Direction: models.DirLead,
		TS:        time.Now().Add(-30 * time.Hour).UnixNano(),
		Status:    models.StatusDelivered,
	})
	if e.Window("c1").Open {
		t.Fatal("window must be closed 30h after the last inbound")
	}
}

func TestSendThroughEngine(t *testing.T) {
	e, st := newTestEngine(t, &stubClient{})
	report, err := e.Send(context.Background(), "c1", send.Input{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Parts) != 1 || report.Parts[0].Failed {
		t.Fatalf("bad report: %+v", report)
	}
	if len(st.Messages("c1")) != 1 {
		t.Fatal("message missing from store")
	}
}

func confirmed(id string, ts int64) models.Message {
	return models.Message{
		Ident:     models.Ident{Kind: models.IdentConfirmed, ServerID: id},
		Direction: models.DirLead,
		TS:        ts,
		Status:    models.StatusDelivered,
	}
}
