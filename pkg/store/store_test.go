package store

import (
	"fmt"
	"testing"

	"inboxsync/pkg/models"
)

// newTestStore returns a store with a deterministic clock and temp ids.
func newTestStore() (*Store, *int64) {
	s := New(nil)
	clock := new(int64)
	*clock = 1000
	s.now = func() int64 { *clock += 10; return *clock }
	n := 0
	s.tempID = func() string { n++; return fmt.Sprintf("tmp-%d", n) }
	return s, clock
}

func remoteMsg(id string, ts int64, dir models.Direction) models.Message {
	st := models.StatusSent
	if dir == models.DirLead {
		st = models.StatusDelivered
	}
	return models.Message{
		Ident:     models.Ident{Kind: models.IdentConfirmed, ServerID: id},
		Text:      "m-" + id,
		Direction: dir,
		TS:        ts,
		Status:    st,
	}
}

func TestInsertOptimisticImmediatelyVisible(t *testing.T) {
	s, _ := newTestStore()
	tempID := s.InsertOptimistic("c1", Draft{Text: "hello"})
	if tempID == "" {
		t.Fatal("expected a temp id")
	}
	msgs := s.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Ident.Kind != models.IdentPending || m.Ident.TempID != tempID {
		t.Fatalf("unexpected identity: %+v", m.Ident)
	}
	if m.Status != models.StatusPending {
		t.Fatalf("expected pending status, got %s", m.Status)
	}
	if m.Direction != models.DirOperator {
		t.Fatalf("optimistic messages are operator-direction, got %s", m.Direction)
	}
}

func TestReconcileSwapsIdentityInPlace(t *testing.T) {
	s, _ := newTestStore()
	s.MergeRemote("c1", remoteMsg("s1", 500, models.DirLead))
	tempID := s.InsertOptimistic("c1", Draft{Text: "hi"})
	localTS := s.Messages("c1")[1].TS

	server := remoteMsg("s2", 99999, models.DirOperator)
	if !s.Reconcile("c1", tempID, server) {
		t.Fatal("reconcile should succeed")
	}
	msgs := s.Messages("c1")
	if len(msgs) != 2 {
		t.Fatalf("reconcile must not change message count, got %d", len(msgs))
	}
	m := msgs[1]
	if m.Ident.Kind != models.IdentConfirmed || m.Ident.ServerID != "s2" {
		t.Fatalf("identity not swapped: %+v", m.Ident)
	}
	if m.TS != localTS {
		t.Fatalf("client timestamp must be kept: want %d got %d", localTS, m.TS)
	}
	if m.Status != models.StatusSent {
		t.Fatalf("expected sent after reconcile, got %s", m.Status)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	s, _ := newTestStore()
	tempID := s.InsertOptimistic("c1", Draft{Text: "hi"})
	server := remoteMsg("s1", 0, models.DirOperator)

	if !s.Reconcile("c1", tempID, server) {
		t.Fatal("first reconcile should succeed")
	}
	before := s.Messages("c1")
	if s.Reconcile("c1", tempID, server) {
		t.Fatal("second reconcile must be a no-op")
	}
	after := s.Messages("c1")
	if len(before) != len(after) || before[0].Ident != after[0].Ident || before[0].Status != after[0].Status {
		t.Fatalf("state changed on repeat reconcile: %+v vs %+v", before[0], after[0])
	}
}

func TestReconcileNoopAfterReset(t *testing.T) {
	s, _ := newTestStore()
	tempID := s.InsertOptimistic("c1", Draft{Text: "hi"})
	// full re-fetch replaces the list and drops the pending entry
	s.ReplaceMessages("c1", []models.Message{remoteMsg("s1", 100, models.DirLead)})

	if s.Reconcile("c1", tempID, remoteMsg("s2", 0, models.DirOperator)) {
		t.Fatal("reconcile after reset must be a no-op")
	}
	if n := len(s.Messages("c1")); n != 1 {
		t.Fatalf("expected 1 message, got %d", n)
	}
}

func TestReplaceMessagesKeepsFailedEntries(t *testing.T) {
	s, _ := newTestStore()
	tempID := s.InsertOptimistic("c1", Draft{Text: "did not go through"})
	if !s.MarkFailed("c1", tempID) {
		t.Fatal("mark failed")
	}
	s.ReplaceMessages("c1", []models.Message{remoteMsg("s1", 100, models.DirLead)})

	msgs := s.Messages("c1")
	if len(msgs) != 2 {
		t.Fatalf("failed entry must survive a re-fetch, got %d messages", len(msgs))
	}
	var kept *models.Message
	for i := range msgs {
		if msgs[i].Ident.TempID == tempID {
			kept = &msgs[i]
		}
	}
	if kept == nil || kept.Status != models.StatusFailed {
		t.Fatalf("failed entry missing or mutated: %+v", msgs)
	}
	// the kept entry is still addressable for dismissal
	if !s.RemoveFailed("c1", tempID) {
		t.Fatal("dismiss after re-fetch should work")
	}
}

func TestReconcileCollapsesWhenPushArrivedFirst(t *testing.T) {
	s, _ := newTestStore()
	tempID := s.InsertOptimistic("c1", Draft{Text: "hi"})
	// the confirmed copy arrives over the push channel before the REST
	// response is processed
	s.MergeRemote("c1", remoteMsg("s1", 2000, models.DirOperator))

	if !s.Reconcile("c1", tempID, remoteMsg("s1", 2000, models.DirOperator)) {
		t.Fatal("reconcile should report handled")
	}
	msgs := s.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("placeholder must collapse into the pushed copy, got %d messages", len(msgs))
	}
	if msgs[0].Ident.ServerID != "s1" {
		t.Fatalf("unexpected survivor: %+v", msgs[0].Ident)
	}
}

func TestMarkFailedKeepsEntryAndIsIdempotent(t *testing.T) {
	s, _ := newTestStore()
	tempID := s.InsertOptimistic("c1", Draft{Text: "hi"})

	if !s.MarkFailed("c1", tempID) {
		t.Fatal("mark failed should succeed")
	}
	if s.MarkFailed("c1", tempID) {
		t.Fatal("second mark failed must be a no-op")
	}
	msgs := s.Messages("c1")
	if len(msgs) != 1 || msgs[0].Status != models.StatusFailed {
		t.Fatalf("failed entry must stay visible: %+v", msgs)
	}
	// a failed send cannot be reconciled afterwards
	if s.Reconcile("c1", tempID, remoteMsg("s1", 0, models.DirOperator)) {
		t.Fatal("reconcile of a failed entry must be a no-op")
	}
}

func TestMergeRemoteDeduplicatesByServerID(t *testing.T) {
	s, _ := newTestStore()
	if !s.MergeRemote("c1", remoteMsg("s1", 100, models.DirLead)) {
		t.Fatal("first merge should insert")
	}
	if s.MergeRemote("c1", remoteMsg("s1", 100, models.DirLead)) {
		t.Fatal("duplicate merge must be a no-op")
	}
	if n := len(s.Messages("c1")); n != 1 {
		t.Fatalf("message count changed on duplicate merge: %d", n)
	}
	conv, _ := s.Conversation("c1")
	if conv.UnreadCount != 1 {
		t.Fatalf("unread must only bump once, got %d", conv.UnreadCount)
	}
}

func TestMergeRemoteRejectsEmptyMessage(t *testing.T) {
	s, _ := newTestStore()
	empty := models.Message{
		Ident:     models.Ident{Kind: models.IdentConfirmed, ServerID: "s1"},
		ConvID:    "c1",
		Direction: models.DirLead,
		TS:        100,
	}
	if s.MergeRemote("c1", empty) {
		t.Fatal("message without text or attachments must be refused")
	}
	if _, ok := s.Conversation("c1"); ok {
		t.Fatal("refused merge must not create a conversation")
	}
}

func TestMergeRemoteCreatesConversationOnDemand(t *testing.T) {
	s, _ := newTestStore()
	s.MergeRemote("brand-new", remoteMsg("s1", 100, models.DirLead))
	conv, ok := s.Conversation("brand-new")
	if !ok {
		t.Fatal("conversation should exist after merge")
	}
	if conv.UnreadCount != 1 {
		t.Fatalf("lead message should bump unread, got %d", conv.UnreadCount)
	}
	if conv.LastMessage.TS != 100 {
		t.Fatalf("preview not updated: %+v", conv.LastMessage)
	}
}

func TestOrderPreservation(t *testing.T) {
	s, _ := newTestStore()
	// interleave optimistic inserts, reconciles and remote merges
	s.MergeRemote("c1", remoteMsg("a", 900, models.DirLead))
	t1 := s.InsertOptimistic("c1", Draft{Text: "one"})
	s.MergeRemote("c1", remoteMsg("b", 950, models.DirLead)) // older than t1
	t2 := s.InsertOptimistic("c1", Draft{Text: "two"})
	s.Reconcile("c1", t1, remoteMsg("s-one", 0, models.DirOperator))
	s.MergeRemote("c1", remoteMsg("c", 5000, models.DirLead))
	s.Reconcile("c1", t2, remoteMsg("s-two", 0, models.DirOperator))

	msgs := s.Messages("c1")
	for i := 1; i < len(msgs); i++ {
		if msgs[i].TS < msgs[i-1].TS {
			t.Fatalf("timestamps decrease at %d: %d < %d", i, msgs[i].TS, msgs[i-1].TS)
		}
	}
}

func TestApplyStatusIsMonotone(t *testing.T) {
	s, _ := newTestStore()
	tempID := s.InsertOptimistic("c1", Draft{Text: "hi"})
	s.Reconcile("c1", tempID, remoteMsg("s1", 0, models.DirOperator))

	if !s.ApplyStatus("c1", "s1", models.StatusRead) {
		t.Fatal("upgrade to read should apply")
	}
	if s.ApplyStatus("c1", "s1", models.StatusDelivered) {
		t.Fatal("downgrade must be rejected")
	}
	if s.ApplyStatus("c1", "s1", models.StatusRead) {
		t.Fatal("repeat upgrade must be a no-op")
	}
	if got := s.Messages("c1")[0].Status; got != models.StatusRead {
		t.Fatalf("expected read, got %s", got)
	}
}

func TestSetUnreadReturnsPreviousForRevert(t *testing.T) {
	s, _ := newTestStore()
	s.UpsertConversations([]models.Conversation{{ID: "c1", UnreadCount: 3, Status: models.ConversationOpen}})
	prev, ok := s.SetUnread("c1", 0)
	if !ok || prev != 3 {
		t.Fatalf("expected prev=3, got %d ok=%v", prev, ok)
	}
	if conv, _ := s.Conversation("c1"); conv.UnreadCount != 0 {
		t.Fatalf("unread should be zeroed, got %d", conv.UnreadCount)
	}
	s.SetUnread("c1", prev)
	if conv, _ := s.Conversation("c1"); conv.UnreadCount != 3 {
		t.Fatalf("revert failed, got %d", conv.UnreadCount)
	}
}

func TestApplyLeadPatchAndRestore(t *testing.T) {
	s, _ := newTestStore()
	s.UpsertConversations([]models.Conversation{{
		ID:     "c1",
		Status: models.ConversationOpen,
		Lead:   &models.Lead{ID: "l1", Name: "Ada", Notes: "old", Tags: []string{"vip"}},
	}})
	notes := "new notes"
	prev, ok := s.ApplyLeadPatch("c1", models.LeadPatch{Notes: &notes})
	if !ok {
		t.Fatal("patch should apply")
	}
	if conv, _ := s.Conversation("c1"); conv.Lead.Notes != "new notes" {
		t.Fatalf("patch not applied: %q", conv.Lead.Notes)
	}
	s.RestoreLead("c1", prev)
	conv, _ := s.Conversation("c1")
	if conv.Lead.Notes != "old" || len(conv.Lead.Tags) != 1 {
		t.Fatalf("restore failed: %+v", conv.Lead)
	}
}

func TestConversationsOrderedByLastMessage(t *testing.T) {
	s, _ := newTestStore()
	s.UpsertConversations([]models.Conversation{
		{ID: "a", Status: models.ConversationOpen},
		{ID: "b", Status: models.ConversationOpen},
	})
	s.MergeRemote("a", remoteMsg("m1", 100, models.DirLead))
	s.MergeRemote("b", remoteMsg("m2", 200, models.DirLead))

	convs := s.Conversations(ListFilter{})
	if convs[0].ID != "b" {
		t.Fatalf("expected b first, got %s", convs[0].ID)
	}
	// a new message in a moves it to the front
	s.MergeRemote("a", remoteMsg("m3", 300, models.DirLead))
	convs = s.Conversations(ListFilter{})
	if convs[0].ID != "a" {
		t.Fatalf("expected a first after new message, got %s", convs[0].ID)
	}
}

func TestConversationsFilteredByStatusAndSearch(t *testing.T) {
	s, _ := newTestStore()
	s.UpsertConversations([]models.Conversation{
		{ID: "a", Status: models.ConversationOpen, Lead: &models.Lead{ID: "l1", Name: "Grace Hopper"}},
		{ID: "b", Status: models.ConversationClosed, Lead: &models.Lead{ID: "l2", Name: "Alan Kay"}},
	})
	if got := s.Conversations(ListFilter{Status: models.ConversationClosed}); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("status filter broken: %+v", got)
	}
	if got := s.Conversations(ListFilter{Search: "grace"}); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("search filter broken: %+v", got)
	}
}

func TestReadersGetCopies(t *testing.T) {
	s, _ := newTestStore()
	s.UpsertConversations([]models.Conversation{{
		ID: "c1", Status: models.ConversationOpen,
		Lead: &models.Lead{ID: "l1", Tags: []string{"vip"}},
	}})
	conv, _ := s.Conversation("c1")
	conv.Lead.Tags[0] = "mutated"
	conv.Lead.Notes = "mutated"

	fresh, _ := s.Conversation("c1")
	if fresh.Lead.Tags[0] != "vip" || fresh.Lead.Notes != "" {
		t.Fatal("reader mutation leaked into the store")
	}
}
