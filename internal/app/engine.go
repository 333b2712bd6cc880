package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"inboxsync/pkg/bus"
	"inboxsync/pkg/logger"
	"inboxsync/pkg/models"
	"inboxsync/pkg/policy"
	"inboxsync/pkg/send"
	"inboxsync/pkg/store"
	"inboxsync/pkg/transport"
	"inboxsync/pkg/validation"
)

// Engine binds the store, the transport client and the event bus into one
// session-scoped unit. It is constructed explicitly at session start and
// torn down on logout; nothing here is a package global, so two sessions
// can never bleed state into each other.
type Engine struct {
	store    *store.Store
	client   transport.Client
	bus      *bus.Bus
	pipeline *send.Pipeline
	rules    validation.Rules
	window   time.Duration
	now      func() time.Time

	subs []*bus.Subscription
	// onResync is invoked when the push channel reconnected after a gap;
	// the app points it at the refresh runner.
	onResync func()
}

func NewEngine(st *store.Store, client transport.Client, b *bus.Bus, rules validation.Rules, window time.Duration, notify send.Notifier) *Engine {
	if window <= 0 {
		window = policy.DefaultWindow
	}
	e := &Engine{
		store:    st,
		client:   client,
		bus:      b,
		pipeline: send.New(st, client, rules, window, notify),
		rules:    rules,
		window:   window,
		now:      time.Now,
	}
	e.subs = append(e.subs,
		b.SubscribeMessages(e.handleMessageCreated),
		b.SubscribeConversations(e.handleConversationUpdated),
		b.SubscribeResync(func() {
			if e.onResync != nil {
				e.onResync()
			}
		}),
	)
	return e
}

// Close cancels the engine's subscriptions (stopping the push channel when
// they were the last), then flushes and closes the store.
func (e *Engine) Close() {
	for _, s := range e.subs {
		s.Cancel()
	}
	e.store.Close()
}

// handleMessageCreated merges a pushed message. A duplicate id is not an
// error: at-least-once delivery and own-session echoes both land here, and
// the only thing a repeat may carry is a status upgrade.
func (e *Engine) handleMessageCreated(ev models.MessageCreated) {
	m := ev.Message.Message()
	if !e.store.MergeRemote(ev.ConvID, m) {
		e.store.ApplyStatus(ev.ConvID, m.Ident.ServerID, m.Status)
	}
}

func (e *Engine) handleConversationUpdated(ev models.ConversationUpdated) {
	e.store.ApplyConversationPatch(ev.ConvID, ev.Patch)
}

// Conversations reads the ordered, filtered conversation list.
func (e *Engine) Conversations(f store.ListFilter) []models.Conversation {
	return e.store.Conversations(f)
}

// Messages reads one conversation's ordered message list.
func (e *Engine) Messages(convID string) []models.Message {
	return e.store.Messages(convID)
}

// Send runs the send pipeline for one compose action.
func (e *Engine) Send(ctx context.Context, convID string, in send.Input) (send.Report, error) {
	return e.pipeline.Send(ctx, convID, in)
}

// RemoveFailed drops a dismissed failed entry.
func (e *Engine) RemoveFailed(convID, tempID string) bool {
	return e.store.RemoveFailed(convID, tempID)
}

// Window evaluates send eligibility from current store state. Recomputed
// per call; the result decays with wall-clock time.
func (e *Engine) Window(convID string) policy.Window {
	return policy.Evaluate(e.store.Messages(convID), e.now(), e.window)
}

// MarkRead zeroes the unread counter immediately, then confirms with the
// server; a rejection restores the pre-mutation count.
func (e *Engine) MarkRead(ctx context.Context, convID string) error {
	prev, ok := e.store.SetUnread(convID, 0)
	if !ok {
		return fmt.Errorf("unknown conversation %s", convID)
	}
	if err := e.client.MarkRead(ctx, convID); err != nil {
		e.store.SetUnread(convID, prev)
		logger.Warn("mark_read_reverted", "conv", convID, "unread", prev, "error", err)
		return err
	}
	return nil
}

// EditLead applies a lead patch optimistically and reverts on rejection.
func (e *Engine) EditLead(ctx context.Context, convID string, in validation.LeadPatchInput) error {
	conv, ok := e.store.Conversation(convID)
	if !ok || conv.Lead == nil {
		return fmt.Errorf("conversation %s has no lead", convID)
	}
	patch := models.LeadPatch{Notes: in.Notes, Tags: in.Tags}
	prev, ok := e.store.ApplyLeadPatch(convID, patch)
	if !ok {
		return fmt.Errorf("conversation %s has no lead", convID)
	}
	if err := e.client.UpdateLead(ctx, conv.Lead.ID, patch); err != nil {
		e.store.RestoreLead(convID, prev)
		logger.Warn("lead_patch_reverted", "conv", convID, "lead", conv.Lead.ID, "error", err)
		return err
	}
	return nil
}

// UploadMedia checks the declared type locally, then streams the file to
// the platform's media endpoint. The returned URL is what a later send
// embeds; cancelling ctx aborts the in-flight upload.
func (e *Engine) UploadMedia(ctx context.Context, name, contentType string, src io.Reader) (string, error) {
	if err := e.rules.CheckAttachment(contentType, 0); err != nil {
		return "", err
	}
	return e.client.UploadMedia(ctx, name, contentType, src)
}

// FetchMessages pages a conversation's full history into the store
// (oldest-first) and replaces the local list.
func (e *Engine) FetchMessages(ctx context.Context, convID string) error {
	var all []models.Message
	cursor := ""
	for {
		page, err := e.client.ListMessages(ctx, convID, cursor)
		if err != nil {
			return err
		}
		all = append(all, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	e.store.ReplaceMessages(convID, all)
	return nil
}

// RefreshAll re-fetches the conversation list and the message lists of
// every conversation the store tracks. This is the reconciliation path
// after startup and after any realtime gap.
func (e *Engine) RefreshAll(ctx context.Context) error {
	cursor := ""
	for {
		page, err := e.client.ListConversations(ctx, transport.Filters{Cursor: cursor})
		if err != nil {
			return err
		}
		e.store.UpsertConversations(page.Items)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	for _, conv := range e.store.Conversations(store.ListFilter{}) {
		if err := e.FetchMessages(ctx, conv.ID); err != nil {
			logger.Warn("refresh_messages_failed", "conv", conv.ID, "error", err)
			// keep going; a later run or a push event repairs it
		}
	}
	return nil
}
