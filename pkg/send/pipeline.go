// Package send orchestrates one user-initiated send: media uploads,
// optimistic inserts, transport calls, and reconcile-or-fail bookkeeping.
// Every part of a compose action (each attachment, then the text) is an
// independent message; a failure in the middle never blocks the rest.
package send

import (
	"context"
	"io"
	"time"

	"inboxsync/pkg/logger"
	"inboxsync/pkg/metrics"
	"inboxsync/pkg/models"
	"inboxsync/pkg/policy"
	"inboxsync/pkg/store"
	"inboxsync/pkg/transport"
	"inboxsync/pkg/validation"
)

// Upload is a not-yet-uploaded attachment. Src is streamed to the media
// endpoint; the pipeline never buffers file bytes itself.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Src         io.Reader
}

// Input is one compose action: optional text plus any mix of pre-uploaded
// attachments and raw uploads.
type Input struct {
	Text        string
	Attachments []models.Attachment
	Uploads     []Upload
}

// PartKind labels entries of a Report.
type PartKind string

const (
	PartAttachment PartKind = "attachment"
	PartText       PartKind = "text"
)

// Part is the outcome of one message within a send.
type Part struct {
	Kind     PartKind `json:"kind"`
	TempID   string   `json:"temp_id"`
	ServerID string   `json:"server_id,omitempty"`
	Failed   bool     `json:"failed,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Report summarizes a whole send. Partial success is normal and
// deliberate: the platform offers no batch atomicity, and pretending
// otherwise would mean silently dropping or re-sending messages.
type Report struct {
	ConvID string `json:"conversation_id"`
	Parts  []Part `json:"parts"`
}

// Notifier surfaces transient, user-visible send failures. Never invoked
// for the local rejections (closed window, validation), which the caller
// already sees synchronously.
type Notifier func(convID string, part Part)

// Pipeline wires the store, the transport client and the local policy
// checks. One instance per session.
type Pipeline struct {
	store  *store.Store
	client transport.Client
	rules  validation.Rules
	window time.Duration
	notify Notifier
	now    func() time.Time
}

func New(st *store.Store, client transport.Client, rules validation.Rules, window time.Duration, notify Notifier) *Pipeline {
	if window <= 0 {
		window = policy.DefaultWindow
	}
	return &Pipeline{
		store:  st,
		client: client,
		rules:  rules,
		window: window,
		notify: notify,
		now:    time.Now,
	}
}

// Send runs one compose action. It returns an error only for whole-send
// local rejections (closed reply window, invalid draft); transport
// failures are absorbed into failed store entries and the Report.
func (p *Pipeline) Send(ctx context.Context, convID string, in Input) (Report, error) {
	report := Report{ConvID: convID}

	// closed window short-circuits before any store or network touch
	w := policy.Evaluate(p.store.Messages(convID), p.now(), p.window)
	if !w.Open {
		metrics.SendOutcomes.WithLabelValues("rejected").Inc()
		return report, policy.ErrWindowClosed
	}

	if in.Text == "" && len(in.Attachments) == 0 && len(in.Uploads) == 0 {
		metrics.SendOutcomes.WithLabelValues("rejected").Inc()
		return report, &validation.Error{Msg: "nothing to send: no text and no attachments"}
	}
	if in.Text != "" || len(in.Attachments) > 0 {
		draft := validation.DraftInput{Text: in.Text, Attachments: in.Attachments}
		if err := p.rules.CheckDraft(draft); err != nil {
			metrics.SendOutcomes.WithLabelValues("rejected").Inc()
			return report, err
		}
	}
	for _, u := range in.Uploads {
		if err := p.rules.CheckAttachment(u.ContentType, u.Size); err != nil {
			metrics.SendOutcomes.WithLabelValues("rejected").Inc()
			return report, err
		}
	}

	// attachments first, sequentially, each its own message
	for _, a := range in.Attachments {
		report.Parts = append(report.Parts, p.sendAttachment(ctx, convID, a))
	}
	for _, u := range in.Uploads {
		report.Parts = append(report.Parts, p.uploadAndSend(ctx, convID, u))
	}
	// then the trailing text message, regardless of attachment failures
	if in.Text != "" {
		report.Parts = append(report.Parts, p.sendText(ctx, convID, in.Text))
	}
	return report, nil
}

// sendAttachment runs the optimistic-insert / send / reconcile-or-fail
// cycle for one already-uploaded attachment.
func (p *Pipeline) sendAttachment(ctx context.Context, convID string, a models.Attachment) Part {
	tempID := p.store.InsertOptimistic(convID, store.Draft{Attachments: []models.Attachment{a}})
	part := Part{Kind: PartAttachment, TempID: tempID}
	confirmed, err := p.client.SendMessage(ctx, convID, transport.Outgoing{AttachmentURL: a.URL})
	return p.settle(convID, part, confirmed, err)
}

// uploadAndSend uploads first, then runs the same cycle with the returned
// URL. The optimistic entry exists from before the upload so cancelling a
// view mid-upload leaves a visible failed entry, never a pending-forever one.
func (p *Pipeline) uploadAndSend(ctx context.Context, convID string, u Upload) Part {
	a := models.Attachment{ContentType: u.ContentType, Size: u.Size}
	tempID := p.store.InsertOptimistic(convID, store.Draft{Attachments: []models.Attachment{a}})
	part := Part{Kind: PartAttachment, TempID: tempID}

	url, err := p.client.UploadMedia(ctx, u.Name, u.ContentType, u.Src)
	if err != nil {
		return p.settle(convID, part, models.Message{}, err)
	}
	a.URL = url
	confirmed, err := p.client.SendMessage(ctx, convID, transport.Outgoing{AttachmentURL: url})
	return p.settle(convID, part, confirmed, err)
}

func (p *Pipeline) sendText(ctx context.Context, convID, text string) Part {
	tempID := p.store.InsertOptimistic(convID, store.Draft{Text: text})
	part := Part{Kind: PartText, TempID: tempID}
	confirmed, err := p.client.SendMessage(ctx, convID, transport.Outgoing{Text: text})
	return p.settle(convID, part, confirmed, err)
}

// settle finishes one part: reconcile on success, mark failed on error.
// Transport errors stop here; they surface as failed entries plus the
// notifier, never as a pipeline error.
func (p *Pipeline) settle(convID string, part Part, confirmed models.Message, err error) Part {
	if err != nil {
		p.store.MarkFailed(convID, part.TempID)
		part.Failed = true
		part.Error = err.Error()
		metrics.SendOutcomes.WithLabelValues("failed").Inc()
		logger.Warn("send_part_failed", "conv", convID, "temp", part.TempID, "kind", string(part.Kind), "error", err)
		if p.notify != nil {
			p.notify(convID, part)
		}
		return part
	}
	p.store.Reconcile(convID, part.TempID, confirmed)
	part.ServerID = confirmed.Ident.ServerID
	metrics.SendOutcomes.WithLabelValues("sent").Inc()
	return part
}
