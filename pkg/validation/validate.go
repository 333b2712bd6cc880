// Package validation runs the client-side checks that reject a bad send
// before it costs a network round-trip: empty drafts, oversized or
// disallowed attachments, out-of-range lead patches.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"inboxsync/pkg/models"
)

// Rules configures the local checks. Zero values disable a check.
type Rules struct {
	// MaxAttachmentBytes rejects attachments whose declared size exceeds it.
	MaxAttachmentBytes uint64
	// AllowedTypes are accepted content-type prefixes ("image/",
	// "video/mp4"). Empty accepts everything.
	AllowedTypes []string
	// MaxTextLen caps message text length in runes.
	MaxTextLen int
	// MaxTags caps lead tag count.
	MaxTags int
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DraftInput is the wire form of a compose action, validated before the
// pipeline touches the store or the network.
type DraftInput struct {
	Text        string              `json:"text" validate:"omitempty,max=4096"`
	Attachments []models.Attachment `json:"attachments" validate:"omitempty,dive"`
}

// Error is a local validation rejection, surfaced without any network call.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// CheckDraft validates one compose action.
func (r Rules) CheckDraft(in DraftInput) error {
	if strings.TrimSpace(in.Text) == "" && len(in.Attachments) == 0 {
		return &Error{Msg: "nothing to send: no text and no attachments"}
	}
	if err := validate.Struct(in); err != nil {
		return firstViolation(err)
	}
	if r.MaxTextLen > 0 && len([]rune(in.Text)) > r.MaxTextLen {
		return &Error{Field: "text", Msg: fmt.Sprintf("longer than %d characters", r.MaxTextLen)}
	}
	for _, a := range in.Attachments {
		if a.URL == "" {
			return &Error{Field: "attachments", Msg: "attachment without url"}
		}
		if err := r.CheckAttachment(a.ContentType, a.Size); err != nil {
			return err
		}
	}
	return nil
}

// CheckAttachment validates a single attachment's declared type and size.
// Also used by the pipeline before an upload starts, so a disallowed file
// never leaves the machine.
func (r Rules) CheckAttachment(contentType string, size int64) error {
	if r.MaxAttachmentBytes > 0 && size > 0 && uint64(size) > r.MaxAttachmentBytes {
		return &Error{Field: "attachments", Msg: fmt.Sprintf("size %d exceeds limit %d", size, r.MaxAttachmentBytes)}
	}
	if len(r.AllowedTypes) > 0 && contentType != "" {
		ok := false
		for _, t := range r.AllowedTypes {
			if strings.HasPrefix(contentType, t) {
				ok = true
				break
			}
		}
		if !ok {
			return &Error{Field: "attachments", Msg: "content type " + contentType + " not allowed"}
		}
	}
	return nil
}

// LeadPatchInput mirrors models.LeadPatch with limits applied.
type LeadPatchInput struct {
	Notes *string   `json:"notes" validate:"omitempty,max=8192"`
	Tags  *[]string `json:"tags" validate:"omitempty,dive,min=1,max=64"`
}

// CheckLeadPatch validates a lead edit.
func (r Rules) CheckLeadPatch(in LeadPatchInput) error {
	if in.Notes == nil && in.Tags == nil {
		return &Error{Msg: "empty patch"}
	}
	if err := validate.Struct(in); err != nil {
		return firstViolation(err)
	}
	if r.MaxTags > 0 && in.Tags != nil && len(*in.Tags) > r.MaxTags {
		return &Error{Field: "tags", Msg: fmt.Sprintf("more than %d tags", r.MaxTags)}
	}
	return nil
}

func firstViolation(err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		f := verrs[0]
		return &Error{Field: strings.ToLower(f.Field()), Msg: "fails " + f.Tag()}
	}
	return &Error{Msg: err.Error()}
}
