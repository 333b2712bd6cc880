package transport

import (
	"context"
	"io"

	"inboxsync/pkg/models"
)

// Filters narrows the conversation listing.
type Filters struct {
	Status models.ConversationStatus
	Search string
	Cursor string
}

// Page is one page of a cursor-paginated listing. NextCursor is empty on
// the last page.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Outgoing is the payload of a single send call: text, one attachment URL,
// or both. The platform treats each call as one created message.
type Outgoing struct {
	Text          string `json:"text,omitempty"`
	AttachmentURL string `json:"attachment_url,omitempty"`
}

// Client is the REST surface of the platform API. All methods classify
// failures as *Error; none of them retries. SendMessage in particular must
// never be silently retried anywhere below the user: a duplicate send is a
// user-visible correctness bug.
type Client interface {
	ListConversations(ctx context.Context, f Filters) (Page[models.Conversation], error)
	ListMessages(ctx context.Context, convID, cursor string) (Page[models.Message], error)
	SendMessage(ctx context.Context, convID string, out Outgoing) (models.Message, error)
	MarkRead(ctx context.Context, convID string) error
	UpdateLead(ctx context.Context, leadID string, patch models.LeadPatch) error
	// UploadMedia streams src to the media endpoint and returns the stable
	// URL to embed in a message payload. It honors ctx cancellation so an
	// in-flight upload can be aborted.
	UploadMedia(ctx context.Context, name, contentType string, src io.Reader) (string, error)
}
