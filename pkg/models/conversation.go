package models

// Platform is the social network a conversation lives on.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformTelegram  Platform = "telegram"
)

// ConversationStatus is the server-authoritative open/closed filter
// dimension.
type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Lead is the CRM-owned profile cached on the conversation for display.
// Notes and Tags are optimistically editable; the CRM stays the owner.
type Lead struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Username  string   `json:"username,omitempty"`
	AvatarURL string   `json:"avatar_url,omitempty"`
	Notes     string   `json:"notes,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// LastMessage is the denormalized preview shown in the conversation list,
// refreshed on every new message local or remote.
type LastMessage struct {
	Text          string `json:"text,omitempty"`
	HasAttachment bool   `json:"has_attachment,omitempty"`
	TS            int64  `json:"ts"`
}

// Conversation is one inbox thread. Created by the initial fetch or by a
// push event announcing a brand-new conversation; never deleted client-side.
type Conversation struct {
	ID           string             `json:"id"`
	Platform     Platform           `json:"platform"`
	Participants []Participant      `json:"participants,omitempty"`
	Lead         *Lead              `json:"lead,omitempty"`
	LastMessage  LastMessage        `json:"last_message"`
	UnreadCount  int                `json:"unread_count"`
	Status       ConversationStatus `json:"status"`
}

// LeadPatch is a partial lead edit (PATCH /leads/{id}).
type LeadPatch struct {
	Notes *string   `json:"notes,omitempty"`
	Tags  *[]string `json:"tags,omitempty"`
}

// ConversationPatch is the payload of a conversation.updated push event.
// Nil fields are untouched.
type ConversationPatch struct {
	UnreadCount *int                `json:"unread_count,omitempty"`
	Status      *ConversationStatus `json:"status,omitempty"`
	Lead        *Lead               `json:"lead,omitempty"`
}
