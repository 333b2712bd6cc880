package models

// Push event types delivered over the realtime channel. Delivery is
// at-least-once and unordered across conversations; consumers de-duplicate
// by EventID.

const (
	EventMessageCreated      = "message.created"
	EventConversationUpdated = "conversation.updated"
)

type MessageCreated struct {
	ConvID  string        `json:"conversation_id"`
	Message RemoteMessage `json:"message"`
}

type ConversationUpdated struct {
	ConvID string            `json:"conversation_id"`
	Patch  ConversationPatch `json:"patch"`
}
