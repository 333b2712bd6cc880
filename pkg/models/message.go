package models

// IdentKind distinguishes a locally-generated placeholder identity from a
// server-confirmed one. A message carries exactly one of the two id forms at
// any instant; reconciliation swaps the kind in place.
type IdentKind string

const (
	IdentPending   IdentKind = "pending"
	IdentConfirmed IdentKind = "confirmed"
)

// Ident is the tagged message identity. TempID is set iff Kind==IdentPending,
// ServerID iff Kind==IdentConfirmed.
type Ident struct {
	Kind     IdentKind `json:"kind"`
	TempID   string    `json:"temp_id,omitempty"`
	ServerID string    `json:"server_id,omitempty"`
}

// Key returns whichever id form is currently valid.
func (id Ident) Key() string {
	if id.Kind == IdentPending {
		return id.TempID
	}
	return id.ServerID
}

// Direction says who authored a message: the remote lead or the operator
// sending on the user's behalf.
type Direction string

const (
	DirLead     Direction = "lead"
	DirOperator Direction = "operator"
)

// MessageStatus tracks delivery progress for operator messages. Lead
// messages are implicitly delivered and keep StatusDelivered.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// rank orders the upgrade chain sent -> delivered -> read. Pending and
// failed sit outside the chain.
func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// UpgradesTo reports whether moving from s to next is a forward move on the
// delivery chain. Status never walks backwards.
func (s MessageStatus) UpgradesTo(next MessageStatus) bool {
	return next.rank() > s.rank()
}

// Attachment references media already uploaded to the platform's media
// endpoint. The engine only ever sees the stable URL, never raw bytes.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Message is one entry in a conversation's ordered list. TS is unix
// nanoseconds: client-assigned at optimistic insert for local sends (and
// kept through reconciliation), server-assigned for remote messages.
type Message struct {
	Ident       Ident         `json:"ident"`
	ConvID      string        `json:"conv_id"`
	Text        string        `json:"text,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	Direction   Direction     `json:"direction"`
	TS          int64         `json:"ts"`
	Status      MessageStatus `json:"status"`
}

// HasContent reports whether the message carries anything sendable.
func (m Message) HasContent() bool {
	return m.Text != "" || len(m.Attachments) > 0
}
