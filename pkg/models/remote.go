package models

// RemoteMessage is the wire shape of a server-confirmed message, as returned
// by the REST API and carried in message.created push events. The server
// only ever speaks in confirmed ids; the tagged Ident is local.
type RemoteMessage struct {
	ID          string        `json:"id"`
	ConvID      string        `json:"conversation_id"`
	Text        string        `json:"text,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	Direction   Direction     `json:"direction"`
	TS          int64         `json:"ts"`
	Status      MessageStatus `json:"status,omitempty"`
}

// Message converts the wire shape into the store's message form. Lead
// messages are implicitly delivered; operator messages default to sent.
func (r RemoteMessage) Message() Message {
	st := r.Status
	if r.Direction == DirLead {
		st = StatusDelivered
	} else if st == "" {
		st = StatusSent
	}
	return Message{
		Ident:       Ident{Kind: IdentConfirmed, ServerID: r.ID},
		ConvID:      r.ConvID,
		Text:        r.Text,
		Attachments: r.Attachments,
		Direction:   r.Direction,
		TS:          r.TS,
		Status:      st,
	}
}
