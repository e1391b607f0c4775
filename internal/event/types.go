package event

import "time"

// Kind discriminates the canonical event union.
type Kind string

const (
	KindMessage   Kind = "message"
	KindRead      Kind = "read"
	KindDelivery  Kind = "delivery"
	KindUnhandled Kind = "unhandled"
)

// CanonicalEvent is the normalized, shape-independent representation of
// one inbound webhook occurrence. Exactly one Kind applies; the fields
// of the other kinds are zero.
type CanonicalEvent struct {
	SenderID    string
	RecipientID string
	OccurredAt  time.Time
	Kind        Kind

	// Message
	Text      string
	MessageID string

	// Read
	Watermark int64

	// Delivery
	MessageIDs []string

	// Unhandled carries the observed top-level keys for diagnostics.
	RawKeys []string
}

// Payload is the decoded webhook body. Meta delivers events either as
// entry[].messaging[] or nested under entry[].changes[].value.messaging[];
// both shapes normalize identically.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one page-scoped batch of events.
type Entry struct {
	ID        string     `json:"id"`
	Time      int64      `json:"time"`
	Messaging []RawEvent `json:"messaging"`
	Changes   []Change   `json:"changes"`
}

// Change wraps the nested event-list shape.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue holds the nested messaging list.
type ChangeValue struct {
	Messaging []RawEvent `json:"messaging"`
}
