// Package event normalizes inbound webhook payloads into canonical events.
package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Party identifies one side of a messaging event.
type Party struct {
	ID string `json:"id"`
}

// MessagePart is the message field of a raw event.
type MessagePart struct {
	Text string `json:"text"`
	MID  string `json:"mid"`
}

// ReadPart is the read receipt field of a raw event.
type ReadPart struct {
	Watermark int64 `json:"watermark"`
}

// DeliveryPart is the delivery receipt field of a raw event.
type DeliveryPart struct {
	MIDs []string `json:"mids"`
}

// RawEvent is one undecoded webhook event. It records both the typed
// fields and which top-level keys were present, since classification
// depends on key presence rather than value shape: {"message": null}
// still classifies as a message.
type RawEvent struct {
	Sender    *Party
	Recipient *Party
	Timestamp int64
	Message   *MessagePart
	Read      *ReadPart
	Delivery  *DeliveryPart

	// Keys holds the sorted top-level key names of the source record.
	Keys []string

	hasMessage  bool
	hasRead     bool
	hasDelivery bool
}

// UnmarshalJSON decodes a raw event, tracking key presence.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("event is not an object: %w", err)
	}

	var body struct {
		Sender    *Party        `json:"sender"`
		Recipient *Party        `json:"recipient"`
		Timestamp int64         `json:"timestamp"`
		Message   *MessagePart  `json:"message"`
		Read      *ReadPart     `json:"read"`
		Delivery  *DeliveryPart `json:"delivery"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}

	e.Sender = body.Sender
	e.Recipient = body.Recipient
	e.Timestamp = body.Timestamp
	e.Message = body.Message
	e.Read = body.Read
	e.Delivery = body.Delivery

	_, e.hasMessage = fields["message"]
	_, e.hasRead = fields["read"]
	_, e.hasDelivery = fields["delivery"]

	e.Keys = make([]string, 0, len(fields))
	for k := range fields {
		e.Keys = append(e.Keys, k)
	}
	sort.Strings(e.Keys)

	return nil
}

// Parse decodes a webhook body.
func Parse(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	return p, nil
}

// Normalize flattens a payload into canonical events, preserving source
// entry and event order. The result is fully materialized; the payload
// is already in memory so there is nothing to stream.
func Normalize(p Payload) []CanonicalEvent {
	var out []CanonicalEvent
	for _, entry := range p.Entry {
		for _, raw := range eventList(entry) {
			out = append(out, classify(raw))
		}
	}
	return out
}

// eventList resolves where an entry's events live. A non-empty direct
// messaging list wins; otherwise the nested change lists are
// concatenated. An entry never contributes from both shapes.
func eventList(entry Entry) []RawEvent {
	if len(entry.Messaging) > 0 {
		return entry.Messaging
	}
	var events []RawEvent
	for _, change := range entry.Changes {
		events = append(events, change.Value.Messaging...)
	}
	return events
}

// classify maps one raw event to its canonical form. Priority is fixed:
// message > read > delivery > unhandled.
func classify(raw RawEvent) CanonicalEvent {
	ev := CanonicalEvent{
		OccurredAt: occurredAt(raw.Timestamp),
	}
	if raw.Sender != nil {
		ev.SenderID = raw.Sender.ID
	}
	if raw.Recipient != nil {
		ev.RecipientID = raw.Recipient.ID
	}

	switch {
	case raw.hasMessage:
		ev.Kind = KindMessage
		if raw.Message != nil {
			ev.Text = raw.Message.Text
			ev.MessageID = raw.Message.MID
		}
	case raw.hasRead:
		ev.Kind = KindRead
		if raw.Read != nil {
			ev.Watermark = raw.Read.Watermark
		}
	case raw.hasDelivery:
		ev.Kind = KindDelivery
		if raw.Delivery != nil {
			ev.MessageIDs = raw.Delivery.MIDs
		}
	default:
		ev.Kind = KindUnhandled
		ev.RawKeys = raw.Keys
	}

	return ev
}

// occurredAt converts an epoch-millisecond source timestamp to UTC,
// falling back to receipt time when the source omits it. Best effort:
// exactness is not guaranteed on the fallback path.
func occurredAt(ms int64) time.Time {
	if ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Now().UTC()
}
