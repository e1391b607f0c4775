// Package relay forwards canonical events to the downstream aggregator.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/corechat/ig-relay/internal/event"
	"github.com/corechat/ig-relay/internal/signature"
)

// Channel is the fixed channel tag on every relayed envelope.
const Channel = "instagram"

// pushPath is the aggregator's unified-ingest endpoint.
const pushPath = "/api/v1/messages/unified"

// signatureHeader carries the envelope HMAC when a shared secret is set.
const signatureHeader = "X-Relay-Signature-256"

// maxLoggedBody caps how much of an aggregator error body reaches logs.
const maxLoggedBody = 200

// Envelope is the wire contract with the aggregator. Field names and
// the timestamp format are fixed downstream; do not rename.
type Envelope struct {
	Channel     string  `json:"channel"`
	Sender      string  `json:"sender"`
	Message     string  `json:"message"`
	Timestamp   string  `json:"timestamp"`
	MessageID   string  `json:"message_id"`
	MessageType string  `json:"message_type"`
	SenderName  *string `json:"sender_name"`
}

// Config holds relay settings.
type Config struct {
	// CoreURL is the aggregator base URL. Empty disables forwarding.
	CoreURL string

	// Secret, when set, signs each envelope with HMAC-SHA256.
	Secret string

	// ForwardAll forwards read/delivery events in addition to messages.
	ForwardAll bool

	Timeout time.Duration
}

// Relay posts envelopes to the aggregator. Failures are returned to the
// caller, which is expected to log and discard them: the inbound
// acknowledgment must not depend on the aggregator being up.
type Relay struct {
	cfg    Config
	url    string
	client *http.Client
	logger *slog.Logger
}

// New creates a relay.
func New(cfg Config, logger *slog.Logger) *Relay {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	url := ""
	if cfg.CoreURL != "" {
		url = strings.TrimRight(cfg.CoreURL, "/") + pushPath
	}

	return &Relay{
		cfg:    cfg,
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Enabled reports whether an aggregator URL is configured.
func (r *Relay) Enabled() bool {
	return r.url != ""
}

// BuildEnvelope maps a canonical event to its wire envelope. The second
// return is false for kinds that are not forwarded: unhandled events
// always, read/delivery unless ForwardAll is set.
func (r *Relay) BuildEnvelope(ev event.CanonicalEvent) (Envelope, bool) {
	env := Envelope{
		Channel:   Channel,
		Sender:    ev.SenderID,
		Timestamp: ev.OccurredAt.UTC().Format(time.RFC3339),
	}

	switch ev.Kind {
	case event.KindMessage:
		env.Message = ev.Text
		env.MessageID = ev.MessageID
		env.MessageType = "text"
		return env, true
	case event.KindRead:
		if !r.cfg.ForwardAll {
			return Envelope{}, false
		}
		env.MessageType = "read"
		env.MessageID = strconv.FormatInt(ev.Watermark, 10)
		return env, true
	case event.KindDelivery:
		if !r.cfg.ForwardAll {
			return Envelope{}, false
		}
		env.MessageType = "delivery"
		if len(ev.MessageIDs) > 0 {
			env.MessageID = ev.MessageIDs[0]
		}
		return env, true
	default:
		return Envelope{}, false
	}
}

// Forward posts one event to the aggregator. The returned error is
// informational; callers log it and move on.
func (r *Relay) Forward(ctx context.Context, ev event.CanonicalEvent) error {
	if !r.Enabled() {
		return nil
	}

	env, ok := r.BuildEnvelope(ev)
	if !ok {
		r.logger.Debug("event kind not forwarded", "kind", string(ev.Kind))
		return nil
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Secret != "" {
		// Signed over the exact serialized body so the aggregator can
		// verify the same bytes it received.
		req.Header.Set(signatureHeader,
			signature.HubHeader("sha256", signature.ComputeSHA256(payload, r.cfg.Secret)))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay post: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("aggregator returned %d: %s", resp.StatusCode, string(body))
	}

	r.logger.Info("relay push",
		"status", resp.StatusCode,
		"message_id", env.MessageID,
		"message_type", env.MessageType,
	)
	return nil
}
