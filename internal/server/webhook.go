package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/corechat/ig-relay/internal/event"
	"github.com/corechat/ig-relay/internal/graph"
	"github.com/corechat/ig-relay/internal/signature"
)

// hubParam reads a handshake query parameter, accepting both the dotted
// and the underscored spelling the provider has used.
func hubParam(q url.Values, name string) string {
	if v := q.Get("hub." + name); v != "" {
		return v
	}
	return q.Get("hub_" + name)
}

// handleChallenge answers the provider's subscription handshake. The
// challenge is echoed only when the mode is "subscribe" AND the token
// matches the configured one; echoing on anything less would let a
// third party spoof the handshake.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := hubParam(q, "mode")
	challenge := hubParam(q, "challenge")
	verifyToken := hubParam(q, "verify_token")

	tokenMatches := s.config.VerifyToken != "" &&
		subtle.ConstantTimeCompare([]byte(verifyToken), []byte(s.config.VerifyToken)) == 1

	if mode == "subscribe" && tokenMatches {
		s.logger.Info("webhook subscription verified")
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, challenge)
		return
	}

	s.logger.Warn("webhook verification rejected", "mode", mode)
	s.respondDetail(w, http.StatusForbidden, "invalid verification token")
}

// handleEvents is the webhook ingress: verify -> normalize -> per event
// (relay, reply). Once past the signature gate the acknowledgment is a
// fixed success shape regardless of downstream outcomes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limitedReader := io.LimitReader(r.Body, s.config.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondDetail(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondDetail(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	sigSHA1 := r.Header.Get("X-Hub-Signature")
	sigSHA256 := r.Header.Get("X-Hub-Signature-256")

	if s.config.AppSecret != "" && !signature.Verify(body, sigSHA1, sigSHA256, s.config.AppSecret) {
		if s.config.Production {
			s.logger.Warn("webhook signature verification failed")
			s.respondDetail(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		// Integration-testing relaxation. Must never be reachable in
		// production.
		s.logger.Warn("invalid webhook signature, bypassing outside production")
	}

	ingestID := uuid.NewString()

	payload, err := event.Parse(body)
	if err != nil {
		// Past the gate the contract is a fixed acknowledgment; an
		// unparseable body is logged and dropped, not bounced, so the
		// provider does not re-deliver it forever.
		s.logger.Warn("undecodable webhook payload", "ingest_id", ingestID, "error", err)
		s.respondJSON(w, http.StatusOK, receivedResponse{Received: true})
		return
	}

	events := event.Normalize(payload)
	s.logger.Info("webhook delivery",
		"ingest_id", ingestID,
		"entries", len(payload.Entry),
		"events", len(events),
	)

	// Sequential, in source order. A failure on one event must not
	// shadow the rest.
	for _, ev := range events {
		s.processEvent(ctx, ingestID, ev)
	}

	s.respondJSON(w, http.StatusOK, receivedResponse{Received: true})
}

// processEvent relays one canonical event and, for messages, sends the
// optional echo reply. Both are best-effort: errors land in the log and
// nowhere else.
func (s *Server) processEvent(ctx context.Context, ingestID string, ev event.CanonicalEvent) {
	switch ev.Kind {
	case event.KindMessage:
		s.logger.Info("message event",
			"ingest_id", ingestID,
			"sender", ev.SenderID,
			"recipient", ev.RecipientID,
			"mid", ev.MessageID,
			"text_len", len(ev.Text),
		)
	case event.KindRead:
		s.logger.Info("read event", "ingest_id", ingestID, "sender", ev.SenderID, "watermark", ev.Watermark)
	case event.KindDelivery:
		s.logger.Info("delivery event", "ingest_id", ingestID, "sender", ev.SenderID, "mids", ev.MessageIDs)
	default:
		s.logger.Info("unhandled event", "ingest_id", ingestID, "keys", ev.RawKeys)
	}

	if s.forwarder != nil {
		// Relay failure is deliberately discarded: aggregator outages
		// must not turn into webhook re-delivery storms upstream.
		if err := s.forwarder.Forward(ctx, ev); err != nil {
			s.logger.Error("relay push failed", "ingest_id", ingestID, "error", err)
		}
	}

	if ev.Kind == event.KindMessage && s.config.EchoReply {
		s.sendEchoReply(ctx, ingestID, ev)
	}
}

func (s *Server) sendEchoReply(ctx context.Context, ingestID string, ev event.CanonicalEvent) {
	creds, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Error("credential load failed, echo skipped", "ingest_id", ingestID, "error", err)
		return
	}
	if !creds.Usable() {
		s.logger.Debug("no stored credentials, echo skipped", "ingest_id", ingestID)
		return
	}

	text := ev.Text
	if text == "" {
		text = "(sin texto)"
	}

	result, err := s.graphAPI.SendMessage(ctx, creds.AccessToken, ev.SenderID, "Recibí: "+text)
	if err != nil {
		var sendErr *graph.SendError
		if errors.As(err, &sendErr) && sendErr.InvalidRecipient() {
			s.logger.Warn("echo reply rejected: invalid recipient",
				"ingest_id", ingestID, "recipient", ev.SenderID)
			return
		}
		s.logger.Error("echo reply failed", "ingest_id", ingestID, "error", err)
		return
	}

	s.logger.Info("echo reply sent", "ingest_id", ingestID, "message_id", result.MessageID)
}
