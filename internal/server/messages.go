package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/corechat/ig-relay/internal/graph"
)

// handleConversations lists the account's Instagram conversations.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.loadCredentials(w, r)
	if !ok {
		return
	}

	conversations, err := s.graphAPI.ListConversations(r.Context(), creds)
	if err != nil {
		s.logger.Error("conversation listing failed", "error", err)
		s.respondDetail(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, conversations)
}

// handleSend sends a text message using the stored page token.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	recipient := req.recipient()
	text := req.text()
	if recipient == "" || text == "" {
		s.respondDetail(w, http.StatusUnprocessableEntity, "recipient and text are required")
		return
	}

	creds, ok := s.loadCredentials(w, r)
	if !ok {
		return
	}

	result, err := s.graphAPI.SendMessage(r.Context(), creds.AccessToken, recipient, text)
	if err != nil {
		var sendErr *graph.SendError
		if errors.As(err, &sendErr) {
			s.logger.Warn("send rejected", "recipient", recipient, "code", sendErr.Code)
			if sendErr.InvalidRecipient() {
				s.respondDetail(w, http.StatusBadRequest, "invalid recipient")
				return
			}
			s.respondDetail(w, http.StatusBadGateway, sendErr.Message)
			return
		}
		s.logger.Error("send failed", "error", err)
		s.respondDetail(w, http.StatusBadGateway, "send failed")
		return
	}

	s.respondJSON(w, http.StatusOK, sendResponse{
		Success:     true,
		MessageID:   result.MessageID,
		RecipientID: result.RecipientID,
	})
}
