// Package api provides the Meta Cloud API webhook handlers for the WhatsApp
// channel.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/footcare-clinic/intakebot/internal/models"
)

// webhookVerifyHandler answers the Meta webhook subscription handshake. Meta
// sends hub.mode, hub.verify_token and hub.challenge; the challenge must be
// echoed back verbatim when the token matches.
func (s *Server) webhookVerifyHandler(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && s.verifyToken != "" && token == s.verifyToken {
		slog.Info("Server.webhookVerifyHandler: webhook verified")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}

	slog.Warn("Server.webhookVerifyHandler: verification failed", "mode", mode)
	w.WriteHeader(http.StatusForbidden)
}

// webhookReceiveHandler accepts inbound message notifications from the Meta
// Cloud API. Delivery is at-least-once, so each message carries its id through
// to the engine's deduplication ledger. The handler always acknowledges with
// 200 once the payload parses; processing failures are logged, not surfaced,
// so Meta does not redeliver a poison message forever.
func (s *Server) webhookReceiveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if s.responder == nil {
		slog.Error("Server.webhookReceiveHandler: no responder configured")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var envelope models.WebhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		slog.Warn("Server.webhookReceiveHandler: failed to decode payload", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	messages := envelope.Messages()
	slog.Debug("Server.webhookReceiveHandler: payload received", "messages", len(messages))
	for _, msg := range messages {
		if msg.Text == "" {
			slog.Debug("Server.webhookReceiveHandler: skipping non-text message", "from", msg.From)
			continue
		}
		if err := s.responder.HandleInbound(r.Context(), msg); err != nil {
			slog.Error("Server.webhookReceiveHandler: failed to process message", "error", err, "from", msg.From)
		}
	}

	w.WriteHeader(http.StatusOK)
}
