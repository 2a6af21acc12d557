// Package api provides HTTP handlers for the chat widget endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/footcare-clinic/intakebot/internal/flow"
	"github.com/footcare-clinic/intakebot/internal/models"
)

// maxImageUploadBytes bounds the base64 payload of a foot photo upload.
const maxImageUploadBytes = 15 << 20

// widgetSessionTTL is how long a widget session survives without activity
// before it is evicted. A page visit is minutes, not hours.
const widgetSessionTTL = time.Hour

// widgetSessions holds the in-memory sessions of active widget conversations.
// Widget sessions are ephemeral: they live for the duration of the page visit
// and are not persisted between server restarts. Stale entries are pruned on
// every insert so the map does not grow with abandoned conversations.
type widgetSessions struct {
	mu       sync.RWMutex
	sessions map[string]*flow.Session
	ttl      time.Duration
}

func newWidgetSessions() *widgetSessions {
	return &widgetSessions{
		sessions: make(map[string]*flow.Session),
		ttl:      widgetSessionTTL,
	}
}

func (ws *widgetSessions) add(sess *flow.Session) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.prune(time.Now())
	ws.sessions[sess.ID] = sess
}

// prune drops sessions idle past the TTL. Caller holds the write lock.
func (ws *widgetSessions) prune(now time.Time) {
	for id, sess := range ws.sessions {
		if now.Sub(sess.UpdatedAt) > ws.ttl {
			slog.Debug("widgetSessions.prune: evicting stale session", "sessionID", id, "updatedAt", sess.UpdatedAt)
			delete(ws.sessions, id)
		}
	}
}

func (ws *widgetSessions) get(id string) (*flow.Session, bool) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	sess, ok := ws.sessions[id]
	return sess, ok
}

// sessionResult is the widget-facing view of a conversation turn.
type sessionResult struct {
	SessionID string       `json:"sessionId"`
	Messages  []flow.Reply `json:"messages"`
	Done      bool         `json:"done,omitempty"`
}

func conversationDone(replies []flow.Reply) bool {
	for _, reply := range replies {
		if reply.Terminal {
			return true
		}
	}
	return false
}

// createSessionHandler starts a fresh widget conversation and returns the
// opening messages up to the first prompt.
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess := flow.NewSession(s.graph.Entry())
	replies, err := s.engine.Start(r.Context(), sess)
	if err != nil {
		slog.Error("Server.createSessionHandler: failed to start session", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, models.Error("Failed to start conversation"))
		return
	}
	s.widget.add(sess)

	slog.Info("Server.createSessionHandler: session created", "sessionID", sess.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, models.Success(sessionResult{SessionID: sess.ID, Messages: replies}))
}

// getSessionHandler returns the transcript and the pending prompt of a widget
// session, letting a reloaded widget resume where it left off.
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, ok := s.widget.get(sessionID)
	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, models.Error("Session not found"))
		return
	}

	prompt, err := s.engine.DescribeStep(sess.CurrentStep, sess.Collected)
	if err != nil {
		slog.Error("Server.getSessionHandler: failed to describe current step", "error", err, "sessionID", sessionID)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, models.Error("Failed to load session"))
		return
	}

	render.JSON(w, r, models.Success(map[string]interface{}{
		"sessionId":     sess.ID,
		"currentStep":   sess.CurrentStep,
		"awaitingInput": sess.AwaitingInput,
		"transcript":    sess.Transcript,
		"prompt":        prompt,
	}))
}

type messageRequest struct {
	Text       string `json:"text"`
	DeliveryID string `json:"deliveryId,omitempty"`
}

// postMessageHandler advances a widget conversation by one user input.
func (s *Server) postMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	sessionID := chi.URLParam(r, "sessionID")
	sess, ok := s.widget.get(sessionID)
	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, models.Error("Session not found"))
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.postMessageHandler: failed to decode JSON", "error", err, "sessionID", sessionID)
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, models.Error("Invalid JSON format"))
		return
	}

	replies, err := s.engine.Advance(r.Context(), sess, flow.Input{Text: req.Text, DeliveryID: req.DeliveryID})
	if err != nil {
		s.renderAdvanceError(w, r, err, sessionID)
		return
	}

	render.JSON(w, r, models.Success(sessionResult{
		SessionID: sess.ID,
		Messages:  replies,
		Done:      conversationDone(replies),
	}))
}

type imageRequest struct {
	ImageData string `json:"imageData"`
}

// postImageHandler submits a base64-encoded foot photo as the answer to the
// pending image upload prompt.
func (s *Server) postImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	sessionID := chi.URLParam(r, "sessionID")
	sess, ok := s.widget.get(sessionID)
	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, models.Error("Session not found"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageUploadBytes)
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.postImageHandler: failed to decode JSON", "error", err, "sessionID", sessionID)
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, models.Error("Invalid or oversized image payload"))
		return
	}
	if req.ImageData == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, models.Error("imageData is required"))
		return
	}

	replies, err := s.engine.Advance(r.Context(), sess, flow.Input{Text: req.ImageData})
	if err != nil {
		s.renderAdvanceError(w, r, err, sessionID)
		return
	}

	render.JSON(w, r, models.Success(sessionResult{
		SessionID: sess.ID,
		Messages:  replies,
		Done:      conversationDone(replies),
	}))
}

// renderAdvanceError maps engine errors onto HTTP statuses.
func (s *Server) renderAdvanceError(w http.ResponseWriter, r *http.Request, err error, sessionID string) {
	switch {
	case errors.Is(err, flow.ErrProcessing):
		slog.Warn("Server: input rejected while processing", "sessionID", sessionID)
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, models.Error("Still processing your previous answer, one moment please"))
	case errors.Is(err, flow.ErrNoPromptPending):
		slog.Warn("Server: input rejected, no prompt pending", "sessionID", sessionID)
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, models.Error("No question is awaiting an answer"))
	default:
		slog.Error("Server: failed to advance conversation", "error", err, "sessionID", sessionID)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, models.Error("Failed to process message"))
	}
}
