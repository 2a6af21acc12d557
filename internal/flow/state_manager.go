// Package flow provides session persistence on top of a Store backend.
package flow

import (
	"fmt"
	"log/slog"

	"github.com/footcare-clinic/intakebot/internal/models"
	"github.com/footcare-clinic/intakebot/internal/store"
)

// StoreBasedSessionManager persists conversation sessions through a Store.
// It is used by the WhatsApp webhook, where a session must survive between
// deliveries; the chat widget keeps its sessions in process memory.
type StoreBasedSessionManager struct {
	store store.Store
}

// NewStoreBasedSessionManager creates a session manager backed by a Store.
func NewStoreBasedSessionManager(st store.Store) *StoreBasedSessionManager {
	slog.Debug("Creating StoreBasedSessionManager")
	return &StoreBasedSessionManager{store: st}
}

// Load retrieves the session for an external id, or nil when none exists.
func (sm *StoreBasedSessionManager) Load(externalID string) (*Session, error) {
	rec, err := sm.store.GetSession(externalID)
	if err != nil {
		slog.Error("SessionManager Load error", "error", err, "externalID", externalID)
		return nil, err
	}
	if rec == nil {
		slog.Debug("SessionManager Load not found", "externalID", externalID)
		return nil, nil
	}
	sess, err := SessionFromJSON(rec.Data)
	if err != nil {
		slog.Error("SessionManager Load decode error", "error", err, "externalID", externalID)
		return nil, fmt.Errorf("failed to decode stored session for %s: %w", externalID, err)
	}
	slog.Debug("SessionManager Load found", "externalID", externalID, "currentStep", sess.CurrentStep)
	return sess, nil
}

// Save serializes and persists a session under its external id.
func (sm *StoreBasedSessionManager) Save(sess *Session) error {
	if sess.ExternalID == "" {
		return fmt.Errorf("session %s has no external id", sess.ID)
	}
	data, err := sess.ToJSON()
	if err != nil {
		slog.Error("SessionManager Save encode error", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	rec := models.SessionRecord{
		SessionID:  sess.ID,
		ExternalID: sess.ExternalID,
		Data:       data,
		CreatedAt:  sess.CreatedAt,
	}
	if err := sm.store.SaveSession(rec); err != nil {
		slog.Error("SessionManager Save error", "error", err, "externalID", sess.ExternalID)
		return err
	}
	slog.Debug("SessionManager Save succeeded", "externalID", sess.ExternalID, "currentStep", sess.CurrentStep)
	return nil
}

// Reset removes the stored session for an external id so the next message
// starts a fresh conversation.
func (sm *StoreBasedSessionManager) Reset(externalID string) error {
	if err := sm.store.DeleteSession(externalID); err != nil {
		slog.Error("SessionManager Reset error", "error", err, "externalID", externalID)
		return err
	}
	slog.Debug("SessionManager Reset succeeded", "externalID", externalID)
	return nil
}
