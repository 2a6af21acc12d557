package flow

import (
	"encoding/json"
	"time"

	"github.com/footcare-clinic/intakebot/internal/models"
	"github.com/google/uuid"
)

// maxSeenDeliveries bounds the per-session ledger of processed webhook
// delivery ids used for at-least-once deduplication.
const maxSeenDeliveries = 32

// Session is the mutable state of one conversation. It is owned by the caller,
// mutated exclusively by the engine one input at a time, and serialized to the
// store between webhook calls.
type Session struct {
	ID             string                   `json:"id"`
	ExternalID     string                   `json:"externalId,omitempty"` // phone number for webhook sessions
	CurrentStep    string                   `json:"currentStep"`
	Collected      map[string]string        `json:"collected"`
	Transcript     []models.TranscriptEntry `json:"transcript"`
	Log            []models.LogEntry        `json:"log"`
	AwaitingInput  bool                     `json:"awaitingInput"`
	Processing     bool                     `json:"processing,omitempty"`
	SeenDeliveries []string                 `json:"seenDeliveries,omitempty"`
	CreatedAt      time.Time                `json:"createdAt"`
	UpdatedAt      time.Time                `json:"updatedAt"`
}

// NewSession creates a fresh session positioned at the given entry step.
func NewSession(entryStep string) *Session {
	now := time.Now()
	return &Session{
		ID:          uuid.NewString(),
		CurrentStep: entryStep,
		Collected:   make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// hasSeenDelivery reports whether a webhook delivery id was already processed.
func (s *Session) hasSeenDelivery(id string) bool {
	for _, seen := range s.SeenDeliveries {
		if seen == id {
			return true
		}
	}
	return false
}

// markDelivery records a processed delivery id, trimming the ledger to its cap.
func (s *Session) markDelivery(id string) {
	s.SeenDeliveries = append(s.SeenDeliveries, id)
	if len(s.SeenDeliveries) > maxSeenDeliveries {
		s.SeenDeliveries = s.SeenDeliveries[len(s.SeenDeliveries)-maxSeenDeliveries:]
	}
}

// lastEntryOfKind returns the most recent transcript entry for a speaker.
func (s *Session) lastEntryOfKind(speaker models.Speaker) (models.TranscriptEntry, bool) {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Speaker == speaker {
			return s.Transcript[i], true
		}
	}
	return models.TranscriptEntry{}, false
}

// ToJSON serializes the session for storage.
func (s *Session) ToJSON() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SessionFromJSON deserializes a stored session.
func SessionFromJSON(data string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	if s.Collected == nil {
		s.Collected = make(map[string]string)
	}
	return &s, nil
}
