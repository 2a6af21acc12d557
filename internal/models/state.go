// Package models defines persistence shapes for conversation sessions.
package models

import "time"

// SessionRecord is the stored form of a conversation session. The session
// itself is serialized to JSON in Data; the external id (the patient's phone
// number for WhatsApp conversations) is the lookup key between webhook calls.
type SessionRecord struct {
	SessionID  string    `json:"session_id"`
	ExternalID string    `json:"external_id"`
	Data       string    `json:"data"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
