package flow

import (
	"encoding/json"
	"log/slog"

	"github.com/footcare-clinic/intakebot/internal/models"
)

// Logical field names the intake flow collects. Steps are mapped to these via
// the graph's field mapping; only a subset is projected onto the persisted
// consultation record, the rest survives in the conversation log.
const (
	FieldName               = "name"
	FieldPhone              = "phone"
	FieldEmail              = "email"
	FieldPreferredClinic    = "preferredClinic"
	FieldHasImage           = "hasImage"
	FieldImageData          = "imageData"
	FieldIssueCategory      = "issueCategory"
	FieldIssueSpecifics     = "issueSpecifics"
	FieldPainDuration       = "painDuration"
	FieldPainSeverity       = "painSeverity"
	FieldSymptomDescription = "symptomDescription"
	FieldPreviousTreatment  = "previousTreatment"
	FieldAdditionalInfo     = "additionalInfo"
)

// Reserved collected keys for merged adapter results.
const (
	CollectedKeyImageAnalysis   = "imageAnalysis"
	CollectedKeySymptomAnalysis = "symptomAnalysis"
)

// BuildConsultation projects a session's collected data into the consultation
// record shape used by the store and the admin surface.
func BuildConsultation(sess *Session) *models.Consultation {
	c := &models.Consultation{
		SessionID:          sess.ID,
		Name:               sess.Collected[FieldName],
		Phone:              sess.Collected[FieldPhone],
		Email:              sess.Collected[FieldEmail],
		PreferredClinic:    sess.Collected[FieldPreferredClinic],
		IssueCategory:      sess.Collected[FieldIssueCategory],
		IssueSpecifics:     sess.Collected[FieldIssueSpecifics],
		PainDuration:       sess.Collected[FieldPainDuration],
		PainSeverity:       sess.Collected[FieldPainSeverity],
		AdditionalInfo:     sess.Collected[FieldAdditionalInfo],
		PreviousTreatment:  sess.Collected[FieldPreviousTreatment],
		HasImage:           sess.Collected[FieldHasImage],
		SymptomDescription: sess.Collected[FieldSymptomDescription],
		ConversationLog:    sess.Log,
		CreatedAt:          sess.CreatedAt,
	}
	if sess.ExternalID != "" && c.Phone == "" {
		c.Phone = sess.ExternalID
	}
	if raw := sess.Collected[CollectedKeyImageAnalysis]; raw != "" {
		var analysis models.ImageAnalysis
		if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
			slog.Warn("flow.BuildConsultation: stored image analysis unreadable", "error", err, "sessionID", sess.ID)
		} else {
			c.ImageAnalysis = &analysis
		}
	}
	if raw := sess.Collected[CollectedKeySymptomAnalysis]; raw != "" {
		var analysis models.SymptomAnalysis
		if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
			slog.Warn("flow.BuildConsultation: stored symptom analysis unreadable", "error", err, "sessionID", sess.ID)
		} else {
			c.SymptomAnalysis = &analysis
		}
	}
	return c
}
