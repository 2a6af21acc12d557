package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/footcare-clinic/intakebot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// encodeJSON marshals v for a JSON text column, returning nil for nil values
// so the column stays NULL.
func encodeJSON(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON column: %w", err)
	}
	return string(b), nil
}

// consultationColumns is the select list shared by both SQL backends. The
// order must match scanConsultation.
const consultationColumns = `id, session_id, name, phone, email, preferred_clinic, issue_category, issue_specifics, pain_duration, pain_severity, additional_info, previous_treatment, has_image, image_analysis, symptom_description, symptom_analysis, conversation_log, created_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanConsultation scans one consultation row in consultationColumns order.
func scanConsultation(row rowScanner) (models.Consultation, error) {
	var c models.Consultation
	var sessionID, preferredClinic, issueSpecifics, painDuration, painSeverity sql.NullString
	var additionalInfo, previousTreatment, hasImage, symptomDescription sql.NullString
	var imageAnalysisJSON, symptomAnalysisJSON, conversationLogJSON sql.NullString
	err := row.Scan(
		&c.ID, &sessionID, &c.Name, &c.Phone, &c.Email, &preferredClinic,
		&c.IssueCategory, &issueSpecifics, &painDuration, &painSeverity,
		&additionalInfo, &previousTreatment, &hasImage,
		&imageAnalysisJSON, &symptomDescription, &symptomAnalysisJSON,
		&conversationLogJSON, &c.CreatedAt,
	)
	if err != nil {
		return c, err
	}
	c.SessionID = sessionID.String
	c.PreferredClinic = preferredClinic.String
	c.IssueSpecifics = issueSpecifics.String
	c.PainDuration = painDuration.String
	c.PainSeverity = painSeverity.String
	c.AdditionalInfo = additionalInfo.String
	c.PreviousTreatment = previousTreatment.String
	c.HasImage = hasImage.String
	c.SymptomDescription = symptomDescription.String
	if imageAnalysisJSON.Valid && imageAnalysisJSON.String != "" {
		var a models.ImageAnalysis
		if err := json.Unmarshal([]byte(imageAnalysisJSON.String), &a); err != nil {
			return c, fmt.Errorf("failed to decode image analysis column: %w", err)
		}
		c.ImageAnalysis = &a
	}
	if symptomAnalysisJSON.Valid && symptomAnalysisJSON.String != "" {
		var a models.SymptomAnalysis
		if err := json.Unmarshal([]byte(symptomAnalysisJSON.String), &a); err != nil {
			return c, fmt.Errorf("failed to decode symptom analysis column: %w", err)
		}
		c.SymptomAnalysis = &a
	}
	if conversationLogJSON.Valid && conversationLogJSON.String != "" {
		if err := json.Unmarshal([]byte(conversationLogJSON.String), &c.ConversationLog); err != nil {
			return c, fmt.Errorf("failed to decode conversation log column: %w", err)
		}
	}
	return c, nil
}

// consultationArgs builds the insert/update argument list for a consultation,
// excluding id and created_at.
func consultationArgs(c *models.Consultation) ([]interface{}, error) {
	imageJSON, err := encodeJSON(ptrOrNil(c.ImageAnalysis))
	if err != nil {
		return nil, err
	}
	symptomJSON, err := encodeJSON(ptrOrNil(c.SymptomAnalysis))
	if err != nil {
		return nil, err
	}
	var logJSON interface{}
	if len(c.ConversationLog) > 0 {
		logJSON, err = encodeJSON(c.ConversationLog)
		if err != nil {
			return nil, err
		}
	}
	return []interface{}{
		nilIfEmpty(c.SessionID), c.Name, c.Phone, c.Email, nilIfEmpty(c.PreferredClinic),
		c.IssueCategory, nilIfEmpty(c.IssueSpecifics), nilIfEmpty(c.PainDuration), nilIfEmpty(c.PainSeverity),
		nilIfEmpty(c.AdditionalInfo), nilIfEmpty(c.PreviousTreatment), nilIfEmpty(c.HasImage),
		imageJSON, nilIfEmpty(c.SymptomDescription), symptomJSON, logJSON,
	}, nil
}

func ptrOrNil[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
