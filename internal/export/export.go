// Package export writes consultation records out as CSV for the clinic's
// admin surface.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/footcare-clinic/intakebot/internal/models"
)

// header is the exported column set, one column per projected consultation
// field. Analysis results are embedded as JSON strings.
var header = []string{
	"ID",
	"Date Created",
	"Patient Name",
	"Email",
	"Phone",
	"Clinic Location",
	"Issue Category",
	"Issue Details",
	"Pain Duration",
	"Pain Level",
	"Previous Treatments",
	"Additional Information",
	"Image Analysis Results",
	"Symptom Description",
	"Symptom Analysis Results",
}

// WriteConsultationsCSV writes the consultations to w in CSV form.
func WriteConsultationsCSV(w io.Writer, consultations []models.Consultation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, c := range consultations {
		record := []string{
			fmt.Sprintf("%d", c.ID),
			formatTime(c.CreatedAt),
			c.Name,
			c.Email,
			c.Phone,
			c.PreferredClinic,
			c.IssueCategory,
			c.IssueSpecifics,
			c.PainDuration,
			c.PainSeverity,
			c.PreviousTreatment,
			c.AdditionalInfo,
			jsonField(c.ImageAnalysis),
			c.SymptomDescription,
			jsonField(c.SymptomAnalysis),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record for consultation %d: %w", c.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV output: %w", err)
	}
	slog.Debug("export.WriteConsultationsCSV: export complete", "count", len(consultations))
	return nil
}

// Filename returns a timestamped download name for an export.
func Filename(now time.Time) string {
	return fmt.Sprintf("consultations-%s.csv", now.Format("2006-01-02T15-04-05"))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// jsonField renders a nullable analysis result as a JSON string column.
func jsonField(v interface{}) string {
	switch x := v.(type) {
	case *models.ImageAnalysis:
		if x == nil {
			return ""
		}
	case *models.SymptomAnalysis:
		if x == nil {
			return ""
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		slog.Warn("export.jsonField: marshal failed", "error", err)
		return ""
	}
	return string(b)
}
