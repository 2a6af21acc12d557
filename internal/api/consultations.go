// Package api provides the consultation admin endpoints.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/footcare-clinic/intakebot/internal/export"
	"github.com/footcare-clinic/intakebot/internal/models"
)

// listConsultationsHandler returns all stored consultation records.
func (s *Server) listConsultationsHandler(w http.ResponseWriter, r *http.Request) {
	consultations, err := s.st.ListConsultations(r.Context())
	if err != nil {
		slog.Error("Server.listConsultationsHandler: query failed", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, models.Error("Failed to load consultations"))
		return
	}
	slog.Debug("Server.listConsultationsHandler: consultations loaded", "count", len(consultations))
	render.JSON(w, r, models.Success(consultations))
}

// exportConsultationsHandler streams all consultations as a CSV download.
func (s *Server) exportConsultationsHandler(w http.ResponseWriter, r *http.Request) {
	consultations, err := s.st.ListConsultations(r.Context())
	if err != nil {
		slog.Error("Server.exportConsultationsHandler: query failed", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, models.Error("Failed to load consultations"))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(time.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	if err := export.WriteConsultationsCSV(w, consultations); err != nil {
		slog.Error("Server.exportConsultationsHandler: CSV write failed", "error", err)
		return
	}
	slog.Info("Server.exportConsultationsHandler: export complete", "count", len(consultations))
}
