// Package store provides storage backends for the intake bot.
//
// This file implements an SQLite-backed store for sessions and consultations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/footcare-clinic/intakebot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveSession(rec models.SessionRecord) error {
	now := time.Now()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.Exec(`INSERT INTO sessions (external_id, session_id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET session_id = excluded.session_id, data = excluded.data, updated_at = excluded.updated_at`,
		rec.ExternalID, rec.SessionID, rec.Data, created, now)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "externalID", rec.ExternalID)
		return fmt.Errorf("failed to save session for %s: %w", rec.ExternalID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "externalID", rec.ExternalID)
	return nil
}

func (s *SQLiteStore) GetSession(externalID string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	err := s.db.QueryRow(`SELECT external_id, session_id, data, created_at, updated_at FROM sessions WHERE external_id = ?`, externalID).
		Scan(&rec.ExternalID, &rec.SessionID, &rec.Data, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "externalID", externalID)
		return nil, fmt.Errorf("failed to get session for %s: %w", externalID, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) DeleteSession(externalID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE external_id = ?`, externalID)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "externalID", externalID)
		return fmt.Errorf("failed to delete session for %s: %w", externalID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveConsultation(ctx context.Context, c *models.Consultation) error {
	args, err := consultationArgs(c)
	if err != nil {
		slog.Error("SQLiteStore SaveConsultation encode failed", "error", err)
		return err
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	args = append(args, created)
	res, err := s.db.ExecContext(ctx, `INSERT INTO consultations
		(session_id, name, phone, email, preferred_clinic, issue_category, issue_specifics, pain_duration, pain_severity, additional_info, previous_treatment, has_image, image_analysis, symptom_description, symptom_analysis, conversation_log, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			name = excluded.name, phone = excluded.phone, email = excluded.email,
			preferred_clinic = excluded.preferred_clinic, issue_category = excluded.issue_category,
			issue_specifics = excluded.issue_specifics, pain_duration = excluded.pain_duration,
			pain_severity = excluded.pain_severity, additional_info = excluded.additional_info,
			previous_treatment = excluded.previous_treatment, has_image = excluded.has_image,
			image_analysis = excluded.image_analysis, symptom_description = excluded.symptom_description,
			symptom_analysis = excluded.symptom_analysis, conversation_log = excluded.conversation_log`,
		args...)
	if err != nil {
		slog.Error("SQLiteStore SaveConsultation failed", "error", err, "sessionID", c.SessionID)
		return fmt.Errorf("failed to save consultation: %w", err)
	}
	if c.SessionID != "" {
		if err := s.db.QueryRowContext(ctx, `SELECT id FROM consultations WHERE session_id = ?`, c.SessionID).Scan(&c.ID); err != nil {
			slog.Error("SQLiteStore SaveConsultation id lookup failed", "error", err, "sessionID", c.SessionID)
			return fmt.Errorf("failed to look up consultation id: %w", err)
		}
	} else if id, err := res.LastInsertId(); err == nil {
		c.ID = id
	}
	slog.Debug("SQLiteStore SaveConsultation succeeded", "id", c.ID, "sessionID", c.SessionID)
	return nil
}

func (s *SQLiteStore) GetConsultation(ctx context.Context, id int64) (*models.Consultation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+consultationColumns+` FROM consultations WHERE id = ?`, id)
	c, err := scanConsultation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConsultation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get consultation %d: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListConsultations(ctx context.Context) ([]models.Consultation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+consultationColumns+` FROM consultations ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListConsultations query failed", "error", err)
		return nil, fmt.Errorf("failed to query consultations: %w", err)
	}
	defer rows.Close()

	var out []models.Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			slog.Error("SQLiteStore ListConsultations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan consultation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListConsultations rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate consultation rows: %w", err)
	}
	slog.Debug("SQLiteStore ListConsultations succeeded", "count", len(out))
	return out, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
