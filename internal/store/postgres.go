// Package store provides storage backends for the intake bot.
//
// This file implements a PostgreSQL-backed store for sessions and consultations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/footcare-clinic/intakebot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveSession(rec models.SessionRecord) error {
	now := time.Now()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.Exec(`INSERT INTO sessions (external_id, session_id, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO UPDATE SET session_id = EXCLUDED.session_id, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		rec.ExternalID, rec.SessionID, rec.Data, created, now)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "externalID", rec.ExternalID)
		return fmt.Errorf("failed to save session for %s: %w", rec.ExternalID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "externalID", rec.ExternalID)
	return nil
}

func (s *PostgresStore) GetSession(externalID string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	err := s.db.QueryRow(`SELECT external_id, session_id, data, created_at, updated_at FROM sessions WHERE external_id = $1`, externalID).
		Scan(&rec.ExternalID, &rec.SessionID, &rec.Data, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "externalID", externalID)
		return nil, fmt.Errorf("failed to get session for %s: %w", externalID, err)
	}
	return &rec, nil
}

func (s *PostgresStore) DeleteSession(externalID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE external_id = $1`, externalID)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "externalID", externalID)
		return fmt.Errorf("failed to delete session for %s: %w", externalID, err)
	}
	return nil
}

func (s *PostgresStore) SaveConsultation(ctx context.Context, c *models.Consultation) error {
	args, err := consultationArgs(c)
	if err != nil {
		slog.Error("PostgresStore SaveConsultation encode failed", "error", err)
		return err
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	args = append(args, created)
	err = s.db.QueryRowContext(ctx, `INSERT INTO consultations
		(session_id, name, phone, email, preferred_clinic, issue_category, issue_specifics, pain_duration, pain_severity, additional_info, previous_treatment, has_image, image_analysis, symptom_description, symptom_analysis, conversation_log, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (session_id) DO UPDATE SET
			name = EXCLUDED.name, phone = EXCLUDED.phone, email = EXCLUDED.email,
			preferred_clinic = EXCLUDED.preferred_clinic, issue_category = EXCLUDED.issue_category,
			issue_specifics = EXCLUDED.issue_specifics, pain_duration = EXCLUDED.pain_duration,
			pain_severity = EXCLUDED.pain_severity, additional_info = EXCLUDED.additional_info,
			previous_treatment = EXCLUDED.previous_treatment, has_image = EXCLUDED.has_image,
			image_analysis = EXCLUDED.image_analysis, symptom_description = EXCLUDED.symptom_description,
			symptom_analysis = EXCLUDED.symptom_analysis, conversation_log = EXCLUDED.conversation_log
		RETURNING id`,
		args...).Scan(&c.ID)
	if err != nil {
		slog.Error("PostgresStore SaveConsultation failed", "error", err, "sessionID", c.SessionID)
		return fmt.Errorf("failed to save consultation: %w", err)
	}
	slog.Debug("PostgresStore SaveConsultation succeeded", "id", c.ID, "sessionID", c.SessionID)
	return nil
}

func (s *PostgresStore) GetConsultation(ctx context.Context, id int64) (*models.Consultation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+consultationColumns+` FROM consultations WHERE id = $1`, id)
	c, err := scanConsultation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConsultation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get consultation %d: %w", id, err)
	}
	return &c, nil
}

func (s *PostgresStore) ListConsultations(ctx context.Context) ([]models.Consultation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+consultationColumns+` FROM consultations ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListConsultations query failed", "error", err)
		return nil, fmt.Errorf("failed to query consultations: %w", err)
	}
	defer rows.Close()

	var out []models.Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			slog.Error("PostgresStore ListConsultations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan consultation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListConsultations rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate consultation rows: %w", err)
	}
	slog.Debug("PostgresStore ListConsultations succeeded", "count", len(out))
	return out, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
