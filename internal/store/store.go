// Package store provides storage backends for the intake bot.
//
// It persists conversation sessions (keyed by external id, the patient's
// WhatsApp phone number) and finished or in-progress consultation records.
// Backends exist for SQLite and PostgreSQL, plus an in-memory store used by
// the chat widget and tests.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/footcare-clinic/intakebot/internal/models"
)

// Store is the interface all storage backends implement.
type Store interface {
	SaveSession(rec models.SessionRecord) error
	GetSession(externalID string) (*models.SessionRecord, error)
	DeleteSession(externalID string) error

	// SaveConsultation upserts a consultation keyed by its session id, so
	// checkpoint saves during one conversation update a single record. The
	// assigned id is written back to c.
	SaveConsultation(ctx context.Context, c *models.Consultation) error
	GetConsultation(ctx context.Context, id int64) (*models.Consultation, error)
	ListConsultations(ctx context.Context) ([]models.Consultation, error)

	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	// DSN is the database connection string. For SQLite this is a file path;
	// for Postgres a postgres:// URL or key=value DSN.
	DSN string
}

// Option configures store options.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DSN type constants returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite"
)

// DetectDSNType determines the database driver from a DSN string. Postgres
// URLs and key=value connection strings map to Postgres; anything else is
// treated as an SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DSNTypePostgres
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// InMemoryStore keeps sessions and consultations in process memory. It backs
// the chat widget, where sessions are ephemeral, and the tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]models.SessionRecord
	consultations map[int64]models.Consultation
	bySession     map[string]int64
	nextID        int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:      make(map[string]models.SessionRecord),
		consultations: make(map[int64]models.Consultation),
		bySession:     make(map[string]int64),
		nextID:        1,
	}
}

func (s *InMemoryStore) SaveSession(rec models.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[rec.ExternalID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = time.Now()
	s.sessions[rec.ExternalID] = rec
	return nil
}

func (s *InMemoryStore) GetSession(externalID string) (*models.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[externalID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryStore) DeleteSession(externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, externalID)
	return nil
}

func (s *InMemoryStore) SaveConsultation(_ context.Context, c *models.Consultation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.SessionID != "" {
		if id, ok := s.bySession[c.SessionID]; ok {
			c.ID = id
			existing := s.consultations[id]
			if !existing.CreatedAt.IsZero() {
				c.CreatedAt = existing.CreatedAt
			}
			s.consultations[id] = *c
			return nil
		}
	}
	c.ID = s.nextID
	s.nextID++
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.consultations[c.ID] = *c
	if c.SessionID != "" {
		s.bySession[c.SessionID] = c.ID
	}
	return nil
}

func (s *InMemoryStore) GetConsultation(_ context.Context, id int64) (*models.Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consultations[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *InMemoryStore) ListConsultations(_ context.Context) ([]models.Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Consultation, 0, len(s.consultations))
	for _, c := range s.consultations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
