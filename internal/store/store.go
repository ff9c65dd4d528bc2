// Package store provides storage backends for fieldbot conversation state.
//
// It includes an in-memory store for tests and SQLite/PostgreSQL stores for
// durable per-user state. All backends return fully-populated records:
// defaults for fields absent in older rows are applied once at the
// deserialization boundary, never in business logic.
package store

import (
	"strings"
	"time"

	"github.com/kapta-io/fieldbot/internal/models"
)

// StateStore is the durable mapping from user identifier to conversation
// state. Get returns (nil, nil) when the user has no record. Callers must
// serialize Get/Put per user; the flow engine holds a per-user lock across
// the read-modify-write sequence.
type StateStore interface {
	Get(userID string) (*models.ConversationState, error)
	Put(state *models.ConversationState) error
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL-style DSNs and "sqlite3"
// for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// normalizeLoaded applies documented defaults to a record loaded from
// storage so callers always see a fully-populated state. Rows written by
// older revisions may miss the maps, the flow value, or the timestamps.
func normalizeLoaded(s *models.ConversationState) *models.ConversationState {
	if s == nil {
		return nil
	}
	if s.Data == nil {
		s.Data = make(map[models.DataKey]string)
	}
	if s.MediaCounts == nil {
		s.MediaCounts = make(map[string]int)
	}
	if s.Flow == "" {
		s.Flow = models.FlowOnboarding
	}
	if s.StartedAt.IsZero() {
		if !s.UpdatedAt.IsZero() {
			s.StartedAt = s.UpdatedAt
		} else {
			s.StartedAt = time.Now()
		}
	}
	return s
}
