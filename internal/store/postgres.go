// Package store provides storage backends for fieldbot conversation state.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/kapta-io/fieldbot/internal/models"
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
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

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
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Get retrieves the conversation state for a user, or (nil, nil) if absent.
func (s *PostgresStore) Get(userID string) (*models.ConversationState, error) {
	row := s.db.QueryRow(`SELECT user_id, display_name, channel, flow, step_index, data, media_counts,
		onboarding_notified, new_store_notified, end_notified, session_id, started_at, updated_at
		FROM conversation_states WHERE user_id = $1`, userID)

	state, err := scanConversationState(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore Get not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore Get failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load conversation state for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore Get succeeded", "userID", userID, "flow", state.Flow, "stepIndex", state.StepIndex)
	return normalizeLoaded(state), nil
}

// Put stores or replaces the conversation state for a user.
func (s *PostgresStore) Put(state *models.ConversationState) error {
	if state == nil || state.UserID == "" {
		return models.ErrEmptyUserID
	}
	dataJSON, countsJSON, err := encodeStateMaps(state)
	if err != nil {
		slog.Error("PostgresStore Put encode failed", "error", err, "userID", state.UserID)
		return err
	}

	_, err = s.db.Exec(`INSERT INTO conversation_states
		(user_id, display_name, channel, flow, step_index, data, media_counts,
		 onboarding_notified, new_store_notified, end_notified, session_id, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id) DO UPDATE SET
		 display_name = EXCLUDED.display_name,
		 channel = EXCLUDED.channel,
		 flow = EXCLUDED.flow,
		 step_index = EXCLUDED.step_index,
		 data = EXCLUDED.data,
		 media_counts = EXCLUDED.media_counts,
		 onboarding_notified = EXCLUDED.onboarding_notified,
		 new_store_notified = EXCLUDED.new_store_notified,
		 end_notified = EXCLUDED.end_notified,
		 session_id = EXCLUDED.session_id,
		 started_at = EXCLUDED.started_at,
		 updated_at = EXCLUDED.updated_at`,
		state.UserID, state.DisplayName, string(state.Channel), string(state.Flow), state.StepIndex,
		nilIfEmpty(dataJSON), nilIfEmpty(countsJSON),
		state.OnboardingNotified, state.NewStoreNotified, state.EndNotified,
		state.SessionID, state.StartedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore Put failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.UserID, err)
	}
	slog.Debug("PostgresStore Put succeeded", "userID", state.UserID, "flow", state.Flow, "stepIndex", state.StepIndex)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
