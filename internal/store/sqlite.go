// Package store provides storage backends for fieldbot conversation state.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/kapta-io/fieldbot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

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

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Get retrieves the conversation state for a user, or (nil, nil) if absent.
func (s *SQLiteStore) Get(userID string) (*models.ConversationState, error) {
	row := s.db.QueryRow(`SELECT user_id, display_name, channel, flow, step_index, data, media_counts,
		onboarding_notified, new_store_notified, end_notified, session_id, started_at, updated_at
		FROM conversation_states WHERE user_id = ?`, userID)

	state, err := scanConversationState(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore Get not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore Get failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load conversation state for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore Get succeeded", "userID", userID, "flow", state.Flow, "stepIndex", state.StepIndex)
	return normalizeLoaded(state), nil
}

// Put stores or replaces the conversation state for a user.
func (s *SQLiteStore) Put(state *models.ConversationState) error {
	if state == nil || state.UserID == "" {
		return models.ErrEmptyUserID
	}
	dataJSON, countsJSON, err := encodeStateMaps(state)
	if err != nil {
		slog.Error("SQLiteStore Put encode failed", "error", err, "userID", state.UserID)
		return err
	}

	_, err = s.db.Exec(`INSERT OR REPLACE INTO conversation_states
		(user_id, display_name, channel, flow, step_index, data, media_counts,
		 onboarding_notified, new_store_notified, end_notified, session_id, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		state.UserID, state.DisplayName, string(state.Channel), string(state.Flow), state.StepIndex,
		dataJSON, countsJSON,
		state.OnboardingNotified, state.NewStoreNotified, state.EndNotified,
		state.SessionID, state.StartedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore Put failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.UserID, err)
	}
	slog.Debug("SQLiteStore Put succeeded", "userID", state.UserID, "flow", state.Flow, "stepIndex", state.StepIndex)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// encodeStateMaps serializes the collected-data and media-count maps to JSON
// for storage in text columns.
func encodeStateMaps(state *models.ConversationState) (string, string, error) {
	dataJSON := ""
	if len(state.Data) > 0 {
		b, err := json.Marshal(state.Data)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal collected data: %w", err)
		}
		dataJSON = string(b)
	}
	countsJSON := ""
	if len(state.MediaCounts) > 0 {
		b, err := json.Marshal(state.MediaCounts)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal media counts: %w", err)
		}
		countsJSON = string(b)
	}
	return dataJSON, countsJSON, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanConversationState scans one conversation state row, decoding the JSON
// map columns.
func scanConversationState(row rowScanner) (*models.ConversationState, error) {
	var state models.ConversationState
	var channel, flow string
	var dataJSON, countsJSON sql.NullString
	var startedAt, updatedAt sql.NullTime

	err := row.Scan(&state.UserID, &state.DisplayName, &channel, &flow, &state.StepIndex,
		&dataJSON, &countsJSON,
		&state.OnboardingNotified, &state.NewStoreNotified, &state.EndNotified,
		&state.SessionID, &startedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	state.Channel = models.Channel(channel)
	state.Flow = models.FlowType(flow)
	if startedAt.Valid {
		state.StartedAt = startedAt.Time
	}
	if updatedAt.Valid {
		state.UpdatedAt = updatedAt.Time
	}
	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &state.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal collected data: %w", err)
		}
	}
	if countsJSON.Valid && countsJSON.String != "" {
		if err := json.Unmarshal([]byte(countsJSON.String), &state.MediaCounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal media counts: %w", err)
		}
	}
	return &state, nil
}
