// Package store persists inbound session metadata and last-route pointers in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/whimmy-ai/whimmy-plugin/internal/engine"
	"github.com/whimmy-ai/whimmy-plugin/internal/store/migrations"
)

// ErrNotFound is returned when a session or route does not exist.
var ErrNotFound = errors.New("not found")

// Session is one backend conversation as seen by an agent.
type Session struct {
	SessionKey    string
	AgentID       string
	AccountID     string
	BackendKey    string
	Channel       string
	LastMessageID string
	LastSender    string
	LastMessage   string
	MessageCount  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Route is the last place an agent heard from, anchored on its main key.
type Route struct {
	MainKey    string
	AgentID    string
	AccountID  string
	SessionKey string
	Channel    string
	UpdatedAt  time.Time
}

// Store wraps the session database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite handles a single writer; serialize everything through one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrations.Run(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordInboundSession upserts the session row for an inbound message and
// moves the agent's main-session route to it.
func (s *Store) RecordInboundSession(ctx context.Context, in engine.InboundContext) error {
	if in.SessionKey == "" {
		return errors.New("record session: empty session key")
	}
	now := s.now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_key, agent_id, account_id, backend_key, channel,
			last_message_id, last_sender, last_message, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			account_id = excluded.account_id,
			channel = excluded.channel,
			last_message_id = excluded.last_message_id,
			last_sender = excluded.last_sender,
			last_message = excluded.last_message,
			message_count = sessions.message_count + 1,
			updated_at = excluded.updated_at`,
		in.SessionKey, in.AgentID, in.AccountID, in.BackendKey, in.Channel,
		in.MessageID, in.SenderName, in.RawBody, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if in.MainSessionKey != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO routes (main_key, agent_id, account_id, session_key, channel, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(main_key) DO UPDATE SET
				account_id = excluded.account_id,
				session_key = excluded.session_key,
				channel = excluded.channel,
				updated_at = excluded.updated_at`,
			in.MainSessionKey, in.AgentID, in.AccountID, in.SessionKey, in.Channel, now,
		)
		if err != nil {
			return fmt.Errorf("update route: %w", err)
		}
	}

	return tx.Commit()
}

// Session returns the session stored under key.
func (s *Store) Session(ctx context.Context, key string) (*Session, error) {
	var sess Session
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT session_key, agent_id, account_id, backend_key, channel, last_message_id,
			last_sender, last_message, message_count, created_at, updated_at
		FROM sessions WHERE session_key = ?`, key,
	).Scan(&sess.SessionKey, &sess.AgentID, &sess.AccountID, &sess.BackendKey, &sess.Channel,
		&sess.LastMessageID, &sess.LastSender, &sess.LastMessage, &sess.MessageCount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.CreatedAt = time.Unix(created, 0)
	sess.UpdatedAt = time.Unix(updated, 0)
	return &sess, nil
}

// LastRoute returns the route anchored on mainKey.
func (s *Store) LastRoute(ctx context.Context, mainKey string) (*Route, error) {
	var r Route
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT main_key, agent_id, account_id, session_key, channel, updated_at
		FROM routes WHERE main_key = ?`, mainKey,
	).Scan(&r.MainKey, &r.AgentID, &r.AccountID, &r.SessionKey, &r.Channel, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get route: %w", err)
	}
	r.UpdatedAt = time.Unix(updated, 0)
	return &r, nil
}

// Routes lists every agent's last route, most recent first.
func (s *Store) Routes(ctx context.Context) ([]Route, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT main_key, agent_id, account_id, session_key, channel, updated_at
		FROM routes ORDER BY updated_at DESC, main_key`)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	var out []Route
	for rows.Next() {
		var r Route
		var updated int64
		if err := rows.Scan(&r.MainKey, &r.AgentID, &r.AccountID, &r.SessionKey, &r.Channel, &updated); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		r.UpdatedAt = time.Unix(updated, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionCount returns the number of recorded sessions.
func (s *Store) SessionCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
