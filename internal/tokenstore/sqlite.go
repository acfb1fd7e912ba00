package tokenstore

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the durable Store used by the daemon. The secret lives in a
// single-row table so state and token always change in one transaction.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the token database at path. The parent
// directory and the file are restricted to the owning user; the token is a
// bearer secret and other local users must not be able to read it.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("restrict db permissions: %w", err)
	}
	return s, nil
}

func (s *SQLite) init(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bridge_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			state TEXT NOT NULL,
			token TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create bridge_state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bridge_state (id, state, token)
		VALUES (1, ?, '')
		ON CONFLICT (id) DO NOTHING;
	`, string(StateUninitialized)); err != nil {
		return fmt.Errorf("seed bridge_state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for diagnostics.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// readRow fetches state and token in one query so callers always observe a
// consistent pair.
func (s *SQLite) readRow(ctx context.Context) (State, string, error) {
	var rawState, token string
	err := s.db.QueryRowContext(ctx,
		`SELECT state, token FROM bridge_state WHERE id = 1;`,
	).Scan(&rawState, &token)
	if err != nil {
		return StateDegraded, "", fmt.Errorf("read bridge_state: %w", err)
	}
	return classify(rawState, token), token, nil
}

// classify maps the raw persisted pair onto a lifecycle state, treating any
// inconsistency as degraded.
func classify(rawState, token string) State {
	switch State(rawState) {
	case StateUninitialized:
		if token != "" {
			return StateDegraded
		}
		return StateUninitialized
	case StateReady:
		if token == "" {
			return StateDegraded
		}
		return StateReady
	default:
		return StateDegraded
	}
}

func (s *SQLite) State(ctx context.Context) (State, error) {
	st, _, err := s.readRow(ctx)
	return st, err
}

func (s *SQLite) Token(ctx context.Context) (string, bool, error) {
	st, token, err := s.readRow(ctx)
	if err != nil {
		return "", false, err
	}
	if st != StateReady {
		return "", false, nil
	}
	return token, true, nil
}

func (s *SQLite) SetToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrEmptyToken
	}
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin init tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var rawState, stored string
		if err := tx.QueryRowContext(ctx,
			`SELECT state, token FROM bridge_state WHERE id = 1;`,
		).Scan(&rawState, &stored); err != nil {
			return fmt.Errorf("read bridge_state: %w", err)
		}
		if classify(rawState, stored) != StateUninitialized {
			return ErrAlreadyInitialized
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE bridge_state
			SET state = ?, token = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = 1;
		`, string(StateReady), token); err != nil {
			return fmt.Errorf("write token: %w", err)
		}
		return tx.Commit()
	})
}

func (s *SQLite) Reset(ctx context.Context) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE bridge_state
			SET state = ?, token = '', updated_at = CURRENT_TIMESTAMP
			WHERE id = 1;
		`, string(StateUninitialized))
		if err != nil {
			return fmt.Errorf("reset bridge_state: %w", err)
		}
		return nil
	})
}

// retryOnBusy retries f when SQLite reports BUSY or LOCKED, with bounded
// exponential backoff and jitter. The reset subcommand can open the same
// database while the daemon holds it, so transient lock contention between
// the two processes is expected.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	// mattn/go-sqlite3 wraps errors as sqlite3.Error with Code field.
	// Check the error string for the code to avoid a direct dependency
	// on the sqlite3 package in non-CGO-importing code paths.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}
