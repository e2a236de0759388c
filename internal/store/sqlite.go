package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/chatbridge/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	writeMaxRetries = 3
	writeBaseDelay  = 100 * time.Millisecond
	subscriberQueue = 16
)

var _ TokenStore = (*SQLiteStore)(nil)

// SQLiteStore implements TokenStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	writeMu sync.Mutex // serializes writes to avoid SQLITE_BUSY within the process

	mu     sync.Mutex
	known  map[string]string // last value published per key; "" means absent
	subs   map[int]chan ChangeEvent
	nextID int
}

// NewSQLite creates a new SQLite-backed token store.
func NewSQLite(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets other processes read while one writes.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		known:  make(map[string]string),
		subs:   make(map[int]chan ChangeEvent),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	snapshot, err := s.readAll(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load client state: %w", err)
	}
	s.known = snapshot

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS client_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection and every subscriber channel.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetToken returns the stored bearer token.
func (s *SQLiteStore) GetToken(ctx context.Context) (string, bool, error) {
	value, ok, err := s.get(ctx, KeyToken)
	if err != nil {
		return "", false, err
	}
	if !ok || value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// SetToken stores the bearer token.
func (s *SQLiteStore) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return s.ClearToken(ctx)
	}
	return s.put(ctx, KeyToken, token)
}

// ClearToken removes the bearer token.
func (s *SQLiteStore) ClearToken(ctx context.Context) error {
	return s.remove(ctx, KeyToken)
}

// GetUser returns the cached profile.
func (s *SQLiteStore) GetUser(ctx context.Context) (*domain.UserProfile, error) {
	value, ok, err := s.get(ctx, KeyUser)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var user domain.UserProfile
	if err := json.Unmarshal([]byte(value), &user); err != nil {
		s.logger.Warn("Stored user profile is not valid JSON", "error", err)
		return nil, nil
	}
	return &user, nil
}

// SetUser caches the profile.
func (s *SQLiteStore) SetUser(ctx context.Context, user *domain.UserProfile) error {
	if user == nil {
		return s.ClearUser(ctx)
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user profile: %w", err)
	}
	return s.put(ctx, KeyUser, string(data))
}

// ClearUser removes the cached profile.
func (s *SQLiteStore) ClearUser(ctx context.Context) error {
	return s.remove(ctx, KeyUser)
}

// Clear removes both the token and the cached profile.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if err := s.ClearToken(ctx); err != nil {
		return err
	}
	return s.ClearUser(ctx)
}

// IsAuthenticated reports whether a token is present.
func (s *SQLiteStore) IsAuthenticated(ctx context.Context) bool {
	_, ok, err := s.GetToken(ctx)
	if err != nil {
		s.logger.Warn("Failed to read token", "error", err)
		return false
	}
	return ok
}

// Subscribe registers for change events.
func (s *SQLiteStore) Subscribe() (<-chan ChangeEvent, func()) {
	ch := make(chan ChangeEvent, subscriberQueue)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if existing, ok := s.subs[id]; ok {
				close(existing)
				delete(s.subs, id)
			}
		})
	}
}

// Watch detects writes made by other processes. SQLite bumps
// PRAGMA data_version on a connection whenever another connection commits,
// so a dedicated connection is held for the lifetime of the watch.
func (s *SQLiteStore) Watch(ctx context.Context, interval time.Duration) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire watch connection: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			s.logger.Debug("Failed to release watch connection", "error", closeErr)
		}
	}()

	var version int64
	if err := conn.QueryRowContext(ctx, "PRAGMA data_version").Scan(&version); err != nil {
		return fmt.Errorf("read data_version: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		var current int64
		if err := conn.QueryRowContext(ctx, "PRAGMA data_version").Scan(&current); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("Failed to poll data_version", "error", err)
			continue
		}
		if current == version {
			continue
		}
		version = current

		snapshot, err := s.readAll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("Failed to reload client state", "error", err)
			continue
		}
		for _, key := range []string{KeyToken, KeyUser} {
			s.observe(key, snapshot[key])
		}
	}
}

func (s *SQLiteStore) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) readAll(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM client_state`)
	if err != nil {
		return nil, fmt.Errorf("query client state: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close client state rows", "error", closeErr)
		}
	}()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan client state row: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client state: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) put(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	err := s.writeWithRetry(ctx, key, func() error {
		_, err := s.db.ExecContext(ctx, query, key, value, time.Now().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	s.observe(key, value)
	return nil
}

func (s *SQLiteStore) remove(ctx context.Context, key string) error {
	err := s.writeWithRetry(ctx, key, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM client_state WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	s.observe(key, "")
	return nil
}

// writeWithRetry retries SQLITE_BUSY and "database is locked" failures with
// exponential backoff: 100ms, 200ms, 400ms.
func (s *SQLiteStore) writeWithRetry(ctx context.Context, key string, fn func() error) error {
	var err error
	for i := 0; i < writeMaxRetries; i++ {
		s.writeMu.Lock()
		err = fn()
		s.writeMu.Unlock()

		if err == nil || !isConflict(err) {
			return err
		}
		if i == writeMaxRetries-1 {
			break
		}

		delay := writeBaseDelay * time.Duration(1<<i)
		s.logger.Debug("Client state write hit a locked database, retrying",
			"key", key,
			"attempt", i+1,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("after %d attempts: %w", writeMaxRetries, err)
}

// observe records the latest value for key and notifies subscribers if it
// differs from what was last published.
func (s *SQLiteStore) observe(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.known[key] == value {
		return
	}
	s.known[key] = value

	ev := ChangeEvent{Key: key}
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("Dropping change event for slow subscriber", "subscriber", id, "key", key)
		}
	}
}
