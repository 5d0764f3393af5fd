package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"ops-console/domain"
)

// HistoryLimit bounds every history list kept in the local store.
const HistoryLimit = 100

// openDB is swapped in tests.
var openDB = sql.Open

// LocalStore is a single-process key/value store on SQLite. It backs the
// local layout fallback and the bounded job histories.
type LocalStore struct {
	db *sql.DB
}

// OpenLocalStore opens or creates the store at path.
func OpenLocalStore(path string) (*LocalStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := openDB("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	const createSQL = `CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := db.Exec(createSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &LocalStore{db: db}, nil
}

func (s *LocalStore) Close() error {
	return s.db.Close()
}

// Get returns the value under key or sql.ErrNoRows.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	return get(ctx, s.db, key)
}

func (s *LocalStore) Put(ctx context.Context, key string, value []byte) error {
	return put(ctx, s.db, key, value)
}

func (s *LocalStore) FetchLayout(ctx context.Context, userID string) ([]domain.Item, error) {
	data, err := s.Get(ctx, localLayoutKey(userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoConfig
	}
	if err != nil {
		return nil, err
	}
	var items []domain.Item
	if err := sonic.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode local layout: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNoConfig
	}
	return items, nil
}

func (s *LocalStore) SaveLayout(ctx context.Context, userID string, items []domain.Item) error {
	data, err := sonic.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode local layout: %w", err)
	}
	return s.Put(ctx, localLayoutKey(userID), data)
}

// AppendHistory prepends entry to the JSON array under key and drops the
// oldest entries beyond limit. A limit outside 1..HistoryLimit means
// HistoryLimit.
func (s *LocalStore) AppendHistory(ctx context.Context, key string, entry []byte, limit int) error {
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var list []json.RawMessage
	data, err := get(ctx, tx, key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		if err := sonic.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("decode history %s: %w", key, err)
		}
	}

	list = append([]json.RawMessage{entry}, list...)
	if len(list) > limit {
		list = list[:limit]
	}
	out, err := sonic.Marshal(list)
	if err != nil {
		return err
	}
	if err := put(ctx, tx, key, out); err != nil {
		return err
	}
	return tx.Commit()
}

// History returns the entries under key, most recent first.
func (s *LocalStore) History(ctx context.Context, key string) ([]json.RawMessage, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []json.RawMessage
	if err := sonic.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", key, err)
	}
	return list, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func get(ctx context.Context, q querier, key string) ([]byte, error) {
	var value string
	if err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value); err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func put(ctx context.Context, q querier, key string, value []byte) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func localLayoutKey(userID string) string {
	return "layout:" + userID
}
