// Package local implements the durable on-device backend on SQLite
// (modernc.org/sqlite). Each collection is a table holding JSON documents
// keyed by id; physical table names come from the schema alias table.
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/dbx"
	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/local/migrations"
	"github.com/dmitrijs2005/casestore/internal/storage/schema"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var runMigrations = func(ctx context.Context, db *sql.DB) error {
	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err != nil {
		return err
	}
	_, err = p.Up(ctx)
	return err
}

// Open opens the SQLite database at path. The pool is limited to a single
// connection: SQLite serializes writers anyway, and a private ":memory:"
// database exists per connection.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != MemoryPath {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

type state struct {
	mu          sync.RWMutex
	initialized bool
	tables      map[string]struct{}
}

// Store is the local durable backend. The zero value is not usable; see New.
type Store struct {
	storage.Versioning

	root *sql.DB
	db   dbx.DBTX
	inTx bool
	path string
	st   *state
	log  logging.Logger
	now  func() time.Time
}

var (
	_ storage.Storage  = (*Store)(nil)
	_ storage.Replacer = (*Store)(nil)
)

// New wraps an open database. path is the database file, used for
// filesystem capacity reporting; pass MemoryPath for in-memory databases.
// The store owns db and closes it on Destroy.
func New(db *sql.DB, path string, log logging.Logger) *Store {
	db.SetMaxOpenConns(1)
	return &Store{
		root: db,
		db:   db,
		path: path,
		st:   &state{tables: map[string]struct{}{}},
		log:  log.With("backend", "local"),
		now:  time.Now,
	}
}

func (s *Store) Initialize(ctx context.Context) error {
	if err := runMigrations(ctx, s.root); err != nil {
		return fmt.Errorf("local migrations: %w", err)
	}

	tables, err := s.listTables(ctx)
	if err != nil {
		return err
	}

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for _, t := range tables {
		s.st.tables[t] = struct{}{}
	}
	s.st.initialized = true
	s.log.Info(ctx, "local store ready", "path", s.path, "tables", len(tables))
	return nil
}

// Destroy closes the database. The store cannot be initialized again.
func (s *Store) Destroy(ctx context.Context) error {
	s.st.mu.Lock()
	wasOpen := s.st.initialized
	s.st.initialized = false
	s.st.mu.Unlock()

	if !wasOpen {
		return nil
	}
	return s.root.Close()
}

func (s *Store) HealthCheck(ctx context.Context) storage.HealthStatus {
	if !s.initialized() {
		return storage.HealthStatus{Errors: []string{common.ErrNotInitialized.Error()}}
	}
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return storage.HealthStatus{Errors: []string{err.Error()}}
	}
	return storage.HealthStatus{Healthy: true}
}

// GetStorageInfo reports the database size as used bytes and the capacity
// of the filesystem holding it.
func (s *Store) GetStorageInfo(ctx context.Context) (storage.StorageInfo, error) {
	if !s.initialized() {
		return storage.StorageInfo{}, common.ErrNotInitialized
	}
	var pages, size uint64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return storage.StorageInfo{}, fmt.Errorf("page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&size); err != nil {
		return storage.StorageInfo{}, fmt.Errorf("page_size: %w", err)
	}

	info := storage.StorageInfo{Used: pages * size}
	if s.path != MemoryPath && s.path != "" {
		info.Available, info.Quota = filesystemCapacity(s.path)
	}
	return info, nil
}

func (s *Store) initialized() bool {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	return s.st.initialized
}

// table validates the collection and makes sure its table exists.
func (s *Store) table(ctx context.Context, collection string) (string, error) {
	if !s.initialized() {
		return "", common.ErrNotInitialized
	}
	if err := storage.ValidateCollection(collection); err != nil {
		return "", err
	}
	name := schema.Table(collection)

	s.st.mu.RLock()
	_, known := s.st.tables[name]
	s.st.mu.RUnlock()
	if known {
		return name, nil
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`, name)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return "", fmt.Errorf("create table %s: %w", name, err)
	}

	// a table created inside a transaction disappears on rollback
	if !s.inTx {
		s.st.mu.Lock()
		s.st.tables[name] = struct{}{}
		s.st.mu.Unlock()
	}
	return name, nil
}

func (s *Store) listTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name NOT LIKE 'goose_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// atomic runs fn in a transaction unless the store is already bound to one.
func (s *Store) atomic(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return dbx.WithTx(ctx, s.root, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, s.bind(tx))
	})
}

func (s *Store) bind(tx dbx.DBTX) *Store {
	cp := *s
	cp.db = tx
	cp.inTx = true
	return &cp
}

// Transaction runs fn inside a single SQLite transaction; any error rolls
// back every write made through tx.
func (s *Store) Transaction(ctx context.Context, collections []string, fn func(ctx context.Context, tx storage.Storage) error) error {
	if !s.initialized() {
		return common.ErrNotInitialized
	}
	return s.atomic(ctx, func(ctx context.Context, tx *Store) error {
		return fn(ctx, tx)
	})
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func notFound(collection, id string) error {
	return fmt.Errorf("%s/%s: %w", collection, id, common.ErrNotFound)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
