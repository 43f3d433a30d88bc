// Package remote implements the shared multi-tenant backend on PostgreSQL
// (pgx). Every row carries the tenant of the signed-in user; all statements
// are scoped to that tenant, which is resolved through an auth.Machine.
// Collection reads are served from a short-lived per-tenant cache.
package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/casestore/internal/auth"
	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/dbx"
	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/remote/migrations"
	"github.com/dmitrijs2005/casestore/internal/storage/schema"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

var runMigrations = func(ctx context.Context, db *sql.DB) error {
	p, err := goose.NewProvider(goose.DialectPostgres, db, migrations.Migrations)
	if err != nil {
		return err
	}
	_, err = p.Up(ctx)
	return err
}

// Open opens a pgx connection pool for dsn.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// CacheObserver is told about collection cache hits and misses.
type CacheObserver interface {
	CacheHit(collection string)
	CacheMiss(collection string)
}

// Options tune the remote backend.
type Options struct {
	CacheTTL time.Duration
	Auth     auth.Options
	Observer CacheObserver
}

func DefaultOptions() Options {
	return Options{CacheTTL: time.Minute, Auth: auth.DefaultOptions()}
}

// Store is the remote backend. The zero value is not usable; see New.
type Store struct {
	storage.Versioning

	db      *sql.DB
	q       dbx.DBTX
	machine *auth.Machine
	cache   *readCache
	log     logging.Logger
	now     func() time.Time

	mu          sync.Mutex
	migrated    bool
	initialized atomic.Bool
	stopWatch   context.CancelFunc
	watchDone   chan struct{}
}

var _ storage.Storage = (*Store)(nil)

// New wraps an open database. session supplies the signed-in user; the
// tenant is looked up in the profiles table. The store owns db and closes
// it on Destroy.
func New(db *sql.DB, session auth.SessionProvider, opts Options, log logging.Logger) *Store {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultOptions().CacheTTL
	}
	if opts.Auth.Attempts <= 0 {
		opts.Auth = auth.DefaultOptions()
	}
	log = log.With("backend", "remote")

	s := &Store{
		db:    db,
		q:     db,
		cache: newReadCache(opts.CacheTTL, opts.Observer),
		log:   log,
		now:   time.Now,
	}
	s.machine = auth.NewMachine(session, s.lookupTenant, opts.Auth, log)
	s.machine.OnChange(func(from, to auth.State) {
		if to != auth.Ready {
			s.cache.flush()
		}
	})
	return s
}

// Auth exposes the session state machine.
func (s *Store) Auth() *auth.Machine {
	return s.machine
}

// TenantID returns the tenant of the signed-in user.
func (s *Store) TenantID(ctx context.Context) (string, error) {
	return s.machine.TenantID(ctx)
}

// Initialize applies migrations, starts following the session and signs in.
// It may be called again after a failed sign-in.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.migrated {
		if err := runMigrations(ctx, s.db); err != nil {
			return mapError("remote migrations", err)
		}
		s.migrated = true
	}

	if s.stopWatch == nil {
		watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.stopWatch = cancel
		s.watchDone = make(chan struct{})
		go func() {
			defer close(s.watchDone)
			s.machine.Watch(watchCtx)
		}()
	}
	s.initialized.Store(true)

	if s.machine.State() == auth.Ready {
		return nil
	}
	id, err := s.machine.SignIn(ctx)
	if err != nil {
		return err
	}
	s.log.Info(ctx, "remote store ready", "tenant", id.TenantID)
	return nil
}

// Destroy stops following the session and closes the database.
func (s *Store) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopWatch != nil {
		s.stopWatch()
		<-s.watchDone
		s.stopWatch = nil
	}
	s.cache.flush()
	if !s.initialized.Swap(false) && !s.migrated {
		return nil
	}
	s.migrated = false
	return s.db.Close()
}

func (s *Store) HealthCheck(ctx context.Context) storage.HealthStatus {
	if !s.isInitialized() {
		return storage.HealthStatus{Errors: []string{common.ErrNotInitialized.Error()}}
	}
	var errs []string
	var one int
	if err := s.q.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		errs = append(errs, err.Error())
	}
	if st := s.machine.State(); st != auth.Ready {
		errs = append(errs, fmt.Sprintf("session %s", st))
	}
	return storage.HealthStatus{Healthy: len(errs) == 0, Errors: errs}
}

// GetStorageInfo reports the database size. Quota and availability are not
// known to the client.
func (s *Store) GetStorageInfo(ctx context.Context) (storage.StorageInfo, error) {
	if _, err := s.tenant(); err != nil {
		return storage.StorageInfo{}, err
	}
	var used int64
	if err := s.q.QueryRowContext(ctx, `SELECT pg_database_size(current_database())`).Scan(&used); err != nil {
		return storage.StorageInfo{}, mapError("database size", err)
	}
	return storage.StorageInfo{Used: uint64(used)}, nil
}

func (s *Store) lookupTenant(ctx context.Context, userID string) (string, error) {
	var tenant string
	err := s.q.QueryRowContext(ctx, `SELECT tenant_id FROM profiles WHERE id = $1`, userID).Scan(&tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no profile for user %s", userID)
	}
	if err != nil {
		return "", mapError("lookup tenant", err)
	}
	return tenant, nil
}

func (s *Store) isInitialized() bool {
	return s.initialized.Load()
}

// tenant returns the current tenant, or the reason no statement may run.
func (s *Store) tenant() (string, error) {
	if !s.isInitialized() {
		return "", common.ErrNotInitialized
	}
	id, err := s.machine.Identity()
	if err != nil {
		return "", err
	}
	return id.TenantID, nil
}

// scope resolves the tenant and the schema of collection.
func (s *Store) scope(collection string) (string, *schema.Collection, error) {
	tenant, err := s.tenant()
	if err != nil {
		return "", nil, err
	}
	if err := storage.ValidateCollection(collection); err != nil {
		return "", nil, err
	}
	c, ok := schema.Get(collection)
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown collection %q", common.ErrValidation, collection)
	}
	return tenant, c, nil
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func notFound(collection, id string) error {
	return fmt.Errorf("%s/%s: %w", collection, id, common.ErrNotFound)
}
