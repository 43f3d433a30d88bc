// Package storectx is the composition root of the storage layer. It turns a
// Config into a ready backend, wraps it with auditing and metrics and hands
// out the repositories built on it. Contexts are independent values; any
// number of them can be open at once.
package storectx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/casestore/internal/audit"
	"github.com/dmitrijs2005/casestore/internal/auth"
	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/config"
	"github.com/dmitrijs2005/casestore/internal/filex"
	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/metrics"
	"github.com/dmitrijs2005/casestore/internal/repository"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/hybrid"
	"github.com/dmitrijs2005/casestore/internal/storage/local"
	"github.com/dmitrijs2005/casestore/internal/storage/memory"
	"github.com/dmitrijs2005/casestore/internal/storage/remote"
	"github.com/dmitrijs2005/casestore/internal/syncqueue"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// State is the lifecycle stage of a Context.
type State string

const (
	StateOpen   State = "open"
	StateReady  State = "ready"
	StateClosed State = "closed"
)

// ErrClosed is returned by accessors of a closed Context.
var ErrClosed = errors.New("storage context closed")

// Deps are the optional collaborators of Open.
type Deps struct {
	Logger logging.Logger
	// Registerer receives the storage metrics; nil disables them.
	Registerer prometheus.Registerer
	// Session overrides the token session built from the config.
	Session auth.SessionProvider
	// Actor names the user recorded in audit entries of single-user
	// backends. Remote and hybrid backends use the signed-in user.
	Actor string
}

// Context owns one configured backend and everything layered on it.
type Context struct {
	cfg     config.Config
	log     logging.Logger
	backend storage.Storage
	audited *audit.Store
	auditor *audit.Logger
	repos   *repository.Set
	metrics *metrics.StorageMetrics
	remote  *remote.Store
	hybrid  *hybrid.Store

	mu    sync.Mutex
	state State
}

// Open builds the backend named by cfg.Backend and initializes it. On
// failure everything built so far is released.
func Open(ctx context.Context, cfg *config.Config, deps Deps) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	c := &Context{cfg: *cfg, log: deps.Logger.With("component", "storectx"), state: StateOpen}
	if deps.Registerer != nil {
		c.metrics = metrics.New(deps.Registerer)
	}

	raw, closeDB, err := c.build(deps)
	if err != nil {
		return nil, err
	}
	if err := raw.Initialize(ctx); err != nil {
		_ = raw.Destroy(ctx)
		if closeDB != nil {
			_ = closeDB()
		}
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}

	c.backend = raw
	if c.metrics != nil {
		c.backend = c.metrics.Instrument(cfg.Backend, raw)
	}

	tenants, actor := c.identity(deps.Actor)
	c.auditor = audit.NewLogger(c.backend, tenants, deps.Logger)
	c.audited = audit.Wrap(c.backend, c.auditor, actor)
	c.repos = repository.NewSet(c.backend, c.auditor, actor)

	c.state = StateReady
	c.log.Info(ctx, "storage ready", "backend", cfg.Backend)
	return c, nil
}

// build constructs the uninitialized backend. closeDB releases database
// handles that the backend only closes once initialized.
func (c *Context) build(deps Deps) (storage.Storage, func() error, error) {
	switch c.cfg.Backend {
	case config.BackendVolatile:
		return memory.New(), nil, nil

	case config.BackendLocal:
		ls, db, err := c.openLocal()
		if err != nil {
			return nil, nil, err
		}
		return ls, db.Close, nil

	case config.BackendRemote:
		rs, db, err := c.openRemote(deps)
		if err != nil {
			return nil, nil, err
		}
		c.remote = rs
		return rs, db.Close, nil

	case config.BackendHybrid:
		return c.openHybrid(deps)
	}
	return nil, nil, fmt.Errorf("%w: unknown backend %q", common.ErrValidation, c.cfg.Backend)
}

func (c *Context) openLocal() (*local.Store, *sql.DB, error) {
	if c.cfg.SQLitePath != local.MemoryPath {
		if err := filex.EnsureParentDir(c.cfg.SQLitePath); err != nil {
			return nil, nil, err
		}
	}
	db, err := local.Open(c.cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return local.New(db, c.cfg.SQLitePath, c.log), db, nil
}

func (c *Context) openRemote(deps Deps) (*remote.Store, *sql.DB, error) {
	db, err := remote.Open(c.cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	session := deps.Session
	if session == nil {
		ts := auth.NewTokenSession([]byte(c.cfg.SecretKey))
		if c.cfg.AccessToken != "" {
			ts.SignIn(c.cfg.AccessToken)
		}
		session = ts
	}
	opts := remote.Options{
		CacheTTL: c.cfg.CacheTTL,
		Auth:     auth.Options{Attempts: c.cfg.TenantAttempts, Interval: c.cfg.TenantBackoff},
	}
	if c.metrics != nil {
		opts.Observer = c.metrics
	}
	return remote.New(db, session, opts, c.log), db, nil
}

func (c *Context) openHybrid(deps Deps) (storage.Storage, func() error, error) {
	ls, ldb, err := c.openLocal()
	if err != nil {
		return nil, nil, err
	}
	rs, rdb, err := c.openRemote(deps)
	if err != nil {
		_ = ldb.Close()
		return nil, nil, err
	}
	closeDBs := func() error { return errors.Join(ldb.Close(), rdb.Close()) }

	if c.cfg.QueueDir != "" {
		if _, err := filex.EnsureDir(c.cfg.QueueDir); err != nil {
			_ = closeDBs()
			return nil, nil, err
		}
	}
	queue, err := syncqueue.Open(syncqueue.Options{
		Dir:      c.cfg.QueueDir,
		InMemory: c.cfg.QueueDir == "",
		Logger:   c.log,
	})
	if err != nil {
		_ = closeDBs()
		return nil, nil, err
	}

	popts := syncqueue.DefaultProcessorOptions()
	popts.Rate = rate.Limit(c.cfg.DispatchRate)
	if c.metrics != nil {
		popts.Observer = c.metrics
	}
	opts := hybrid.Options{Processor: popts}
	if c.cfg.Realtime {
		opts.Changes = remote.NewChangeListener(c.cfg.DatabaseDSN, rs, c.log)
	}
	hcfg := hybrid.Config{
		SyncMode:        hybrid.SyncMode(c.cfg.SyncMode),
		BatchInterval:   c.cfg.BatchInterval,
		RealtimeEnabled: c.cfg.Realtime,
	}
	hs, err := hybrid.New(ls, rs, queue, hcfg, opts, c.log)
	if err != nil {
		_ = queue.Close()
		_ = closeDBs()
		return nil, nil, err
	}
	c.remote = rs
	c.hybrid = hs
	return hs, closeDBs, nil
}

// identity picks where audit entries get their tenant and actor.
func (c *Context) identity(actor string) (audit.TenantSource, audit.ActorFunc) {
	if c.remote == nil {
		return audit.StaticTenant(common.DefaultTenantID), audit.StaticActor(actor)
	}
	machine := c.remote.Auth()
	return c.remote, func(context.Context) string {
		id, err := machine.Identity()
		if err != nil {
			return actor
		}
		return id.UserID
	}
}

// State reports the lifecycle stage.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) ready() error {
	if c.State() != StateReady {
		return ErrClosed
	}
	return nil
}

// Storage returns the audited backend. Every mutation made through it is
// recorded in the audit log.
func (c *Context) Storage() (storage.Storage, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.audited, nil
}

// Backend returns the backend without the audit decorator.
func (c *Context) Backend() (storage.Storage, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.backend, nil
}

// Repositories returns the repository set. Repositories log audit entries
// themselves and write to the undecorated backend.
func (c *Context) Repositories() (*repository.Set, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.repos, nil
}

// Audit returns the audit logger.
func (c *Context) Audit() (*audit.Logger, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.auditor, nil
}

// Hybrid returns the hybrid backend when that kind is configured.
func (c *Context) Hybrid() (*hybrid.Store, bool) {
	return c.hybrid, c.hybrid != nil
}

// Auth returns the session state machine of remote and hybrid backends.
func (c *Context) Auth() (*auth.Machine, bool) {
	if c.remote == nil {
		return nil, false
	}
	return c.remote.Auth(), true
}

// Config returns a copy of the configuration the context was opened with.
func (c *Context) Config() config.Config {
	return c.cfg
}

// HealthCheck probes the backend. A closed context is unhealthy.
func (c *Context) HealthCheck(ctx context.Context) storage.HealthStatus {
	if err := c.ready(); err != nil {
		return storage.HealthStatus{Errors: []string{err.Error()}}
	}
	return c.backend.HealthCheck(ctx)
}

// Close destroys the backend. Closing twice is a no-op.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	err := c.backend.Destroy(ctx)
	c.log.Info(ctx, "storage closed", "backend", c.cfg.Backend)
	return err
}
