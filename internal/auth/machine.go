package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/looplab/fsm"
)

// State of the session/tenant machine.
type State string

const (
	Unauthenticated State = "unauthenticated"
	Authenticating  State = "authenticating"
	Ready           State = "ready"
	Degraded        State = "degraded"
)

const (
	eventSignIn         = "sign_in"
	eventResolved       = "resolved"
	eventResolveFailed  = "resolve_failed"
	eventTokenRefreshed = "token_refreshed"
	eventSignOut        = "sign_out"
)

// Identity is the resolved user and tenant.
type Identity struct {
	UserID   string
	TenantID string
}

// TenantLookup returns the tenant of userID.
type TenantLookup func(ctx context.Context, userID string) (string, error)

// Options bounds tenant resolution.
type Options struct {
	Attempts int
	Interval time.Duration
}

// DefaultOptions resolves the tenant with 3 attempts spaced one second apart.
func DefaultOptions() Options {
	return Options{Attempts: 3, Interval: time.Second}
}

// Machine tracks the session through
// unauthenticated → authenticating → ready | degraded.
type Machine struct {
	session SessionProvider
	lookup  TenantLookup
	opts    Options
	log     logging.Logger

	opMu     sync.Mutex
	fsm      *fsm.FSM
	mu       sync.RWMutex
	identity Identity
	watchers []func(from, to State)
}

func NewMachine(session SessionProvider, lookup TenantLookup, opts Options, log logging.Logger) *Machine {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	m := &Machine{session: session, lookup: lookup, opts: opts, log: log.With("component", "auth")}

	all := []string{string(Unauthenticated), string(Authenticating), string(Ready), string(Degraded)}
	m.fsm = fsm.NewFSM(
		string(Unauthenticated),
		fsm.Events{
			{Name: eventSignIn, Src: []string{string(Unauthenticated), string(Degraded), string(Ready)}, Dst: string(Authenticating)},
			{Name: eventResolved, Src: []string{string(Authenticating)}, Dst: string(Ready)},
			{Name: eventResolveFailed, Src: []string{string(Authenticating)}, Dst: string(Degraded)},
			{Name: eventTokenRefreshed, Src: []string{string(Ready), string(Degraded)}, Dst: string(Authenticating)},
			{Name: eventSignOut, Src: all, Dst: string(Unauthenticated)},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				m.log.Debug(ctx, "session state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
				m.notify(State(e.Src), State(e.Dst))
			},
		},
	)
	return m
}

// OnChange registers fn to be called after every state change.
func (m *Machine) OnChange(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

func (m *Machine) notify(from, to State) {
	m.mu.RLock()
	watchers := append([]func(from, to State){}, m.watchers...)
	m.mu.RUnlock()
	for _, fn := range watchers {
		fn(from, to)
	}
}

func (m *Machine) State() State {
	return State(m.fsm.Current())
}

// Identity returns the resolved identity, or common.ErrNotAuthenticated
// unless the machine is ready.
func (m *Machine) Identity() (Identity, error) {
	if m.State() != Ready {
		return Identity{}, fmt.Errorf("session %s: %w", m.State(), common.ErrNotAuthenticated)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity, nil
}

// TenantID returns the current tenant.
func (m *Machine) TenantID(ctx context.Context) (string, error) {
	id, err := m.Identity()
	if err != nil {
		return "", err
	}
	return id.TenantID, nil
}

// SignIn resolves the tenant of the current user.
func (m *Machine) SignIn(ctx context.Context) (Identity, error) {
	return m.authenticate(ctx, eventSignIn)
}

// Refresh re-resolves the tenant after a token refresh.
func (m *Machine) Refresh(ctx context.Context) (Identity, error) {
	return m.authenticate(ctx, eventTokenRefreshed)
}

func (m *Machine) authenticate(ctx context.Context, event string) (Identity, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.fire(ctx, event); err != nil {
		return Identity{}, err
	}

	id, err := m.resolve(ctx)
	if err != nil {
		m.setIdentity(Identity{})
		if ferr := m.fire(ctx, eventResolveFailed); ferr != nil {
			m.log.Error(ctx, "session transition failed", "event", eventResolveFailed, "error", ferr)
		}
		m.log.Warn(ctx, "tenant resolution failed", "error", err)
		return Identity{}, fmt.Errorf("resolve tenant: %w", asNotAuthenticated(err))
	}

	m.setIdentity(id)
	if err := m.fire(ctx, eventResolved); err != nil {
		return Identity{}, err
	}
	m.log.Info(ctx, "tenant resolved", "user", id.UserID, "tenant", id.TenantID)
	return id, nil
}

// resolve looks the tenant up with a bounded constant backoff. A missing
// user is not retried.
func (m *Machine) resolve(ctx context.Context) (Identity, error) {
	var id Identity
	attempt := 0

	op := func() error {
		attempt++
		userID, err := m.session.CurrentUser(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		tenantID, err := m.lookup(ctx, userID)
		if err != nil {
			m.log.Debug(ctx, "tenant lookup failed", "attempt", attempt, "error", err)
			return err
		}
		if tenantID == "" {
			return fmt.Errorf("user %s has no tenant", userID)
		}
		id = Identity{UserID: userID, TenantID: tenantID}
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.opts.Interval), uint64(m.opts.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// SignOut forgets the identity.
func (m *Machine) SignOut(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.setIdentity(Identity{})
	if err := m.fire(ctx, eventSignOut); err != nil {
		m.log.Error(ctx, "session transition failed", "event", eventSignOut, "error", err)
	}
}

// Watch follows session events until ctx is done.
func (m *Machine) Watch(ctx context.Context) {
	events, cancel := m.session.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case SignedIn:
				_, _ = m.SignIn(ctx)
			case TokenRefreshed:
				_, _ = m.Refresh(ctx)
			case SignedOut:
				m.SignOut(ctx)
			}
		}
	}
}

func (m *Machine) setIdentity(id Identity) {
	m.mu.Lock()
	m.identity = id
	m.mu.Unlock()
}

// fire triggers event, treating a transition into the current state as a
// no-op.
func (m *Machine) fire(ctx context.Context, event string) error {
	err := m.fsm.Event(ctx, event)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("session event %s in state %s: %w", event, m.State(), err)
}

func asNotAuthenticated(err error) error {
	if errors.Is(err, common.ErrNotAuthenticated) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrNotAuthenticated, err)
}
