// Package hybrid composes the local durable backend with the shared store.
// Every mutation commits locally and returns; it is then queued for
// asynchronous propagation according to the sync mode. Reads are always
// served locally. Remote state comes back through PullAndMerge.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/syncqueue"
	"golang.org/x/sync/errgroup"
)

// LocalStore is the local side: a full backend that can also store
// records verbatim when merging remote state.
type LocalStore interface {
	storage.Storage
	storage.Replacer
}

// ChangeSource streams change notifications of the shared store.
type ChangeSource interface {
	Listen(ctx context.Context, fn func(storage.Change)) error
}

// Options carry the collaborators of the hybrid backend.
type Options struct {
	Processor syncqueue.ProcessorOptions
	// Changes feeds realtime pulls; nil disables them regardless of the
	// config.
	Changes ChangeSource
	// RetryInterval spaces reconnects of the change feed.
	RetryInterval time.Duration
}

type pendingKey struct {
	collection string
	id         string
}

// Store is the hybrid backend.
type Store struct {
	storage.Versioning

	local  LocalStore
	remote storage.Storage
	queue  syncqueue.Store
	proc   *syncqueue.Processor
	cfg    Config
	opts   Options
	log    logging.Logger

	mu        sync.Mutex
	pending   map[pendingKey]struct{}
	remoteUp  bool
	remoteErr error
	lastErr   error
	running   bool
	closed    bool
	cancel    context.CancelFunc
	bgCtx     context.Context
	listening bool

	wg sync.WaitGroup
}

var _ storage.Storage = (*Store)(nil)

// New composes local and remote. The store owns queue and both backends
// and releases them on Destroy.
func New(local LocalStore, remote storage.Storage, queue syncqueue.Store, cfg Config, opts Options, log logging.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Second
	}
	log = log.With("backend", "hybrid", "sync_mode", string(cfg.SyncMode))
	return &Store{
		local:   local,
		remote:  remote,
		queue:   queue,
		proc:    syncqueue.NewProcessor(queue, remote, opts.Processor, log),
		cfg:     cfg,
		opts:    opts,
		log:     log,
		pending: map[pendingKey]struct{}{},
	}, nil
}

// Initialize brings up both backends in parallel. A remote failure leaves
// the store running local-only.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("hybrid store destroyed: %w", common.ErrNotInitialized)
	}
	s.mu.Unlock()

	var remoteErr error
	var g errgroup.Group
	g.Go(func() error {
		if err := s.local.Initialize(ctx); err != nil {
			return fmt.Errorf("local: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		remoteErr = s.remote.Initialize(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		s.bgCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
		if s.cfg.SyncMode == Batched {
			s.wg.Add(1)
			go s.batchLoop(s.bgCtx)
		}
	}
	s.setRemoteLocked(remoteErr)
	if remoteErr != nil {
		s.log.Warn(ctx, "remote unavailable, running local-only", "error", remoteErr)
	}
	return nil
}

// setRemoteLocked records the remote availability and starts the remote
// workers once it is up.
func (s *Store) setRemoteLocked(err error) {
	s.remoteErr = err
	s.remoteUp = err == nil
	if !s.remoteUp || s.cancel == nil {
		return
	}
	if !s.running {
		s.proc.Start(s.bgCtx)
		s.running = true
		s.proc.Nudge()
	}
	if s.cfg.RealtimeEnabled && s.opts.Changes != nil && !s.listening {
		s.listening = true
		s.wg.Add(1)
		go s.listenLoop(s.bgCtx)
	}
}

// Destroy stops the timer, the change feed and the processor, then
// releases both backends and the queue. Nothing is written to the queue or
// the shared store after it returns.
func (s *Store) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.proc.Stop()

	return errors.Join(
		s.local.Destroy(ctx),
		s.remote.Destroy(ctx),
		s.queue.Close(),
	)
}

// HealthCheck reports local health. Remote problems are listed but do not
// make the store unhealthy, since it keeps working offline.
func (s *Store) HealthCheck(ctx context.Context) storage.HealthStatus {
	h := s.local.HealthCheck(ctx)
	errs := append([]string{}, h.Errors...)

	s.mu.Lock()
	up, rerr := s.remoteUp, s.remoteErr
	s.mu.Unlock()
	if !up {
		msg := "remote: unavailable"
		if rerr != nil {
			msg = "remote: " + rerr.Error()
		}
		errs = append(errs, msg)
	} else {
		for _, e := range s.remote.HealthCheck(ctx).Errors {
			errs = append(errs, "remote: "+e)
		}
	}
	return storage.HealthStatus{Healthy: h.Healthy, Errors: errs}
}

func (s *Store) GetStorageInfo(ctx context.Context) (storage.StorageInfo, error) {
	return s.local.GetStorageInfo(ctx)
}

func (s *Store) batchLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Flush(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn(ctx, "batch flush failed", "error", err)
			}
		}
	}
}

func (s *Store) listenLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		err := s.opts.Changes.Listen(ctx, func(ch storage.Change) {
			if _, err := s.PullAndMerge(ctx, ch.Collection); err != nil {
				s.log.Warn(ctx, "realtime pull failed", "collection", ch.Collection, "error", err)
			}
		})
		if ctx.Err() != nil {
			return
		}
		s.log.Warn(ctx, "change feed interrupted", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.RetryInterval):
		}
	}
}

// track queues a committed local mutation according to the sync mode.
func (s *Store) track(ctx context.Context, collection, id string, op syncqueue.Operation, payload storage.Record, prio syncqueue.Priority) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.cfg.SyncMode != Immediate {
		s.pending[pendingKey{collection, id}] = struct{}{}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	e := syncqueue.Entry{Collection: collection, ID: id, Operation: op, Priority: prio}
	if op != syncqueue.OpDelete {
		e.Payload = payload
	}
	if _, err := s.queue.Enqueue(ctx, e); err != nil {
		s.noteError(ctx, fmt.Errorf("enqueue %s/%s: %w", collection, id, err))
		return
	}
	s.proc.Nudge()
}

func (s *Store) noteError(ctx context.Context, err error) {
	s.log.Warn(ctx, "sync queue error", "error", err)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
