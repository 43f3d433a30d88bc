package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"golang.org/x/time/rate"
)

// Outcome is the result of dispatching one entry.
type Outcome string

const (
	OutcomeSynced   Outcome = "synced"
	OutcomeConflict Outcome = "conflict"
	OutcomeRetry    Outcome = "retry"
)

// Observer is told about dispatch outcomes and the queue depth.
type Observer interface {
	Dispatched(collection string, outcome Outcome)
	QueueDepth(pending, conflicts int)
}

// ProcessorOptions tune dispatching.
type ProcessorOptions struct {
	// Rate limits dispatches per second.
	Rate  rate.Limit
	Burst int
	// Interval is how often the background loop retries pending entries
	// without being nudged.
	Interval time.Duration
	Observer Observer
}

func DefaultProcessorOptions() ProcessorOptions {
	return ProcessorOptions{Rate: 50, Burst: 10, Interval: 30 * time.Second}
}

// DrainResult counts what a drain pass did.
type DrainResult struct {
	Synced    int `json:"synced"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
}

// Processor dispatches queued entries to the target store.
type Processor struct {
	store   Store
	target  storage.Storage
	opts    ProcessorOptions
	limiter *rate.Limiter
	log     logging.Logger

	drainMu sync.Mutex
	nudge   chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

func NewProcessor(store Store, target storage.Storage, opts ProcessorOptions, log logging.Logger) *Processor {
	def := DefaultProcessorOptions()
	if opts.Rate <= 0 {
		opts.Rate = def.Rate
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	return &Processor{
		store:   store,
		target:  target,
		opts:    opts,
		limiter: rate.NewLimiter(opts.Rate, opts.Burst),
		log:     log.With("component", "sync-processor"),
		nudge:   make(chan struct{}, 1),
	}
}

// Start runs the dispatch loop in the background until Stop.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.nudge:
			case <-ticker.C:
			}
			if _, err := p.Drain(ctx); err != nil && ctx.Err() == nil {
				p.log.Debug(ctx, "drain stopped", "error", err)
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (p *Processor) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Nudge asks the background loop for a drain pass without blocking.
func (p *Processor) Nudge() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

// LastError is the most recent dispatch failure, nil after a clean pass.
func (p *Processor) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Drain dispatches every pending entry in order. A retryable failure stops
// the pass, since later entries may depend on the failed one. An entry whose
// reference is not on the target yet is left for the next pass and the pass
// goes on, since the referenced record may be queued behind it.
func (p *Processor) Drain(ctx context.Context) (DrainResult, error) {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()

	var res DrainResult
	entries, err := p.store.Pending(ctx, 0)
	if err != nil {
		return res, fmt.Errorf("read queue: %w", err)
	}

	var passErr, deferred error
	for _, e := range entries {
		if err := p.limiter.Wait(ctx); err != nil {
			passErr = err
			break
		}
		outcome, err := p.process(ctx, e)
		if p.opts.Observer != nil {
			p.opts.Observer.Dispatched(e.Collection, outcome)
		}
		switch outcome {
		case OutcomeSynced:
			res.Synced++
		case OutcomeConflict:
			res.Conflicts++
		case OutcomeRetry:
			res.Failed++
			if errors.Is(err, common.ErrMissingReference) {
				deferred = err
				continue
			}
			passErr = err
		}
		if passErr != nil {
			break
		}
	}
	if passErr == nil {
		passErr = deferred
	}

	p.mu.Lock()
	p.lastErr = passErr
	p.mu.Unlock()
	p.reportDepth(ctx)

	if res.Synced+res.Conflicts+res.Failed > 0 {
		p.log.Info(ctx, "sync pass", "synced", res.Synced, "conflicts", res.Conflicts, "failed", res.Failed)
	}
	return res, passErr
}

func (p *Processor) process(ctx context.Context, e Entry) (Outcome, error) {
	err := p.dispatch(ctx, e)
	switch {
	case err == nil:
		if rerr := p.store.Remove(ctx, e); rerr != nil {
			return OutcomeRetry, fmt.Errorf("remove dispatched entry: %w", rerr)
		}
		return OutcomeSynced, nil

	case isConflict(err):
		e.Status = StatusConflict
		e.LastError = err.Error()
		p.log.Warn(ctx, "sync conflict", "collection", e.Collection, "id", e.ID, "op", e.Operation, "error", err)
		if serr := p.store.Save(ctx, e); serr != nil {
			return OutcomeRetry, serr
		}
		return OutcomeConflict, nil

	default:
		e.Attempts++
		e.LastError = err.Error()
		if serr := p.store.Save(ctx, e); serr != nil {
			err = errors.Join(err, serr)
		}
		return OutcomeRetry, err
	}
}

func (p *Processor) dispatch(ctx context.Context, e Entry) error {
	switch e.Operation {
	case OpCreate:
		_, err := p.target.Create(ctx, e.Collection, e.Payload)
		if errors.Is(err, common.ErrConstraintViolation) {
			// already propagated by an earlier attempt
			if _, uerr := p.target.Update(ctx, e.Collection, e.ID, e.Payload); !errors.Is(uerr, common.ErrNotFound) {
				return uerr
			}
		}
		return err
	case OpUpdate:
		_, err := p.target.Update(ctx, e.Collection, e.ID, e.Payload)
		if errors.Is(err, common.ErrNotFound) {
			_, err = p.target.Create(ctx, e.Collection, e.Payload)
		}
		return err
	case OpDelete:
		err := p.target.Delete(ctx, e.Collection, e.ID)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	}
	return fmt.Errorf("%w: unknown operation %q", common.ErrValidation, e.Operation)
}

func isConflict(err error) bool {
	if errors.Is(err, common.ErrMissingReference) {
		return false
	}
	return errors.Is(err, common.ErrConstraintViolation) ||
		errors.Is(err, common.ErrValidation) ||
		errors.Is(err, common.ErrPermissionDenied)
}

func (p *Processor) reportDepth(ctx context.Context) {
	if p.opts.Observer == nil {
		return
	}
	st, err := p.store.Stats(ctx)
	if err != nil {
		return
	}
	p.opts.Observer.QueueDepth(st.Pending, st.Conflicts)
}
