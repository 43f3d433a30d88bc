package syncqueue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dmitrijs2005/casestore/internal/logging"
)

var (
	entryPrefix = []byte("q/")
	seqKey      = []byte("meta/seq")
)

// Options configure the badger queue store.
type Options struct {
	// Dir holds the queue files. Ignored when InMemory is set.
	Dir        string
	InMemory   bool
	SyncWrites bool
	Logger     logging.Logger
}

// badgerLogger adapts logging.Logger to badger's logger.
type badgerLogger struct {
	log logging.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(context.Background(), fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}

// BadgerStore keeps entries in badger under keys ordered by priority and
// sequence.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	now func() time.Time
}

var _ Store = (*BadgerStore)(nil)

func Open(opts Options) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("queue directory is required")
	}

	var bo badger.Options
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create queue directory %s: %w", opts.Dir, err)
		}
		bo = badger.DefaultOptions(opts.Dir)
	}
	bo = bo.WithSyncWrites(opts.SyncWrites).WithNumVersionsToKeep(1)
	if opts.Logger != nil {
		bo = bo.WithLogger(badgerLogger{log: opts.Logger.With("component", "badger")})
	} else {
		bo = bo.WithLogger(nil)
	}

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	seq, err := db.GetSequence(seqKey, 64)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq, now: time.Now}, nil
}

func entryKey(e Entry) []byte {
	k := make([]byte, 0, len(entryPrefix)+1+8)
	k = append(k, entryPrefix...)
	k = append(k, e.Priority.rank())
	return binary.BigEndian.AppendUint64(k, e.Seq)
}

func (s *BadgerStore) Enqueue(ctx context.Context, e Entry) (Entry, error) {
	next, err := s.seq.Next()
	if err != nil {
		return Entry{}, fmt.Errorf("queue sequence: %w", err)
	}
	e.Seq = next + 1
	if e.Priority == "" {
		e.Priority = PriorityMedium
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = s.now().UTC()
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	if err := s.Save(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *BadgerStore) Save(ctx context.Context, e Entry) error {
	val, err := encode(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e), val)
	})
}

func (s *BadgerStore) Remove(ctx context.Context, e Entry) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(e))
	})
}

// scan visits entries in key order until fn returns false.
func (s *BadgerStore) scan(fn func(Entry) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: entryPrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var e Entry
			err := it.Item().Value(func(val []byte) error {
				var derr error
				e, derr = decode(val)
				return derr
			})
			if err != nil {
				return err
			}
			if !fn(e) {
				return nil
			}
		}
		return nil
	})
}

func (s *BadgerStore) Pending(ctx context.Context, limit int) ([]Entry, error) {
	var out []Entry
	err := s.scan(func(e Entry) bool {
		if e.Status == StatusPending {
			out = append(out, e)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

func (s *BadgerStore) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := s.scan(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out, err
}

func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.scan(func(e Entry) bool {
		switch e.Status {
		case StatusConflict:
			st.Conflicts++
		default:
			st.Pending++
		}
		if st.Oldest.IsZero() || e.EnqueuedAt.Before(st.Oldest) {
			st.Oldest = e.EnqueuedAt
		}
		return true
	})
	return st, err
}

func (s *BadgerStore) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}
