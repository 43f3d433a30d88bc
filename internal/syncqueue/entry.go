// Package syncqueue holds the durable queue of local mutations awaiting
// propagation to the shared store, and the processor that drains it.
package syncqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/go-playground/validator/v10"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Priority orders dispatch; entries of equal priority go out in enqueue
// order.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() byte {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

type Status string

const (
	// StatusPending entries are dispatched by the processor.
	StatusPending Status = "pending"
	// StatusConflict entries were rejected by the shared store and wait for
	// manual resolution.
	StatusConflict Status = "conflict"
)

// Entry is one queued mutation.
type Entry struct {
	Seq        uint64         `json:"seq"`
	Collection string         `json:"collection" validate:"required"`
	ID         string         `json:"id" validate:"required"`
	Operation  Operation      `json:"operation" validate:"required,oneof=create update delete"`
	Payload    storage.Record `json:"payload,omitempty"`
	Priority   Priority       `json:"priority" validate:"required,oneof=low medium high"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	Attempts   int            `json:"attempts" validate:"gte=0"`
	LastError  string         `json:"last_error,omitempty"`
	Status     Status         `json:"status" validate:"required,oneof=pending conflict"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the entry fields.
func (e Entry) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: queue entry: %v", common.ErrValidation, err)
	}
	if e.Operation != OpDelete && e.Payload == nil {
		return fmt.Errorf("%w: queue entry: %s without payload", common.ErrValidation, e.Operation)
	}
	return nil
}

// Stats summarizes the queue.
type Stats struct {
	Pending   int       `json:"pending"`
	Conflicts int       `json:"conflicts"`
	Oldest    time.Time `json:"oldest,omitzero"`
}

// Store persists queue entries.
type Store interface {
	// Enqueue assigns Seq and defaults, then stores e.
	Enqueue(ctx context.Context, e Entry) (Entry, error)
	// Pending returns up to limit pending entries in dispatch order; limit
	// <= 0 means all.
	Pending(ctx context.Context, limit int) ([]Entry, error)
	// List returns every entry in dispatch order.
	List(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, e Entry) error
	Remove(ctx context.Context, e Entry) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
