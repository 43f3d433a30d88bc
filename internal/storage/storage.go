// Package storage defines the data-access contract shared by every casestore
// backend, together with the record, version and snapshot helpers the
// backends use to honor it.
//
// A backend is created uninitialized; Initialize must complete before any
// data operation, otherwise the operation fails with common.ErrNotInitialized.
// All operations take a context and are safe for concurrent use.
package storage

import "context"

// Storage is the uniform contract implemented by the volatile, local durable,
// remote multi-tenant and hybrid backends.
type Storage interface {
	Initialize(ctx context.Context) error
	Destroy(ctx context.Context) error
	HealthCheck(ctx context.Context) HealthStatus
	GetStorageInfo(ctx context.Context) (StorageInfo, error)

	// Create assigns an id when missing and stamps created_at/updated_at
	// when missing, then stores the record.
	Create(ctx context.Context, collection string, rec Record) (Record, error)
	// Update merges partial over the stored record, refreshes updated_at and
	// returns the merged record. common.ErrNotFound when id is absent.
	Update(ctx context.Context, collection, id string, partial Record) (Record, error)
	// Delete removes the record. common.ErrNotFound when id is absent.
	Delete(ctx context.Context, collection, id string) error
	GetByID(ctx context.Context, collection, id string) (Record, error)
	GetAll(ctx context.Context, collection string) ([]Record, error)
	// Query filters the collection with an arbitrary predicate.
	Query(ctx context.Context, collection string, pred Predicate) ([]Record, error)
	QueryByField(ctx context.Context, collection, field string, value any) ([]Record, error)

	BulkCreate(ctx context.Context, collection string, recs []Record) ([]Record, error)
	// BulkUpdate applies partial updates; every item must carry "id".
	BulkUpdate(ctx context.Context, collection string, recs []Record) ([]Record, error)
	BulkDelete(ctx context.Context, collection string, ids []string) error

	// Transaction runs fn against a Storage scoped to the transaction.
	// Atomicity depends on the backend.
	Transaction(ctx context.Context, collections []string, fn func(ctx context.Context, tx Storage) error) error

	GetVersion(ctx context.Context, collection, id string) (int64, error)
	CompareVersions(v1, v2 int64) Comparison
	BumpVersion(rec Record, actorID string) Record

	Clear(ctx context.Context, collection string) error
	ClearAll(ctx context.Context) error
	ExportAll(ctx context.Context) (Snapshot, error)
	ImportAll(ctx context.Context, snap Snapshot) (ImportReport, error)
}

// Replacer is implemented by backends that can store a record verbatim,
// keeping its id and timestamps. Merging remote state into a local store
// needs it.
type Replacer interface {
	Replace(ctx context.Context, collection string, rec Record) (Record, error)
}

// Predicate selects records in Query.
type Predicate func(Record) bool

// HealthStatus is the result of a health probe.
type HealthStatus struct {
	Healthy bool     `json:"healthy"`
	Errors  []string `json:"errors,omitempty"`
}

// StorageInfo reports capacity in bytes. Unknown values are zero.
type StorageInfo struct {
	Used      uint64 `json:"used"`
	Available uint64 `json:"available"`
	Quota     uint64 `json:"quota"`
}

// Snapshot maps collection names to their records.
type Snapshot map[string][]Record

// ImportReport summarizes an ImportAll call.
type ImportReport struct {
	Written   map[string]int    `json:"written"`
	Dropped   map[string]int    `json:"dropped"`
	IDMapping map[string]string `json:"id_mapping,omitempty"`
}

// NewImportReport returns a report with initialized maps.
func NewImportReport() ImportReport {
	return ImportReport{
		Written:   map[string]int{},
		Dropped:   map[string]int{},
		IDMapping: map[string]string{},
	}
}

// ChangeOp is the kind of a remote change notification.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// Change is a single row change reported by a change feed.
type Change struct {
	Collection string   `json:"collection"`
	ID         string   `json:"id"`
	Op         ChangeOp `json:"op"`
}
