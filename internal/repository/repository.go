// Package repository provides per-entity access on top of any storage
// backend. Every mutation bumps the record version and is written to the
// audit log.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/casestore/internal/audit"
	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/schema"
)

// Entity is the access surface shared by every repository.
type Entity interface {
	Create(ctx context.Context, rec storage.Record) (storage.Record, error)
	Update(ctx context.Context, id string, partial storage.Record) (storage.Record, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (storage.Record, error)
	List(ctx context.Context) ([]storage.Record, error)
	FindBy(ctx context.Context, field string, value any) ([]storage.Record, error)
}

// Auditor records mutations. *audit.Logger implements it.
type Auditor interface {
	Log(ctx context.Context, entityType, entityID string, action audit.Action, actorID string, before, after storage.Record) audit.Entry
}

// Definition names the collection a repository serves and the references
// that block deleting its records.
type Definition struct {
	Collection string
	Dependents []schema.Dependency
}

// Define builds the definition of collection from the schema registry,
// self references included.
func Define(collection string) Definition {
	deps := schema.Dependents(collection)
	if c, ok := schema.Get(collection); ok {
		for _, fk := range c.ForeignKeys {
			if fk.Target == collection {
				deps = append(deps, schema.Dependency{Collection: collection, Field: fk.Field})
			}
		}
	}
	return Definition{Collection: collection, Dependents: deps}
}

type Repository struct {
	def   Definition
	store storage.Storage
	audit Auditor
	actor audit.ActorFunc
}

var _ Entity = (*Repository)(nil)

func New(def Definition, store storage.Storage, auditor Auditor, actor audit.ActorFunc) *Repository {
	if actor == nil {
		actor = audit.StaticActor("")
	}
	return &Repository{def: def, store: store, audit: auditor, actor: actor}
}

func (r *Repository) Collection() string {
	return r.def.Collection
}

func (r *Repository) Create(ctx context.Context, rec storage.Record) (storage.Record, error) {
	actor := r.actor(ctx)
	out, err := r.store.Create(ctx, r.def.Collection, storage.BumpVersion(rec, actor))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", r.def.Collection, err)
	}
	r.audit.Log(ctx, r.def.Collection, out.ID(), audit.ActionCreate, actor, nil, out)
	return out, nil
}

// Update merges partial into the record and advances its version.
func (r *Repository) Update(ctx context.Context, id string, partial storage.Record) (storage.Record, error) {
	before, err := r.store.GetByID(ctx, r.def.Collection, id)
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", r.def.Collection, id, err)
	}

	actor := r.actor(ctx)
	bumped := storage.BumpVersion(before, actor)
	change := partial.Clone()
	if change == nil {
		change = storage.Record{}
	}
	for _, f := range []string{storage.FieldVersion, storage.FieldLastModifiedAt, storage.FieldLastModifiedBy, storage.FieldSyncStatus} {
		change[f] = bumped[f]
	}

	out, err := r.store.Update(ctx, r.def.Collection, id, change)
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", r.def.Collection, id, err)
	}
	r.audit.Log(ctx, r.def.Collection, id, audit.ActionUpdate, actor, before, out)
	return out, nil
}

// Delete removes a record. It fails with common.ErrHasDependents while any
// record still references it.
func (r *Repository) Delete(ctx context.Context, id string) error {
	before, err := r.store.GetByID(ctx, r.def.Collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", r.def.Collection, id, err)
	}
	for _, dep := range r.def.Dependents {
		refs, err := r.store.QueryByField(ctx, dep.Collection, dep.Field, id)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("delete %s/%s: check %s: %w", r.def.Collection, id, dep.Collection, err)
		}
		if len(refs) > 0 {
			return fmt.Errorf("delete %s/%s: referenced by %d %s: %w",
				r.def.Collection, id, len(refs), dep.Collection, common.ErrHasDependents)
		}
	}
	if err := r.store.Delete(ctx, r.def.Collection, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", r.def.Collection, id, err)
	}
	r.audit.Log(ctx, r.def.Collection, id, audit.ActionDelete, r.actor(ctx), before, nil)
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (storage.Record, error) {
	return r.store.GetByID(ctx, r.def.Collection, id)
}

func (r *Repository) List(ctx context.Context) ([]storage.Record, error) {
	return r.store.GetAll(ctx, r.def.Collection)
}

func (r *Repository) FindBy(ctx context.Context, field string, value any) ([]storage.Record, error) {
	return r.store.QueryByField(ctx, r.def.Collection, field, value)
}
