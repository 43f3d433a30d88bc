package remote

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/schema"
	"github.com/dmitrijs2005/casestore/internal/storage/transfer"
)

var _ transfer.Resolver = (*Store)(nil)

// ExportAll returns every non-empty collection of the current tenant.
func (s *Store) ExportAll(ctx context.Context) (storage.Snapshot, error) {
	if _, err := s.tenant(); err != nil {
		return nil, err
	}
	snap := storage.Snapshot{}
	for _, name := range schema.Names() {
		recs, err := s.GetAll(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			snap[name] = recs
		}
	}
	return snap, nil
}

// ImportAll writes snap into the current tenant. Foreign ids are migrated,
// references are remapped or resolved against existing records and
// collections are written in dependency order.
func (s *Store) ImportAll(ctx context.Context, snap storage.Snapshot) (storage.ImportReport, error) {
	if _, err := s.tenant(); err != nil {
		return storage.ImportReport{}, err
	}
	plan, err := transfer.Build(ctx, snap, s)
	if err != nil {
		return storage.ImportReport{}, err
	}

	for _, name := range plan.Order {
		recs := plan.Records[name]
		if len(recs) == 0 {
			continue
		}
		written, err := s.BulkCreate(ctx, name, recs)
		if err != nil {
			return plan.Report, err
		}
		plan.Report.Written[name] += len(written)
		s.log.Info(ctx, "imported collection", "collection", name, "written", len(written), "dropped", plan.Report.Dropped[name])
	}
	return plan.Report, nil
}

// Resolve finds an existing record of the current tenant by field value.
func (s *Store) Resolve(ctx context.Context, collection, field string, value any) (string, bool, error) {
	recs, err := s.QueryByField(ctx, collection, field, value)
	if err != nil {
		return "", false, err
	}
	if len(recs) == 0 {
		return "", false, nil
	}
	return recs[0].ID(), true, nil
}

// Exists reports whether the current tenant owns a record with id.
func (s *Store) Exists(ctx context.Context, collection, id string) (bool, error) {
	_, err := s.GetByID(ctx, collection, id)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
