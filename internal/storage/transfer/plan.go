// Package transfer plans cross-entity imports into the shared store:
// foreign identifiers are migrated to fresh ones, references are remapped
// or resolved from human-readable names, records whose required references
// cannot be resolved are dropped, and collections are ordered so that
// referenced records are written first.
package transfer

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/schema"
)

// Resolver finds records that already exist in the target store.
type Resolver interface {
	// Resolve returns the id of a record of collection whose field equals
	// value.
	Resolve(ctx context.Context, collection, field string, value any) (id string, ok bool, err error)
	// Exists reports whether collection holds a record with id.
	Exists(ctx context.Context, collection, id string) (bool, error)
}

// Plan is an ordered, reference-consistent import.
type Plan struct {
	Order   []string
	Records map[string][]storage.Record
	Report  storage.ImportReport

	ids     map[string]map[string]string
	present map[string]map[string]bool
	dropped map[string]map[string]bool
}

// MappingKey is the IDMapping key of an old id in collection.
func MappingKey(collection, oldID string) string {
	return collection + "/" + oldID
}

// Build plans the import of snap. res may be nil when only references
// inside snap should be resolved. A reference to a record that is neither in
// snap nor known to res is cleared, which drops the record when the
// reference is required.
func Build(ctx context.Context, snap storage.Snapshot, res Resolver) (*Plan, error) {
	p := &Plan{
		Records: map[string][]storage.Record{},
		Report:  storage.NewImportReport(),
		ids:     map[string]map[string]string{},
		present: map[string]map[string]bool{},
		dropped: map[string]map[string]bool{},
	}

	names := make([]string, 0, len(snap))
	for name, recs := range snap {
		if _, ok := schema.Get(name); !ok {
			p.Report.Dropped[name] += len(recs)
			continue
		}
		names = append(names, name)
	}
	p.Order = schema.DependencyOrder(names)

	// canonical names and fresh ids first, so that references in any
	// collection can be remapped
	canon := map[string][]storage.Record{}
	for _, name := range p.Order {
		c, _ := schema.Get(name)
		p.ids[name] = map[string]string{}
		p.present[name] = map[string]bool{}
		p.dropped[name] = map[string]bool{}
		for _, r := range snap[name] {
			if r == nil {
				p.Report.Dropped[name]++
				continue
			}
			rec := c.Canonical(r)
			old := rec.ID()
			if !storage.IsID(old) {
				fresh := storage.NewID()
				if old != "" {
					p.ids[name][old] = fresh
					p.Report.IDMapping[MappingKey(name, old)] = fresh
				}
				rec[storage.FieldID] = fresh
			}
			p.present[name][rec.ID()] = true
			canon[name] = append(canon[name], rec)
		}
	}

	for _, name := range p.Order {
		c, _ := schema.Get(name)
		for _, rec := range canon[name] {
			keep, err := p.link(ctx, c, rec, canon, res)
			if err != nil {
				return nil, err
			}
			if !keep {
				p.dropped[name][rec.ID()] = true
				p.Report.Dropped[name]++
				continue
			}
			p.Records[name] = append(p.Records[name], rec)
		}
	}

	return p, nil
}

// link remaps and resolves the references of rec in place. It reports false
// when a required reference cannot be satisfied.
func (p *Plan) link(ctx context.Context, c *schema.Collection, rec storage.Record, canon map[string][]storage.Record, res Resolver) (bool, error) {
	for _, fk := range c.ForeignKeys {
		v, present := rec[fk.Field]
		ref, _ := v.(string)
		if present && ref != "" {
			if mapped, ok := p.ids[fk.Target][ref]; ok {
				ref = mapped
			}
			if !storage.IsID(ref) || p.dropped[fk.Target][ref] {
				ref = ""
			}
			if ref != "" && !p.present[fk.Target][ref] {
				ok, err := exists(ctx, res, fk.Target, ref)
				if err != nil {
					return false, err
				}
				if !ok {
					ref = ""
				}
			}
			rec[fk.Field] = nilIfEmpty(ref)
		}
	}

	for _, lk := range c.Lookups {
		name, present := rec[lk.Field]
		if !present || name == nil || name == "" {
			continue
		}
		if cur, _ := rec[lk.Sets].(string); cur != "" {
			continue
		}
		id, err := p.resolve(ctx, lk, name, canon, res)
		if err != nil {
			return false, err
		}
		rec[lk.Sets] = nilIfEmpty(id)
	}

	for _, fk := range c.ForeignKeys {
		ref, _ := rec[fk.Field].(string)
		if fk.Required && ref == "" {
			return false, nil
		}
	}
	return true, nil
}

func (p *Plan) resolve(ctx context.Context, lk schema.Lookup, value any, canon map[string][]storage.Record, res Resolver) (string, error) {
	for _, cand := range canon[lk.Target] {
		if p.dropped[lk.Target][cand.ID()] {
			continue
		}
		if storage.ValuesEqual(cand[lk.TargetField], value) {
			return cand.ID(), nil
		}
	}
	if res == nil {
		return "", nil
	}
	id, ok, err := res.Resolve(ctx, lk.Target, lk.TargetField, value)
	if err != nil {
		return "", fmt.Errorf("resolve %s.%s=%v: %w", lk.Target, lk.TargetField, value, err)
	}
	if !ok {
		return "", nil
	}
	return id, nil
}

// exists checks a reference to a record outside the snapshot. Without a
// resolver there is nothing to check against, so the reference is dangling.
func exists(ctx context.Context, res Resolver, collection, id string) (bool, error) {
	if res == nil {
		return false, nil
	}
	ok, err := res.Exists(ctx, collection, id)
	if err != nil {
		return false, fmt.Errorf("check %s/%s: %w", collection, id, err)
	}
	return ok, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
