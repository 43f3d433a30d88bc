package storage

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/timex"
	"github.com/google/uuid"
)

// Well-known record fields.
const (
	FieldID             = "id"
	FieldCreatedAt      = "created_at"
	FieldUpdatedAt      = "updated_at"
	FieldVersion        = "version"
	FieldLastModifiedAt = "last_modified_at"
	FieldLastModifiedBy = "last_modified_by"
	FieldSyncStatus     = "sync_status"
)

// Sync statuses carried by versioned records.
const (
	SyncSynced   = "synced"
	SyncPending  = "pending"
	SyncConflict = "conflict"
)

// Record is an opaque document addressed by its "id" field.
type Record map[string]any

// ID returns the record id or "" when absent or not a string.
func (r Record) ID() string {
	return r.String(FieldID)
}

// String returns field as a string, "" when absent or of another type.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Time parses a timestamp field; the zero time when absent or malformed.
func (r Record) Time(field string) time.Time {
	switch v := r[field].(type) {
	case time.Time:
		return v
	case string:
		t, err := timex.Parse(v)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	return time.Time{}
}

// Clone deep-copies maps and slices so callers never share state with a store.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.Clone()
	case map[string]any:
		return map[string]any(Record(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}

// CloneAll clones every record of recs.
func CloneAll(recs []Record) []Record {
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Clone())
	}
	return out
}

// Merge returns base overlaid with partial. The id of base is kept.
func Merge(base, partial Record) Record {
	out := base.Clone()
	for k, v := range partial {
		if k == FieldID {
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Stamp prepares a record for insertion: assigns an id and the creation
// timestamps when they are missing.
func Stamp(rec Record, now time.Time) Record {
	out := rec.Clone()
	if out == nil {
		out = Record{}
	}
	if out.ID() == "" {
		out[FieldID] = NewID()
	}
	if out.String(FieldCreatedAt) == "" {
		out[FieldCreatedAt] = timex.UTC(now)
	}
	if out.String(FieldUpdatedAt) == "" {
		out[FieldUpdatedAt] = out[FieldCreatedAt]
	}
	return out
}

// Touch sets updated_at on rec.
func Touch(rec Record, now time.Time) Record {
	rec[FieldUpdatedAt] = timex.UTC(now)
	return rec
}

// NewID returns a fresh identifier.
func NewID() string {
	return uuid.NewString()
}

// IsID reports whether s is a well-formed identifier (UUID).
func IsID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

var collectionName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateCollection rejects names that cannot be used as table identifiers.
func ValidateCollection(name string) error {
	if !collectionName.MatchString(name) {
		return fmt.Errorf("%w: invalid collection name %q", common.ErrValidation, name)
	}
	return nil
}

// SortByCreated orders records by created_at, then id. Timestamps compare
// as instants: RFC 3339 strings with trimmed fractions or other offsets do
// not sort lexically.
func SortByCreated(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].Time(FieldCreatedAt), recs[j].Time(FieldCreatedAt)
		if !a.Equal(b) {
			return a.Before(b)
		}
		return recs[i].ID() < recs[j].ID()
	})
}

// FieldEquals builds a predicate matching records whose field equals value.
// Numbers compare by value regardless of their Go type.
func FieldEquals(field string, value any) Predicate {
	return func(r Record) bool {
		got, ok := r[field]
		if !ok {
			return value == nil
		}
		return ValuesEqual(got, value)
	}
}

// ValuesEqual compares two record values, treating numeric kinds as equal
// when they hold the same number.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Filter returns the records matching pred.
func Filter(recs []Record, pred Predicate) []Record {
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if pred == nil || pred(r) {
			out = append(out, r)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
