// Package audit records who changed what. Logging is best-effort: a failed
// audit write is logged and swallowed, never surfaced to the mutation it
// describes.
package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/go-playground/validator/v10"
)

// Collection holds audit entries.
const Collection = "audit_logs"

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// FieldChange is one entry of a diff.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

type Details struct {
	Before  storage.Record         `json:"before,omitempty"`
	After   storage.Record         `json:"after,omitempty"`
	Diff    map[string]FieldChange `json:"diff,omitempty"`
	Version *int64                 `json:"version,omitempty"`
}

// Entry is one audit log record. EntityID is nil when the audited id was
// not identifier-shaped.
type Entry struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id" validate:"required"`
	EntityType string    `json:"entity_type" validate:"required"`
	EntityID   *string   `json:"entity_id"`
	ActionType Action    `json:"action_type" validate:"required,oneof=create update delete"`
	ActorID    string    `json:"actor_id,omitempty"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	Details    Details   `json:"details"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (e Entry) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: audit entry: %v", common.ErrValidation, err)
	}
	return nil
}

// skipDiff lists bookkeeping fields left out of diffs.
var skipDiff = map[string]bool{
	storage.FieldUpdatedAt:      true,
	storage.FieldLastModifiedAt: true,
}

// Diff compares before and after field by field. Fields missing on one side
// show up with a nil From or To.
func Diff(before, after storage.Record) map[string]FieldChange {
	keys := map[string]struct{}{}
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		if !skipDiff[k] {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	out := map[string]FieldChange{}
	for _, k := range names {
		from, to := before[k], after[k]
		if storage.ValuesEqual(from, to) {
			continue
		}
		out[k] = FieldChange{From: from, To: to}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (e Entry) toRecord() (storage.Record, error) {
	details, err := toMap(e.Details)
	if err != nil {
		return nil, err
	}
	rec := storage.Record{
		storage.FieldID: e.ID,
		"entity_type":   e.EntityType,
		"action_type":   string(e.ActionType),
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"details":       details,
	}
	if e.EntityID != nil {
		rec["entity_id"] = *e.EntityID
	}
	if e.ActorID != "" {
		rec["actor_id"] = e.ActorID
	}
	return rec, nil
}

func fromRecord(tenantID string, rec storage.Record) (Entry, error) {
	e := Entry{
		ID:         rec.ID(),
		TenantID:   tenantID,
		EntityType: rec.String("entity_type"),
		ActionType: Action(rec.String("action_type")),
		ActorID:    rec.String("actor_id"),
		Timestamp:  rec.Time("timestamp"),
	}
	if id := rec.String("entity_id"); id != "" {
		e.EntityID = &id
	}
	if d, ok := rec["details"]; ok && d != nil {
		b, err := json.Marshal(d)
		if err != nil {
			return e, err
		}
		if err := json.Unmarshal(b, &e.Details); err != nil {
			return e, fmt.Errorf("audit %s: details: %w", e.ID, err)
		}
	}
	return e, nil
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
