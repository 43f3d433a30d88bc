package storage

import (
	"time"

	"github.com/dmitrijs2005/casestore/internal/timex"
)

// Comparison is the result of CompareVersions.
type Comparison int

const (
	Before Comparison = -1
	Equal  Comparison = 0
	After  Comparison = 1
)

func (c Comparison) String() string {
	switch c {
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "equal"
	}
}

// CompareVersions orders v1 relative to v2.
func CompareVersions(v1, v2 int64) Comparison {
	switch {
	case v1 < v2:
		return Before
	case v1 > v2:
		return After
	default:
		return Equal
	}
}

// Version reads the version of rec; 0 when absent.
func Version(rec Record) int64 {
	if f, ok := toFloat(rec[FieldVersion]); ok {
		return int64(f)
	}
	return 0
}

// BumpVersion returns a copy of rec with the version advanced by one, the
// modification stamp set to now and actorID, and sync_status pending.
func BumpVersion(rec Record, actorID string) Record {
	return bumpAt(rec, actorID, time.Now())
}

func bumpAt(rec Record, actorID string, now time.Time) Record {
	out := rec.Clone()
	if out == nil {
		out = Record{}
	}
	out[FieldVersion] = Version(rec) + 1
	out[FieldLastModifiedAt] = timex.UTC(now)
	out[FieldLastModifiedBy] = actorID
	out[FieldSyncStatus] = SyncPending
	return out
}

// Versioning implements the pure version operations of Storage. Backends
// embed it.
type Versioning struct{}

func (Versioning) CompareVersions(v1, v2 int64) Comparison { return CompareVersions(v1, v2) }

func (Versioning) BumpVersion(rec Record, actorID string) Record { return BumpVersion(rec, actorID) }
