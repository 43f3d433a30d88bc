// Package backup archives storage snapshots, optionally sealed with a
// passphrase, and ships them to object storage.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/dmitrijs2005/casestore/internal/cryptox"
	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/google/uuid"
)

// ObjectStore is where archives are kept.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Snapshotter is the part of a backend that backups need.
type Snapshotter interface {
	ExportAll(ctx context.Context) (storage.Snapshot, error)
	ImportAll(ctx context.Context, snap storage.Snapshot) (storage.ImportReport, error)
}

// Encode serializes snap as JSON and seals it when passphrase is set.
func Encode(snap storage.Snapshot, passphrase []byte) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if len(passphrase) == 0 {
		return data, nil
	}
	return cryptox.Seal(data, passphrase)
}

// Decode reverses Encode. Sealed input needs the passphrase.
func Decode(data, passphrase []byte) (storage.Snapshot, error) {
	if cryptox.IsSealed(data) {
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("archive is sealed: %w", cryptox.ErrDecrypt)
		}
		plain, err := cryptox.Open(data, passphrase)
		if err != nil {
			return nil, err
		}
		data = plain
	}
	var snap storage.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Result describes an uploaded archive.
type Result struct {
	Key     string         `json:"key"`
	URL     string         `json:"url"`
	Size    int            `json:"size"`
	Sealed  bool           `json:"sealed"`
	Records map[string]int `json:"records"`
}

type Archiver struct {
	store     ObjectStore
	prefix    string
	urlExpiry time.Duration
	log       logging.Logger
	now       func() time.Time
}

func NewArchiver(store ObjectStore, prefix string, urlExpiry time.Duration, log logging.Logger) *Archiver {
	if urlExpiry <= 0 {
		urlExpiry = 15 * time.Minute
	}
	return &Archiver{store: store, prefix: prefix, urlExpiry: urlExpiry, log: log, now: time.Now}
}

func (a *Archiver) key(sealed bool) string {
	d := a.now().UTC()
	name := uuid.NewString() + ".json"
	if sealed {
		name += ".sealed"
	}
	return path.Join(a.prefix, fmt.Sprintf("%d/%02d/%02d", d.Year(), d.Month(), d.Day()), name)
}

// Backup exports src, uploads the archive and returns a presigned download
// link.
func (a *Archiver) Backup(ctx context.Context, src Snapshotter, passphrase []byte) (Result, error) {
	snap, err := src.ExportAll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("backup: %w", err)
	}
	body, err := Encode(snap, passphrase)
	if err != nil {
		return Result{}, err
	}

	res := Result{Size: len(body), Sealed: len(passphrase) > 0, Records: counts(snap)}
	res.Key = a.key(res.Sealed)
	if err := a.store.Put(ctx, res.Key, body); err != nil {
		return Result{}, fmt.Errorf("backup: %w", err)
	}
	res.URL, err = a.store.PresignGet(ctx, res.Key, a.urlExpiry)
	if err != nil {
		return res, fmt.Errorf("backup: %w", err)
	}
	a.log.Info(ctx, "backup uploaded", "key", res.Key, "size", res.Size, "sealed", res.Sealed)
	return res, nil
}

// Fetch downloads the raw archive at key.
func (a *Archiver) Fetch(ctx context.Context, key string) ([]byte, error) {
	body, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return body, nil
}

// Restore downloads the archive at key and imports it into dst.
func (a *Archiver) Restore(ctx context.Context, dst Snapshotter, key string, passphrase []byte) (storage.ImportReport, error) {
	body, err := a.Fetch(ctx, key)
	if err != nil {
		return storage.ImportReport{}, err
	}
	snap, err := Decode(body, passphrase)
	if err != nil {
		return storage.ImportReport{}, fmt.Errorf("restore %s: %w", key, err)
	}
	report, err := dst.ImportAll(ctx, snap)
	if err != nil {
		return report, fmt.Errorf("restore %s: %w", key, err)
	}
	a.log.Info(ctx, "backup restored", "key", key, "collections", sortedNames(report.Written))
	return report, nil
}

func counts(snap storage.Snapshot) map[string]int {
	out := make(map[string]int, len(snap))
	for name, recs := range snap {
		out[name] = len(recs)
	}
	return out
}

func sortedNames(m map[string]int) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
