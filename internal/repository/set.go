package repository

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/casestore/internal/audit"
	"github.com/dmitrijs2005/casestore/internal/storage"
)

// Set bundles the repositories of every case-management entity over one
// store.
type Set struct {
	Clients               *Repository
	Cases                 *Repository
	Hearings              *Repository
	Tasks                 *Repository
	Notes                 *Repository
	Documents             *Repository
	Folders               *Repository
	Contacts              *Repository
	TimeEntries           *Repository
	TaskBundles           TaskBundleRepository
	NotificationTemplates NotificationTemplateRepository

	store storage.Storage
}

func NewSet(store storage.Storage, auditor Auditor, actor audit.ActorFunc) *Set {
	repo := func(collection string) *Repository {
		return New(Define(collection), store, auditor, actor)
	}
	tasks := repo("tasks")
	return &Set{
		Clients:               repo("clients"),
		Cases:                 repo("cases"),
		Hearings:              repo("hearings"),
		Tasks:                 tasks,
		Notes:                 repo("notes"),
		Documents:             repo("documents"),
		Folders:               repo("folders"),
		Contacts:              repo("contacts"),
		TimeEntries:           repo("time_entries"),
		TaskBundles:           NewTaskBundles(repo("task_bundles"), tasks),
		NotificationTemplates: NewNotificationTemplates(repo("notification_templates")),
		store:                 store,
	}
}

// Export snapshots every collection of the underlying store.
func (s *Set) Export(ctx context.Context) (storage.Snapshot, error) {
	snap, err := s.store.ExportAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return snap, nil
}

// Import loads a snapshot into the underlying store.
func (s *Set) Import(ctx context.Context, snap storage.Snapshot) (storage.ImportReport, error) {
	report, err := s.store.ImportAll(ctx, snap)
	if err != nil {
		return report, fmt.Errorf("import: %w", err)
	}
	return report, nil
}
