package remote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/casestore/internal/auth"
	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/schema"
	"github.com/dmitrijs2005/casestore/internal/storage/transfer"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser   = "user-1"
	testTenant = "0f7d0a52-3c1e-4a55-9a0e-1d2c3b4a5f60"
	clientID   = "5b0e8f7c-2f41-4d8e-9d55-0c8b7a6e5d41"
	caseID     = "a3c1d2e4-5f60-4b7a-8c9d-0e1f2a3b4c5d"
)

var (
	testSecret = []byte("remote-test-secret")
	fixedNow   = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	nowStr     = "2025-01-02T03:04:05Z"
)

type countingObserver struct {
	mu     sync.Mutex
	hits   int
	misses int
}

func (o *countingObserver) CacheHit(string) {
	o.mu.Lock()
	o.hits++
	o.mu.Unlock()
}

func (o *countingObserver) CacheMiss(string) {
	o.mu.Lock()
	o.misses++
	o.mu.Unlock()
}

func signedInSession(t *testing.T) *auth.TokenSession {
	t.Helper()
	session := auth.NewTokenSession(testSecret)
	tok, err := auth.GenerateToken(testUser, testSecret, time.Hour)
	require.NoError(t, err)
	session.SignIn(tok)
	return session
}

func newMockStore(t *testing.T, obs CacheObserver) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	orig := runMigrations
	runMigrations = func(ctx context.Context, db *sql.DB) error { return nil }
	t.Cleanup(func() { runMigrations = orig })

	s := New(db, signedInSession(t), Options{
		CacheTTL: time.Minute,
		Auth:     auth.Options{Attempts: 3, Interval: time.Millisecond},
		Observer: obs,
	}, logging.NewNop())
	s.SetClock(func() time.Time { return fixedNow })
	t.Cleanup(func() {
		mock.ExpectClose()
		_ = s.Destroy(context.Background())
	})
	return s, mock
}

func expectTenantLookup(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT tenant_id FROM profiles WHERE id = \$1`).
		WithArgs(testUser).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow(testTenant))
}

func newReady(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	s, mock := newMockStore(t, nil)
	expectTenantLookup(mock)
	require.NoError(t, s.Initialize(context.Background()))
	return s, mock
}

// rowsFor builds a result set with every native column of collection.
func rowsFor(collection string, recs ...map[string]driver.Value) *sqlmock.Rows {
	c, _ := schema.Get(collection)
	rows := sqlmock.NewRows(c.Columns)
	for _, rec := range recs {
		vals := make([]driver.Value, len(c.Columns))
		for i, col := range c.Columns {
			vals[i] = rec[col]
		}
		rows.AddRow(vals...)
	}
	return rows
}

func TestStore_OperationsBeforeInitialize(t *testing.T) {
	s, _ := newMockStore(t, nil)

	_, err := s.Create(context.Background(), "clients", storage.Record{"name": "Acme"})
	require.ErrorIs(t, err, common.ErrNotInitialized)
	assert.False(t, s.HealthCheck(context.Background()).Healthy)
}

func TestStore_InitializeResolvesTenant(t *testing.T) {
	s, mock := newReady(t)

	tenant, err := s.TenantID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testTenant, tenant)
	assert.Equal(t, auth.Ready, s.Auth().State())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MissingProfileDegrades(t *testing.T) {
	s, mock := newMockStore(t, nil)
	for i := 0; i < 3; i++ {
		mock.ExpectQuery(`SELECT tenant_id FROM profiles`).
			WithArgs(testUser).
			WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))
	}

	err := s.Initialize(context.Background())
	require.ErrorIs(t, err, common.ErrNotAuthenticated)
	assert.Equal(t, auth.Degraded, s.Auth().State())

	_, err = s.GetAll(context.Background(), "clients")
	require.ErrorIs(t, err, common.ErrNotAuthenticated)
	require.NoError(t, mock.ExpectationsWereMet())

	// a later Initialize retries the sign-in
	expectTenantLookup(mock)
	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, auth.Ready, s.Auth().State())
}

func TestStore_CreateScopesRowToTenant(t *testing.T) {
	s, mock := newReady(t)

	mock.ExpectExec(`^INSERT INTO cases AS t \(case_number, client_id, created_at, id, tenant_id, updated_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\)$`).
		WithArgs("2024-001", clientID, nowStr, caseID, testTenant, nowStr).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := s.Create(context.Background(), "cases", storage.Record{
		"id":        caseID,
		"number":    "2024-001",
		"clientId":  clientID,
		"tenant_id": "someone-else",
		"unknown":   "dropped",
	})
	require.NoError(t, err)
	assert.Equal(t, storage.Record{
		"id":          caseID,
		"case_number": "2024-001",
		"client_id":   clientID,
		"created_at":  nowStr,
		"updated_at":  nowStr,
	}, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateRejectsBeforeTouchingDatabase(t *testing.T) {
	s, mock := newReady(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "cases", storage.Record{"id": "legacy-7", "client_id": clientID})
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = s.Create(ctx, "cases", storage.Record{"title": "no client"})
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = s.Create(ctx, "cases", storage.Record{"client_id": "not-a-uuid"})
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = s.Create(ctx, "widgets", storage.Record{"name": "x"})
	require.ErrorIs(t, err, common.ErrValidation)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateMapsConstraintViolation(t *testing.T) {
	s, mock := newReady(t)

	mock.ExpectExec(`INSERT INTO clients`).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, Message: "duplicate key"})

	_, err := s.Create(context.Background(), "clients", storage.Record{"name": "Acme"})
	require.ErrorIs(t, err, common.ErrConstraintViolation)
}

func TestStore_UpdateReassertsTenant(t *testing.T) {
	s, mock := newReady(t)
	created := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`^UPDATE cases SET title = \$1, updated_at = \$2 WHERE id = \$3 AND tenant_id = \$4$`).
		WithArgs("Renamed", nowStr, caseID, testTenant).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM cases WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(caseID, testTenant).
		WillReturnRows(rowsFor("cases", map[string]driver.Value{
			"id": caseID, "client_id": clientID, "title": "Renamed",
			"created_at": created, "updated_at": fixedNow, "version": int64(2),
		}))

	rec, err := s.Update(context.Background(), "cases", caseID, storage.Record{
		"title":     "Renamed",
		"tenant_id": "someone-else",
		"createdAt": "1999-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", rec["title"])
	assert.Equal(t, "2024-06-01T00:00:00Z", rec[storage.FieldCreatedAt])
	assert.Equal(t, nowStr, rec[storage.FieldUpdatedAt])
	assert.Equal(t, int64(2), storage.Version(rec))
	assert.NotContains(t, rec, schema.TenantColumn)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateOfAnotherTenantsRowIsNotFound(t *testing.T) {
	s, mock := newReady(t)

	mock.ExpectExec(`UPDATE cases SET`).
		WithArgs("x", nowStr, caseID, testTenant).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.Update(context.Background(), "cases", caseID, storage.Record{"title": "x"})
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = s.Update(context.Background(), "cases", "not-a-uuid", storage.Record{"title": "x"})
	require.ErrorIs(t, err, common.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteAndGetByID(t *testing.T) {
	s, mock := newReady(t)
	ctx := context.Background()

	mock.ExpectExec(`^DELETE FROM clients WHERE id = \$1 AND tenant_id = \$2$`).
		WithArgs(clientID, testTenant).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, s.Delete(ctx, "clients", clientID), common.ErrNotFound)

	mock.ExpectQuery(`SELECT .* FROM clients WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(clientID, testTenant).
		WillReturnRows(rowsFor("clients"))
	_, err := s.GetByID(ctx, "clients", clientID)
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetAllIsCachedUntilWrite(t *testing.T) {
	obs := &countingObserver{}
	s, mock := newMockStore(t, obs)
	expectTenantLookup(mock)
	require.NoError(t, s.Initialize(context.Background()))
	ctx := context.Background()

	listQuery := `SELECT .* FROM clients WHERE tenant_id = \$1 ORDER BY created_at, id`
	mock.ExpectQuery(listQuery).WithArgs(testTenant).
		WillReturnRows(rowsFor("clients", map[string]driver.Value{"id": clientID, "name": "Acme", "created_at": fixedNow}))

	first, err := s.GetAll(ctx, "clients")
	require.NoError(t, err)
	require.Len(t, first, 1)
	first[0]["name"] = "mutated"

	second, err := s.GetAll(ctx, "clients")
	require.NoError(t, err)
	assert.Equal(t, "Acme", second[0]["name"])

	byName, err := s.QueryByField(ctx, "clients", "name", "Acme")
	require.NoError(t, err)
	assert.Len(t, byName, 1)

	mock.ExpectExec(`INSERT INTO clients`).WillReturnResult(sqlmock.NewResult(0, 1))
	_, err = s.Create(ctx, "clients", storage.Record{"name": "Beta"})
	require.NoError(t, err)

	mock.ExpectQuery(listQuery).WithArgs(testTenant).
		WillReturnRows(rowsFor("clients",
			map[string]driver.Value{"id": clientID, "name": "Acme", "created_at": fixedNow},
			map[string]driver.Value{"id": caseID, "name": "Beta", "created_at": fixedNow},
		))
	third, err := s.GetAll(ctx, "clients")
	require.NoError(t, err)
	assert.Len(t, third, 2)

	require.NoError(t, mock.ExpectationsWereMet())
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.hits)
	assert.Equal(t, 2, obs.misses)
}

func TestStore_GetAllAfterWriteDoesNotJoinEarlierLoad(t *testing.T) {
	s, mock := newReady(t)
	ctx := context.Background()

	listQuery := `SELECT .* FROM clients WHERE tenant_id = \$1 ORDER BY created_at, id`
	mock.ExpectQuery(listQuery).WithArgs(testTenant).
		WillDelayFor(300 * time.Millisecond).
		WillReturnRows(rowsFor("clients"))
	mock.ExpectExec(`INSERT INTO clients`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(listQuery).WithArgs(testTenant).
		WillReturnRows(rowsFor("clients", map[string]driver.Value{"id": clientID, "name": "Acme", "created_at": fixedNow}))

	slow := make(chan []storage.Record, 1)
	go func() {
		recs, err := s.GetAll(ctx, "clients")
		assert.NoError(t, err)
		slow <- recs
	}()
	time.Sleep(50 * time.Millisecond)

	_, err := s.Create(ctx, "clients", storage.Record{"id": clientID, "name": "Acme"})
	require.NoError(t, err)
	fresh, err := s.GetAll(ctx, "clients")
	require.NoError(t, err)
	assert.Len(t, fresh, 1)

	assert.Empty(t, <-slow)

	cached, err := s.GetAll(ctx, "clients")
	require.NoError(t, err)
	assert.Len(t, cached, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SignOutFlushesCache(t *testing.T) {
	s, mock := newReady(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT .* FROM notes WHERE tenant_id`).WithArgs(testTenant).
		WillReturnRows(rowsFor("notes"))
	_, err := s.GetAll(ctx, "notes")
	require.NoError(t, err)

	s.Auth().SignOut(ctx)
	_, err = s.GetAll(ctx, "notes")
	require.ErrorIs(t, err, common.ErrNotAuthenticated)

	expectTenantLookup(mock)
	require.NoError(t, s.Initialize(ctx))
	mock.ExpectQuery(`SELECT .* FROM notes WHERE tenant_id`).WithArgs(testTenant).
		WillReturnRows(rowsFor("notes"))
	_, err = s.GetAll(ctx, "notes")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_JSONColumnsRoundTrip(t *testing.T) {
	s, mock := newReady(t)
	ctx := context.Background()
	bundleID := "7e57b0a1-0000-4000-8000-000000000001"

	mock.ExpectExec(`INSERT INTO task_bundles AS t \(created_at, id, name, tasks, tenant_id, updated_at\)`).
		WithArgs(nowStr, bundleID, "Intake", `[{"title":"Call client"}]`, testTenant, nowStr).
		WillReturnResult(sqlmock.NewResult(0, 1))
	_, err := s.Create(ctx, "task_bundles", storage.Record{
		"id":    bundleID,
		"name":  "Intake",
		"tasks": []any{map[string]any{"title": "Call client"}},
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT .* FROM task_bundles WHERE id`).WithArgs(bundleID, testTenant).
		WillReturnRows(rowsFor("task_bundles", map[string]driver.Value{
			"id": bundleID, "name": "Intake", "tasks": []byte(`[{"title":"Call client"}]`),
		}))
	got, err := s.GetByID(ctx, "task_bundles", bundleID)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"title": "Call client"}}, got["tasks"])
}

func TestStore_BulkCreateUpsertsWithinTenant(t *testing.T) {
	s, mock := newReady(t)

	mock.ExpectExec(`^INSERT INTO notes AS t \(content, created_at, id, tenant_id, updated_at\) VALUES \(\$1, \$2, \$3, \$4, \$5\), \(\$6, \$7, \$8, \$9, \$10\) ON CONFLICT \(id\) DO UPDATE SET .* WHERE t\.tenant_id = EXCLUDED\.tenant_id$`).
		WithArgs("second", nowStr, clientID, testTenant, nowStr, "other", nowStr, caseID, testTenant, nowStr).
		WillReturnResult(sqlmock.NewResult(0, 2))

	out, err := s.BulkCreate(context.Background(), "notes", []storage.Record{
		{"id": clientID, "content": "first"},
		{"id": caseID, "content": "other"},
		{"id": clientID, "content": "second"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "second", out[0]["content"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_BulkUpdateStopsAtFirstFailure(t *testing.T) {
	s, mock := newReady(t)

	mock.ExpectExec(`UPDATE notes SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM notes WHERE id`).
		WillReturnRows(rowsFor("notes", map[string]driver.Value{"id": clientID, "title": "a"}))
	mock.ExpectExec(`UPDATE notes SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	out, err := s.BulkUpdate(context.Background(), "notes", []storage.Record{
		{"id": clientID, "title": "a"},
		{"id": caseID, "title": "b"},
		{"id": "7e57b0a1-0000-4000-8000-000000000002", "title": "c"},
	})
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.Len(t, out, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_BulkDeleteSkipsMalformedIDs(t *testing.T) {
	s, mock := newReady(t)

	mock.ExpectExec(`^DELETE FROM notes WHERE tenant_id = \$1 AND id IN \(\$2, \$3\)$`).
		WithArgs(testTenant, clientID, caseID).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, s.BulkDelete(context.Background(), "notes", []string{clientID, "junk", caseID}))
	require.NoError(t, s.BulkDelete(context.Background(), "notes", []string{"junk"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ClearIsScopedAndClearAllRefused(t *testing.T) {
	s, mock := newReady(t)
	ctx := context.Background()

	mock.ExpectExec(`^DELETE FROM notes WHERE tenant_id = \$1$`).WithArgs(testTenant).
		WillReturnResult(sqlmock.NewResult(0, 4))
	require.NoError(t, s.Clear(ctx, "notes"))

	require.ErrorIs(t, s.ClearAll(ctx), common.ErrDestructiveOperationDisallowed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetVersion(t *testing.T) {
	s, mock := newReady(t)

	mock.ExpectQuery(`SELECT version FROM cases WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(caseID, testTenant).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(7)))
	v, err := s.GetVersion(context.Background(), "cases", caseID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	mock.ExpectQuery(`SELECT version FROM cases`).WillReturnError(sql.ErrNoRows)
	_, err = s.GetVersion(context.Background(), "cases", caseID)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestStore_ImportAllMigratesIDsAndDropsOrphans(t *testing.T) {
	s, mock := newReady(t)

	// lookup of an unknown client name falls through to the store
	mock.ExpectQuery(`SELECT .* FROM clients WHERE tenant_id`).WithArgs(testTenant).
		WillReturnRows(rowsFor("clients"))
	mock.ExpectExec(`INSERT INTO clients AS t .* ON CONFLICT`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO cases AS t .* ON CONFLICT`).WillReturnResult(sqlmock.NewResult(0, 1))

	report, err := s.ImportAll(context.Background(), storage.Snapshot{
		"clients": {{"id": "legacy-1", "name": "Acme"}},
		"cases": {
			{"id": "k1", "client_id": "legacy-1", "number": "A-1"},
			{"title": "orphan", "client_name": "Nobody"},
		},
		"unknown_things": {{"id": "x"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Written["clients"])
	assert.Equal(t, 1, report.Written["cases"])
	assert.Equal(t, 1, report.Dropped["cases"])
	assert.Equal(t, 1, report.Dropped["unknown_things"])
	assert.True(t, storage.IsID(report.IDMapping[transfer.MappingKey("clients", "legacy-1")]))
	assert.True(t, storage.IsID(report.IDMapping[transfer.MappingKey("cases", "k1")]))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ImportAllDropsDanglingReference(t *testing.T) {
	s, mock := newReady(t)
	dangling := "9d4e2b1a-7c3f-4e8d-a6b5-0f1e2d3c4b5a"

	mock.ExpectQuery(`SELECT .* FROM cases WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(dangling, testTenant).
		WillReturnRows(rowsFor("cases"))
	mock.ExpectExec(`INSERT INTO clients AS t .* ON CONFLICT`).WillReturnResult(sqlmock.NewResult(0, 1))

	report, err := s.ImportAll(context.Background(), storage.Snapshot{
		"clients":  {{"name": "Acme"}},
		"hearings": {{"title": "Motion", "case_id": dangling}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Written["clients"])
	assert.Zero(t, report.Written["hearings"])
	assert.Equal(t, 1, report.Dropped["hearings"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_TransactionInvalidatesListedCollections(t *testing.T) {
	s, mock := newReady(t)
	ctx := context.Background()

	listQuery := `SELECT .* FROM notes WHERE tenant_id`
	mock.ExpectQuery(listQuery).WithArgs(testTenant).WillReturnRows(rowsFor("notes"))
	_, err := s.GetAll(ctx, "notes")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Transaction(ctx, []string{"notes"}, func(ctx context.Context, tx storage.Storage) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	mock.ExpectQuery(listQuery).WithArgs(testTenant).WillReturnRows(rowsFor("notes"))
	_, err = s.GetAll(ctx, "notes")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_HealthCheck(t *testing.T) {
	s, mock := newReady(t)

	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	assert.True(t, s.HealthCheck(context.Background()).Healthy)

	mock.ExpectQuery(`SELECT 1`).WillReturnError(errors.New("connection refused"))
	h := s.HealthCheck(context.Background())
	assert.False(t, h.Healthy)
	assert.Contains(t, h.Errors, "connection refused")
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, common.ErrConstraintViolation},
		{"foreign key", &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}, common.ErrConstraintViolation},
		{"not null", &pgconn.PgError{Code: pgerrcode.NotNullViolation}, common.ErrConstraintViolation},
		{"rls", &pgconn.PgError{Code: pgerrcode.InsufficientPrivilege}, common.ErrPermissionDenied},
		{"bad password", &pgconn.PgError{Code: pgerrcode.InvalidPassword}, common.ErrNotAuthenticated},
		{"bad uuid", &pgconn.PgError{Code: pgerrcode.InvalidTextRepresentation}, common.ErrValidation},
		{"other pg", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, common.ErrStorage},
		{"driver", errors.New("broken pipe"), common.ErrStorage},
		{"canceled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError("op", tt.err), tt.want)
		})
	}
	assert.NoError(t, mapError("op", nil))

	fk := &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}
	assert.ErrorIs(t, mapError("insert into cases", fk), common.ErrMissingReference)
	assert.ErrorIs(t, mapError("upsert into cases", fk), common.ErrMissingReference)
	assert.NotErrorIs(t, mapError("delete from clients", fk), common.ErrMissingReference)
	assert.ErrorIs(t, mapError("clear clients", fk), common.ErrConstraintViolation)
}
