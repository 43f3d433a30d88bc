package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/schema"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ChangeChannel is the NOTIFY channel fed by the change triggers.
const ChangeChannel = "casestore_changes"

type notificationConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

var connectListener = func(ctx context.Context, dsn string) (notificationConn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// TenantSource yields the tenant whose changes are of interest.
type TenantSource interface {
	TenantID(ctx context.Context) (string, error)
}

// ChangeListener streams row changes of the current tenant using
// LISTEN/NOTIFY on a dedicated connection.
type ChangeListener struct {
	dsn     string
	tenants TenantSource
	log     logging.Logger
}

func NewChangeListener(dsn string, tenants TenantSource, log logging.Logger) *ChangeListener {
	return &ChangeListener{dsn: dsn, tenants: tenants, log: log.With("component", "change-listener")}
}

type notification struct {
	TenantID string `json:"tenant_id"`
	Table    string `json:"table"`
	ID       string `json:"id"`
	Op       string `json:"op"`
}

// Listen calls fn for every change until ctx is done or the connection
// fails. Changes of other tenants are skipped; while no tenant is known,
// every change is skipped.
func (l *ChangeListener) Listen(ctx context.Context, fn func(storage.Change)) error {
	conn, err := connectListener(ctx, l.dsn)
	if err != nil {
		return mapError("connect listener", err)
	}
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return mapError("listen", err)
	}
	l.log.Info(ctx, "listening for changes", "channel", ChangeChannel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return mapError("wait for notification", err)
		}

		var msg notification
		if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
			l.log.Warn(ctx, "malformed change notification", "payload", n.Payload, "error", err)
			continue
		}
		tenant, err := l.tenants.TenantID(ctx)
		if err != nil || tenant != msg.TenantID {
			continue
		}

		change, err := toChange(msg)
		if err != nil {
			l.log.Warn(ctx, "unknown change notification", "error", err)
			continue
		}
		fn(change)
	}
}

func toChange(msg notification) (storage.Change, error) {
	op := storage.ChangeOp(msg.Op)
	switch op {
	case storage.ChangeInsert, storage.ChangeUpdate, storage.ChangeDelete:
	default:
		return storage.Change{}, fmt.Errorf("op %q on %s", msg.Op, msg.Table)
	}
	return storage.Change{Collection: schema.Logical(msg.Table), ID: msg.ID, Op: op}, nil
}
