package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mind-engage/mindengage-grading/internal/db"
)

// Event types written to event_log.
const (
	TypeFinalGradeComputed = "FinalGradeComputed"
	TypeWeightsReplaced    = "WeightsReplaced"
)

type Event struct {
	Seq       int64           `json:"seq"`
	SiteID    string          `json:"site_id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// appendLockKey is the advisory lock that orders event_log writers on postgres.
const appendLockKey int64 = 0x6772616465 // "grade"

type EventRepo struct {
	db     *sql.DB
	siteID string
	now    func() time.Time

	// LockAppends takes appendLockKey inside the caller's transaction before
	// inserting, so seq values become visible in commit order. Needed where
	// writers commit concurrently (postgres); sqlite has a single writer.
	LockAppends bool
}

func NewEventRepo(conn *sql.DB, siteID string) *EventRepo {
	if siteID == "" {
		siteID = "local"
	}
	return &EventRepo{
		db:          conn,
		siteID:      siteID,
		now:         time.Now,
		LockAppends: db.DriverOf(conn) == db.DriverPostgres,
	}
}

// Append writes one event through ex, so callers can make it part of their transaction.
// With LockAppends, ex must be a transaction: the lock is held until it ends.
func (r *EventRepo) Append(ctx context.Context, ex Execer, typ, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("event %s: marshal: %w", typ, err)
	}
	if r.LockAppends {
		if _, err := ex.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
			return fmt.Errorf("event %s: lock: %w", typ, err)
		}
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		r.siteID, typ, key, string(data), r.now().Unix())
	return err
}

// Since returns up to limit events with seq > after, oldest first.
func (r *EventRepo) Since(ctx context.Context, after int64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, site_id, typ, key, data, created_at
		   FROM event_log WHERE seq > $1 ORDER BY seq LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var data string
		if err := rows.Scan(&e.Seq, &e.SiteID, &e.Type, &e.Key, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}
