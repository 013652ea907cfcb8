package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	appLog "studycal/internal/log"
	"studycal/internal/model"
)

// NotifiedSet is a NotifiedSet persisted in the notified table. Lookups are
// scoped to the current date, so a missed daily reset cannot suppress the
// next day's notifications, and a restart mid-day does not repeat them.
type NotifiedSet struct {
	s     *Store
	clock func() time.Time
}

// NewNotifiedSet returns a set whose current date comes from clock.
func (s *Store) NewNotifiedSet(clock func() time.Time) *NotifiedSet {
	if clock == nil {
		clock = time.Now
	}
	return &NotifiedSet{s: s, clock: clock}
}

func (n *NotifiedSet) today() string {
	return model.DateKey(n.clock())
}

// Seen reports whether id was marked today. Read errors count as not seen.
func (n *NotifiedSet) Seen(id string) bool {
	var one int
	err := n.s.db.QueryRowContext(context.Background(),
		`SELECT 1 FROM notified WHERE date = ? AND identity = ?`, n.today(), id).Scan(&one)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			appLog.Error("notified lookup failed", err, "identity", id)
		}
		return false
	}
	return true
}

func (n *NotifiedSet) MarkSeen(id string) {
	_, err := n.s.db.ExecContext(context.Background(),
		`INSERT OR IGNORE INTO notified (date, identity, created_at) VALUES (?, ?, ?)`,
		n.today(), id, n.s.now().Unix())
	if err != nil {
		appLog.Error("notified insert failed", err, "identity", id)
	}
}

// Reset forgets everything recorded so far.
func (n *NotifiedSet) Reset() {
	if _, err := n.s.db.ExecContext(context.Background(), `DELETE FROM notified`); err != nil {
		appLog.Error("notified reset failed", err)
	}
}

// Identities lists today's identities.
func (n *NotifiedSet) Identities(ctx context.Context) ([]string, error) {
	rows, err := n.s.db.QueryContext(ctx,
		`SELECT identity FROM notified WHERE date = ? ORDER BY created_at, identity`, n.today())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
