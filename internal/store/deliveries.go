package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	apperrors "studycal/internal/errors"
)

// Delivery is one notification attempt.
type Delivery struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Identity string    `json:"identity,omitempty"`
	Title    string    `json:"title"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newID(t time.Time) (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", fmt.Errorf("generate ulid: %w", err)
	}
	return id.String(), nil
}

// RecordDelivery appends d to the delivery log and returns its ID.
func (s *Store) RecordDelivery(ctx context.Context, d Delivery) (string, error) {
	at := s.now()
	id, err := newID(at)
	if err != nil {
		return "", apperrors.NewPersistenceFailure("delivery id", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, kind, identity, title, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, d.Kind, d.Identity, d.Title, d.Error, at.UnixMilli())
	if err != nil {
		return "", apperrors.NewPersistenceFailure("write delivery", err)
	}
	return id, nil
}

// RecentDeliveries returns up to limit entries, newest first.
func (s *Store) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, identity, title, error, created_at
		FROM deliveries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.NewPersistenceFailure("read deliveries", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		var ms int64
		if err := rows.Scan(&d.ID, &d.Kind, &d.Identity, &d.Title, &d.Error, &ms); err != nil {
			return nil, apperrors.NewPersistenceFailure("scan delivery", err)
		}
		d.At = time.UnixMilli(ms)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceFailure("read deliveries", err)
	}
	return out, nil
}
