// Package postgres archives audit events in PostgreSQL via database/sql.
// It is the durable sink for deployments that run without Kafka.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"civis/internal/audit"
)

//go:embed schema.sql
var schemaSQL string

type Sink struct {
	db *sql.DB
}

func New(db *sql.DB) *Sink {
	return &Sink{db: db}
}

// Open dials the database and verifies the connection. The caller owns
// Close.
func Open(url string) (*Sink, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	return New(db), nil
}

// EnsureSchema creates the audit_events table if it does not exist yet.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *Sink) Append(ctx context.Context, e audit.Event) error {
	var meta []byte
	if len(e.Meta) > 0 {
		var err error
		meta, err = json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("marshal audit meta: %w", err)
		}
	}
	query := `
		INSERT INTO audit_events (ts, user_id, subject, action, outcome, reason, ip, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.Timestamp, e.UserID, e.Subject, e.Action, e.Outcome, e.Reason, e.IP, meta)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListByUser returns events for one user in append order.
func (s *Sink) ListByUser(ctx context.Context, userID string) ([]audit.Event, error) {
	query := `
		SELECT ts, user_id, subject, action, outcome, reason, ip, meta
		FROM audit_events
		WHERE user_id = $1
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByActions filters one user's events to the given actions, in append
// order.
func (s *Sink) ListByActions(ctx context.Context, userID string, actions []string) ([]audit.Event, error) {
	query := `
		SELECT ts, user_id, subject, action, outcome, reason, ip, meta
		FROM audit_events
		WHERE user_id = $1 AND action = ANY($2::text[])
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, userID, pq.Array(actions))
	if err != nil {
		return nil, fmt.Errorf("list audit events by action: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// PruneBefore drops events older than the cutoff and reports how many were
// removed.
func (s *Sink) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return res.RowsAffected()
}

func (s *Sink) Close() error {
	return s.db.Close()
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var out []audit.Event
	for rows.Next() {
		var e audit.Event
		var meta []byte
		if err := rows.Scan(&e.Timestamp, &e.UserID, &e.Subject, &e.Action,
			&e.Outcome, &e.Reason, &e.IP, &meta); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("decode audit meta: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}
