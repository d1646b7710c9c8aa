// Package store keeps a SQLite history of scraped menus and ordering
// sessions.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	_ "modernc.org/sqlite"

	"orderbot/internal/failure"
	"orderbot/internal/menu"
	"orderbot/internal/session"
)

//go:embed schema.sql
var Schema string

var tracer = otel.Tracer("orderbot/internal/store")

// ErrNoMenu is returned by LatestMenu when a storefront was never scraped.
var ErrNoMenu = errors.New("no menu snapshot recorded")

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// MenuSnapshot describes a stored menu without its body.
type MenuSnapshot struct {
	ID         uuid.UUID
	Storefront string
	TakenAt    time.Time
	Categories int
	Items      int
}

// SaveMenu records a scraped menu.
func (s *Store) SaveMenu(ctx context.Context, storefront string, m *menu.Menu, at time.Time) (MenuSnapshot, error) {
	ctx, span := tracer.Start(ctx, "SaveMenu")
	defer span.End()
	span.SetAttributes(attribute.String("storefront", storefront))

	body, err := json.Marshal(m)
	if err != nil {
		return MenuSnapshot{}, err
	}
	snap := MenuSnapshot{
		ID:         uuid.New(),
		Storefront: storefront,
		TakenAt:    at,
		Categories: len(m.Categories),
		Items:      m.ItemCount(),
	}
	_, err = s.db.ExecContext(ctx,
		`insert into menu_snapshot (id, storefront, taken_at, categories, items, body) values (?, ?, ?, ?, ?, ?)`,
		snap.ID.String(), storefront, at.UnixMilli(), snap.Categories, snap.Items, string(body),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return MenuSnapshot{}, err
	}
	return snap, nil
}

// LatestMenu returns the newest menu recorded for storefront.
func (s *Store) LatestMenu(ctx context.Context, storefront string) (*menu.Menu, MenuSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, taken_at, categories, items, body from menu_snapshot
		where storefront = ? order by taken_at desc limit 1`,
		storefront,
	)

	var (
		id      string
		takenAt int64
		body    string
		snap    = MenuSnapshot{Storefront: storefront}
	)
	if err := row.Scan(&id, &takenAt, &snap.Categories, &snap.Items, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, MenuSnapshot{}, fmt.Errorf("%s: %w", storefront, ErrNoMenu)
		}
		return nil, MenuSnapshot{}, err
	}

	var err error
	if snap.ID, err = uuid.Parse(id); err != nil {
		return nil, MenuSnapshot{}, err
	}
	snap.TakenAt = time.UnixMilli(takenAt)

	var m menu.Menu
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, MenuSnapshot{}, fmt.Errorf("decode menu snapshot %s: %w", id, err)
	}
	m.Reindex()
	return &m, snap, nil
}

// SessionRecord is one row of session history.
type SessionRecord struct {
	ID            uuid.UUID
	Storefront    string
	StartedAt     time.Time
	FinishedAt    time.Time
	Requests      int
	Ordered       int
	CheckoutState string
	CheckoutURL   string
	Error         string
}

// OutcomeRecord is one order request of a session.
type OutcomeRecord struct {
	Item     string
	Quantity int
	Code     failure.Code
	Error    string
}

// RecordSession stores a session report and its per-request outcomes.
func (s *Store) RecordSession(ctx context.Context, r *session.Report) error {
	ctx, span := tracer.Start(ctx, "RecordSession")
	defer span.End()
	span.SetAttributes(attribute.String("session", r.ID.String()))

	err := s.recordSession(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Store) recordSession(ctx context.Context, r *session.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var state, url, errText string
	if r.Checkout != nil {
		state = string(r.Checkout.Final())
		url = r.Checkout.URL
	}
	if r.Err != nil {
		errText = r.Err.Error()
	}

	_, err = tx.ExecContext(ctx,
		`insert into session (id, storefront, started_at, finished_at, requests, ordered, checkout_state, checkout_url, error)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Storefront, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
		len(r.Outcomes), r.Ordered(), state, url, errText,
	)
	if err != nil {
		return err
	}

	for i, o := range r.Outcomes {
		var code, text string
		if o.Err != nil {
			code = string(failure.CodeOf(o.Err))
			text = o.Err.Error()
		}
		_, err := tx.ExecContext(ctx,
			`insert into session_outcome (session_id, position, item, quantity, code, error) values (?, ?, ?, ?, ?, ?)`,
			r.ID.String(), i, o.Request.ItemName, o.Request.Quantity, code, text,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Sessions lists the most recent sessions first. limit <= 0 means all.
func (s *Store) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`select id, storefront, started_at, finished_at, requests, ordered, checkout_state, checkout_url, error
		from session order by started_at desc limit ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var id string
		var started, finished int64
		err := rows.Scan(&id, &rec.Storefront, &started, &finished, &rec.Requests, &rec.Ordered, &rec.CheckoutState, &rec.CheckoutURL, &rec.Error)
		if err != nil {
			return nil, err
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		rec.StartedAt = time.UnixMilli(started)
		rec.FinishedAt = time.UnixMilli(finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Outcomes returns the per-request results of a session in request order.
func (s *Store) Outcomes(ctx context.Context, id uuid.UUID) ([]OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`select item, quantity, code, error from session_outcome where session_id = ? order by position`,
		id.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var (
			rec  OutcomeRecord
			code string
		)
		if err := rows.Scan(&rec.Item, &rec.Quantity, &code, &rec.Error); err != nil {
			return nil, err
		}
		rec.Code = failure.Code(code)
		out = append(out, rec)
	}
	return out, rows.Err()
}
