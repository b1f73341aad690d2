// Package repo is the SQLite-backed Store. Every entity kind shares one
// records table keyed by (kind, id) with a JSON payload; each mutation
// appends an audit row in the same transaction.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"momentum/internal/domain"
	"momentum/internal/events"
	"momentum/internal/store"
)

// ErrNotFound is shared with the memory store so callers test one sentinel.
var ErrNotFound = store.ErrNotFound

// anchorLayout is fixed-width so anchors compare lexically.
const anchorLayout = "2006-01-02T15:04:05.000000000Z"

type Repo struct {
	DB     *sql.DB
	Events events.Writer
}

// Stores returns one table per entity kind.
func (r Repo) Stores() domain.Stores {
	return domain.Stores{
		Events:     NewTable[domain.Event](r, domain.KindEvent),
		Tasks:      NewTable[domain.Task](r, domain.KindTask),
		Habits:     NewTable[domain.Habit](r, domain.KindHabit),
		Goals:      NewTable[domain.Goal](r, domain.KindGoal),
		Milestones: NewTable[domain.Milestone](r, domain.KindMilestone),
		Categories: NewTable[domain.Category](r, domain.KindCategory),
	}
}

// Table implements domain.Store for one kind.
type Table[T domain.Entity] struct {
	repo Repo
	kind domain.EntityKind
	feed store.Feed
}

func NewTable[T domain.Entity](r Repo, kind domain.EntityKind) *Table[T] {
	return &Table[T]{repo: r, kind: kind}
}

func (t *Table[T]) List(ctx context.Context) ([]T, error) {
	return t.query(ctx, `SELECT payload_json FROM records WHERE kind=? ORDER BY seq`, string(t.kind))
}

func (t *Table[T]) ListFor(ctx context.Context, rg domain.Range) ([]T, error) {
	return t.query(ctx, `SELECT payload_json FROM records WHERE kind=? AND anchor>=? AND anchor<? ORDER BY seq`,
		string(t.kind), anchor(rg.Start), anchor(rg.End))
}

func (t *Table[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	var payload string
	err := t.repo.DB.QueryRowContext(ctx, `SELECT payload_json FROM records WHERE kind=? AND id=?`, string(t.kind), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, fmt.Errorf("%s %s: %w", t.kind, id, ErrNotFound)
	}
	if err != nil {
		return zero, err
	}
	return decode[T](payload)
}

func (t *Table[T]) Create(ctx context.Context, item T) (T, error) {
	var zero T
	id := item.EntityID()
	if id == "" {
		return zero, fmt.Errorf("create %s: empty id", t.kind)
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return zero, fmt.Errorf("marshal %s: %w", t.kind, err)
	}
	err = t.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM records WHERE kind=? AND id=?`, string(t.kind), id).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("create %s %s: %w", t.kind, id, store.ErrExists)
		}
		now := t.now()
		if _, err := tx.ExecContext(ctx, `INSERT INTO records(kind,id,anchor,payload_json,created_at,updated_at,seq)
			VALUES (?,?,?,?,?,?,COALESCE((SELECT MAX(seq) FROM records WHERE kind=?),0)+1)`,
			string(t.kind), id, anchorOf(item), string(payload), now, now, string(t.kind)); err != nil {
			return err
		}
		return t.repo.Events.Append(ctx, tx, string(t.kind)+".created", string(t.kind), id, domain.ActorFrom(ctx),
			events.Payload{"title": item.DisplayTitle()})
	})
	if err != nil {
		return zero, err
	}
	t.feed.Publish(domain.Change{Kind: t.kind, Op: domain.ChangeCreated, ID: id})
	return item, nil
}

func (t *Table[T]) Update(ctx context.Context, item T) error {
	id := item.EntityID()
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", t.kind, err)
	}
	err = t.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE records SET anchor=?, payload_json=?, updated_at=? WHERE kind=? AND id=?`,
			anchorOf(item), string(payload), t.now(), string(t.kind), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update %s %s: %w", t.kind, id, ErrNotFound)
		}
		return t.repo.Events.Append(ctx, tx, string(t.kind)+".updated", string(t.kind), id, domain.ActorFrom(ctx),
			events.Payload{"title": item.DisplayTitle(), "completed": item.IsCompleted()})
	})
	if err != nil {
		return err
	}
	t.feed.Publish(domain.Change{Kind: t.kind, Op: domain.ChangeUpdated, ID: id})
	return nil
}

func (t *Table[T]) Delete(ctx context.Context, id string) error {
	err := t.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE kind=? AND id=?`, string(t.kind), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("delete %s %s: %w", t.kind, id, ErrNotFound)
		}
		return t.repo.Events.Append(ctx, tx, string(t.kind)+".deleted", string(t.kind), id, domain.ActorFrom(ctx), nil)
	})
	if err != nil {
		return err
	}
	t.feed.Publish(domain.Change{Kind: t.kind, Op: domain.ChangeDeleted, ID: id})
	return nil
}

func (t *Table[T]) Subscribe() (<-chan domain.Change, func()) {
	return t.feed.Subscribe()
}

func (t *Table[T]) query(ctx context.Context, q string, args ...any) ([]T, error) {
	rows, err := t.repo.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		it, err := decode[T](payload)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (t *Table[T]) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := t.repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *Table[T]) now() string {
	now := t.repo.Events.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func decode[T any](payload string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return v, fmt.Errorf("decode record: %w", err)
	}
	return v, nil
}

func anchor(t time.Time) string {
	return t.UTC().Format(anchorLayout)
}

func anchorOf(e domain.Entity) any {
	at, ok := e.Anchor()
	if !ok {
		return nil
	}
	return anchor(at)
}
