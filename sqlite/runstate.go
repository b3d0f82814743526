package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type SlotStatus string

const (
	SlotPending SlotStatus = "pending"
	SlotRunning SlotStatus = "running"
	SlotDone    SlotStatus = "done"
	SlotFailed  SlotStatus = "failed"
)

var ErrSlotNotFound = errors.New("slot not found")

// Slot is one scheduled run, keyed by its due time in the scheduler zone.
type Slot struct {
	Key       string
	Status    SlotStatus
	BatchID   string
	DueAt     time.Time
	UpdatedAt time.Time
}

// RunStateRepository persists the scheduler's slot state so that a restart
// can catch up on a slot that never completed.
type RunStateRepository struct {
	db *sql.DB
}

func NewRunStateRepository(db *sql.DB) *RunStateRepository {
	return &RunStateRepository{db: db}
}

// MarkPending records key as pending and reports whether it was new. A slot
// that already exists keeps its status.
func (r *RunStateRepository) MarkPending(ctx context.Context, key string, due time.Time) (bool, error) {
	const q = `INSERT INTO run_slots (slot, status, batch_id, due_at, updated_at) VALUES (?, ?, '', ?, ?)
		ON CONFLICT (slot) DO NOTHING`

	res, err := r.db.ExecContext(ctx, q, key, string(SlotPending), due.Unix(), time.Now().UTC().Unix())
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *RunStateRepository) SetStatus(ctx context.Context, key string, status SlotStatus, batchID string) error {
	const q = `UPDATE run_slots SET status = ?, batch_id = ?, updated_at = ? WHERE slot = ?`

	res, err := r.db.ExecContext(ctx, q, string(status), batchID, time.Now().UTC().Unix(), key)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return ErrSlotNotFound
	}

	return nil
}

func (r *RunStateRepository) Get(ctx context.Context, key string) (Slot, error) {
	const q = `SELECT slot, status, batch_id, due_at, updated_at FROM run_slots WHERE slot = ?`

	s, err := rowToSlot(r.db.QueryRowContext(ctx, q, key))
	if errors.Is(err, sql.ErrNoRows) {
		return Slot{}, ErrSlotNotFound
	}

	return s, err
}

// Unfinished returns pending slots and slots left running by a previous
// process, oldest first.
func (r *RunStateRepository) Unfinished(ctx context.Context) ([]Slot, error) {
	const q = `SELECT slot, status, batch_id, due_at, updated_at FROM run_slots
		WHERE status IN (?, ?) ORDER BY due_at ASC`

	rows, err := r.db.QueryContext(ctx, q, string(SlotPending), string(SlotRunning))
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var ans []Slot

	for rows.Next() {
		s, err := rowToSlot(rows)
		if err != nil {
			return nil, err
		}

		ans = append(ans, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ans, nil
}

func rowToSlot(row scannable) (Slot, error) {
	var (
		s         Slot
		status    string
		dueAt     int64
		updatedAt int64
	)

	if err := row.Scan(&s.Key, &status, &s.BatchID, &dueAt, &updatedAt); err != nil {
		return Slot{}, err
	}

	s.Status = SlotStatus(status)
	s.DueAt = time.Unix(dueAt, 0).UTC()
	s.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return s, nil
}
