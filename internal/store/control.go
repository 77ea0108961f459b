package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetProcessingControl reads the singleton pause switch.
func (s *Store) GetProcessingControl(ctx context.Context) (*ProcessingControl, error) {
	var (
		control    ProcessingControl
		isPaused   sql.NullInt64
		pausedRaw  sql.NullString
		pausedBy   sql.NullInt64
		updatedRaw sql.NullString
	)
	row := s.db.QueryRowContext(
		ctx,
		`SELECT is_paused, paused_at, paused_by, updated_at FROM processing_control WHERE id = 1`,
	)
	if err := row.Scan(&isPaused, &pausedRaw, &pausedBy, &updatedRaw); err != nil {
		return nil, fmt.Errorf("read processing control: %w", err)
	}
	control.IsPaused = isPaused.Valid && isPaused.Int64 != 0
	control.PausedAt = timePtrFromColumn(pausedRaw)
	control.PausedBy = int64PtrFromColumn(pausedBy)
	control.UpdatedAt = timeFromColumn(updatedRaw)
	return &control, nil
}

// SetPaused flips the singleton pause switch.
func (s *Store) SetPaused(ctx context.Context, paused bool, pausedBy *int64) (*ProcessingControl, error) {
	now := timestamp(time.Now())
	var (
		pausedAt any
		byValue  any
	)
	if paused {
		pausedAt = now
		byValue = nullableInt64(pausedBy)
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE processing_control
         SET is_paused = ?, paused_at = ?, paused_by = ?, updated_at = ?
         WHERE id = 1`,
		boolToInt(paused),
		pausedAt,
		byValue,
		now,
	); err != nil {
		return nil, fmt.Errorf("set paused: %w", err)
	}
	return s.GetProcessingControl(ctx)
}
