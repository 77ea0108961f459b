package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const itemColumns = "id, batch_id, product_id, status, processed_by, started_at, completed_at, created_at, updated_at"

func scanBatchItem(scanner rowScanner) (*BatchItem, error) {
	var (
		item         BatchItem
		status       string
		processedBy  sql.NullInt64
		startedRaw   sql.NullString
		completedRaw sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&item.ID,
		&item.BatchID,
		&item.ProductID,
		&status,
		&processedBy,
		&startedRaw,
		&completedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	item.Status = ItemStatus(status)
	item.ProcessedBy = int64PtrFromColumn(processedBy)
	item.StartedAt = timePtrFromColumn(startedRaw)
	item.CompletedAt = timePtrFromColumn(completedRaw)
	item.CreatedAt = timeFromColumn(createdRaw)
	item.UpdatedAt = timeFromColumn(updatedRaw)
	return &item, nil
}

// GetBatchItem fetches a batch item by identifier. Returns nil when absent.
func (s *Store) GetBatchItem(ctx context.Context, id int64) (*BatchItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM batch_items WHERE id = ?`, id)
	item, err := scanBatchItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch item: %w", err)
	}
	return item, nil
}

// ItemsForBatch returns a batch's items ordered by identifier.
func (s *Store) ItemsForBatch(ctx context.Context, batchID int64) ([]*BatchItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM batch_items WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query batch items: %w", err)
	}
	defer rows.Close()

	var items []*BatchItem
	for rows.Next() {
		item, err := scanBatchItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ItemsForProduct returns every batch item referencing a product.
func (s *Store) ItemsForProduct(ctx context.Context, productID int64) ([]*BatchItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM batch_items WHERE product_id = ? ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("query product items: %w", err)
	}
	defer rows.Close()

	var items []*BatchItem
	for rows.Next() {
		item, err := scanBatchItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// StartBatchItem marks an item in progress and records who picked it up.
// Also bumps the parent batch to in_progress when it was still pending.
func (s *Store) StartBatchItem(ctx context.Context, itemID int64, annotatorID *int64) (*BatchItem, error) {
	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`UPDATE batch_items
             SET status = ?, processed_by = ?, started_at = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			ItemStatusInProgress,
			nullableInt64(annotatorID),
			timestamp(now),
			timestamp(now),
			itemID,
			ItemStatusNotStarted,
		)
		if err != nil {
			return fmt.Errorf("start batch item: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE annotation_batches SET status = ?, updated_at = ?
             WHERE id = (SELECT batch_id FROM batch_items WHERE id = ?) AND status = ?`,
			BatchStatusInProgress,
			timestamp(now),
			itemID,
			BatchStatusPending,
		); err != nil {
			return fmt.Errorf("bump batch status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetBatchItem(ctx, itemID)
}

// CompleteBatchItem marks an item done and recomputes the parent batch's
// progress in the same transaction. When every item is done the batch is
// marked completed.
func (s *Store) CompleteBatchItem(ctx context.Context, itemID int64, annotatorID *int64) (*BatchItem, error) {
	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var batchID int64
		row := tx.QueryRowContext(ctx, `SELECT batch_id FROM batch_items WHERE id = ?`, itemID)
		if err := row.Scan(&batchID); err != nil {
			return fmt.Errorf("load batch item: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE batch_items
             SET status = ?, processed_by = COALESCE(?, processed_by),
                 completed_at = ?, updated_at = ?
             WHERE id = ?`,
			ItemStatusDone,
			nullableInt64(annotatorID),
			timestamp(now),
			timestamp(now),
			itemID,
		); err != nil {
			return fmt.Errorf("complete batch item: %w", err)
		}
		return recomputeProgressTx(ctx, tx, batchID)
	})
	if err != nil {
		return nil, err
	}
	return s.GetBatchItem(ctx, itemID)
}

// recomputeProgressTx recalculates progress = 100 * done / total for a batch.
// A batch with zero items keeps progress 0 and is never auto-completed.
// Cancelled batches keep their status.
func recomputeProgressTx(ctx context.Context, tx *sql.Tx, batchID int64) error {
	var total, done int
	row := tx.QueryRowContext(
		ctx,
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
         FROM batch_items WHERE batch_id = ?`,
		ItemStatusDone,
		batchID,
	)
	if err := row.Scan(&total, &done); err != nil {
		return fmt.Errorf("count batch items: %w", err)
	}
	progress := 0.0
	if total > 0 {
		progress = 100 * float64(done) / float64(total)
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE annotation_batches SET progress = ?, updated_at = ? WHERE id = ?`,
		progress,
		timestamp(time.Now()),
		batchID,
	); err != nil {
		return fmt.Errorf("update batch progress: %w", err)
	}
	if total > 0 && done == total {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE annotation_batches SET status = ?, updated_at = ?
             WHERE id = ? AND status != ?`,
			BatchStatusCompleted,
			timestamp(time.Now()),
			batchID,
			BatchStatusCancelled,
		); err != nil {
			return fmt.Errorf("complete batch: %w", err)
		}
	}
	return nil
}

// RecomputeBatchProgress recalculates a batch's progress outside of any
// larger transaction.
func (s *Store) RecomputeBatchProgress(ctx context.Context, batchID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return recomputeProgressTx(ctx, tx, batchID)
	})
}
