package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PairKey identifies a (product, attribute) pair touched by a write.
type PairKey struct {
	ProductID   int64
	AttributeID int64
}

// ApproveSuggestedForItem promotes a batch item's suggested annotations to
// approved and returns the pairs that changed, for overlap recomputation.
func (s *Store) ApproveSuggestedForItem(ctx context.Context, itemID int64) ([]PairKey, error) {
	var pairs []PairKey
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(
			ctx,
			`SELECT product_id, attribute_id FROM human_annotations
             WHERE batch_item_id = ? AND status = ?`,
			itemID,
			AnnotationSuggested,
		)
		if err != nil {
			return fmt.Errorf("query suggested annotations: %w", err)
		}
		for rows.Next() {
			var pair PairKey
			if err := rows.Scan(&pair.ProductID, &pair.AttributeID); err != nil {
				rows.Close()
				return err
			}
			pairs = append(pairs, pair)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(pairs) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE human_annotations SET status = ?, updated_at = ?
             WHERE batch_item_id = ? AND status = ?`,
			AnnotationApproved,
			timestamp(time.Now()),
			itemID,
			AnnotationSuggested,
		); err != nil {
			return fmt.Errorf("approve item annotations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

// ResetBatchWork undoes a rejected batch's work: approved and rejected
// annotations return to suggested, items to not_started with timing
// cleared, and the batch to pending with progress 0, in one transaction.
func (s *Store) ResetBatchWork(ctx context.Context, batchID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := timestamp(time.Now())
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE human_annotations SET status = ?, updated_at = ?
             WHERE batch_item_id IN (SELECT id FROM batch_items WHERE batch_id = ?)
               AND status != ?`,
			AnnotationSuggested,
			now,
			batchID,
			AnnotationSuggested,
		); err != nil {
			return fmt.Errorf("reset annotations: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE batch_items
             SET status = ?, started_at = NULL, completed_at = NULL, updated_at = ?
             WHERE batch_id = ?`,
			ItemStatusNotStarted,
			now,
			batchID,
		); err != nil {
			return fmt.Errorf("reset batch items: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE annotation_batches SET status = ?, progress = 0, updated_at = ? WHERE id = ?`,
			BatchStatusPending,
			now,
			batchID,
		); err != nil {
			return fmt.Errorf("reset batch: %w", err)
		}
		return nil
	})
}

// ProductIDsForBatch returns the distinct product ids inside a batch.
func (s *Store) ProductIDsForBatch(ctx context.Context, batchID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT DISTINCT product_id FROM batch_items WHERE batch_id = ? ORDER BY product_id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query batch products: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateChildBatches copies a parent batch's products into one new pending
// batch per annotator, linking each child to the parent and completing the
// parent, atomically. Used by manual assignment.
func (s *Store) CreateChildBatches(ctx context.Context, parentID int64, annotatorIDs []int64, namePrefix string) ([]int64, error) {
	var childIDs []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(
			ctx,
			`SELECT DISTINCT product_id FROM batch_items WHERE batch_id = ? ORDER BY product_id`,
			parentID,
		)
		if err != nil {
			return fmt.Errorf("query parent items: %w", err)
		}
		var productIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			productIDs = append(productIDs, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		now := timestamp(time.Now())
		for _, annotatorID := range annotatorIDs {
			res, err := tx.ExecContext(
				ctx,
				`INSERT INTO annotation_batches (
                    name, description, batch_type, status, progress, batch_size,
                    assigned_to, parent_batch_id, created_at, updated_at
                ) VALUES (?, NULL, ?, ?, 0, ?, ?, ?, ?, ?)`,
				fmt.Sprintf("%s (annotator %d)", namePrefix, annotatorID),
				BatchTypeHuman,
				BatchStatusPending,
				len(productIDs),
				annotatorID,
				parentID,
				now,
				now,
			)
			if err != nil {
				return fmt.Errorf("insert child batch: %w", err)
			}
			childID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("last insert id: %w", err)
			}
			for _, productID := range productIDs {
				if _, err := tx.ExecContext(
					ctx,
					`INSERT INTO batch_items (batch_id, product_id, status, created_at, updated_at)
                     VALUES (?, ?, ?, ?, ?)`,
					childID,
					productID,
					ItemStatusNotStarted,
					now,
					now,
				); err != nil {
					return fmt.Errorf("insert child item: %w", err)
				}
			}
			childIDs = append(childIDs, childID)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE annotation_batches SET status = ?, updated_at = ? WHERE id = ?`,
			BatchStatusCompleted,
			now,
			parentID,
		); err != nil {
			return fmt.Errorf("complete parent batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return childIDs, nil
}
