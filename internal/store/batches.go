package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"facet/internal/workflow"
)

const batchColumns = "id, name, description, batch_type, status, progress, batch_size, assigned_to, parent_batch_id, created_at, updated_at"

func scanBatch(scanner rowScanner) (*AnnotationBatch, error) {
	var (
		batch       AnnotationBatch
		description sql.NullString
		batchType   string
		status      string
		assignedTo  sql.NullInt64
		parentID    sql.NullInt64
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&batch.ID,
		&batch.Name,
		&description,
		&batchType,
		&status,
		&batch.Progress,
		&batch.BatchSize,
		&assignedTo,
		&parentID,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	batch.Description = description.String
	batch.BatchType = BatchType(batchType)
	batch.Status = BatchStatus(status)
	batch.AssignedTo = int64PtrFromColumn(assignedTo)
	batch.ParentBatchID = int64PtrFromColumn(parentID)
	batch.CreatedAt = timeFromColumn(createdRaw)
	batch.UpdatedAt = timeFromColumn(updatedRaw)
	return &batch, nil
}

// BatchSpec describes one batch to create from a claimed product set.
// ItemStatus defaults to not_started; auto-assignment parent batches set it
// to done since their bookkeeping items carry no further work.
type BatchSpec struct {
	Name        string
	Description string
	BatchType   BatchType
	Status      BatchStatus
	AssignedTo  *int64
	ProductIDs  []int64
	ItemStatus  ItemStatus
}

// CreateBatchesWithClaim claims up to size products in the source status,
// transitions them to the target status, and creates the batches returned by
// build, all in one transaction. Two concurrent calls can never both claim
// the same product. When linkToFirst is set every batch after the first is
// linked to the first as its parent, marking them as overlap siblings.
//
// An empty claim is a no-op: no batch is created and (nil, nil) is returned.
func (s *Store) CreateBatchesWithClaim(
	ctx context.Context,
	from, to workflow.Status,
	size int,
	linkToFirst bool,
	build func(productIDs []int64) ([]BatchSpec, error),
) ([]*AnnotationBatch, error) {
	var batchIDs []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		productIDs, err := claimProductsTx(ctx, tx, from, to, size)
		if err != nil {
			return err
		}
		if len(productIDs) == 0 {
			return nil
		}
		specs, err := build(productIDs)
		if err != nil {
			return err
		}
		now := timestamp(time.Now())
		var parentID *int64
		for i, spec := range specs {
			var specParent *int64
			if linkToFirst && i > 0 {
				specParent = parentID
			}
			batchStatus := spec.Status
			if batchStatus == "" {
				batchStatus = BatchStatusPending
			}
			itemStatus := spec.ItemStatus
			if itemStatus == "" {
				itemStatus = ItemStatusNotStarted
			}
			progress := 0.0
			if itemStatus == ItemStatusDone && len(spec.ProductIDs) > 0 {
				progress = 100
			}
			res, err := tx.ExecContext(
				ctx,
				`INSERT INTO annotation_batches (
                    name, description, batch_type, status, progress, batch_size,
                    assigned_to, parent_batch_id, created_at, updated_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				spec.Name,
				nullableString(spec.Description),
				spec.BatchType,
				batchStatus,
				progress,
				len(spec.ProductIDs),
				nullableInt64(spec.AssignedTo),
				nullableInt64(specParent),
				now,
				now,
			)
			if err != nil {
				return fmt.Errorf("insert batch: %w", err)
			}
			batchID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("last insert id: %w", err)
			}
			if i == 0 {
				parentID = &batchID
			}
			for _, productID := range spec.ProductIDs {
				var completedAt any
				if itemStatus == ItemStatusDone {
					completedAt = now
				}
				if _, err := tx.ExecContext(
					ctx,
					`INSERT INTO batch_items (batch_id, product_id, status, completed_at, created_at, updated_at)
                     VALUES (?, ?, ?, ?, ?, ?)`,
					batchID,
					productID,
					itemStatus,
					completedAt,
					now,
					now,
				); err != nil {
					return fmt.Errorf("insert batch item: %w", err)
				}
			}
			batchIDs = append(batchIDs, batchID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(batchIDs) == 0 {
		return nil, nil
	}
	batches := make([]*AnnotationBatch, 0, len(batchIDs))
	for _, id := range batchIDs {
		batch, err := s.GetBatch(ctx, id)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// GetBatch fetches a batch by identifier. Returns nil when absent.
func (s *Store) GetBatch(ctx context.Context, id int64) (*AnnotationBatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM annotation_batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// ListBatches returns batches filtered by type (empty matches all), newest first.
func (s *Store) ListBatches(ctx context.Context, batchType BatchType) ([]*AnnotationBatch, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if batchType == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM annotation_batches ORDER BY id DESC`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM annotation_batches WHERE batch_type = ? ORDER BY id DESC`, batchType)
	}
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*AnnotationBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// SetBatchStatus updates a batch's status.
func (s *Store) SetBatchStatus(ctx context.Context, id int64, status BatchStatus) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE annotation_batches SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		timestamp(time.Now()),
		id,
	); err != nil {
		return fmt.Errorf("set batch status: %w", err)
	}
	return nil
}

// AssignBatch sets the annotator a batch is assigned to.
func (s *Store) AssignBatch(ctx context.Context, batchID, annotatorID int64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE annotation_batches SET assigned_to = ?, updated_at = ? WHERE id = ?`,
		annotatorID,
		timestamp(time.Now()),
		batchID,
	); err != nil {
		return fmt.Errorf("assign batch: %w", err)
	}
	return nil
}

// SiblingBatches returns the batches created alongside the given one for
// overlap distribution: the parent and every batch sharing that parent. A
// batch with no parent and no children has no siblings; callers fall back to
// the creation time window below.
func (s *Store) SiblingBatches(ctx context.Context, batchID int64) ([]*AnnotationBatch, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}
	rootID := batch.ID
	if batch.ParentBatchID != nil {
		rootID = *batch.ParentBatchID
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+batchColumns+` FROM annotation_batches
         WHERE id = ? OR parent_batch_id = ? ORDER BY id`,
		rootID,
		rootID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sibling batches: %w", err)
	}
	defer rows.Close()

	var siblings []*AnnotationBatch
	for rows.Next() {
		sibling, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		siblings = append(siblings, sibling)
	}
	return siblings, rows.Err()
}

// BatchesCreatedNear returns human batches created within the window around
// the reference time. Used as a degraded sibling heuristic for batches
// predating parent links.
func (s *Store) BatchesCreatedNear(ctx context.Context, reference time.Time, window time.Duration) ([]*AnnotationBatch, error) {
	lower := timestamp(reference.Add(-window))
	upper := timestamp(reference.Add(window))
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+batchColumns+` FROM annotation_batches
         WHERE batch_type = ? AND parent_batch_id IS NULL AND created_at BETWEEN ? AND ?
         ORDER BY id`,
		BatchTypeHuman,
		lower,
		upper,
	)
	if err != nil {
		return nil, fmt.Errorf("query batches near: %w", err)
	}
	defer rows.Close()

	var batches []*AnnotationBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}
