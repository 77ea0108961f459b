package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const overlapColumns = "id, product_id, attribute_id, annotation_ids, resolved_value, resolved_by, resolved_at, is_resolved, created_at, updated_at"

func scanOverlap(scanner rowScanner) (*OverlapComparison, error) {
	var (
		overlap       OverlapComparison
		annotationIDs string
		resolvedValue sql.NullString
		resolvedBy    sql.NullInt64
		resolvedRaw   sql.NullString
		isResolved    sql.NullInt64
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)
	if err := scanner.Scan(
		&overlap.ID,
		&overlap.ProductID,
		&overlap.AttributeID,
		&annotationIDs,
		&resolvedValue,
		&resolvedBy,
		&resolvedRaw,
		&isResolved,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	overlap.AnnotationIDsJSON = annotationIDs
	overlap.ResolvedValue = resolvedValue.String
	overlap.ResolvedBy = int64PtrFromColumn(resolvedBy)
	overlap.ResolvedAt = timePtrFromColumn(resolvedRaw)
	overlap.IsResolved = isResolved.Valid && isResolved.Int64 != 0
	overlap.CreatedAt = timeFromColumn(createdRaw)
	overlap.UpdatedAt = timeFromColumn(updatedRaw)
	return &overlap, nil
}

// UpsertOverlap records a conflict for a pair. Re-detection refreshes the
// annotation set of an existing unresolved record; a resolved record is
// left untouched.
func (s *Store) UpsertOverlap(ctx context.Context, productID, attributeID int64, annotationIDs []int64) (*OverlapComparison, error) {
	encoded, err := json.Marshal(annotationIDs)
	if err != nil {
		return nil, fmt.Errorf("encode annotation ids: %w", err)
	}
	now := timestamp(time.Now())
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO overlap_comparisons (
            product_id, attribute_id, annotation_ids, is_resolved, created_at, updated_at
        ) VALUES (?, ?, ?, 0, ?, ?)
        ON CONFLICT(product_id, attribute_id) DO UPDATE SET
            annotation_ids = excluded.annotation_ids,
            updated_at = excluded.updated_at
        WHERE overlap_comparisons.is_resolved = 0`,
		productID,
		attributeID,
		string(encoded),
		now,
		now,
	); err != nil {
		return nil, fmt.Errorf("upsert overlap: %w", err)
	}
	return s.OverlapForPair(ctx, productID, attributeID)
}

// GetOverlap fetches an overlap comparison by identifier. Returns nil when absent.
func (s *Store) GetOverlap(ctx context.Context, id int64) (*OverlapComparison, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+overlapColumns+` FROM overlap_comparisons WHERE id = ?`, id)
	overlap, err := scanOverlap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get overlap: %w", err)
	}
	return overlap, nil
}

// OverlapForPair returns the single overlap record for a pair, or nil.
func (s *Store) OverlapForPair(ctx context.Context, productID, attributeID int64) (*OverlapComparison, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+overlapColumns+` FROM overlap_comparisons
         WHERE product_id = ? AND attribute_id = ?`,
		productID,
		attributeID,
	)
	overlap, err := scanOverlap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get overlap for pair: %w", err)
	}
	return overlap, nil
}

// UnresolvedOverlaps returns all unresolved overlap comparisons, oldest first.
func (s *Store) UnresolvedOverlaps(ctx context.Context) ([]*OverlapComparison, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+overlapColumns+` FROM overlap_comparisons WHERE is_resolved = 0 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query unresolved overlaps: %w", err)
	}
	defer rows.Close()

	var overlaps []*OverlapComparison
	for rows.Next() {
		overlap, err := scanOverlap(rows)
		if err != nil {
			return nil, err
		}
		overlaps = append(overlaps, overlap)
	}
	return overlaps, rows.Err()
}

// ResolveOverlap writes the admin's chosen value into the comparison and
// into a new active final attribute for the pair, atomically. Returns false
// when the comparison was already resolved.
func (s *Store) ResolveOverlap(ctx context.Context, overlapID int64, value string, resolvedBy *int64, confidence float64) (bool, error) {
	resolved := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			productID   int64
			attributeID int64
		)
		row := tx.QueryRowContext(
			ctx,
			`SELECT product_id, attribute_id FROM overlap_comparisons
             WHERE id = ? AND is_resolved = 0`,
			overlapID,
		)
		if err := row.Scan(&productID, &attributeID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("load overlap: %w", err)
		}
		now := timestamp(time.Now())
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE overlap_comparisons
             SET resolved_value = ?, resolved_by = ?, resolved_at = ?,
                 is_resolved = 1, updated_at = ?
             WHERE id = ?`,
			value,
			nullableInt64(resolvedBy),
			now,
			now,
			overlapID,
		); err != nil {
			return fmt.Errorf("resolve overlap: %w", err)
		}
		if _, err := writeFinalTx(ctx, tx, productID, attributeID, value, FinalSourceConsensus, resolvedBy, confidence); err != nil {
			return err
		}
		resolved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return resolved, nil
}
