package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const annotationColumns = "id, product_id, attribute_id, annotator_id, batch_item_id, annotated_value, status, note, is_correction, previous_value, created_at, updated_at"

func scanAnnotation(scanner rowScanner) (*HumanAnnotation, error) {
	var (
		annotation    HumanAnnotation
		batchItemID   sql.NullInt64
		status        string
		note          sql.NullString
		isCorrection  sql.NullInt64
		previousValue sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)
	if err := scanner.Scan(
		&annotation.ID,
		&annotation.ProductID,
		&annotation.AttributeID,
		&annotation.AnnotatorID,
		&batchItemID,
		&annotation.AnnotatedValue,
		&status,
		&note,
		&isCorrection,
		&previousValue,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	annotation.BatchItemID = int64PtrFromColumn(batchItemID)
	annotation.Status = AnnotationStatus(status)
	annotation.Note = note.String
	annotation.IsCorrection = isCorrection.Valid && isCorrection.Int64 != 0
	annotation.PreviousValue = previousValue.String
	annotation.CreatedAt = timeFromColumn(createdRaw)
	annotation.UpdatedAt = timeFromColumn(updatedRaw)
	return &annotation, nil
}

// UpsertAnnotation records an annotator's value for a product attribute.
// Resubmitting for the same (product, attribute, annotator, batch item)
// tuple overwrites the earlier record.
func (s *Store) UpsertAnnotation(ctx context.Context, annotation *HumanAnnotation) (*HumanAnnotation, error) {
	if annotation == nil {
		return nil, errors.New("annotation is nil")
	}
	now := timestamp(time.Now())
	status := annotation.Status
	if status == "" {
		status = AnnotationSuggested
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO human_annotations (
            product_id, attribute_id, annotator_id, batch_item_id,
            annotated_value, status, note, is_correction, previous_value,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(product_id, attribute_id, annotator_id, batch_item_id) DO UPDATE SET
            annotated_value = excluded.annotated_value,
            status = excluded.status,
            note = excluded.note,
            is_correction = excluded.is_correction,
            previous_value = excluded.previous_value,
            updated_at = excluded.updated_at`,
		annotation.ProductID,
		annotation.AttributeID,
		annotation.AnnotatorID,
		nullableInt64(annotation.BatchItemID),
		annotation.AnnotatedValue,
		status,
		nullableString(annotation.Note),
		boolToInt(annotation.IsCorrection),
		nullableString(annotation.PreviousValue),
		now,
		now,
	); err != nil {
		return nil, fmt.Errorf("upsert annotation: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+annotationColumns+` FROM human_annotations
         WHERE product_id = ? AND attribute_id = ? AND annotator_id = ?
           AND batch_item_id IS ?`,
		annotation.ProductID,
		annotation.AttributeID,
		annotation.AnnotatorID,
		nullableInt64(annotation.BatchItemID),
	)
	stored, err := scanAnnotation(row)
	if err != nil {
		return nil, fmt.Errorf("reload annotation: %w", err)
	}
	return stored, nil
}

// GetAnnotation fetches an annotation by identifier. Returns nil when absent.
func (s *Store) GetAnnotation(ctx context.Context, id int64) (*HumanAnnotation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+annotationColumns+` FROM human_annotations WHERE id = ?`, id)
	annotation, err := scanAnnotation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get annotation: %w", err)
	}
	return annotation, nil
}

// AnnotationsByIDs fetches annotations matching the provided identifiers.
func (s *Store) AnnotationsByIDs(ctx context.Context, ids []int64) ([]*HumanAnnotation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+annotationColumns+` FROM human_annotations WHERE id IN (`+placeholders+`) ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query annotations by id: %w", err)
	}
	defer rows.Close()

	var annotations []*HumanAnnotation
	for rows.Next() {
		annotation, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, annotation)
	}
	return annotations, rows.Err()
}

// ApprovedAnnotationsForPair returns approved annotations for a product
// attribute in ascending id order. Overlap detection and finalization both
// depend on this ordering for deterministic tie-breaks.
func (s *Store) ApprovedAnnotationsForPair(ctx context.Context, productID, attributeID int64) ([]*HumanAnnotation, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+annotationColumns+` FROM human_annotations
         WHERE product_id = ? AND attribute_id = ? AND status = ? ORDER BY id`,
		productID,
		attributeID,
		AnnotationApproved,
	)
	if err != nil {
		return nil, fmt.Errorf("query approved annotations: %w", err)
	}
	defer rows.Close()

	var annotations []*HumanAnnotation
	for rows.Next() {
		annotation, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, annotation)
	}
	return annotations, rows.Err()
}

// AnnotationsForProduct returns a product's annotations, optionally filtered
// by status, in ascending id order.
func (s *Store) AnnotationsForProduct(ctx context.Context, productID int64, statuses ...AnnotationStatus) ([]*HumanAnnotation, error) {
	var (
		rows *sql.Rows
		err  error
	)
	baseQuery := `SELECT ` + annotationColumns + ` FROM human_annotations WHERE product_id = ?`
	orderClause := ` ORDER BY id`
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause, productID)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, 0, len(statuses)+1)
		args = append(args, productID)
		for _, status := range statuses {
			args = append(args, status)
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` AND status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("query product annotations: %w", err)
	}
	defer rows.Close()

	var annotations []*HumanAnnotation
	for rows.Next() {
		annotation, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, annotation)
	}
	return annotations, rows.Err()
}

// promoteSuggestedTx moves all of a product's suggested annotations to
// approved inside the supplied transaction.
func promoteSuggestedTx(ctx context.Context, tx *sql.Tx, productID int64) (int64, error) {
	res, err := tx.ExecContext(
		ctx,
		`UPDATE human_annotations SET status = ?, updated_at = ?
         WHERE product_id = ? AND status = ?`,
		AnnotationApproved,
		timestamp(time.Now()),
		productID,
		AnnotationSuggested,
	)
	if err != nil {
		return 0, fmt.Errorf("promote suggested annotations: %w", err)
	}
	return res.RowsAffected()
}
