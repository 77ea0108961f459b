package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const flagColumns = "id, product_id, attribute_id, annotator_id, batch_item_id, requested_value, reason, status, reviewed_by, reviewed_at, resolution_note, created_at, updated_at"

func scanFlag(scanner rowScanner) (*MissingValueFlag, error) {
	var (
		flag        MissingValueFlag
		batchItemID sql.NullInt64
		reason      sql.NullString
		status      string
		reviewedBy  sql.NullInt64
		reviewedRaw sql.NullString
		note        sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&flag.ID,
		&flag.ProductID,
		&flag.AttributeID,
		&flag.AnnotatorID,
		&batchItemID,
		&flag.RequestedValue,
		&reason,
		&status,
		&reviewedBy,
		&reviewedRaw,
		&note,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	flag.BatchItemID = int64PtrFromColumn(batchItemID)
	flag.Reason = reason.String
	flag.Status = FlagStatus(status)
	flag.ReviewedBy = int64PtrFromColumn(reviewedBy)
	flag.ReviewedAt = timePtrFromColumn(reviewedRaw)
	flag.ResolutionNote = note.String
	flag.CreatedAt = timeFromColumn(createdRaw)
	flag.UpdatedAt = timeFromColumn(updatedRaw)
	return &flag, nil
}

// CreateFlag records an annotator's request for a new vocabulary value.
// Duplicate requests for the same tuple update the earlier pending record.
func (s *Store) CreateFlag(ctx context.Context, flag *MissingValueFlag) (*MissingValueFlag, error) {
	if flag == nil {
		return nil, errors.New("flag is nil")
	}
	now := timestamp(time.Now())
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO missing_value_flags (
            product_id, attribute_id, annotator_id, batch_item_id,
            requested_value, reason, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(product_id, attribute_id, annotator_id, batch_item_id) DO UPDATE SET
            requested_value = excluded.requested_value,
            reason = excluded.reason,
            updated_at = excluded.updated_at
        WHERE missing_value_flags.status = 'pending'`,
		flag.ProductID,
		flag.AttributeID,
		flag.AnnotatorID,
		nullableInt64(flag.BatchItemID),
		flag.RequestedValue,
		nullableString(flag.Reason),
		FlagPending,
		now,
		now,
	); err != nil {
		return nil, fmt.Errorf("create flag: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+flagColumns+` FROM missing_value_flags
         WHERE product_id = ? AND attribute_id = ? AND annotator_id = ?
           AND batch_item_id IS ?`,
		flag.ProductID,
		flag.AttributeID,
		flag.AnnotatorID,
		nullableInt64(flag.BatchItemID),
	)
	stored, err := scanFlag(row)
	if err != nil {
		return nil, fmt.Errorf("reload flag: %w", err)
	}
	return stored, nil
}

// GetFlag fetches a flag by identifier. Returns nil when absent.
func (s *Store) GetFlag(ctx context.Context, id int64) (*MissingValueFlag, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+flagColumns+` FROM missing_value_flags WHERE id = ?`, id)
	flag, err := scanFlag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get flag: %w", err)
	}
	return flag, nil
}

// PendingFlags returns flags awaiting review, oldest first.
func (s *Store) PendingFlags(ctx context.Context) ([]*MissingValueFlag, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+flagColumns+` FROM missing_value_flags WHERE status = ? ORDER BY id`,
		FlagPending,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending flags: %w", err)
	}
	defer rows.Close()

	var flags []*MissingValueFlag
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		flags = append(flags, flag)
	}
	return flags, rows.Err()
}

// ResolveFlag approves or rejects a pending flag. On approval the requested
// value is appended to the attribute's allowed vocabulary in the same
// transaction. Returns false when the flag was not pending.
func (s *Store) ResolveFlag(ctx context.Context, flagID int64, approve bool, reviewedBy *int64, note string) (bool, error) {
	resolved := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			attributeID    int64
			requestedValue string
		)
		row := tx.QueryRowContext(
			ctx,
			`SELECT attribute_id, requested_value FROM missing_value_flags
             WHERE id = ? AND status = ?`,
			flagID,
			FlagPending,
		)
		if err := row.Scan(&attributeID, &requestedValue); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("load flag: %w", err)
		}
		status := FlagRejected
		if approve {
			status = FlagApproved
		}
		now := timestamp(time.Now())
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE missing_value_flags
             SET status = ?, reviewed_by = ?, reviewed_at = ?, resolution_note = ?, updated_at = ?
             WHERE id = ?`,
			status,
			nullableInt64(reviewedBy),
			now,
			nullableString(note),
			now,
			flagID,
		); err != nil {
			return fmt.Errorf("resolve flag: %w", err)
		}
		if approve {
			if err := appendAllowedValueTx(ctx, tx, attributeID, requestedValue); err != nil {
				return err
			}
		}
		resolved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return resolved, nil
}
