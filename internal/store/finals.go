package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"facet/internal/workflow"
)

const finalColumns = "id, product_id, attribute_id, final_value, source, decided_by, confidence, version, is_active, created_at"

func scanFinal(scanner rowScanner) (*FinalAttribute, error) {
	var (
		final      FinalAttribute
		source     string
		decidedBy  sql.NullInt64
		isActive   sql.NullInt64
		createdRaw sql.NullString
	)
	if err := scanner.Scan(
		&final.ID,
		&final.ProductID,
		&final.AttributeID,
		&final.FinalValue,
		&source,
		&decidedBy,
		&final.Confidence,
		&final.Version,
		&isActive,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	final.Source = FinalSource(source)
	final.DecidedBy = int64PtrFromColumn(decidedBy)
	final.IsActive = isActive.Valid && isActive.Int64 != 0
	final.CreatedAt = timeFromColumn(createdRaw)
	return &final, nil
}

// writeFinalTx deactivates the active final for the pair and inserts a new
// active record with version = previous max + 1.
func writeFinalTx(ctx context.Context, tx *sql.Tx, productID, attributeID int64, value string, source FinalSource, decidedBy *int64, confidence float64) (int64, error) {
	var maxVersion sql.NullInt64
	row := tx.QueryRowContext(
		ctx,
		`SELECT MAX(version) FROM final_attributes WHERE product_id = ? AND attribute_id = ?`,
		productID,
		attributeID,
	)
	if err := row.Scan(&maxVersion); err != nil {
		return 0, fmt.Errorf("read max final version: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE final_attributes SET is_active = 0
         WHERE product_id = ? AND attribute_id = ? AND is_active = 1`,
		productID,
		attributeID,
	); err != nil {
		return 0, fmt.Errorf("deactivate final: %w", err)
	}
	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO final_attributes (
            product_id, attribute_id, final_value, source, decided_by,
            confidence, version, is_active, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		productID,
		attributeID,
		value,
		source,
		nullableInt64(decidedBy),
		confidence,
		maxVersion.Int64+1,
		timestamp(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("insert final: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// WriteFinal versions in a new active final value for a pair.
func (s *Store) WriteFinal(ctx context.Context, productID, attributeID int64, value string, source FinalSource, decidedBy *int64, confidence float64) (*FinalAttribute, error) {
	var inserted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = writeFinalTx(ctx, tx, productID, attributeID, value, source, decidedBy, confidence)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.getFinalByID(ctx, inserted)
}

func (s *Store) getFinalByID(ctx context.Context, id int64) (*FinalAttribute, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+finalColumns+` FROM final_attributes WHERE id = ?`, id)
	final, err := scanFinal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get final: %w", err)
	}
	return final, nil
}

// ActiveFinal returns the active final value for a pair, or nil.
func (s *Store) ActiveFinal(ctx context.Context, productID, attributeID int64) (*FinalAttribute, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+finalColumns+` FROM final_attributes
         WHERE product_id = ? AND attribute_id = ? AND is_active = 1`,
		productID,
		attributeID,
	)
	final, err := scanFinal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active final: %w", err)
	}
	return final, nil
}

// ActiveFinalsForProduct returns active finals keyed by attribute id.
func (s *Store) ActiveFinalsForProduct(ctx context.Context, productID int64) (map[int64]*FinalAttribute, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+finalColumns+` FROM final_attributes
         WHERE product_id = ? AND is_active = 1`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("query product finals: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]*FinalAttribute)
	for rows.Next() {
		final, err := scanFinal(rows)
		if err != nil {
			return nil, err
		}
		result[final.AttributeID] = final
	}
	return result, rows.Err()
}

// FinalHistory returns all final versions for a pair, newest first.
func (s *Store) FinalHistory(ctx context.Context, productID, attributeID int64) ([]*FinalAttribute, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+finalColumns+` FROM final_attributes
         WHERE product_id = ? AND attribute_id = ? ORDER BY version DESC`,
		productID,
		attributeID,
	)
	if err != nil {
		return nil, fmt.Errorf("query final history: %w", err)
	}
	defer rows.Close()

	var history []*FinalAttribute
	for rows.Next() {
		final, err := scanFinal(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, final)
	}
	return history, rows.Err()
}

// FinalDecision is one attribute's resolved value ready to be written during
// product finalization.
type FinalDecision struct {
	AttributeID int64
	Value       string
	Source      FinalSource
	DecidedBy   *int64
	Confidence  float64
}

// ApplyFinalization promotes the product's suggested annotations to
// approved, writes every decided final value, and transitions the product
// from reviewed to finalized, atomically. Nothing is written when the
// product is not in reviewed status.
func (s *Store) ApplyFinalization(ctx context.Context, productID int64, decisions []FinalDecision) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		moved, err := transitionProductTx(ctx, tx, productID, workflow.StatusReviewed, workflow.StatusFinalized)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("product %d is not in reviewed status", productID)
		}
		if _, err := promoteSuggestedTx(ctx, tx, productID); err != nil {
			return err
		}
		for _, decision := range decisions {
			if _, err := writeFinalTx(ctx, tx, productID, decision.AttributeID, decision.Value, decision.Source, decision.DecidedBy, decision.Confidence); err != nil {
				return err
			}
		}
		return nil
	})
}
