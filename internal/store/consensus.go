package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const consensusColumns = "id, product_id, attribute_id, consensus_value, method, confidence, version, is_active, created_at"

func scanConsensus(scanner rowScanner) (*AIConsensus, error) {
	var (
		consensus  AIConsensus
		isActive   sql.NullInt64
		createdRaw sql.NullString
	)
	if err := scanner.Scan(
		&consensus.ID,
		&consensus.ProductID,
		&consensus.AttributeID,
		&consensus.ConsensusValue,
		&consensus.Method,
		&consensus.Confidence,
		&consensus.Version,
		&isActive,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	consensus.IsActive = isActive.Valid && isActive.Int64 != 0
	consensus.CreatedAt = timeFromColumn(createdRaw)
	return &consensus, nil
}

// WriteConsensus deactivates any active consensus for the pair and inserts a
// new active record with version = previous max + 1, in one transaction. The
// superseded history is never mutated beyond the is_active bit.
func (s *Store) WriteConsensus(ctx context.Context, productID, attributeID int64, value, method string, confidence float64) (*AIConsensus, error) {
	var inserted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = writeConsensusTx(ctx, tx, productID, attributeID, value, method, confidence)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.getConsensusByID(ctx, inserted)
}

func writeConsensusTx(ctx context.Context, tx *sql.Tx, productID, attributeID int64, value, method string, confidence float64) (int64, error) {
	var maxVersion sql.NullInt64
	row := tx.QueryRowContext(
		ctx,
		`SELECT MAX(version) FROM ai_consensus WHERE product_id = ? AND attribute_id = ?`,
		productID,
		attributeID,
	)
	if err := row.Scan(&maxVersion); err != nil {
		return 0, fmt.Errorf("read max consensus version: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE ai_consensus SET is_active = 0
         WHERE product_id = ? AND attribute_id = ? AND is_active = 1`,
		productID,
		attributeID,
	); err != nil {
		return 0, fmt.Errorf("deactivate consensus: %w", err)
	}
	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO ai_consensus (
            product_id, attribute_id, consensus_value, method, confidence, version, is_active, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		productID,
		attributeID,
		value,
		method,
		confidence,
		maxVersion.Int64+1,
		timestamp(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("insert consensus: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func (s *Store) getConsensusByID(ctx context.Context, id int64) (*AIConsensus, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+consensusColumns+` FROM ai_consensus WHERE id = ?`, id)
	consensus, err := scanConsensus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get consensus: %w", err)
	}
	return consensus, nil
}

// ActiveConsensus returns the active consensus for a pair, or nil.
func (s *Store) ActiveConsensus(ctx context.Context, productID, attributeID int64) (*AIConsensus, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+consensusColumns+` FROM ai_consensus
         WHERE product_id = ? AND attribute_id = ? AND is_active = 1`,
		productID,
		attributeID,
	)
	consensus, err := scanConsensus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active consensus: %w", err)
	}
	return consensus, nil
}

// ConsensusHistory returns all consensus versions for a pair, newest first.
func (s *Store) ConsensusHistory(ctx context.Context, productID, attributeID int64) ([]*AIConsensus, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+consensusColumns+` FROM ai_consensus
         WHERE product_id = ? AND attribute_id = ? ORDER BY version DESC`,
		productID,
		attributeID,
	)
	if err != nil {
		return nil, fmt.Errorf("query consensus history: %w", err)
	}
	defer rows.Close()

	var history []*AIConsensus
	for rows.Next() {
		consensus, err := scanConsensus(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, consensus)
	}
	return history, rows.Err()
}

// ActiveConsensusForProduct returns the active consensus per attribute for a
// product, keyed by attribute id.
func (s *Store) ActiveConsensusForProduct(ctx context.Context, productID int64) (map[int64]*AIConsensus, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+consensusColumns+` FROM ai_consensus
         WHERE product_id = ? AND is_active = 1`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("query product consensus: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]*AIConsensus)
	for rows.Next() {
		consensus, err := scanConsensus(rows)
		if err != nil {
			return nil, err
		}
		result[consensus.AttributeID] = consensus
	}
	return result, rows.Err()
}
