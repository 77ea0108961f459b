package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const suggestionColumns = "id, product_id, attribute_id, provider_id, suggested_value, confidence, raw_response, created_at"

func scanSuggestion(scanner rowScanner) (*AISuggestion, error) {
	var (
		suggestion  AISuggestion
		rawResponse sql.NullString
		createdRaw  sql.NullString
	)
	if err := scanner.Scan(
		&suggestion.ID,
		&suggestion.ProductID,
		&suggestion.AttributeID,
		&suggestion.ProviderID,
		&suggestion.SuggestedValue,
		&suggestion.Confidence,
		&rawResponse,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	suggestion.RawResponseJSON = rawResponse.String
	suggestion.CreatedAt = timeFromColumn(createdRaw)
	return &suggestion, nil
}

// UpsertSuggestion records a provider's suggestion for a product attribute,
// replacing any earlier suggestion from the same provider for the same pair.
func (s *Store) UpsertSuggestion(ctx context.Context, suggestion *AISuggestion) (*AISuggestion, error) {
	if suggestion == nil {
		return nil, errors.New("suggestion is nil")
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO ai_suggestions (
            product_id, attribute_id, provider_id, suggested_value, confidence, raw_response, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(product_id, attribute_id, provider_id) DO UPDATE SET
            suggested_value = excluded.suggested_value,
            confidence = excluded.confidence,
            raw_response = excluded.raw_response`,
		suggestion.ProductID,
		suggestion.AttributeID,
		suggestion.ProviderID,
		suggestion.SuggestedValue,
		suggestion.Confidence,
		nullableString(suggestion.RawResponseJSON),
		timestamp(time.Now()),
	); err != nil {
		return nil, fmt.Errorf("upsert suggestion: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+suggestionColumns+` FROM ai_suggestions
         WHERE product_id = ? AND attribute_id = ? AND provider_id = ?`,
		suggestion.ProductID,
		suggestion.AttributeID,
		suggestion.ProviderID,
	)
	stored, err := scanSuggestion(row)
	if err != nil {
		return nil, fmt.Errorf("reload suggestion: %w", err)
	}
	return stored, nil
}

// SuggestionsForPair returns all provider suggestions for a product
// attribute in ascending provider id order. Consensus iterates this order.
func (s *Store) SuggestionsForPair(ctx context.Context, productID, attributeID int64) ([]*AISuggestion, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+suggestionColumns+` FROM ai_suggestions
         WHERE product_id = ? AND attribute_id = ? ORDER BY provider_id`,
		productID,
		attributeID,
	)
	if err != nil {
		return nil, fmt.Errorf("query suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []*AISuggestion
	for rows.Next() {
		suggestion, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, suggestion)
	}
	return suggestions, rows.Err()
}

// SuggestionsForProduct returns all suggestions for a product ordered by
// attribute then provider.
func (s *Store) SuggestionsForProduct(ctx context.Context, productID int64) ([]*AISuggestion, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+suggestionColumns+` FROM ai_suggestions
         WHERE product_id = ? ORDER BY attribute_id, provider_id`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("query product suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []*AISuggestion
	for rows.Next() {
		suggestion, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, suggestion)
	}
	return suggestions, rows.Err()
}
