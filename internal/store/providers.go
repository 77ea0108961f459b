package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const providerColumns = "id, name, service_name, model, is_active, config, created_at"

func scanProvider(scanner rowScanner) (*AIProvider, error) {
	var (
		id          int64
		name        string
		serviceName string
		model       string
		isActive    sql.NullInt64
		configJSON  sql.NullString
		createdRaw  sql.NullString
	)
	if err := scanner.Scan(&id, &name, &serviceName, &model, &isActive, &configJSON, &createdRaw); err != nil {
		return nil, err
	}
	return &AIProvider{
		ID:          id,
		Name:        name,
		ServiceName: serviceName,
		Model:       model,
		IsActive:    isActive.Valid && isActive.Int64 != 0,
		ConfigJSON:  configJSON.String,
		CreatedAt:   timeFromColumn(createdRaw),
	}, nil
}

// CreateProvider inserts a new AI provider.
func (s *Store) CreateProvider(ctx context.Context, provider *AIProvider) (*AIProvider, error) {
	if provider == nil {
		return nil, errors.New("provider is nil")
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO ai_providers (name, service_name, model, is_active, config, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		provider.Name,
		provider.ServiceName,
		provider.Model,
		boolToInt(provider.IsActive),
		nullableString(provider.ConfigJSON),
		timestamp(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert provider: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetProvider(ctx, id)
}

// GetProvider fetches a provider by identifier. Returns nil when absent.
func (s *Store) GetProvider(ctx context.Context, id int64) (*AIProvider, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM ai_providers WHERE id = ?`, id)
	provider, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return provider, nil
}

// UpdateProvider persists changes to a provider.
func (s *Store) UpdateProvider(ctx context.Context, provider *AIProvider) error {
	if provider == nil {
		return errors.New("provider is nil")
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE ai_providers
         SET name = ?, service_name = ?, model = ?, is_active = ?, config = ?
         WHERE id = ?`,
		provider.Name,
		provider.ServiceName,
		provider.Model,
		boolToInt(provider.IsActive),
		nullableString(provider.ConfigJSON),
		provider.ID,
	); err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	return nil
}

// ActiveProviders returns active providers in ascending id order. Consensus
// tie-breaking depends on this ordering staying stable.
func (s *Store) ActiveProviders(ctx context.Context) ([]*AIProvider, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+providerColumns+` FROM ai_providers WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active providers: %w", err)
	}
	defer rows.Close()

	var providers []*AIProvider
	for rows.Next() {
		provider, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	return providers, rows.Err()
}

// ListProviders returns all providers ordered by identifier.
func (s *Store) ListProviders(ctx context.Context) ([]*AIProvider, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+providerColumns+` FROM ai_providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var providers []*AIProvider
	for rows.Next() {
		provider, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	return providers, rows.Err()
}
