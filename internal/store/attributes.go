package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const attributeColumns = "id, name, data_type, allowed_values, created_at, updated_at"

func scanAttribute(scanner rowScanner) (*Attribute, error) {
	var (
		id            int64
		name          string
		dataType      string
		allowedValues sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)
	if err := scanner.Scan(&id, &name, &dataType, &allowedValues, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	return &Attribute{
		ID:                id,
		Name:              name,
		DataType:          dataType,
		AllowedValuesJSON: allowedValues.String,
		CreatedAt:         timeFromColumn(createdRaw),
		UpdatedAt:         timeFromColumn(updatedRaw),
	}, nil
}

// CreateAttribute inserts a new attribute definition.
func (s *Store) CreateAttribute(ctx context.Context, attribute *Attribute) (*Attribute, error) {
	if attribute == nil {
		return nil, errors.New("attribute is nil")
	}
	now := timestamp(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO attributes (name, data_type, allowed_values, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		attribute.Name,
		attribute.DataType,
		nullableString(attribute.AllowedValuesJSON),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert attribute: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetAttribute(ctx, id)
}

// GetAttribute fetches an attribute by identifier. Returns nil when absent.
func (s *Store) GetAttribute(ctx context.Context, id int64) (*Attribute, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attributeColumns+` FROM attributes WHERE id = ?`, id)
	attribute, err := scanAttribute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attribute: %w", err)
	}
	return attribute, nil
}

// GetAttributeByName fetches an attribute by its unique name.
func (s *Store) GetAttributeByName(ctx context.Context, name string) (*Attribute, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attributeColumns+` FROM attributes WHERE name = ?`, name)
	attribute, err := scanAttribute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attribute by name: %w", err)
	}
	return attribute, nil
}

// ListAttributes returns all attributes ordered by name.
func (s *Store) ListAttributes(ctx context.Context) ([]*Attribute, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attributeColumns+` FROM attributes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list attributes: %w", err)
	}
	defer rows.Close()

	var attributes []*Attribute
	for rows.Next() {
		attribute, err := scanAttribute(rows)
		if err != nil {
			return nil, err
		}
		attributes = append(attributes, attribute)
	}
	return attributes, rows.Err()
}

// AppendAllowedValue adds a value to an attribute's vocabulary if it is not
// already present. Attributes without a vocabulary are left untouched.
func (s *Store) AppendAllowedValue(ctx context.Context, attributeID int64, value string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return appendAllowedValueTx(ctx, tx, attributeID, value)
	})
}

func appendAllowedValueTx(ctx context.Context, tx *sql.Tx, attributeID int64, value string) error {
	var allowedValues sql.NullString
	row := tx.QueryRowContext(ctx, `SELECT allowed_values FROM attributes WHERE id = ?`, attributeID)
	if err := row.Scan(&allowedValues); err != nil {
		return fmt.Errorf("load allowed values: %w", err)
	}
	if !allowedValues.Valid || allowedValues.String == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(allowedValues.String), &values); err != nil {
		return fmt.Errorf("decode allowed values: %w", err)
	}
	for _, existing := range values {
		if existing == value {
			return nil
		}
	}
	values = append(values, value)
	encoded, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode allowed values: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE attributes SET allowed_values = ?, updated_at = ? WHERE id = ?`,
		string(encoded),
		timestamp(time.Now()),
		attributeID,
	); err != nil {
		return fmt.Errorf("update allowed values: %w", err)
	}
	return nil
}

// CreateMapping binds an attribute to a category slot.
func (s *Store) CreateMapping(ctx context.Context, mapping *CategoryAttributeMapping) (*CategoryAttributeMapping, error) {
	if mapping == nil {
		return nil, errors.New("mapping is nil")
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO category_attribute_mappings (category, subcategory, attribute_id, is_required, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		mapping.Category,
		nullableString(mapping.Subcategory),
		mapping.AttributeID,
		boolToInt(mapping.IsRequired),
		timestamp(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert mapping: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	mapping.ID = id
	return mapping, nil
}

// MappingsForCategory returns mappings whose category matches and whose
// subcategory is either empty or equal to the provided subcategory.
func (s *Store) MappingsForCategory(ctx context.Context, category, subcategory string) ([]*CategoryAttributeMapping, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, category, subcategory, attribute_id, is_required, created_at
         FROM category_attribute_mappings
         WHERE category = ? AND (subcategory IS NULL OR subcategory = '' OR subcategory = ?)
         ORDER BY id`,
		category,
		subcategory,
	)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*CategoryAttributeMapping
	for rows.Next() {
		var (
			mapping     CategoryAttributeMapping
			subcatRaw   sql.NullString
			requiredRaw sql.NullInt64
			createdRaw  sql.NullString
		)
		if err := rows.Scan(&mapping.ID, &mapping.Category, &subcatRaw, &mapping.AttributeID, &requiredRaw, &createdRaw); err != nil {
			return nil, err
		}
		mapping.Subcategory = subcatRaw.String
		mapping.IsRequired = requiredRaw.Valid && requiredRaw.Int64 != 0
		mapping.CreatedAt = timeFromColumn(createdRaw)
		mappings = append(mappings, &mapping)
	}
	return mappings, rows.Err()
}
