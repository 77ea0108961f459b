package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"facet/internal/workflow"
)

const productColumns = "id, external_sku, name, description, category, subcategory, image_urls, price, status, created_at, updated_at"

func scanProduct(scanner rowScanner) (*Product, error) {
	var (
		id          int64
		externalSKU sql.NullString
		name        string
		description sql.NullString
		category    sql.NullString
		subcategory sql.NullString
		imageURLs   sql.NullString
		price       sql.NullFloat64
		statusStr   string
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&externalSKU,
		&name,
		&description,
		&category,
		&subcategory,
		&imageURLs,
		&price,
		&statusStr,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	return &Product{
		ID:            id,
		ExternalSKU:   externalSKU.String,
		Name:          name,
		Description:   description.String,
		Category:      category.String,
		Subcategory:   subcategory.String,
		ImageURLsJSON: imageURLs.String,
		Price:         float64PtrFromColumn(price),
		Status:        workflow.Status(statusStr),
		CreatedAt:     timeFromColumn(createdRaw),
		UpdatedAt:     timeFromColumn(updatedRaw),
	}, nil
}

// CreateProduct inserts a new product in pending_ai status.
func (s *Store) CreateProduct(ctx context.Context, product *Product) (*Product, error) {
	if product == nil {
		return nil, errors.New("product is nil")
	}
	now := timestamp(time.Now())
	status := product.Status
	if status == "" {
		status = workflow.StatusPendingAI
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO products (
            external_sku, name, description, category, subcategory,
            image_urls, price, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(product.ExternalSKU),
		product.Name,
		nullableString(product.Description),
		nullableString(product.Category),
		nullableString(product.Subcategory),
		nullableString(product.ImageURLsJSON),
		nullableFloat64(product.Price),
		status,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetProduct(ctx, id)
}

// GetProduct fetches a product by identifier. Returns nil when absent.
func (s *Store) GetProduct(ctx context.Context, id int64) (*Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

// UpdateProduct persists changes to a product's descriptive fields.
// Status changes must go through TransitionProduct.
func (s *Store) UpdateProduct(ctx context.Context, product *Product) error {
	if product == nil {
		return errors.New("product is nil")
	}
	product.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE products
         SET external_sku = ?, name = ?, description = ?, category = ?,
             subcategory = ?, image_urls = ?, price = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(product.ExternalSKU),
		product.Name,
		nullableString(product.Description),
		nullableString(product.Category),
		nullableString(product.Subcategory),
		nullableString(product.ImageURLsJSON),
		nullableFloat64(product.Price),
		timestamp(product.UpdatedAt),
		product.ID,
	); err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return nil
}

// ListProducts returns products filtered by status set (or all products when
// no status is provided), ordered by identifier.
func (s *Store) ListProducts(ctx context.Context, statuses ...workflow.Status) ([]*Product, error) {
	var (
		rows *sql.Rows
		err  error
	)
	baseQuery := `SELECT ` + productColumns + ` FROM products`
	orderClause := ` ORDER BY id`
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

// TransitionProduct moves a product between statuses, guarding on the
// expected source status so a concurrent writer cannot race the change.
// Returns false when the product was not in the expected status.
func (s *Store) TransitionProduct(ctx context.Context, id int64, from, to workflow.Status) (bool, error) {
	if err := workflow.Validate(from, to); err != nil {
		return false, err
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE products SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		timestamp(time.Now()),
		id,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("transition product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// transitionProductTx is TransitionProduct scoped to an open transaction.
func transitionProductTx(ctx context.Context, tx *sql.Tx, id int64, from, to workflow.Status) (bool, error) {
	if err := workflow.Validate(from, to); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(
		ctx,
		`UPDATE products SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		timestamp(time.Now()),
		id,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("transition product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// claimProductsTx claims up to limit products in the source status and moves
// them to the target status inside the supplied transaction. The UPDATE with
// a nested SELECT takes the write lock before any id is returned, so two
// concurrent claims can never both take the same product.
func claimProductsTx(ctx context.Context, tx *sql.Tx, from, to workflow.Status, limit int) ([]int64, error) {
	if err := workflow.Validate(from, to); err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(
		ctx,
		`UPDATE products SET status = ?, updated_at = ?
         WHERE id IN (SELECT id FROM products WHERE status = ? ORDER BY id LIMIT ?)
         RETURNING id`,
		to,
		timestamp(time.Now()),
		from,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim products: %w", err)
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

// CountProductsByStatus returns a count per lifecycle status, including
// zero counts for statuses with no products.
func (s *Store) CountProductsByStatus(ctx context.Context) (map[workflow.Status]int, error) {
	counts := make(map[workflow.Status]int, len(workflow.AllStatuses()))
	for _, status := range workflow.AllStatuses() {
		counts[status] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM products GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			statusStr string
			count     int
		)
		if err := rows.Scan(&statusStr, &count); err != nil {
			return nil, err
		}
		counts[workflow.Status(statusStr)] = count
	}
	return counts, rows.Err()
}
