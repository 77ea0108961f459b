// Package taxonomy resolves which attributes apply to a product based on
// its category and subcategory mappings.
package taxonomy

import (
	"context"

	"facet/internal/services"
	"facet/internal/store"
)

// Resolver answers applicability queries against the mapping table.
type Resolver struct {
	store *store.Store
}

// NewResolver constructs a Resolver backed by the given store.
func NewResolver(st *store.Store) *Resolver {
	return &Resolver{store: st}
}

// ApplicableAttributes returns the attributes that apply to a product.
// Mappings match on category, with subcategory-specific mappings layered on
// top of category-wide ones. A product with no category, or a category with
// no mappings, falls back to every known attribute so unmapped catalogs
// still get labeled; the fallback applies even when requiredOnly is set,
// since the required filter only has meaning where mappings exist.
func (r *Resolver) ApplicableAttributes(ctx context.Context, product *store.Product, requiredOnly bool) ([]*store.Attribute, error) {
	if product == nil {
		return nil, services.Wrap(services.ErrValidation, "taxonomy", "applicable attributes", "product is nil", nil)
	}
	if product.Category == "" {
		return r.store.ListAttributes(ctx)
	}

	mappings, err := r.store.MappingsForCategory(ctx, product.Category, product.Subcategory)
	if err != nil {
		return nil, services.Wrap(nil, "taxonomy", "applicable attributes", "load mappings", err)
	}
	if len(mappings) == 0 {
		return r.store.ListAttributes(ctx)
	}

	// A subcategory-specific mapping overrides the category-wide one for
	// the same attribute, including its required bit.
	required := make(map[int64]bool)
	specific := make(map[int64]bool)
	order := make([]int64, 0, len(mappings))
	for _, mapping := range mappings {
		if _, seen := required[mapping.AttributeID]; !seen {
			order = append(order, mapping.AttributeID)
			required[mapping.AttributeID] = mapping.IsRequired
			specific[mapping.AttributeID] = mapping.Subcategory != ""
			continue
		}
		if mapping.Subcategory != "" && !specific[mapping.AttributeID] {
			required[mapping.AttributeID] = mapping.IsRequired
			specific[mapping.AttributeID] = true
		}
	}

	attributes := make([]*store.Attribute, 0, len(order))
	for _, attributeID := range order {
		if requiredOnly && !required[attributeID] {
			continue
		}
		attribute, err := r.store.GetAttribute(ctx, attributeID)
		if err != nil {
			return nil, services.Wrap(nil, "taxonomy", "applicable attributes", "load attribute", err)
		}
		if attribute != nil {
			attributes = append(attributes, attribute)
		}
	}
	return attributes, nil
}
