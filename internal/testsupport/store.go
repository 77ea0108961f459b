package testsupport

import (
	"context"
	"encoding/json"
	"testing"

	"facet/internal/config"
	"facet/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewProduct creates a pending product for tests.
func NewProduct(t testing.TB, st *store.Store, name, category, subcategory string) *store.Product {
	t.Helper()

	product, err := st.CreateProduct(context.Background(), &store.Product{
		Name:        name,
		Category:    category,
		Subcategory: subcategory,
	})
	if err != nil {
		t.Fatalf("store.CreateProduct: %v", err)
	}
	return product
}

// NewAttribute creates an attribute with an optional closed vocabulary.
func NewAttribute(t testing.TB, st *store.Store, name, dataType string, allowedValues ...string) *store.Attribute {
	t.Helper()

	attribute := &store.Attribute{Name: name, DataType: dataType}
	if len(allowedValues) > 0 {
		encoded, err := json.Marshal(allowedValues)
		if err != nil {
			t.Fatalf("marshal allowed values: %v", err)
		}
		attribute.AllowedValuesJSON = string(encoded)
	}
	created, err := st.CreateAttribute(context.Background(), attribute)
	if err != nil {
		t.Fatalf("store.CreateAttribute: %v", err)
	}
	return created
}

// NewMapping binds an attribute to a category slot for tests.
func NewMapping(t testing.TB, st *store.Store, category, subcategory string, attributeID int64, required bool) *store.CategoryAttributeMapping {
	t.Helper()

	mapping, err := st.CreateMapping(context.Background(), &store.CategoryAttributeMapping{
		Category:    category,
		Subcategory: subcategory,
		AttributeID: attributeID,
		IsRequired:  required,
	})
	if err != nil {
		t.Fatalf("store.CreateMapping: %v", err)
	}
	return mapping
}

// NewAnnotator creates an active annotator for tests.
func NewAnnotator(t testing.TB, st *store.Store, name string) *store.Annotator {
	t.Helper()

	annotator, err := st.CreateAnnotator(context.Background(), &store.Annotator{
		Name:     name,
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("store.CreateAnnotator: %v", err)
	}
	return annotator
}

// NewProvider creates an active AI provider for tests.
func NewProvider(t testing.TB, st *store.Store, name string) *store.AIProvider {
	t.Helper()

	provider, err := st.CreateProvider(context.Background(), &store.AIProvider{
		Name:        name,
		ServiceName: "stub",
		Model:       "stub-model",
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("store.CreateProvider: %v", err)
	}
	return provider
}
