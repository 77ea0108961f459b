package taxonomy_test

import (
	"context"
	"testing"

	"facet/internal/taxonomy"
	"facet/internal/testsupport"
)

func TestApplicableAttributesUsesMappings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	color := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	size := testsupport.NewAttribute(t, st, "size", "categorical", "S", "M", "L")
	material := testsupport.NewAttribute(t, st, "material", "text")

	testsupport.NewMapping(t, st, "apparel", "", color.ID, true)
	testsupport.NewMapping(t, st, "apparel", "shirts", size.ID, true)
	testsupport.NewMapping(t, st, "apparel", "", material.ID, false)

	resolver := taxonomy.NewResolver(st)
	product := testsupport.NewProduct(t, st, "Tee", "apparel", "shirts")

	all, err := resolver.ApplicableAttributes(ctx, product, false)
	if err != nil {
		t.Fatalf("ApplicableAttributes: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 applicable attributes, got %d", len(all))
	}

	required, err := resolver.ApplicableAttributes(ctx, product, true)
	if err != nil {
		t.Fatalf("ApplicableAttributes: %v", err)
	}
	names := make(map[string]bool)
	for _, attribute := range required {
		names[attribute.Name] = true
	}
	if len(required) != 2 || !names["color"] || !names["size"] {
		t.Fatalf("required attributes = %v", names)
	}
}

func TestApplicableAttributesSubcategoryScoping(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sleeve := testsupport.NewAttribute(t, st, "sleeve_length", "categorical", "Short", "Long")
	testsupport.NewMapping(t, st, "apparel", "shirts", sleeve.ID, true)

	resolver := taxonomy.NewResolver(st)
	pants := testsupport.NewProduct(t, st, "Chinos", "apparel", "pants")

	attributes, err := resolver.ApplicableAttributes(ctx, pants, false)
	if err != nil {
		t.Fatalf("ApplicableAttributes: %v", err)
	}
	// No mapping matches (apparel, pants), so the resolver falls back to
	// every known attribute rather than returning nothing.
	if len(attributes) != 1 || attributes[0].Name != "sleeve_length" {
		t.Fatalf("fallback attributes = %+v", attributes)
	}
}

func TestApplicableAttributesFallsBackToAll(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewAttribute(t, st, "color", "categorical", "Red")
	testsupport.NewAttribute(t, st, "size", "categorical", "S")

	resolver := taxonomy.NewResolver(st)
	product := testsupport.NewProduct(t, st, "Mystery", "", "")

	attributes, err := resolver.ApplicableAttributes(ctx, product, false)
	if err != nil {
		t.Fatalf("ApplicableAttributes: %v", err)
	}
	if len(attributes) != 2 {
		t.Fatalf("expected fallback to all attributes, got %d", len(attributes))
	}

	// The fallback is not scoped to the full listing; a required-only query
	// on an unmapped product degrades the same way.
	required, err := resolver.ApplicableAttributes(ctx, product, true)
	if err != nil {
		t.Fatalf("ApplicableAttributes: %v", err)
	}
	if len(required) != 2 {
		t.Fatalf("expected fallback for required-only query, got %d", len(required))
	}

	unmapped := testsupport.NewProduct(t, st, "Gadget", "electronics", "")
	required, err = resolver.ApplicableAttributes(ctx, unmapped, true)
	if err != nil {
		t.Fatalf("ApplicableAttributes: %v", err)
	}
	if len(required) != 2 {
		t.Fatalf("expected fallback for unmapped category, got %d", len(required))
	}
}
