package suggest_test

import (
	"context"
	"testing"

	"facet/internal/store"
	"facet/internal/suggest"
	"facet/internal/testsupport"
)

func TestVocabularyGeneratorIsDeterministic(t *testing.T) {
	registry := suggest.NewRegistry(42)
	product := &store.Product{Name: "Jacket"}
	attribute := &store.Attribute{Name: "color", DataType: "categorical", AllowedValuesJSON: `["Red","Blue","Green"]`}
	provider := &store.AIProvider{Name: "alpha"}

	generator := registry.Resolve(attribute)
	first, firstConfidence, ok := generator.Generate(product, attribute, provider)
	if !ok {
		t.Fatal("expected a value")
	}
	second, secondConfidence, _ := generator.Generate(product, attribute, provider)
	if first != second || firstConfidence != secondConfidence {
		t.Fatalf("generator not deterministic: %s/%v vs %s/%v", first, firstConfidence, second, secondConfidence)
	}
	if firstConfidence < 0.60 || firstConfidence > 0.99 {
		t.Fatalf("confidence out of range: %v", firstConfidence)
	}
}

func TestVocabularyGeneratorAbstainsWithoutValues(t *testing.T) {
	registry := suggest.NewRegistry(42)
	attribute := &store.Attribute{Name: "color", DataType: "categorical"}
	if _, _, ok := registry.Resolve(attribute).Generate(&store.Product{Name: "X"}, attribute, &store.AIProvider{Name: "alpha"}); ok {
		t.Fatal("expected abstention for an empty vocabulary")
	}
}

func TestRegistryNameOverridesType(t *testing.T) {
	registry := suggest.NewRegistry(1)
	registry.RegisterName("brand", fixedGenerator{value: "Acme"})

	attribute := &store.Attribute{Name: "brand", DataType: "categorical", AllowedValuesJSON: `["Other"]`}
	value, _, ok := registry.Resolve(attribute).Generate(&store.Product{Name: "X"}, attribute, &store.AIProvider{Name: "alpha"})
	if !ok || value != "Acme" {
		t.Fatalf("name-pinned generator not used: %s", value)
	}
}

type fixedGenerator struct {
	value string
}

func (g fixedGenerator) Generate(*store.Product, *store.Attribute, *store.AIProvider) (string, float64, bool) {
	return g.value, 0.9, true
}

func TestEngineRecordsSuggestionsPerProviderAndAttribute(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	color := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	material := testsupport.NewAttribute(t, st, "material", "text")
	providerA := testsupport.NewProvider(t, st, "alpha")
	providerB := testsupport.NewProvider(t, st, "beta")

	engine := suggest.NewEngine(st, suggest.NewRegistry(cfg.Pipeline.SuggestionSeed), nil)
	written, err := engine.SuggestProduct(ctx, product, []*store.Attribute{color, material}, []*store.AIProvider{providerA, providerB})
	if err != nil {
		t.Fatalf("SuggestProduct: %v", err)
	}
	if written != 4 {
		t.Fatalf("expected 4 suggestions, wrote %d", written)
	}

	suggestions, err := st.SuggestionsForPair(ctx, product.ID, color.ID)
	if err != nil {
		t.Fatalf("SuggestionsForPair: %v", err)
	}
	if len(suggestions) != 2 {
		t.Fatalf("suggestions for color = %d", len(suggestions))
	}
	for _, suggestion := range suggestions {
		if suggestion.SuggestedValue != "Red" && suggestion.SuggestedValue != "Blue" {
			t.Fatalf("suggested value outside vocabulary: %s", suggestion.SuggestedValue)
		}
	}

	// A second run upserts rather than duplicating.
	if _, err := engine.SuggestProduct(ctx, product, []*store.Attribute{color, material}, []*store.AIProvider{providerA, providerB}); err != nil {
		t.Fatalf("SuggestProduct: %v", err)
	}
	suggestions, _ = st.SuggestionsForPair(ctx, product.ID, color.ID)
	if len(suggestions) != 2 {
		t.Fatalf("suggestions duplicated: %d", len(suggestions))
	}
}
