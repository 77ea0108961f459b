// Package suggest produces AI provider suggestions for product attributes.
// Generators are deterministic given the configured seed so test runs and
// demo environments are reproducible.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"

	"facet/internal/logging"
	"facet/internal/services"
	"facet/internal/store"
)

// Generator proposes a value for one product attribute on behalf of a
// provider. Returning ok=false means the generator abstains.
type Generator interface {
	Generate(product *store.Product, attribute *store.Attribute, provider *store.AIProvider) (value string, confidence float64, ok bool)
}

// Registry maps attribute identity to a generator, with data-type defaults
// filling the gaps. Resolution order: attribute name, then data type, then
// the fallback.
type Registry struct {
	byName   map[string]Generator
	byType   map[string]Generator
	fallback Generator
}

// NewRegistry builds a registry with the standard generators for the given
// seed: vocabulary picks for closed attributes and derived text for the rest.
func NewRegistry(seed int64) *Registry {
	return &Registry{
		byName: make(map[string]Generator),
		byType: map[string]Generator{
			"categorical": vocabularyGenerator{seed: seed},
			"boolean":     booleanGenerator{seed: seed},
		},
		fallback: textGenerator{seed: seed},
	}
}

// RegisterName pins a generator to an attribute name.
func (r *Registry) RegisterName(name string, generator Generator) {
	r.byName[strings.ToLower(name)] = generator
}

// RegisterType pins a generator to an attribute data type.
func (r *Registry) RegisterType(dataType string, generator Generator) {
	r.byType[strings.ToLower(dataType)] = generator
}

// Resolve picks the generator for an attribute.
func (r *Registry) Resolve(attribute *store.Attribute) Generator {
	if generator, ok := r.byName[strings.ToLower(attribute.Name)]; ok {
		return generator
	}
	if generator, ok := r.byType[strings.ToLower(attribute.DataType)]; ok {
		return generator
	}
	return r.fallback
}

func mix(seed int64, parts ...string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d", seed)
	for _, part := range parts {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return h.Sum64()
}

// confidenceFrom maps a hash to [0.60, 0.99].
func confidenceFrom(h uint64) float64 {
	return 0.60 + float64(h%40)/100
}

type vocabularyGenerator struct {
	seed int64
}

func (g vocabularyGenerator) Generate(product *store.Product, attribute *store.Attribute, provider *store.AIProvider) (string, float64, bool) {
	values := attribute.AllowedValues()
	if len(values) == 0 {
		return "", 0, false
	}
	h := mix(g.seed, product.Name, attribute.Name, provider.Name)
	return values[h%uint64(len(values))], confidenceFrom(h >> 8), true
}

type booleanGenerator struct {
	seed int64
}

func (g booleanGenerator) Generate(product *store.Product, attribute *store.Attribute, provider *store.AIProvider) (string, float64, bool) {
	h := mix(g.seed, product.Name, attribute.Name, provider.Name)
	value := "false"
	if h%2 == 0 {
		value = "true"
	}
	return value, confidenceFrom(h >> 8), true
}

type textGenerator struct {
	seed int64
}

func (g textGenerator) Generate(product *store.Product, attribute *store.Attribute, provider *store.AIProvider) (string, float64, bool) {
	h := mix(g.seed, product.Name, attribute.Name, provider.Name)
	return fmt.Sprintf("%s of %s", attribute.Name, product.Name), confidenceFrom(h >> 8), true
}

// Engine runs every active provider's generators over a product and records
// the resulting suggestions.
type Engine struct {
	store    *store.Store
	registry *Registry
	logger   *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(st *store.Store, registry *Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{store: st, registry: registry, logger: logger}
}

// SuggestProduct records one suggestion per (attribute, provider) for the
// product and returns the number written.
func (e *Engine) SuggestProduct(ctx context.Context, product *store.Product, attributes []*store.Attribute, providers []*store.AIProvider) (int, error) {
	written := 0
	for _, provider := range providers {
		for _, attribute := range attributes {
			generator := e.registry.Resolve(attribute)
			value, confidence, ok := generator.Generate(product, attribute, provider)
			if !ok {
				continue
			}
			raw, err := json.Marshal(map[string]any{
				"model":      provider.Model,
				"confidence": confidence,
			})
			if err != nil {
				return written, services.Wrap(nil, "suggest", "suggest product", "encode raw response", err)
			}
			if _, err := e.store.UpsertSuggestion(ctx, &store.AISuggestion{
				ProductID:       product.ID,
				AttributeID:     attribute.ID,
				ProviderID:      provider.ID,
				SuggestedValue:  value,
				Confidence:      confidence,
				RawResponseJSON: string(raw),
			}); err != nil {
				return written, services.Wrap(nil, "suggest", "suggest product", "record suggestion", err)
			}
			written++
		}
	}
	e.logger.Debug("suggestions recorded",
		logging.Int64(logging.FieldProductID, product.ID),
		logging.Int("count", written),
	)
	return written, nil
}
