package api

import (
	"context"
	"encoding/json"

	"facet/internal/services"
	"facet/internal/store"
)

// SeedReport counts what a seeding run created.
type SeedReport struct {
	Attributes int `json:"attributes"`
	Mappings   int `json:"mappings"`
	Providers  int `json:"providers"`
	Annotators int `json:"annotators"`
	Products   int `json:"products"`
}

type seedAttribute struct {
	name     string
	dataType string
	values   []string
}

type seedMapping struct {
	category    string
	subcategory string
	attribute   string
	required    bool
}

type seedProduct struct {
	sku         string
	name        string
	description string
	category    string
	subcategory string
}

var seedAttributes = []seedAttribute{
	{"color", "categorical", []string{"Red", "Blue", "Green", "Black", "White", "Yellow", "Brown"}},
	{"size", "categorical", []string{"XS", "S", "M", "L", "XL", "XXL"}},
	{"material", "categorical", []string{"Cotton", "Polyester", "Leather", "Wool", "Denim", "Canvas"}},
	{"style", "categorical", []string{"Casual", "Formal", "Sport", "Outdoor"}},
	{"waterproof", "boolean", nil},
	{"brand", "text", nil},
}

var seedMappings = []seedMapping{
	{"apparel", "", "color", true},
	{"apparel", "", "size", true},
	{"apparel", "", "material", true},
	{"apparel", "", "style", false},
	{"apparel", "outerwear", "waterproof", true},
	{"footwear", "", "color", true},
	{"footwear", "", "size", true},
	{"footwear", "", "material", false},
	{"footwear", "", "waterproof", false},
	{"accessories", "", "color", true},
	{"accessories", "", "material", false},
	{"accessories", "", "brand", false},
}

var seedProducts = []seedProduct{
	{"SKU-1001", "Trail Rain Jacket", "Lightweight packable shell with taped seams", "apparel", "outerwear"},
	{"SKU-1002", "Classic Denim Jacket", "Mid-weight denim with button front", "apparel", "outerwear"},
	{"SKU-1003", "Merino Crew Sweater", "Fine-gauge merino wool crew neck", "apparel", ""},
	{"SKU-1004", "Everyday Cotton Tee", "Heavyweight cotton short sleeve tee", "apparel", ""},
	{"SKU-2001", "Canvas High-Top Sneaker", "Vulcanized sole canvas sneaker", "footwear", ""},
	{"SKU-2002", "Leather Chelsea Boot", "Full-grain leather with elastic gores", "footwear", ""},
	{"SKU-3001", "Woven Leather Belt", "Braided full-grain leather belt", "accessories", ""},
	{"SKU-3002", "Wool Beanie", "Ribbed knit wool beanie", "accessories", ""},
}

// SeedSampleData populates a demo catalog: attributes with vocabularies,
// category mappings, providers, annotators, and products. Seeding an
// already-seeded database is a no-op for the entities that exist.
func (s *Service) SeedSampleData(ctx context.Context) (SeedReport, error) {
	var report SeedReport

	attributeIDs := make(map[string]int64, len(seedAttributes))
	for _, seed := range seedAttributes {
		existing, err := s.store.GetAttributeByName(ctx, seed.name)
		if err != nil {
			return report, services.Wrap(nil, "api", "seed", "load attribute", err)
		}
		if existing != nil {
			attributeIDs[seed.name] = existing.ID
			continue
		}
		valuesJSON, err := encodeStrings(seed.values)
		if err != nil {
			return report, services.Wrap(nil, "api", "seed", "encode vocabulary", err)
		}
		created, err := s.store.CreateAttribute(ctx, &store.Attribute{
			Name:              seed.name,
			DataType:          seed.dataType,
			AllowedValuesJSON: valuesJSON,
		})
		if err != nil {
			return report, services.Wrap(nil, "api", "seed", "create attribute", err)
		}
		attributeIDs[seed.name] = created.ID
		report.Attributes++
	}

	if report.Attributes > 0 {
		for _, seed := range seedMappings {
			if _, err := s.store.CreateMapping(ctx, &store.CategoryAttributeMapping{
				Category:    seed.category,
				Subcategory: seed.subcategory,
				AttributeID: attributeIDs[seed.attribute],
				IsRequired:  seed.required,
			}); err != nil {
				return report, services.Wrap(nil, "api", "seed", "create mapping", err)
			}
			report.Mappings++
		}
	}

	providers, err := s.store.ListProviders(ctx)
	if err != nil {
		return report, services.Wrap(nil, "api", "seed", "list providers", err)
	}
	if len(providers) == 0 {
		demoConfig, _ := json.Marshal(map[string]any{"api_key": "demo-key", "timeout_seconds": 30})
		for _, provider := range []*store.AIProvider{
			{Name: "openai-vision", ServiceName: "openai", Model: "gpt-4o-mini", IsActive: true, ConfigJSON: string(demoConfig)},
			{Name: "gemini-vision", ServiceName: "gemini", Model: "gemini-1.5-flash", IsActive: true, ConfigJSON: string(demoConfig)},
		} {
			if _, err := s.store.CreateProvider(ctx, provider); err != nil {
				return report, services.Wrap(nil, "api", "seed", "create provider", err)
			}
			report.Providers++
		}
	}

	annotators, err := s.store.ListAnnotators(ctx)
	if err != nil {
		return report, services.Wrap(nil, "api", "seed", "list annotators", err)
	}
	if len(annotators) == 0 {
		for _, annotator := range []*store.Annotator{
			{Name: "admin", Role: "admin", IsActive: true},
			{Name: "alex", Role: "annotator", IsActive: true},
			{Name: "sam", Role: "annotator", IsActive: true},
			{Name: "jordan", Role: "annotator", IsActive: true},
		} {
			if _, err := s.store.CreateAnnotator(ctx, annotator); err != nil {
				return report, services.Wrap(nil, "api", "seed", "create annotator", err)
			}
			report.Annotators++
		}
	}

	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return report, services.Wrap(nil, "api", "seed", "list products", err)
	}
	if len(products) == 0 {
		for _, seed := range seedProducts {
			if _, err := s.store.CreateProduct(ctx, &store.Product{
				ExternalSKU: seed.sku,
				Name:        seed.name,
				Description: seed.description,
				Category:    seed.category,
				Subcategory: seed.subcategory,
			}); err != nil {
				return report, services.Wrap(nil, "api", "seed", "create product", err)
			}
			report.Products++
		}
	}
	return report, nil
}
