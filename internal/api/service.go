package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"facet/internal/assignment"
	"facet/internal/config"
	"facet/internal/consensus"
	"facet/internal/finalize"
	"facet/internal/logging"
	"facet/internal/overlap"
	"facet/internal/processing"
	"facet/internal/services"
	"facet/internal/store"
	"facet/internal/suggest"
	"facet/internal/taxonomy"
	"facet/internal/workflow"
)

// Service is the single facade the HTTP server and the CLI client share. It
// wires the engine packages together and speaks DTOs only.
type Service struct {
	store      *store.Store
	cfg        *config.Config
	manager    *assignment.Manager
	finalizer  *finalize.Finalizer
	detector   *overlap.Detector
	resolver   *overlap.Resolver
	taxonomy   *taxonomy.Resolver
	controller *processing.Controller
	loop       *processing.Loop
	logger     *slog.Logger
}

// NewService constructs the facade and every engine component behind it.
func NewService(st *store.Store, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	detector := overlap.NewDetector(st, logger)
	taxonomyResolver := taxonomy.NewResolver(st)
	manager := assignment.NewManager(st, cfg, detector, logger)
	engine := suggest.NewEngine(st, suggest.NewRegistry(cfg.Pipeline.SuggestionSeed), logger)
	aggregator := consensus.NewAggregator(st, logger)
	return &Service{
		store:      st,
		cfg:        cfg,
		manager:    manager,
		finalizer:  finalize.NewFinalizer(st, taxonomyResolver, logger),
		detector:   detector,
		resolver:   overlap.NewResolver(st, logger),
		taxonomy:   taxonomyResolver,
		controller: processing.NewController(st, logger),
		loop:       processing.NewLoop(st, cfg, manager, engine, aggregator, taxonomyResolver, logger),
		logger:     logger,
	}
}

// Loop exposes the processing loop for the daemon's lifecycle management.
func (s *Service) Loop() *processing.Loop {
	return s.loop
}

// ProductInput carries the writable fields of a product.
type ProductInput struct {
	ExternalSKU string   `json:"external_sku"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	ImageURLs   []string `json:"image_urls"`
	Price       *float64 `json:"price"`
}

// CreateProduct registers a new product in pending_ai status.
func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	if input.Name == "" {
		return Product{}, services.Wrap(services.ErrValidation, "api", "create product", "name is required", nil)
	}
	urlsJSON, err := encodeStrings(input.ImageURLs)
	if err != nil {
		return Product{}, services.Wrap(services.ErrValidation, "api", "create product", "encode image urls", err)
	}
	product, err := s.store.CreateProduct(ctx, &store.Product{
		ExternalSKU:   input.ExternalSKU,
		Name:          input.Name,
		Description:   input.Description,
		Category:      input.Category,
		Subcategory:   input.Subcategory,
		ImageURLsJSON: urlsJSON,
		Price:         input.Price,
	})
	if err != nil {
		return Product{}, services.Wrap(nil, "api", "create product", "persist product", err)
	}
	return FromProduct(product), nil
}

// UpdateProduct changes a product's descriptive fields. Status is managed by
// the workflow, never by direct update.
func (s *Service) UpdateProduct(ctx context.Context, id int64, input ProductInput) (Product, error) {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return Product{}, services.Wrap(nil, "api", "update product", "load product", err)
	}
	if product == nil {
		return Product{}, services.Wrap(services.ErrNotFound, "api", "update product", fmt.Sprintf("product %d", id), nil)
	}
	if input.Name != "" {
		product.Name = input.Name
	}
	if input.ExternalSKU != "" {
		product.ExternalSKU = input.ExternalSKU
	}
	product.Description = input.Description
	if input.Category != "" {
		product.Category = input.Category
		product.Subcategory = input.Subcategory
	}
	if input.ImageURLs != nil {
		urlsJSON, err := encodeStrings(input.ImageURLs)
		if err != nil {
			return Product{}, services.Wrap(services.ErrValidation, "api", "update product", "encode image urls", err)
		}
		product.ImageURLsJSON = urlsJSON
	}
	if input.Price != nil {
		product.Price = input.Price
	}
	if err := s.store.UpdateProduct(ctx, product); err != nil {
		return Product{}, services.Wrap(nil, "api", "update product", "persist product", err)
	}
	updated, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return Product{}, services.Wrap(nil, "api", "update product", "reload product", err)
	}
	return FromProduct(updated), nil
}

// Products lists products, optionally filtered by workflow status.
func (s *Service) Products(ctx context.Context, status string) ([]Product, error) {
	var statuses []workflow.Status
	if status != "" {
		parsed, ok := workflow.ParseStatus(status)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "api", "list products",
				fmt.Sprintf("unknown status %q", status), nil)
		}
		statuses = append(statuses, parsed)
	}
	products, err := s.store.ListProducts(ctx, statuses...)
	if err != nil {
		return nil, services.Wrap(nil, "api", "list products", "query products", err)
	}
	return FromProducts(products), nil
}

// ProductDetail returns a product with its suggestions, consensus,
// annotations, and active finals.
func (s *Service) ProductDetail(ctx context.Context, id int64) (*ProductDetail, error) {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, services.Wrap(nil, "api", "product detail", "load product", err)
	}
	if product == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "product detail", fmt.Sprintf("product %d", id), nil)
	}
	detail := &ProductDetail{Product: FromProduct(product)}

	suggestions, err := s.store.SuggestionsForProduct(ctx, id)
	if err != nil {
		return nil, services.Wrap(nil, "api", "product detail", "load suggestions", err)
	}
	for _, suggestion := range suggestions {
		detail.Suggestions = append(detail.Suggestions, FromSuggestion(suggestion))
	}

	consensusByAttr, err := s.store.ActiveConsensusForProduct(ctx, id)
	if err != nil {
		return nil, services.Wrap(nil, "api", "product detail", "load consensus", err)
	}
	for _, record := range consensusByAttr {
		detail.Consensus = append(detail.Consensus, FromConsensus(record))
	}

	annotations, err := s.store.AnnotationsForProduct(ctx, id)
	if err != nil {
		return nil, services.Wrap(nil, "api", "product detail", "load annotations", err)
	}
	for _, annotation := range annotations {
		detail.Annotations = append(detail.Annotations, FromAnnotation(annotation))
	}

	finals, err := s.store.ActiveFinalsForProduct(ctx, id)
	if err != nil {
		return nil, services.Wrap(nil, "api", "product detail", "load finals", err)
	}
	for _, final := range finals {
		detail.Finals = append(detail.Finals, FromFinal(final))
	}
	return detail, nil
}

// AttributeInput carries the writable fields of an attribute.
type AttributeInput struct {
	Name          string   `json:"name"`
	DataType      string   `json:"data_type"`
	AllowedValues []string `json:"allowed_values"`
}

// CreateAttribute registers a labelable attribute.
func (s *Service) CreateAttribute(ctx context.Context, input AttributeInput) (Attribute, error) {
	if input.Name == "" || input.DataType == "" {
		return Attribute{}, services.Wrap(services.ErrValidation, "api", "create attribute", "name and data_type are required", nil)
	}
	valuesJSON, err := encodeStrings(input.AllowedValues)
	if err != nil {
		return Attribute{}, services.Wrap(services.ErrValidation, "api", "create attribute", "encode allowed values", err)
	}
	attribute, err := s.store.CreateAttribute(ctx, &store.Attribute{
		Name:              input.Name,
		DataType:          input.DataType,
		AllowedValuesJSON: valuesJSON,
	})
	if err != nil {
		return Attribute{}, services.Wrap(nil, "api", "create attribute", "persist attribute", err)
	}
	return FromAttribute(attribute), nil
}

// Attributes lists all attributes.
func (s *Service) Attributes(ctx context.Context) ([]Attribute, error) {
	attributes, err := s.store.ListAttributes(ctx)
	if err != nil {
		return nil, services.Wrap(nil, "api", "list attributes", "query attributes", err)
	}
	out := make([]Attribute, 0, len(attributes))
	for _, attribute := range attributes {
		out = append(out, FromAttribute(attribute))
	}
	return out, nil
}

// CreateMapping binds an attribute to a category slot.
func (s *Service) CreateMapping(ctx context.Context, category, subcategory string, attributeID int64, required bool) (Mapping, error) {
	if category == "" {
		return Mapping{}, services.Wrap(services.ErrValidation, "api", "create mapping", "category is required", nil)
	}
	attribute, err := s.store.GetAttribute(ctx, attributeID)
	if err != nil {
		return Mapping{}, services.Wrap(nil, "api", "create mapping", "load attribute", err)
	}
	if attribute == nil {
		return Mapping{}, services.Wrap(services.ErrNotFound, "api", "create mapping", fmt.Sprintf("attribute %d", attributeID), nil)
	}
	mapping, err := s.store.CreateMapping(ctx, &store.CategoryAttributeMapping{
		Category:    category,
		Subcategory: subcategory,
		AttributeID: attributeID,
		IsRequired:  required,
	})
	if err != nil {
		return Mapping{}, services.Wrap(nil, "api", "create mapping", "persist mapping", err)
	}
	return FromMapping(mapping), nil
}

// ProviderInput carries the writable fields of an AI provider.
type ProviderInput struct {
	Name        string         `json:"name"`
	ServiceName string         `json:"service_name"`
	Model       string         `json:"model"`
	IsActive    *bool          `json:"is_active"`
	Config      map[string]any `json:"config"`
}

// CreateProvider registers an AI provider. The config, including api_key,
// is stored verbatim; reads mask it.
func (s *Service) CreateProvider(ctx context.Context, input ProviderInput) (Provider, error) {
	if input.Name == "" {
		return Provider{}, services.Wrap(services.ErrValidation, "api", "create provider", "name is required", nil)
	}
	configJSON, err := encodeConfig(input.Config)
	if err != nil {
		return Provider{}, services.Wrap(services.ErrValidation, "api", "create provider", "encode config", err)
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}
	provider, err := s.store.CreateProvider(ctx, &store.AIProvider{
		Name:        input.Name,
		ServiceName: input.ServiceName,
		Model:       input.Model,
		IsActive:    active,
		ConfigJSON:  configJSON,
	})
	if err != nil {
		return Provider{}, services.Wrap(nil, "api", "create provider", "persist provider", err)
	}
	return FromProvider(provider), nil
}

// UpdateProvider changes a provider. A config update that omits api_key, or
// carries the masked placeholder, keeps the stored secret.
func (s *Service) UpdateProvider(ctx context.Context, id int64, input ProviderInput) (Provider, error) {
	provider, err := s.store.GetProvider(ctx, id)
	if err != nil {
		return Provider{}, services.Wrap(nil, "api", "update provider", "load provider", err)
	}
	if provider == nil {
		return Provider{}, services.Wrap(services.ErrNotFound, "api", "update provider", fmt.Sprintf("provider %d", id), nil)
	}
	if input.Name != "" {
		provider.Name = input.Name
	}
	if input.ServiceName != "" {
		provider.ServiceName = input.ServiceName
	}
	if input.Model != "" {
		provider.Model = input.Model
	}
	if input.IsActive != nil {
		provider.IsActive = *input.IsActive
	}
	if input.Config != nil {
		merged, err := mergeProviderConfig(provider.ConfigJSON, input.Config)
		if err != nil {
			return Provider{}, services.Wrap(services.ErrValidation, "api", "update provider", "encode config", err)
		}
		provider.ConfigJSON = merged
	}
	if err := s.store.UpdateProvider(ctx, provider); err != nil {
		return Provider{}, services.Wrap(nil, "api", "update provider", "persist provider", err)
	}
	updated, err := s.store.GetProvider(ctx, id)
	if err != nil {
		return Provider{}, services.Wrap(nil, "api", "update provider", "reload provider", err)
	}
	return FromProvider(updated), nil
}

// mergeProviderConfig applies an incoming config while preserving the stored
// api_key when the update omits it or echoes back the masked placeholder.
// The placeholder itself must never be persisted: when no stored key exists
// the entry is dropped.
func mergeProviderConfig(storedJSON string, incoming map[string]any) (string, error) {
	key, ok := incoming["api_key"].(string)
	if !ok || key == "" || key == maskedSecret {
		delete(incoming, "api_key")
		if storedJSON != "" {
			var stored map[string]any
			if err := json.Unmarshal([]byte(storedJSON), &stored); err == nil {
				if storedKey, ok := stored["api_key"]; ok {
					incoming["api_key"] = storedKey
				}
			}
		}
	}
	encoded, err := json.Marshal(incoming)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// Providers lists all providers with masked credentials.
func (s *Service) Providers(ctx context.Context) ([]Provider, error) {
	providers, err := s.store.ListProviders(ctx)
	if err != nil {
		return nil, services.Wrap(nil, "api", "list providers", "query providers", err)
	}
	out := make([]Provider, 0, len(providers))
	for _, provider := range providers {
		out = append(out, FromProvider(provider))
	}
	return out, nil
}

// CreateAnnotator registers a human participant.
func (s *Service) CreateAnnotator(ctx context.Context, name, role string) (Annotator, error) {
	if name == "" {
		return Annotator{}, services.Wrap(services.ErrValidation, "api", "create annotator", "name is required", nil)
	}
	switch role {
	case "", "annotator", "admin":
	default:
		return Annotator{}, services.Wrap(services.ErrValidation, "api", "create annotator",
			fmt.Sprintf("unknown role %q", role), nil)
	}
	annotator, err := s.store.CreateAnnotator(ctx, &store.Annotator{
		Name:     name,
		Role:     role,
		IsActive: true,
	})
	if err != nil {
		return Annotator{}, services.Wrap(nil, "api", "create annotator", "persist annotator", err)
	}
	return FromAnnotator(annotator), nil
}

// Annotators lists active annotators with their open batch counts.
func (s *Service) Annotators(ctx context.Context) ([]Annotator, error) {
	workloads, err := s.store.AnnotatorWorkloads(ctx)
	if err != nil {
		return nil, services.Wrap(nil, "api", "list annotators", "query workloads", err)
	}
	out := make([]Annotator, 0, len(workloads))
	for _, workload := range workloads {
		annotator := FromAnnotator(workload.Annotator)
		annotator.OpenBatches = workload.OpenCount
		out = append(out, annotator)
	}
	return out, nil
}

func encodeStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func encodeConfig(config map[string]any) (string, error) {
	if len(config) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
