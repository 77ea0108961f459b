package api_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"facet/internal/api"
	"facet/internal/services"
	"facet/internal/testsupport"
)

func newService(t *testing.T) *api.Service {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return api.NewService(st, cfg, nil)
}

func TestProviderCredentialLifecycle(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	created, err := svc.CreateProvider(ctx, api.ProviderInput{
		Name:        "vision",
		ServiceName: "openai",
		Model:       "gpt-4o-mini",
		Config:      map[string]any{"api_key": "sk-secret", "temperature": 0.2},
	})
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if created.Config["api_key"] != "********" {
		t.Fatalf("create response api_key = %v, want masked", created.Config["api_key"])
	}
	if created.Config["temperature"] != 0.2 {
		t.Fatalf("temperature = %v, want 0.2", created.Config["temperature"])
	}

	// An update that omits config entirely keeps the stored key.
	updated, err := svc.UpdateProvider(ctx, created.ID, api.ProviderInput{Name: "vision", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("UpdateProvider: %v", err)
	}
	if updated.Model != "gpt-4o" {
		t.Fatalf("model = %q", updated.Model)
	}
	if updated.Config["api_key"] != "********" {
		t.Fatalf("update response api_key = %v, want masked", updated.Config["api_key"])
	}

	// Echoing the mask back keeps the stored key too.
	updated, err = svc.UpdateProvider(ctx, created.ID, api.ProviderInput{
		Name:   "vision",
		Config: map[string]any{"api_key": "********", "temperature": 0.7},
	})
	if err != nil {
		t.Fatalf("UpdateProvider with mask: %v", err)
	}
	if updated.Config["temperature"] != 0.7 {
		t.Fatalf("temperature = %v, want 0.7", updated.Config["temperature"])
	}

	// A real replacement takes effect; masking still hides it on read.
	if _, err := svc.UpdateProvider(ctx, created.ID, api.ProviderInput{
		Name:   "vision",
		Config: map[string]any{"api_key": "sk-rotated"},
	}); err != nil {
		t.Fatalf("UpdateProvider rotate: %v", err)
	}
	providers, err := svc.Providers(ctx)
	if err != nil {
		t.Fatalf("Providers: %v", err)
	}
	for _, provider := range providers {
		if key, ok := provider.Config["api_key"]; ok && key != "********" {
			t.Fatalf("provider list leaked api_key %v", key)
		}
	}
}

func TestProviderUpdateNeverStoresMask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	svc := api.NewService(st, cfg, nil)
	ctx := context.Background()

	created, err := svc.CreateProvider(ctx, api.ProviderInput{
		Name:        "vision",
		ServiceName: "openai",
		Model:       "gpt-4o-mini",
		Config:      map[string]any{"temperature": 0.2},
	})
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}

	// Echoing the mask against a provider that never had a key must drop
	// the entry rather than persist the placeholder as a credential.
	if _, err := svc.UpdateProvider(ctx, created.ID, api.ProviderInput{
		Name:   "vision",
		Config: map[string]any{"api_key": "********", "temperature": 0.4},
	}); err != nil {
		t.Fatalf("UpdateProvider: %v", err)
	}
	stored, err := st.GetProvider(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if strings.Contains(stored.ConfigJSON, "api_key") {
		t.Fatalf("keyless provider persisted an api_key: %s", stored.ConfigJSON)
	}

	// Same for an explicit empty string.
	if _, err := svc.UpdateProvider(ctx, created.ID, api.ProviderInput{
		Name:   "vision",
		Config: map[string]any{"api_key": ""},
	}); err != nil {
		t.Fatalf("UpdateProvider: %v", err)
	}
	stored, err = st.GetProvider(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if strings.Contains(stored.ConfigJSON, "api_key") {
		t.Fatalf("empty update persisted an api_key: %s", stored.ConfigJSON)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	first, err := svc.SeedSampleData(ctx)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if first.Attributes == 0 || first.Mappings == 0 || first.Products == 0 {
		t.Fatalf("unexpected first seed report: %+v", first)
	}

	second, err := svc.SeedSampleData(ctx)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if second.Attributes != 0 || second.Mappings != 0 || second.Providers != 0 || second.Products != 0 {
		t.Fatalf("second seed should create nothing, got %+v", second)
	}
}

func TestExportFinalsRejectsUnknownProduct(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.ExportFinals(ctx, []int64{12345})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWriteExportCSVHeader(t *testing.T) {
	var buf strings.Builder
	if err := api.WriteExportCSV(&buf, nil); err != nil {
		t.Fatalf("WriteExportCSV: %v", err)
	}
	want := "product_id,external_sku,product_name,attribute,value,source,confidence,version,decided_at\n"
	if buf.String() != want {
		t.Fatalf("csv = %q, want %q", buf.String(), want)
	}
}

func TestCreateProductRequiresName(t *testing.T) {
	svc := newService(t)

	_, err := svc.CreateProduct(context.Background(), api.ProductInput{Category: "apparel"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
