package client_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"facet/internal/api"
	"facet/internal/client"
	"facet/internal/daemon"
	"facet/internal/logging"
	"facet/internal/testsupport"
)

func startDaemon(t *testing.T) *client.Client {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	svc := api.NewService(st, cfg, logger)

	d, err := daemon.New(cfg, st, svc, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	return client.New(d.Address())
}

func TestClientRoundTripsCatalog(t *testing.T) {
	c := startDaemon(t)
	ctx := context.Background()

	attribute, err := c.CreateAttribute(ctx, api.AttributeInput{
		Name:          "color",
		DataType:      "categorical",
		AllowedValues: []string{"Red", "Blue"},
	})
	if err != nil {
		t.Fatalf("CreateAttribute: %v", err)
	}
	if _, err := c.CreateMapping(ctx, "apparel", "", attribute.ID, true); err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}

	product, err := c.CreateProduct(ctx, api.ProductInput{Name: "Rain Shell", Category: "apparel"})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if product.Status != "pending_ai" {
		t.Fatalf("status = %q, want pending_ai", product.Status)
	}

	products, err := c.Products(ctx, "pending_ai")
	if err != nil {
		t.Fatalf("Products: %v", err)
	}
	if len(products) != 1 || products[0].ID != product.ID {
		t.Fatalf("unexpected product list: %+v", products)
	}

	detail, err := c.ProductDetail(ctx, product.ID)
	if err != nil {
		t.Fatalf("ProductDetail: %v", err)
	}
	if detail.Product.Name != "Rain Shell" {
		t.Fatalf("detail name = %q", detail.Product.Name)
	}
}

func TestClientMasksProviderCredentials(t *testing.T) {
	c := startDaemon(t)
	ctx := context.Background()

	created, err := c.CreateProvider(ctx, api.ProviderInput{
		Name:        "vision",
		ServiceName: "openai",
		Model:       "gpt-4o-mini",
		Config:      map[string]any{"api_key": "sk-secret", "timeout_seconds": float64(30)},
	})
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if created.Config["api_key"] != "********" {
		t.Fatalf("api_key = %v, want masked", created.Config["api_key"])
	}

	// Echoing the mask back must not clobber the stored key.
	updated, err := c.UpdateProvider(ctx, created.ID, api.ProviderInput{
		Name:   "vision",
		Model:  "gpt-4o",
		Config: map[string]any{"api_key": "********"},
	})
	if err != nil {
		t.Fatalf("UpdateProvider: %v", err)
	}
	if updated.Model != "gpt-4o" {
		t.Fatalf("model = %q, want gpt-4o", updated.Model)
	}
	if updated.Config["api_key"] != "********" {
		t.Fatalf("api_key = %v, want masked", updated.Config["api_key"])
	}
}

func TestClientSurfacesErrorKinds(t *testing.T) {
	c := startDaemon(t)
	ctx := context.Background()

	_, err := c.ProductDetail(ctx, 99999)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 404 || apiErr.Kind != "not_found" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}

	_, err = c.CreateProduct(ctx, api.ProductInput{})
	if !errors.As(err, &apiErr) || apiErr.Kind != "validation_failed" {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClientExportCSV(t *testing.T) {
	c := startDaemon(t)
	ctx := context.Background()

	var buf strings.Builder
	if err := c.ExportFinalsCSV(ctx, nil, &buf); err != nil {
		t.Fatalf("ExportFinalsCSV: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "product_id,external_sku,product_name,attribute,value,source,confidence,version,decided_at") {
		t.Fatalf("unexpected csv header: %q", buf.String())
	}
}

func TestStopAndWait(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	svc := api.NewService(st, cfg, logger)

	d, err := daemon.New(cfg, st, svc, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	ctx := context.Background()
	if err := client.StopAndWait(ctx, d.Address(), 5*time.Second); err != nil {
		t.Fatalf("StopAndWait: %v", err)
	}
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	if _, err := client.Connect(ctx, d.Address()); !errors.Is(err, client.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}
