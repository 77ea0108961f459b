// Package client is the HTTP client the CLI uses to talk to a running
// facet daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"facet/internal/api"
)

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned status %d", e.StatusCode)
}

// Client talks to the daemon API at a host:port address.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the daemon listening at address.
func New(address string) *Client {
	address = strings.TrimSpace(address)
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	return &Client{
		baseURL: strings.TrimRight(address, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&payload); decodeErr == nil {
			apiErr.Message = payload.Error
			apiErr.Kind = payload.Kind
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

// Status retrieves daemon runtime information.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var status api.DaemonStatus
	err := c.get(ctx, "/api/status", nil, &status)
	return status, err
}

// Shutdown asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.post(ctx, "/api/shutdown", nil, nil)
}

// Products lists products, optionally filtered by workflow status.
func (c *Client) Products(ctx context.Context, status string) ([]api.Product, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	var products []api.Product
	err := c.get(ctx, "/api/products", query, &products)
	return products, err
}

// CreateProduct registers a new product.
func (c *Client) CreateProduct(ctx context.Context, input api.ProductInput) (api.Product, error) {
	var product api.Product
	err := c.post(ctx, "/api/products", input, &product)
	return product, err
}

// UpdateProduct updates a product's descriptive fields.
func (c *Client) UpdateProduct(ctx context.Context, id int64, input api.ProductInput) (api.Product, error) {
	var product api.Product
	err := c.put(ctx, fmt.Sprintf("/api/products/%d", id), input, &product)
	return product, err
}

// ProductDetail fetches a product with its suggestions, consensus,
// annotations, and finals.
func (c *Client) ProductDetail(ctx context.Context, id int64) (api.ProductDetail, error) {
	var detail api.ProductDetail
	err := c.get(ctx, fmt.Sprintf("/api/products/%d", id), nil, &detail)
	return detail, err
}

// FinalizeProduct resolves a reviewed product into final attribute values.
func (c *Client) FinalizeProduct(ctx context.Context, id int64, decidedBy *int64) ([]api.Final, error) {
	var finals []api.Final
	err := c.post(ctx, fmt.Sprintf("/api/products/%d/finalize", id), map[string]any{"decided_by": decidedBy}, &finals)
	return finals, err
}

// Attributes lists labelable attributes.
func (c *Client) Attributes(ctx context.Context) ([]api.Attribute, error) {
	var attributes []api.Attribute
	err := c.get(ctx, "/api/attributes", nil, &attributes)
	return attributes, err
}

// CreateAttribute registers an attribute.
func (c *Client) CreateAttribute(ctx context.Context, input api.AttributeInput) (api.Attribute, error) {
	var attribute api.Attribute
	err := c.post(ctx, "/api/attributes", input, &attribute)
	return attribute, err
}

// CreateMapping maps an attribute onto a product category.
func (c *Client) CreateMapping(ctx context.Context, category, subcategory string, attributeID int64, required bool) (api.Mapping, error) {
	var mapping api.Mapping
	err := c.post(ctx, "/api/mappings", map[string]any{
		"category":     category,
		"subcategory":  subcategory,
		"attribute_id": attributeID,
		"is_required":  required,
	}, &mapping)
	return mapping, err
}

// Providers lists AI providers with credentials masked.
func (c *Client) Providers(ctx context.Context) ([]api.Provider, error) {
	var providers []api.Provider
	err := c.get(ctx, "/api/providers", nil, &providers)
	return providers, err
}

// CreateProvider registers an AI provider.
func (c *Client) CreateProvider(ctx context.Context, input api.ProviderInput) (api.Provider, error) {
	var provider api.Provider
	err := c.post(ctx, "/api/providers", input, &provider)
	return provider, err
}

// UpdateProvider updates a provider, preserving its stored credentials when
// the input omits them.
func (c *Client) UpdateProvider(ctx context.Context, id int64, input api.ProviderInput) (api.Provider, error) {
	var provider api.Provider
	err := c.put(ctx, fmt.Sprintf("/api/providers/%d", id), input, &provider)
	return provider, err
}

// Annotators lists annotators with their open batch counts.
func (c *Client) Annotators(ctx context.Context) ([]api.Annotator, error) {
	var annotators []api.Annotator
	err := c.get(ctx, "/api/annotators", nil, &annotators)
	return annotators, err
}

// CreateAnnotator registers an annotator.
func (c *Client) CreateAnnotator(ctx context.Context, name, role string) (api.Annotator, error) {
	var annotator api.Annotator
	err := c.post(ctx, "/api/annotators", map[string]string{"name": name, "role": role}, &annotator)
	return annotator, err
}

// AnnotatorStats reports per-annotator throughput and agreement metrics.
func (c *Client) AnnotatorStats(ctx context.Context) ([]api.AnnotatorStats, error) {
	var stats []api.AnnotatorStats
	err := c.get(ctx, "/api/annotators/stats", nil, &stats)
	return stats, err
}

// Batches lists batches, optionally filtered by type ("ai" or "human").
func (c *Client) Batches(ctx context.Context, batchType string) ([]api.Batch, error) {
	query := url.Values{}
	if batchType != "" {
		query.Set("type", batchType)
	}
	var batches []api.Batch
	err := c.get(ctx, "/api/batches", query, &batches)
	return batches, err
}

// CreateBatch creates an AI or human batch. A nil result means no pending
// products were available to claim.
func (c *Client) CreateBatch(ctx context.Context, batchType string, size int, assignedTo *int64) (*api.Batch, error) {
	var batch *api.Batch
	err := c.post(ctx, "/api/batches", map[string]any{
		"batch_type":  batchType,
		"size":        size,
		"assigned_to": assignedTo,
	}, &batch)
	return batch, err
}

// AutoAssign claims products into a human batch and distributes them across
// annotators with the configured overlap.
func (c *Client) AutoAssign(ctx context.Context, size, overlap int) ([]api.Batch, error) {
	var batches []api.Batch
	err := c.post(ctx, "/api/batches/auto-assign", map[string]int{"size": size, "overlap": overlap}, &batches)
	return batches, err
}

// BatchDetail fetches a batch with its items.
func (c *Client) BatchDetail(ctx context.Context, id int64) (api.BatchDetail, error) {
	var detail api.BatchDetail
	err := c.get(ctx, fmt.Sprintf("/api/batches/%d", id), nil, &detail)
	return detail, err
}

// AssignBatch distributes an existing batch across the given annotators.
func (c *Client) AssignBatch(ctx context.Context, id int64, annotatorIDs []int64) ([]api.Batch, error) {
	var batches []api.Batch
	err := c.post(ctx, fmt.Sprintf("/api/batches/%d/assign", id), map[string]any{"annotator_ids": annotatorIDs}, &batches)
	return batches, err
}

// ApproveBatch approves a completed batch and returns how many products
// advanced.
func (c *Client) ApproveBatch(ctx context.Context, id int64) (int, error) {
	return c.reviewBatch(ctx, id, "approve")
}

// RejectBatch rejects a batch, returning its products to annotation.
func (c *Client) RejectBatch(ctx context.Context, id int64) (int, error) {
	return c.reviewBatch(ctx, id, "reject")
}

func (c *Client) reviewBatch(ctx context.Context, id int64, action string) (int, error) {
	var result map[string]int
	if err := c.post(ctx, fmt.Sprintf("/api/batches/%d/%s", id, action), nil, &result); err != nil {
		return 0, err
	}
	return result["products"], nil
}

// FinalizeBatch finalizes every reviewed product in a batch.
func (c *Client) FinalizeBatch(ctx context.Context, id int64, decidedBy *int64) (api.FinalizeReport, error) {
	var report api.FinalizeReport
	err := c.post(ctx, fmt.Sprintf("/api/batches/%d/finalize", id), map[string]any{"decided_by": decidedBy}, &report)
	return report, err
}

// FinalizeAllReviewed finalizes every reviewed product.
func (c *Client) FinalizeAllReviewed(ctx context.Context, decidedBy *int64) (api.FinalizeReport, error) {
	var report api.FinalizeReport
	err := c.post(ctx, "/api/finalize", map[string]any{"decided_by": decidedBy}, &report)
	return report, err
}

// StartItem marks a batch item in progress.
func (c *Client) StartItem(ctx context.Context, id int64, annotatorID *int64) (api.BatchItem, error) {
	return c.updateItem(ctx, id, "start", annotatorID)
}

// CompleteItem marks a batch item done.
func (c *Client) CompleteItem(ctx context.Context, id int64, annotatorID *int64) (api.BatchItem, error) {
	return c.updateItem(ctx, id, "complete", annotatorID)
}

func (c *Client) updateItem(ctx context.Context, id int64, action string, annotatorID *int64) (api.BatchItem, error) {
	var item api.BatchItem
	err := c.post(ctx, fmt.Sprintf("/api/items/%d/%s", id, action), map[string]any{"annotator_id": annotatorID}, &item)
	return item, err
}

// SubmitAnnotation records an annotator's value for a product attribute.
func (c *Client) SubmitAnnotation(ctx context.Context, input api.AnnotationInput) (api.Annotation, error) {
	var annotation api.Annotation
	err := c.post(ctx, "/api/annotations", input, &annotation)
	return annotation, err
}

// UnresolvedOverlaps lists overlap disagreements awaiting resolution.
func (c *Client) UnresolvedOverlaps(ctx context.Context) ([]api.Overlap, error) {
	var overlaps []api.Overlap
	err := c.get(ctx, "/api/overlaps", nil, &overlaps)
	return overlaps, err
}

// ResolveOverlap records the resolved value for an overlap disagreement.
func (c *Client) ResolveOverlap(ctx context.Context, id int64, value string, resolvedBy *int64) (api.Overlap, error) {
	var overlap api.Overlap
	err := c.post(ctx, fmt.Sprintf("/api/overlaps/%d/resolve", id), map[string]any{
		"value":       value,
		"resolved_by": resolvedBy,
	}, &overlap)
	return overlap, err
}

// PendingFlags lists vocabulary extension requests awaiting review.
func (c *Client) PendingFlags(ctx context.Context) ([]api.Flag, error) {
	var flags []api.Flag
	err := c.get(ctx, "/api/flags", nil, &flags)
	return flags, err
}

// RequestMissingValue files a vocabulary extension request.
func (c *Client) RequestMissingValue(ctx context.Context, input api.FlagInput) (api.Flag, error) {
	var flag api.Flag
	err := c.post(ctx, "/api/flags", input, &flag)
	return flag, err
}

// ReviewFlag approves or rejects a vocabulary extension request.
func (c *Client) ReviewFlag(ctx context.Context, id int64, approve bool, reviewedBy *int64, note string) (api.Flag, error) {
	var flag api.Flag
	err := c.post(ctx, fmt.Sprintf("/api/flags/%d/review", id), map[string]any{
		"approve":     approve,
		"reviewed_by": reviewedBy,
		"note":        note,
	}, &flag)
	return flag, err
}

// ProcessingStatus reports whether AI processing is paused and the product
// counts per workflow status.
func (c *Client) ProcessingStatus(ctx context.Context) (api.ProcessingStatus, error) {
	var status api.ProcessingStatus
	err := c.get(ctx, "/api/processing", nil, &status)
	return status, err
}

// PauseProcessing pauses the AI processing loop.
func (c *Client) PauseProcessing(ctx context.Context, pausedBy *int64) (api.ProcessingStatus, error) {
	var status api.ProcessingStatus
	err := c.post(ctx, "/api/processing/pause", map[string]any{"paused_by": pausedBy}, &status)
	return status, err
}

// ResumeProcessing resumes the AI processing loop.
func (c *Client) ResumeProcessing(ctx context.Context) (api.ProcessingStatus, error) {
	var status api.ProcessingStatus
	err := c.post(ctx, "/api/processing/resume", nil, &status)
	return status, err
}

// Dashboard fetches aggregate pipeline statistics.
func (c *Client) Dashboard(ctx context.Context) (api.Dashboard, error) {
	var dashboard api.Dashboard
	err := c.get(ctx, "/api/dashboard", nil, &dashboard)
	return dashboard, err
}

// ExportFinals fetches finals export records for the given products, or for
// all finalized products when no ids are given.
func (c *Client) ExportFinals(ctx context.Context, productIDs []int64) ([]api.ExportRecord, error) {
	query := url.Values{}
	for _, id := range productIDs {
		query.Add("product_id", strconv.FormatInt(id, 10))
	}
	var records []api.ExportRecord
	err := c.get(ctx, "/api/export", query, &records)
	return records, err
}

// ExportFinalsCSV writes the CSV export for the given products to w.
func (c *Client) ExportFinalsCSV(ctx context.Context, productIDs []int64, w io.Writer) error {
	query := url.Values{}
	for _, id := range productIDs {
		query.Add("product_id", strconv.FormatInt(id, 10))
	}
	query.Set("format", "csv")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/export?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: "csv export failed"}
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// SeedSampleData populates the demo catalog.
func (c *Client) SeedSampleData(ctx context.Context) (api.SeedReport, error) {
	var report api.SeedReport
	err := c.post(ctx, "/api/seed", nil, &report)
	return report, err
}
