// Package finalize resolves a reviewed product's annotations into versioned
// final attribute values and moves the product to its terminal status.
package finalize

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"facet/internal/logging"
	"facet/internal/services"
	"facet/internal/store"
	"facet/internal/taxonomy"
	"facet/internal/workflow"
)

// FinalizationConfidence is recorded on every final written through the
// normal review path. Overlap resolutions carry their own confidence.
const FinalizationConfidence = 1.0

// Finalizer turns reviewed products into finalized ones.
type Finalizer struct {
	store    *store.Store
	taxonomy *taxonomy.Resolver
	logger   *slog.Logger
}

// NewFinalizer constructs a Finalizer.
func NewFinalizer(st *store.Store, resolver *taxonomy.Resolver, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Finalizer{store: st, taxonomy: resolver, logger: logger}
}

// FinalizeProduct resolves every applicable attribute of a reviewed product
// to a final value and transitions the product to finalized. An attribute
// annotated with a single value finalizes from the human source; conflicting
// values finalize to the most frequent one, earliest annotation winning ties,
// from the consensus source. Any applicable attribute with no annotation at
// all aborts the whole product, nothing is written.
func (f *Finalizer) FinalizeProduct(ctx context.Context, productID int64, decidedBy *int64) ([]store.FinalDecision, error) {
	product, err := f.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, services.Wrap(nil, "finalize", "finalize product", "load product", err)
	}
	if product == nil {
		return nil, services.Wrap(services.ErrNotFound, "finalize", "finalize product", fmt.Sprintf("product %d", productID), nil)
	}
	if product.Status != workflow.StatusReviewed {
		return nil, services.Wrap(services.ErrInvalidTransition, "finalize", "finalize product",
			fmt.Sprintf("product %d is %s, not reviewed", productID, product.Status), nil)
	}

	attributes, err := f.taxonomy.ApplicableAttributes(ctx, product, false)
	if err != nil {
		return nil, err
	}
	annotations, err := f.store.AnnotationsForProduct(ctx, productID, store.AnnotationSuggested, store.AnnotationApproved)
	if err != nil {
		return nil, services.Wrap(nil, "finalize", "finalize product", "load annotations", err)
	}

	byAttribute := make(map[int64][]*store.HumanAnnotation, len(attributes))
	for _, annotation := range annotations {
		byAttribute[annotation.AttributeID] = append(byAttribute[annotation.AttributeID], annotation)
	}

	var missing []string
	decisions := make([]store.FinalDecision, 0, len(attributes))
	for _, attribute := range attributes {
		group := byAttribute[attribute.ID]
		if len(group) == 0 {
			missing = append(missing, attribute.Name)
			continue
		}
		value, distinct := pickValue(group)
		source := store.FinalSourceHuman
		if distinct > 1 {
			source = store.FinalSourceConsensus
		}
		decisions = append(decisions, store.FinalDecision{
			AttributeID: attribute.ID,
			Value:       value,
			Source:      source,
			DecidedBy:   decidedBy,
			Confidence:  FinalizationConfidence,
		})
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, services.Wrap(services.ErrIncompleteAnnotations, "finalize", "finalize product",
			fmt.Sprintf("product %d has no annotation for: %s", productID, strings.Join(missing, ", ")), nil)
	}

	if err := f.store.ApplyFinalization(ctx, productID, decisions); err != nil {
		return nil, services.Wrap(nil, "finalize", "finalize product", "apply finalization", err)
	}
	f.logger.Info("product finalized",
		logging.Int64(logging.FieldProductID, productID),
		logging.Int("attributes", len(decisions)),
	)
	return decisions, nil
}

// pickValue returns the annotation value to finalize and the number of
// distinct values seen. Annotations arrive ordered by id, so a frequency tie
// keeps the earliest value.
func pickValue(group []*store.HumanAnnotation) (string, int) {
	counts := make(map[string]int, len(group))
	order := make([]string, 0, len(group))
	for _, annotation := range group {
		if _, seen := counts[annotation.AnnotatedValue]; !seen {
			order = append(order, annotation.AnnotatedValue)
		}
		counts[annotation.AnnotatedValue]++
	}
	best := order[0]
	for _, value := range order[1:] {
		if counts[value] > counts[best] {
			best = value
		}
	}
	return best, len(order)
}

// BatchResult reports a best-effort finalization run over several products.
type BatchResult struct {
	Finalized int
	Failures  map[int64]error
}

// FinalizeBatch finalizes every product in a batch, continuing past
// per-product failures.
func (f *Finalizer) FinalizeBatch(ctx context.Context, batchID int64, decidedBy *int64) (*BatchResult, error) {
	batch, err := f.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, services.Wrap(nil, "finalize", "finalize batch", "load batch", err)
	}
	if batch == nil {
		return nil, services.Wrap(services.ErrNotFound, "finalize", "finalize batch", fmt.Sprintf("batch %d", batchID), nil)
	}
	productIDs, err := f.store.ProductIDsForBatch(ctx, batchID)
	if err != nil {
		return nil, services.Wrap(nil, "finalize", "finalize batch", "load products", err)
	}
	return f.finalizeMany(ctx, productIDs, decidedBy), nil
}

// FinalizeAllReviewed finalizes every product currently in reviewed status,
// continuing past per-product failures.
func (f *Finalizer) FinalizeAllReviewed(ctx context.Context, decidedBy *int64) (*BatchResult, error) {
	products, err := f.store.ListProducts(ctx, workflow.StatusReviewed)
	if err != nil {
		return nil, services.Wrap(nil, "finalize", "finalize reviewed", "list products", err)
	}
	productIDs := make([]int64, 0, len(products))
	for _, product := range products {
		productIDs = append(productIDs, product.ID)
	}
	return f.finalizeMany(ctx, productIDs, decidedBy), nil
}

func (f *Finalizer) finalizeMany(ctx context.Context, productIDs []int64, decidedBy *int64) *BatchResult {
	result := &BatchResult{Failures: make(map[int64]error)}
	for _, productID := range productIDs {
		if _, err := f.FinalizeProduct(ctx, productID, decidedBy); err != nil {
			result.Failures[productID] = err
			f.logger.Warn("finalization skipped",
				logging.Int64(logging.FieldProductID, productID),
				logging.Error(err),
			)
			continue
		}
		result.Finalized++
	}
	return result
}
