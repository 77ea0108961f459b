// Package overlap detects conflicting approved annotations for a product
// attribute and resolves them into final values.
package overlap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"facet/internal/logging"
	"facet/internal/services"
	"facet/internal/store"
)

// OverlapResolutionConfidence is written on finals produced by admin
// overlap resolution.
const OverlapResolutionConfidence = 0.95

// SiblingWindow is the creation-time window used to group human batches
// that predate parent links.
const SiblingWindow = time.Hour

// Detector recomputes conflict state for product-attribute pairs.
type Detector struct {
	store  *store.Store
	logger *slog.Logger
}

// NewDetector constructs a Detector.
func NewDetector(st *store.Store, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Detector{store: st, logger: logger}
}

// Recompute gathers the pair's approved annotations and creates or
// refreshes an unresolved comparison when more than one distinct value is
// approved. A pair that has converged on one value gets no new record.
func (d *Detector) Recompute(ctx context.Context, productID, attributeID int64) (*store.OverlapComparison, error) {
	annotations, err := d.store.ApprovedAnnotationsForPair(ctx, productID, attributeID)
	if err != nil {
		return nil, services.Wrap(nil, "overlap", "recompute", "load approved annotations", err)
	}
	distinct := make(map[string]struct{}, len(annotations))
	ids := make([]int64, 0, len(annotations))
	for _, annotation := range annotations {
		distinct[annotation.AnnotatedValue] = struct{}{}
		ids = append(ids, annotation.ID)
	}
	if len(distinct) <= 1 {
		return nil, nil
	}
	comparison, err := d.store.UpsertOverlap(ctx, productID, attributeID, ids)
	if err != nil {
		return nil, services.Wrap(nil, "overlap", "recompute", "record comparison", err)
	}
	d.logger.Info("overlap detected",
		logging.Int64(logging.FieldProductID, productID),
		logging.Int64("attribute_id", attributeID),
		logging.Int("values", len(distinct)),
		logging.Int("annotations", len(ids)),
	)
	return comparison, nil
}

// RecomputePairs runs Recompute over a set of pairs, deduplicated.
func (d *Detector) RecomputePairs(ctx context.Context, pairs []store.PairKey) error {
	seen := make(map[store.PairKey]struct{}, len(pairs))
	for _, pair := range pairs {
		if _, done := seen[pair]; done {
			continue
		}
		seen[pair] = struct{}{}
		if _, err := d.Recompute(ctx, pair.ProductID, pair.AttributeID); err != nil {
			return err
		}
	}
	return nil
}

// AllAnnotatorsComplete reports whether every sibling batch item for the
// product is done. Siblings are scoped by the parent batch link; batches
// without a link fall back to human batches created within an hour of the
// reference batch, a documented heuristic for data predating parent links.
func (d *Detector) AllAnnotatorsComplete(ctx context.Context, batchID, productID int64) (bool, error) {
	siblings, err := d.store.SiblingBatches(ctx, batchID)
	if err != nil {
		return false, services.Wrap(nil, "overlap", "completion check", "load siblings", err)
	}
	if len(siblings) <= 1 {
		batch, err := d.store.GetBatch(ctx, batchID)
		if err != nil {
			return false, services.Wrap(nil, "overlap", "completion check", "load batch", err)
		}
		if batch == nil {
			return false, services.Wrap(services.ErrNotFound, "overlap", "completion check", fmt.Sprintf("batch %d", batchID), nil)
		}
		near, err := d.store.BatchesCreatedNear(ctx, batch.CreatedAt, SiblingWindow)
		if err != nil {
			return false, services.Wrap(nil, "overlap", "completion check", "load window siblings", err)
		}
		siblings = near
	}

	siblingSet := make(map[int64]struct{}, len(siblings))
	for _, sibling := range siblings {
		siblingSet[sibling.ID] = struct{}{}
	}

	items, err := d.store.ItemsForProduct(ctx, productID)
	if err != nil {
		return false, services.Wrap(nil, "overlap", "completion check", "load product items", err)
	}
	found := false
	for _, item := range items {
		if _, ok := siblingSet[item.BatchID]; !ok {
			continue
		}
		found = true
		if item.Status != store.ItemStatusDone {
			return false, nil
		}
	}
	return found, nil
}

// Resolver applies admin decisions to open comparisons.
type Resolver struct {
	store  *store.Store
	logger *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(st *store.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{store: st, logger: logger}
}

// Resolve writes the chosen value into the comparison and into an active
// final attribute with consensus source, atomically.
func (r *Resolver) Resolve(ctx context.Context, overlapID int64, value string, resolvedBy *int64) (*store.OverlapComparison, error) {
	if value == "" {
		return nil, services.Wrap(services.ErrValidation, "overlap", "resolve", "resolved value is required", nil)
	}
	comparison, err := r.store.GetOverlap(ctx, overlapID)
	if err != nil {
		return nil, services.Wrap(nil, "overlap", "resolve", "load comparison", err)
	}
	if comparison == nil {
		return nil, services.Wrap(services.ErrNotFound, "overlap", "resolve", fmt.Sprintf("comparison %d", overlapID), nil)
	}
	if comparison.IsResolved {
		return nil, services.Wrap(services.ErrConflict, "overlap", "resolve", fmt.Sprintf("comparison %d already resolved", overlapID), nil)
	}
	applied, err := r.store.ResolveOverlap(ctx, overlapID, value, resolvedBy, OverlapResolutionConfidence)
	if err != nil {
		return nil, services.Wrap(nil, "overlap", "resolve", "apply resolution", err)
	}
	if !applied {
		return nil, services.Wrap(services.ErrConflict, "overlap", "resolve", fmt.Sprintf("comparison %d already resolved", overlapID), nil)
	}
	r.logger.Info("overlap resolved",
		logging.Int64("overlap_id", overlapID),
		logging.Int64(logging.FieldProductID, comparison.ProductID),
		logging.Int64("attribute_id", comparison.AttributeID),
		logging.String("value", value),
	)
	return r.store.GetOverlap(ctx, overlapID)
}
