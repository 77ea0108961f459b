package taxonomy

import (
	"context"
	"fmt"

	"facet/internal/services"
	"facet/internal/store"
)

// FlagRequest is an annotator's ask to extend a closed vocabulary.
type FlagRequest struct {
	ProductID      int64
	AttributeID    int64
	AnnotatorID    int64
	BatchItemID    *int64
	RequestedValue string
	Reason         string
}

// RequestValue files a missing-value flag. Only attributes with a closed
// vocabulary can be flagged, and the requested value must not already be in
// it. A repeated request for the same tuple refreshes the pending flag.
func (r *Resolver) RequestValue(ctx context.Context, req FlagRequest) (*store.MissingValueFlag, error) {
	if req.RequestedValue == "" {
		return nil, services.Wrap(services.ErrValidation, "taxonomy", "request value", "requested value is required", nil)
	}
	attribute, err := r.store.GetAttribute(ctx, req.AttributeID)
	if err != nil {
		return nil, services.Wrap(nil, "taxonomy", "request value", "load attribute", err)
	}
	if attribute == nil {
		return nil, services.Wrap(services.ErrNotFound, "taxonomy", "request value", fmt.Sprintf("attribute %d", req.AttributeID), nil)
	}
	allowed := attribute.AllowedValues()
	if len(allowed) == 0 {
		return nil, services.Wrap(services.ErrValidation, "taxonomy", "request value",
			fmt.Sprintf("attribute %s has no closed vocabulary", attribute.Name), nil)
	}
	for _, value := range allowed {
		if value == req.RequestedValue {
			return nil, services.Wrap(services.ErrConflict, "taxonomy", "request value",
				fmt.Sprintf("value %q is already allowed for %s", req.RequestedValue, attribute.Name), nil)
		}
	}
	flag, err := r.store.CreateFlag(ctx, &store.MissingValueFlag{
		ProductID:      req.ProductID,
		AttributeID:    req.AttributeID,
		AnnotatorID:    req.AnnotatorID,
		BatchItemID:    req.BatchItemID,
		RequestedValue: req.RequestedValue,
		Reason:         req.Reason,
	})
	if err != nil {
		return nil, services.Wrap(nil, "taxonomy", "request value", "persist flag", err)
	}
	return flag, nil
}

// ReviewFlag approves or rejects a pending flag. Approval extends the
// attribute's vocabulary in the same transaction as the status change.
func (r *Resolver) ReviewFlag(ctx context.Context, flagID int64, approve bool, reviewedBy *int64, note string) (*store.MissingValueFlag, error) {
	flag, err := r.store.GetFlag(ctx, flagID)
	if err != nil {
		return nil, services.Wrap(nil, "taxonomy", "review flag", "load flag", err)
	}
	if flag == nil {
		return nil, services.Wrap(services.ErrNotFound, "taxonomy", "review flag", fmt.Sprintf("flag %d", flagID), nil)
	}
	resolved, err := r.store.ResolveFlag(ctx, flagID, approve, reviewedBy, note)
	if err != nil {
		return nil, services.Wrap(nil, "taxonomy", "review flag", "resolve flag", err)
	}
	if !resolved {
		return nil, services.Wrap(services.ErrConflict, "taxonomy", "review flag",
			fmt.Sprintf("flag %d is %s, not pending", flagID, flag.Status), nil)
	}
	return r.store.GetFlag(ctx, flagID)
}

// PendingFlags lists flags awaiting review, oldest first.
func (r *Resolver) PendingFlags(ctx context.Context) ([]*store.MissingValueFlag, error) {
	flags, err := r.store.PendingFlags(ctx)
	if err != nil {
		return nil, services.Wrap(nil, "taxonomy", "pending flags", "query flags", err)
	}
	return flags, nil
}
