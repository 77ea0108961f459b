package assignment

import (
	"context"
	"fmt"

	"facet/internal/logging"
	"facet/internal/services"
	"facet/internal/store"
	"facet/internal/workflow"
)

// StartItem marks a batch item in progress for an annotator and moves the
// owning product into in_review. A sibling annotator may have started first;
// the guarded transition is then a no-op.
func (m *Manager) StartItem(ctx context.Context, itemID int64, annotatorID *int64) (*store.BatchItem, error) {
	item, err := m.store.GetBatchItem(ctx, itemID)
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "start item", "load item", err)
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "assignment", "start item", fmt.Sprintf("item %d", itemID), nil)
	}
	started, err := m.store.StartBatchItem(ctx, itemID, annotatorID)
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "start item", "mark in progress", err)
	}
	if _, err := m.store.TransitionProduct(ctx, item.ProductID, workflow.StatusAssigned, workflow.StatusInReview); err != nil {
		return nil, err
	}
	return started, nil
}

// CompleteItem marks a batch item done. When that completes the batch, the
// batch's suggested annotations are auto-approved, overlap state is
// recomputed for the touched pairs, and every product whose sibling items
// are all done moves to reviewed.
func (m *Manager) CompleteItem(ctx context.Context, itemID int64, annotatorID *int64) (*store.BatchItem, error) {
	item, err := m.store.GetBatchItem(ctx, itemID)
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "complete item", "load item", err)
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "assignment", "complete item", fmt.Sprintf("item %d", itemID), nil)
	}
	completed, err := m.store.CompleteBatchItem(ctx, itemID, annotatorID)
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "complete item", "mark done", err)
	}
	batch, err := m.store.GetBatch(ctx, item.BatchID)
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "complete item", "load batch", err)
	}
	if batch != nil && batch.Status == store.BatchStatusCompleted && batch.BatchType == store.BatchTypeHuman {
		if err := m.onBatchCompleted(ctx, batch); err != nil {
			return nil, err
		}
	}
	return completed, nil
}

func (m *Manager) onBatchCompleted(ctx context.Context, batch *store.AnnotationBatch) error {
	items, err := m.store.ItemsForBatch(ctx, batch.ID)
	if err != nil {
		return services.Wrap(nil, "assignment", "batch completed", "load items", err)
	}
	var pairs []store.PairKey
	for _, item := range items {
		itemPairs, err := m.store.ApproveSuggestedForItem(ctx, item.ID)
		if err != nil {
			return services.Wrap(nil, "assignment", "batch completed", "approve annotations", err)
		}
		pairs = append(pairs, itemPairs...)
	}
	if err := m.detector.RecomputePairs(ctx, pairs); err != nil {
		return err
	}
	for _, item := range items {
		done, err := m.detector.AllAnnotatorsComplete(ctx, batch.ID, item.ProductID)
		if err != nil {
			return err
		}
		if !done {
			continue
		}
		// An item completed without an explicit start still needs the
		// in_review hop before reaching reviewed.
		if _, err := m.store.TransitionProduct(ctx, item.ProductID, workflow.StatusAssigned, workflow.StatusInReview); err != nil {
			return err
		}
		if _, err := m.store.TransitionProduct(ctx, item.ProductID, workflow.StatusInReview, workflow.StatusReviewed); err != nil {
			return err
		}
	}
	m.logger.Info("batch completed",
		logging.Int64(logging.FieldBatchID, batch.ID),
		logging.Int("items", len(items)),
	)
	return nil
}

// AnnotationSubmission carries the fields of one annotation write.
type AnnotationSubmission struct {
	ProductID   int64
	AttributeID int64
	AnnotatorID int64
	BatchItemID *int64
	Value       string
	Status      store.AnnotationStatus
	Note        string
}

// SubmitAnnotation records an annotator's value. A value differing from
// the product's active AI consensus is marked as a correction retaining the
// prior consensus value. Approved submissions trigger immediate overlap
// recomputation so conflicts surface before review.
func (m *Manager) SubmitAnnotation(ctx context.Context, submission AnnotationSubmission) (*store.HumanAnnotation, error) {
	if submission.Value == "" {
		return nil, services.Wrap(services.ErrValidation, "assignment", "submit annotation", "value is required", nil)
	}
	status := submission.Status
	if status == "" {
		status = store.AnnotationSuggested
	}
	attribute, err := m.store.GetAttribute(ctx, submission.AttributeID)
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "submit annotation", "load attribute", err)
	}
	if attribute == nil {
		return nil, services.Wrap(services.ErrNotFound, "assignment", "submit annotation", fmt.Sprintf("attribute %d", submission.AttributeID), nil)
	}
	if allowed := attribute.AllowedValues(); len(allowed) > 0 {
		found := false
		for _, value := range allowed {
			if value == submission.Value {
				found = true
				break
			}
		}
		if !found {
			return nil, services.Wrap(services.ErrValidation, "assignment", "submit annotation",
				fmt.Sprintf("value %q not in %s vocabulary", submission.Value, attribute.Name), nil)
		}
	}

	annotation := &store.HumanAnnotation{
		ProductID:      submission.ProductID,
		AttributeID:    submission.AttributeID,
		AnnotatorID:    submission.AnnotatorID,
		BatchItemID:    submission.BatchItemID,
		AnnotatedValue: submission.Value,
		Status:         status,
		Note:           submission.Note,
	}
	consensus, err := m.store.ActiveConsensus(ctx, submission.ProductID, submission.AttributeID)
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "submit annotation", "load consensus", err)
	}
	if consensus != nil && consensus.ConsensusValue != submission.Value {
		annotation.IsCorrection = true
		annotation.PreviousValue = consensus.ConsensusValue
	}

	stored, err := m.store.UpsertAnnotation(ctx, annotation)
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "submit annotation", "persist annotation", err)
	}
	if stored.Status == store.AnnotationApproved {
		if _, err := m.detector.Recompute(ctx, stored.ProductID, stored.AttributeID); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

// ApproveBatch accepts a completed batch's work: any product still in
// in_review moves to reviewed. Products that reached reviewed when their
// sibling reviews completed, and products still waiting on sibling batches,
// are left untouched. Returns the number of products advanced.
func (m *Manager) ApproveBatch(ctx context.Context, batchID int64) (int, error) {
	batch, err := m.reviewableBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}
	productIDs, err := m.store.ProductIDsForBatch(ctx, batch.ID)
	if err != nil {
		return 0, services.Wrap(nil, "assignment", "approve batch", "load products", err)
	}
	advanced := 0
	for _, productID := range productIDs {
		moved, err := m.store.TransitionProduct(ctx, productID, workflow.StatusInReview, workflow.StatusReviewed)
		if err != nil {
			return advanced, err
		}
		if moved {
			advanced++
		}
	}
	m.logger.Info("batch approved",
		logging.Int64(logging.FieldBatchID, batchID),
		logging.Int("advanced", advanced),
	)
	return advanced, nil
}

// RejectBatch sends a completed batch back for rework: annotations return
// to suggested, items to not_started, and products from in_review or
// reviewed back to assigned. Returns the number of products reset.
func (m *Manager) RejectBatch(ctx context.Context, batchID int64) (int, error) {
	batch, err := m.reviewableBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}
	productIDs, err := m.store.ProductIDsForBatch(ctx, batch.ID)
	if err != nil {
		return 0, services.Wrap(nil, "assignment", "reject batch", "load products", err)
	}
	reset := 0
	for _, productID := range productIDs {
		moved, err := m.store.TransitionProduct(ctx, productID, workflow.StatusInReview, workflow.StatusAssigned)
		if err != nil {
			return reset, err
		}
		if !moved {
			moved, err = m.store.TransitionProduct(ctx, productID, workflow.StatusReviewed, workflow.StatusAssigned)
			if err != nil {
				return reset, err
			}
		}
		if moved {
			reset++
		}
	}
	if err := m.store.ResetBatchWork(ctx, batchID); err != nil {
		return reset, services.Wrap(nil, "assignment", "reject batch", "reset work", err)
	}
	m.logger.Info("batch rejected",
		logging.Int64(logging.FieldBatchID, batchID),
		logging.Int("reset", reset),
	)
	return reset, nil
}

func (m *Manager) reviewableBatch(ctx context.Context, batchID int64) (*store.AnnotationBatch, error) {
	batch, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "review batch", "load batch", err)
	}
	if batch == nil {
		return nil, services.Wrap(services.ErrNotFound, "assignment", "review batch", fmt.Sprintf("batch %d", batchID), nil)
	}
	if batch.BatchType != store.BatchTypeHuman {
		return nil, services.Wrap(services.ErrValidation, "assignment", "review batch", "only human batches are reviewed", nil)
	}
	if batch.Status != store.BatchStatusCompleted {
		return nil, services.Wrap(services.ErrValidation, "assignment", "review batch",
			fmt.Sprintf("batch %d is %s, not completed", batchID, batch.Status), nil)
	}
	return batch, nil
}
