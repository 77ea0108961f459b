package assignment_test

import (
	"context"
	"errors"
	"testing"

	"facet/internal/assignment"
	"facet/internal/config"
	"facet/internal/overlap"
	"facet/internal/services"
	"facet/internal/store"
	"facet/internal/testsupport"
	"facet/internal/workflow"
)

func newManager(t *testing.T, cfg *config.Config, st *store.Store) *assignment.Manager {
	t.Helper()
	return assignment.NewManager(st, cfg, overlap.NewDetector(st, nil), nil)
}

func advanceToAIDone(t *testing.T, st *store.Store, productID int64) {
	t.Helper()
	ctx := context.Background()
	for _, step := range []struct{ from, to workflow.Status }{
		{workflow.StatusPendingAI, workflow.StatusAIRunning},
		{workflow.StatusAIRunning, workflow.StatusAIDone},
	} {
		moved, err := st.TransitionProduct(ctx, productID, step.from, step.to)
		if err != nil || !moved {
			t.Fatalf("advance product %d %s -> %s: moved=%v err=%v", productID, step.from, step.to, moved, err)
		}
	}
}

func TestCreateAIBatchValidatesSize(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	manager := newManager(t, cfg, st)

	_, err := manager.CreateAIBatch(context.Background(), 15)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for disallowed size, got %v", err)
	}
}

func TestCreateAIBatchClaimsPendingProducts(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchSizes(2))
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	manager := newManager(t, cfg, st)

	for i := 0; i < 3; i++ {
		testsupport.NewProduct(t, st, "Product", "apparel", "")
	}

	batch, err := manager.CreateAIBatch(ctx, 2)
	if err != nil {
		t.Fatalf("CreateAIBatch: %v", err)
	}
	if batch == nil || batch.BatchSize != 2 || batch.BatchType != store.BatchTypeAI {
		t.Fatalf("batch = %+v", batch)
	}

	claimed, err := st.ListProducts(ctx, workflow.StatusAIRunning)
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed products = %d", len(claimed))
	}
}

func TestAutoAssignWithOverlapDistributesRoundRobin(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchSizes(10))
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	manager := newManager(t, cfg, st)

	annotators := []*store.Annotator{
		testsupport.NewAnnotator(t, st, "first"),
		testsupport.NewAnnotator(t, st, "second"),
		testsupport.NewAnnotator(t, st, "third"),
	}
	var productIDs []int64
	for i := 0; i < 2; i++ {
		product := testsupport.NewProduct(t, st, "Product", "apparel", "")
		advanceToAIDone(t, st, product.ID)
		productIDs = append(productIDs, product.ID)
	}

	batches, err := manager.AutoAssignWithOverlap(ctx, 10, 2)
	if err != nil {
		t.Fatalf("AutoAssignWithOverlap: %v", err)
	}
	parent := batches[0]
	if parent.Status != store.BatchStatusCompleted || parent.BatchSize != 2 {
		t.Fatalf("parent = %+v", parent)
	}

	// Round-robin with 3 annotators and overlap 2: product 0 goes to
	// annotators 0 and 1, product 1 to annotators 2 and 0.
	wantProducts := map[int64][]int64{
		annotators[0].ID: {productIDs[0], productIDs[1]},
		annotators[1].ID: {productIDs[0]},
		annotators[2].ID: {productIDs[1]},
	}
	children := batches[1:]
	if len(children) != 3 {
		t.Fatalf("work batches = %d", len(children))
	}
	for _, child := range children {
		if child.ParentBatchID == nil || *child.ParentBatchID != parent.ID {
			t.Fatalf("child not linked to parent: %+v", child)
		}
		if child.AssignedTo == nil {
			t.Fatalf("child has no annotator: %+v", child)
		}
		items, err := st.ItemsForBatch(ctx, child.ID)
		if err != nil {
			t.Fatalf("ItemsForBatch: %v", err)
		}
		want := wantProducts[*child.AssignedTo]
		if len(items) != len(want) {
			t.Fatalf("annotator %d got %d items, want %d", *child.AssignedTo, len(items), len(want))
		}
		got := make(map[int64]bool, len(items))
		for _, item := range items {
			got[item.ProductID] = true
		}
		for _, productID := range want {
			if !got[productID] {
				t.Fatalf("annotator %d missing product %d", *child.AssignedTo, productID)
			}
		}
	}

	// Each product is assigned to exactly overlapCount annotators and the
	// products themselves moved to assigned.
	for _, productID := range productIDs {
		product, _ := st.GetProduct(ctx, productID)
		if product.Status != workflow.StatusAssigned {
			t.Fatalf("product %d status = %s", productID, product.Status)
		}
	}
}

func TestAutoAssignFullOverlapGivesEveryAnnotatorEveryProduct(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchSizes(10))
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	manager := newManager(t, cfg, st)

	annotators := []*store.Annotator{
		testsupport.NewAnnotator(t, st, "first"),
		testsupport.NewAnnotator(t, st, "second"),
	}
	var productIDs []int64
	for i := 0; i < 2; i++ {
		product := testsupport.NewProduct(t, st, "Product", "apparel", "")
		advanceToAIDone(t, st, product.ID)
		productIDs = append(productIDs, product.ID)
	}

	// Overlap equal to the annotator pool: every product is reviewed by
	// every annotator, one child batch of two items each.
	batches, err := manager.AutoAssignWithOverlap(ctx, 10, 2)
	if err != nil {
		t.Fatalf("AutoAssignWithOverlap: %v", err)
	}
	children := batches[1:]
	if len(children) != 2 {
		t.Fatalf("work batches = %d", len(children))
	}
	seen := make(map[int64]bool, len(children))
	for _, child := range children {
		if child.AssignedTo == nil || seen[*child.AssignedTo] {
			t.Fatalf("child batch annotator assignment = %+v", child)
		}
		seen[*child.AssignedTo] = true
		if child.BatchSize != 2 {
			t.Fatalf("child batch size = %d", child.BatchSize)
		}
		items, err := st.ItemsForBatch(ctx, child.ID)
		if err != nil {
			t.Fatalf("ItemsForBatch: %v", err)
		}
		got := make(map[int64]bool, len(items))
		for _, item := range items {
			got[item.ProductID] = true
		}
		for _, productID := range productIDs {
			if !got[productID] {
				t.Fatalf("annotator %d missing product %d", *child.AssignedTo, productID)
			}
		}
	}
	for _, annotator := range annotators {
		if !seen[annotator.ID] {
			t.Fatalf("annotator %d got no child batch", annotator.ID)
		}
	}
}

func TestAutoAssignRejectsBadOverlap(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchSizes(10))
	st := testsupport.MustOpenStore(t, cfg)
	manager := newManager(t, cfg, st)
	testsupport.NewAnnotator(t, st, "only")

	if _, err := manager.AutoAssignWithOverlap(context.Background(), 10, 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for overlap 0, got %v", err)
	}
	if _, err := manager.AutoAssignWithOverlap(context.Background(), 10, 6); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for overlap 6, got %v", err)
	}
}

func TestCompleteItemAdvancesProductThroughReview(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchSizes(10))
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	manager := newManager(t, cfg, st)

	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	testsupport.NewMapping(t, st, "apparel", "", attribute.ID, true)
	annotator := testsupport.NewAnnotator(t, st, "casey")

	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	advanceToAIDone(t, st, product.ID)

	batch, err := manager.CreateHumanBatch(ctx, 10, &annotator.ID)
	if err != nil {
		t.Fatalf("CreateHumanBatch: %v", err)
	}
	items, _ := st.ItemsForBatch(ctx, batch.ID)
	item := items[0]

	// Starting work surfaces the product as in_review.
	if _, err := manager.StartItem(ctx, item.ID, &annotator.ID); err != nil {
		t.Fatalf("StartItem: %v", err)
	}
	reloaded, _ := st.GetProduct(ctx, product.ID)
	if reloaded.Status != workflow.StatusInReview {
		t.Fatalf("product status after start = %s", reloaded.Status)
	}

	if _, err := manager.SubmitAnnotation(ctx, assignment.AnnotationSubmission{
		ProductID:   product.ID,
		AttributeID: attribute.ID,
		AnnotatorID: annotator.ID,
		BatchItemID: &item.ID,
		Value:       "Red",
	}); err != nil {
		t.Fatalf("SubmitAnnotation: %v", err)
	}
	if _, err := manager.CompleteItem(ctx, item.ID, &annotator.ID); err != nil {
		t.Fatalf("CompleteItem: %v", err)
	}

	// Completion auto-approved the suggested annotation, and with the sole
	// required review done the product moved straight to reviewed.
	annotations, _ := st.AnnotationsForProduct(ctx, product.ID)
	if len(annotations) != 1 || annotations[0].Status != store.AnnotationApproved {
		t.Fatalf("annotations after completion = %+v", annotations)
	}
	reloaded, _ = st.GetProduct(ctx, product.ID)
	if reloaded.Status != workflow.StatusReviewed {
		t.Fatalf("product status after completion = %s", reloaded.Status)
	}

	// The admin approval path finds nothing left to advance.
	advanced, err := manager.ApproveBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("ApproveBatch: %v", err)
	}
	if advanced != 0 {
		t.Fatalf("advanced = %d", advanced)
	}
	reloaded, _ = st.GetProduct(ctx, product.ID)
	if reloaded.Status != workflow.StatusReviewed {
		t.Fatalf("product status after approval = %s", reloaded.Status)
	}
}

func TestRejectBatchResetsWork(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchSizes(10))
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	manager := newManager(t, cfg, st)

	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	annotator := testsupport.NewAnnotator(t, st, "casey")
	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	advanceToAIDone(t, st, product.ID)

	batch, err := manager.CreateHumanBatch(ctx, 10, &annotator.ID)
	if err != nil {
		t.Fatalf("CreateHumanBatch: %v", err)
	}
	items, _ := st.ItemsForBatch(ctx, batch.ID)
	item := items[0]

	if _, err := manager.SubmitAnnotation(ctx, assignment.AnnotationSubmission{
		ProductID:   product.ID,
		AttributeID: attribute.ID,
		AnnotatorID: annotator.ID,
		BatchItemID: &item.ID,
		Value:       "Blue",
	}); err != nil {
		t.Fatalf("SubmitAnnotation: %v", err)
	}
	if _, err := manager.CompleteItem(ctx, item.ID, &annotator.ID); err != nil {
		t.Fatalf("CompleteItem: %v", err)
	}

	// Completion already advanced the product; rejection must walk the
	// reviewed -> assigned reset.
	reviewed, _ := st.GetProduct(ctx, product.ID)
	if reviewed.Status != workflow.StatusReviewed {
		t.Fatalf("product status before rejection = %s", reviewed.Status)
	}

	reset, err := manager.RejectBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("RejectBatch: %v", err)
	}
	if reset != 1 {
		t.Fatalf("reset = %d", reset)
	}

	reloadedProduct, _ := st.GetProduct(ctx, product.ID)
	if reloadedProduct.Status != workflow.StatusAssigned {
		t.Fatalf("product status after rejection = %s", reloadedProduct.Status)
	}
	reloadedBatch, _ := st.GetBatch(ctx, batch.ID)
	if reloadedBatch.Status != store.BatchStatusPending || reloadedBatch.Progress != 0 {
		t.Fatalf("batch after rejection = %+v", reloadedBatch)
	}
	reloadedItem, _ := st.GetBatchItem(ctx, item.ID)
	if reloadedItem.Status != store.ItemStatusNotStarted || reloadedItem.CompletedAt != nil {
		t.Fatalf("item after rejection = %+v", reloadedItem)
	}
	annotations, _ := st.AnnotationsForProduct(ctx, product.ID)
	if len(annotations) != 1 || annotations[0].Status != store.AnnotationSuggested {
		t.Fatalf("annotations after rejection = %+v", annotations)
	}
}

func TestSubmitAnnotationMarksCorrection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	manager := newManager(t, cfg, st)

	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	annotator := testsupport.NewAnnotator(t, st, "casey")
	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")

	if _, err := st.WriteConsensus(ctx, product.ID, attribute.ID, "Red", store.ConsensusMethodWeightedMajority, 0.9); err != nil {
		t.Fatalf("WriteConsensus: %v", err)
	}

	annotation, err := manager.SubmitAnnotation(ctx, assignment.AnnotationSubmission{
		ProductID:   product.ID,
		AttributeID: attribute.ID,
		AnnotatorID: annotator.ID,
		Value:       "Blue",
	})
	if err != nil {
		t.Fatalf("SubmitAnnotation: %v", err)
	}
	if !annotation.IsCorrection || annotation.PreviousValue != "Red" {
		t.Fatalf("annotation = %+v", annotation)
	}

	// A value outside the vocabulary is rejected.
	_, err = manager.SubmitAnnotation(ctx, assignment.AnnotationSubmission{
		ProductID:   product.ID,
		AttributeID: attribute.ID,
		AnnotatorID: annotator.ID,
		Value:       "Chartreuse",
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected vocabulary rejection, got %v", err)
	}
}
