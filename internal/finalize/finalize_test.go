package finalize_test

import (
	"context"
	"errors"
	"testing"

	"facet/internal/finalize"
	"facet/internal/services"
	"facet/internal/store"
	"facet/internal/taxonomy"
	"facet/internal/testsupport"
	"facet/internal/workflow"
)

func advanceToReviewed(t *testing.T, st *store.Store, productID int64) {
	t.Helper()
	ctx := context.Background()
	steps := []struct{ from, to workflow.Status }{
		{workflow.StatusPendingAI, workflow.StatusAIRunning},
		{workflow.StatusAIRunning, workflow.StatusAIDone},
		{workflow.StatusAIDone, workflow.StatusAssigned},
		{workflow.StatusAssigned, workflow.StatusInReview},
		{workflow.StatusInReview, workflow.StatusReviewed},
	}
	for _, step := range steps {
		moved, err := st.TransitionProduct(ctx, productID, step.from, step.to)
		if err != nil || !moved {
			t.Fatalf("advance product %d %s -> %s: moved=%v err=%v", productID, step.from, step.to, moved, err)
		}
	}
}

func annotate(t *testing.T, st *store.Store, productID, attributeID, annotatorID int64, value string, status store.AnnotationStatus) {
	t.Helper()
	if _, err := st.UpsertAnnotation(context.Background(), &store.HumanAnnotation{
		ProductID:      productID,
		AttributeID:    attributeID,
		AnnotatorID:    annotatorID,
		AnnotatedValue: value,
		Status:         status,
	}); err != nil {
		t.Fatalf("UpsertAnnotation: %v", err)
	}
}

func TestFinalizeProductSingleValue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	testsupport.NewMapping(t, st, "apparel", "", attribute.ID, true)
	annotator := testsupport.NewAnnotator(t, st, "casey")
	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	advanceToReviewed(t, st, product.ID)
	annotate(t, st, product.ID, attribute.ID, annotator.ID, "Red", store.AnnotationSuggested)

	finalizer := finalize.NewFinalizer(st, taxonomy.NewResolver(st), nil)
	decisions, err := finalizer.FinalizeProduct(ctx, product.ID, &annotator.ID)
	if err != nil {
		t.Fatalf("FinalizeProduct: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Source != store.FinalSourceHuman {
		t.Fatalf("decisions = %+v", decisions)
	}

	final, err := st.ActiveFinal(ctx, product.ID, attribute.ID)
	if err != nil {
		t.Fatalf("ActiveFinal: %v", err)
	}
	if final == nil || final.FinalValue != "Red" || final.Confidence != finalize.FinalizationConfidence {
		t.Fatalf("final = %+v", final)
	}

	reloaded, _ := st.GetProduct(ctx, product.ID)
	if reloaded.Status != workflow.StatusFinalized {
		t.Fatalf("product status = %s", reloaded.Status)
	}

	// The suggested annotation was promoted during finalization.
	annotations, _ := st.AnnotationsForProduct(ctx, product.ID)
	if len(annotations) != 1 || annotations[0].Status != store.AnnotationApproved {
		t.Fatalf("annotations = %+v", annotations)
	}
}

func TestFinalizeProductConflictPicksMostFrequent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	testsupport.NewMapping(t, st, "apparel", "", attribute.ID, true)
	a := testsupport.NewAnnotator(t, st, "a")
	b := testsupport.NewAnnotator(t, st, "b")
	c := testsupport.NewAnnotator(t, st, "c")
	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	advanceToReviewed(t, st, product.ID)
	annotate(t, st, product.ID, attribute.ID, a.ID, "Red", store.AnnotationApproved)
	annotate(t, st, product.ID, attribute.ID, b.ID, "Blue", store.AnnotationApproved)
	annotate(t, st, product.ID, attribute.ID, c.ID, "Red", store.AnnotationApproved)

	finalizer := finalize.NewFinalizer(st, taxonomy.NewResolver(st), nil)
	decisions, err := finalizer.FinalizeProduct(ctx, product.ID, nil)
	if err != nil {
		t.Fatalf("FinalizeProduct: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Value != "Red" || decisions[0].Source != store.FinalSourceConsensus {
		t.Fatalf("decisions = %+v", decisions)
	}
}

func TestFinalizeProductConflictTieKeepsEarliest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	testsupport.NewMapping(t, st, "apparel", "", attribute.ID, true)
	a := testsupport.NewAnnotator(t, st, "a")
	b := testsupport.NewAnnotator(t, st, "b")
	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	advanceToReviewed(t, st, product.ID)
	annotate(t, st, product.ID, attribute.ID, a.ID, "Blue", store.AnnotationApproved)
	annotate(t, st, product.ID, attribute.ID, b.ID, "Red", store.AnnotationApproved)

	finalizer := finalize.NewFinalizer(st, taxonomy.NewResolver(st), nil)
	decisions, err := finalizer.FinalizeProduct(ctx, product.ID, nil)
	if err != nil {
		t.Fatalf("FinalizeProduct: %v", err)
	}
	if decisions[0].Value != "Blue" {
		t.Fatalf("tie must keep the earliest annotation, got %+v", decisions)
	}
}

func TestFinalizeProductRejectsMissingAnnotations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	color := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	size := testsupport.NewAttribute(t, st, "size", "categorical", "S", "M", "L")
	testsupport.NewMapping(t, st, "apparel", "", color.ID, true)
	testsupport.NewMapping(t, st, "apparel", "", size.ID, true)
	annotator := testsupport.NewAnnotator(t, st, "casey")
	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	advanceToReviewed(t, st, product.ID)
	annotate(t, st, product.ID, color.ID, annotator.ID, "Red", store.AnnotationApproved)

	finalizer := finalize.NewFinalizer(st, taxonomy.NewResolver(st), nil)
	_, err := finalizer.FinalizeProduct(ctx, product.ID, nil)
	if !errors.Is(err, services.ErrIncompleteAnnotations) {
		t.Fatalf("expected incomplete annotations, got %v", err)
	}

	// Nothing was written and the product stayed reviewed.
	finals, _ := st.ActiveFinalsForProduct(ctx, product.ID)
	if len(finals) != 0 {
		t.Fatalf("finals = %+v", finals)
	}
	reloaded, _ := st.GetProduct(ctx, product.ID)
	if reloaded.Status != workflow.StatusReviewed {
		t.Fatalf("product status = %s", reloaded.Status)
	}
}

func TestFinalizeProductRequiresReviewedStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	finalizer := finalize.NewFinalizer(st, taxonomy.NewResolver(st), nil)
	_, err := finalizer.FinalizeProduct(context.Background(), product.ID, nil)
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestFinalizeAllReviewedContinuesPastFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	testsupport.NewMapping(t, st, "apparel", "", attribute.ID, true)
	annotator := testsupport.NewAnnotator(t, st, "casey")

	complete := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	advanceToReviewed(t, st, complete.ID)
	annotate(t, st, complete.ID, attribute.ID, annotator.ID, "Red", store.AnnotationApproved)

	incomplete := testsupport.NewProduct(t, st, "Scarf", "apparel", "")
	advanceToReviewed(t, st, incomplete.ID)

	finalizer := finalize.NewFinalizer(st, taxonomy.NewResolver(st), nil)
	result, err := finalizer.FinalizeAllReviewed(ctx, &annotator.ID)
	if err != nil {
		t.Fatalf("FinalizeAllReviewed: %v", err)
	}
	if result.Finalized != 1 {
		t.Fatalf("finalized = %d", result.Finalized)
	}
	failure, ok := result.Failures[incomplete.ID]
	if !ok || !errors.Is(failure, services.ErrIncompleteAnnotations) {
		t.Fatalf("failures = %+v", result.Failures)
	}
}
