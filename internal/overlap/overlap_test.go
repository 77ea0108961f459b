package overlap_test

import (
	"context"
	"errors"
	"testing"

	"facet/internal/overlap"
	"facet/internal/services"
	"facet/internal/store"
	"facet/internal/testsupport"
	"facet/internal/workflow"
)

func submitApproved(t *testing.T, st *store.Store, productID, attributeID, annotatorID int64, value string) *store.HumanAnnotation {
	t.Helper()
	annotation, err := st.UpsertAnnotation(context.Background(), &store.HumanAnnotation{
		ProductID:      productID,
		AttributeID:    attributeID,
		AnnotatorID:    annotatorID,
		AnnotatedValue: value,
		Status:         store.AnnotationApproved,
	})
	if err != nil {
		t.Fatalf("UpsertAnnotation: %v", err)
	}
	return annotation
}

func TestDetectorCreatesComparisonOnConflict(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	red := testsupport.NewAnnotator(t, st, "red-annotator")
	blue := testsupport.NewAnnotator(t, st, "blue-annotator")

	first := submitApproved(t, st, product.ID, attribute.ID, red.ID, "Red")

	detector := overlap.NewDetector(st, nil)
	comparison, err := detector.Recompute(ctx, product.ID, attribute.ID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if comparison != nil {
		t.Fatal("one approved value must not create a comparison")
	}

	second := submitApproved(t, st, product.ID, attribute.ID, blue.ID, "Blue")
	comparison, err = detector.Recompute(ctx, product.ID, attribute.ID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if comparison == nil || comparison.IsResolved {
		t.Fatalf("expected an unresolved comparison, got %+v", comparison)
	}
	ids := comparison.AnnotationIDs()
	if len(ids) != 2 || ids[0] != first.ID || ids[1] != second.ID {
		t.Fatalf("comparison annotation ids = %v", ids)
	}
}

func TestDetectorSkipsConvergedPair(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	a := testsupport.NewAnnotator(t, st, "a")
	b := testsupport.NewAnnotator(t, st, "b")

	submitApproved(t, st, product.ID, attribute.ID, a.ID, "Red")
	submitApproved(t, st, product.ID, attribute.ID, b.ID, "Red")

	detector := overlap.NewDetector(st, nil)
	comparison, err := detector.Recompute(ctx, product.ID, attribute.ID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if comparison != nil {
		t.Fatal("agreement must not create a comparison")
	}
}

func TestResolveWritesConsensusFinal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	a := testsupport.NewAnnotator(t, st, "a")
	b := testsupport.NewAnnotator(t, st, "b")
	admin := testsupport.NewAnnotator(t, st, "admin")

	submitApproved(t, st, product.ID, attribute.ID, a.ID, "Red")
	submitApproved(t, st, product.ID, attribute.ID, b.ID, "Blue")

	detector := overlap.NewDetector(st, nil)
	comparison, err := detector.Recompute(ctx, product.ID, attribute.ID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	resolver := overlap.NewResolver(st, nil)
	resolved, err := resolver.Resolve(ctx, comparison.ID, "Red", &admin.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !resolved.IsResolved || resolved.ResolvedValue != "Red" || resolved.ResolvedBy == nil || *resolved.ResolvedBy != admin.ID {
		t.Fatalf("resolved comparison = %+v", resolved)
	}

	final, err := st.ActiveFinal(ctx, product.ID, attribute.ID)
	if err != nil {
		t.Fatalf("ActiveFinal: %v", err)
	}
	if final.FinalValue != "Red" || final.Source != store.FinalSourceConsensus || final.Confidence != overlap.OverlapResolutionConfidence {
		t.Fatalf("final = %+v", final)
	}

	_, err = resolver.Resolve(ctx, comparison.ID, "Blue", &admin.ID)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on double resolution, got %v", err)
	}
}

func TestAllAnnotatorsCompleteUsesSiblingScope(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	a := testsupport.NewAnnotator(t, st, "a")
	b := testsupport.NewAnnotator(t, st, "b")

	batches, err := st.CreateBatchesWithClaim(ctx, workflow.StatusPendingAI, workflow.StatusAIRunning, 1, true,
		func(productIDs []int64) ([]store.BatchSpec, error) {
			return []store.BatchSpec{
				{Name: "Parent", BatchType: store.BatchTypeHuman, Status: store.BatchStatusCompleted, ItemStatus: store.ItemStatusDone, ProductIDs: productIDs},
				{Name: "Child A", BatchType: store.BatchTypeHuman, AssignedTo: &a.ID, ProductIDs: productIDs},
				{Name: "Child B", BatchType: store.BatchTypeHuman, AssignedTo: &b.ID, ProductIDs: productIDs},
			}, nil
		})
	if err != nil {
		t.Fatalf("CreateBatchesWithClaim: %v", err)
	}
	childA, childB := batches[1], batches[2]
	itemsA, _ := st.ItemsForBatch(ctx, childA.ID)
	itemsB, _ := st.ItemsForBatch(ctx, childB.ID)
	productID := itemsA[0].ProductID

	detector := overlap.NewDetector(st, nil)

	if _, err := st.CompleteBatchItem(ctx, itemsA[0].ID, &a.ID); err != nil {
		t.Fatalf("CompleteBatchItem: %v", err)
	}
	done, err := detector.AllAnnotatorsComplete(ctx, childA.ID, productID)
	if err != nil {
		t.Fatalf("AllAnnotatorsComplete: %v", err)
	}
	if done {
		t.Fatal("product must not be complete while a sibling item is open")
	}

	if _, err := st.CompleteBatchItem(ctx, itemsB[0].ID, &b.ID); err != nil {
		t.Fatalf("CompleteBatchItem: %v", err)
	}
	done, err = detector.AllAnnotatorsComplete(ctx, childA.ID, productID)
	if err != nil {
		t.Fatalf("AllAnnotatorsComplete: %v", err)
	}
	if !done {
		t.Fatal("product must be complete once every sibling item is done")
	}
}
