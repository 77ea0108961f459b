package store_test

import (
	"context"
	"strings"
	"testing"

	"facet/internal/store"
	"facet/internal/testsupport"
	"facet/internal/workflow"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	control, err := st.GetProcessingControl(context.Background())
	if err != nil {
		t.Fatalf("GetProcessingControl: %v", err)
	}
	if control.IsPaused {
		t.Fatal("fresh database must not start paused")
	}
}

func TestProductLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	product := testsupport.NewProduct(t, st, "Trail Shoe", "footwear", "running")
	if product.Status != workflow.StatusPendingAI {
		t.Fatalf("new product status = %s", product.Status)
	}

	moved, err := st.TransitionProduct(ctx, product.ID, workflow.StatusPendingAI, workflow.StatusAIRunning)
	if err != nil {
		t.Fatalf("TransitionProduct: %v", err)
	}
	if !moved {
		t.Fatal("expected transition to apply")
	}

	// Guarded update: the product is no longer pending_ai, so a second
	// identical transition must be a no-op.
	moved, err = st.TransitionProduct(ctx, product.ID, workflow.StatusPendingAI, workflow.StatusAIRunning)
	if err != nil {
		t.Fatalf("TransitionProduct: %v", err)
	}
	if moved {
		t.Fatal("expected stale transition to be rejected")
	}

	if _, err := st.TransitionProduct(ctx, product.ID, workflow.StatusAIRunning, workflow.StatusFinalized); err == nil {
		t.Fatal("expected illegal transition to error")
	}

	reloaded, err := st.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if reloaded.Status != workflow.StatusAIRunning {
		t.Fatalf("status after failed transition = %s", reloaded.Status)
	}
}

func TestCreateBatchesWithClaimIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		testsupport.NewProduct(t, st, "Product", "apparel", "")
	}

	claim := func(name string) []int64 {
		batches, err := st.CreateBatchesWithClaim(ctx, workflow.StatusPendingAI, workflow.StatusAIRunning, 4, false,
			func(productIDs []int64) ([]store.BatchSpec, error) {
				return []store.BatchSpec{{
					Name:       name,
					BatchType:  store.BatchTypeAI,
					ProductIDs: productIDs,
				}}, nil
			})
		if err != nil {
			t.Fatalf("CreateBatchesWithClaim: %v", err)
		}
		if len(batches) != 1 {
			t.Fatalf("expected one batch, got %d", len(batches))
		}
		items, err := st.ItemsForBatch(ctx, batches[0].ID)
		if err != nil {
			t.Fatalf("ItemsForBatch: %v", err)
		}
		ids := make([]int64, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ProductID)
		}
		return ids
	}

	first := claim("AI Batch 1")
	second := claim("AI Batch 2")
	if len(first) != 4 || len(second) != 2 {
		t.Fatalf("claim sizes = %d, %d", len(first), len(second))
	}
	seen := make(map[int64]bool)
	for _, id := range append(first, second...) {
		if seen[id] {
			t.Fatalf("product %d claimed twice", id)
		}
		seen[id] = true
	}

	// All pending products are exhausted; the next claim is an empty no-op.
	batches, err := st.CreateBatchesWithClaim(ctx, workflow.StatusPendingAI, workflow.StatusAIRunning, 4, false,
		func(productIDs []int64) ([]store.BatchSpec, error) {
			t.Fatal("build must not run for an empty claim")
			return nil, nil
		})
	if err != nil {
		t.Fatalf("CreateBatchesWithClaim: %v", err)
	}
	if batches != nil {
		t.Fatalf("expected nil batches, got %d", len(batches))
	}
}

func TestBatchProgressRecompute(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		testsupport.NewProduct(t, st, "Product", "apparel", "")
	}
	annotator := testsupport.NewAnnotator(t, st, "casey")

	batches, err := st.CreateBatchesWithClaim(ctx, workflow.StatusPendingAI, workflow.StatusAIRunning, 2, false,
		func(productIDs []int64) ([]store.BatchSpec, error) {
			return []store.BatchSpec{{
				Name:       "Work",
				BatchType:  store.BatchTypeHuman,
				AssignedTo: &annotator.ID,
				ProductIDs: productIDs,
			}}, nil
		})
	if err != nil {
		t.Fatalf("CreateBatchesWithClaim: %v", err)
	}
	batch := batches[0]
	items, err := st.ItemsForBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("ItemsForBatch: %v", err)
	}

	if _, err := st.StartBatchItem(ctx, items[0].ID, &annotator.ID); err != nil {
		t.Fatalf("StartBatchItem: %v", err)
	}
	reloaded, err := st.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if reloaded.Status != store.BatchStatusInProgress {
		t.Fatalf("batch status after start = %s", reloaded.Status)
	}

	if _, err := st.CompleteBatchItem(ctx, items[0].ID, &annotator.ID); err != nil {
		t.Fatalf("CompleteBatchItem: %v", err)
	}
	reloaded, _ = st.GetBatch(ctx, batch.ID)
	if reloaded.Progress != 50 {
		t.Fatalf("progress after one of two = %v", reloaded.Progress)
	}
	if reloaded.Status == store.BatchStatusCompleted {
		t.Fatal("batch must not complete at 50%")
	}

	if _, err := st.CompleteBatchItem(ctx, items[1].ID, &annotator.ID); err != nil {
		t.Fatalf("CompleteBatchItem: %v", err)
	}
	reloaded, _ = st.GetBatch(ctx, batch.ID)
	if reloaded.Progress != 100 || reloaded.Status != store.BatchStatusCompleted {
		t.Fatalf("final batch state = %v %s", reloaded.Progress, reloaded.Status)
	}
}

func TestConsensusVersioning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")

	first, err := st.WriteConsensus(ctx, product.ID, attribute.ID, "Red", store.ConsensusMethodWeightedMajority, 0.9)
	if err != nil {
		t.Fatalf("WriteConsensus: %v", err)
	}
	if first.Version != 1 || !first.IsActive {
		t.Fatalf("first consensus version=%d active=%v", first.Version, first.IsActive)
	}

	second, err := st.WriteConsensus(ctx, product.ID, attribute.ID, "Blue", store.ConsensusMethodWeightedMajority, 0.8)
	if err != nil {
		t.Fatalf("WriteConsensus: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("second consensus version=%d", second.Version)
	}

	active, err := st.ActiveConsensus(ctx, product.ID, attribute.ID)
	if err != nil {
		t.Fatalf("ActiveConsensus: %v", err)
	}
	if active.ID != second.ID || active.ConsensusValue != "Blue" {
		t.Fatalf("active consensus = %+v", active)
	}

	history, err := st.ConsensusHistory(ctx, product.ID, attribute.ID)
	if err != nil {
		t.Fatalf("ConsensusHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d", len(history))
	}
	activeCount := 0
	for _, record := range history {
		if record.IsActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Fatalf("active records = %d", activeCount)
	}
}

func TestOverlapResolveWritesFinal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	admin := testsupport.NewAnnotator(t, st, "admin")

	overlap, err := st.UpsertOverlap(ctx, product.ID, attribute.ID, []int64{10, 11})
	if err != nil {
		t.Fatalf("UpsertOverlap: %v", err)
	}
	if overlap.IsResolved {
		t.Fatal("fresh overlap must be unresolved")
	}

	// Re-detection refreshes the annotation set of the unresolved record.
	overlap, err = st.UpsertOverlap(ctx, product.ID, attribute.ID, []int64{10, 11, 12})
	if err != nil {
		t.Fatalf("UpsertOverlap: %v", err)
	}
	if len(overlap.AnnotationIDs()) != 3 {
		t.Fatalf("annotation ids = %v", overlap.AnnotationIDs())
	}

	resolved, err := st.ResolveOverlap(ctx, overlap.ID, "Red", &admin.ID, 0.95)
	if err != nil {
		t.Fatalf("ResolveOverlap: %v", err)
	}
	if !resolved {
		t.Fatal("expected resolution to apply")
	}

	final, err := st.ActiveFinal(ctx, product.ID, attribute.ID)
	if err != nil {
		t.Fatalf("ActiveFinal: %v", err)
	}
	if final == nil || final.FinalValue != "Red" || final.Source != store.FinalSourceConsensus {
		t.Fatalf("final after resolution = %+v", final)
	}

	// A second resolution attempt is rejected without touching the final.
	resolved, err = st.ResolveOverlap(ctx, overlap.ID, "Blue", &admin.ID, 0.95)
	if err != nil {
		t.Fatalf("ResolveOverlap: %v", err)
	}
	if resolved {
		t.Fatal("expected already-resolved overlap to be a no-op")
	}
}

func TestResolveFlagAppendsAllowedValue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	annotator := testsupport.NewAnnotator(t, st, "casey")
	admin := testsupport.NewAnnotator(t, st, "admin")

	flag, err := st.CreateFlag(ctx, &store.MissingValueFlag{
		ProductID:      product.ID,
		AttributeID:    attribute.ID,
		AnnotatorID:    annotator.ID,
		RequestedValue: "Teal",
		Reason:         "color not in the list",
	})
	if err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}
	if flag.Status != store.FlagPending {
		t.Fatalf("new flag status = %s", flag.Status)
	}

	resolved, err := st.ResolveFlag(ctx, flag.ID, true, &admin.ID, "looks valid")
	if err != nil {
		t.Fatalf("ResolveFlag: %v", err)
	}
	if !resolved {
		t.Fatal("expected flag resolution to apply")
	}

	reloaded, err := st.GetAttribute(ctx, attribute.ID)
	if err != nil {
		t.Fatalf("GetAttribute: %v", err)
	}
	if !strings.Contains(reloaded.AllowedValuesJSON, "Teal") {
		t.Fatalf("allowed values after approval = %s", reloaded.AllowedValuesJSON)
	}
}

func TestApplyFinalizationRequiresReviewedStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red")

	err := st.ApplyFinalization(ctx, product.ID, []store.FinalDecision{{
		AttributeID: attribute.ID,
		Value:       "Red",
		Source:      store.FinalSourceHuman,
		Confidence:  1.0,
	}})
	if err == nil {
		t.Fatal("expected finalization of a pending product to fail")
	}

	final, err := st.ActiveFinal(ctx, product.ID, attribute.ID)
	if err != nil {
		t.Fatalf("ActiveFinal: %v", err)
	}
	if final != nil {
		t.Fatal("no final value may exist after a failed finalization")
	}
}

func TestAnnotatorWorkloadOrdering(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	busy := testsupport.NewAnnotator(t, st, "busy")
	idle := testsupport.NewAnnotator(t, st, "idle")

	testsupport.NewProduct(t, st, "Product", "apparel", "")
	_, err := st.CreateBatchesWithClaim(ctx, workflow.StatusPendingAI, workflow.StatusAIRunning, 1, false,
		func(productIDs []int64) ([]store.BatchSpec, error) {
			return []store.BatchSpec{{
				Name:       "Busy work",
				BatchType:  store.BatchTypeHuman,
				AssignedTo: &busy.ID,
				ProductIDs: productIDs,
			}}, nil
		})
	if err != nil {
		t.Fatalf("CreateBatchesWithClaim: %v", err)
	}

	workloads, err := st.AnnotatorWorkloads(ctx)
	if err != nil {
		t.Fatalf("AnnotatorWorkloads: %v", err)
	}
	if len(workloads) != 2 {
		t.Fatalf("workload count = %d", len(workloads))
	}
	if workloads[0].Annotator.ID != idle.ID || workloads[0].OpenCount != 0 {
		t.Fatalf("first workload = %+v", workloads[0])
	}
	if workloads[1].Annotator.ID != busy.ID || workloads[1].OpenCount != 1 {
		t.Fatalf("second workload = %+v", workloads[1])
	}
}

func TestAnnotatorPerformanceSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	annotator := testsupport.NewAnnotator(t, st, "casey")
	other := testsupport.NewAnnotator(t, st, "quiet")
	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	color := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	size := testsupport.NewAttribute(t, st, "size", "categorical", "S", "M")

	batches, err := st.CreateBatchesWithClaim(ctx, workflow.StatusPendingAI, workflow.StatusAIRunning, 1, false,
		func(productIDs []int64) ([]store.BatchSpec, error) {
			return []store.BatchSpec{{
				Name:       "Work",
				BatchType:  store.BatchTypeHuman,
				AssignedTo: &annotator.ID,
				ProductIDs: productIDs,
			}}, nil
		})
	if err != nil {
		t.Fatalf("CreateBatchesWithClaim: %v", err)
	}
	items, err := st.ItemsForBatch(ctx, batches[0].ID)
	if err != nil {
		t.Fatalf("ItemsForBatch: %v", err)
	}
	if _, err := st.StartBatchItem(ctx, items[0].ID, &annotator.ID); err != nil {
		t.Fatalf("StartBatchItem: %v", err)
	}
	if _, err := st.CompleteBatchItem(ctx, items[0].ID, &annotator.ID); err != nil {
		t.Fatalf("CompleteBatchItem: %v", err)
	}

	if _, err := st.UpsertAnnotation(ctx, &store.HumanAnnotation{
		ProductID:      product.ID,
		AttributeID:    color.ID,
		AnnotatorID:    annotator.ID,
		BatchItemID:    &items[0].ID,
		AnnotatedValue: "Red",
		Status:         store.AnnotationSuggested,
	}); err != nil {
		t.Fatalf("UpsertAnnotation: %v", err)
	}
	if _, err := st.UpsertAnnotation(ctx, &store.HumanAnnotation{
		ProductID:      product.ID,
		AttributeID:    size.ID,
		AnnotatorID:    annotator.ID,
		BatchItemID:    &items[0].ID,
		AnnotatedValue: "M",
		Status:         store.AnnotationSuggested,
		IsCorrection:   true,
		PreviousValue:  "S",
	}); err != nil {
		t.Fatalf("UpsertAnnotation: %v", err)
	}

	performances, err := st.AnnotatorPerformanceSnapshot(ctx)
	if err != nil {
		t.Fatalf("AnnotatorPerformanceSnapshot: %v", err)
	}
	if len(performances) != 2 {
		t.Fatalf("performance count = %d", len(performances))
	}
	byID := make(map[int64]store.AnnotatorPerformance, len(performances))
	for _, perf := range performances {
		byID[perf.Annotator.ID] = perf
	}

	active := byID[annotator.ID]
	if active.CompletedItems != 1 {
		t.Fatalf("completed items = %d", active.CompletedItems)
	}
	if active.Annotations != 2 || active.Corrections != 1 {
		t.Fatalf("annotation counts = %d/%d", active.Annotations, active.Corrections)
	}
	if active.AgreementRate != 0.5 || active.ChangeRate != 0.5 {
		t.Fatalf("rates = %v/%v", active.AgreementRate, active.ChangeRate)
	}

	// An annotator with no recorded work still appears with zeroed metrics.
	if quiet := byID[other.ID]; quiet.CompletedItems != 0 || quiet.Annotations != 0 || quiet.AgreementRate != 0 {
		t.Fatalf("quiet annotator = %+v", quiet)
	}
}
