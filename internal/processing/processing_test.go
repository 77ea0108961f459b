package processing_test

import (
	"context"
	"testing"

	"facet/internal/assignment"
	"facet/internal/config"
	"facet/internal/consensus"
	"facet/internal/overlap"
	"facet/internal/processing"
	"facet/internal/store"
	"facet/internal/suggest"
	"facet/internal/taxonomy"
	"facet/internal/testsupport"
	"facet/internal/workflow"
)

func newLoop(t *testing.T, cfg *config.Config, st *store.Store) *processing.Loop {
	t.Helper()
	manager := assignment.NewManager(st, cfg, overlap.NewDetector(st, nil), nil)
	engine := suggest.NewEngine(st, suggest.NewRegistry(cfg.Pipeline.SuggestionSeed), nil)
	aggregator := consensus.NewAggregator(st, nil)
	return processing.NewLoop(st, cfg, manager, engine, aggregator, taxonomy.NewResolver(st), nil)
}

func TestControllerPauseResume(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	admin := testsupport.NewAnnotator(t, st, "admin")

	controller := processing.NewController(st, nil)
	control, err := controller.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if control.IsPaused {
		t.Fatal("pipeline must start unpaused")
	}

	control, err = controller.Pause(ctx, &admin.ID)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !control.IsPaused || control.PausedBy == nil || *control.PausedBy != admin.ID || control.PausedAt == nil {
		t.Fatalf("control after pause = %+v", control)
	}

	// Pausing twice is a no-op.
	again, err := controller.Pause(ctx, nil)
	if err != nil {
		t.Fatalf("Pause again: %v", err)
	}
	if again.PausedBy == nil || *again.PausedBy != admin.ID {
		t.Fatalf("second pause must not overwrite state: %+v", again)
	}

	control, err = controller.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if control.IsPaused || control.PausedBy != nil || control.PausedAt != nil {
		t.Fatalf("control after resume = %+v", control)
	}
}

func TestRunCycleProcessesPendingProducts(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchSizes(10))
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	testsupport.NewMapping(t, st, "apparel", "", attribute.ID, true)
	testsupport.NewProvider(t, st, "alpha")
	testsupport.NewProvider(t, st, "beta")
	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")

	loop := newLoop(t, cfg, st)
	processed, err := loop.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d", processed)
	}

	reloaded, _ := st.GetProduct(ctx, product.ID)
	if reloaded.Status != workflow.StatusAIDone {
		t.Fatalf("product status = %s", reloaded.Status)
	}

	suggestions, err := st.SuggestionsForPair(ctx, product.ID, attribute.ID)
	if err != nil {
		t.Fatalf("SuggestionsForPair: %v", err)
	}
	if len(suggestions) != 2 {
		t.Fatalf("suggestions = %d, want one per provider", len(suggestions))
	}
	aggregated, err := st.ActiveConsensus(ctx, product.ID, attribute.ID)
	if err != nil {
		t.Fatalf("ActiveConsensus: %v", err)
	}
	if aggregated == nil || aggregated.ConsensusValue == "" {
		t.Fatalf("consensus = %+v", aggregated)
	}

	batches, _ := st.ListBatches(ctx, store.BatchTypeAI)
	if len(batches) != 1 || batches[0].Status != store.BatchStatusCompleted {
		t.Fatalf("ai batches = %+v", batches)
	}
}

func TestRunCycleWithNothingPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	loop := newLoop(t, cfg, st)
	processed, err := loop.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if processed != 0 {
		t.Fatalf("processed = %d, want 0", processed)
	}
	batches, _ := st.ListBatches(context.Background(), store.BatchTypeAI)
	if len(batches) != 0 {
		t.Fatalf("no batch must be created on an empty claim, got %+v", batches)
	}
}

func TestRunCycleWithoutProvidersCompletesBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchSizes(10))
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")

	loop := newLoop(t, cfg, st)
	processed, err := loop.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d", processed)
	}

	reloaded, _ := st.GetProduct(ctx, product.ID)
	if reloaded.Status != workflow.StatusAIDone {
		t.Fatalf("product status = %s", reloaded.Status)
	}
	suggestions, _ := st.SuggestionsForProduct(ctx, product.ID)
	if len(suggestions) != 0 {
		t.Fatalf("suggestions = %+v, want none", suggestions)
	}
}
