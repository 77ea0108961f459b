package processing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"facet/internal/assignment"
	"facet/internal/config"
	"facet/internal/consensus"
	"facet/internal/logging"
	"facet/internal/services"
	"facet/internal/store"
	"facet/internal/suggest"
	"facet/internal/taxonomy"
	"facet/internal/workflow"
)

// Loop drives products through the AI stage: it claims pending products into
// AI batches, runs every active provider over them, aggregates consensus,
// and hands the products off as ai_done for human assignment.
type Loop struct {
	store      *store.Store
	cfg        *config.Config
	manager    *assignment.Manager
	engine     *suggest.Engine
	aggregator *consensus.Aggregator
	taxonomy   *taxonomy.Resolver
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoop constructs a Loop.
func NewLoop(
	st *store.Store,
	cfg *config.Config,
	manager *assignment.Manager,
	engine *suggest.Engine,
	aggregator *consensus.Aggregator,
	resolver *taxonomy.Resolver,
	logger *slog.Logger,
) *Loop {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Loop{
		store:      st,
		cfg:        cfg,
		manager:    manager,
		engine:     engine,
		aggregator: aggregator,
		taxonomy:   resolver,
		logger:     logger,
	}
}

// Start launches the background processing loop. It returns an error when
// the loop is already running.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return fmt.Errorf("processing loop already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(loopCtx)
	}()
	l.logger.Info("processing loop started")
	return nil
}

// Stop cancels the loop and waits for the current cycle to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	l.wg.Wait()
	l.logger.Info("processing loop stopped")
}

func (l *Loop) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		control, err := l.store.GetProcessingControl(ctx)
		if err != nil {
			l.logger.Error("read processing control", logging.Error(err))
			if !l.wait(ctx, l.cfg.Processing.ErrorRetryDuration()) {
				return
			}
			continue
		}
		if control.IsPaused {
			if !l.wait(ctx, l.cfg.Processing.PausePollDuration()) {
				return
			}
			continue
		}

		processed, err := l.RunCycle(ctx)
		var delay time.Duration
		switch {
		case err != nil:
			l.logger.Error("processing cycle failed", logging.Error(err))
			delay = l.cfg.Processing.ErrorRetryDuration()
		case processed == 0:
			delay = l.cfg.Processing.PollDuration()
		default:
			delay = l.cfg.Processing.BatchDelayDuration()
		}
		if !l.wait(ctx, delay) {
			return
		}
	}
}

// wait sleeps for the duration, returning false when the context is done.
func (l *Loop) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RunCycle claims one AI batch and processes it to completion, returning the
// number of products moved to ai_done. A cycle with nothing pending returns
// zero. An empty provider set still completes the batch so products are not
// stranded in ai_running; they simply arrive at review with no suggestions.
func (l *Loop) RunCycle(ctx context.Context) (int, error) {
	batch, err := l.manager.CreateAIBatch(ctx, l.cfg.Pipeline.DefaultBatchSize)
	if err != nil {
		return 0, err
	}
	if batch == nil {
		return 0, nil
	}

	providers, err := l.store.ActiveProviders(ctx)
	if err != nil {
		return 0, services.Wrap(nil, "processing", "run cycle", "load providers", err)
	}
	if len(providers) == 0 {
		l.logger.Warn("no active providers, batch will complete without suggestions",
			logging.Int64(logging.FieldBatchID, batch.ID),
		)
	}

	items, err := l.store.ItemsForBatch(ctx, batch.ID)
	if err != nil {
		return 0, services.Wrap(nil, "processing", "run cycle", "load items", err)
	}

	processed := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err := l.processItem(ctx, item, providers); err != nil {
			return processed, err
		}
		processed++
	}
	l.logger.Info("ai batch processed",
		logging.Int64(logging.FieldBatchID, batch.ID),
		logging.Int("products", processed),
	)
	return processed, nil
}

func (l *Loop) processItem(ctx context.Context, item *store.BatchItem, providers []*store.AIProvider) error {
	if _, err := l.store.StartBatchItem(ctx, item.ID, nil); err != nil {
		return services.Wrap(nil, "processing", "process item", "start item", err)
	}
	product, err := l.store.GetProduct(ctx, item.ProductID)
	if err != nil {
		return services.Wrap(nil, "processing", "process item", "load product", err)
	}
	if product == nil {
		return services.Wrap(services.ErrNotFound, "processing", "process item",
			fmt.Sprintf("product %d", item.ProductID), nil)
	}

	attributes, err := l.taxonomy.ApplicableAttributes(ctx, product, false)
	if err != nil {
		return err
	}
	if len(providers) > 0 {
		if _, err := l.engine.SuggestProduct(ctx, product, attributes, providers); err != nil {
			return err
		}
		for _, attribute := range attributes {
			if _, err := l.aggregator.AggregatePair(ctx, product.ID, attribute.ID); err != nil {
				return err
			}
		}
	}

	if _, err := l.store.CompleteBatchItem(ctx, item.ID, nil); err != nil {
		return services.Wrap(nil, "processing", "process item", "complete item", err)
	}
	if _, err := l.store.TransitionProduct(ctx, product.ID, workflow.StatusAIRunning, workflow.StatusAIDone); err != nil {
		return err
	}
	return nil
}
