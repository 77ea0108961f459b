// Package assignment creates and manages annotation batches: AI claim
// batches, human work batches, manual and overlap-based auto-assignment,
// and the admin review pass over completed batches.
package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"facet/internal/config"
	"facet/internal/logging"
	"facet/internal/overlap"
	"facet/internal/services"
	"facet/internal/store"
	"facet/internal/workflow"
)

// Manager coordinates batch creation and review.
type Manager struct {
	store    *store.Store
	cfg      *config.Config
	detector *overlap.Detector
	logger   *slog.Logger
}

// NewManager constructs a Manager.
func NewManager(st *store.Store, cfg *config.Config, detector *overlap.Detector, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{store: st, cfg: cfg, detector: detector, logger: logger}
}

func (m *Manager) validateSize(size int) error {
	if !m.cfg.BatchSizeAllowed(size) {
		return services.Wrap(services.ErrValidation, "assignment", "validate size",
			fmt.Sprintf("batch size %d not in allowed set %v", size, m.cfg.Pipeline.AllowedBatchSizes), nil)
	}
	return nil
}

// CreateAIBatch claims up to size pending products into a new AI batch and
// moves them to ai_running. Returns nil when no products are pending.
func (m *Manager) CreateAIBatch(ctx context.Context, size int) (*store.AnnotationBatch, error) {
	if err := m.validateSize(size); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("AI Processing %s", time.Now().UTC().Format("2006-01-02 15:04:05"))
	batches, err := m.store.CreateBatchesWithClaim(ctx, workflow.StatusPendingAI, workflow.StatusAIRunning, size, false,
		func(productIDs []int64) ([]store.BatchSpec, error) {
			return []store.BatchSpec{{
				Name:       name,
				BatchType:  store.BatchTypeAI,
				Status:     store.BatchStatusInProgress,
				ProductIDs: productIDs,
			}}, nil
		})
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "create ai batch", "claim products", err)
	}
	if len(batches) == 0 {
		return nil, nil
	}
	m.logger.Info("ai batch created",
		logging.Int64(logging.FieldBatchID, batches[0].ID),
		logging.Int("size", batches[0].BatchSize),
	)
	return batches[0], nil
}

// CreateHumanBatch claims up to size ai_done products into a new human
// batch and moves them to assigned. Returns nil when no products are ready.
func (m *Manager) CreateHumanBatch(ctx context.Context, size int, assignedTo *int64) (*store.AnnotationBatch, error) {
	if err := m.validateSize(size); err != nil {
		return nil, err
	}
	if assignedTo != nil {
		annotator, err := m.store.GetAnnotator(ctx, *assignedTo)
		if err != nil {
			return nil, services.Wrap(nil, "assignment", "create human batch", "load annotator", err)
		}
		if annotator == nil {
			return nil, services.Wrap(services.ErrNotFound, "assignment", "create human batch",
				fmt.Sprintf("annotator %d", *assignedTo), nil)
		}
	}
	name := fmt.Sprintf("Annotation Batch %s", time.Now().UTC().Format("2006-01-02 15:04:05"))
	batches, err := m.store.CreateBatchesWithClaim(ctx, workflow.StatusAIDone, workflow.StatusAssigned, size, false,
		func(productIDs []int64) ([]store.BatchSpec, error) {
			return []store.BatchSpec{{
				Name:       name,
				BatchType:  store.BatchTypeHuman,
				AssignedTo: assignedTo,
				ProductIDs: productIDs,
			}}, nil
		})
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "create human batch", "claim products", err)
	}
	if len(batches) == 0 {
		return nil, nil
	}
	m.logger.Info("human batch created",
		logging.Int64(logging.FieldBatchID, batches[0].ID),
		logging.Int("size", batches[0].BatchSize),
	)
	return batches[0], nil
}

// AssignToAnnotators copies a batch's products into one child batch per
// annotator and completes the source batch.
func (m *Manager) AssignToAnnotators(ctx context.Context, batchID int64, annotatorIDs []int64) ([]*store.AnnotationBatch, error) {
	if len(annotatorIDs) == 0 {
		return nil, services.Wrap(services.ErrValidation, "assignment", "assign batch", "no annotators provided", nil)
	}
	batch, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "assign batch", "load batch", err)
	}
	if batch == nil {
		return nil, services.Wrap(services.ErrNotFound, "assignment", "assign batch", fmt.Sprintf("batch %d", batchID), nil)
	}
	if batch.BatchType != store.BatchTypeHuman {
		return nil, services.Wrap(services.ErrValidation, "assignment", "assign batch", "only human batches can be assigned", nil)
	}
	for _, annotatorID := range annotatorIDs {
		annotator, err := m.store.GetAnnotator(ctx, annotatorID)
		if err != nil {
			return nil, services.Wrap(nil, "assignment", "assign batch", "load annotator", err)
		}
		if annotator == nil {
			return nil, services.Wrap(services.ErrNotFound, "assignment", "assign batch", fmt.Sprintf("annotator %d", annotatorID), nil)
		}
	}
	childIDs, err := m.store.CreateChildBatches(ctx, batchID, annotatorIDs, batch.Name)
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "assign batch", "create child batches", err)
	}
	children := make([]*store.AnnotationBatch, 0, len(childIDs))
	for _, childID := range childIDs {
		child, err := m.store.GetBatch(ctx, childID)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	m.logger.Info("batch assigned",
		logging.Int64(logging.FieldBatchID, batchID),
		logging.Int("children", len(children)),
	)
	return children, nil
}

// AutoAssignWithOverlap claims up to size ai_done products and distributes
// each to overlapCount annotators, chosen round-robin over active
// annotators sorted by ascending workload. The first returned batch is the
// completed parent tracking the claim; the rest are the per-annotator work
// batches linked to it.
func (m *Manager) AutoAssignWithOverlap(ctx context.Context, size, overlapCount int) ([]*store.AnnotationBatch, error) {
	if err := m.validateSize(size); err != nil {
		return nil, err
	}
	if !m.cfg.OverlapAllowed(overlapCount) {
		return nil, services.Wrap(services.ErrValidation, "assignment", "auto assign",
			fmt.Sprintf("overlap count %d outside 1..%d", overlapCount, m.cfg.Pipeline.MaxOverlap), nil)
	}
	workloads, err := m.store.AnnotatorWorkloads(ctx)
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "auto assign", "load workloads", err)
	}
	if len(workloads) == 0 {
		return nil, services.Wrap(services.ErrValidation, "assignment", "auto assign", "no active annotators", nil)
	}
	if overlapCount > len(workloads) {
		overlapCount = len(workloads)
	}

	stamp := time.Now().UTC().Format("2006-01-02 15:04:05")
	batches, err := m.store.CreateBatchesWithClaim(ctx, workflow.StatusAIDone, workflow.StatusAssigned, size, true,
		func(productIDs []int64) ([]store.BatchSpec, error) {
			assignments := distribute(productIDs, workloads, overlapCount)
			specs := make([]store.BatchSpec, 0, len(assignments)+1)
			specs = append(specs, store.BatchSpec{
				Name:       fmt.Sprintf("Auto Assignment %s", stamp),
				BatchType:  store.BatchTypeHuman,
				Status:     store.BatchStatusCompleted,
				ItemStatus: store.ItemStatusDone,
				ProductIDs: productIDs,
			})
			for _, workload := range workloads {
				products := assignments[workload.Annotator.ID]
				if len(products) == 0 {
					continue
				}
				annotatorID := workload.Annotator.ID
				specs = append(specs, store.BatchSpec{
					Name:       fmt.Sprintf("Auto Assignment %s (%s)", stamp, workload.Annotator.Name),
					BatchType:  store.BatchTypeHuman,
					AssignedTo: &annotatorID,
					ProductIDs: products,
				})
			}
			return specs, nil
		})
	if err != nil {
		return nil, services.Wrap(nil, "assignment", "auto assign", "claim and distribute", err)
	}
	if len(batches) == 0 {
		return nil, nil
	}
	m.logger.Info("auto assignment created",
		logging.Int64(logging.FieldBatchID, batches[0].ID),
		logging.Int("products", batches[0].BatchSize),
		logging.Int("work_batches", len(batches)-1),
		logging.Int("overlap", overlapCount),
	)
	return batches, nil
}

// distribute maps each product to overlapCount annotators round-robin over
// the workload-ordered annotator list, padding with the lowest-workload
// annotators when the rotation would hand a product to the same annotator
// twice.
func distribute(productIDs []int64, workloads []store.AnnotatorWorkload, overlapCount int) map[int64][]int64 {
	assignments := make(map[int64][]int64, len(workloads))
	for productIdx, productID := range productIDs {
		chosen := make(map[int64]struct{}, overlapCount)
		for i := 0; i < overlapCount; i++ {
			annotatorID := workloads[(productIdx*overlapCount+i)%len(workloads)].Annotator.ID
			if _, dup := chosen[annotatorID]; dup {
				for _, workload := range workloads {
					if _, taken := chosen[workload.Annotator.ID]; !taken {
						annotatorID = workload.Annotator.ID
						break
					}
				}
			}
			chosen[annotatorID] = struct{}{}
			assignments[annotatorID] = append(assignments[annotatorID], productID)
		}
	}
	return assignments
}
