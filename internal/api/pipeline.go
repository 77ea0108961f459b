package api

import (
	"context"
	"fmt"

	"facet/internal/assignment"
	"facet/internal/finalize"
	"facet/internal/services"
	"facet/internal/store"
	"facet/internal/taxonomy"
)

// CreateAIBatch claims pending products into an AI batch. A zero size uses
// the configured default. Returns nil when nothing is pending.
func (s *Service) CreateAIBatch(ctx context.Context, size int) (*Batch, error) {
	if size == 0 {
		size = s.cfg.Pipeline.DefaultBatchSize
	}
	batch, err := s.manager.CreateAIBatch(ctx, size)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}
	dto := FromBatch(batch)
	return &dto, nil
}

// CreateHumanBatch claims ai_done products into a human batch, optionally
// assigned to one annotator. Returns nil when nothing is ready.
func (s *Service) CreateHumanBatch(ctx context.Context, size int, assignedTo *int64) (*Batch, error) {
	if size == 0 {
		size = s.cfg.Pipeline.DefaultBatchSize
	}
	batch, err := s.manager.CreateHumanBatch(ctx, size, assignedTo)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}
	dto := FromBatch(batch)
	return &dto, nil
}

// AutoAssign claims ai_done products and distributes them with overlap.
// Zero size and overlap use the configured defaults.
func (s *Service) AutoAssign(ctx context.Context, size, overlapCount int) ([]Batch, error) {
	if size == 0 {
		size = s.cfg.Pipeline.DefaultBatchSize
	}
	if overlapCount == 0 {
		overlapCount = s.cfg.Pipeline.DefaultOverlap
	}
	batches, err := s.manager.AutoAssignWithOverlap(ctx, size, overlapCount)
	if err != nil {
		return nil, err
	}
	return FromBatches(batches), nil
}

// AssignBatch copies a batch's products into one child batch per annotator.
func (s *Service) AssignBatch(ctx context.Context, batchID int64, annotatorIDs []int64) ([]Batch, error) {
	children, err := s.manager.AssignToAnnotators(ctx, batchID, annotatorIDs)
	if err != nil {
		return nil, err
	}
	return FromBatches(children), nil
}

// Batches lists batches, optionally filtered by type.
func (s *Service) Batches(ctx context.Context, batchType string) ([]Batch, error) {
	var parsed store.BatchType
	if batchType != "" {
		var ok bool
		parsed, ok = store.ParseBatchType(batchType)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "api", "list batches",
				fmt.Sprintf("unknown batch type %q", batchType), nil)
		}
	}
	batches, err := s.store.ListBatches(ctx, parsed)
	if err != nil {
		return nil, services.Wrap(nil, "api", "list batches", "query batches", err)
	}
	return FromBatches(batches), nil
}

// Batch returns one batch with its items.
func (s *Service) Batch(ctx context.Context, id int64) (*BatchDetail, error) {
	batch, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, services.Wrap(nil, "api", "get batch", "load batch", err)
	}
	if batch == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "get batch", fmt.Sprintf("batch %d", id), nil)
	}
	items, err := s.store.ItemsForBatch(ctx, id)
	if err != nil {
		return nil, services.Wrap(nil, "api", "get batch", "load items", err)
	}
	detail := &BatchDetail{Batch: FromBatch(batch)}
	for _, item := range items {
		detail.Items = append(detail.Items, FromBatchItem(item))
	}
	return detail, nil
}

// StartItem marks a batch item in progress.
func (s *Service) StartItem(ctx context.Context, itemID int64, annotatorID *int64) (BatchItem, error) {
	item, err := s.manager.StartItem(ctx, itemID, annotatorID)
	if err != nil {
		return BatchItem{}, err
	}
	return FromBatchItem(item), nil
}

// CompleteItem marks a batch item done, driving batch completion side
// effects when it is the last open item.
func (s *Service) CompleteItem(ctx context.Context, itemID int64, annotatorID *int64) (BatchItem, error) {
	item, err := s.manager.CompleteItem(ctx, itemID, annotatorID)
	if err != nil {
		return BatchItem{}, err
	}
	return FromBatchItem(item), nil
}

// AnnotationInput carries one annotation submission.
type AnnotationInput struct {
	ProductID   int64  `json:"product_id"`
	AttributeID int64  `json:"attribute_id"`
	AnnotatorID int64  `json:"annotator_id"`
	BatchItemID *int64 `json:"batch_item_id"`
	Value       string `json:"value"`
	Status      string `json:"status"`
	Note        string `json:"note"`
}

// SubmitAnnotation records an annotator's value.
func (s *Service) SubmitAnnotation(ctx context.Context, input AnnotationInput) (Annotation, error) {
	status := store.AnnotationSuggested
	if input.Status != "" {
		parsed, ok := store.ParseAnnotationStatus(input.Status)
		if !ok {
			return Annotation{}, services.Wrap(services.ErrValidation, "api", "submit annotation",
				fmt.Sprintf("unknown annotation status %q", input.Status), nil)
		}
		status = parsed
	}
	annotation, err := s.manager.SubmitAnnotation(ctx, assignment.AnnotationSubmission{
		ProductID:   input.ProductID,
		AttributeID: input.AttributeID,
		AnnotatorID: input.AnnotatorID,
		BatchItemID: input.BatchItemID,
		Value:       input.Value,
		Status:      status,
		Note:        input.Note,
	})
	if err != nil {
		return Annotation{}, err
	}
	return FromAnnotation(annotation), nil
}

// ApproveBatch accepts a completed batch's work.
func (s *Service) ApproveBatch(ctx context.Context, batchID int64) (int, error) {
	return s.manager.ApproveBatch(ctx, batchID)
}

// RejectBatch sends a completed batch back for rework.
func (s *Service) RejectBatch(ctx context.Context, batchID int64) (int, error) {
	return s.manager.RejectBatch(ctx, batchID)
}

// UnresolvedOverlaps lists overlap comparisons awaiting resolution.
func (s *Service) UnresolvedOverlaps(ctx context.Context) ([]Overlap, error) {
	overlaps, err := s.store.UnresolvedOverlaps(ctx)
	if err != nil {
		return nil, services.Wrap(nil, "api", "list overlaps", "query overlaps", err)
	}
	out := make([]Overlap, 0, len(overlaps))
	for _, record := range overlaps {
		out = append(out, FromOverlap(record))
	}
	return out, nil
}

// ResolveOverlap settles a comparison and writes the consensus final.
func (s *Service) ResolveOverlap(ctx context.Context, overlapID int64, value string, resolvedBy *int64) (Overlap, error) {
	resolved, err := s.resolver.Resolve(ctx, overlapID, value, resolvedBy)
	if err != nil {
		return Overlap{}, err
	}
	return FromOverlap(resolved), nil
}

// FlagInput carries one missing-value flag request.
type FlagInput struct {
	ProductID      int64  `json:"product_id"`
	AttributeID    int64  `json:"attribute_id"`
	AnnotatorID    int64  `json:"annotator_id"`
	BatchItemID    *int64 `json:"batch_item_id"`
	RequestedValue string `json:"requested_value"`
	Reason         string `json:"reason"`
}

// RequestMissingValue files a vocabulary extension request.
func (s *Service) RequestMissingValue(ctx context.Context, input FlagInput) (Flag, error) {
	flag, err := s.taxonomy.RequestValue(ctx, taxonomy.FlagRequest{
		ProductID:      input.ProductID,
		AttributeID:    input.AttributeID,
		AnnotatorID:    input.AnnotatorID,
		BatchItemID:    input.BatchItemID,
		RequestedValue: input.RequestedValue,
		Reason:         input.Reason,
	})
	if err != nil {
		return Flag{}, err
	}
	return FromFlag(flag), nil
}

// PendingFlags lists flags awaiting review.
func (s *Service) PendingFlags(ctx context.Context) ([]Flag, error) {
	flags, err := s.taxonomy.PendingFlags(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Flag, 0, len(flags))
	for _, flag := range flags {
		out = append(out, FromFlag(flag))
	}
	return out, nil
}

// ReviewFlag approves or rejects a pending flag.
func (s *Service) ReviewFlag(ctx context.Context, flagID int64, approve bool, reviewedBy *int64, note string) (Flag, error) {
	flag, err := s.taxonomy.ReviewFlag(ctx, flagID, approve, reviewedBy, note)
	if err != nil {
		return Flag{}, err
	}
	return FromFlag(flag), nil
}

// FinalizeProduct resolves one reviewed product into finals.
func (s *Service) FinalizeProduct(ctx context.Context, productID int64, decidedBy *int64) ([]Final, error) {
	if _, err := s.finalizer.FinalizeProduct(ctx, productID, decidedBy); err != nil {
		return nil, err
	}
	finals, err := s.store.ActiveFinalsForProduct(ctx, productID)
	if err != nil {
		return nil, services.Wrap(nil, "api", "finalize product", "load finals", err)
	}
	out := make([]Final, 0, len(finals))
	for _, final := range finals {
		out = append(out, FromFinal(final))
	}
	return out, nil
}

// FinalizeBatch finalizes a batch best-effort.
func (s *Service) FinalizeBatch(ctx context.Context, batchID int64, decidedBy *int64) (FinalizeReport, error) {
	result, err := s.finalizer.FinalizeBatch(ctx, batchID, decidedBy)
	if err != nil {
		return FinalizeReport{}, err
	}
	return finalizeReport(result), nil
}

// FinalizeAllReviewed finalizes every reviewed product best-effort.
func (s *Service) FinalizeAllReviewed(ctx context.Context, decidedBy *int64) (FinalizeReport, error) {
	result, err := s.finalizer.FinalizeAllReviewed(ctx, decidedBy)
	if err != nil {
		return FinalizeReport{}, err
	}
	return finalizeReport(result), nil
}

func finalizeReport(result *finalize.BatchResult) FinalizeReport {
	report := FinalizeReport{Finalized: result.Finalized}
	if len(result.Failures) > 0 {
		report.Failures = make(map[int64]string, len(result.Failures))
		for productID, failure := range result.Failures {
			report.Failures[productID] = failure.Error()
		}
	}
	return report
}

// PauseProcessing stops the autonomous loop at its next gate check.
func (s *Service) PauseProcessing(ctx context.Context, pausedBy *int64) (ProcessingStatus, error) {
	if _, err := s.controller.Pause(ctx, pausedBy); err != nil {
		return ProcessingStatus{}, err
	}
	return s.ProcessingStatus(ctx)
}

// ResumeProcessing restarts the autonomous loop.
func (s *Service) ResumeProcessing(ctx context.Context) (ProcessingStatus, error) {
	if _, err := s.controller.Resume(ctx); err != nil {
		return ProcessingStatus{}, err
	}
	return s.ProcessingStatus(ctx)
}

// ProcessingStatus reports the pause switch and per-status product counts.
func (s *Service) ProcessingStatus(ctx context.Context) (ProcessingStatus, error) {
	control, err := s.controller.Status(ctx)
	if err != nil {
		return ProcessingStatus{}, err
	}
	counts, err := s.store.CountProductsByStatus(ctx)
	if err != nil {
		return ProcessingStatus{}, services.Wrap(nil, "api", "processing status", "count products", err)
	}
	status := ProcessingStatus{
		Paused:           control.IsPaused,
		PausedAt:         formatTimePtr(control.PausedAt),
		PausedBy:         control.PausedBy,
		ProductsByStatus: make(map[string]int, len(counts)),
	}
	for key, count := range counts {
		status.ProductsByStatus[string(key)] = count
	}
	return status, nil
}

// DashboardStats gathers pipeline-wide counters.
func (s *Service) DashboardStats(ctx context.Context) (Dashboard, error) {
	stats, err := s.store.DashboardStatsSnapshot(ctx)
	if err != nil {
		return Dashboard{}, services.Wrap(nil, "api", "dashboard", "gather stats", err)
	}
	dashboard := Dashboard{
		ProductsByStatus:    make(map[string]int, len(stats.ProductsByStatus)),
		BatchesByStatus:     make(map[string]int, len(stats.BatchesByStatus)),
		AnnotationsByStatus: make(map[string]int, len(stats.AnnotationsByStatus)),
		UnresolvedOverlaps:  stats.UnresolvedOverlaps,
		PendingFlags:        stats.PendingFlags,
		ActiveFinals:        stats.ActiveFinals,
		FinalizedProducts:   stats.FinalizedProducts,
		TotalProducts:       stats.TotalProducts,
		ActiveAnnotators:    stats.ActiveAnnotators,
		ActiveProviders:     stats.ActiveProviders,
		ProcessingPaused:    stats.ProcessingPaused,
	}
	for key, count := range stats.ProductsByStatus {
		dashboard.ProductsByStatus[string(key)] = count
	}
	for key, count := range stats.BatchesByStatus {
		dashboard.BatchesByStatus[string(key)] = count
	}
	for key, count := range stats.AnnotationsByStatus {
		dashboard.AnnotationsByStatus[string(key)] = count
	}
	return dashboard, nil
}

// AnnotatorStats reports per-annotator completed items, consensus agreement,
// correction rate, and items per hour.
func (s *Service) AnnotatorStats(ctx context.Context) ([]AnnotatorStats, error) {
	performances, err := s.store.AnnotatorPerformanceSnapshot(ctx)
	if err != nil {
		return nil, services.Wrap(nil, "api", "annotator stats", "gather performance", err)
	}
	out := make([]AnnotatorStats, 0, len(performances))
	for _, perf := range performances {
		out = append(out, AnnotatorStats{
			Annotator:      FromAnnotator(perf.Annotator),
			CompletedItems: perf.CompletedItems,
			Annotations:    perf.Annotations,
			Corrections:    perf.Corrections,
			AgreementRate:  perf.AgreementRate,
			ChangeRate:     perf.ChangeRate,
			ItemsPerHour:   perf.ItemsPerHour,
		})
	}
	return out, nil
}
