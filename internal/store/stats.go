package store

import (
	"context"
	"fmt"

	"facet/internal/workflow"
)

// DashboardStats aggregates pipeline-wide counts for the status dashboard.
type DashboardStats struct {
	ProductsByStatus     map[workflow.Status]int
	BatchesByStatus      map[BatchStatus]int
	AnnotationsByStatus  map[AnnotationStatus]int
	UnresolvedOverlaps   int
	PendingFlags         int
	ActiveFinals         int
	FinalizedProducts    int
	TotalProducts        int
	ActiveAnnotators     int
	ActiveProviders      int
	ProcessingPaused     bool
}

// DashboardStatsSnapshot gathers all dashboard counts. The reads are not a
// single transaction; the dashboard tolerates slight skew between counts.
func (s *Store) DashboardStatsSnapshot(ctx context.Context) (*DashboardStats, error) {
	stats := &DashboardStats{
		BatchesByStatus:     make(map[BatchStatus]int),
		AnnotationsByStatus: make(map[AnnotationStatus]int),
	}

	productCounts, err := s.CountProductsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats.ProductsByStatus = productCounts
	for status, count := range productCounts {
		stats.TotalProducts += count
		if status == workflow.StatusFinalized {
			stats.FinalizedProducts = count
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM annotation_batches GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count batches: %w", err)
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.BatchesByStatus[BatchStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM human_annotations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count annotations: %w", err)
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.AnnotationsByStatus[AnnotationStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	scalars := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(1) FROM overlap_comparisons WHERE is_resolved = 0`, &stats.UnresolvedOverlaps},
		{`SELECT COUNT(1) FROM missing_value_flags WHERE status = 'pending'`, &stats.PendingFlags},
		{`SELECT COUNT(1) FROM final_attributes WHERE is_active = 1`, &stats.ActiveFinals},
		{`SELECT COUNT(1) FROM annotators WHERE is_active = 1`, &stats.ActiveAnnotators},
		{`SELECT COUNT(1) FROM ai_providers WHERE is_active = 1`, &stats.ActiveProviders},
	}
	for _, scalar := range scalars {
		row := s.db.QueryRowContext(ctx, scalar.query)
		if err := row.Scan(scalar.dest); err != nil {
			return nil, fmt.Errorf("count rows: %w", err)
		}
	}

	control, err := s.GetProcessingControl(ctx)
	if err != nil {
		return nil, err
	}
	stats.ProcessingPaused = control.IsPaused
	return stats, nil
}

// AnnotatorPerformance summarizes one annotator's throughput and how often
// their values agreed with the active AI consensus.
type AnnotatorPerformance struct {
	Annotator      *Annotator
	CompletedItems int
	Annotations    int
	Corrections    int
	AgreementRate  float64
	ChangeRate     float64
	ItemsPerHour   float64
}

// AnnotatorPerformanceSnapshot computes per-annotator metrics over all
// recorded work. Agreement counts an annotation as agreeing when it was not
// marked a correction; throughput uses the summed started-to-completed item
// durations.
func (s *Store) AnnotatorPerformanceSnapshot(ctx context.Context) ([]AnnotatorPerformance, error) {
	annotators, err := s.ListAnnotators(ctx)
	if err != nil {
		return nil, err
	}

	type itemFacts struct {
		completed int
		hours     float64
	}
	items := make(map[int64]itemFacts)
	rows, err := s.db.QueryContext(ctx,
		`SELECT processed_by, COUNT(1),
                COALESCE(SUM((julianday(completed_at) - julianday(started_at)) * 24.0), 0)
         FROM batch_items
         WHERE status = ? AND processed_by IS NOT NULL
           AND started_at IS NOT NULL AND completed_at IS NOT NULL
         GROUP BY processed_by`,
		ItemStatusDone,
	)
	if err != nil {
		return nil, fmt.Errorf("count completed items: %w", err)
	}
	for rows.Next() {
		var (
			annotatorID int64
			facts       itemFacts
		)
		if err := rows.Scan(&annotatorID, &facts.completed, &facts.hours); err != nil {
			rows.Close()
			return nil, err
		}
		items[annotatorID] = facts
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	type annotationFacts struct {
		total       int
		corrections int
	}
	annotations := make(map[int64]annotationFacts)
	rows, err = s.db.QueryContext(ctx,
		`SELECT annotator_id, COUNT(1), COALESCE(SUM(is_correction), 0)
         FROM human_annotations
         GROUP BY annotator_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("count annotations: %w", err)
	}
	for rows.Next() {
		var (
			annotatorID int64
			facts       annotationFacts
		)
		if err := rows.Scan(&annotatorID, &facts.total, &facts.corrections); err != nil {
			rows.Close()
			return nil, err
		}
		annotations[annotatorID] = facts
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	performances := make([]AnnotatorPerformance, 0, len(annotators))
	for _, annotator := range annotators {
		perf := AnnotatorPerformance{Annotator: annotator}
		if facts, ok := items[annotator.ID]; ok {
			perf.CompletedItems = facts.completed
			if facts.hours > 0 {
				perf.ItemsPerHour = float64(facts.completed) / facts.hours
			}
		}
		if facts, ok := annotations[annotator.ID]; ok {
			perf.Annotations = facts.total
			perf.Corrections = facts.corrections
			if facts.total > 0 {
				perf.ChangeRate = float64(facts.corrections) / float64(facts.total)
				perf.AgreementRate = 1 - perf.ChangeRate
			}
		}
		performances = append(performances, perf)
	}
	return performances, nil
}
