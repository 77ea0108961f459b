// Package consensus aggregates per-provider AI suggestions into a single
// versioned consensus value per product attribute.
package consensus

import (
	"context"
	"log/slog"

	"facet/internal/logging"
	"facet/internal/services"
	"facet/internal/store"
)

// Result is the outcome of weighing suggestions for one pair.
type Result struct {
	Value      string
	Confidence float64
	Supporters int
}

// WeightedMajority sums each distinct value's confidence scores and picks
// the value with the greatest sum. Suggestions must arrive in ascending
// provider id order; a tie keeps the first value to reach the maximal sum,
// which makes the tie-break deterministic but otherwise arbitrary. The
// returned confidence is the mean confidence of the winning supporters.
func WeightedMajority(suggestions []*store.AISuggestion) (Result, bool) {
	if len(suggestions) == 0 {
		return Result{}, false
	}
	sums := make(map[string]float64, len(suggestions))
	counts := make(map[string]int, len(suggestions))
	var (
		winner  string
		maxSum  float64
		haveWin bool
	)
	for _, suggestion := range suggestions {
		value := suggestion.SuggestedValue
		sums[value] += suggestion.Confidence
		counts[value]++
		if !haveWin || sums[value] > maxSum {
			// Strict greater-than keeps the first value to reach the
			// maximal sum when later values only equal it.
			winner = value
			maxSum = sums[value]
			haveWin = true
		}
	}
	return Result{
		Value:      winner,
		Confidence: sums[winner] / float64(counts[winner]),
		Supporters: counts[winner],
	}, true
}

// Aggregator computes and persists consensus records.
type Aggregator struct {
	store  *store.Store
	logger *slog.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(st *store.Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Aggregator{store: st, logger: logger}
}

// AggregatePair recomputes and writes the consensus for one product
// attribute from its stored suggestions. Returns nil consensus when there
// are no suggestions for the pair.
func (a *Aggregator) AggregatePair(ctx context.Context, productID, attributeID int64) (*store.AIConsensus, error) {
	suggestions, err := a.store.SuggestionsForPair(ctx, productID, attributeID)
	if err != nil {
		return nil, services.Wrap(nil, "consensus", "aggregate pair", "load suggestions", err)
	}
	result, ok := WeightedMajority(suggestions)
	if !ok {
		return nil, nil
	}
	record, err := a.store.WriteConsensus(ctx, productID, attributeID, result.Value, store.ConsensusMethodWeightedMajority, result.Confidence)
	if err != nil {
		return nil, services.Wrap(nil, "consensus", "aggregate pair", "write consensus", err)
	}
	a.logger.Debug("consensus written",
		logging.Int64(logging.FieldProductID, productID),
		logging.Int64("attribute_id", attributeID),
		logging.String("value", result.Value),
		logging.Float64("confidence", result.Confidence),
		logging.Int("version", record.Version),
	)
	return record, nil
}
