package api

import (
	"encoding/json"

	"facet/internal/store"
)

// maskedSecret replaces credential values in provider config reads.
const maskedSecret = "********"

// FromProduct converts a store product to its wire form.
func FromProduct(product *store.Product) Product {
	return Product{
		ID:          product.ID,
		ExternalSKU: product.ExternalSKU,
		Name:        product.Name,
		Description: product.Description,
		Category:    product.Category,
		Subcategory: product.Subcategory,
		ImageURLs:   product.ImageURLs(),
		Price:       product.Price,
		Status:      string(product.Status),
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
}

// FromProducts converts a product slice.
func FromProducts(products []*store.Product) []Product {
	out := make([]Product, 0, len(products))
	for _, product := range products {
		out = append(out, FromProduct(product))
	}
	return out
}

// FromAttribute converts a store attribute to its wire form.
func FromAttribute(attribute *store.Attribute) Attribute {
	return Attribute{
		ID:            attribute.ID,
		Name:          attribute.Name,
		DataType:      attribute.DataType,
		AllowedValues: attribute.AllowedValues(),
	}
}

// FromMapping converts a category mapping to its wire form.
func FromMapping(mapping *store.CategoryAttributeMapping) Mapping {
	return Mapping{
		ID:          mapping.ID,
		Category:    mapping.Category,
		Subcategory: mapping.Subcategory,
		AttributeID: mapping.AttributeID,
		IsRequired:  mapping.IsRequired,
	}
}

// FromProvider converts a provider to its wire form with credentials masked.
func FromProvider(provider *store.AIProvider) Provider {
	return Provider{
		ID:          provider.ID,
		Name:        provider.Name,
		ServiceName: provider.ServiceName,
		Model:       provider.Model,
		IsActive:    provider.IsActive,
		Config:      maskProviderConfig(provider.ConfigJSON),
	}
}

// maskProviderConfig decodes a provider config and masks the api_key member.
// Malformed config is dropped rather than leaked.
func maskProviderConfig(configJSON string) map[string]any {
	if configJSON == "" {
		return nil
	}
	var config map[string]any
	if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
		return nil
	}
	if _, ok := config["api_key"]; ok {
		config["api_key"] = maskedSecret
	}
	return config
}

// FromAnnotator converts an annotator to its wire form.
func FromAnnotator(annotator *store.Annotator) Annotator {
	return Annotator{
		ID:       annotator.ID,
		Name:     annotator.Name,
		Role:     annotator.Role,
		IsActive: annotator.IsActive,
	}
}

// FromBatch converts a batch to its wire form.
func FromBatch(batch *store.AnnotationBatch) Batch {
	return Batch{
		ID:            batch.ID,
		Name:          batch.Name,
		Description:   batch.Description,
		BatchType:     string(batch.BatchType),
		Status:        string(batch.Status),
		Progress:      batch.Progress,
		BatchSize:     batch.BatchSize,
		AssignedTo:    batch.AssignedTo,
		ParentBatchID: batch.ParentBatchID,
		CreatedAt:     formatTime(batch.CreatedAt),
	}
}

// FromBatches converts a batch slice.
func FromBatches(batches []*store.AnnotationBatch) []Batch {
	out := make([]Batch, 0, len(batches))
	for _, batch := range batches {
		out = append(out, FromBatch(batch))
	}
	return out
}

// FromBatchItem converts a batch item to its wire form.
func FromBatchItem(item *store.BatchItem) BatchItem {
	return BatchItem{
		ID:          item.ID,
		BatchID:     item.BatchID,
		ProductID:   item.ProductID,
		Status:      string(item.Status),
		ProcessedBy: item.ProcessedBy,
		StartedAt:   formatTimePtr(item.StartedAt),
		CompletedAt: formatTimePtr(item.CompletedAt),
	}
}

// FromAnnotation converts an annotation to its wire form.
func FromAnnotation(annotation *store.HumanAnnotation) Annotation {
	return Annotation{
		ID:            annotation.ID,
		ProductID:     annotation.ProductID,
		AttributeID:   annotation.AttributeID,
		AnnotatorID:   annotation.AnnotatorID,
		BatchItemID:   annotation.BatchItemID,
		Value:         annotation.AnnotatedValue,
		Status:        string(annotation.Status),
		Note:          annotation.Note,
		IsCorrection:  annotation.IsCorrection,
		PreviousValue: annotation.PreviousValue,
	}
}

// FromSuggestion converts a suggestion to its wire form.
func FromSuggestion(suggestion *store.AISuggestion) Suggestion {
	return Suggestion{
		ID:          suggestion.ID,
		ProductID:   suggestion.ProductID,
		AttributeID: suggestion.AttributeID,
		ProviderID:  suggestion.ProviderID,
		Value:       suggestion.SuggestedValue,
		Confidence:  suggestion.Confidence,
	}
}

// FromConsensus converts a consensus record to its wire form.
func FromConsensus(consensus *store.AIConsensus) Consensus {
	return Consensus{
		ID:          consensus.ID,
		ProductID:   consensus.ProductID,
		AttributeID: consensus.AttributeID,
		Value:       consensus.ConsensusValue,
		Method:      consensus.Method,
		Confidence:  consensus.Confidence,
		Version:     consensus.Version,
		IsActive:    consensus.IsActive,
	}
}

// FromOverlap converts an overlap comparison to its wire form.
func FromOverlap(overlap *store.OverlapComparison) Overlap {
	return Overlap{
		ID:            overlap.ID,
		ProductID:     overlap.ProductID,
		AttributeID:   overlap.AttributeID,
		AnnotationIDs: overlap.AnnotationIDs(),
		ResolvedValue: overlap.ResolvedValue,
		ResolvedBy:    overlap.ResolvedBy,
		IsResolved:    overlap.IsResolved,
	}
}

// FromFinal converts a final attribute to its wire form.
func FromFinal(final *store.FinalAttribute) Final {
	return Final{
		ID:          final.ID,
		ProductID:   final.ProductID,
		AttributeID: final.AttributeID,
		Value:       final.FinalValue,
		Source:      string(final.Source),
		DecidedBy:   final.DecidedBy,
		Confidence:  final.Confidence,
		Version:     final.Version,
		IsActive:    final.IsActive,
	}
}

// FromFlag converts a missing-value flag to its wire form.
func FromFlag(flag *store.MissingValueFlag) Flag {
	return Flag{
		ID:             flag.ID,
		ProductID:      flag.ProductID,
		AttributeID:    flag.AttributeID,
		AnnotatorID:    flag.AnnotatorID,
		RequestedValue: flag.RequestedValue,
		Reason:         flag.Reason,
		Status:         string(flag.Status),
		ReviewedBy:     flag.ReviewedBy,
		ResolutionNote: flag.ResolutionNote,
	}
}
