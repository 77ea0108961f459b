package store

import (
	"encoding/json"
	"strings"
	"time"

	"facet/internal/workflow"
)

// BatchType distinguishes AI processing batches from human annotation batches.
type BatchType string

const (
	BatchTypeAI    BatchType = "ai"
	BatchTypeHuman BatchType = "human"
)

// BatchStatus is the lifecycle of an annotation batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// ItemStatus is the per-product work state inside a batch.
type ItemStatus string

const (
	ItemStatusNotStarted ItemStatus = "not_started"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusDone       ItemStatus = "done"
)

// AnnotationStatus is the review state of a human annotation.
type AnnotationStatus string

const (
	AnnotationSuggested AnnotationStatus = "suggested"
	AnnotationApproved  AnnotationStatus = "approved"
	AnnotationRejected  AnnotationStatus = "rejected"
)

// FinalSource records where a final attribute value came from.
type FinalSource string

const (
	FinalSourceAI        FinalSource = "ai"
	FinalSourceHuman     FinalSource = "human"
	FinalSourceConsensus FinalSource = "consensus"
)

// FlagStatus is the review state of a missing-value flag.
type FlagStatus string

const (
	FlagPending  FlagStatus = "pending"
	FlagApproved FlagStatus = "approved"
	FlagRejected FlagStatus = "rejected"
)

// ConsensusMethodWeightedMajority is the only consensus method currently produced.
const ConsensusMethodWeightedMajority = "weighted_majority"

// ParseBatchType converts a string into a known BatchType.
func ParseBatchType(value string) (BatchType, bool) {
	switch BatchType(strings.ToLower(strings.TrimSpace(value))) {
	case BatchTypeAI:
		return BatchTypeAI, true
	case BatchTypeHuman:
		return BatchTypeHuman, true
	default:
		return "", false
	}
}

// ParseAnnotationStatus converts a string into a known AnnotationStatus.
func ParseAnnotationStatus(value string) (AnnotationStatus, bool) {
	switch AnnotationStatus(strings.ToLower(strings.TrimSpace(value))) {
	case AnnotationSuggested:
		return AnnotationSuggested, true
	case AnnotationApproved:
		return AnnotationApproved, true
	case AnnotationRejected:
		return AnnotationRejected, true
	default:
		return "", false
	}
}

// Product is a catalog entry moving through the labeling pipeline.
type Product struct {
	ID            int64
	ExternalSKU   string
	Name          string
	Description   string
	Category      string
	Subcategory   string
	ImageURLsJSON string
	Price         *float64
	Status        workflow.Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ImageURLs decodes the stored image URL list. An empty column yields nil.
func (p *Product) ImageURLs() []string {
	if p == nil || p.ImageURLsJSON == "" {
		return nil
	}
	var urls []string
	if err := json.Unmarshal([]byte(p.ImageURLsJSON), &urls); err != nil {
		return nil
	}
	return urls
}

// Attribute is a labelable property with a data type and an optional
// closed vocabulary.
type Attribute struct {
	ID                int64
	Name              string
	DataType          string
	AllowedValuesJSON string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AllowedValues decodes the stored vocabulary. An empty column yields nil,
// which means the attribute accepts free-form values.
func (a *Attribute) AllowedValues() []string {
	if a == nil || a.AllowedValuesJSON == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(a.AllowedValuesJSON), &values); err != nil {
		return nil
	}
	return values
}

// CategoryAttributeMapping binds an attribute to a (category, subcategory)
// slot. A mapping with an empty subcategory applies to the whole category.
type CategoryAttributeMapping struct {
	ID          int64
	Category    string
	Subcategory string
	AttributeID int64
	IsRequired  bool
	CreatedAt   time.Time
}

// AIProvider is a configured model endpoint that produces suggestions.
type AIProvider struct {
	ID          int64
	Name        string
	ServiceName string
	Model       string
	IsActive    bool
	ConfigJSON  string
	CreatedAt   time.Time
}

// Annotator is a human participant in the pipeline.
type Annotator struct {
	ID        int64
	Name      string
	Role      string
	IsActive  bool
	CreatedAt time.Time
}

// AnnotationBatch is a unit of work over a set of products.
type AnnotationBatch struct {
	ID            int64
	Name          string
	Description   string
	BatchType     BatchType
	Status        BatchStatus
	Progress      float64
	BatchSize     int
	AssignedTo    *int64
	ParentBatchID *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BatchItem is a (batch, product) pair tracking per-product work state.
type BatchItem struct {
	ID          int64
	BatchID     int64
	ProductID   int64
	Status      ItemStatus
	ProcessedBy *int64
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AISuggestion is one provider's proposed value for a product attribute.
type AISuggestion struct {
	ID              int64
	ProductID       int64
	AttributeID     int64
	ProviderID      int64
	SuggestedValue  string
	Confidence      float64
	RawResponseJSON string
	CreatedAt       time.Time
}

// AIConsensus is a versioned aggregate of provider suggestions. At most one
// record per (product, attribute) is active at a time.
type AIConsensus struct {
	ID             int64
	ProductID      int64
	AttributeID    int64
	ConsensusValue string
	Method         string
	Confidence     float64
	Version        int
	IsActive       bool
	CreatedAt      time.Time
}

// HumanAnnotation is an annotator's value for a product attribute, usually
// produced while working a batch item.
type HumanAnnotation struct {
	ID             int64
	ProductID      int64
	AttributeID    int64
	AnnotatorID    int64
	BatchItemID    *int64
	AnnotatedValue string
	Status         AnnotationStatus
	Note           string
	IsCorrection   bool
	PreviousValue  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OverlapComparison records conflicting approved annotations for one
// (product, attribute) pair. At most one record per pair exists.
type OverlapComparison struct {
	ID                int64
	ProductID         int64
	AttributeID       int64
	AnnotationIDsJSON string
	ResolvedValue     string
	ResolvedBy        *int64
	ResolvedAt        *time.Time
	IsResolved        bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AnnotationIDs decodes the referenced annotation identifiers.
func (o *OverlapComparison) AnnotationIDs() []int64 {
	if o == nil || o.AnnotationIDsJSON == "" {
		return nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(o.AnnotationIDsJSON), &ids); err != nil {
		return nil
	}
	return ids
}

// FinalAttribute is the versioned authoritative value for a
// (product, attribute) pair. At most one record per pair is active.
type FinalAttribute struct {
	ID          int64
	ProductID   int64
	AttributeID int64
	FinalValue  string
	Source      FinalSource
	DecidedBy   *int64
	Confidence  float64
	Version     int
	IsActive    bool
	CreatedAt   time.Time
}

// MissingValueFlag is an annotator's request to extend an attribute's
// allowed vocabulary.
type MissingValueFlag struct {
	ID             int64
	ProductID      int64
	AttributeID    int64
	AnnotatorID    int64
	BatchItemID    *int64
	RequestedValue string
	Reason         string
	Status         FlagStatus
	ReviewedBy     *int64
	ReviewedAt     *time.Time
	ResolutionNote string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProcessingControl is the singleton pause switch for autonomous processing.
type ProcessingControl struct {
	IsPaused  bool
	PausedAt  *time.Time
	PausedBy  *int64
	UpdatedAt time.Time
}
