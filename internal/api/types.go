// Package api defines the transport DTOs shared by the daemon's HTTP
// surface and the CLI client, plus the service facade that maps engine
// operations onto them. Conversions mask provider credentials; raw store
// models never cross the wire.
package api

import "time"

// Product is the wire form of a catalog product.
type Product struct {
	ID          int64    `json:"id"`
	ExternalSKU string   `json:"external_sku,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Subcategory string   `json:"subcategory,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Status      string   `json:"status"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// Attribute is the wire form of a labelable attribute.
type Attribute struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	DataType      string   `json:"data_type"`
	AllowedValues []string `json:"allowed_values,omitempty"`
}

// Mapping binds an attribute to a category slot.
type Mapping struct {
	ID          int64  `json:"id"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	AttributeID int64  `json:"attribute_id"`
	IsRequired  bool   `json:"is_required"`
}

// Provider is the wire form of an AI provider. Config is masked.
type Provider struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	ServiceName string         `json:"service_name"`
	Model       string         `json:"model"`
	IsActive    bool           `json:"is_active"`
	Config      map[string]any `json:"config,omitempty"`
}

// Annotator is the wire form of a human participant.
type Annotator struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
	// OpenBatches is populated on workload listings only.
	OpenBatches int `json:"open_batches,omitempty"`
}

// Batch is the wire form of an annotation batch.
type Batch struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	BatchType     string  `json:"batch_type"`
	Status        string  `json:"status"`
	Progress      float64 `json:"progress"`
	BatchSize     int     `json:"batch_size"`
	AssignedTo    *int64  `json:"assigned_to,omitempty"`
	ParentBatchID *int64  `json:"parent_batch_id,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

// BatchItem is the wire form of one product inside a batch.
type BatchItem struct {
	ID          int64  `json:"id"`
	BatchID     int64  `json:"batch_id"`
	ProductID   int64  `json:"product_id"`
	Status      string `json:"status"`
	ProcessedBy *int64 `json:"processed_by,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// BatchDetail is a batch plus its items.
type BatchDetail struct {
	Batch Batch       `json:"batch"`
	Items []BatchItem `json:"items"`
}

// Annotation is the wire form of a human annotation.
type Annotation struct {
	ID            int64  `json:"id"`
	ProductID     int64  `json:"product_id"`
	AttributeID   int64  `json:"attribute_id"`
	AnnotatorID   int64  `json:"annotator_id"`
	BatchItemID   *int64 `json:"batch_item_id,omitempty"`
	Value         string `json:"value"`
	Status        string `json:"status"`
	Note          string `json:"note,omitempty"`
	IsCorrection  bool   `json:"is_correction,omitempty"`
	PreviousValue string `json:"previous_value,omitempty"`
}

// Suggestion is the wire form of one provider suggestion.
type Suggestion struct {
	ID          int64   `json:"id"`
	ProductID   int64   `json:"product_id"`
	AttributeID int64   `json:"attribute_id"`
	ProviderID  int64   `json:"provider_id"`
	Value       string  `json:"value"`
	Confidence  float64 `json:"confidence"`
}

// Consensus is the wire form of an AI consensus record.
type Consensus struct {
	ID          int64   `json:"id"`
	ProductID   int64   `json:"product_id"`
	AttributeID int64   `json:"attribute_id"`
	Value       string  `json:"value"`
	Method      string  `json:"method"`
	Confidence  float64 `json:"confidence"`
	Version     int     `json:"version"`
	IsActive    bool    `json:"is_active"`
}

// Overlap is the wire form of an overlap comparison.
type Overlap struct {
	ID            int64   `json:"id"`
	ProductID     int64   `json:"product_id"`
	AttributeID   int64   `json:"attribute_id"`
	AnnotationIDs []int64 `json:"annotation_ids"`
	ResolvedValue string  `json:"resolved_value,omitempty"`
	ResolvedBy    *int64  `json:"resolved_by,omitempty"`
	IsResolved    bool    `json:"is_resolved"`
}

// Final is the wire form of a final attribute value.
type Final struct {
	ID          int64   `json:"id"`
	ProductID   int64   `json:"product_id"`
	AttributeID int64   `json:"attribute_id"`
	Value       string  `json:"value"`
	Source      string  `json:"source"`
	DecidedBy   *int64  `json:"decided_by,omitempty"`
	Confidence  float64 `json:"confidence"`
	Version     int     `json:"version"`
	IsActive    bool    `json:"is_active"`
}

// Flag is the wire form of a missing-value flag.
type Flag struct {
	ID             int64  `json:"id"`
	ProductID      int64  `json:"product_id"`
	AttributeID    int64  `json:"attribute_id"`
	AnnotatorID    int64  `json:"annotator_id"`
	RequestedValue string `json:"requested_value"`
	Reason         string `json:"reason,omitempty"`
	Status         string `json:"status"`
	ReviewedBy     *int64 `json:"reviewed_by,omitempty"`
	ResolutionNote string `json:"resolution_note,omitempty"`
}

// ProductDetail bundles a product with its labeling state.
type ProductDetail struct {
	Product     Product      `json:"product"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
	Consensus   []Consensus  `json:"consensus,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
	Finals      []Final      `json:"finals,omitempty"`
}

// ProcessingStatus reports the pause switch and pipeline progress counters.
type ProcessingStatus struct {
	Paused           bool           `json:"paused"`
	PausedAt         string         `json:"paused_at,omitempty"`
	PausedBy         *int64         `json:"paused_by,omitempty"`
	ProductsByStatus map[string]int `json:"products_by_status"`
}

// Dashboard aggregates pipeline-wide counters for the status command.
type Dashboard struct {
	ProductsByStatus    map[string]int `json:"products_by_status"`
	BatchesByStatus     map[string]int `json:"batches_by_status"`
	AnnotationsByStatus map[string]int `json:"annotations_by_status"`
	UnresolvedOverlaps  int            `json:"unresolved_overlaps"`
	PendingFlags        int            `json:"pending_flags"`
	ActiveFinals        int            `json:"active_finals"`
	FinalizedProducts   int            `json:"finalized_products"`
	TotalProducts       int            `json:"total_products"`
	ActiveAnnotators    int            `json:"active_annotators"`
	ActiveProviders     int            `json:"active_providers"`
	ProcessingPaused    bool           `json:"processing_paused"`
}

// AnnotatorStats carries one annotator's throughput and consensus-agreement
// metrics for the dashboard.
type AnnotatorStats struct {
	Annotator      Annotator `json:"annotator"`
	CompletedItems int       `json:"completed_items"`
	Annotations    int       `json:"annotations"`
	Corrections    int       `json:"corrections"`
	AgreementRate  float64   `json:"agreement_rate"`
	ChangeRate     float64   `json:"change_rate"`
	ItemsPerHour   float64   `json:"items_per_hour"`
}

// FinalizeReport summarizes a best-effort finalization run.
type FinalizeReport struct {
	Finalized int              `json:"finalized"`
	Failures  map[int64]string `json:"failures,omitempty"`
}

// ExportRecord is one row of a finals export.
type ExportRecord struct {
	ProductID   int64   `json:"product_id"`
	ExternalSKU string  `json:"external_sku,omitempty"`
	ProductName string  `json:"product_name"`
	Attribute   string  `json:"attribute"`
	Value       string  `json:"value"`
	Source      string  `json:"source"`
	Confidence  float64 `json:"confidence"`
	Version     int     `json:"version"`
	DecidedAt   string  `json:"decided_at,omitempty"`
}

// DaemonStatus reports daemon runtime information.
type DaemonStatus struct {
	Running    bool   `json:"running"`
	PID        int    `json:"pid"`
	SessionID  string `json:"session_id,omitempty"`
	DBPath     string `json:"db_path"`
	LockPath   string `json:"lock_path"`
	APIAddress string `json:"api_address,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
