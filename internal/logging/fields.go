package logging

// Standardized attribute keys used across components.
const (
	FieldComponent = "component"
	FieldEventType = "event_type"
	FieldProductID = "product_id"
	FieldBatchID   = "batch_id"
	FieldItemID    = "item_id"
	FieldAttribute = "attribute"
	FieldAnnotator = "annotator"
	FieldErrorHint = "error_hint"
)
