package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard tracing fields propagated through the call chain.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldTriggerID identifies one matching-engine trigger evaluation
	FieldTriggerID = "trigger_id"

	// FieldAlertID is the search alert ID
	FieldAlertID = "alert_id"

	// FieldGarmentID is the garment ID
	FieldGarmentID = "garment_id"

	// FieldUserID is the user ID
	FieldUserID = "user_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// Standard metric fields used for aggregation and alerting.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldSize is the response body size in bytes
	FieldSize = "size"
)
