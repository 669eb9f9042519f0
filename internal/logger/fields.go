package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried on the context logger through the call chain.
const (
	FieldRequestID     = "request_id"
	FieldRunID         = "run_id"
	FieldEndpointID    = "endpoint_id"
	FieldCorrelationID = "correlation_id"
	FieldArticleID     = "article_id"
	FieldComponent     = "component"
	FieldWorkerID      = "worker_id"
)

// Metric fields, attached per entry for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
	FieldSize       = "size"
)
