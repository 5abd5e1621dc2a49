package log

// Common field names for structured logging
const (
	FieldComponent         = "component"
	FieldRequestID         = "request_id"
	FieldClientIP          = "client_ip"
	FieldMethod            = "method"
	FieldPath              = "path"
	FieldQuery             = "query"
	FieldStatusCode        = "status_code"
	FieldDuration          = "duration_ms"
	FieldUserAgent         = "user_agent"
	FieldSuccess           = "success"
	FieldError             = "error"
	FieldErrorKind         = "error_kind"
	FieldOperation         = "operation"
	FieldFamily            = "family"
	FieldAccountKey        = "account_key"
	FieldTransactionKey    = "transaction_key"
	FieldCategoryKey       = "category_key"
	FieldPeriodKey         = "period_key"
	FieldReconciliationKey = "reconciliation_key"
	FieldBillKey           = "bill_key"
	FieldGoalKey           = "goal_key"
	FieldAmount            = "amount"
	FieldEventType         = "event_type"
	FieldEventID           = "event_id"
	FieldCount             = "count"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentBudget    = "budget"
	ComponentReconcile = "reconcile"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentRateLimit = "rate_limit"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpCreate      = "create"
	OpRead        = "read"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpList        = "list"
	OpVoid        = "void"
	OpCorrect     = "correct"
	OpTransfer    = "transfer"
	OpRecompute   = "recompute"
	OpMatch       = "match"
	OpUnmatch     = "unmatch"
	OpComplete    = "complete"
	OpAssign      = "assign"
	OpRecalculate = "recalculate"
	OpPublish     = "publish"
	OpExport      = "export"
	OpShutdown    = "shutdown"
	OpStartup     = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithFamily adds the tenant field
func (f LogFields) WithFamily(family string) LogFields {
	f[FieldFamily] = family
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
