package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
	FieldErrorType     = "error_type"
	FieldOperation     = "operation"
	FieldRuleID        = "rule_id"
	FieldRuleLabel     = "label"
	FieldAmount        = "amount"
	FieldFrequency     = "frequency"
	FieldEvaluation    = "evaluation_date"
	FieldOccurrence    = "occurrence_date"
	FieldMovementID    = "movement_id"
	FieldMovementDate  = "movement_date"
	FieldVersion       = "version"
	FieldSheetsRef     = "sheets_ref"
	FieldProcessed     = "processed"
	FieldSkipped       = "skipped"
	FieldUnrecorded    = "unrecorded"
	FieldNotDue        = "not_due"
	FieldRemoved       = "removed"
	FieldTotalRules    = "total_rules"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentRecurring = "recurring"
	ComponentLedger    = "ledger"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentScheduler = "scheduler"
	ComponentCache     = "cache"
)

// Operations defines standard operation names
const (
	OpGet       = "get"
	OpLoad      = "load"
	OpSave      = "save"
	OpWatermark = "update_watermark"
	OpSubmit    = "submit"
	OpSync      = "sync"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation = "validation_error"
	ErrorTypeSubmission = "submission_error"
	ErrorTypeStore      = "store_error"
	ErrorTypeTimeout    = "timeout_error"
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

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithErrorType adds the error category field
func (f LogFields) WithErrorType(errorType string) LogFields {
	f[FieldErrorType] = errorType
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRule adds recurrence-rule fields
func (f LogFields) WithRule(id, label, frequency, amount string) LogFields {
	f[FieldRuleID] = id
	f[FieldRuleLabel] = label
	f[FieldFrequency] = frequency
	f[FieldAmount] = amount
	return f
}

// WithDates adds the evaluation and occurrence dates
func (f LogFields) WithDates(evaluation, occurrence string) LogFields {
	f[FieldEvaluation] = evaluation
	if occurrence != "" {
		f[FieldOccurrence] = occurrence
	}
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
