package logger

// Standard field key constants for structured logging.
const (
	FieldComponent  = "component"
	FieldClient     = "client"
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldStatusCode = "status_code"
	FieldAttempt    = "attempt"
	FieldAttempts   = "attempts"
	FieldDuration   = "duration_ms"
	FieldStrategy   = "strategy"
	FieldState      = "state"
	FieldError      = "error"
)

// Fields builds a map[string]interface{} from alternating key-value pairs.
//
//	log.Info("done", logger.Fields("client", "forensics", "attempts", 2))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i < len(kvs)-1; i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// ErrorFields creates fields for a failed call against a named client.
func ErrorFields(client string, err error) map[string]interface{} {
	return map[string]interface{}{
		FieldClient: client,
		FieldError:  err.Error(),
	}
}
