package logger

// Logger is the structured logging surface used across the module.
// Keyvals are alternating key/value pairs.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}

// TraceIDFunc generates a correlation id per operation.
// It should be cheap and safe for concurrent calls.
type TraceIDFunc func() string
