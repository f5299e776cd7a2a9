package rolepolicy

import "github.com/oarkflow/rolepolicy/logger"

// Logger is re-exported so callers need not import the logger package.
type Logger = logger.Logger

// WithLogger installs a Logger on the Service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithTraceIDFunc installs the generator for per-operation trace ids, which
// appear in log lines and audit details.
func WithTraceIDFunc(f logger.TraceIDFunc) Option {
	return func(s *Service) error {
		s.traceIDFunc = f
		return nil
	}
}
