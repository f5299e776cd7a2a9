package logger

import (
	"fmt"
	"time"

	phlog "github.com/oarkflow/log"
)

// PhusluLogger writes through the global phuslu-style logger.
type PhusluLogger struct {
	component string
}

// NewPhusluLogger returns a logger that tags every entry with component
// when it is non-empty.
func NewPhusluLogger(component string) *PhusluLogger {
	return &PhusluLogger{component: component}
}

func (p *PhusluLogger) Debug(msg string, keyvals ...any) {
	p.emit(phlog.Debug(), msg, keyvals)
}

func (p *PhusluLogger) Info(msg string, keyvals ...any) {
	p.emit(phlog.Info(), msg, keyvals)
}

func (p *PhusluLogger) Error(msg string, keyvals ...any) {
	p.emit(phlog.Error(), msg, keyvals)
}

func (p *PhusluLogger) emit(e *phlog.Entry, msg string, keyvals []any) {
	if p.component != "" {
		e = e.Str("component", p.component)
	}
	for i := 0; i < len(keyvals)-1; i += 2 {
		k := fmt.Sprint(keyvals[i])
		switch v := keyvals[i+1].(type) {
		case string:
			e = e.Str(k, v)
		case bool:
			e = e.Bool(k, v)
		case int:
			e = e.Int(k, v)
		case int64:
			e = e.Int64(k, v)
		case time.Duration:
			e = e.Dur(k, v)
		case error:
			e = e.Str(k, v.Error())
		case fmt.Stringer:
			e = e.Str(k, v.String())
		default:
			e = e.Any(k, v)
		}
	}
	e.Msg(msg)
}
