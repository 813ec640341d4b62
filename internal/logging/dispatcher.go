package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// DispatcherLogger lets the event dispatcher log through zerolog.
type DispatcherLogger struct {
	zl zerolog.Logger
}

func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{zl: logger}
}

func (l *DispatcherLogger) Debug(msg string, kv ...any) { l.write(l.zl.Debug(), msg, kv) }
func (l *DispatcherLogger) Info(msg string, kv ...any)  { l.write(l.zl.Info(), msg, kv) }
func (l *DispatcherLogger) Error(msg string, kv ...any) { l.write(l.zl.Error(), msg, kv) }

// write attaches key/value pairs to ev. Non-string keys are formatted with
// fmt and an odd trailing key is dropped.
func (l *DispatcherLogger) write(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if err, isErr := kv[i+1].(error); isErr {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}
