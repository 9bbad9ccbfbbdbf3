package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// InternalLogger is the printf-style logger background tasks write to.
// Task output is both logged and kept per task for the admin API.
type InternalLogger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Lines formats each call and hands the line to the wrapped function with its level.
type Lines func(level zerolog.Level, msg string)

var _ InternalLogger = Lines(nil)

func (f Lines) Info(format string, args ...any) {
	f(zerolog.InfoLevel, fmt.Sprintf(format, args...))
}

func (f Lines) Warn(format string, args ...any) {
	f(zerolog.WarnLevel, fmt.Sprintf(format, args...))
}

func (f Lines) Error(format string, args ...any) {
	f(zerolog.ErrorLevel, fmt.Sprintf(format, args...))
}

// ToZerolog writes lines to zlog at their level.
func ToZerolog(zlog zerolog.Logger) Lines {
	return func(level zerolog.Level, msg string) {
		zlog.WithLevel(level).Msg(msg)
	}
}

// Tee forwards every line to all of its loggers, in order.
type Tee []InternalLogger

var _ InternalLogger = Tee(nil)

func (t Tee) Info(format string, args ...any) {
	t.each(func(l InternalLogger) { l.Info(format, args...) })
}

func (t Tee) Warn(format string, args ...any) {
	t.each(func(l InternalLogger) { l.Warn(format, args...) })
}

func (t Tee) Error(format string, args ...any) {
	t.each(func(l InternalLogger) { l.Error(format, args...) })
}

func (t Tee) each(fn func(InternalLogger)) {
	for _, l := range t {
		if l != nil {
			fn(l)
		}
	}
}
