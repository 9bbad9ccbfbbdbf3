package tasks

import (
	"github.com/rs/zerolog"

	"github.com/darmiel/trustbroker/internal/logging"
)

// runLines keeps log lines as the output of the current task run.
func runLines(task *RunnableTask) logging.Lines {
	return func(level zerolog.Level, msg string) {
		task.AppendLog(level.String(), msg)
	}
}

// NewCompositeLogger creates a logger writing to zerolog and to the logs of the task run.
func NewCompositeLogger(task *RunnableTask, zlog zerolog.Logger) logging.Tee {
	return logging.Tee{
		logging.ToZerolog(zlog),
		runLines(task),
	}
}
