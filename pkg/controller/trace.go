package controller

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Trace receives the human readable progress of a pass. Verbose lines are
// only emitted in debug mode.
type Trace interface {
	Output(format string, args ...any)
	Verbose(format string, args ...any)
}

type TextTrace struct {
	w       io.Writer
	verbose bool
}

func NewTextTrace(w io.Writer, verbose bool) *TextTrace {
	return &TextTrace{w: w, verbose: verbose}
}

func (t *TextTrace) Output(format string, args ...any) {
	fmt.Fprintf(t.w, format+"\n", args...)
}

func (t *TextTrace) Verbose(format string, args ...any) {
	if t.verbose {
		t.Output(format, args...)
	}
}

// LogTrace writes trace lines to a logger, for passes without a terminal.
type LogTrace struct {
	logger  *zap.Logger
	verbose bool
}

func NewLogTrace(logger *zap.Logger, verbose bool) *LogTrace {
	return &LogTrace{logger: logger, verbose: verbose}
}

func (t *LogTrace) Output(format string, args ...any) {
	t.logger.Info(fmt.Sprintf(format, args...))
}

func (t *LogTrace) Verbose(format string, args ...any) {
	if t.verbose {
		t.logger.Debug(fmt.Sprintf(format, args...))
	}
}
