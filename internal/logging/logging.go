// Package logging wires the process-wide operational logger: zap underneath,
// logr on top, following the logr-over-zap convention the wider QA/CD
// tooling in this codebase's lineage uses for its controllers.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// New builds a logr.Logger backed by a production zap core, or a development
// core (human-readable, caller info) when dev is true.
func New(dev bool) (logr.Logger, func(), error) {
	var zl *zap.Logger
	var err error
	if dev {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Logger{}, func() {}, err
	}
	sync := func() { _ = zl.Sync() }
	return zapr.NewLogger(zl), sync, nil
}

// Discard is a no-op logger, used as the default for components wired
// without an explicit logger (tests, library callers).
func Discard() logr.Logger {
	return logr.Discard()
}
