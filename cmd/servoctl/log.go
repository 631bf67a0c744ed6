package main

import "github.com/sirupsen/logrus"

// traceAdapter routes transport frame traces to logrus debug level.
type traceAdapter struct {
	*logrus.Logger
}

func (log *traceAdapter) Printf(format string, args ...any) {
	log.Logger.Debugf(format, args...)
}
