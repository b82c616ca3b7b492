package services

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type nopMetrics struct{}

func (nopMetrics) DraftWritten(string)                  {}
func (nopMetrics) TransactionClosed(string)             {}
func (nopMetrics) ReviewFinished(string, time.Duration) {}
