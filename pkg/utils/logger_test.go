package utils

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(true)
	if err != nil {
		t.Fatalf("NewLogger(true) error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug logger should enable debug level")
	}
	_ = logger.Sync()

	logger, err = NewLogger(false)
	if err != nil {
		t.Fatalf("NewLogger(false) error: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("production logger should not enable debug level")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("production logger should enable info level")
	}
	_ = logger.Sync()
}
