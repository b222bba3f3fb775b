package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	defer level.SetLevel(zapcore.InfoLevel)

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	if !Log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug enabled")
	}
	if err := SetLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if level.Level() != zapcore.DebugLevel {
		t.Fatalf("level changed on bad input: %v", level.Level())
	}
}
