package logger

import (
	"testing"

	"go.uber.org/zap"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
	}{
		{name: "JSON output mode", jsonOutput: true},
		{name: "Console output mode", jsonOutput: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = nil
			JSONOutput = false

			if err := Initialize(tt.jsonOutput, "info"); err != nil {
				t.Fatalf("Initialize() error = %v", err)
			}

			if Logger == nil {
				t.Error("Initialize() did not set global Logger")
			}
			if JSONOutput != tt.jsonOutput {
				t.Errorf("JSONOutput = %v, want %v", JSONOutput, tt.jsonOutput)
			}

			Logger.Sync()
		})
	}
}

func TestInitializeFallsBackToInfoOnUnknownLevel(t *testing.T) {
	Logger = nil
	if err := Initialize(false, "not-a-level"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !Logger.Desugar().Core().Enabled(zap.InfoLevel) {
		t.Error("expected info level to be enabled after falling back from an unknown level")
	}
	Logger.Sync()
}

func TestNilLoggerDoesNotPanic(t *testing.T) {
	// Package functions must tolerate a nil global Logger so early callers
	// (before Initialize runs) never panic.
	saved := Logger
	defer func() { Logger = saved }()

	Logger = nil
	Info("should not panic")
	Infow("should not panic", "k", "v")
	Warnw("should not panic", "k", "v")
	Errorw("should not panic", "k", "v")
	Debugw("should not panic", "k", "v")
	if err := Cleanup(); err != nil {
		t.Errorf("Cleanup() with nil logger = %v, want nil", err)
	}
}
