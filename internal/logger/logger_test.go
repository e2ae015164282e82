package logger_test

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/topprop/settlement-engine/internal/config"
	"github.com/topprop/settlement-engine/internal/logger"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantDebug bool
	}{
		{"json debug", config.LogConfig{Level: "DEBUG", Encoding: "json"}, true},
		{"console info", config.LogConfig{Level: "info", Encoding: "console", Sampling: true}, false},
		{"bad level falls back to info", config.LogConfig{Level: "loud", Encoding: "xml"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := logger.New(tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			if got := l.Core().Enabled(zapcore.DebugLevel); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if !l.Core().Enabled(zapcore.InfoLevel) {
				t.Error("info must be enabled")
			}
		})
	}
}
