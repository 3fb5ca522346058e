package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		env, level string
		wantLevel  zapcore.Level
		wantErr    bool
	}{
		{"dev", "", zapcore.DebugLevel, false},
		{"production", "", zapcore.InfoLevel, false},
		{"prod", "warn", zapcore.WarnLevel, false},
		{"dev", "loud", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(t *testing.T) {
			log, err := New(tt.env, tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !log.Core().Enabled(tt.wantLevel) {
				t.Errorf("level %v not enabled", tt.wantLevel)
			}
			if tt.wantLevel > zapcore.DebugLevel && log.Core().Enabled(tt.wantLevel-1) {
				t.Errorf("level below %v should be disabled", tt.wantLevel)
			}
		})
	}
}
