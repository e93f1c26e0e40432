package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		opts      Options
		wantErr   bool
		wantDebug bool
	}{
		{"default json", Options{}, false, false},
		{"debug console", Options{Debug: true, Format: FormatConsole}, false, true},
		{"service field", Options{Service: "visionpath-api"}, false, false},
		{"auto", Options{Format: FormatAuto}, false, false},
		{"unknown format", Options{Format: "xml"}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l, err := New(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := l.Core().Enabled(zapcore.DebugLevel); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			Sync(l)
		})
	}
}

func TestSync_Nil(t *testing.T) {
	t.Parallel()
	Sync(nil)
}
