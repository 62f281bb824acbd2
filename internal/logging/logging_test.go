package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name      string
		logger    Logger
		wantInfo  bool
		wantDebug bool
		wantWarn  bool
	}{
		{"quiet", Logger{}, false, false, false},
		{"verbose", Logger{Verbose: true}, true, false, true},
		{"debug", Logger{Debug: true}, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			l := tt.logger
			l.Out = &out
			l.Err = &errOut

			l.Infof("info %d", 1)
			l.Debugf("debug %d", 2)
			l.Warnf("warn %d", 3)

			if got := strings.Contains(out.String(), "info 1"); got != tt.wantInfo {
				t.Errorf("Expected info shown=%t, got output: %q", tt.wantInfo, out.String())
			}
			if got := strings.Contains(out.String(), "debug 2"); got != tt.wantDebug {
				t.Errorf("Expected debug shown=%t, got output: %q", tt.wantDebug, out.String())
			}
			if got := strings.Contains(errOut.String(), "warn 3"); got != tt.wantWarn {
				t.Errorf("Expected warn shown=%t, got output: %q", tt.wantWarn, errOut.String())
			}
		})
	}
}

func TestLogger_WarnfAlways(t *testing.T) {
	var errOut bytes.Buffer
	l := Logger{Err: &errOut}
	l.WarnfAlways("profile %s is stale", "dev-1")

	if !strings.Contains(errOut.String(), "profile dev-1 is stale") {
		t.Errorf("Expected warning in output, got: %q", errOut.String())
	}
}

func TestLogger_ErrorfAndReturn(t *testing.T) {
	var errOut bytes.Buffer
	l := Logger{Err: &errOut}
	err := l.ErrorfAndReturn("failed to load %s", "config")

	if err == nil || err.Error() != "failed to load config" {
		t.Errorf("Expected returned error, got: %v", err)
	}
}
