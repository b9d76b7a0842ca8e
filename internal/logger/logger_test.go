package logger

import "testing"

func TestNewBuildsBothModes(t *testing.T) {
	for _, mode := range []string{"production", "development", ""} {
		log, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		if log == nil {
			t.Fatalf("New(%q): nil logger", mode)
		}
		log.With("mode", mode).Debug("logger ready")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	log := NewNop()
	log.Info("discarded", "k", "v")
	log.With("child", true).Error("also discarded")
}
