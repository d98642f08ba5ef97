package storage

import (
	"path/filepath"
	"testing"
)

func TestProbeReportsSpace(t *testing.T) {
	probe, err := NewProbe(filepath.Join(t.TempDir(), "media files"))
	if err != nil {
		t.Fatalf("NewProbe: %v", err)
	}

	available, err := probe.Available()
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if available == 0 {
		t.Fatalf("expected free space on the temp filesystem")
	}
}

func TestProbeMissingDir(t *testing.T) {
	probe := &Probe{Dir: filepath.Join(t.TempDir(), "missing")}
	if _, err := probe.Available(); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
