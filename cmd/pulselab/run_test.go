package main

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/ayusman/pulselab/internal/config"
	"github.com/ayusman/pulselab/internal/detector"
	"github.com/ayusman/pulselab/internal/rate"
	"github.com/ayusman/pulselab/internal/torch"
)

func TestFindWebDir(t *testing.T) {
	dir := t.TempDir()
	if got := findWebDir(dir); got != dir {
		t.Errorf("findWebDir(%q) = %q", dir, got)
	}

	file := filepath.Join(dir, "index.html")
	if err := os.WriteFile(file, []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := findWebDir(file); got == file {
		t.Error("findWebDir() accepted a file")
	}
}

func TestNewSummarizer(t *testing.T) {
	if _, ok := newSummarizer(config.RateConfig{}, 30).(*rate.PeakSummarizer); !ok {
		t.Error("default summarizer is not the peak counter")
	}
	s, ok := newSummarizer(config.RateConfig{Plugin: "/usr/local/bin/rate-median"}, 15).(*rate.ExecSummarizer)
	if !ok {
		t.Fatal("plugin summarizer is not an exec summarizer")
	}
	if s.FPS != 15 || s.Executable != "/usr/local/bin/rate-median" {
		t.Errorf("exec summarizer = %+v", s)
	}
}

func TestNewTorch_None(t *testing.T) {
	tr, err := newTorch(config.TorchConfig{Kind: config.TorchNone}, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.(torch.None); !ok {
		t.Errorf("newTorch() = %T, want torch.None", tr)
	}
}

func TestNewFaceDetector_WithoutCascade(t *testing.T) {
	d, err := newFaceDetector(config.DetectorConfig{Config: detector.DefaultConfig()}, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if _, ok := d.(*detector.MockDetector); !ok {
		t.Errorf("newFaceDetector() = %T, want the mock", d)
	}
}

func TestOpenStore_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "pulselab.db")
	st, err := openStore(path)
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer st.Close()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database not created: %v", err)
	}
}
