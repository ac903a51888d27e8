package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunScanThenInfoThenVerify(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "store")
	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "photo.jpg"), []byte("fake jpeg bytes"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	code := run([]string{"assetdb", "--datadir", dataDir, "scan", srcDir})
	if code != 0 {
		t.Fatalf("scan exit code = %d, want 0", code)
	}

	code = run([]string{"assetdb", "--datadir", dataDir, "info"})
	if code != 0 {
		t.Fatalf("info exit code = %d, want 0", code)
	}
}

func TestRunScanRequiresAPath(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "store")
	code := run([]string{"assetdb", "--datadir", dataDir, "scan"})
	if code == 0 {
		t.Fatalf("scan with no paths exit code = %d, want non-zero", code)
	}
}

func TestVerbosityToLogLevelClampsEnds(t *testing.T) {
	if verbosityToLogLevel(0) != verbosityToLogLevel(1) {
		t.Error("0 and 1 should both map to warn")
	}
	if verbosityToLogLevel(5) != verbosityToLogLevel(4) {
		t.Error("4 and 5 should both map to debug")
	}
}
