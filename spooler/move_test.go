package spooler

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMoveFileToDir_EmptyDstDirErrors(t *testing.T) {
	if _, err := MoveFileToDir("x", ""); err == nil {
		t.Fatalf("expected error for empty dstDir")
	}
}

func TestMoveFileToDir_AvoidsNameCollision(t *testing.T) {
	tmp := t.TempDir()
	srcDir := filepath.Join(tmp, "src")
	dstDir := filepath.Join(tmp, "dst")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		t.Fatal(err)
	}

	// Occupy the plain name and the first suffix.
	base := "rec_0001.json"
	for _, name := range []string{base, "rec_0001-1.json"} {
		if err := os.WriteFile(filepath.Join(dstDir, name), []byte("existing"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	srcPath := filepath.Join(srcDir, base)
	if err := os.WriteFile(srcPath, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	dstPath, err := MoveFileToDir(srcPath, dstDir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(dstPath) != "rec_0001-2.json" {
		t.Fatalf("expected rec_0001-2.json, got %q", dstPath)
	}
	if _, err := os.Stat(srcPath); err == nil {
		t.Fatalf("expected source removed: %s", srcPath)
	}
	b, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "payload" {
		t.Fatalf("unexpected content: %q", string(b))
	}
}

func TestMoveFilesToDir_ReportsFailuresAndMovesRest(t *testing.T) {
	tmp := t.TempDir()
	good := filepath.Join(tmp, "a.json")
	if err := os.WriteFile(good, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(tmp, "missing.json")

	moved, err := MoveFilesToDir([]string{missing, good}, filepath.Join(tmp, "done"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, ok := moved[good]; !ok {
		t.Fatalf("expected %s to be moved, got %v", good, moved)
	}
	if _, ok := moved[missing]; ok {
		t.Fatalf("missing file reported as moved")
	}
}
