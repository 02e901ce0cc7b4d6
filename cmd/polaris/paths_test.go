package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeModels(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("gguf"), 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
	return dir
}

func TestResolveModelPath(t *testing.T) {
	t.Parallel()

	t.Run("explicit model wins", func(t *testing.T) {
		t.Parallel()
		got, err := resolveModelPath(" ./a/../m.gguf ", "/nonexistent", false, nil, &bytes.Buffer{})
		if err != nil || got != "m.gguf" {
			t.Fatalf("got %q err=%v", got, err)
		}
	})

	t.Run("no model and no dir", func(t *testing.T) {
		t.Parallel()
		got, err := resolveModelPath("", "", false, nil, &bytes.Buffer{})
		if err != nil || got != "" {
			t.Fatalf("got %q err=%v", got, err)
		}
	})

	t.Run("single model is used", func(t *testing.T) {
		t.Parallel()
		dir := writeModels(t, "only.GGUF", "notes.txt")
		var errOut bytes.Buffer
		got, err := resolveModelPath("", dir, false, nil, &errOut)
		if err != nil || got != filepath.Join(dir, "only.GGUF") {
			t.Fatalf("got %q err=%v", got, err)
		}
		if !strings.Contains(errOut.String(), "using model") {
			t.Fatalf("expected notice, got %q", errOut.String())
		}
	})

	t.Run("empty dir", func(t *testing.T) {
		t.Parallel()
		if _, err := resolveModelPath("", writeModels(t, "a.bin"), false, nil, &bytes.Buffer{}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("not a directory", func(t *testing.T) {
		t.Parallel()
		dir := writeModels(t, "a.gguf")
		if _, err := resolveModelPath("", filepath.Join(dir, "a.gguf"), false, nil, &bytes.Buffer{}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("several models need a terminal", func(t *testing.T) {
		t.Parallel()
		dir := writeModels(t, "a.gguf", "b.gguf")
		if _, err := resolveModelPath("", dir, false, nil, &bytes.Buffer{}); err == nil {
			t.Fatal("expected error without a terminal")
		}
	})

	t.Run("interactive selection", func(t *testing.T) {
		t.Parallel()
		dir := writeModels(t, "b.gguf", "a.gguf")
		var errOut bytes.Buffer
		got, err := resolveModelPath("", dir, true, strings.NewReader("9\n\n2\n"), &errOut)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got != filepath.Join(dir, "b.gguf") {
			t.Fatalf("models should be sorted, got %q", got)
		}
		if !strings.Contains(errOut.String(), `invalid selection "9"`) {
			t.Fatalf("expected invalid selection notice, got %q", errOut.String())
		}
	})

	t.Run("selection hits EOF", func(t *testing.T) {
		t.Parallel()
		dir := writeModels(t, "a.gguf", "b.gguf")
		if _, err := resolveModelPath("", dir, true, strings.NewReader("x"), &bytes.Buffer{}); err == nil {
			t.Fatal("expected error on EOF")
		}
	})
}
