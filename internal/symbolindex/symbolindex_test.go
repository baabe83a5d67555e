package symbolindex

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestResolveFindsDefinitionBlock(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.py", "import os\n\ndef read_file(p):\n    with open(p) as f:\n        return f.read()\n\ndef other():\n    pass\n")

	idx := New([]string{path})
	m, err := idx.Resolve("read_file")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.FilePath != path {
		t.Fatalf("FilePath = %s, want %s", m.FilePath, path)
	}
	if !contains(m.Source, "def read_file(p):") || !contains(m.Source, "return f.read()") || contains(m.Source, "def other") {
		t.Fatalf("unexpected snippet: %q", m.Source)
	}
}

func TestResolveReturnsNilForUnknownSymbol(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.py", "def foo():\n    pass\n")

	idx := New([]string{path})
	m, err := idx.Resolve("does_not_exist")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil match, got %+v", m)
	}
}

func TestResolveFallsBackToReference(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.py", "from helpers import helper_fn\n\ndef handler():\n    return helper_fn()\n")

	idx := New([]string{path})
	m, err := idx.Resolve("helper_fn")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m == nil {
		t.Fatal("expected a reference match")
	}
	if contains(m.Source, "def helper_fn") {
		t.Fatalf("expected a reference, not a definition: %q", m.Source)
	}
}

func TestResolveCachesWithinIndex(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.py", "def cached():\n    pass\n")

	idx := New([]string{path})
	first, _ := idx.Resolve("cached")
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	second, err := idx.Resolve("cached")
	if err != nil {
		t.Fatalf("Resolve (cached): %v", err)
	}
	if second == nil || second.FilePath != first.FilePath {
		t.Fatalf("expected cached result to survive file removal, got %+v", second)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
