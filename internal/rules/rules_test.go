package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/seznam/gsast-go/internal/store"
)

func TestValidExtension(t *testing.T) {
	cases := map[string]bool{"r.yaml": true, "r.yml": true, "r.json": true, "r.txt": false, "r": false}
	for name, want := range cases {
		if got := ValidExtension(name); got != want {
			t.Errorf("ValidExtension(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestUploadThenMaterialize(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := store.Open(mr.Addr(), "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	keys, err := Upload(ctx, s.Rules, "SCAN-1", []File{
		{RelativePath: "a/r.yml", Bytes: []byte("rules: []")},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(keys) != 1 || keys[0] != "SCAN-1:a/r.yml" {
		t.Fatalf("keys = %v", keys)
	}

	cache := NewCache(t.TempDir())
	root, err := cache.Materialize(ctx, s.Rules, "SCAN-1", keys)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "a/r.yml"))
	if err != nil {
		t.Fatalf("read materialized file: %v", err)
	}
	if string(data) != "rules: []" {
		t.Errorf("data = %q", data)
	}

	// Second call returns the same root without re-fetching.
	root2, err := cache.Materialize(ctx, s.Rules, "SCAN-1", keys)
	if err != nil {
		t.Fatalf("materialize again: %v", err)
	}
	if root2 != root {
		t.Errorf("root2 = %s, want %s", root2, root)
	}
}

func TestUploadRejectsUnsafePath(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := store.Open(mr.Addr(), "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	keys, err := Upload(context.Background(), s.Rules, "SCAN-1", []File{
		{RelativePath: "../../etc/passwd", Bytes: []byte("evil")},
	})
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("err = %v, want ErrUnsafePath", err)
	}
	if len(keys) != 0 {
		t.Errorf("keys = %v, want none written", keys)
	}
}

func TestMaterializeCleansUpOnFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := store.Open(mr.Addr(), "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cache := NewCache(t.TempDir())
	root := filepath.Join(cache.tempRoot, "SCAN-1")
	_, err = cache.Materialize(context.Background(), s.Rules, "SCAN-1", []string{"SCAN-1:missing.yml"})
	if err == nil {
		t.Fatal("expected error for missing key")
	}
	if _, statErr := os.Stat(root); !os.IsNotExist(statErr) {
		t.Errorf("expected partial dir removed, stat err = %v", statErr)
	}
}
