package file

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestListReturnsSortedImagePaths(t *testing.T) {
	base := t.TempDir()
	for _, p := range []string{
		"photos/b.png",
		"photos/a.jpg",
		"photos/sub/c.gif",
		"photos/notes.txt",
		"photos/raw.cr2",
	} {
		abs := filepath.Join(base, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatalf("failed to create test dir: %v", err)
		}
		if err := os.WriteFile(abs, []byte("x"), 0o644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}
	}

	s := New(base)
	got, err := s.List(context.Background(), "photos")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}

	want := []string{"a.jpg", "b.png", "sub/c.gif"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestListMissingRoot(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.List(context.Background(), "nope"); err == nil {
		t.Fatal("expected an error for a missing root")
	}
}

func TestSaveOpenRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	payload := []byte("rendition bytes")

	path, err := s.Save(context.Background(), "out/deep/pic.jpg", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if path != "out/deep/pic.jpg" {
		t.Fatalf("unexpected saved path %q", path)
	}

	rc, err := s.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("failed to read saved file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestEnsureDirIsIdempotent(t *testing.T) {
	base := t.TempDir()
	s := New(base)

	for i := 0; i < 2; i++ {
		if err := s.EnsureDir("mirror/album"); err != nil {
			t.Fatalf("EnsureDir returned error: %v", err)
		}
	}

	info, err := os.Stat(filepath.Join(base, "mirror", "album"))
	if err != nil || !info.IsDir() {
		t.Fatalf("expected the directory to exist, stat: %v", err)
	}
}
