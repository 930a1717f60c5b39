package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreWriteRead(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	key := ArtifactKey("user-1", "job_01.png")
	payload := []byte("png-bytes")

	got, err := store.Write(context.Background(), key, payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got != "generated/user-1/job_01.png" {
		t.Errorf("key = %q", got)
	}

	data, err := store.Read(context.Background(), got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("read back %q, want %q", data, payload)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	for _, key := range []string{"", ".", "../escape.txt", "a/../../escape.txt"} {
		if _, err := store.Write(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("Write(%q) succeeded, want error", key)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt")); err == nil {
		t.Error("traversal escaped the storage root")
	}
}

func TestFileStoreReadMissingKey(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Read(context.Background(), "uploads/u/missing.png"); err == nil {
		t.Error("expected error for missing key")
	}
}
