package config_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/mmdatafocus/shopping_tracker/config"
)

func exerciseBlobStore(t *testing.T, name string, blobs config.BlobStore) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := blobs.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("%s: expected missing key, got found=%v err=%v", name, found, err)
	}
	if err := blobs.Put(ctx, "db", []byte("first")); err != nil {
		t.Fatalf("%s: Put: %v", name, err)
	}
	if err := blobs.Put(ctx, "db", []byte("second")); err != nil {
		t.Fatalf("%s: Put overwrite: %v", name, err)
	}
	got, found, err := blobs.Get(ctx, "db")
	if err != nil || !found {
		t.Fatalf("%s: Get: found=%v err=%v", name, found, err)
	}
	if !bytes.Equal(got, []byte("second")) {
		t.Fatalf("%s: expected latest value, got %q", name, got)
	}
	if err := blobs.Delete(ctx, "db"); err != nil {
		t.Fatalf("%s: Delete: %v", name, err)
	}
	if _, found, err := blobs.Get(ctx, "db"); err != nil || found {
		t.Fatalf("%s: expected deleted key, got found=%v err=%v", name, found, err)
	}
	if err := blobs.Delete(ctx, "db"); err != nil {
		t.Fatalf("%s: deleting a missing key should succeed: %v", name, err)
	}
}

func TestMemoryBlobStore(t *testing.T) {
	exerciseBlobStore(t, "memory", config.NewMemoryBlobStore())
}

func TestFileBlobStore(t *testing.T) {
	blobs, err := config.NewFileBlobStore(filepath.Join(t.TempDir(), "nested", "tracker.b64"))
	if err != nil {
		t.Fatalf("NewFileBlobStore: %v", err)
	}
	exerciseBlobStore(t, "file", blobs)
}

func TestFileBlobStore_RequiresPath(t *testing.T) {
	for _, path := range []string{"", "   "} {
		if _, err := config.NewFileBlobStore(path); err == nil {
			t.Fatalf("expected error for path %q", path)
		}
		settings := config.StoreSettings{BlobBackend: config.BlobBackendFile, FilePath: path}
		if _, err := config.OpenBlobStore(settings, config.NewDiscardLogger()); err == nil {
			t.Fatalf("expected OpenBlobStore error for path %q", path)
		}
	}
}

func TestBadgerBlobStore(t *testing.T) {
	blobs, err := config.OpenBadgerBlobStore("", config.NewDiscardLogger())
	if err != nil {
		t.Fatalf("OpenBadgerBlobStore: %v", err)
	}
	defer blobs.Close()
	exerciseBlobStore(t, "badger", blobs)
}

func TestBadgerBlobStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	blobs, err := config.OpenBadgerBlobStore(dir, config.NewDiscardLogger())
	if err != nil {
		t.Fatalf("OpenBadgerBlobStore: %v", err)
	}
	if err := blobs.Put(ctx, "db", []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := blobs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := config.OpenBadgerBlobStore(dir, config.NewDiscardLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, found, err := reopened.Get(ctx, "db")
	if err != nil || !found || string(got) != "payload" {
		t.Fatalf("expected payload after reopen, got %q found=%v err=%v", got, found, err)
	}
}

func TestOpenBlobStore_UnknownBackend(t *testing.T) {
	if _, err := config.OpenBlobStore(config.StoreSettings{BlobBackend: "floppy"}, config.NewDiscardLogger()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
