package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// BlobStore is the durable key-value medium the serialized database lives in.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// OpenBlobStore builds the medium selected by store.blob_backend.
func OpenBlobStore(s StoreSettings, logger *logrus.Logger) (BlobStore, error) {
	switch s.BlobBackend {
	case BlobBackendBadger, "":
		return OpenBadgerBlobStore(s.BadgerPath, logger)
	case BlobBackendRedis:
		return ConnectRedisBlobStore(context.Background(), s.RedisAddress)
	case BlobBackendFile:
		return NewFileBlobStore(s.FilePath)
	case BlobBackendMemory:
		return NewMemoryBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", s.BlobBackend)
	}
}

type MemoryBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{data: map[string][]byte{}}
}

func (m *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryBlobStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryBlobStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryBlobStore) Close() error { return nil }

// FileBlobStore keeps a single blob per key as a file next to Path.
// The key is appended to the file name so one directory can hold several stores.
type FileBlobStore struct {
	Path string
}

func NewFileBlobStore(path string) (*FileBlobStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("file blob store needs a path")
	}
	return &FileBlobStore{Path: path}, nil
}

func (f *FileBlobStore) fileFor(key string) string {
	dir, base := filepath.Split(f.Path)
	return filepath.Join(dir, key+"."+base)
}

func (f *FileBlobStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := os.ReadFile(f.fileFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read blob: %w", err)
	}
	return b, true, nil
}

func (f *FileBlobStore) Put(_ context.Context, key string, value []byte) error {
	name := f.fileFor(key)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	// write then rename so a crash never leaves a half-written blob
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return os.Rename(tmp, name)
}

func (f *FileBlobStore) Delete(_ context.Context, key string) error {
	err := os.Remove(f.fileFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileBlobStore) Close() error { return nil }
