package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore keeps each key as a file under root. Writes go to a temporary
// file in the target directory and are renamed into place.
type FileStore struct {
	root   string
	logger *slog.Logger
}

// NewFileStore creates root if needed.
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	if root == "" {
		return nil, NewStorageError("open", "", errors.New("root directory is required"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("failed to create root %s: %w", root, err))
	}
	return &FileStore{root: root, logger: logger}, nil
}

// Root returns the base directory.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Get implements BlobStore.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, NewStorageError("get", key, err)
	}
	return data, nil
}

// Put implements BlobStore.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.path(key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return NewStorageError("put", key, fmt.Errorf("failed to create directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return NewStorageError("put", key, fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return NewStorageError("put", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return NewStorageError("put", key, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return NewStorageError("put", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return NewStorageError("put", key, fmt.Errorf("failed to replace file: %w", err))
	}
	return nil
}

// Exists implements BlobStore.
func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	info, err := os.Stat(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, NewStorageError("exists", key, err)
	}
	return !info.IsDir(), nil
}

// List implements BlobStore. Temporary files are skipped.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, NewStorageError("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements BlobStore.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return NewStorageError("delete", key, err)
	}
	return nil
}

// Prepare implements Preparer by creating one directory per prefix.
func (s *FileStore) Prepare(ctx context.Context, prefixes ...string) error {
	for _, prefix := range prefixes {
		if err := ValidateKey(prefix); err != nil {
			return err
		}
		if err := os.MkdirAll(s.path(prefix), 0o755); err != nil {
			return NewStorageError("prepare", prefix, err)
		}
	}
	s.logger.Debug("storage layout prepared", "root", s.root, "prefixes", len(prefixes))
	return nil
}

// HealthCheck verifies the root directory is still reachable.
func (s *FileStore) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return NewStorageError("health_check", "", err)
	}
	if !info.IsDir() {
		return NewStorageError("health_check", "", fmt.Errorf("%s is not a directory", s.root))
	}
	return nil
}

// Close implements BlobStore.
func (s *FileStore) Close() error {
	return nil
}
