package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hiddenhill/papervid-backend/internal/logger"
)

// Store is the durable home for final artifacts, local disk or remote
// object storage behind one interface. Remote backends may be eventually
// consistent; callers must not assume a Save is immediately visible.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Save(ctx context.Context, key string, r io.Reader) error
	PublicURL(key string) string
}

// LocalStore keeps objects under a root directory. Saves go through a temp
// name and rename.
type LocalStore struct {
	root string
	log  *logger.Logger
}

func NewLocalStore(root string, log *logger.Logger) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("missing local store root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create local store root: %w", err)
	}
	return &LocalStore{root: root, log: log.With("service", "LocalStore")}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	info, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return os.Open(s.path(key))
}

func (s *LocalStore) Save(ctx context.Context, key string, r io.Reader) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dst)
}

func (s *LocalStore) PublicURL(key string) string {
	return "/video/" + key
}
