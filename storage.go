package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrBlobNotFound is returned when a bucket/key pair has no stored object
var ErrBlobNotFound = errors.New("blob not found")

// BlobInfo describes one stored object
type BlobInfo struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// BlobStore is the artifact storage surface shared by the local
// filesystem backend and the HTTP object-store backend
type BlobStore interface {
	Put(bucket, key string, data []byte) error
	Get(bucket, key string) ([]byte, error)
	Delete(bucket, key string) error
	List(bucket string) ([]BlobInfo, error)
}

// NewBlobStore builds the backend selected by the configuration
func NewBlobStore(cfg StorageConfig) (BlobStore, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalBlobStore(cfg.RootDir)
	case "http":
		return NewHTTPBlobStore(cfg.BaseURL, cfg.APIKey, cfg.Timeout()), nil
	}
	return nil, errors.Errorf("unknown storage backend %q", cfg.Backend)
}

// LocalBlobStore keeps objects as plain files under root/bucket/key
type LocalBlobStore struct {
	root string
}

// NewLocalBlobStore creates the root directory if needed
func NewLocalBlobStore(root string) (*LocalBlobStore, error) {
	if root == "" {
		return nil, errors.New("storage root directory not configured")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create storage root")
	}
	return &LocalBlobStore{root: root}, nil
}

// objectPath rejects keys that would escape the bucket directory
func (s *LocalBlobStore) objectPath(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", errors.New("bucket and key must not be empty")
	}
	clean := filepath.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", errors.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, bucket, clean), nil
}

func (s *LocalBlobStore) Put(bucket, key string, data []byte) error {
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create bucket directory")
	}
	return os.WriteFile(path, data, 0644)
}

func (s *LocalBlobStore) Get(bucket, key string) ([]byte, error) {
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrBlobNotFound
	}
	return data, err
}

func (s *LocalBlobStore) Delete(bucket, key string) error {
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return ErrBlobNotFound
	}
	return err
}

func (s *LocalBlobStore) List(bucket string) ([]BlobInfo, error) {
	dir := filepath.Join(s.root, bucket)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list bucket")
	}
	infos := make([]BlobInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, BlobInfo{Key: entry.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}
