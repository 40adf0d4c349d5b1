package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
)

const MilepostDir = ".milepost"
const StoreFile = "store.json"

// FilesystemStore is a MemoryStore persisted as a JSON snapshot under
// <root>/.milepost/store.json. Every successful write rewrites the snapshot.
type FilesystemStore struct {
	*MemoryStore
	root        string
	retryConfig retry.Config

	digestMu   sync.Mutex
	lastDigest string
}

// NewFilesystemStore opens (or creates) the store rooted at root.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	s := &FilesystemStore{
		MemoryStore: NewMemoryStore(),
		root:        root,
		retryConfig: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
	}
	if err := s.Initialize(); err != nil {
		return nil, err
	}
	if err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	s.afterWrite = s.persistLocked
	return s, nil
}

// Root returns the workspace root directory.
func (s *FilesystemStore) Root() string {
	return s.root
}

// ResolvePath ensures the path is within the .milepost directory and prevents traversal.
func (s *FilesystemStore) ResolvePath(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("filename cannot be empty")
	}

	baseDir := filepath.Join(s.root, MilepostDir)
	cleanPath := filepath.Clean(filepath.Join(baseDir, filename))

	if !strings.HasPrefix(cleanPath, baseDir) || filepath.Dir(cleanPath) != baseDir {
		return "", fmt.Errorf("invalid file path: %s", filename)
	}
	return cleanPath, nil
}

// Path returns the snapshot file location.
func (s *FilesystemStore) Path() string {
	path, _ := s.ResolvePath(StoreFile)
	return path
}

func (s *FilesystemStore) Initialize() error {
	// G301: Use 0700 for directories
	if err := os.MkdirAll(filepath.Join(s.root, MilepostDir), 0700); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", MilepostDir, err)
	}
	return nil
}

// Reload replaces the in-memory content with the snapshot on disk. A missing
// file yields an empty store. Reads are retried since an external editor may
// be in the middle of replacing the file.
func (s *FilesystemStore) Reload(ctx context.Context) error {
	retryer := retry.New[Snapshot](s.retryConfig)

	snap, err := retryer.Do(ctx, func(ctx context.Context) (Snapshot, error) {
		path, err := s.ResolvePath(StoreFile)
		if err != nil {
			return Snapshot{}, err
		}

		// #nosec G304 -- Path is resolved and validated via ResolvePath
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, nil
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to read store file: %w", err)
		}

		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return Snapshot{}, fmt.Errorf("failed to unmarshal store: %w", err)
		}
		s.recordDigest(data)
		return snap, nil
	})
	if err != nil {
		return err
	}

	s.Restore(snap)
	return nil
}

// persistLocked writes the snapshot atomically. Called with the memory write lock held.
func (s *FilesystemStore) persistLocked() error {
	path, err := s.ResolvePath(StoreFile)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.snapshotLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	tmp := path + ".tmp"
	// G306: Use 0600 for files
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	s.recordDigest(data)
	return nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *FilesystemStore) recordDigest(data []byte) {
	s.digestMu.Lock()
	s.lastDigest = digest(data)
	s.digestMu.Unlock()
}

// Changed reports whether the snapshot on disk differs from the one this
// store last wrote or loaded. Watchers use it to skip their own writes.
func (s *FilesystemStore) Changed() (bool, error) {
	// #nosec G304 -- Path is resolved and validated via ResolvePath
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read store file: %w", err)
	}
	s.digestMu.Lock()
	defer s.digestMu.Unlock()
	return digest(data) != s.lastDigest, nil
}
