package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"mixerSync/internal/model"
)

const lockRetryDelay = 50 * time.Millisecond

// FileStore keeps one pretty-printed JSON array per cache key under root:
// <root>/<network>/<kind>s_<currency>_<amount>.json.
type FileStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root, locks: make(map[string]*sync.Mutex)}
}

// Path returns the cache file for key.
func (s *FileStore) Path(key model.CacheKey) string {
	name := fmt.Sprintf("%ss_%s_%s.json", key.Kind, strings.ToLower(key.Currency), key.Amount)
	return filepath.Join(s.root, strings.ToLower(key.Network), name)
}

// Load reads the cache file for key. Files are replaced by rename, so a
// reader never observes a partial write.
func (s *FileStore) Load(ctx context.Context, key model.CacheKey) ([]model.Event, error) {
	return readEvents(s.Path(key))
}

// Append merges events into the cache file under the key lock.
func (s *FileStore) Append(ctx context.Context, key model.CacheKey, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	path := s.Path(key)
	unlock, err := s.lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	existing, err := readEvents(path)
	if err != nil {
		return err
	}

	added := Merge(existing, events)
	if len(added) == 0 {
		return nil
	}

	return writeEvents(path, append(existing, added...))
}

// Reset removes the cache file for key.
func (s *FileStore) Reset(ctx context.Context, key model.CacheKey) error {
	path := s.Path(key)
	unlock, err := s.lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache: %w", err)
	}
	return nil
}

func (s *FileStore) lock(ctx context.Context, path string) (func(), error) {
	s.mu.Lock()
	keyLock, ok := s.locks[path]
	if !ok {
		keyLock = &sync.Mutex{}
		s.locks[path] = keyLock
	}
	s.mu.Unlock()

	keyLock.Lock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		keyLock.Unlock()
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	fileLock := flock.New(path + ".lock")
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		keyLock.Unlock()
		return nil, fmt.Errorf("lock cache %s: %w", path, err)
	}
	if !locked {
		keyLock.Unlock()
		return nil, fmt.Errorf("lock cache %s: not acquired", path)
	}

	return func() {
		_ = fileLock.Unlock()
		keyLock.Unlock()
	}, nil
}

func readEvents(path string) ([]model.Event, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Event{}, nil
		}
		return nil, fmt.Errorf("stat cache: %w", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("cache path %s is a directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []model.Event{}, nil
	}

	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", model.ErrDataCorrupt, path, err)
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, nil
}

func writeEvents(path string, events []model.Event) error {
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write cache tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename cache: %w", err)
	}
	return nil
}
