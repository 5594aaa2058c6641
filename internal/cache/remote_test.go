package cache

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/renderflow/renderflow/pkg/errors"
	"github.com/renderflow/renderflow/pkg/retry"
)

// memStore is an in-memory RemoteStore for tests.
type memStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	fails int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[key]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeObjectNotFound, "key not found")
	}
	return data, nil
}

func (s *memStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.NewError(errors.ErrCodeConnectionFailed, "transient failure")
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	delete(s.data, key)
	return ok, nil
}

func (s *memStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func TestRemoteTierRoundTrip(t *testing.T) {
	store := newMemStore()
	tier := NewRemoteTier(store, nil, RemoteConfig{KeyPrefix: "test:", Retry: fastRetry()}, nil)
	defer tier.Close()
	ctx := context.Background()

	if err := tier.Set(ctx, "project:1", "metadata", time.Minute, nil); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok := tier.Get(ctx, "project:1")
	if !ok || value != "metadata" {
		t.Fatalf("expected hit, got %v %v", value, ok)
	}

	// the key reaches the store prefixed
	if _, err := store.Get(ctx, "test:project:1"); err != nil {
		t.Error("expected prefixed key in the store")
	}
}

func TestRemoteTierRetriesTransientWrites(t *testing.T) {
	store := newMemStore()
	store.fails = 2
	tier := NewRemoteTier(store, nil, RemoteConfig{Retry: fastRetry()}, nil)
	defer tier.Close()

	if err := tier.Set(context.Background(), "k", "v", time.Minute, nil); err != nil {
		t.Fatalf("expected retries to absorb transient failures, got %v", err)
	}
}

func TestRemoteTierStoreErrorIsMiss(t *testing.T) {
	tier := NewRemoteTier(newMemStore(), nil, RemoteConfig{Retry: fastRetry()}, nil)
	defer tier.Close()

	if _, ok := tier.Get(context.Background(), "absent"); ok {
		t.Error("expected miss for absent key")
	}
	stats := tier.Stats()
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss recorded, got %d", stats.Misses)
	}
}

// faultyStore fails every read with a network error.
type faultyStore struct {
	*memStore
}

func (s *faultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.NewError(errors.ErrCodeNetworkError, "connection reset")
}

func TestRemoteTierMissLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := context.Background()

	tier := NewRemoteTier(newMemStore(), nil, RemoteConfig{Retry: fastRetry()}, logger)
	defer tier.Close()
	if _, ok := tier.Get(ctx, "absent"); ok {
		t.Fatal("expected miss for absent key")
	}
	if buf.Len() != 0 {
		t.Errorf("ordinary miss should not log, got %q", buf.String())
	}

	faulty := NewRemoteTier(&faultyStore{newMemStore()}, nil, RemoteConfig{Retry: fastRetry()}, logger)
	defer faulty.Close()
	if _, ok := faulty.Get(ctx, "k"); ok {
		t.Fatal("expected miss on read failure")
	}
	if !strings.Contains(buf.String(), "remote get failed") {
		t.Errorf("expected read failure logged, got %q", buf.String())
	}
	if faulty.Stats().Misses != 1 {
		t.Errorf("expected failure counted as miss, got %d", faulty.Stats().Misses)
	}
}

func TestRemoteTierDeleteByTags(t *testing.T) {
	tier := NewRemoteTier(newMemStore(), nil, RemoteConfig{Retry: fastRetry()}, nil)
	defer tier.Close()
	ctx := context.Background()

	tier.Set(ctx, "a", "1", time.Minute, []string{"project:1"})
	tier.Set(ctx, "b", "2", time.Minute, []string{"project:1"})
	tier.Set(ctx, "c", "3", time.Minute, []string{"project:2"})

	if n := tier.DeleteByTags(ctx, []string{"project:1"}); n != 2 {
		t.Errorf("expected 2 deletions, got %d", n)
	}
	if _, ok := tier.Get(ctx, "c"); !ok {
		t.Error("expected other project entry to survive")
	}
}
