package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dfryer1193/photofeed/gallery/domain"
)

var u1Profile = &domain.OwnerProfile{ID: "u1", DisplayName: "User One", Email: "u1@example.com"}

func TestResolveCachesProfile(t *testing.T) {
	store := newFakeProfileStore(u1Profile)
	cache := NewOwnerCache(store)

	for i := 0; i < 3; i++ {
		p, err := cache.Resolve(context.Background(), "u1")
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		if p.DisplayName != "User One" {
			t.Errorf("Resolve() profile = %v", p)
		}
	}

	if got := store.fetchCount(); got != 1 {
		t.Errorf("fetch count = %d, want 1", got)
	}
}

func TestResolveCoalescesConcurrentCalls(t *testing.T) {
	store := newFakeProfileStore(u1Profile)
	store.gate = make(chan struct{})
	store.started = make(chan struct{}, 16)
	cache := NewOwnerCache(store)

	const callers = 8
	results := make([]*domain.OwnerProfile, callers)
	errs := make([]error, callers)

	var entered, wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		entered.Add(1)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entered.Done()
			results[i], errs[i] = cache.Resolve(context.Background(), "u1")
		}(i)
	}

	// Wait for the single underlying fetch to begin and give every
	// caller time to join it, then release the fetch.
	entered.Wait()
	<-store.started
	time.Sleep(10 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: Resolve() error: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("caller %d received a different profile value", i)
		}
	}
	if got := store.fetchCount(); got != 1 {
		t.Errorf("fetch count = %d, want 1 coalesced fetch", got)
	}
}

func TestResolveFailureIsNotCached(t *testing.T) {
	store := newFakeProfileStore(u1Profile)
	store.err = errBoom
	cache := NewOwnerCache(store)

	_, err := cache.Resolve(context.Background(), "u1")
	var unavailable *domain.ProfileUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Resolve() error = %v, want ProfileUnavailableError", err)
	}
	if unavailable.Owner != "u1" {
		t.Errorf("error owner = %q, want u1", unavailable.Owner)
	}

	// A later retry must hit the store again and succeed.
	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()

	p, err := cache.Resolve(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Resolve() after recovery error: %v", err)
	}
	if p.ID != "u1" {
		t.Errorf("Resolve() profile = %v", p)
	}
	if got := store.fetchCount(); got != 2 {
		t.Errorf("fetch count = %d, want 2 (failure not cached)", got)
	}
}

func TestResolveMissingProfile(t *testing.T) {
	store := newFakeProfileStore()
	cache := NewOwnerCache(store)

	_, err := cache.Resolve(context.Background(), "nobody")
	var unavailable *domain.ProfileUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Resolve() error = %v, want ProfileUnavailableError", err)
	}
	if !errors.Is(err, domain.ErrProfileNotFound) {
		t.Errorf("Resolve() error should wrap ErrProfileNotFound, got %v", err)
	}
}

func TestResolveTimeout(t *testing.T) {
	store := newFakeProfileStore(u1Profile)
	store.gate = make(chan struct{}) // never released
	cache := NewOwnerCache(store, WithResolveTimeout(20*time.Millisecond))

	_, err := cache.Resolve(context.Background(), "u1")
	var unavailable *domain.ProfileUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Resolve() error = %v, want ProfileUnavailableError", err)
	}

	if _, ok := cache.Cached("u1"); ok {
		t.Error("a timed-out resolution must not be cached")
	}
}

func TestCached(t *testing.T) {
	store := newFakeProfileStore(u1Profile)
	cache := NewOwnerCache(store)

	if _, ok := cache.Cached("u1"); ok {
		t.Fatal("Cached() before any Resolve should miss")
	}
	if _, err := cache.Resolve(context.Background(), "u1"); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	p, ok := cache.Cached("u1")
	if !ok || p.ID != "u1" {
		t.Errorf("Cached() = %v, %t after Resolve", p, ok)
	}
	if got := store.fetchCount(); got != 1 {
		t.Errorf("Cached() must not fetch; count = %d", got)
	}
}
