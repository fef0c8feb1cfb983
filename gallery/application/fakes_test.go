package application

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dfryer1193/photofeed/gallery/domain"
)

// fakeProfileStore backs the owner cache in tests. If gate is non-nil,
// GetProfile blocks until the gate is closed or the context ends.
type fakeProfileStore struct {
	mu       sync.Mutex
	fetches  int
	profiles map[string]*domain.OwnerProfile
	err      error

	gate    chan struct{}
	started chan struct{} // receives one signal per fetch that begins
}

func newFakeProfileStore(profiles ...*domain.OwnerProfile) *fakeProfileStore {
	m := make(map[string]*domain.OwnerProfile)
	for _, p := range profiles {
		m[p.ID] = p
	}
	return &fakeProfileStore{profiles: m}
}

func (f *fakeProfileStore) GetProfile(ctx context.Context, ownerID string) (*domain.OwnerProfile, error) {
	f.mu.Lock()
	f.fetches++
	gate := f.gate
	started := f.started
	err := f.err
	p := f.profiles[ownerID]
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrProfileNotFound
	}
	return p, nil
}

func (f *fakeProfileStore) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// fakeSubscription is a hand-driven feed.
type fakeSubscription struct {
	ch chan domain.ChangeBatch

	mu      sync.Mutex
	err     error
	stopped bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{ch: make(chan domain.ChangeBatch, 16)}
}

func (s *fakeSubscription) Changes() <-chan domain.ChangeBatch { return s.ch }

func (s *fakeSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSubscription) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.ch)
	}
}

func (s *fakeSubscription) push(batch domain.ChangeBatch) {
	s.ch <- batch
}

func (s *fakeSubscription) fail(err error) {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.err = err
		close(s.ch)
	}
	s.mu.Unlock()
}

func (s *fakeSubscription) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// fakeRecordStore implements domain.RecordStore for synchronizer and
// library tests. ops records the order of mutating calls, shared with
// fakeBlobStore to verify delete ordering.
type fakeRecordStore struct {
	mu             sync.Mutex
	subs           map[string]*fakeSubscription
	putImages      []*domain.ImageRecord
	putProfiles    []*domain.OwnerProfile
	deletedKeys    []domain.ImageKey
	deleteImageErr error
	subscribeErr   error
	ops            *opLog
}

func newFakeRecordStore(ops *opLog) *fakeRecordStore {
	return &fakeRecordStore{
		subs: make(map[string]*fakeSubscription),
		ops:  ops,
	}
}

func (f *fakeRecordStore) SubscribeImages(ctx context.Context, feed domain.Feed) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := newFakeSubscription()
	f.subs[feed.String()] = sub
	return sub, nil
}

func (f *fakeRecordStore) sub(feed domain.Feed) *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[feed.String()]
}

func (f *fakeRecordStore) GetProfile(ctx context.Context, ownerID string) (*domain.OwnerProfile, error) {
	return nil, domain.ErrProfileNotFound
}

func (f *fakeRecordStore) PutProfile(ctx context.Context, profile *domain.OwnerProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putProfiles = append(f.putProfiles, profile)
	return nil
}

func (f *fakeRecordStore) PutImage(ctx context.Context, rec *domain.ImageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putImages = append(f.putImages, rec)
	f.ops.add("put-document " + rec.Key().String())
	return nil
}

func (f *fakeRecordStore) DeleteImage(ctx context.Context, key domain.ImageKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteImageErr != nil {
		return f.deleteImageErr
	}
	f.deletedKeys = append(f.deletedKeys, key)
	f.ops.add("delete-document " + key.String())
	return nil
}

// fakeBlobStore implements domain.BlobStore.
type fakeBlobStore struct {
	mu        sync.Mutex
	puts      []string
	deletes   []string
	putErr    error
	deleteErr error
	ops       *opLog
}

func newFakeBlobStore(ops *opLog) *fakeBlobStore {
	return &fakeBlobStore{ops: ops}
}

func (f *fakeBlobStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress domain.ProgressFunc) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	f.puts = append(f.puts, path)
	f.ops.add("put-blob " + path)
	return "https://blobs.test/" + path, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, path)
	f.ops.add("delete-blob " + path)
	return nil
}

// opLog is a mutation-order journal shared between fakes.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *opLog) entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

// sinkEvent is one recorded view event.
type sinkEvent struct {
	typ     string
	key     domain.ImageKey
	rec     *domain.ImageRecord
	profile *domain.OwnerProfile
}

// recordingSink captures view events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (r *recordingSink) ViewAdded(key domain.ImageKey, rec *domain.ImageRecord, profile *domain.OwnerProfile) {
	r.record(sinkEvent{typ: "added", key: key, rec: rec, profile: profile})
}

func (r *recordingSink) ViewUpdated(key domain.ImageKey, rec *domain.ImageRecord) {
	r.record(sinkEvent{typ: "updated", key: key, rec: rec})
}

func (r *recordingSink) ViewRemoved(key domain.ImageKey) {
	r.record(sinkEvent{typ: "removed", key: key})
}

func (r *recordingSink) record(e sinkEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) snapshot() []sinkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sinkEvent(nil), r.events...)
}

func (r *recordingSink) count(typ string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e.typ == typ {
			n++
		}
	}
	return n
}

// waitFor polls until at least n events of the given type have been
// recorded, failing the test on timeout.
func (r *recordingSink) waitFor(t testingT, typ string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count(typ) >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q events, got %d (all: %v)", n, typ, r.count(typ), r.snapshot())
}

type testingT interface {
	Helper()
	Fatalf(format string, args ...any)
}

var errBoom = fmt.Errorf("boom")
