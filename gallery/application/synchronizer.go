package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/photofeed/gallery/domain"
)

// ViewSink receives view events from the synchronizer. The presentation
// layer renders exactly one card per distinct image key from these.
type ViewSink interface {
	ViewAdded(key domain.ImageKey, rec *domain.ImageRecord, profile *domain.OwnerProfile)
	ViewUpdated(key domain.ImageKey, rec *domain.ImageRecord)
	ViewRemoved(key domain.ImageKey)
}

// Session is the identity scope a synchronizer run is bound to. A nil
// User means anonymous: only the public feed is subscribed.
type Session struct {
	User *domain.Identity
}

// FeedErrorFunc is called when a feed subscription ends with an error.
// The synchronizer does not retry on its own; the caller decides
// whether to Start again.
type FeedErrorFunc func(feed domain.Feed, err error)

// SynchronizerOption configures a Synchronizer.
type SynchronizerOption func(*Synchronizer)

// WithDropLateEvents suppresses ViewAdded events whose owner resolution
// completes after the feed that produced them was torn down. The
// default is to emit them.
func WithDropLateEvents() SynchronizerOption {
	return func(s *Synchronizer) {
		s.dropLate = true
	}
}

// WithFeedErrorFunc installs the feed failure callback.
func WithFeedErrorFunc(fn FeedErrorFunc) SynchronizerOption {
	return func(s *Synchronizer) {
		s.onFeedError = fn
	}
}

// Synchronizer consumes live change batches from the public and private
// image feeds, keeps the image index consistent, resolves owners
// through the cache, and emits view events. Batches from one feed are
// processed strictly in delivery order; the two feeds interleave freely
// with each other and with in-flight owner resolutions.
type Synchronizer struct {
	store  domain.RecordStore
	blobs  domain.BlobStore
	owners *OwnerCache
	index  *ImageIndex
	sink   ViewSink

	dropLate    bool
	onFeedError FeedErrorFunc

	mu      sync.Mutex
	session Session
	cancel  context.CancelFunc
	subs    []domain.Subscription

	feedWG    sync.WaitGroup
	resolveWG sync.WaitGroup
}

// NewSynchronizer wires a synchronizer to its collaborators. Call Start
// to begin receiving batches.
func NewSynchronizer(store domain.RecordStore, blobs domain.BlobStore, owners *OwnerCache, index *ImageIndex, sink ViewSink, opts ...SynchronizerOption) *Synchronizer {
	s := &Synchronizer{
		store:  store,
		blobs:  blobs,
		owners: owners,
		index:  index,
		sink:   sink,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start tears down any prior subscriptions, rebuilds the index from
// scratch, and subscribes the public feed plus, for a signed-in
// session, the private feed. Exactly one subscription per feed is
// active at a time.
func (s *Synchronizer) Start(ctx context.Context, sess Session) error {
	s.Stop()
	s.index.Reset()

	runCtx, cancel := context.WithCancel(ctx)

	feeds := []domain.Feed{{Visibility: domain.VisibilityPublic}}
	if sess.User != nil {
		feeds = append(feeds, domain.Feed{Visibility: domain.VisibilityPrivate, Owner: sess.User.UID})
	}

	var subs []domain.Subscription
	for _, feed := range feeds {
		sub, err := s.store.SubscribeImages(runCtx, feed)
		if err != nil {
			for _, opened := range subs {
				opened.Stop()
			}
			cancel()
			return fmt.Errorf("failed to subscribe to %s feed: %w", feed, err)
		}
		subs = append(subs, sub)
	}

	s.mu.Lock()
	s.session = sess
	s.cancel = cancel
	s.subs = subs
	s.mu.Unlock()

	for i, feed := range feeds {
		s.feedWG.Add(1)
		go s.run(runCtx, feed, subs[i])
	}

	log.Info().Int("feeds", len(feeds)).Bool("authenticated", sess.User != nil).Msg("Synchronizer started")
	return nil
}

// Stop cancels delivery of further batches and waits for the feed
// loops to drain. Owner resolutions already in flight are not
// cancelled; whether their ViewAdded events still surface is governed
// by WithDropLateEvents.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	subs := s.subs
	s.cancel = nil
	s.subs = nil
	s.session = Session{}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, sub := range subs {
		sub.Stop()
	}
	s.feedWG.Wait()
}

// Delete removes an image at the current user's request: blob first,
// then document, then the index entry. A blob removal followed by a
// failed document removal leaves an orphaned document; that is surfaced
// as PartialDeleteFailureError and never retried here.
func (s *Synchronizer) Delete(ctx context.Context, key domain.ImageKey) error {
	s.mu.Lock()
	user := s.session.User
	s.mu.Unlock()
	if user == nil {
		return domain.ErrNotAuthenticated
	}

	if err := s.blobs.Delete(ctx, key.BlobPath()); err != nil {
		return fmt.Errorf("failed to delete blob for %s: %w", key, err)
	}

	if err := s.store.DeleteImage(ctx, key); err != nil {
		return &domain.PartialDeleteFailureError{Key: key, BlobRemoved: true, Err: err}
	}

	removed, err := s.index.Remove(key)
	if err != nil {
		return fmt.Errorf("failed to remove %s from index: %w", key, err)
	}
	if removed {
		viewEvents.WithLabelValues("removed").Inc()
		s.sink.ViewRemoved(key)
	}
	return nil
}

func (s *Synchronizer) run(ctx context.Context, feed domain.Feed, sub domain.Subscription) {
	defer s.feedWG.Done()

	for batch := range sub.Changes() {
		s.apply(ctx, feed, batch)
	}

	if err := sub.Err(); err != nil {
		feedErrors.WithLabelValues(string(feed.Visibility)).Inc()
		log.Error().Err(err).Str("feed", feed.String()).Msg("Feed subscription failed")
		if s.onFeedError != nil {
			s.onFeedError(feed, err)
		}
	}
}

// apply processes one change batch. Removals go first so that a
// remove-then-add of the same key within a batch renders in insertion
// order.
func (s *Synchronizer) apply(ctx context.Context, feed domain.Feed, batch domain.ChangeBatch) {
	for _, rec := range batch.Removed {
		if err := rec.Validate(); err != nil {
			s.skipMalformed(feed, err)
			continue
		}
		key := rec.Key()
		removed, err := s.index.Remove(key)
		if err != nil {
			log.Error().Err(err).Str("key", key.String()).Msg("Failed to remove index entry")
			continue
		}
		if removed {
			viewEvents.WithLabelValues("removed").Inc()
			s.sink.ViewRemoved(key)
		}
	}

	upserted := make([]*domain.ImageRecord, 0, len(batch.Added)+len(batch.Modified))
	upserted = append(upserted, batch.Added...)
	upserted = append(upserted, batch.Modified...)

	for _, rec := range upserted {
		if err := rec.Validate(); err != nil {
			s.skipMalformed(feed, err)
			continue
		}
		key := rec.Key()
		isNew, err := s.index.Upsert(rec)
		if err != nil {
			log.Error().Err(err).Str("key", key.String()).Msg("Failed to upsert index entry")
			continue
		}

		if isNew {
			s.resolveWG.Add(1)
			go s.emitAdded(ctx, key, rec)
		} else {
			viewEvents.WithLabelValues("updated").Inc()
			s.sink.ViewUpdated(key, rec)
		}
	}
}

// emitAdded resolves the record's owner and emits ViewAdded. The render
// for a given key always waits for its own resolution; resolution is
// deliberately detached from the feed context so teardown does not
// cancel it.
func (s *Synchronizer) emitAdded(ctx context.Context, key domain.ImageKey, rec *domain.ImageRecord) {
	defer s.resolveWG.Done()

	profile, err := s.owners.Resolve(context.Background(), rec.Owner)
	if err != nil {
		log.Warn().Err(err).Str("key", key.String()).Msg("Owner resolution failed, card not rendered")
		return
	}

	if s.dropLate && ctx.Err() != nil {
		lateEventsDropped.Inc()
		return
	}

	// The key may have been removed while we were resolving; a remove
	// must never be followed by a stale add for the same key.
	current, ok := s.index.Get(key)
	if !ok {
		log.Debug().Str("key", key.String()).Msg("Key removed during owner resolution")
		return
	}

	viewEvents.WithLabelValues("added").Inc()
	s.sink.ViewAdded(key, current, profile)
}

func (s *Synchronizer) skipMalformed(feed domain.Feed, err error) {
	malformedRecords.Inc()
	log.Warn().Err(err).Str("feed", feed.String()).Msg("Skipping malformed record")
}
