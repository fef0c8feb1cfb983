package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dfryer1193/photofeed/gallery/domain"
)

const (
	publicCollection  = "images-public"
	privateCollection = "images-private"
	profileCollection = "profiles"
)

var _ domain.RecordStore = (*FirestoreRecordStore)(nil)

// FirestoreRecordStore implements domain.RecordStore on Cloud
// Firestore. Images live in one collection per visibility with the
// owner as a document field; the private feed filters on it. This keeps
// visibility a proper enum instead of a collection named after a user.
type FirestoreRecordStore struct {
	client *firestore.Client
}

// NewFirestoreRecordStore connects to Firestore in the given project.
func NewFirestoreRecordStore(ctx context.Context, projectID string, opts ...option.ClientOption) (*FirestoreRecordStore, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirestoreRecordStore{client: client}, nil
}

// Close releases the underlying client.
func (s *FirestoreRecordStore) Close() error {
	return s.client.Close()
}

// imageDoc is the wire shape of an image record. Field names follow the
// documents the web client wrote.
type imageDoc struct {
	Filename   string    `firestore:"filename"`
	Metadata   string    `firestore:"metadata"`
	Permission string    `firestore:"permission"`
	Src        string    `firestore:"src"`
	UploadDate time.Time `firestore:"uploadDate"`
	Owner      string    `firestore:"owner"`
}

type profileDoc struct {
	DisplayName string `firestore:"displayName"`
	Email       string `firestore:"email"`
	AvatarURL   string `firestore:"avatarURL"`
}

func docFromRecord(rec *domain.ImageRecord) imageDoc {
	return imageDoc{
		Filename:   rec.Filename,
		Metadata:   rec.ContentType,
		Permission: string(rec.Visibility),
		Src:        rec.Src,
		UploadDate: rec.UploadDate,
		Owner:      rec.Owner,
	}
}

func recordFromDoc(doc imageDoc) (*domain.ImageRecord, error) {
	vis, err := domain.ParseVisibility(doc.Permission)
	if err != nil {
		return nil, err
	}
	return &domain.ImageRecord{
		Filename:    doc.Filename,
		ContentType: doc.Metadata,
		Visibility:  vis,
		Src:         doc.Src,
		UploadDate:  doc.UploadDate,
		Owner:       doc.Owner,
	}, nil
}

func collectionFor(vis domain.Visibility) string {
	if vis == domain.VisibilityPrivate {
		return privateCollection
	}
	return publicCollection
}

// SubscribeImages opens a snapshot listener for the feed. The first
// batch carries every matching document as an addition; later batches
// carry only the changes, in commit order.
func (s *FirestoreRecordStore) SubscribeImages(ctx context.Context, feed domain.Feed) (domain.Subscription, error) {
	if feed.Visibility == domain.VisibilityPrivate && feed.Owner == "" {
		return nil, fmt.Errorf("private feed requires an owner")
	}

	query := s.client.Collection(collectionFor(feed.Visibility)).Query
	if feed.Owner != "" {
		query = query.Where("owner", "==", feed.Owner)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &firestoreSubscription{
		ch:     make(chan domain.ChangeBatch),
		cancel: cancel,
		feed:   feed,
	}
	go sub.loop(subCtx, query.Snapshots(subCtx))
	return sub, nil
}

type firestoreSubscription struct {
	ch     chan domain.ChangeBatch
	cancel context.CancelFunc
	feed   domain.Feed

	mu  sync.Mutex
	err error
}

func (s *firestoreSubscription) Changes() <-chan domain.ChangeBatch { return s.ch }

func (s *firestoreSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *firestoreSubscription) Stop() {
	s.cancel()
}

func (s *firestoreSubscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *firestoreSubscription) loop(ctx context.Context, iter *firestore.QuerySnapshotIterator) {
	defer close(s.ch)
	defer iter.Stop()

	first := true
	for {
		qsnap, err := iter.Next()
		if err != nil {
			if status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
				return // clean Stop
			}
			s.setErr(fmt.Errorf("snapshot listener for %s feed failed: %w", s.feed, err))
			return
		}

		batch := s.batchFromSnapshot(qsnap, first)
		first = false
		if len(batch.Added)+len(batch.Modified)+len(batch.Removed) == 0 {
			continue
		}

		select {
		case s.ch <- batch:
		case <-ctx.Done():
			return
		}
	}
}

// batchFromSnapshot converts a query snapshot into a change batch.
// Depending on client version the initial snapshot reports its contents
// either in Changes or only through Documents; handle both.
func (s *firestoreSubscription) batchFromSnapshot(qsnap *firestore.QuerySnapshot, first bool) domain.ChangeBatch {
	var batch domain.ChangeBatch

	if first && len(qsnap.Changes) == 0 {
		for {
			docsnap, err := qsnap.Documents.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				log.Warn().Err(err).Str("feed", s.feed.String()).Msg("Failed to read initial snapshot document")
				break
			}
			if rec := s.decode(docsnap); rec != nil {
				batch.Added = append(batch.Added, rec)
			}
		}
		return batch
	}

	for _, change := range qsnap.Changes {
		rec := s.decode(change.Doc)
		if rec == nil {
			continue
		}
		switch change.Kind {
		case firestore.DocumentAdded:
			batch.Added = append(batch.Added, rec)
		case firestore.DocumentModified:
			batch.Modified = append(batch.Modified, rec)
		case firestore.DocumentRemoved:
			batch.Removed = append(batch.Removed, rec)
		}
	}
	return batch
}

func (s *firestoreSubscription) decode(docsnap *firestore.DocumentSnapshot) *domain.ImageRecord {
	var doc imageDoc
	if err := docsnap.DataTo(&doc); err != nil {
		log.Warn().Err(err).Str("doc", docsnap.Ref.ID).Msg("Skipping undecodable image document")
		return nil
	}
	rec, err := recordFromDoc(doc)
	if err != nil {
		log.Warn().Err(err).Str("doc", docsnap.Ref.ID).Msg("Skipping malformed image document")
		return nil
	}
	return rec
}

// GetProfile fetches one owner profile document.
func (s *FirestoreRecordStore) GetProfile(ctx context.Context, ownerID string) (*domain.OwnerProfile, error) {
	docsnap, err := s.client.Collection(profileCollection).Doc(ownerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("owner %s: %w", ownerID, domain.ErrProfileNotFound)
		}
		return nil, fmt.Errorf("failed to fetch profile %s: %w", ownerID, err)
	}

	var doc profileDoc
	if err := docsnap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", ownerID, err)
	}
	return &domain.OwnerProfile{
		ID:          ownerID,
		DisplayName: doc.DisplayName,
		Email:       doc.Email,
		AvatarURL:   doc.AvatarURL,
	}, nil
}

// PutProfile creates or replaces a profile document.
func (s *FirestoreRecordStore) PutProfile(ctx context.Context, profile *domain.OwnerProfile) error {
	if profile == nil || profile.ID == "" {
		return fmt.Errorf("profile id cannot be empty")
	}
	_, err := s.client.Collection(profileCollection).Doc(profile.ID).Set(ctx, profileDoc{
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
		AvatarURL:   profile.AvatarURL,
	})
	if err != nil {
		return fmt.Errorf("failed to put profile %s: %w", profile.ID, err)
	}
	return nil
}

// PutImage creates or replaces an image document.
func (s *FirestoreRecordStore) PutImage(ctx context.Context, rec *domain.ImageRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	key := rec.Key()
	_, err := s.client.Collection(collectionFor(key.Visibility)).Doc(key.DocumentID()).Set(ctx, docFromRecord(rec))
	if err != nil {
		return fmt.Errorf("failed to put image %s: %w", key, err)
	}
	return nil
}

// DeleteImage removes an image document. Deleting a document that does
// not exist succeeds; notifications may race with manual deletion.
func (s *FirestoreRecordStore) DeleteImage(ctx context.Context, key domain.ImageKey) error {
	_, err := s.client.Collection(collectionFor(key.Visibility)).Doc(key.DocumentID()).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete image %s: %w", key, err)
	}
	return nil
}
