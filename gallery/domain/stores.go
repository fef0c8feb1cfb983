package domain

import (
	"context"
	"io"
)

// Feed identifies one live subscription to image records: the public
// collection, or the private collection filtered to one owner.
type Feed struct {
	Visibility Visibility
	Owner      string // required for private feeds, empty for public
}

func (f Feed) String() string {
	if f.Owner == "" {
		return string(f.Visibility)
	}
	return string(f.Visibility) + ":" + f.Owner
}

// ChangeBatch is an atomic group of record changes delivered by the
// record store in commit order.
type ChangeBatch struct {
	Added    []*ImageRecord
	Modified []*ImageRecord
	Removed  []*ImageRecord
}

// Subscription is one live feed. Changes is closed when the feed ends;
// Err reports why, and is nil after a clean Stop. A feed is restartable
// by subscribing again.
type Subscription interface {
	Changes() <-chan ChangeBatch
	Err() error
	Stop()
}

// RecordStore is the document database the gallery is built on.
type RecordStore interface {
	// SubscribeImages opens a live feed of image record changes. The
	// first batch contains every record currently matching the feed as
	// additions.
	SubscribeImages(ctx context.Context, feed Feed) (Subscription, error)

	// GetProfile fetches one owner profile. Returns ErrProfileNotFound
	// when no document exists.
	GetProfile(ctx context.Context, ownerID string) (*OwnerProfile, error)

	// PutProfile creates or replaces the owner's profile document.
	PutProfile(ctx context.Context, profile *OwnerProfile) error

	PutImage(ctx context.Context, rec *ImageRecord) error
	DeleteImage(ctx context.Context, key ImageKey) error
}

// ProgressFunc observes upload progress. total is -1 when the size is
// unknown.
type ProgressFunc func(written, total int64)

// BlobStore holds the image binaries.
type BlobStore interface {
	// Put streams a blob to the store and returns its public URL.
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress ProgressFunc) (string, error)

	// Delete removes a blob. Deleting a blob that does not exist is not
	// an error; the caller is reconciling state either way.
	Delete(ctx context.Context, path string) error
}

// AuthProvider exposes the current identity and a change stream. A nil
// identity on the stream means the user signed out.
type AuthProvider interface {
	Current() (*Identity, bool)
	Changes() <-chan *Identity
}
