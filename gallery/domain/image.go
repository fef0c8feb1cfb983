package domain

import (
	"fmt"
	"path"
	"time"
)

// Visibility classifies an image as world-readable or readable only by
// its owner. It is a property of the record, not of the collection the
// record happens to live in.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility converts a wire string into a Visibility.
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(s) {
	case VisibilityPublic:
		return VisibilityPublic, nil
	case VisibilityPrivate:
		return VisibilityPrivate, nil
	}
	return "", &MalformedRecordError{Reason: fmt.Sprintf("unknown visibility %q", s)}
}

// ImageRecord is the document describing one uploaded image.
// A record is immutable once created except for Src, which is set
// exactly once when the upload completes.
type ImageRecord struct {
	Filename    string
	ContentType string
	Visibility  Visibility
	Src         string // empty until the upload completes
	UploadDate  time.Time
	Owner       string
}

// Validate reports whether the record carries everything needed to
// derive its key. Owner is always populated, including for private
// images; visibility is tracked separately.
func (r *ImageRecord) Validate() error {
	if r == nil {
		return &MalformedRecordError{Reason: "nil record"}
	}
	if r.Filename == "" {
		return &MalformedRecordError{Reason: "missing filename"}
	}
	if r.Owner == "" {
		return &MalformedRecordError{Reason: "missing owner"}
	}
	if _, err := ParseVisibility(string(r.Visibility)); err != nil {
		return err
	}
	return nil
}

// Key derives the record's identity. Callers must Validate first; Key
// on an invalid record produces a key that no store will accept.
func (r *ImageRecord) Key() ImageKey {
	return ImageKey{Owner: r.Owner, Visibility: r.Visibility, Filename: r.Filename}
}

// ImageKey is the derived identity of an image: at most one record and
// at most one rendered card exist per key at any time.
type ImageKey struct {
	Owner      string
	Visibility Visibility
	Filename   string
}

func (k ImageKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Owner, k.Visibility, k.Filename)
}

// BlobPath is the object path backing this key in the blob store.
func (k ImageKey) BlobPath() string {
	return path.Join("images", string(k.Visibility), k.Owner, k.Filename)
}

// DocumentID is the document id backing this key within its visibility
// collection. Filenames are only unique per owner, so the owner is part
// of the id.
func (k ImageKey) DocumentID() string {
	return k.Owner + "__" + k.Filename
}

// OwnerProfile is the public profile of an uploading user. It is
// created and updated only by its owner on sign-in and read-only to
// everyone else.
type OwnerProfile struct {
	ID          string
	DisplayName string
	Email       string
	AvatarURL   string
}

// Identity is the currently signed-in user as reported by the auth
// provider.
type Identity struct {
	UID         string
	DisplayName string
	Email       string
	AvatarURL   string
}

// Profile converts an identity into the profile record persisted on
// sign-in.
func (i Identity) Profile() *OwnerProfile {
	return &OwnerProfile{
		ID:          i.UID,
		DisplayName: i.DisplayName,
		Email:       i.Email,
		AvatarURL:   i.AvatarURL,
	}
}
