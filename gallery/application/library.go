package application

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/photofeed/gallery/domain"
)

// sniffLen is how much of the stream is buffered for content-type
// detection before the upload begins.
const sniffLen = 3072

// LibraryService handles uploads: the blob is written first, and the
// image document is created only once the upload has completed, with
// src set exactly once.
type LibraryService struct {
	records domain.RecordStore
	blobs   domain.BlobStore
}

// NewLibraryService creates a LibraryService on the given stores.
func NewLibraryService(records domain.RecordStore, blobs domain.BlobStore) *LibraryService {
	return &LibraryService{
		records: records,
		blobs:   blobs,
	}
}

// Upload stores an image for user with the given visibility and returns
// the created record. When contentType is empty it is sniffed from the
// stream. size may be -1 when unknown.
func (s *LibraryService) Upload(ctx context.Context, user *domain.Identity, filename string, r io.Reader, size int64, contentType string, visibility domain.Visibility) (*domain.ImageRecord, error) {
	if user == nil {
		return nil, domain.ErrNotAuthenticated
	}

	if contentType == "" {
		hdr := make([]byte, sniffLen)
		n, err := io.ReadFull(r, hdr)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("failed to read upload: %w", err)
		}
		contentType = mimetype.Detect(hdr[:n]).String()
		r = io.MultiReader(bytes.NewReader(hdr[:n]), r)
	}

	rec := &domain.ImageRecord{
		Filename:    filename,
		ContentType: contentType,
		Visibility:  visibility,
		UploadDate:  time.Now(),
		Owner:       user.UID,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	key := rec.Key()

	url, err := s.blobs.Put(ctx, key.BlobPath(), r, size, contentType, logProgress(key))
	if err != nil {
		return nil, fmt.Errorf("failed to upload blob for %s: %w", key, err)
	}

	rec.Src = url
	if err := s.records.PutImage(ctx, rec); err != nil {
		// The blob is now orphaned; surface it rather than guessing at
		// cleanup here.
		return nil, fmt.Errorf("failed to save record for %s (blob uploaded to %s): %w", key, url, err)
	}

	log.Debug().Str("key", key.String()).Str("url", url).Msg("Upload successful")
	return rec, nil
}

func logProgress(key domain.ImageKey) domain.ProgressFunc {
	return func(written, total int64) {
		if total > 0 {
			log.Debug().Str("key", key.String()).Int64("written", written).Int64("total", total).
				Msgf("Upload progress: %d%%", written*100/total)
		}
	}
}
