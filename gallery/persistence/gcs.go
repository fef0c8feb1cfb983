package persistence

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/dfryer1193/photofeed/gallery/domain"
)

var _ domain.BlobStore = (*GCSBlobStore)(nil)

// GCSBlobStore implements domain.BlobStore on a Cloud Storage bucket.
type GCSBlobStore struct {
	client     *storage.Client
	bucket     *storage.BucketHandle
	bucketName string
}

// NewGCSBlobStore connects to the given bucket.
func NewGCSBlobStore(ctx context.Context, bucketName string, opts ...option.ClientOption) (*GCSBlobStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSBlobStore{
		client:     client,
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
	}, nil
}

// Close releases the underlying client.
func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}

// Put streams a blob to the bucket and returns its public URL. The
// object only becomes visible once the writer is closed, so a failed
// upload leaves no partial object behind.
func (s *GCSBlobStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress domain.ProgressFunc) (string, error) {
	w := s.bucket.Object(path).NewWriter(ctx)
	w.ContentType = contentType

	src := r
	if progress != nil {
		src = &progressReader{r: r, total: size, progress: progress}
	}

	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload of %s: %w", path, err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, path), nil
}

// Delete removes a blob. An already-absent object is treated as
// deleted; the caller is reconciling state either way.
func (s *GCSBlobStore) Delete(ctx context.Context, path string) error {
	err := s.bucket.Object(path).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// progressReader reports cumulative bytes read to a ProgressFunc.
type progressReader struct {
	r        io.Reader
	written  int64
	total    int64
	progress domain.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.written += int64(n)
		p.progress(p.written, p.total)
	}
	return n, err
}
