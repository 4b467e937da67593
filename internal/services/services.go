// package services defines the remote collaborators of a sync: object stores that hold snapshots and media,
// and resolvers that find a playable source for a track.
package services

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/desertthunder/sheetsync/internal/models"
)

// ProgressFunc receives the bytes transferred so far and the expected total (0 when unknown).
type ProgressFunc func(done, total int64)

// ObjectStore defines the interface for remote key/value blob stores (S3-compatible buckets, WebDAV shares)
// that hold backup snapshots and media files.
type ObjectStore interface {
	// Name returns the store name used in logs and status output.
	Name() string

	// Exists reports whether an object is present at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Get returns the object content. A missing object yields [shared.ErrObjectNotFound].
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data at key, reporting progress through onProgress when non-nil.
	Put(ctx context.Context, key string, data []byte, onProgress ProgressFunc) error

	// List returns the objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error

	// ContentHash returns a string that changes whenever the object content changes.
	ContentHash(ctx context.Context, key string) (string, error)
}

// Presigner issues time-limited URLs for objects.
type Presigner interface {
	PresignURL(ctx context.Context, key string) (string, error)
}

// ObjectInfo describes a listed object.
type ObjectInfo struct {
	Key      string
	Size     int64
	ETag     string
	Modified time.Time
}

// Stem returns the object's base name without extension.
func (o ObjectInfo) Stem() string {
	base := path.Base(o.Key)
	return strings.TrimSuffix(base, path.Ext(base))
}

// MediaObjectKey returns the object key under which a track's media is backed up.
//
// Tracks that already live in the object store keep their id as the key; everything else is stored as
// "<prefix>/<title>-<artist>.mp3".
func MediaObjectKey(prefix string, t models.Track) string {
	if t.Platform() == models.ObjectStorePlatform {
		return t.ID()
	}
	return path.Join(prefix, t.FileStem()+".mp3")
}

// progressReader reports bytes read from r.
type progressReader struct {
	r     io.Reader
	done  int64
	total int64
	fn    ProgressFunc
}

func newProgressReader(r io.Reader, total int64, fn ProgressFunc) io.Reader {
	if fn == nil {
		return r
	}
	return &progressReader{r: r, total: total, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.fn(p.done, p.total)
	}
	return n, err
}
