package transfer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/services"
	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/spf13/afero"
)

// unit is one scheduled transfer.
type unit struct {
	key      models.MediaKey
	track    models.Track
	download bool
	upload   bool
	path     string  // Existing file to upload when download is false
	status   *Status // Live entry owned by this unit
}

type update struct {
	state    State
	phase    Phase
	progress float64
	done     int64
	total    int64
	skipped  bool
	err      error
}

// stream is the progress channel of a running unit. Sends after close are dropped.
type stream struct {
	mu     sync.Mutex
	ch     chan update
	closed bool
}

func (s *stream) send(up update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.ch <- up
	}
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// run executes u and forwards its updates to the bus in order.
func (q *Queue) run(u *unit) {
	defer q.finish()

	s := &stream{ch: make(chan update, 16)}
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for up := range s.ch {
			q.apply(u, up)
		}
	}()

	skipped, err := q.execute(u, s)
	switch {
	case err == nil && !q.present(u):
		q.logger.Debug("Transfer stopped", "key", u.key)
	case err == nil:
		s.send(update{state: StateDone, phase: u.lastPhase(), progress: 1, skipped: skipped})
		q.logger.Info("Transfer finished", "key", u.key, "title", u.track.Title)
	case errors.Is(err, shared.ErrCancelled):
		q.drop(u)
		q.logger.Debug("Transfer stopped", "key", u.key)
	default:
		s.send(update{state: StateError, phase: phaseOf(err, u), err: err})
		q.logger.Error("Transfer failed", "key", u.key, "title", u.track.Title, "error", err)
	}

	s.close()
	<-forwarded
}

func (u *unit) lastPhase() Phase {
	if u.upload {
		return PhaseUpload
	}
	return PhaseDownload
}

func phaseOf(err error, u *unit) Phase {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Phase
	}
	return u.lastPhase()
}

// execute runs the phases of u. skipped reports that the upload found the object already stored.
func (q *Queue) execute(u *unit, s *stream) (skipped bool, err error) {
	if !q.present(u) {
		return false, shared.ErrCancelled
	}

	first := PhaseDownload
	if !u.download {
		first = PhaseUpload
	}
	s.send(update{state: StateDownloading, phase: first})

	path := u.path
	if u.download {
		scale := 1.0
		if u.upload {
			scale = 0.5
		}
		path, err = q.fetch(u, q.progress(s, PhaseDownload, 0, scale))
		if err != nil {
			return false, err
		}
	}

	if !u.upload {
		return false, nil
	}
	if !q.present(u) {
		return false, shared.ErrCancelled
	}

	offset, scale := 0.0, 1.0
	if u.download {
		offset, scale = 0.5, 0.5
		s.send(update{state: StateDownloading, phase: PhaseUpload, progress: offset})
	}

	skipped, err = q.push(u, path, q.progress(s, PhaseUpload, offset, scale))
	if err != nil && u.download && !errors.Is(err, shared.ErrCancelled) {
		err = &TaskError{Key: u.key, Phase: PhaseUpload, Err: fmt.Errorf("%w: %w", shared.ErrUploadAfterDownload, errors.Unwrap(err))}
	}
	return skipped, err
}

// progress returns a byte callback that reports rescaled progress, at most once per percent.
func (q *Queue) progress(s *stream, phase Phase, offset, scale float64) services.ProgressFunc {
	last := -1
	return func(done, total int64) {
		fraction := 0.0
		if total > 0 {
			fraction = float64(done) / float64(total)
		}
		overall := Rescale(fraction, offset, scale)
		pct := int(overall * 100)
		if pct == last && done != total {
			return
		}
		last = pct
		s.send(update{state: StateDownloading, phase: phase, progress: overall, done: done, total: total})
	}
}

// fetch resolves a source over the quality order and downloads it. The first quality with a source wins.
func (q *Queue) fetch(u *unit, onProgress services.ProgressFunc) (string, error) {
	for _, quality := range q.qualities {
		if !q.present(u) {
			return "", shared.ErrCancelled
		}
		if err := q.ctx.Err(); err != nil {
			return "", shared.ErrCancelled
		}

		src, err := q.resolver.Resolve(q.ctx, u.track, quality)
		if err != nil {
			q.logger.Debug("No source at quality", "key", u.key, "quality", quality, "error", err)
			continue
		}
		if src == nil || src.URL == "" {
			continue
		}

		dst := q.destination(u.track, FileExtension(src.URL))
		q.logger.Debug("Downloading", "key", u.key, "quality", quality, "path", dst)

		if err := q.fetcher.Fetch(q.ctx, src, dst, onProgress); err != nil {
			if q.ctx.Err() != nil {
				return "", shared.ErrCancelled
			}
			return "", &TaskError{Key: u.key, Phase: PhaseDownload, Err: transferIO(err)}
		}
		// A cancelled download leaves its file but is never recorded.
		if !q.present(u) {
			return "", shared.ErrCancelled
		}

		data := &models.DownloadData{Path: dst, Quality: quality}
		if err := q.downloads.MarkDownloaded(q.ctx, u.track.WithDownload(data)); err != nil {
			return "", &TaskError{Key: u.key, Phase: PhaseDownload, Err: fmt.Errorf("%w: failed to record download: %v", shared.ErrTransferIO, err)}
		}
		return dst, nil
	}

	return "", &TaskError{Key: u.key, Phase: PhaseDownload, Err: fmt.Errorf("%w for %s", shared.ErrNoPlayableSource, u.key)}
}

// push uploads the file at path unless the object is already stored.
func (q *Queue) push(u *unit, path string, onProgress services.ProgressFunc) (bool, error) {
	objectKey := services.MediaObjectKey(q.prefix, u.track)

	stored, err := q.store.Exists(q.ctx, objectKey)
	if err != nil {
		return false, &TaskError{Key: u.key, Phase: PhaseUpload, Err: transferIO(err)}
	}
	if stored {
		q.logger.Debug("Object already stored", "key", u.key, "object", objectKey)
		return true, nil
	}

	if !q.present(u) {
		return false, shared.ErrCancelled
	}

	data, err := afero.ReadFile(q.fs, path)
	if err != nil {
		return false, &TaskError{Key: u.key, Phase: PhaseUpload, Err: fmt.Errorf("%w: failed to read %s: %v", shared.ErrTransferIO, path, err)}
	}
	if len(data) == 0 {
		return false, &TaskError{Key: u.key, Phase: PhaseUpload, Err: fmt.Errorf("%w: %s is empty", shared.ErrTransferIO, path)}
	}

	if err := q.store.Put(q.ctx, objectKey, data, onProgress); err != nil {
		if q.ctx.Err() != nil {
			return false, shared.ErrCancelled
		}
		return false, &TaskError{Key: u.key, Phase: PhaseUpload, Err: transferIO(err)}
	}
	return false, nil
}

func transferIO(err error) error {
	if errors.Is(err, shared.ErrTransferIO) {
		return err
	}
	return fmt.Errorf("%w: %w", shared.ErrTransferIO, err)
}
