package transfer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sheetsync/internal/events"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/services"
	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/spf13/afero"
)

// DownloadStore records which tracks have media on disk.
type DownloadStore interface {
	MarkDownloaded(ctx context.Context, track models.Track) error
	IsDownloaded(ctx context.Context, track models.Track) (bool, error)
	Downloaded(ctx context.Context, track models.Track) (*models.DownloadData, error)
	Unmark(ctx context.Context, tracks ...models.Track) (int, error)
}

// Publisher receives transfer events. [events.Bus] satisfies it.
type Publisher interface {
	Publish(topic string, key models.MediaKey, payload any) error
}

// Config wires a [Queue] to its collaborators.
type Config struct {
	Resolver  services.Resolver
	Fetcher   Fetcher
	Store     services.ObjectStore // Upload target; nil disables upload modes
	Downloads DownloadStore
	Publisher Publisher
	Fs        afero.Fs

	Dir         string           // Download directory
	MediaPrefix string           // Object key prefix for uploaded media
	Qualities   []models.Quality // Resolution order, see [models.QualityOrder]
	Concurrency int
}

// Queue runs transfers under a bounded pool.
//
// A key is live from Enqueue until its transfer reaches a terminal state or is cancelled.
// A running transfer checks that its own entry is still live before every step, so
// removing the key is how cancellation reaches it.
type Queue struct {
	resolver  services.Resolver
	fetcher   Fetcher
	store     services.ObjectStore
	downloads DownloadStore
	publisher Publisher
	fs        afero.Fs
	dir       string
	prefix    string
	qualities []models.Quality
	logger    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pubMu orders publishing so no event for a key follows its terminal event.
	pubMu sync.Mutex

	mu      sync.Mutex
	live    map[models.MediaKey]*Status
	pending []*unit
	active  int
	limit   int
	busy    bool
	idle    chan struct{}
	closed  bool
}

// NewQueue creates a Queue. Missing collaborators fall back to an OS file system, an
// [HTTPFetcher] and a publisher that drops events.
func NewQueue(cfg Config, logger *log.Logger) *Queue {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewHTTPFetcher(cfg.Fs, nil)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = discard{}
	}
	if cfg.Resolver == nil {
		cfg.Resolver = services.ChainResolver{}
	}
	if len(cfg.Qualities) == 0 {
		cfg.Qualities = models.QualityOrder(models.QualityStandard, models.FallbackLower)
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	return &Queue{
		resolver:  cfg.Resolver,
		fetcher:   cfg.Fetcher,
		store:     cfg.Store,
		downloads: cfg.Downloads,
		publisher: cfg.Publisher,
		fs:        cfg.Fs,
		dir:       cfg.Dir,
		prefix:    cfg.MediaPrefix,
		qualities: cfg.Qualities,
		logger:    shared.WithLogger(logger, "component", "queue"),
		ctx:       ctx,
		cancel:    cancel,
		live:      make(map[models.MediaKey]*Status),
		limit:     ClampConcurrency(cfg.Concurrency),
		idle:      idle,
	}
}

type discard struct{}

func (discard) Publish(string, models.MediaKey, any) error { return nil }

// Enqueue registers a transfer for every eligible track and returns the accepted keys.
//
// Tracks whose key is already live are skipped. In [ModeDownload] local tracks and tracks
// already downloaded are skipped. In the upload modes a track whose file is already on disk
// only uploads.
func (q *Queue) Enqueue(ctx context.Context, tracks []models.Track, mode Mode) ([]models.MediaKey, error) {
	if mode.uploads() && q.store == nil {
		return nil, fmt.Errorf("%w: no backup store configured for %s", shared.ErrInvalidConfig, mode)
	}

	units := make([]*unit, 0, len(tracks))
	for _, track := range tracks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u, err := q.prepare(ctx, track, mode)
		if err != nil {
			q.logger.Warn("Skipping track", "key", track.Key(), "error", err)
			continue
		}
		if u != nil {
			units = append(units, u)
		}
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: queue is closed", shared.ErrCancelled)
	}

	accepted := make([]models.MediaKey, 0, len(units))
	queued := make([]Event, 0, len(units))
	for _, u := range units {
		if _, ok := q.live[u.key]; ok {
			continue
		}
		u.status = &Status{Track: u.track, State: StateWaiting}
		q.live[u.key] = u.status
		q.pending = append(q.pending, u)
		accepted = append(accepted, u.key)
		queued = append(queued, u.status.event())
	}
	if len(accepted) > 0 {
		q.markBusy()
	}
	q.schedule()
	q.mu.Unlock()

	for _, ev := range queued {
		q.publish(ev)
	}

	q.logger.Debug("Enqueued transfers", "mode", mode, "requested", len(tracks), "accepted", len(accepted))
	return accepted, nil
}

// prepare decides what a track's transfer does. A nil unit means there is nothing to do.
func (q *Queue) prepare(ctx context.Context, track models.Track, mode Mode) (*unit, error) {
	u := &unit{key: track.Key(), track: track}

	if mode == ModeDownload {
		if track.IsLocal() {
			return nil, nil
		}
		downloaded, err := q.downloads.IsDownloaded(ctx, track)
		if err != nil {
			return nil, err
		}
		if downloaded {
			return nil, nil
		}
		u.download = true
		return u, nil
	}

	path, err := q.localFile(ctx, track)
	if err != nil {
		return nil, err
	}
	if path != "" {
		u.upload = true
		u.path = path
		return u, nil
	}
	if mode == ModeUpload || track.IsLocal() {
		return nil, nil
	}
	u.download = true
	u.upload = true
	return u, nil
}

// localFile returns the path of the track's media if it exists on disk.
func (q *Queue) localFile(ctx context.Context, track models.Track) (string, error) {
	var candidates []string
	if track.IsLocal() {
		candidates = append(candidates, track.LocalPath)
	}
	if track.Download != nil {
		candidates = append(candidates, track.Download.Path)
	}
	if !track.IsLocal() {
		data, err := q.downloads.Downloaded(ctx, track)
		if err != nil {
			return "", err
		}
		if data != nil {
			candidates = append(candidates, data.Path)
		}
	}

	for _, path := range candidates {
		if path != "" && isFile(q.fs, path) {
			return path, nil
		}
	}
	return "", nil
}

func isFile(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && !info.IsDir()
}

// destination is where a track's media is downloaded for the given extension.
func (q *Queue) destination(track models.Track, ext string) string {
	return filepath.Join(q.dir, track.FileStem()+"."+ext)
}

// SetConcurrency changes the pool size, clamped to [1, HardCap]. Running transfers are not interrupted.
func (q *Queue) SetConcurrency(n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.limit = ClampConcurrency(n)
	q.schedule()
	return q.limit
}

// Concurrency returns the current pool size.
func (q *Queue) Concurrency() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit
}

// Cancel removes a live key. Its transfer stops at the next checkpoint and publishes nothing further.
func (q *Queue) Cancel(key models.MediaKey) bool {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	q.mu.Lock()
	status, ok := q.live[key]
	if ok {
		delete(q.live, key)
	}
	q.mu.Unlock()

	if !ok {
		return false
	}

	q.publish(cancelled(status))
	q.logger.Info("Transfer cancelled", "key", key)
	return true
}

func cancelled(status *Status) Event {
	ev := status.event()
	ev.State = StateError
	ev.Error = shared.ErrCancelled.Error()
	ev.Kind = "cancelled"
	return ev
}

// Status returns a copy of the live status of key.
func (q *Queue) Status(key models.MediaKey) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, ok := q.live[key]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// Live returns copies of every live status.
func (q *Queue) Live() []Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Status, 0, len(q.live))
	for _, s := range q.live {
		out = append(out, *s)
	}
	return out
}

// Wait blocks until no transfer is pending or running.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every live transfer the way [Queue.Cancel] does and waits for running ones to return.
func (q *Queue) Close() {
	q.pubMu.Lock()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.pubMu.Unlock()
		return
	}
	q.closed = true
	stopped := make([]Event, 0, len(q.live))
	for key, status := range q.live {
		stopped = append(stopped, cancelled(status))
		delete(q.live, key)
	}
	q.pending = nil
	q.checkIdle()
	q.mu.Unlock()

	for _, ev := range stopped {
		q.publish(ev)
	}
	q.pubMu.Unlock()
	if len(stopped) > 0 {
		q.logger.Info("Transfers cancelled on close", "count", len(stopped))
	}

	q.cancel()
	q.wg.Wait()
}

// schedule admits pending units in FIFO order while the pool has room. Callers hold q.mu.
func (q *Queue) schedule() {
	for !q.closed && q.active < q.limit && len(q.pending) > 0 {
		u := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]

		q.active++
		q.wg.Add(1)
		go q.run(u)
	}
	q.checkIdle()
}

func (q *Queue) markBusy() {
	if !q.busy {
		q.busy = true
		q.idle = make(chan struct{})
	}
}

func (q *Queue) checkIdle() {
	if q.busy && q.active == 0 && len(q.pending) == 0 {
		q.busy = false
		close(q.idle)
	}
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.active--
	q.schedule()
	q.mu.Unlock()
	q.wg.Done()
}

// present reports whether u still owns its key.
func (q *Queue) present(u *unit) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.live[u.key] == u.status
}

// drop removes u's entry if it still owns its key.
func (q *Queue) drop(u *unit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.live[u.key] == u.status {
		delete(q.live, u.key)
	}
}

// apply records an update and publishes it, unless the unit no longer owns its key.
func (q *Queue) apply(u *unit, up update) {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	q.mu.Lock()
	if q.live[u.key] != u.status {
		q.mu.Unlock()
		return
	}
	s := u.status
	s.State = up.state
	if up.phase != "" {
		s.Phase = up.phase
	}
	s.Progress = up.progress
	s.Transferred = up.done
	s.Total = up.total
	if s.State.IsTerminal() {
		delete(q.live, u.key)
	}
	ev := s.event()
	q.mu.Unlock()

	ev.Skipped = up.skipped
	if up.err != nil {
		ev.Error = up.err.Error()
		ev.Kind = ErrorKind(up.err)
	}
	q.publish(ev)
}

func (q *Queue) publish(ev Event) {
	if err := q.publisher.Publish(events.TopicTransferStatus, ev.Key, ev); err != nil {
		q.logger.Warn("Failed to publish transfer event", "key", ev.Key, "error", err)
	}
}

