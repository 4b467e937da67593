// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/services"
	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/spf13/afero"
)

// MemoryStore is an in-memory [services.ObjectStore] that also presigns.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int

	PutErr    error // Returned by Put when set
	ExistsErr error // Returned by Exists when set
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ExistsErr != nil {
		return false, m.ExistsErr
	}
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, shared.ErrObjectNotFound
	}
	return slices.Clone(data), nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, onProgress services.ProgressFunc) error {
	m.mu.Lock()
	m.puts++
	if m.PutErr != nil {
		m.mu.Unlock()
		return m.PutErr
	}
	m.objects[key] = slices.Clone(data)
	m.mu.Unlock()

	if onProgress != nil {
		total := int64(len(data))
		onProgress(total/2, total)
		onProgress(total, total)
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]services.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []services.ObjectInfo
	for key, data := range m.objects {
		if prefix == "" || strings.HasPrefix(key, strings.TrimSuffix(prefix, "/")+"/") {
			out = append(out, services.ObjectInfo{Key: key, Size: int64(len(data)), ETag: shared.ContentHash(data)})
		}
	}
	slices.SortFunc(out, func(a, b services.ObjectInfo) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) ContentHash(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return "", shared.ErrObjectNotFound
	}
	return shared.ContentHash(data), nil
}

func (m *MemoryStore) PresignURL(ctx context.Context, key string) (string, error) {
	return "memory://" + key, nil
}

// Seed stores data under key without counting a Put.
func (m *MemoryStore) Seed(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = slices.Clone(data)
}

// Object returns the data stored under key.
func (m *MemoryStore) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// Puts counts Put calls.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// MemoryDownloads is an in-memory download record store.
type MemoryDownloads struct {
	mu      sync.Mutex
	records map[models.MediaKey]models.DownloadData
}

func NewMemoryDownloads() *MemoryDownloads {
	return &MemoryDownloads{records: make(map[models.MediaKey]models.DownloadData)}
}

func (m *MemoryDownloads) MarkDownloaded(ctx context.Context, track models.Track) error {
	if track.Download == nil || track.Download.Path == "" {
		return shared.ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[track.Key()] = *track.Download
	return nil
}

func (m *MemoryDownloads) IsDownloaded(ctx context.Context, track models.Track) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[track.Key()]
	return ok, nil
}

func (m *MemoryDownloads) Downloaded(ctx context.Context, track models.Track) (*models.DownloadData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[track.Key()]
	if !ok {
		return nil, nil
	}
	return &data, nil
}

func (m *MemoryDownloads) Unmark(ctx context.Context, tracks ...models.Track) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range tracks {
		if _, ok := m.records[t.Key()]; ok {
			delete(m.records, t.Key())
			n++
		}
	}
	return n, nil
}

// Published is one recorded event.
type Published struct {
	Topic   string
	Key     models.MediaKey
	Payload any
}

// Recorder records published events in order.
type Recorder struct {
	mu     sync.Mutex
	events []Published
}

func (r *Recorder) Publish(topic string, key models.MediaKey, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{Topic: topic, Key: key, Payload: payload})
	return nil
}

// Events returns the events published so far, optionally only those for key.
func (r *Recorder) Events(key models.MediaKey) []Published {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Published
	for _, e := range r.events {
		if key == "" || e.Key == key {
			out = append(out, e)
		}
	}
	return out
}

// StubFetcher writes Body to the destination in two chunks.
//
// When Gate is set each Fetch blocks until Gate is closed or the context ends, after
// reporting its destination on Started.
type StubFetcher struct {
	Fs      afero.Fs
	Body    []byte
	Err     error
	Gate    chan struct{}
	Started chan string

	mu      sync.Mutex
	running int
	peak    int
}

func (f *StubFetcher) Fetch(ctx context.Context, src *services.MediaSource, dst string, onProgress services.ProgressFunc) error {
	f.mu.Lock()
	f.running++
	f.peak = max(f.peak, f.running)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if f.Started != nil {
		f.Started <- dst
	}
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.Err != nil {
		return f.Err
	}

	if err := f.Fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	total := int64(len(f.Body))
	if onProgress != nil {
		onProgress(total/2, total)
		onProgress(total, total)
	}
	return afero.WriteFile(f.Fs, dst, f.Body, 0644)
}

// Peak returns the largest number of concurrent Fetch calls seen.
func (f *StubFetcher) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
