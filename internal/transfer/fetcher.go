package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/desertthunder/sheetsync/internal/services"
	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/spf13/afero"
)

// Fetcher streams a media source to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, src *services.MediaSource, dst string, onProgress services.ProgressFunc) error
}

// HTTPFetcher downloads sources over HTTP. Data is written to "<dst>.part" and renamed into place once complete.
type HTTPFetcher struct {
	fs         afero.Fs
	httpClient *http.Client
}

// NewHTTPFetcher creates a new HTTPFetcher writing to fs.
func NewHTTPFetcher(fs afero.Fs, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	return &HTTPFetcher{fs: fs, httpClient: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, src *services.MediaSource, dst string, onProgress services.ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %v", shared.ErrTransferIO, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: source returned %d", shared.ErrTransferIO, resp.StatusCode)
	}

	if err := f.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("%w: failed to create download directory: %v", shared.ErrTransferIO, err)
	}

	tmp := dst + ".part"
	file, err := f.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", shared.ErrTransferIO, tmp, err)
	}

	var w io.Writer = file
	if onProgress != nil {
		w = &countingWriter{w: file, total: resp.ContentLength, fn: onProgress}
	}

	_, copyErr := io.Copy(w, resp.Body)
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		_ = f.fs.Remove(tmp)
		if copyErr == nil {
			copyErr = closeErr
		}
		return fmt.Errorf("%w: failed to write %s: %v", shared.ErrTransferIO, dst, copyErr)
	}

	if err := f.fs.Rename(tmp, dst); err != nil {
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("%w: failed to move %s into place: %v", shared.ErrTransferIO, dst, err)
	}
	return nil
}

type countingWriter struct {
	w     io.Writer
	done  int64
	total int64
	fn    services.ProgressFunc
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.done += int64(n)
		total := c.total
		if total < 0 {
			total = 0
		}
		c.fn(c.done, total)
	}
	return n, err
}

var extPattern = regexp.MustCompile(`.*/.+\.([^./?#]+)`)

// FileExtension guesses the media file extension from a source URL, defaulting to mp3.
func FileExtension(sourceURL string) string {
	m := extPattern.FindStringSubmatch(sourceURL)
	if m == nil {
		return "mp3"
	}
	ext, _, _ := strings.Cut(m[1], "&")
	if ext == "" {
		return "mp3"
	}
	return ext
}
