package transfer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/spf13/afero"
)

// Linker associates files already in the download directory with tracks.
type Linker struct {
	fs        afero.Fs
	downloads DownloadStore
	dir       string
	quality   models.Quality
	logger    *log.Logger
}

// NewLinker creates a new Linker. Linked files are recorded at quality.
func NewLinker(fs afero.Fs, downloads DownloadStore, dir string, quality models.Quality, logger *log.Logger) *Linker {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Linker{
		fs:        fs,
		downloads: downloads,
		dir:       dir,
		quality:   quality,
		logger:    shared.WithLogger(logger, "component", "linker"),
	}
}

// LinkLocal records path as the download of track. It reports false when path is not a regular file.
func (l *Linker) LinkLocal(ctx context.Context, track models.Track, path string, quality models.Quality) (bool, error) {
	if !isFile(l.fs, path) {
		return false, nil
	}
	if quality == "" {
		quality = l.quality
	}
	data := &models.DownloadData{Path: path, Quality: quality}
	if err := l.downloads.MarkDownloaded(ctx, track.WithDownload(data)); err != nil {
		return false, fmt.Errorf("failed to link %s: %w", track.Key(), err)
	}
	return true, nil
}

// LinkAll links every remote track of sheets to "<dir>/<title>-<artist>.mp3" when that file exists.
func (l *Linker) LinkAll(ctx context.Context, sheets []models.Sheet) (linked, total int, err error) {
	for _, sheet := range sheets {
		for _, track := range sheet.Tracks {
			if track.IsLocal() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return linked, total, err
			}
			total++

			ok, err := l.LinkLocal(ctx, track, filepath.Join(l.dir, track.FileStem()+".mp3"), l.quality)
			if err != nil {
				return linked, total, err
			}
			if ok {
				linked++
			}
		}
	}

	l.logger.Info("Linked local files", "linked", linked, "tracks", total)
	return linked, total, nil
}

// UnlinkAll clears the download records of every track in sheets. Files stay on disk.
func (l *Linker) UnlinkAll(ctx context.Context, sheets []models.Sheet) (int, error) {
	var tracks []models.Track
	for _, sheet := range sheets {
		tracks = append(tracks, sheet.Tracks...)
	}
	if len(tracks) == 0 {
		return 0, nil
	}

	n, err := l.downloads.Unmark(ctx, tracks...)
	if err != nil {
		return 0, fmt.Errorf("failed to unlink downloads: %w", err)
	}
	l.logger.Info("Unlinked downloads", "removed", n)
	return n, nil
}
