package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/shared"
)

// DownloadRepository tracks which media already exists on disk.
//
// Rows are keyed by platform and id, so a track downloaded once counts as downloaded in every sheet.
type DownloadRepository struct {
	db *sql.DB
}

// NewDownloadRepository creates a new DownloadRepository with the given database connection
func NewDownloadRepository(db *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: db}
}

// MarkDownloaded records the track's download data, replacing any previous record.
func (r *DownloadRepository) MarkDownloaded(ctx context.Context, track models.Track) error {
	if track.Download == nil || track.Download.Path == "" {
		return fmt.Errorf("%w: track %s has no download path", shared.ErrInvalidInput, track.Key())
	}
	if err := track.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	payload, err := json.Marshal(track)
	if err != nil {
		return fmt.Errorf("failed to encode track: %w", err)
	}

	query := `
		INSERT INTO downloads (platform, media_id, path, quality, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (platform, media_id) DO UPDATE SET
			path = excluded.path,
			quality = excluded.quality,
			payload = excluded.payload
	`

	return shared.RetryOnBusy(ctx, func() error {
		if _, err := r.db.ExecContext(ctx, query, track.Platform(), track.ID(), track.Download.Path, string(track.Download.Quality), string(payload)); err != nil {
			return fmt.Errorf("failed to record download: %w", err)
		}
		return nil
	})
}

// IsDownloaded reports whether the track has a download record.
func (r *DownloadRepository) IsDownloaded(ctx context.Context, track models.Track) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM downloads WHERE platform = ? AND media_id = ?)`,
		track.Platform(), track.ID(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check download: %w", err)
	}
	return exists, nil
}

// Downloaded returns the stored download data for the track, or nil when it has none.
func (r *DownloadRepository) Downloaded(ctx context.Context, track models.Track) (*models.DownloadData, error) {
	var data models.DownloadData
	var quality string
	err := r.db.QueryRowContext(ctx,
		`SELECT path, quality FROM downloads WHERE platform = ? AND media_id = ?`,
		track.Platform(), track.ID(),
	).Scan(&data.Path, &quality)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read download: %w", err)
	}
	data.Quality = models.Quality(quality)
	return &data, nil
}

// Unmark removes the download records of the given tracks. The files themselves are left alone.
func (r *DownloadRepository) Unmark(ctx context.Context, tracks ...models.Track) (int, error) {
	removed := 0
	err := shared.RetryOnBusy(ctx, func() error {
		removed = 0
		return withTx(ctx, r.db, func(tx *sql.Tx) error {
			for _, track := range tracks {
				result, err := tx.ExecContext(ctx, `DELETE FROM downloads WHERE platform = ? AND media_id = ?`, track.Platform(), track.ID())
				if err != nil {
					return fmt.Errorf("failed to remove download %s: %w", track.Key(), err)
				}
				n, _ := result.RowsAffected()
				removed += int(n)
			}
			return nil
		})
	})
	return removed, err
}

// List returns every downloaded track with its download data.
func (r *DownloadRepository) List(ctx context.Context) ([]models.Track, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM downloads ORDER BY created_at ASC, platform, media_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		var track models.Track
		if err := json.Unmarshal([]byte(payload), &track); err != nil {
			return nil, fmt.Errorf("failed to decode download: %w", err)
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}
