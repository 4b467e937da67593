package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/shared"
)

// SheetRepository implements models.Repository[*models.PersistedSheet] and manages sheet contents.
//
// Sheets are soft deleted. Tracks are hard deleted with their sheet. A track appears at most once per sheet;
// adding a track that is already present is ignored.
type SheetRepository struct {
	db *sql.DB
}

// NewSheetRepository creates a new SheetRepository with the given database connection
func NewSheetRepository(db *sql.DB) *SheetRepository {
	return &SheetRepository{db: db}
}

const sheetColumns = `
	s.id, s.sequence, s.title, s.created_at, s.updated_at, s.deleted_at,
	(SELECT COUNT(*) FROM sheet_tracks t WHERE t.sheet_id = s.id)
`

// Create inserts a new sheet with generated ID and sequence
func (r *SheetRepository) Create(ctx context.Context, sheet *models.PersistedSheet) error {
	if sheet.ID() == "" {
		sheet.SetID(shared.GenerateID())
	}

	if err := sheet.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return shared.RetryOnBusy(ctx, func() error {
		return withTx(ctx, r.db, func(tx *sql.Tx) error {
			sequence, err := NextSequence(ctx, tx, "sheets")
			if err != nil {
				return fmt.Errorf("failed to generate sequence: %w", err)
			}
			sheet.SetSequence(sequence)

			query := `
				INSERT INTO sheets (id, sequence, title, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?)
			`
			if _, err := tx.ExecContext(ctx, query, sheet.ID(), sequence, sheet.Title(), sheet.CreatedAt(), sheet.UpdatedAt()); err != nil {
				return fmt.Errorf("failed to insert sheet: %w", err)
			}
			return nil
		})
	})
}

// Get retrieves a sheet by ID, excluding soft-deleted sheets
func (r *SheetRepository) Get(ctx context.Context, id string) (*models.PersistedSheet, error) {
	query := `SELECT ` + sheetColumns + ` FROM sheets s WHERE s.id = ? AND s.deleted_at IS NULL`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// Update writes the sheet title
func (r *SheetRepository) Update(ctx context.Context, sheet *models.PersistedSheet) error {
	if err := sheet.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	sheet.SetUpdatedAt(now)

	query := `
		UPDATE sheets
		SET title = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	return shared.RetryOnBusy(ctx, func() error {
		result, err := r.db.ExecContext(ctx, query, sheet.Title(), now, sheet.ID())
		if err != nil {
			return fmt.Errorf("failed to update sheet: %w", err)
		}
		return expectRow(result, sheet.ID())
	})
}

// Delete soft-deletes a sheet and drops its tracks. The default sheet cannot be deleted.
func (r *SheetRepository) Delete(ctx context.Context, id string) error {
	if id == models.DefaultSheetID {
		return shared.ErrDefaultSheet
	}

	now := time.Now()
	return shared.RetryOnBusy(ctx, func() error {
		return withTx(ctx, r.db, func(tx *sql.Tx) error {
			result, err := tx.ExecContext(ctx, `UPDATE sheets SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, now, id)
			if err != nil {
				return fmt.Errorf("failed to delete sheet: %w", err)
			}
			if err := expectRow(result, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM sheet_tracks WHERE sheet_id = ?`, id); err != nil {
				return fmt.Errorf("failed to delete sheet tracks: %w", err)
			}
			return nil
		})
	})
}

// List retrieves all sheets matching the given criteria in creation order, the default sheet first.
//
// Supported criteria: "title" (exact match).
func (r *SheetRepository) List(ctx context.Context, criteria map[string]any) ([]*models.PersistedSheet, error) {
	query := `SELECT ` + sheetColumns + ` FROM sheets s WHERE s.deleted_at IS NULL`
	args := []any{}

	if title, ok := criteria["title"].(string); ok && title != "" {
		query += " AND s.title = ?"
		args = append(args, title)
	}

	query += " ORDER BY s.sequence ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sheets: %w", err)
	}
	defer rows.Close()

	var sheets []*models.PersistedSheet
	for rows.Next() {
		sheet, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, sheet)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return sheets, nil
}

// Tracks returns the tracks of a sheet in order.
func (r *SheetRepository) Tracks(ctx context.Context, sheetID string) ([]models.Track, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM sheet_tracks WHERE sheet_id = ? ORDER BY position ASC`, sheetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	tracks := []models.Track{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		var track models.Track
		if err := json.Unmarshal([]byte(payload), &track); err != nil {
			return nil, fmt.Errorf("failed to decode track: %w", err)
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}

// AddTracks appends tracks to the end of a sheet, skipping tracks the sheet already contains.
// Returns the number of tracks added.
func (r *SheetRepository) AddTracks(ctx context.Context, sheetID string, tracks []models.Track) (int, error) {
	if _, err := r.Get(ctx, sheetID); err != nil {
		return 0, err
	}

	added := 0
	err := shared.RetryOnBusy(ctx, func() error {
		added = 0
		return withTx(ctx, r.db, func(tx *sql.Tx) error {
			n, err := insertTracks(ctx, tx, sheetID, tracks)
			added = n
			return err
		})
	})
	return added, err
}

// ClearTracks removes every track from a sheet.
func (r *SheetRepository) ClearTracks(ctx context.Context, sheetID string) error {
	if _, err := r.Get(ctx, sheetID); err != nil {
		return err
	}
	return shared.RetryOnBusy(ctx, func() error {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM sheet_tracks WHERE sheet_id = ?`, sheetID); err != nil {
			return fmt.Errorf("failed to clear sheet: %w", err)
		}
		return nil
	})
}

// ReplaceTracks swaps the contents of a sheet for tracks in one transaction.
func (r *SheetRepository) ReplaceTracks(ctx context.Context, sheetID string, tracks []models.Track) error {
	if _, err := r.Get(ctx, sheetID); err != nil {
		return err
	}
	return shared.RetryOnBusy(ctx, func() error {
		return withTx(ctx, r.db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `DELETE FROM sheet_tracks WHERE sheet_id = ?`, sheetID); err != nil {
				return fmt.Errorf("failed to clear sheet: %w", err)
			}
			_, err := insertTracks(ctx, tx, sheetID, tracks)
			return err
		})
	})
}

// ExportAll returns every sheet with its tracks, the default sheet first.
func (r *SheetRepository) ExportAll(ctx context.Context) ([]models.Sheet, error) {
	persisted, err := r.List(ctx, nil)
	if err != nil {
		return nil, err
	}

	sheets := make([]models.Sheet, 0, len(persisted))
	for _, p := range persisted {
		tracks, err := r.Tracks(ctx, p.ID())
		if err != nil {
			return nil, fmt.Errorf("failed to export sheet %s: %w", p.ID(), err)
		}
		sheets = append(sheets, p.Sheet(tracks))
	}
	return sheets, nil
}

func insertTracks(ctx context.Context, tx *sql.Tx, sheetID string, tracks []models.Track) (int, error) {
	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM sheet_tracks WHERE sheet_id = ?`, sheetID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to read sheet position: %w", err)
	}

	query := `
		INSERT OR IGNORE INTO sheet_tracks (sheet_id, position, platform, media_id, title, artist, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	added := 0
	for _, track := range tracks {
		if err := track.Validate(); err != nil {
			return added, fmt.Errorf("validation failed: %w", err)
		}
		payload, err := json.Marshal(track)
		if err != nil {
			return added, fmt.Errorf("failed to encode track: %w", err)
		}
		result, err := tx.ExecContext(ctx, query, sheetID, next, track.Platform(), track.ID(), track.Title, track.Artist, string(payload))
		if err != nil {
			return added, fmt.Errorf("failed to insert track %s: %w", track.Key(), err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			added++
			next++
		}
	}
	return added, nil
}

func expectRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrSheetNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SheetRepository) scan(row rowScanner) (*models.PersistedSheet, error) {
	var (
		id         string
		sequence   int
		title      string
		createdAt  time.Time
		updatedAt  time.Time
		deletedAt  sql.NullTime
		trackCount int
	)

	if err := row.Scan(&id, &sequence, &title, &createdAt, &updatedAt, &deletedAt, &trackCount); err != nil {
		return nil, err
	}

	sheet := models.NewPersistedSheet(sequence, title)
	sheet.SetID(id)
	sheet.SetCreatedAt(createdAt)
	sheet.SetUpdatedAt(updatedAt)
	sheet.SetTrackCount(trackCount)
	if deletedAt.Valid {
		sheet.SetDeletedAt(&deletedAt.Time)
	}
	return sheet, nil
}

// scanOne scans a single row into a [models.PersistedSheet]
func (r *SheetRepository) scanOne(row *sql.Row) (*models.PersistedSheet, error) {
	sheet, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrSheetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sheet: %w", err)
	}
	return sheet, nil
}

// scanRow scans a row from [sql.Rows] into a [models.PersistedSheet]
func (r *SheetRepository) scanRow(rows *sql.Rows) (*models.PersistedSheet, error) {
	sheet, err := r.scan(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sheet: %w", err)
	}
	return sheet, nil
}
