package repositories

import (
	"context"
	"fmt"

	"github.com/desertthunder/sheetsync/internal/models"
)

// SheetStoreAdapter implements tasks.SheetStore using SheetRepository.
//
// Each method is a single repository call; callers sequencing several calls get no atomicity across them.
type SheetStoreAdapter struct {
	repo *SheetRepository
}

// NewSheetStoreAdapter creates a new SheetStoreAdapter with the given repository
func NewSheetStoreAdapter(repo *SheetRepository) *SheetStoreAdapter {
	return &SheetStoreAdapter{repo: repo}
}

// ListSheets returns every sheet without tracks.
func (a *SheetStoreAdapter) ListSheets(ctx context.Context) ([]models.Sheet, error) {
	persisted, err := a.repo.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	sheets := make([]models.Sheet, len(persisted))
	for i, p := range persisted {
		sheets[i] = p.Sheet(nil)
	}
	return sheets, nil
}

// ExportAllWithTracks returns every sheet with its tracks.
func (a *SheetStoreAdapter) ExportAllWithTracks(ctx context.Context) ([]models.Sheet, error) {
	return a.repo.ExportAll(ctx)
}

// CreateSheet creates an empty sheet with the given title.
func (a *SheetStoreAdapter) CreateSheet(ctx context.Context, title string) (models.Sheet, error) {
	sheet := models.NewPersistedSheet(0, title)
	if err := a.repo.Create(ctx, sheet); err != nil {
		return models.Sheet{}, fmt.Errorf("failed to create sheet %q: %w", title, err)
	}
	return sheet.Sheet(nil), nil
}

// UpdateSheet renames a sheet.
func (a *SheetStoreAdapter) UpdateSheet(ctx context.Context, id, title string) error {
	sheet, err := a.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load sheet %s: %w", id, err)
	}
	sheet.SetTitle(title)
	return a.repo.Update(ctx, sheet)
}

// RemoveSheet deletes a sheet. Removing the default sheet fails with [shared.ErrDefaultSheet].
func (a *SheetStoreAdapter) RemoveSheet(ctx context.Context, id string) error {
	return a.repo.Delete(ctx, id)
}

// ClearSheet removes all tracks from a sheet.
func (a *SheetStoreAdapter) ClearSheet(ctx context.Context, id string) error {
	return a.repo.ClearTracks(ctx, id)
}

// AddTracks appends tracks to a sheet.
func (a *SheetStoreAdapter) AddTracks(ctx context.Context, sheetID string, tracks []models.Track) error {
	_, err := a.repo.AddTracks(ctx, sheetID, tracks)
	return err
}

// ReplaceDefaultSheetTracks swaps the default sheet's contents for tracks.
func (a *SheetStoreAdapter) ReplaceDefaultSheetTracks(ctx context.Context, tracks []models.Track) error {
	if err := a.repo.ReplaceTracks(ctx, models.DefaultSheetID, tracks); err != nil {
		return fmt.Errorf("failed to replace %s tracks: %w", models.DefaultSheetID, err)
	}
	return nil
}
