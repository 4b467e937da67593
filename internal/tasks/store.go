package tasks

import (
	"context"

	"github.com/desertthunder/sheetsync/internal/models"
)

// SheetStore is the sheet persistence the engine mutates.
//
// Calls are independent writes. The engine issues them one at a time and never relies on atomicity across them.
type SheetStore interface {
	ListSheets(ctx context.Context) ([]models.Sheet, error)
	ExportAllWithTracks(ctx context.Context) ([]models.Sheet, error)
	CreateSheet(ctx context.Context, title string) (models.Sheet, error)
	UpdateSheet(ctx context.Context, id, title string) error
	RemoveSheet(ctx context.Context, id string) error
	ClearSheet(ctx context.Context, id string) error
	AddTracks(ctx context.Context, sheetID string, tracks []models.Track) error
	ReplaceDefaultSheetTracks(ctx context.Context, tracks []models.Track) error
}
