// package models defines the data model for sheet synchronization
package models

import (
	"context"
	"time"
)

const (
	// DefaultSheetID identifies the built-in favorites sheet. It always exists and is never removed.
	DefaultSheetID = "favorite"

	// LocalPlatform is the platform tag written by the desktop player for files that only exist on disk.
	LocalPlatform = "本地"

	// ObjectStorePlatform tags tracks whose media lives in the backup bucket itself.
	ObjectStorePlatform = "oss"
)

// Model defines the base interface for all persistent models.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	UpdatedAt() time.Time // UpdatedAt returns when this model was last updated
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
// Implementations handle database interactions for specific model types.
type Repository[T Model] interface {
	Create(ctx context.Context, model T) error                      // Create inserts a new model into the database
	Get(ctx context.Context, id string) (T, error)                  // Get retrieves a model by its ID
	Update(ctx context.Context, model T) error                      // Update modifies an existing model in the database
	Delete(ctx context.Context, id string) error                    // Delete removes a model from the database by its ID
	List(ctx context.Context, criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}
