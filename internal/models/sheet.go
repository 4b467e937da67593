package models

import (
	"fmt"
	"strings"
	"time"
)

// BackupSuffix is appended to a sheet title to mark local content preserved during a merge.
const BackupSuffix = "_backup"

// Sheet represents an ordered, titled list of tracks.
type Sheet struct {
	ID     string  `json:"id"`
	Title  string  `json:"title,omitempty"`
	Tracks []Track `json:"musicList"`
}

// IsDefault reports whether this is the built-in favorites sheet.
func (s Sheet) IsDefault() bool {
	return s.ID == DefaultSheetID
}

// IsBackup reports whether the sheet title carries the backup suffix.
func (s Sheet) IsBackup() bool {
	return strings.HasSuffix(s.Title, BackupSuffix)
}

// Keys returns the media keys of the sheet's tracks in order.
func (s Sheet) Keys() []MediaKey {
	keys := make([]MediaKey, len(s.Tracks))
	for i, t := range s.Tracks {
		keys[i] = t.Key()
	}
	return keys
}

// PersistedSheet is the database entity behind a [Sheet].
type PersistedSheet struct {
	id         string
	sequence   int
	title      string
	trackCount int
	createdAt  time.Time
	updatedAt  time.Time
	deletedAt  *time.Time
}

// NewPersistedSheet creates a sheet entity with timestamps set to now.
func NewPersistedSheet(sequence int, title string) *PersistedSheet {
	now := time.Now()
	return &PersistedSheet{sequence: sequence, title: title, createdAt: now, updatedAt: now}
}

func (s *PersistedSheet) ID() string            { return s.id }
func (s *PersistedSheet) Sequence() int         { return s.sequence }
func (s *PersistedSheet) Title() string         { return s.title }
func (s *PersistedSheet) TrackCount() int       { return s.trackCount }
func (s *PersistedSheet) CreatedAt() time.Time  { return s.createdAt }
func (s *PersistedSheet) UpdatedAt() time.Time  { return s.updatedAt }
func (s *PersistedSheet) DeletedAt() *time.Time { return s.deletedAt }
func (s *PersistedSheet) IsDefault() bool       { return s.id == DefaultSheetID }

func (s *PersistedSheet) SetID(id string)           { s.id = id }
func (s *PersistedSheet) SetSequence(seq int)       { s.sequence = seq }
func (s *PersistedSheet) SetTitle(title string)     { s.title = title }
func (s *PersistedSheet) SetTrackCount(n int)       { s.trackCount = n }
func (s *PersistedSheet) SetCreatedAt(t time.Time)  { s.createdAt = t }
func (s *PersistedSheet) SetUpdatedAt(t time.Time)  { s.updatedAt = t }
func (s *PersistedSheet) SetDeletedAt(t *time.Time) { s.deletedAt = t }

// Validate checks that the entity can be stored.
func (s *PersistedSheet) Validate() error {
	if s.id == "" {
		return fmt.Errorf("sheet id is required")
	}
	if !s.IsDefault() && strings.TrimSpace(s.title) == "" {
		return fmt.Errorf("sheet title is required")
	}
	return nil
}

// Sheet converts the entity into a DTO carrying the given tracks.
func (s *PersistedSheet) Sheet(tracks []Track) Sheet {
	return Sheet{ID: s.id, Title: s.title, Tracks: tracks}
}
