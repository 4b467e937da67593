package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sheetsync/internal/events"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/repositories"
	"github.com/desertthunder/sheetsync/internal/services"
	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/desertthunder/sheetsync/internal/tasks"
	"github.com/spf13/afero"
)

// Exporter reads every sheet with its tracks.
type Exporter interface {
	ExportAllWithTracks(ctx context.Context) ([]models.Sheet, error)
}

// StateStore keeps sync bookkeeping between runs.
type StateStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Publisher receives change notifications. [events.Bus] satisfies it.
type Publisher interface {
	Publish(topic string, key models.MediaKey, payload any) error
}

// SheetsChanged is published on [events.TopicSheetsChanged] after a snapshot is applied.
type SheetsChanged struct {
	Source  string       `json:"source"`
	Policy  tasks.Policy `json:"policy"`
	Applied int          `json:"applied"`
}

// Config wires a [Service] to its collaborators.
type Config struct {
	Store       services.ObjectStore
	Engine      *tasks.SheetEngine
	Sheets      Exporter
	State       StateStore
	Fs          afero.Fs
	Publisher   Publisher
	SnapshotKey string
	MediaPrefix string
}

// Service moves snapshots between the sheet store, the backup store and local files.
type Service struct {
	store       services.ObjectStore
	engine      *tasks.SheetEngine
	sheets      Exporter
	state       StateStore
	fs          afero.Fs
	publisher   Publisher
	snapshotKey string
	mediaPrefix string
	logger      *log.Logger

	// applyMu serializes snapshot application between commands and the watcher.
	applyMu sync.Mutex
}

// NewService creates a new backup Service.
func NewService(cfg Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	return &Service{
		store:       cfg.Store,
		engine:      cfg.Engine,
		sheets:      cfg.Sheets,
		state:       cfg.State,
		fs:          cfg.Fs,
		publisher:   cfg.Publisher,
		snapshotKey: cfg.SnapshotKey,
		mediaPrefix: cfg.MediaPrefix,
		logger:      shared.WithLogger(logger, "component", "backup"),
	}
}

func (s *Service) requireStore() error {
	if s.store == nil {
		return fmt.Errorf("%w: no backup store configured", shared.ErrInvalidConfig)
	}
	return nil
}

// Snapshot exports the sheet store.
func (s *Service) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	sheets, err := s.sheets.ExportAllWithTracks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export sheets: %w", err)
	}
	snap := &models.Snapshot{Sheets: sheets}
	data, err := snap.Marshal()
	if err != nil {
		return nil, err
	}
	snap.Hash = shared.ContentHash(data)
	return snap, nil
}

// Push writes a snapshot of every sheet to the backup store.
func (s *Service) Push(ctx context.Context) (*models.Snapshot, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	data, err := snap.Marshal()
	if err != nil {
		return nil, err
	}

	if err := s.store.Put(ctx, s.snapshotKey, data, nil); err != nil {
		return nil, fmt.Errorf("failed to upload snapshot: %w", err)
	}

	// An auto pull skips the snapshot just pushed.
	if hash, err := s.store.ContentHash(ctx, s.snapshotKey); err == nil {
		s.remember(ctx, repositories.StateLastSnapshotHash, hash)
	}
	s.remember(ctx, repositories.StateLastPushHash, snap.Hash)

	s.logger.Info("Pushed snapshot", "store", s.store.Name(), "key", s.snapshotKey, "sheets", len(snap.Sheets), "tracks", snap.TrackCount())
	return snap, nil
}

// Fetch downloads and parses the remote snapshot.
func (s *Service) Fetch(ctx context.Context) (*models.Snapshot, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}

	data, err := s.store.Get(ctx, s.snapshotKey)
	if errors.Is(err, shared.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s on %s", shared.ErrSnapshotNotFound, s.snapshotKey, s.store.Name())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download snapshot: %w", err)
	}

	snap, err := models.ParseSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidSnapshot, err)
	}
	snap.Hash = shared.ContentHash(data)
	return snap, nil
}

// Pull applies the remote snapshot to the sheet store under policy.
func (s *Service) Pull(ctx context.Context, policy tasks.Policy, progress chan<- tasks.ProgressUpdate) (*tasks.ApplyResult, error) {
	snap, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.apply(ctx, snap, policy, s.store.Name(), progress)
	if err != nil {
		return result, err
	}

	if hash, err := s.store.ContentHash(ctx, s.snapshotKey); err == nil {
		s.remember(ctx, repositories.StateLastSnapshotHash, hash)
	}
	return result, nil
}

// AutoPull pulls only when the remote snapshot changed since it was last applied or pushed.
// pulled is false when the snapshot was unchanged.
func (s *Service) AutoPull(ctx context.Context, policy tasks.Policy, progress chan<- tasks.ProgressUpdate) (result *tasks.ApplyResult, pulled bool, err error) {
	if err := s.requireStore(); err != nil {
		return nil, false, err
	}

	hash, err := s.store.ContentHash(ctx, s.snapshotKey)
	if errors.Is(err, shared.ErrObjectNotFound) {
		return nil, false, fmt.Errorf("%w: %s on %s", shared.ErrSnapshotNotFound, s.snapshotKey, s.store.Name())
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to check snapshot: %w", err)
	}

	last, ok, err := s.state.Get(ctx, repositories.StateLastSnapshotHash)
	if err != nil {
		return nil, false, err
	}
	if ok && last == hash {
		s.logger.Debug("Snapshot unchanged", "hash", hash)
		return nil, false, nil
	}

	result, err = s.Pull(ctx, policy, progress)
	return result, err == nil, err
}

// ExportFile writes a snapshot of every sheet to path.
func (s *Service) ExportFile(ctx context.Context, path string) (*models.Snapshot, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	data, err := snap.Marshal()
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(s.fs, path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}

	s.logger.Info("Exported snapshot", "path", path, "sheets", len(snap.Sheets))
	return snap, nil
}

// ReadFile parses the snapshot at path.
func (s *Service) ReadFile(path string) (*models.Snapshot, error) {
	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", shared.ErrSnapshotNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	snap, err := models.ParseSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidSnapshot, err)
	}
	snap.Hash = shared.ContentHash(data)
	return snap, nil
}

// ImportFile applies the snapshot at path to the sheet store under policy.
func (s *Service) ImportFile(ctx context.Context, path string, policy tasks.Policy, progress chan<- tasks.ProgressUpdate) (*tasks.ApplyResult, error) {
	snap, err := s.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, snap, policy, path, progress)
}

func (s *Service) apply(ctx context.Context, snap *models.Snapshot, policy tasks.Policy, source string, progress chan<- tasks.ProgressUpdate) (*tasks.ApplyResult, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	result, err := s.engine.Resume(ctx, snap, policy, progress)
	if result != nil && result.Applied > 0 && s.publisher != nil {
		payload := SheetsChanged{Source: source, Policy: policy, Applied: result.Applied}
		if perr := s.publisher.Publish(events.TopicSheetsChanged, "", payload); perr != nil {
			s.logger.Warn("Failed to publish sheet change", "error", perr)
		}
	}
	if err != nil {
		return result, err
	}

	s.logger.Info("Applied snapshot", "source", source, "policy", policy, "mutations", result.Applied, "hash", snap.Hash)
	return result, nil
}

func (s *Service) remember(ctx context.Context, key, value string) {
	if s.state == nil {
		return
	}
	if err := s.state.Set(ctx, key, value); err != nil {
		s.logger.Warn("Failed to record sync state", "key", key, "error", err)
	}
}

// CheckReport lists tracks whose media is not in the backup store.
type CheckReport struct {
	Tracks  int            // Distinct tracks checked
	Objects int            // Media objects found under the prefix
	Missing []models.Track // In first-seen order
}

// Check compares every sheet track with the media objects under the media prefix.
//
// A track counts as backed up when an object named "<title>-<artist>" exists with any extension.
// Tracks on [models.ObjectStorePlatform] are matched by their object key instead.
func (s *Service) Check(ctx context.Context) (*CheckReport, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}

	objects, err := s.store.List(ctx, s.mediaPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}
	keys := make(map[string]bool, len(objects))
	stems := make(map[string]bool, len(objects))
	for _, o := range objects {
		keys[o.Key] = true
		stems[o.Stem()] = true
	}

	sheets, err := s.sheets.ExportAllWithTracks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export sheets: %w", err)
	}

	report := &CheckReport{Objects: len(objects)}
	seen := make(map[models.MediaKey]bool)
	for _, sheet := range sheets {
		for _, track := range sheet.Tracks {
			if seen[track.Key()] {
				continue
			}
			seen[track.Key()] = true
			report.Tracks++

			var stored bool
			if track.Platform() == models.ObjectStorePlatform {
				stored = keys[track.ID()]
			} else {
				stored = stems[track.FileStem()]
			}
			if !stored {
				report.Missing = append(report.Missing, track)
			}
		}
	}

	s.logger.Info("Checked backup", "tracks", report.Tracks, "objects", report.Objects, "missing", len(report.Missing))
	return report, nil
}
