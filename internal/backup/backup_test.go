package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/desertthunder/sheetsync/internal/events"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/repositories"
	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/desertthunder/sheetsync/internal/tasks"
	tu "github.com/desertthunder/sheetsync/internal/testing"
	"github.com/spf13/afero"
)

const snapshotKey = "music/backup/MusicFree/PlaylistBackup.json"

type fixture struct {
	service *Service
	store   *tu.MemoryStore
	sheets  *repositories.SheetStoreAdapter
	state   *repositories.StateRepository
	rec     *tu.Recorder
	fs      afero.Fs
}

func newFixture(t *testing.T, fs afero.Fs) *fixture {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	shared.ConfigureDatabase(db, 1, 1)
	t.Cleanup(func() { db.Close() })
	if _, err := shared.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	f := &fixture{
		store:  tu.NewMemoryStore(),
		sheets: repositories.NewSheetStoreAdapter(repositories.NewSheetRepository(db)),
		state:  repositories.NewStateRepository(db),
		rec:    &tu.Recorder{},
		fs:     fs,
	}
	f.service = NewService(Config{
		Store:       f.store,
		Engine:      tasks.NewSheetEngine(f.sheets, "Favorites", nil),
		Sheets:      f.sheets,
		State:       f.state,
		Fs:          fs,
		Publisher:   f.rec,
		SnapshotKey: snapshotKey,
		MediaPrefix: "data/320k",
	}, nil)
	return f
}

func (f *fixture) addSheet(t *testing.T, title string, tracks ...models.Track) string {
	t.Helper()
	ctx := context.Background()
	sheet, err := f.sheets.CreateSheet(ctx, title)
	if err != nil {
		t.Fatalf("CreateSheet: %v", err)
	}
	if err := f.sheets.AddTracks(ctx, sheet.ID, tracks); err != nil {
		t.Fatalf("AddTracks: %v", err)
	}
	return sheet.ID
}

func (f *fixture) titles(t *testing.T) map[string][]models.MediaKey {
	t.Helper()
	sheets, err := f.sheets.ExportAllWithTracks(context.Background())
	if err != nil {
		t.Fatalf("ExportAllWithTracks: %v", err)
	}
	out := make(map[string][]models.MediaKey)
	for _, s := range sheets {
		out[s.Title] = s.Keys()
	}
	return out
}

func remoteSnapshot(t *testing.T, sheets ...models.Sheet) []byte {
	t.Helper()
	data, err := (&models.Snapshot{Sheets: sheets}).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data
}

func song(id string) models.Track {
	return models.NewRemoteTrack("qq", id, "Song "+id, "Artist")
}

func TestPushAndPull(t *testing.T) {
	ctx := context.Background()

	t.Run("push writes every sheet", func(t *testing.T) {
		f := newFixture(t, nil)
		f.addSheet(t, "Road", song("1"), song("2"))

		snap, err := f.service.Push(ctx)
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		data, ok := f.store.Object(snapshotKey)
		if !ok {
			t.Fatal("expected snapshot uploaded")
		}
		parsed, err := models.ParseSnapshot(data)
		if err != nil {
			t.Fatalf("ParseSnapshot: %v", err)
		}
		if len(parsed.Sheets) != len(snap.Sheets) || parsed.TrackCount() != 2 {
			t.Errorf("unexpected uploaded snapshot %+v", parsed)
		}
		if v, ok, _ := f.state.Get(ctx, repositories.StateLastPushHash); !ok || v != snap.Hash {
			t.Errorf("expected push hash recorded, got %q %v", v, ok)
		}
	})

	t.Run("pull merges and backs up leftovers", func(t *testing.T) {
		f := newFixture(t, nil)
		f.addSheet(t, "Road", song("1"), song("2"), song("3"))
		f.store.Seed(snapshotKey, remoteSnapshot(t, models.Sheet{ID: "r1", Title: "Road", Tracks: []models.Track{song("3"), song("1"), song("9")}}))

		result, err := f.service.Pull(ctx, tasks.PolicyMerge, nil)
		if err != nil {
			t.Fatalf("Pull: %v", err)
		}
		if result.Applied == 0 {
			t.Error("expected mutations applied")
		}

		got := f.titles(t)
		want := []models.MediaKey{song("3").Key(), song("1").Key(), song("9").Key()}
		if len(got["Road"]) != 3 || got["Road"][0] != want[0] || got["Road"][2] != want[2] {
			t.Errorf("expected remote order %v, got %v", want, got["Road"])
		}
		if len(got["Road_backup"]) != 1 || got["Road_backup"][0] != song("2").Key() {
			t.Errorf("expected leftover in backup sheet, got %v", got["Road_backup"])
		}

		evs := f.rec.Events("")
		if len(evs) != 1 || evs[0].Topic != events.TopicSheetsChanged {
			t.Errorf("expected one sheets.changed event, got %+v", evs)
		}
	})

	t.Run("missing snapshot", func(t *testing.T) {
		f := newFixture(t, nil)
		if _, err := f.service.Pull(ctx, tasks.PolicyMerge, nil); !errors.Is(err, shared.ErrSnapshotNotFound) {
			t.Errorf("expected ErrSnapshotNotFound, got %v", err)
		}
	})

	t.Run("invalid snapshot", func(t *testing.T) {
		f := newFixture(t, nil)
		f.store.Seed(snapshotKey, []byte(`{"sheets":[]}`))
		if _, err := f.service.Pull(ctx, tasks.PolicyMerge, nil); !errors.Is(err, shared.ErrInvalidSnapshot) {
			t.Errorf("expected ErrInvalidSnapshot, got %v", err)
		}
	})

	t.Run("no store configured", func(t *testing.T) {
		f := newFixture(t, nil)
		f.service.store = nil
		if _, err := f.service.Push(ctx); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestAutoPull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.store.Seed(snapshotKey, remoteSnapshot(t, models.Sheet{ID: "r1", Title: "Road", Tracks: []models.Track{song("1")}}))

	_, pulled, err := f.service.AutoPull(ctx, tasks.PolicyMerge, nil)
	if err != nil || !pulled {
		t.Fatalf("expected first auto pull to apply, got %v %v", pulled, err)
	}

	_, pulled, err = f.service.AutoPull(ctx, tasks.PolicyMerge, nil)
	if err != nil || pulled {
		t.Errorf("expected unchanged snapshot skipped, got %v %v", pulled, err)
	}

	f.store.Seed(snapshotKey, remoteSnapshot(t, models.Sheet{ID: "r1", Title: "Road", Tracks: []models.Track{song("1"), song("2")}}))
	_, pulled, err = f.service.AutoPull(ctx, tasks.PolicyMerge, nil)
	if err != nil || !pulled {
		t.Errorf("expected changed snapshot applied, got %v %v", pulled, err)
	}
	if got := f.titles(t)["Road"]; len(got) != 2 {
		t.Errorf("expected 2 tracks after second pull, got %v", got)
	}

	if _, err := f.service.Push(ctx); err != nil {
		t.Fatalf("Push: %v", err)
	}
	_, pulled, err = f.service.AutoPull(ctx, tasks.PolicyMerge, nil)
	if err != nil || pulled {
		t.Errorf("expected own push skipped, got %v %v", pulled, err)
	}
}

func TestFiles(t *testing.T) {
	ctx := context.Background()

	t.Run("export then import into another store", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		src := newFixture(t, fs)
		src.addSheet(t, "Road", song("1"), song("2"))

		if _, err := src.service.ExportFile(ctx, "/backups/MusicFreeBackup.json"); err != nil {
			t.Fatalf("ExportFile: %v", err)
		}

		dst := newFixture(t, fs)
		result, err := dst.service.ImportFile(ctx, "/backups/MusicFreeBackup.json", tasks.PolicyImport, nil)
		if err != nil {
			t.Fatalf("ImportFile: %v", err)
		}
		if result.Applied == 0 {
			t.Error("expected import to apply mutations")
		}
		if got := dst.titles(t)["Road"]; len(got) != 2 {
			t.Errorf("expected imported sheet with 2 tracks, got %v", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		f := newFixture(t, nil)
		if _, err := f.service.ImportFile(ctx, "/nope.json", tasks.PolicyMerge, nil); !errors.Is(err, shared.ErrSnapshotNotFound) {
			t.Errorf("expected ErrSnapshotNotFound, got %v", err)
		}
	})
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	stored := models.NewRemoteTrack(models.ObjectStorePlatform, "data/320k/x.flac", "X", "Y")
	f.addSheet(t, "Road", song("1"), song("2"), stored)
	f.addSheet(t, "Again", song("1"))

	f.store.Seed("data/320k/Song 1-Artist.flac", []byte("a"))
	f.store.Seed("data/320k/x.flac", []byte("b"))

	report, err := f.service.Check(ctx)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.Tracks != 3 {
		t.Errorf("expected 3 distinct tracks, got %d", report.Tracks)
	}
	if report.Objects != 2 {
		t.Errorf("expected 2 objects, got %d", report.Objects)
	}
	if len(report.Missing) != 1 || report.Missing[0].Key() != song("2").Key() {
		t.Errorf("expected only song 2 missing, got %v", report.Missing)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "MusicFreeBackup.json")
	f := newFixture(t, afero.NewOsFs())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan error, 4)
	done := make(chan error, 1)
	go func() {
		done <- f.service.Watch(ctx, path, tasks.PolicyMerge, 20*time.Millisecond, func(_ *tasks.ApplyResult, err error) {
			applied <- err
		})
	}()

	data := remoteSnapshot(t, models.Sheet{ID: "r1", Title: "Road", Tracks: []models.Track{song("1")}})
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	// The watcher may not be registered yet, so keep writing until an import is seen.
wait:
	for {
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		select {
		case err := <-applied:
			if err != nil {
				t.Fatalf("import failed: %v", err)
			}
			break wait
		case <-tick.C:
		case <-deadline:
			t.Fatal("watcher never imported the snapshot")
		}
	}

	if got := f.titles(t)["Road"]; len(got) != 1 {
		t.Errorf("expected watched snapshot applied, got %v", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
