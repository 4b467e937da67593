package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/sheetsync/internal/app"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/desertthunder/sheetsync/internal/tasks"
	tu "github.com/desertthunder/sheetsync/internal/testing"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
)

func testConfig() *shared.Config {
	cfg := shared.DefaultConfig()
	cfg.Database.Path = ":memory:"
	cfg.Download.Path = "/music"
	return cfg
}

type harness struct {
	runner *Runner
	output *bytes.Buffer
	fs     afero.Fs
	store  *tu.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{output: &bytes.Buffer{}, fs: afero.NewMemMapFs(), store: tu.NewMemoryStore()}
	h.runner = NewRunner(RunnerOpts{
		Config:     testConfig(),
		Output:     h.output,
		Fs:         h.fs,
		AppOptions: []app.Option{app.WithStore(h.store)},
	})
	t.Cleanup(func() { h.runner.Close() })
	return h
}

// run executes args against the registered command tree.
func (h *harness) run(args ...string) error {
	root := &cli.Command{
		Name: "sheetsync",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config"},
			&cli.BoolFlag{Name: "verbose"},
		},
		Before:   h.runner.Before,
		Commands: h.runner.register(),
	}
	return root.Run(context.Background(), append([]string{"sheetsync"}, args...))
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			fs := afero.NewMemMapFs()

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "custom.toml",
				Logger:     logger,
				Output:     output,
				Fs:         fs,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.fs != fs {
				t.Error("expected fs to be set")
			}
			if runner.configPath != "custom.toml" {
				t.Errorf("expected configPath custom.toml, got %q", runner.configPath)
			}
		})

		t.Run("with nil dependencies uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stdout {
				t.Error("expected output to default to stdout")
			}
			if _, ok := runner.fs.(*afero.OsFs); !ok {
				t.Errorf("expected OS file system, got %T", runner.fs)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if output.String() != expected {
				t.Errorf("expected %q, got %q", expected, output.String())
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "hello world" {
				t.Errorf("expected 'hello world', got %q", output.String())
			}
		})

		t.Run("writePlainln surrounds the line", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			runner.writePlainln("step %d", 1)
			if output.String() != "\nstep 1\n" {
				t.Errorf("expected surrounded line, got %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		want := []string{"setup", "sheets", "backup", "transfer", "monitor"}
		if len(commands) != len(want) {
			t.Fatalf("expected %d commands, got %d", len(want), len(commands))
		}
		for i, cmd := range commands {
			if cmd == nil || cmd.Name != want[i] {
				t.Errorf("command at index %d: expected %s, got %+v", i, want[i], cmd)
			}
		}
	})
}

func TestBefore(t *testing.T) {
	t.Run("loads the config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		content := "[database]\npath = \":memory:\"\n\n[backup]\nresume_behavior = \"overwrite\"\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		h := newHarness(t)
		if err := h.run("--config", path, "setup", "database"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if h.runner.configPath != path {
			t.Errorf("expected configPath %s, got %s", path, h.runner.configPath)
		}
		if h.runner.config.Backup.ResumeBehavior != "overwrite" {
			t.Errorf("expected resume behavior from file, got %s", h.runner.config.Backup.ResumeBehavior)
		}
		if !strings.Contains(h.output.String(), "Database ready at :memory:") {
			t.Errorf("unexpected output %q", h.output.String())
		}
	})

	t.Run("missing file keeps defaults", func(t *testing.T) {
		h := newHarness(t)
		path := filepath.Join(t.TempDir(), "missing.toml")
		if err := h.run("--config", path, "setup", "database"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if h.runner.config.Backup.ResumeBehavior != "append" {
			t.Errorf("expected default resume behavior, got %s", h.runner.config.Backup.ResumeBehavior)
		}
	})

	t.Run("setup config writes the example", func(t *testing.T) {
		h := newHarness(t)
		path := filepath.Join(t.TempDir(), "nested", "config.toml")
		if err := h.run("--config", path, "setup", "config"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		tu.AssertFileExists(t, path)

		if err := h.run("--config", path, "setup", "config"); err == nil {
			t.Error("expected error when the config already exists")
		}
	})

	t.Run("invalid config fails on open", func(t *testing.T) {
		h := newHarness(t)
		h.runner.config.Backup.ResumeBehavior = "mirror"
		if err := h.run("sheets", "list"); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestFindSheet(t *testing.T) {
	sheets := []models.Sheet{
		{ID: models.DefaultSheetID, Title: "Favorites"},
		{ID: "abc", Title: "Road"},
		{ID: "Road", Title: "Shadow"},
	}

	tests := []struct {
		selector string
		wantID   string
		wantErr  error
	}{
		{"abc", "abc", nil},
		{"Favorites", models.DefaultSheetID, nil},
		{"Road", "Road", nil},
		{"", "", shared.ErrMissingArgument},
		{"nope", "", shared.ErrSheetNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			got, err := findSheet(sheets, tt.selector)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got.ID != tt.wantID {
				t.Errorf("expected %s, got %s", tt.wantID, got.ID)
			}
		})
	}
}

func TestPolicy(t *testing.T) {
	runner := NewRunner(RunnerOpts{Config: testConfig()})

	tests := []struct {
		args    []string
		want    tasks.Policy
		wantErr bool
	}{
		{nil, tasks.PolicyMerge, false},
		{[]string{"--policy", "overwrite"}, tasks.PolicyReplace, false},
		{[]string{"-p", "import"}, tasks.PolicyImport, false},
		{[]string{"--policy", "mirror"}, "", true},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			var got tasks.Policy
			var gotErr error
			cmd := &cli.Command{
				Name:  "test",
				Flags: []cli.Flag{policyFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					got, gotErr = runner.policy(cmd)
					return nil
				},
			}
			if err := cmd.Run(context.Background(), append([]string{"test"}, tt.args...)); err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if tt.wantErr {
				if !errors.Is(gotErr, shared.ErrInvalidFlag) {
					t.Errorf("expected ErrInvalidFlag, got %v", gotErr)
				}
				return
			}
			if gotErr != nil || got != tt.want {
				t.Errorf("expected %s, got %s (%v)", tt.want, got, gotErr)
			}
		})
	}
}

func TestSheetsCommands(t *testing.T) {
	t.Run("create then list", func(t *testing.T) {
		h := newHarness(t)
		if err := h.run("sheets", "create", "Road Trip"); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if !strings.Contains(h.output.String(), `Created sheet "Road Trip"`) {
			t.Errorf("unexpected output %q", h.output.String())
		}

		h.output.Reset()
		if err := h.run("sheets", "list", "--json"); err != nil {
			t.Fatalf("list failed: %v", err)
		}
		var rows []struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Default bool   `json:"default"`
		}
		if err := json.Unmarshal(h.output.Bytes(), &rows); err != nil {
			t.Fatalf("expected JSON rows, got %q: %v", h.output.String(), err)
		}
		var titles []string
		for _, r := range rows {
			titles = append(titles, r.Title)
		}
		if len(rows) != 2 || !rows[0].Default || !strings.Contains(strings.Join(titles, ","), "Road Trip") {
			t.Errorf("expected default sheet plus Road Trip, got %+v", rows)
		}
	})

	t.Run("create requires a title", func(t *testing.T) {
		h := newHarness(t)
		if err := h.run("sheets", "create"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("show unknown sheet", func(t *testing.T) {
		h := newHarness(t)
		if err := h.run("sheets", "show", "nope"); !errors.Is(err, shared.ErrSheetNotFound) {
			t.Errorf("expected ErrSheetNotFound, got %v", err)
		}
	})

	t.Run("import then export", func(t *testing.T) {
		h := newHarness(t)
		snap := models.Snapshot{Sheets: []models.Sheet{{
			ID:    "road",
			Title: "Road",
			Tracks: []models.Track{
				models.NewRemoteTrack("qq", "1", "Song 1", "Artist"),
				models.NewRemoteTrack("qq", "2", "Song 2", "Artist"),
			},
		}}}
		data, err := snap.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if err := afero.WriteFile(h.fs, "/in/backup.json", data, 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}

		if err := h.run("sheets", "import", "/in/backup.json", "--policy", "import"); err != nil {
			t.Fatalf("import failed: %v", err)
		}

		h.output.Reset()
		if err := h.run("sheets", "show", "Road", "--format", "text"); err != nil {
			t.Fatalf("show failed: %v", err)
		}
		if !strings.Contains(h.output.String(), "Tracks: 2") {
			t.Errorf("expected imported tracks, got %q", h.output.String())
		}

		if err := h.run("sheets", "export", "--output", "/out/all.json"); err != nil {
			t.Fatalf("export failed: %v", err)
		}
		out, err := afero.ReadFile(h.fs, "/out/all.json")
		if err != nil {
			t.Fatalf("expected export file: %v", err)
		}
		exported, err := models.ParseSnapshot(out)
		if err != nil {
			t.Fatalf("expected readable snapshot: %v", err)
		}
		if exported.TrackCount() != 2 {
			t.Errorf("expected 2 exported tracks, got %d", exported.TrackCount())
		}

		if err := h.run("sheets", "export", "--format", "csv", "--output", "/out/csv"); err != nil {
			t.Fatalf("bulk export failed: %v", err)
		}
		if ok, _ := afero.Exists(h.fs, "/out/csv/manifest.json"); !ok {
			t.Error("expected manifest written")
		}
	})

	t.Run("import missing path", func(t *testing.T) {
		h := newHarness(t)
		if err := h.run("sheets", "import"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}

func TestBackupCommands(t *testing.T) {
	t.Run("push uploads the snapshot", func(t *testing.T) {
		h := newHarness(t)
		if err := h.run("sheets", "create", "Road"); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if err := h.run("backup", "push"); err != nil {
			t.Fatalf("push failed: %v", err)
		}

		data, ok := h.store.Object(h.runner.config.Backup.SnapshotKey)
		if !ok {
			t.Fatal("expected snapshot in store")
		}
		snap, err := models.ParseSnapshot(data)
		if err != nil || len(snap.Sheets) != 2 {
			t.Errorf("expected 2 sheets pushed, got %v %v", snap, err)
		}
		if !strings.Contains(h.output.String(), "Pushed 2 sheets") {
			t.Errorf("unexpected output %q", h.output.String())
		}
	})

	t.Run("pull without remote snapshot", func(t *testing.T) {
		h := newHarness(t)
		if err := h.run("backup", "pull"); !errors.Is(err, shared.ErrSnapshotNotFound) {
			t.Errorf("expected ErrSnapshotNotFound, got %v", err)
		}
	})

	t.Run("check reports missing media", func(t *testing.T) {
		h := newHarness(t)
		if err := h.run("backup", "check", "--json"); err != nil {
			t.Fatalf("check failed: %v", err)
		}
		var report struct {
			Tracks  int `json:"tracks"`
			Missing []struct {
				Key string `json:"key"`
			} `json:"missing"`
		}
		if err := json.Unmarshal(h.output.Bytes(), &report); err != nil {
			t.Fatalf("expected JSON report, got %q: %v", h.output.String(), err)
		}
		if report.Tracks != 0 || len(report.Missing) != 0 {
			t.Errorf("expected empty report, got %+v", report)
		}
	})

	t.Run("watch requires a path", func(t *testing.T) {
		h := newHarness(t)
		if err := h.run("backup", "watch"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}

func TestTransferCommands(t *testing.T) {
	t.Run("nothing to transfer", func(t *testing.T) {
		h := newHarness(t)
		if err := h.run("transfer", "download"); err != nil {
			t.Fatalf("download failed: %v", err)
		}
		if !strings.Contains(h.output.String(), "Nothing to download") {
			t.Errorf("unexpected output %q", h.output.String())
		}
	})

	t.Run("invalid concurrency", func(t *testing.T) {
		h := newHarness(t)
		if err := h.run("transfer", "upload", "--concurrency", "lots"); !errors.Is(err, shared.ErrInvalidConcurrency) {
			t.Errorf("expected ErrInvalidConcurrency, got %v", err)
		}
	})

	t.Run("unknown sheet", func(t *testing.T) {
		h := newHarness(t)
		if err := h.run("transfer", "download", "--sheet", "nope"); !errors.Is(err, shared.ErrSheetNotFound) {
			t.Errorf("expected ErrSheetNotFound, got %v", err)
		}
	})
}

func TestUniqueTracks(t *testing.T) {
	common := models.NewRemoteTrack("qq", "1", "Song 1", "Artist")
	sheets := []models.Sheet{
		{ID: "a", Tracks: []models.Track{common, models.NewRemoteTrack("qq", "2", "Song 2", "Artist")}},
		{ID: "b", Tracks: []models.Track{common}},
	}

	got := uniqueTracks(sheets)
	if len(got) != 2 || got[0].Key() != common.Key() {
		t.Errorf("expected 2 unique tracks in first-seen order, got %v", got)
	}
}
