package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./sheetsync.db" {
			t.Errorf("expected database path ./sheetsync.db, got %s", config.Database.Path)
		}

		if config.Download.Concurrency != 5 {
			t.Errorf("expected download concurrency 5, got %d", config.Download.Concurrency)
		}

		if config.Backup.ResumeBehavior != "append" {
			t.Errorf("expected resume behavior append, got %s", config.Backup.ResumeBehavior)
		}

		if config.Backup.SnapshotKey != "music/backup/MusicFree/PlaylistBackup.json" {
			t.Errorf("unexpected snapshot key %s", config.Backup.SnapshotKey)
		}

		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[download]
path = "/music"
concurrency = 8

[backup]
provider = "webdav"

[backup.webdav]
url = "https://dav.local"
username = "me"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}
		if config.Download.Concurrency != 8 {
			t.Errorf("expected concurrency 8, got %d", config.Download.Concurrency)
		}
		if config.Backup.WebDAV.Username != "me" {
			t.Errorf("expected webdav username me, got %s", config.Backup.WebDAV.Username)
		}
		if config.Backup.ResumeBehavior != "append" {
			t.Errorf("unset keys should keep defaults, got resume behavior %q", config.Backup.ResumeBehavior)
		}
		if err := config.Validate(); err != nil {
			t.Errorf("expected valid config: %v", err)
		}
	})

	t.Run("LoadConfig Missing File", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("LoadConfig Invalid TOML", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[database\npath="), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		if _, err := LoadConfig(configPath); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown provider", func(c *Config) { c.Backup.Provider = "ftp" }, true},
		{"unknown resume behavior", func(c *Config) { c.Backup.ResumeBehavior = "mirror" }, true},
		{"bad quality", func(c *Config) { c.Download.DefaultQuality = "lossless" }, true},
		{"negative concurrency", func(c *Config) { c.Download.Concurrency = -1 }, true},
		{"s3 without bucket", func(c *Config) { c.Backup.S3.Bucket = "" }, true},
		{"s3 without endpoints", func(c *Config) {
			c.Backup.S3.EndpointLocal = ""
			c.Backup.S3.EndpointServer = ""
		}, true},
		{"webdav section ignored for s3", func(c *Config) { c.Backup.WebDAV.URL = "" }, false},
		{"webdav without url", func(c *Config) {
			c.Backup.Provider = "webdav"
			c.Backup.WebDAV.URL = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfigApplyEnv(t *testing.T) {
	t.Run("overrides", func(t *testing.T) {
		t.Setenv(EnvS3AccessKey, "AKIA")
		t.Setenv(EnvDownloadWorkers, "12")

		c := DefaultConfig()
		if err := c.ApplyEnv(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Backup.S3.AccessKey != "AKIA" {
			t.Errorf("expected access key from env, got %s", c.Backup.S3.AccessKey)
		}
		if c.Download.Concurrency != 12 {
			t.Errorf("expected concurrency 12, got %d", c.Download.Concurrency)
		}
	})

	t.Run("bad number", func(t *testing.T) {
		t.Setenv(EnvDownloadWorkers, "many")
		if err := DefaultConfig().ApplyEnv(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestPresignDuration(t *testing.T) {
	if d := (S3Config{PresignTTL: "15m"}).PresignDuration(); d != 15*time.Minute {
		t.Errorf("expected 15m, got %s", d)
	}
	if d := (S3Config{PresignTTL: "soon"}).PresignDuration(); d != time.Hour {
		t.Errorf("expected fallback of 1h, got %s", d)
	}
}
