package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Download DownloadConfig `toml:"download"`
	Backup   BackupConfig   `toml:"backup"`
	Resolver ResolverConfig `toml:"resolver"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" validate:"required"`
	MaxOpenConns int    `toml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `toml:"max_idle_conns" validate:"gte=0"`
}

// DownloadConfig controls where media is written and how transfers are scheduled.
type DownloadConfig struct {
	Path               string `toml:"path" validate:"required"`
	Concurrency        int    `toml:"concurrency" validate:"gte=0"`
	DefaultQuality     string `toml:"default_quality" validate:"omitempty,oneof=low standard high super"`
	WhenQualityMissing string `toml:"when_quality_missing" validate:"omitempty,oneof=lower higher skip"`
}

// BackupConfig selects the remote store and the snapshot layout inside it.
type BackupConfig struct {
	Provider          string       `toml:"provider" validate:"required,oneof=s3 webdav"`
	ResumeBehavior    string       `toml:"resume_behavior" validate:"required,oneof=append overwrite import"`
	SnapshotKey       string       `toml:"snapshot_key" validate:"required"`
	MediaPrefix       string       `toml:"media_prefix"`
	DefaultSheetLabel string       `toml:"default_sheet_label"`
	S3                S3Config     `toml:"s3"`
	WebDAV            WebDAVConfig `toml:"webdav"`
}

// S3Config contains credentials and endpoints for an S3-compatible bucket.
type S3Config struct {
	AccessKey      string `toml:"access_key" validate:"required"`
	SecretKey      string `toml:"secret_key" validate:"required"`
	Bucket         string `toml:"bucket" validate:"required"`
	Region         string `toml:"region"`
	EndpointLocal  string `toml:"endpoint_local" validate:"omitempty,url"`
	EndpointServer string `toml:"endpoint_server" validate:"omitempty,url"`
	ProbeKey       string `toml:"probe_key"`
	PresignTTL     string `toml:"presign_ttl"`
}

// WebDAVConfig contains the WebDAV server location and basic auth credentials.
type WebDAVConfig struct {
	URL          string `toml:"url" validate:"required,url"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	SnapshotPath string `toml:"snapshot_path"`
}

// ResolverConfig configures how media sources are looked up.
type ResolverConfig struct {
	URLTemplate string  `toml:"url_template"`
	RateLimit   float64 `toml:"rate_limit" validate:"gte=0"`
}

// PresignDuration parses PresignTTL, defaulting to one hour.
func (c S3Config) PresignDuration() time.Duration {
	if d, err := time.ParseDuration(c.PresignTTL); err == nil && d > 0 {
		return d
	}
	return time.Hour
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration. Only the section of the selected backup provider is checked.
func (c *Config) Validate() error {
	if err := validate.StructExcept(c, "Backup.S3", "Backup.WebDAV"); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, describeValidation(err))
	}

	var err error
	switch c.Backup.Provider {
	case "s3":
		err = validate.Struct(c.Backup.S3)
		if err == nil && c.Backup.S3.EndpointLocal == "" && c.Backup.S3.EndpointServer == "" {
			return fmt.Errorf("%w: backup.s3 needs endpoint_local or endpoint_server", ErrInvalidConfig)
		}
	case "webdav":
		err = validate.Struct(c.Backup.WebDAV)
	}
	if err != nil {
		return fmt.Errorf("%w: backup.%s: %s", ErrInvalidConfig, c.Backup.Provider, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Environment variables that override secrets and paths in the config file.
const (
	EnvS3AccessKey     = "SHEETSYNC_S3_ACCESS_KEY"
	EnvS3SecretKey     = "SHEETSYNC_S3_SECRET_KEY"
	EnvS3Bucket        = "SHEETSYNC_S3_BUCKET"
	EnvS3Endpoint      = "SHEETSYNC_S3_ENDPOINT"
	EnvWebDAVUsername  = "SHEETSYNC_WEBDAV_USERNAME"
	EnvWebDAVPassword  = "SHEETSYNC_WEBDAV_PASSWORD"
	EnvDownloadPath    = "SHEETSYNC_DOWNLOAD_PATH"
	EnvDownloadWorkers = "SHEETSYNC_DOWNLOAD_CONCURRENCY"
)

// ApplyEnv overrides config values with any SHEETSYNC_* variables present in the environment.
func (c *Config) ApplyEnv() error {
	for env, dst := range map[string]*string{
		EnvS3AccessKey:    &c.Backup.S3.AccessKey,
		EnvS3SecretKey:    &c.Backup.S3.SecretKey,
		EnvS3Bucket:       &c.Backup.S3.Bucket,
		EnvS3Endpoint:     &c.Backup.S3.EndpointServer,
		EnvWebDAVUsername: &c.Backup.WebDAV.Username,
		EnvWebDAVPassword: &c.Backup.WebDAV.Password,
		EnvDownloadPath:   &c.Download.Path,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv(EnvDownloadWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvDownloadWorkers, v)
		}
		c.Download.Concurrency = n
	}
	return nil
}
