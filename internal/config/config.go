// Package config loads the recite process configuration: an optional YAML
// file, then RECITE_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/quranicquest/recitation/internal/storage"
	"github.com/quranicquest/recitation/pkg/logger"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

type S3 struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	UsePathStyle    bool   `yaml:"use_path_style,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	SessionToken    string `yaml:"session_token,omitempty"`
}

type Storage struct {
	Backend   string `yaml:"backend"`
	LocalRoot string `yaml:"local_root,omitempty"`
	S3        S3     `yaml:"s3,omitempty"`
}

type Config struct {
	Storage       Storage `yaml:"storage"`
	ManifestPath  string  `yaml:"manifest_path"`
	TempDir       string  `yaml:"temp_dir"`
	FFmpegBin     string  `yaml:"ffmpeg_bin"`
	FFprobeBin    string  `yaml:"ffprobe_bin"`
	TargetDBFS    float64 `yaml:"target_dbfs"`
	TopDB         float64 `yaml:"top_db"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	LogLevel      string  `yaml:"log_level"`
}

// Default keeps audio under ./data on local disk, normalizes to -3 dBFS and
// trims at 20 dB.
func Default() Config {
	return Config{
		Storage: Storage{
			Backend:   BackendLocal,
			LocalRoot: "data",
		},
		ManifestPath:  storage.DefaultManifestFile,
		TempDir:       os.TempDir(),
		FFmpegBin:     "ffmpeg",
		FFprobeBin:    "ffprobe",
		TargetDBFS:    -3,
		TopDB:         20,
		MaxConcurrent: runtime.NumCPU(),
		LogLevel:      "info",
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) applyEnv() error {
	c.Storage.Backend = getEnvOrDefault("RECITE_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.LocalRoot = getEnvOrDefault("RECITE_LOCAL_ROOT", c.Storage.LocalRoot)
	c.Storage.S3.Bucket = getEnvOrDefault("RECITE_S3_BUCKET", c.Storage.S3.Bucket)
	c.Storage.S3.Prefix = getEnvOrDefault("RECITE_S3_PREFIX", c.Storage.S3.Prefix)
	c.Storage.S3.Region = getEnvOrDefault("RECITE_S3_REGION", getEnvOrDefault("AWS_REGION", c.Storage.S3.Region))
	c.Storage.S3.Endpoint = getEnvOrDefault("RECITE_S3_ENDPOINT", c.Storage.S3.Endpoint)
	c.Storage.S3.AccessKeyID = getEnvOrDefault("AWS_ACCESS_KEY_ID", c.Storage.S3.AccessKeyID)
	c.Storage.S3.SecretAccessKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", c.Storage.S3.SecretAccessKey)
	c.Storage.S3.SessionToken = getEnvOrDefault("AWS_SESSION_TOKEN", c.Storage.S3.SessionToken)
	c.ManifestPath = getEnvOrDefault("RECITE_MANIFEST_PATH", c.ManifestPath)
	c.TempDir = getEnvOrDefault("RECITE_TEMP_DIR", c.TempDir)
	c.FFmpegBin = getEnvOrDefault("RECITE_FFMPEG", c.FFmpegBin)
	c.FFprobeBin = getEnvOrDefault("RECITE_FFPROBE", c.FFprobeBin)
	c.LogLevel = getEnvOrDefault("RECITE_LOG_LEVEL", c.LogLevel)

	if v := os.Getenv("RECITE_S3_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RECITE_S3_PATH_STYLE: %w", err)
		}
		c.Storage.S3.UsePathStyle = b
	}
	if v := os.Getenv("RECITE_TARGET_DBFS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RECITE_TARGET_DBFS: %w", err)
		}
		c.TargetDBFS = f
	}
	if v := os.Getenv("RECITE_TOP_DB"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RECITE_TOP_DB: %w", err)
		}
		c.TopDB = f
	}
	if v := os.Getenv("RECITE_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RECITE_MAX_CONCURRENT: %w", err)
		}
		c.MaxConcurrent = n
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Storage.Backend) {
	case BackendLocal:
		if c.Storage.LocalRoot == "" {
			errs = append(errs, errors.New("storage.local_root is required for the local backend"))
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
		}
		if c.Storage.S3.Region == "" {
			errs = append(errs, errors.New("storage.s3.region is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: want %q or %q", c.Storage.Backend, BackendLocal, BackendS3))
	}

	if c.TargetDBFS > 0 {
		errs = append(errs, fmt.Errorf("target_dbfs %.2f must not exceed 0", c.TargetDBFS))
	}
	if c.TopDB <= 0 {
		errs = append(errs, fmt.Errorf("top_db %.2f must be positive", c.TopDB))
	}
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent %d must be at least 1", c.MaxConcurrent))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// OpenStorage builds the bucket router for the configured backend. Uploads
// and processed audio live under audio_uploads/ and audio_processed/ of the
// same root or S3 bucket.
func (c Config) OpenStorage() (*storage.Buckets, error) {
	switch strings.ToLower(c.Storage.Backend) {
	case BackendS3:
		client := storage.NewS3Client(storage.S3ClientOptions{
			Region:          c.Storage.S3.Region,
			Endpoint:        c.Storage.S3.Endpoint,
			UsePathStyle:    c.Storage.S3.UsePathStyle,
			AccessKeyID:     c.Storage.S3.AccessKeyID,
			SecretAccessKey: c.Storage.S3.SecretAccessKey,
			SessionToken:    c.Storage.S3.SessionToken,
		})
		prefix := strings.Trim(c.Storage.S3.Prefix, "/")
		join := func(p string) string {
			if prefix == "" {
				return p
			}
			return prefix + "/" + p
		}
		return storage.NewBuckets(
			storage.NewS3(client, c.Storage.S3.Bucket, join("audio_uploads")),
			storage.NewS3(client, c.Storage.S3.Bucket, join("audio_processed")),
		), nil
	default:
		uploads, err := storage.NewLocal(filepath.Join(c.Storage.LocalRoot, "audio_uploads"))
		if err != nil {
			return nil, err
		}
		processed, err := storage.NewLocal(filepath.Join(c.Storage.LocalRoot, "audio_processed"))
		if err != nil {
			return nil, err
		}
		return storage.NewBuckets(uploads, processed), nil
	}
}
