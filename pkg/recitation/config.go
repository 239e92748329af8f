package recitation

import (
	"os"
	"runtime"

	"github.com/quranicquest/recitation/internal/audio"
	"github.com/quranicquest/recitation/internal/preprocess"
	"github.com/quranicquest/recitation/internal/storage"
)

type Config struct {
	Buckets       *storage.Buckets
	Manifest      *storage.Manifest
	Logger        Logger
	TargetDBFS    float64
	TopDB         float64
	MaxConcurrent int
	TempDir       string
	FFmpeg        *audio.FFmpeg
}

type Option func(*Config)

// WithStorage sets the bucket router uploads and artifacts are written to.
func WithStorage(b *storage.Buckets) Option {
	return func(c *Config) {
		c.Buckets = b
	}
}

// WithManifest records every written object so abandoned sessions can be
// swept later. The caller keeps ownership and closes it.
func WithManifest(m *storage.Manifest) Option {
	return func(c *Config) {
		c.Manifest = m
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithTargetDBFS(db float64) Option {
	return func(c *Config) {
		c.TargetDBFS = db
	}
}

func WithTopDB(db float64) Option {
	return func(c *Config) {
		c.TopDB = db
	}
}

// WithMaxConcurrent bounds how many decode/process/extract jobs run at once.
func WithMaxConcurrent(n int) Option {
	return func(c *Config) {
		c.MaxConcurrent = n
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

// WithFFmpeg overrides the ffmpeg and ffprobe binaries. Empty strings keep
// the PATH defaults.
func WithFFmpeg(bin, probeBin string) Option {
	return func(c *Config) {
		c.FFmpeg = audio.NewFFmpeg(bin, probeBin)
	}
}

func defaultConfig() *Config {
	return &Config{
		TargetDBFS:    preprocess.DefaultTargetDBFS,
		TopDB:         preprocess.DefaultTopDB,
		MaxConcurrent: runtime.NumCPU(),
		TempDir:       os.TempDir(),
		FFmpeg:        audio.NewFFmpeg("", ""),
	}
}
