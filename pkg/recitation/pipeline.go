// Package recitation is the preprocessing and feature-extraction pipeline
// for recorded Quranic recitations.
//
// A Pipeline is built once with New and shared. Each learner submission
// gets its own Session, which ingests the upload, produces a processed
// artifact, extracts features, converts formats and finally releases every
// file it wrote.
package recitation

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/quranicquest/recitation/internal/audio"
	"github.com/quranicquest/recitation/internal/features"
	"github.com/quranicquest/recitation/internal/lifecycle"
	"github.com/quranicquest/recitation/internal/preprocess"
	"github.com/quranicquest/recitation/internal/storage"
	"github.com/quranicquest/recitation/pkg/logger"
)

type Pipeline struct {
	cfg       *Config
	buckets   *storage.Buckets
	loader    *audio.Loader
	converter *audio.Converter
	extractor *features.Extractor
	chain     preprocess.Chain
	lifecycle *lifecycle.Manager
	sem       *semaphore.Weighted
	log       Logger
}

func New(opts ...Option) (*Pipeline, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}

	buckets := cfg.Buckets
	if buckets == nil {
		root := filepath.Join(cfg.TempDir, "recite")
		uploads, err := storage.NewLocal(filepath.Join(root, "audio_uploads"))
		if err != nil {
			return nil, fmt.Errorf("failed to create upload store: %w", err)
		}
		processed, err := storage.NewLocal(filepath.Join(root, "audio_processed"))
		if err != nil {
			return nil, fmt.Errorf("failed to create processed store: %w", err)
		}
		buckets = storage.NewBuckets(uploads, processed)
	}

	loader := audio.NewLoader(cfg.FFmpeg, cfg.TempDir)
	return &Pipeline{
		cfg:       cfg,
		buckets:   buckets,
		loader:    loader,
		converter: audio.NewConverter(loader, cfg.FFmpeg),
		extractor: features.NewExtractor(),
		chain:     preprocess.DefaultChain(cfg.TargetDBFS, cfg.TopDB),
		lifecycle: lifecycle.NewManager(buckets, cfg.Manifest, cfg.Logger),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:       cfg.Logger,
	}, nil
}

// NewSession starts tracking the files of one submission.
func (p *Pipeline) NewSession(verseID, userID string) *Session {
	return &Session{
		ID:      uuid.NewString(),
		VerseID: verseID,
		UserID:  userID,
		p:       p,
	}
}

// Buckets exposes the storage the pipeline writes to.
func (p *Pipeline) Buckets() *storage.Buckets { return p.buckets }

// Extract computes the feature vector of an in-memory signal.
func (p *Pipeline) Extract(ctx context.Context, sig audio.Signal) (FeatureVector, error) {
	return run(ctx, p, func() (FeatureVector, error) {
		return p.extractor.Extract(sig)
	})
}

// Cleanup deletes the given files if they exist. Per-file failures are in
// the report, never returned.
func (p *Pipeline) Cleanup(ctx context.Context, refs ...Ref) CleanupReport {
	return p.lifecycle.Cleanup(ctx, refs...)
}

// Reclaim deletes what a session left behind, typically after the process
// that owned it died. It needs a manifest.
func (p *Pipeline) Reclaim(ctx context.Context, sessionID string) (CleanupReport, error) {
	return p.lifecycle.Reclaim(ctx, sessionID)
}

// Sweep deletes files recorded more than olderThan ago and never released.
// It needs a manifest.
func (p *Pipeline) Sweep(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	return p.lifecycle.Sweep(ctx, olderThan)
}

// Probe reports ffprobe's view of a stored file.
func (p *Pipeline) Probe(ctx context.Context, ref Ref) (*audio.Metadata, error) {
	if !p.cfg.FFmpeg.Available() {
		return nil, fmt.Errorf("probe %s: ffprobe is not available", ref)
	}
	path, cleanup, err := p.stage(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return p.cfg.FFmpeg.Probe(ctx, path)
}

// run executes fn on its own goroutine once a concurrency slot is free.
// Cancelling ctx returns ctx.Err() immediately; fn finishes in the
// background and its result is dropped.
func run[T any](ctx context.Context, p *Pipeline, fn func() (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("recitation: internal error: %v", r)}
			}
		}()
		v, err := fn()
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
