package recitation

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quranicquest/recitation/internal/audio"
	"github.com/quranicquest/recitation/internal/lifecycle"
	"github.com/quranicquest/recitation/internal/storage"
	"github.com/quranicquest/recitation/pkg/logger"
)

func quietLogger() *logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Output = io.Discard
	return logger.New(cfg)
}

func setupPipeline(t *testing.T, opts ...Option) (*Pipeline, *storage.Manifest) {
	t.Helper()

	root := t.TempDir()
	uploads, err := storage.NewLocal(filepath.Join(root, "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	processed, err := storage.NewLocal(filepath.Join(root, "processed"))
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := storage.OpenManifest(filepath.Join(root, "manifest.sqlite3"))
	if err != nil {
		t.Fatalf("Failed to open manifest: %v", err)
	}
	t.Cleanup(func() { manifest.Close() })

	base := []Option{
		WithStorage(storage.NewBuckets(uploads, processed)),
		WithManifest(manifest),
		WithLogger(quietLogger()),
		WithTempDir(t.TempDir()),
		WithFFmpeg("recite-test-no-ffmpeg", "recite-test-no-ffprobe"),
	}
	p, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p, manifest
}

func wavBytes(t *testing.T, samples []float64, sampleRate int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := audio.WriteWAV(&buf, audio.Signal{Samples: samples, SampleRate: sampleRate}, t.TempDir()); err != nil {
		t.Fatalf("encoding test wav: %v", err)
	}
	return buf.Bytes()
}

// leadingSilenceSine is two seconds at 16 kHz: half a second of silence
// then a 440 Hz tone.
func leadingSilenceSine() []float64 {
	const sr = 16000
	out := make([]float64, 2*sr)
	for i := sr / 2; i < len(out); i++ {
		out[i] = 0.4 * math.Sin(2*math.Pi*440*float64(i)/sr)
	}
	return out
}

func TestProcessSineWithLeadingSilence(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()
	s := p.NewSession("1:1", "learner-1")

	upload, err := s.Ingest(ctx, bytes.NewReader(wavBytes(t, leadingSilenceSine(), 16000)), "wav")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if upload.Extension != ".wav" || !strings.HasSuffix(upload.Ref.Key, ".wav") {
		t.Errorf("extension not preserved: %+v", upload)
	}

	a, err := s.Process(ctx, upload)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if a.Fallback || a.Degenerate {
		t.Fatalf("unexpected flags: %+v", a)
	}
	if a.Duration >= 1.9 {
		t.Errorf("duration %.3fs: leading silence not trimmed", a.Duration)
	}
	if math.Abs(a.PeakDBFS-(-3)) > 0.5 {
		t.Errorf("peak %.2f dBFS, want -3 ± 0.5", a.PeakDBFS)
	}
	if a.SampleRate != 16000 {
		t.Errorf("sample rate %d, want native 16000", a.SampleRate)
	}
	for _, st := range a.Stages {
		if !st.Applied {
			t.Errorf("stage %s not applied: %v", st.Stage, st.Err)
		}
	}

	v, err := s.Features(ctx, a.Ref)
	if err != nil {
		t.Fatalf("Features failed: %v", err)
	}
	if math.Abs(v.Duration-a.Duration) > 1e-3 {
		t.Errorf("feature duration %.4f vs artifact %.4f", v.Duration, a.Duration)
	}
}

func TestProcessZeroLengthIsDegenerate(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()
	s := p.NewSession("", "")

	upload, err := s.Ingest(ctx, bytes.NewReader(wavBytes(t, nil, 16000)), ".wav")
	if err != nil {
		t.Fatal(err)
	}
	a, err := s.Process(ctx, upload)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !a.Degenerate {
		t.Errorf("zero-length artifact must be flagged degenerate: %+v", a)
	}
	if a.Duration != 0 {
		t.Errorf("duration = %v", a.Duration)
	}
	if len(a.Stages) != 3 {
		t.Fatalf("expected 3 stage results, got %d", len(a.Stages))
	}
	for _, st := range a.Stages {
		if st.Err != nil {
			t.Errorf("stage %s failed on empty input: %v", st.Stage, st.Err)
		}
	}

	if _, err := s.Features(ctx, a.Ref); !errors.Is(err, ErrFeatureExtraction) {
		t.Errorf("expected ErrFeatureExtraction for empty artifact, got %v", err)
	}
}

func TestProcessUndecodableFallsBack(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()
	s := p.NewSession("", "")

	upload, err := s.Ingest(ctx, strings.NewReader("definitely not audio"), ".m4a")
	if err != nil {
		t.Fatal(err)
	}
	a, err := s.Process(ctx, upload)
	if err != nil {
		t.Fatalf("Process should fail open, got %v", err)
	}
	if !a.Fallback || a.Ref != upload.Ref {
		t.Fatalf("expected raw upload as fallback artifact, got %+v", a)
	}
	if len(a.Stages) == 0 || !errors.Is(a.Stages[len(a.Stages)-1].Err, ErrDecode) {
		t.Errorf("fallback reason should wrap ErrDecode: %+v", a.Stages)
	}

	_, err = s.Features(ctx, upload.Ref)
	if !errors.Is(err, ErrFeatureExtraction) || !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrFeatureExtraction wrapping ErrDecode, got %v", err)
	}
}

func TestConvert(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()
	s := p.NewSession("", "")

	upload, _ := s.Ingest(ctx, bytes.NewReader(wavBytes(t, leadingSilenceSine(), 16000)), ".wav")

	ref, err := s.Convert(ctx, upload.Ref, "wav")
	if err != nil {
		t.Fatalf("Convert to wav failed: %v", err)
	}
	stem := strings.TrimSuffix(upload.Ref.Key, ".wav")
	if ref.Bucket != storage.BucketProcessed || !strings.HasPrefix(ref.Key, stem+"_") || !strings.HasSuffix(ref.Key, ".wav") {
		t.Errorf("unexpected output ref %s", ref)
	}

	bad, err := s.Convert(ctx, upload.Ref, "exe")
	if !errors.Is(err, ErrConversion) || !bad.IsZero() {
		t.Errorf("unsupported format: ref=%s err=%v", bad, err)
	}

	// No ffmpeg in this pipeline, so mp3 cannot be produced.
	bad, err = s.Convert(ctx, upload.Ref, "mp3")
	if !errors.Is(err, ErrConversion) || !bad.IsZero() {
		t.Fatalf("mp3 without ffmpeg: ref=%s err=%v", bad, err)
	}
	for _, r := range s.Refs() {
		if strings.HasSuffix(r.Key, ".mp3") {
			if ok, _ := p.Buckets().Exists(ctx, r); ok {
				t.Errorf("failed conversion left %s behind", r)
			}
		}
	}
}

func TestReleaseDeletesSessionFiles(t *testing.T) {
	p, manifest := setupPipeline(t)
	ctx := context.Background()
	s := p.NewSession("2:255", "learner-2")

	upload, _ := s.Ingest(ctx, bytes.NewReader(wavBytes(t, leadingSilenceSine(), 16000)), ".wav")
	a, _ := s.Process(ctx, upload)

	report := s.Release(ctx)
	if report.Count(lifecycle.OutcomeDeleted) != 2 || !report.OK() {
		t.Fatalf("unexpected report: %s", report)
	}
	for _, ref := range []Ref{upload.Ref, a.Ref} {
		if ok, _ := p.Buckets().Exists(ctx, ref); ok {
			t.Errorf("%s still exists after release", ref)
		}
	}
	pending, _ := manifest.Pending(ctx, s.ID)
	if len(pending) != 0 {
		t.Errorf("manifest still lists %d pending files", len(pending))
	}

	if again := s.Release(ctx); len(again.Entries) != 0 {
		t.Errorf("second release should be empty, got %s", again)
	}
	if _, err := s.Process(ctx, upload); !errors.Is(err, ErrSessionReleased) {
		t.Errorf("expected ErrSessionReleased, got %v", err)
	}
	if _, err := s.Ingest(ctx, strings.NewReader("x"), ".wav"); !errors.Is(err, ErrSessionReleased) {
		t.Errorf("expected ErrSessionReleased, got %v", err)
	}

	// Cleaning the caller's copies of the refs again is harmless.
	late := p.Cleanup(ctx, upload.Ref, a.Ref)
	if late.Count(lifecycle.OutcomeMissing) != 2 {
		t.Errorf("late cleanup: %s", late)
	}
}

func TestCancelledConvertIsStillTracked(t *testing.T) {
	p, manifest := setupPipeline(t, WithMaxConcurrent(1))
	s := p.NewSession("", "")

	upload, _ := s.Ingest(context.Background(), bytes.NewReader(wavBytes(t, []float64{0.1, 0.2}, 8000)), ".wav")

	// Hold the only slot so the conversion cannot start.
	if err := p.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ref, err := s.Convert(ctx, upload.Ref, "wav")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !ref.IsZero() {
		t.Errorf("expected zero ref, got %s", ref)
	}

	pending, err := manifest.Pending(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected upload and conversion target in manifest, got %d", len(pending))
	}

	report, err := p.Reclaim(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if report.Count(lifecycle.OutcomeDeleted) != 1 || report.Count(lifecycle.OutcomeMissing) != 1 {
		t.Errorf("unexpected reclaim report: %s", report)
	}
}

func TestSweepAbandonedSession(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()

	s := p.NewSession("", "")
	upload, _ := s.Ingest(ctx, bytes.NewReader(wavBytes(t, []float64{0.5}, 8000)), ".wav")

	report, err := p.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Entries) != 0 {
		t.Fatalf("fresh upload swept: %s", report)
	}

	report, err = p.Sweep(ctx, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if report.Count(lifecycle.OutcomeDeleted) != 1 {
		t.Fatalf("expected the upload to be swept: %s", report)
	}
	if ok, _ := p.Buckets().Exists(ctx, upload.Ref); ok {
		t.Error("upload survived sweep")
	}
}

func TestConcurrentSessions(t *testing.T) {
	p, _ := setupPipeline(t, WithMaxConcurrent(2))
	ctx := context.Background()
	data := wavBytes(t, leadingSilenceSine(), 16000)

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := p.NewSession("1:1", "")
			defer s.Release(ctx)

			upload, err := s.Ingest(ctx, bytes.NewReader(data), ".wav")
			if err != nil {
				errs <- err
				return
			}
			a, err := s.Process(ctx, upload)
			if err != nil {
				errs <- err
				return
			}
			if a.Fallback {
				errs <- errors.New("unexpected fallback")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestExtractFromSignal(t *testing.T) {
	p, _ := setupPipeline(t)

	if _, err := p.Extract(context.Background(), audio.Signal{SampleRate: 16000}); !errors.Is(err, ErrFeatureExtraction) {
		t.Errorf("expected ErrFeatureExtraction, got %v", err)
	}

	s := p.NewSession("", "")
	v, err := s.FeaturesFromSignal(context.Background(), audio.Signal{Samples: leadingSilenceSine(), SampleRate: 16000})
	if err != nil {
		t.Fatal(err)
	}
	if v.Duration != 2 {
		t.Errorf("duration = %v", v.Duration)
	}
}
