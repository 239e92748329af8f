package recitation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/quranicquest/recitation/internal/audio"
	"github.com/quranicquest/recitation/internal/storage"
	"github.com/quranicquest/recitation/pkg/utils"
)

// Session owns every file written on behalf of one submission. Files stay
// in storage until Release; the caller decides when results have been
// consumed.
type Session struct {
	ID      string
	VerseID string
	UserID  string

	p *Pipeline

	mu       sync.Mutex
	refs     []Ref
	released bool
}

// track registers ref with the session and the manifest before anything is
// written to it.
func (s *Session) track(ctx context.Context, ref Ref, kind string) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrSessionReleased
	}
	s.refs = append(s.refs, ref)
	s.mu.Unlock()

	if err := s.p.lifecycle.Track(ctx, s.ID, ref, kind, s.VerseID, s.UserID); err != nil {
		return fmt.Errorf("recording %s in manifest: %w", ref, err)
	}
	return nil
}

// Refs lists the files this session has written or started writing.
func (s *Session) Refs() []Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Ref, len(s.refs))
	copy(out, s.refs)
	return out
}

// Ingest stores a recording under a fresh name in the uploads bucket.
// ext is the declared extension of the upload (".m4a", "wav", ...).
func (s *Session) Ingest(ctx context.Context, r io.Reader, ext string) (RawUpload, error) {
	ext = utils.NormalizeExt(ext)
	ref := Ref{Bucket: storage.BucketUploads, Key: utils.UniqueName(ext)}
	if err := s.track(ctx, ref, storage.KindRaw); err != nil {
		return RawUpload{}, err
	}

	n, err := s.p.buckets.Put(ctx, ref, r)
	if err != nil {
		return RawUpload{}, fmt.Errorf("storing upload: %w", err)
	}
	s.p.log.Infof("Stored upload %s (%d bytes) for verse %s", ref, n, s.VerseID)

	return RawUpload{
		Ref:       ref,
		Extension: ext,
		VerseID:   s.VerseID,
		UserID:    s.UserID,
		Size:      n,
	}, nil
}

// Process runs noise gating, normalization and trimming on an upload and
// stores the result as WAV in the processed bucket.
//
// If the upload cannot be decoded or the result cannot be stored, the raw
// upload is returned as the artifact with Fallback set; the reason is the
// last entry in Stages. Only cancellation and a released session are
// returned as errors.
func (s *Session) Process(ctx context.Context, upload RawUpload) (ProcessedArtifact, error) {
	if s.isReleased() {
		return ProcessedArtifact{}, ErrSessionReleased
	}

	sig, err := run(ctx, s.p, func() (audio.Signal, error) {
		return s.p.load(ctx, upload.Ref, upload.Extension)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ProcessedArtifact{}, ctx.Err()
		}
		s.p.log.Warnf("Decoding %s failed, keeping raw upload: %v", upload.Ref, err)
		return fallback(upload, "decode", err), nil
	}

	type chainOut struct {
		sig     audio.Signal
		results []StageResult
	}
	out, err := run(ctx, s.p, func() (chainOut, error) {
		processed, results := s.p.chain.Run(sig)
		return chainOut{processed, results}, nil
	})
	if err != nil {
		return ProcessedArtifact{}, err
	}
	for _, r := range out.results {
		if r.Err != nil {
			s.p.log.Warnf("Stage %s skipped for %s: %v", r.Stage, upload.Ref, r.Err)
		}
	}

	ref := Ref{Bucket: storage.BucketProcessed, Key: utils.UniqueName(".wav")}
	if err := s.track(ctx, ref, storage.KindProcessed); err != nil {
		if errors.Is(err, ErrSessionReleased) {
			return ProcessedArtifact{}, err
		}
		s.p.log.Warnf("Could not track %s: %v", ref, err)
	}
	if err := s.p.writeWAV(ctx, ref, out.sig); err != nil {
		if ctx.Err() != nil {
			return ProcessedArtifact{}, ctx.Err()
		}
		s.p.log.Warnf("Storing processed audio failed, keeping raw upload: %v", err)
		a := fallback(upload, "store", err)
		a.Stages = append(out.results, a.Stages...)
		return a, nil
	}

	artifact := ProcessedArtifact{
		Ref:        ref,
		SampleRate: out.sig.SampleRate,
		Duration:   out.sig.Duration(),
		PeakDBFS:   out.sig.PeakDBFS(),
		Degenerate: out.sig.Len() == 0 || out.sig.IsSilent(),
		Stages:     out.results,
	}
	s.p.log.Infof("Processed %s -> %s (%.2fs, peak %.2f dBFS)", upload.Ref, ref, artifact.Duration, artifact.PeakDBFS)
	return artifact, nil
}

func fallback(upload RawUpload, stage string, err error) ProcessedArtifact {
	return ProcessedArtifact{
		Ref:      upload.Ref,
		Fallback: true,
		Stages:   []StageResult{{Stage: stage, Err: err}},
	}
}

// Features loads a stored recording and computes its feature vector.
func (s *Session) Features(ctx context.Context, ref Ref) (FeatureVector, error) {
	if s.isReleased() {
		return FeatureVector{}, ErrSessionReleased
	}
	return run(ctx, s.p, func() (FeatureVector, error) {
		sig, err := s.p.load(ctx, ref, path.Ext(ref.Key))
		if err != nil {
			return FeatureVector{}, fmt.Errorf("%w: %w", ErrFeatureExtraction, err)
		}
		return s.p.extractor.Extract(sig)
	})
}

// FeaturesFromSignal computes the feature vector of an in-memory signal.
func (s *Session) FeaturesFromSignal(ctx context.Context, sig audio.Signal) (FeatureVector, error) {
	return s.p.Extract(ctx, sig)
}

// Convert re-encodes a stored recording as format and stores it next to
// the processed artifacts as <stem>_<uuid>.<format>. On failure the zero
// Ref is returned together with an error wrapping ErrConversion.
func (s *Session) Convert(ctx context.Context, src Ref, format string) (Ref, error) {
	if s.isReleased() {
		return Ref{}, ErrSessionReleased
	}
	if !audio.SupportedFormat(format) {
		err := fmt.Errorf("%w: unsupported format %q", ErrConversion, format)
		s.p.log.Errorf("Conversion of %s failed: %v", src, err)
		return Ref{}, err
	}

	dst := Ref{Bucket: storage.BucketProcessed, Key: utils.DerivedName(src.Key, format)}
	if err := s.track(ctx, dst, storage.KindConverted); err != nil {
		return Ref{}, err
	}

	_, err := run(ctx, s.p, func() (struct{}, error) {
		return struct{}{}, s.p.convert(ctx, src, dst, format)
	})
	if err != nil {
		s.p.log.Errorf("Conversion of %s to %s failed: %v", src, format, err)
		if ctx.Err() != nil {
			return Ref{}, ctx.Err()
		}
		s.p.buckets.Delete(ctx, dst)
		if !errors.Is(err, ErrConversion) {
			err = fmt.Errorf("%w: %w", ErrConversion, err)
		}
		return Ref{}, err
	}
	return dst, nil
}

// Release deletes every file the session wrote. The report lists each
// file's outcome; the session cannot be used afterwards. Releasing twice
// returns an empty report.
func (s *Session) Release(ctx context.Context) CleanupReport {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return CleanupReport{}
	}
	s.released = true
	refs := s.refs
	s.refs = nil
	s.mu.Unlock()

	report := s.p.lifecycle.Cleanup(ctx, refs...)
	s.p.log.Debugf("Released session %s: %s", s.ID, report)
	return report
}

func (s *Session) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// stage copies a stored object to a local temp file that keeps the key's
// extension, for tools that need a path.
func (p *Pipeline) stage(ctx context.Context, ref Ref) (string, func(), error) {
	rc, err := p.buckets.Open(ctx, ref)
	if err != nil {
		return "", nil, fmt.Errorf("opening %s: %w", ref, err)
	}
	defer rc.Close()

	local, err := utils.SpoolToTemp(p.cfg.TempDir, path.Ext(ref.Key), rc)
	if err != nil {
		return "", nil, err
	}
	return local, func() { os.Remove(local) }, nil
}

func (p *Pipeline) load(ctx context.Context, ref Ref, ext string) (audio.Signal, error) {
	rc, err := p.buckets.Open(ctx, ref)
	if err != nil {
		return audio.Signal{}, fmt.Errorf("%w: opening %s: %v", ErrDecode, ref, err)
	}
	defer rc.Close()
	return p.loader.Load(ctx, rc, ext)
}

func (p *Pipeline) writeWAV(ctx context.Context, ref Ref, sig audio.Signal) error {
	w, err := p.buckets.Create(ctx, ref)
	if err != nil {
		return err
	}
	if _, err := audio.WriteWAV(w, sig, p.cfg.TempDir); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (p *Pipeline) convert(ctx context.Context, src, dst Ref, format string) error {
	rc, err := p.buckets.Open(ctx, src)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrConversion, src, err)
	}
	defer rc.Close()

	w, err := p.buckets.Create(ctx, dst)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrConversion, dst, err)
	}
	if err := p.converter.Convert(ctx, rc, path.Ext(src.Key), format, w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: finishing %s: %v", ErrConversion, dst, err)
	}
	return nil
}
