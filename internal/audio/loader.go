package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/quranicquest/recitation/pkg/utils"
)

// Loader turns stored recordings into Signals at their native sample rate.
// WAV is read in-process; anything else needs ffmpeg.
type Loader struct {
	FFmpeg  *FFmpeg
	TempDir string
}

func NewLoader(ff *FFmpeg, tempDir string) *Loader {
	return &Loader{FFmpeg: ff, TempDir: tempDir}
}

// Load decodes r. ext is the declared extension of the upload and is only
// used to name the staging file so ffmpeg can pick a demuxer.
func (l *Loader) Load(ctx context.Context, r io.Reader, ext string) (Signal, error) {
	path, err := utils.SpoolToTemp(l.TempDir, utils.NormalizeExt(ext), r)
	if err != nil {
		return Signal{}, fmt.Errorf("%w: staging input: %v", ErrDecode, err)
	}
	defer os.Remove(path)

	return l.LoadFile(ctx, path)
}

// LoadFile decodes a local file.
func (l *Loader) LoadFile(ctx context.Context, path string) (Signal, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if n == 0 {
		return Signal{}, fmt.Errorf("%w: empty input", ErrDecode)
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Signal{}, fmt.Errorf("%w: reading header: %v", ErrDecode, err)
	}

	if IsWAV(header[:n]) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return Signal{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		sig, err := DecodeWAV(f)
		if err == nil || !errors.Is(err, ErrUnsupportedEncoding) {
			return sig, err
		}
	}

	return l.viaFFmpeg(ctx, path)
}

func (l *Loader) viaFFmpeg(ctx context.Context, path string) (Signal, error) {
	if !l.FFmpeg.Available() {
		return Signal{}, fmt.Errorf("%w: not a PCM WAV and ffmpeg is unavailable", ErrDecode)
	}

	meta, err := l.FFmpeg.Probe(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return Signal{}, ctx.Err()
		}
		return Signal{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	tmp, err := os.CreateTemp(l.TempDir, "recite-dec-*.wav")
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := l.FFmpeg.ToPCMWAV(ctx, path, tmp.Name(), meta.SampleRate); err != nil {
		if ctx.Err() != nil {
			return Signal{}, ctx.Err()
		}
		return Signal{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	f, err := os.Open(tmp.Name())
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	return DecodeWAV(f)
}
