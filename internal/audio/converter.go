package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/quranicquest/recitation/pkg/utils"
)

// Formats lists the conversion targets.
var Formats = []string{"wav", "mp3", "ogg", "flac", "m4a", "aac", "opus", "webm"}

// SupportedFormat reports whether format (with or without a leading dot) is
// a conversion target.
func SupportedFormat(format string) bool {
	format = strings.TrimPrefix(utils.NormalizeExt(format), ".")
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Converter re-encodes recordings into another container.
type Converter struct {
	Loader *Loader
	FFmpeg *FFmpeg
}

func NewConverter(loader *Loader, ff *FFmpeg) *Converter {
	return &Converter{Loader: loader, FFmpeg: ff}
}

// Convert reads src (declared extension srcExt) and writes it to dst as
// format. Every failure, including an unknown format, wraps ErrConversion.
//
// All targets go through ffmpeg, which keeps the source channel layout. When
// ffmpeg is unavailable a wav target is still produced in-process, but
// downmixed to mono 16-bit PCM.
func (c *Converter) Convert(ctx context.Context, src io.Reader, srcExt, format string, dst io.Writer) error {
	if !SupportedFormat(format) {
		return fmt.Errorf("%w: unsupported format %q", ErrConversion, format)
	}
	target := utils.NormalizeExt(format)

	tempDir := ""
	if c.Loader != nil {
		tempDir = c.Loader.TempDir
	}
	in, err := utils.SpoolToTemp(tempDir, utils.NormalizeExt(srcExt), src)
	if err != nil {
		return fmt.Errorf("%w: staging input: %v", ErrConversion, err)
	}
	defer os.Remove(in)

	if target == ".wav" && c.Loader != nil && !c.FFmpeg.Available() {
		sig, err := c.Loader.LoadFile(ctx, in)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrConversion, err)
		}
		if _, err := WriteWAV(dst, sig, tempDir); err != nil {
			return fmt.Errorf("%w: %v", ErrConversion, err)
		}
		return nil
	}

	if !c.FFmpeg.Available() {
		return fmt.Errorf("%w: ffmpeg is required for %s output", ErrConversion, target)
	}

	out, err := os.CreateTemp(tempDir, "recite-conv-*"+target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}
	out.Close()
	defer os.Remove(out.Name())

	if err := c.FFmpeg.Transcode(ctx, in, out.Name()); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}

	f, err := os.Open(out.Name())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}
	defer f.Close()
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("%w: writing output: %v", ErrConversion, err)
	}
	return nil
}
