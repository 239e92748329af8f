package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// FFmpeg shells out to the ffmpeg and ffprobe binaries. Calls inherit the
// caller's context; there is no timeout of their own.
type FFmpeg struct {
	Bin      string
	ProbeBin string
}

func NewFFmpeg(bin, probeBin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	if probeBin == "" {
		probeBin = "ffprobe"
	}
	return &FFmpeg{Bin: bin, ProbeBin: probeBin}
}

// Available reports whether both binaries can be found.
func (f *FFmpeg) Available() bool {
	if f == nil {
		return false
	}
	if _, err := exec.LookPath(f.Bin); err != nil {
		return false
	}
	_, err := exec.LookPath(f.ProbeBin)
	return err == nil
}

// ToPCMWAV decodes any container ffmpeg understands into mono 16-bit PCM
// WAV. sampleRate > 0 pins the output rate; 0 keeps the source rate.
func (f *FFmpeg) ToPCMWAV(ctx context.Context, inputPath, outputPath string, sampleRate int) error {
	args := []string{"-y", "-v", "error", "-i", inputPath, "-vn", "-ac", "1"}
	if sampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(sampleRate))
	}
	args = append(args, "-c:a", "pcm_s16le", outputPath)
	return f.run(ctx, args)
}

// Transcode re-encodes inputPath into the container implied by outputPath's
// extension.
func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outputPath string) error {
	args := []string{"-y", "-v", "error", "-i", inputPath, "-vn"}
	args = append(args, codecArgs(filepath.Ext(outputPath))...)
	args = append(args, outputPath)
	return f.run(ctx, args)
}

func codecArgs(ext string) []string {
	switch strings.ToLower(ext) {
	case ".m4a", ".aac":
		return []string{"-c:a", "aac"}
	case ".opus":
		return []string{"-c:a", "libopus"}
	case ".webm":
		return []string{"-c:a", "libopus"}
	case ".wav":
		return []string{"-c:a", "pcm_s16le"}
	}
	return nil
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.Bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %v (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Metadata describes the first audio stream of a file as seen by ffprobe.
type Metadata struct {
	Filename    string
	DurationSec float64
	SampleRate  int
	Channels    int
	BitDepth    int
	Codec       string
	Format      string
}

type ffprobeOutput struct {
	Format struct {
		Filename string `json:"filename"`
		Duration string `json:"duration"`
		Format   string `json:"format_name"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType     string `json:"codec_type"`
	CodecName     string `json:"codec_name"`
	SampleRate    string `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
}

func (p *ffprobeOutput) firstAudioStream() *ffprobeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "audio" {
			return &p.Streams[i]
		}
	}
	return nil
}

var errNoAudioStream = errors.New("no audio stream found")

// Probe runs ffprobe on path.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*Metadata, error) {
	cmd := exec.CommandContext(
		ctx,
		f.ProbeBin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(out, path)
}

func parseProbe(out []byte, path string) (*Metadata, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	stream := probe.firstAudioStream()
	if stream == nil {
		return nil, errNoAudioStream
	}

	duration, _ := strconv.ParseFloat(probe.Format.Duration, 64)
	sampleRate, _ := strconv.Atoi(stream.SampleRate)

	return &Metadata{
		Filename:    filepath.Base(path),
		DurationSec: duration,
		SampleRate:  sampleRate,
		Channels:    stream.Channels,
		BitDepth:    stream.BitsPerSample,
		Codec:       stream.CodecName,
		Format:      probe.Format.Format,
	}, nil
}
