package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// ErrUnsupportedEncoding marks a valid WAV whose sample encoding the native
// decoder cannot read (float, A-law, ...). The loader routes those through
// ffmpeg.
var ErrUnsupportedEncoding = errors.New("unsupported wav encoding")

// IsWAV sniffs the RIFF/WAVE magic.
func IsWAV(header []byte) bool {
	return len(header) >= 12 &&
		bytes.Equal(header[0:4], []byte("RIFF")) &&
		bytes.Equal(header[8:12], []byte("WAVE"))
}

// DecodeWAV reads integer PCM WAV data and returns it as a mono Signal,
// averaging channels. A well-formed file with no frames yields an empty
// Signal.
func DecodeWAV(r io.ReadSeeker) (Signal, error) {
	d := wav.NewDecoder(r)
	// IsValidFile rejects zero-duration files, which are degenerate but
	// legal here, so the header is walked by hand.
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return Signal{}, fmt.Errorf("%w: invalid wav: %v", ErrDecode, err)
	}
	if d.SampleRate == 0 || d.NumChans == 0 {
		return Signal{}, fmt.Errorf("%w: wav reports %d Hz, %d channels", ErrDecode, d.SampleRate, d.NumChans)
	}
	if d.SampleRate > MaxSampleRate {
		return Signal{}, fmt.Errorf("%w: sample rate %d Hz exceeds %d Hz", ErrDecode, d.SampleRate, MaxSampleRate)
	}
	if d.WavAudioFormat != wavFormatPCM && d.WavAudioFormat != wavFormatExtensible {
		return Signal{}, fmt.Errorf("%w: format tag %d", ErrUnsupportedEncoding, d.WavAudioFormat)
	}
	if err := d.FwdToPCM(); err != nil {
		return Signal{}, fmt.Errorf("%w: locating pcm data: %v", ErrDecode, err)
	}
	if d.PCMSize == 0 {
		return Signal{Samples: []float64{}, SampleRate: int(d.SampleRate)}, nil
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Signal{}, fmt.Errorf("%w: reading pcm: %v", ErrDecode, err)
	}

	bitDepth := int(d.BitDepth)
	if buf.SourceBitDepth > 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return Signal{}, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedEncoding, bitDepth)
	}

	return Signal{
		Samples:    downmix(buf.Data, int(d.NumChans), bitDepth),
		SampleRate: int(d.SampleRate),
	}, nil
}

// downmix scales interleaved integer samples to [-1, 1] and averages
// channels into one.
func downmix(data []int, channels, bitDepth int) []float64 {
	offset := 0.0
	scale := float64(int64(1) << uint(bitDepth-1))
	if bitDepth == 8 {
		// 8-bit WAV is unsigned.
		offset = 128
	}

	frames := len(data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += (float64(data[i*channels+c]) - offset) / scale
		}
		out[i] = sum / float64(channels)
	}
	return out
}

// EncodeWAV writes sig as mono 16-bit PCM.
func EncodeWAV(w io.WriteSeeker, sig Signal) error {
	if sig.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrConversion, sig.SampleRate)
	}

	const bitDepth = 16
	const full = math.MaxInt16

	data := make([]int, len(sig.Samples))
	for i, v := range sig.Samples {
		switch {
		case math.IsNaN(v):
			v = 0
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		data[i] = int(math.Round(v * full))
	}

	enc := wav.NewEncoder(w, sig.SampleRate, bitDepth, 1, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sig.SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("encoding wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing wav: %w", err)
	}
	return nil
}

// WriteWAV encodes sig into w. The wav encoder needs to seek back to patch
// its header, so the bytes are staged in a temp file under tempDir first.
func WriteWAV(w io.Writer, sig Signal, tempDir string) (int64, error) {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	f, err := os.CreateTemp(tempDir, "recite-enc-*.wav")
	if err != nil {
		return 0, err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := EncodeWAV(f, sig); err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return io.Copy(w, f)
}
