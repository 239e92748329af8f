package audio

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeTestWAV writes interleaved integer PCM to a new file in t.TempDir.
func writeTestWAV(t *testing.T, data []int, sampleRate, bitDepth, channels int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create wav: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	// The encoder only emits the fmt chunk on Write, so an empty buffer is
	// still written for zero-length files.
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Failed to write samples: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to close encoder: %v", err)
	}
	return path
}

func sine(n, sampleRate int, freq, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func TestSignalPeakAndDuration(t *testing.T) {
	s := Signal{Samples: []float64{0.1, -0.5, 0.25, 0}, SampleRate: 4}

	if s.Peak() != 0.5 {
		t.Errorf("Peak = %v, want 0.5", s.Peak())
	}
	if s.Duration() != 1 {
		t.Errorf("Duration = %v, want 1", s.Duration())
	}
	want := 20 * math.Log10(0.5+PeakEpsilon)
	if math.Abs(s.PeakDBFS()-want) > 1e-12 {
		t.Errorf("PeakDBFS = %v, want %v", s.PeakDBFS(), want)
	}

	var empty Signal
	if empty.Peak() != 0 || !empty.IsSilent() || empty.Duration() != 0 {
		t.Errorf("empty signal: peak=%v silent=%v dur=%v", empty.Peak(), empty.IsSilent(), empty.Duration())
	}
}

func TestSignalCloneIsDeep(t *testing.T) {
	s := Signal{Samples: []float64{1, 2, 3}, SampleRate: 8000}
	c := s.Clone()
	c.Samples[0] = 42
	if s.Samples[0] != 1 {
		t.Error("Clone shares the sample buffer")
	}
}

func TestSignalFinite(t *testing.T) {
	if !(Signal{Samples: []float64{0, 1}}).Finite() {
		t.Error("finite signal reported non-finite")
	}
	if (Signal{Samples: []float64{0, math.NaN()}}).Finite() {
		t.Error("NaN not detected")
	}
	if (Signal{Samples: []float64{math.Inf(-1)}}).Finite() {
		t.Error("Inf not detected")
	}
}

func TestIsWAV(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   bool
	}{
		{"riff wave", []byte("RIFF\x00\x00\x00\x00WAVE"), true},
		{"riff avi", []byte("RIFF\x00\x00\x00\x00AVI "), false},
		{"ogg", []byte("OggS\x00\x02\x00\x00\x00\x00\x00\x00"), false},
		{"short", []byte("RIFF"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWAV(tt.header); got != tt.want {
				t.Errorf("IsWAV(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestDecodeWAVMono16(t *testing.T) {
	path := writeTestWAV(t, []int{0, 16384, -16384, 32767}, 16000, 16, 1)

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	sig, err := DecodeWAV(f)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if sig.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", sig.SampleRate)
	}
	want := []float64{0, 0.5, -0.5, 32767.0 / 32768.0}
	if len(sig.Samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(sig.Samples), len(want))
	}
	for i := range want {
		if math.Abs(sig.Samples[i]-want[i]) > 1e-9 {
			t.Errorf("sample %d = %v, want %v", i, sig.Samples[i], want[i])
		}
	}
}

func TestDecodeWAVStereoAveraged(t *testing.T) {
	// L/R pairs.
	path := writeTestWAV(t, []int{16384, 0, -16384, -16384}, 8000, 16, 2)

	f, _ := os.Open(path)
	defer f.Close()

	sig, err := DecodeWAV(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig.Samples) != 2 {
		t.Fatalf("expected 2 mono frames, got %d", len(sig.Samples))
	}
	if math.Abs(sig.Samples[0]-0.25) > 1e-9 || math.Abs(sig.Samples[1]+0.5) > 1e-9 {
		t.Errorf("downmix = %v, want [0.25 -0.5]", sig.Samples)
	}
}

func TestDecodeWAVEmptyData(t *testing.T) {
	path := writeTestWAV(t, nil, 22050, 16, 1)

	f, _ := os.Open(path)
	defer f.Close()

	sig, err := DecodeWAV(f)
	if err != nil {
		t.Fatalf("zero-length wav should decode, got %v", err)
	}
	if sig.Len() != 0 || sig.SampleRate != 22050 {
		t.Errorf("got %d samples at %d Hz", sig.Len(), sig.SampleRate)
	}
}

func TestDecodeWAVRejectsExcessiveRate(t *testing.T) {
	path := writeTestWAV(t, []int{0, 100, -100, 0}, MaxSampleRate*2, 16, 1)

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := DecodeWAV(f); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for %d Hz header, got %v", MaxSampleRate*2, err)
	}
}

func TestDecodeWAVGarbage(t *testing.T) {
	_, err := DecodeWAV(bytes.NewReader([]byte("INVALID HEADER DATA")))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestDownmix8BitUnsigned(t *testing.T) {
	got := downmix([]int{128, 255, 0}, 1, 8)
	want := []float64{0, 127.0 / 128.0, -1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWriteWAVRoundTrip(t *testing.T) {
	sig := Signal{Samples: sine(1600, 16000, 440, 0.7), SampleRate: 16000}

	var buf bytes.Buffer
	n, err := WriteWAV(&buf, sig, t.TempDir())
	if err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}
	if n != int64(buf.Len()) || !IsWAV(buf.Bytes()) {
		t.Fatalf("unexpected output: n=%d len=%d", n, buf.Len())
	}

	back, err := DecodeWAV(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if back.Len() != sig.Len() || back.SampleRate != sig.SampleRate {
		t.Fatalf("round trip changed shape: %d@%d", back.Len(), back.SampleRate)
	}
	for i := range sig.Samples {
		if math.Abs(back.Samples[i]-sig.Samples[i]) > 1.0/16384 {
			t.Fatalf("sample %d drifted: %v vs %v", i, back.Samples[i], sig.Samples[i])
		}
	}
}

func TestEncodeWAVRejectsBadRate(t *testing.T) {
	var buf bytes.Buffer
	if _, err := WriteWAV(&buf, Signal{Samples: []float64{0}}, t.TempDir()); !errors.Is(err, ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestLoaderWAV(t *testing.T) {
	path := writeTestWAV(t, []int{1000, -1000, 2000}, 44100, 16, 1)
	data, _ := os.ReadFile(path)

	l := NewLoader(nil, t.TempDir())
	sig, err := l.Load(context.Background(), bytes.NewReader(data), ".wav")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if sig.SampleRate != 44100 || sig.Len() != 3 {
		t.Errorf("got %d samples at %d Hz", sig.Len(), sig.SampleRate)
	}
}

func TestLoaderEmptyInput(t *testing.T) {
	l := NewLoader(nil, t.TempDir())
	_, err := l.Load(context.Background(), bytes.NewReader(nil), ".m4a")
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestLoaderNonWAVWithoutFFmpeg(t *testing.T) {
	l := NewLoader(nil, t.TempDir())
	_, err := l.Load(context.Background(), bytes.NewReader([]byte("ID3\x04not really an mp3")), ".mp3")
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestLoaderCancelled(t *testing.T) {
	path := writeTestWAV(t, []int{1, 2, 3}, 8000, 16, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(nil, t.TempDir()).LoadFile(ctx, path)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSupportedFormat(t *testing.T) {
	for _, f := range []string{"wav", ".mp3", "OGG", "flac", "m4a", "aac", "opus", "webm"} {
		if !SupportedFormat(f) {
			t.Errorf("%q should be supported", f)
		}
	}
	for _, f := range []string{"", "exe", "mid"} {
		if SupportedFormat(f) {
			t.Errorf("%q should not be supported", f)
		}
	}
}

func TestConvertUnsupportedFormat(t *testing.T) {
	c := NewConverter(NewLoader(nil, t.TempDir()), nil)
	var out bytes.Buffer
	err := c.Convert(context.Background(), bytes.NewReader([]byte("x")), ".wav", "exe", &out)
	if !errors.Is(err, ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
	if out.Len() != 0 {
		t.Error("nothing should be written on failure")
	}
}

func TestConvertToWAVInProcess(t *testing.T) {
	path := writeTestWAV(t, []int{0, 8192, -8192, 0}, 16000, 24, 1)
	data, _ := os.ReadFile(path)

	c := NewConverter(NewLoader(nil, t.TempDir()), nil)
	var out bytes.Buffer
	if err := c.Convert(context.Background(), bytes.NewReader(data), ".wav", "wav", &out); err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	sig, err := DecodeWAV(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if sig.Len() != 4 || sig.SampleRate != 16000 {
		t.Errorf("got %d samples at %d Hz", sig.Len(), sig.SampleRate)
	}
}

func TestConvertNonWAVWithoutFFmpeg(t *testing.T) {
	path := writeTestWAV(t, []int{0, 1}, 8000, 16, 1)
	data, _ := os.ReadFile(path)

	c := NewConverter(NewLoader(nil, t.TempDir()), NewFFmpeg("recite-no-such-ffmpeg", "recite-no-such-ffprobe"))
	err := c.Convert(context.Background(), bytes.NewReader(data), ".wav", "mp3", &bytes.Buffer{})
	if !errors.Is(err, ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{
		"streams": [
			{"codec_type": "video", "codec_name": "mjpeg"},
			{"codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2}
		],
		"format": {"filename": "/tmp/x.m4a", "duration": "3.250000", "format_name": "mov,mp4,m4a"}
	}`)

	meta, err := parseProbe(out, "/tmp/x.m4a")
	if err != nil {
		t.Fatalf("parseProbe failed: %v", err)
	}
	if meta.SampleRate != 48000 || meta.Channels != 2 || meta.Codec != "aac" {
		t.Errorf("unexpected stream fields: %+v", meta)
	}
	if meta.DurationSec != 3.25 || meta.Filename != "x.m4a" {
		t.Errorf("unexpected format fields: %+v", meta)
	}

	if _, err := parseProbe([]byte(`{"streams":[],"format":{}}`), "x"); err == nil {
		t.Error("expected error for file with no audio stream")
	}
}

func requireFFmpeg(t *testing.T) *FFmpeg {
	t.Helper()
	ff := NewFFmpeg("", "")
	if _, err := exec.LookPath(ff.Bin); err != nil {
		t.Skip("ffmpeg not on PATH")
	}
	if _, err := exec.LookPath(ff.ProbeBin); err != nil {
		t.Skip("ffprobe not on PATH")
	}
	return ff
}

func TestFFmpegRoundTripFLAC(t *testing.T) {
	ff := requireFFmpeg(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "src.wav")
	f, _ := os.Create(src)
	if err := EncodeWAV(f, Signal{Samples: sine(11025, 11025, 300, 0.5), SampleRate: 11025}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	l := NewLoader(ff, dir)
	c := NewConverter(l, ff)

	in, _ := os.Open(src)
	defer in.Close()
	var flac bytes.Buffer
	if err := c.Convert(context.Background(), in, ".wav", "flac", &flac); err != nil {
		t.Fatalf("Convert to flac failed: %v", err)
	}

	sig, err := l.Load(context.Background(), &flac, ".flac")
	if err != nil {
		t.Fatalf("Load flac failed: %v", err)
	}
	if sig.SampleRate != 11025 {
		t.Errorf("native rate not preserved: %d", sig.SampleRate)
	}
	if math.Abs(sig.Duration()-1) > 0.05 {
		t.Errorf("duration = %v, want ~1s", sig.Duration())
	}
}

func TestConvertToWAVKeepsChannelsWithFFmpeg(t *testing.T) {
	ff := requireFFmpeg(t)
	dir := t.TempDir()

	data := make([]int, 2*8000)
	for i := 0; i < 8000; i++ {
		data[2*i] = 8000
		data[2*i+1] = -8000
	}
	src := writeTestWAV(t, data, 8000, 16, 2)

	l := NewLoader(ff, dir)
	c := NewConverter(l, ff)

	in, err := os.Open(src)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()

	out := filepath.Join(dir, "out.wav")
	f, err := os.Create(out)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Convert(context.Background(), in, ".wav", "wav", f); err != nil {
		t.Fatalf("Convert to wav failed: %v", err)
	}
	f.Close()

	meta, err := ff.Probe(context.Background(), out)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if meta.Channels != 2 {
		t.Errorf("channels = %d, want 2", meta.Channels)
	}
}
