package media

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/zsiec/wscast/internal/demux"
)

// testSPS is a baseline-profile 320x240 SPS with VUI timing
// num_units_in_tick=1, time_scale=50 (25 fps). The 0x03 at offset 16 is an
// emulation prevention byte.
var testSPS = []byte{
	0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1E,
	0x96, 0x54, 0x0A, 0x0F, 0xD0, 0x80, 0x00, 0x00,
	0x03, 0x00, 0x80, 0x00, 0x00, 0x19, 0x60,
}

func annexbNAL(header byte, payload ...byte) []byte {
	b := []byte{0x00, 0x00, 0x00, 0x01, header}
	return append(b, payload...)
}

func writeTempStream(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.h264")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp stream: %v", err)
	}
	return path
}

func TestLoadRaw(t *testing.T) {
	t.Parallel()

	stream := bytes.Join([][]byte{
		testSPS,
		annexbNAL(0x68, 0xCE, 0x38, 0x80),
		annexbNAL(0x65, 0x88, 0x84, 0x21),
		annexbNAL(0x41, 0x9A, 0x02),
		annexbNAL(0x41, 0x9A, 0x03),
	}, nil)
	path := writeTempStream(t, stream)

	s, err := LoadRaw(path, demux.H264)
	if err != nil {
		t.Fatalf("LoadRaw: %v", err)
	}

	if s.Codec != demux.H264 {
		t.Errorf("Codec = %v, want %v", s.Codec, demux.H264)
	}
	if s.FPS != 25.0 {
		t.Errorf("FPS = %v, want 25", s.FPS)
	}
	if s.Width != 320 || s.Height != 240 {
		t.Errorf("dimensions = %dx%d, want 320x240", s.Width, s.Height)
	}
	if got := len(s.AccessUnits); got != 3 {
		t.Fatalf("got %d access units, want 3", got)
	}
	if got := len(s.AccessUnits[0].NALUs); got != 3 {
		t.Errorf("first AU has %d NALs, want 3 (SPS+PPS+IDR)", got)
	}
	if s.IsContainer() {
		t.Error("IsContainer() = true for a raw stream")
	}
	if got := s.FrameIntervalMs(); got != 40 {
		t.Errorf("FrameIntervalMs() = %d, want 40", got)
	}
}

func TestLoadRawNoSPS(t *testing.T) {
	t.Parallel()

	stream := bytes.Join([][]byte{
		annexbNAL(0x65, 0x88, 0x84),
		annexbNAL(0x41, 0x9A, 0x02),
	}, nil)
	path := writeTempStream(t, stream)

	s, err := LoadRaw(path, demux.H264)
	if err != nil {
		t.Fatalf("LoadRaw: %v", err)
	}
	if s.FPS != demux.DefaultFPS {
		t.Errorf("FPS = %v, want default %v", s.FPS, demux.DefaultFPS)
	}
	if got := len(s.AccessUnits); got != 2 {
		t.Errorf("got %d access units, want 2", got)
	}
}

func TestLoadRawMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadRaw(filepath.Join(t.TempDir(), "absent.h264"), demux.H264); err == nil {
		t.Fatal("LoadRaw on a missing file returned nil error")
	}
}

func TestLoadRawNoStartCodes(t *testing.T) {
	t.Parallel()

	path := writeTempStream(t, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	if _, err := LoadRaw(path, demux.H264); err == nil {
		t.Fatal("LoadRaw on data without start codes returned nil error")
	}
}

func TestFrameIntervalMs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fps  float64
		want int64
	}{
		{fps: 25, want: 40},
		{fps: 50, want: 20},
		{fps: 30000.0 / 1001.0, want: 33},
		{fps: 0, want: 40},
	}
	for _, tt := range tests {
		s := &Stream{FPS: tt.fps}
		if got := s.FrameIntervalMs(); got != tt.want {
			t.Errorf("FrameIntervalMs(fps=%v) = %d, want %d", tt.fps, got, tt.want)
		}
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	if got := Video.String(); got != "video" {
		t.Errorf("Video.String() = %q, want %q", got, "video")
	}
	if got := Audio.String(); got != "audio" {
		t.Errorf("Audio.String() = %q, want %q", got, "audio")
	}
	if got := Kind(9).String(); got != "unknown" {
		t.Errorf("Kind(9).String() = %q, want %q", got, "unknown")
	}
}
