// Package media defines the stream model shared by the loaders and the
// streaming server: a fully loaded source with either raw access units or
// timed container packets.
package media

import "github.com/zsiec/wscast/internal/demux"

// Kind identifies the payload class of a container packet.
type Kind byte

const (
	Video Kind = iota + 1
	Audio
)

func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	}
	return "unknown"
}

// Packet is one timed payload demuxed from a container: an Annex B access
// unit for video, or a single encoded audio frame.
type Packet struct {
	Kind Kind
	PTS  int64 // presentation time in milliseconds
	Data []byte
}

// AudioConfig describes the audio track of a container stream. Codec is
// the canonical track name: "aac", "pcm_alaw", "pcm_mulaw" or "g726".
type AudioConfig struct {
	Codec      string
	SampleRate int
	Channels   int
}

// Stream is a loaded media source ready for paced playback. A raw
// elementary stream carries AccessUnits; a container stream carries
// Packets with a declared duration and an optional audio track.
type Stream struct {
	Codec  demux.Codec
	FPS    float64
	Width  int
	Height int

	AccessUnits []demux.AccessUnit

	Packets    []Packet
	DurationMs int64
	Audio      *AudioConfig
}

// IsContainer reports whether the stream was loaded from a container and
// is paced by packet timestamps rather than a fixed frame interval.
func (s *Stream) IsContainer() bool {
	return len(s.Packets) > 0
}

// FrameIntervalMs is the raw-mode pacing interval, truncated to whole
// milliseconds.
func (s *Stream) FrameIntervalMs() int64 {
	if s.FPS <= 0 {
		return int64(1000 / demux.DefaultFPS)
	}
	return int64(1000 / s.FPS)
}
