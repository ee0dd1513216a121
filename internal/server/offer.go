package server

import (
	"encoding/json"
	"strconv"

	"github.com/zsiec/wscast/internal/media"
)

// framerate serializes with exactly two decimal places, the form clients
// display verbatim.
type framerate float64

func (f framerate) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, float64(f), 'f', 2, 64), nil
}

type offerStream struct {
	Type       string    `json:"type"`
	Codec      string    `json:"codec"`
	Framerate  framerate `json:"framerate,omitempty"`
	SampleRate int       `json:"sampleRate,omitempty"`
	Channels   int       `json:"channels,omitempty"`
}

type offerPayload struct {
	Version int           `json:"version"`
	Streams []offerStream `json:"streams"`
}

type mediaOffer struct {
	Type    string       `json:"type"`
	Payload offerPayload `json:"payload"`
}

// answer is the client's reply to the media offer. Any other envelope
// type arriving during negotiation is ignored.
type answer struct {
	Type     string `json:"type"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// buildOffer renders the media-offer text frame announced to every
// client right after the WebSocket upgrade. The audio stream entry is
// present only for container sources with a supported audio track.
func buildOffer(stream *media.Stream) ([]byte, error) {
	streams := []offerStream{{
		Type:      "video",
		Codec:     stream.Codec.String(),
		Framerate: framerate(stream.FPS),
	}}
	if stream.IsContainer() && stream.Audio != nil {
		streams = append(streams, offerStream{
			Type:       "audio",
			Codec:      stream.Audio.Codec,
			SampleRate: stream.Audio.SampleRate,
			Channels:   stream.Audio.Channels,
		})
	}
	return json.Marshal(mediaOffer{
		Type:    "media-offer",
		Payload: offerPayload{Version: 1, Streams: streams},
	})
}
