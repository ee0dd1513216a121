package media

import (
	"errors"
	"fmt"
	"os"

	"github.com/zsiec/wscast/internal/demux"
)

// LoadRaw reads an H.264 or H.265 elementary stream file, segments it
// into NAL units and groups them into access units. The frame rate and
// picture size come from the first SPS in the stream.
func LoadRaw(path string, codec demux.Codec) (*Stream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("media: read %s: %w", path, err)
	}

	units := demux.SegmentAnnexB(data, codec)
	if len(units) == 0 {
		return nil, errors.New("media: no NAL units found")
	}
	info := demux.StreamSPSInfo(units, codec)

	return &Stream{
		Codec:       codec,
		FPS:         info.FPS,
		Width:       info.Width,
		Height:      info.Height,
		AccessUnits: demux.GroupAccessUnits(units, codec),
	}, nil
}
