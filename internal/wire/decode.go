package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// FragmentTimeout is how long a partially reassembled frame may wait
// for its remaining fragments before GC drops it.
const FragmentTimeout = 500 * time.Millisecond

// maxPendingFrames bounds the reassembly table. When a fragment for a
// new frame arrives at the cap, the oldest entry is dropped.
const maxPendingFrames = 16

// ErrCommonLength means the common extension's length byte does not
// cover its own fixed fields.
var ErrCommonLength = errors.New("wire: common extension length out of range")

// Status reports the outcome of parsing one frame.
type Status int

const (
	// StatusComplete means a whole frame was decoded.
	StatusComplete Status = iota

	// StatusFragment means the frame was a fragment and the whole is
	// still incomplete.
	StatusFragment

	// StatusSkip means the frame carries an unsupported version and
	// was ignored.
	StatusSkip

	// StatusError means the frame was malformed and dropped.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusFragment:
		return "fragment"
	case StatusSkip:
		return "skip"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is one decoded protocol frame. For fragmented frames it is the
// reassembled whole and Payload owns its storage; for unfragmented
// frames Payload aliases the parsed input.
type Frame struct {
	Type      MsgType
	Timestamp int64
	AbsTime   int64

	// FrameID is set only for reassembled frames.
	FrameID uint16

	// Video extension fields, set when Type is MsgVideo.
	VideoCodec VideoCodec
	FrameType  FrameType
	Resolution uint16

	// Audio extension fields, set when Type is MsgAudio.
	AudioCodec AudioCodec
	RateCode   byte
	Channels   byte

	Payload []byte
}

type pendingFrame struct {
	frameID  uint16
	total    int
	received int
	present  []bool
	parts    [][]byte
	meta     Frame
	added    time.Time
}

// Decoder parses wire frames and reassembles fragmented ones. It keeps
// per-frame state, so use one Decoder per connection. Not safe for
// concurrent use.
type Decoder struct {
	entries []*pendingFrame
	now     func() time.Time
}

func NewDecoder() *Decoder {
	return &Decoder{now: time.Now}
}

// Parse decodes one frame. StatusComplete returns the decoded frame,
// StatusFragment means more fragments are needed, StatusSkip means an
// unsupported version was ignored, and StatusError reports a malformed
// frame through err. Errors never disturb reassembly state.
func (d *Decoder) Parse(buf []byte) (Frame, Status, error) {
	if len(buf) < FixedHeaderSize {
		return Frame{}, StatusError, ErrShortFrame
	}
	if binary.BigEndian.Uint16(buf[0:2]) != Magic {
		return Frame{}, StatusError, ErrBadMagic
	}
	if buf[2] != Version {
		return Frame{}, StatusSkip, nil
	}

	flags := buf[4]
	extLen := int(buf[13])
	payloadLen := int(binary.BigEndian.Uint32(buf[14:18]))
	if len(buf) < FixedHeaderSize+extLen+payloadLen {
		return Frame{}, StatusError, ErrTruncated
	}

	f := Frame{
		Type:      MsgType(buf[3]),
		Timestamp: int64(binary.BigEndian.Uint64(buf[5:13])),
	}

	ext := buf[FixedHeaderSize : FixedHeaderSize+extLen]
	pos := 0

	var fragID, fragIndex, fragTotal uint16
	if flags&FlagFragment != 0 {
		if len(ext)-pos < fragmentExtSize {
			return Frame{}, StatusError, &ParseError{Field: "fragment extension", Err: io.ErrUnexpectedEOF}
		}
		fragID = binary.BigEndian.Uint16(ext[pos : pos+2])
		fragIndex = binary.BigEndian.Uint16(ext[pos+2 : pos+4])
		fragTotal = binary.BigEndian.Uint16(ext[pos+4 : pos+6])
		pos += fragmentExtSize
		if fragTotal == 0 || fragTotal > MaxFragments {
			return Frame{}, StatusError, ErrFragmentCount
		}
		if fragIndex >= fragTotal {
			return Frame{}, StatusError, ErrFragmentIndex
		}
	}

	if flags&FlagHasCommon != 0 {
		if len(ext)-pos < 2 {
			return Frame{}, StatusError, &ParseError{Field: "common extension", Err: io.ErrUnexpectedEOF}
		}
		commonLen := int(ext[pos])
		if commonLen < 2 {
			return Frame{}, StatusError, &ParseError{Field: "common extension", Err: ErrCommonLength}
		}
		if len(ext)-pos < commonLen {
			return Frame{}, StatusError, &ParseError{Field: "common extension", Err: io.ErrUnexpectedEOF}
		}
		cflags := ext[pos+1]
		fpos := pos + 2
		end := pos + commonLen
		if cflags&CommonAbsTime != 0 {
			if end-fpos < 8 {
				return Frame{}, StatusError, &ParseError{Field: "common extension", Err: io.ErrUnexpectedEOF}
			}
			f.AbsTime = int64(binary.BigEndian.Uint64(ext[fpos : fpos+8]))
			fpos += 8
		}
		if cflags&CommonWatermark != 0 {
			if end-fpos < 4 {
				return Frame{}, StatusError, &ParseError{Field: "common extension", Err: io.ErrUnexpectedEOF}
			}
			fpos += 4
		}
		if cflags&CommonSeqNumber != 0 {
			if end-fpos < 4 {
				return Frame{}, StatusError, &ParseError{Field: "common extension", Err: io.ErrUnexpectedEOF}
			}
			fpos += 4
		}
		// Unknown fields inside the block are skipped via its length.
		pos = end

		switch f.Type {
		case MsgVideo:
			if len(ext)-pos < typeExtSize {
				return Frame{}, StatusError, &ParseError{Field: "video extension", Err: io.ErrUnexpectedEOF}
			}
			f.VideoCodec = VideoCodec(ext[pos])
			f.FrameType = FrameType(ext[pos+1])
			f.Resolution = binary.BigEndian.Uint16(ext[pos+2 : pos+4])
			pos += typeExtSize
		case MsgAudio:
			if len(ext)-pos < typeExtSize {
				return Frame{}, StatusError, &ParseError{Field: "audio extension", Err: io.ErrUnexpectedEOF}
			}
			f.AudioCodec = AudioCodec(ext[pos])
			f.RateCode = ext[pos+1]
			f.Channels = ext[pos+2]
			pos += typeExtSize
		}
		// Any extension bytes past the known blocks are ignored.
	}

	payload := buf[FixedHeaderSize+extLen : FixedHeaderSize+extLen+payloadLen]
	if flags&FlagFragment == 0 {
		f.Payload = payload
		return f, StatusComplete, nil
	}
	return d.addFragment(f, fragID, int(fragIndex), int(fragTotal), payload)
}

func (d *Decoder) addFragment(meta Frame, frameID uint16, index, total int, payload []byte) (Frame, Status, error) {
	entry := d.lookup(frameID)
	if entry == nil {
		if len(d.entries) >= maxPendingFrames {
			d.entries = d.entries[1:]
		}
		entry = &pendingFrame{
			frameID: frameID,
			total:   total,
			present: make([]bool, total),
			parts:   make([][]byte, total),
			added:   d.now(),
		}
		d.entries = append(d.entries, entry)
	} else if entry.total != total {
		return Frame{}, StatusError, ErrFragmentMismatch
	}

	if index == 0 {
		meta.FrameID = frameID
		entry.meta = meta
	}
	if entry.present[index] {
		return Frame{}, StatusFragment, nil
	}
	part := make([]byte, len(payload))
	copy(part, payload)
	entry.parts[index] = part
	entry.present[index] = true
	entry.received++

	if entry.received < entry.total {
		return Frame{}, StatusFragment, nil
	}

	size := 0
	for _, p := range entry.parts {
		size += len(p)
	}
	whole := make([]byte, 0, size)
	for _, p := range entry.parts {
		whole = append(whole, p...)
	}
	d.remove(frameID)

	out := entry.meta
	out.FrameID = frameID
	out.Payload = whole
	return out, StatusComplete, nil
}

func (d *Decoder) lookup(frameID uint16) *pendingFrame {
	for _, e := range d.entries {
		if e.frameID == frameID {
			return e
		}
	}
	return nil
}

func (d *Decoder) remove(frameID uint16) {
	for i, e := range d.entries {
		if e.frameID == frameID {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return
		}
	}
}

// GC drops reassembly entries older than FragmentTimeout at now and
// reports how many were dropped.
func (d *Decoder) GC(now time.Time) int {
	kept := d.entries[:0]
	dropped := 0
	for _, e := range d.entries {
		if now.Sub(e.added) > FragmentTimeout {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(d.entries); i++ {
		d.entries[i] = nil
	}
	d.entries = kept
	return dropped
}
