package wire

import "encoding/binary"

// Frame layout constants. All multi-byte fields are big-endian.
const (
	// Magic opens every frame.
	Magic uint16 = 0xEB01

	// Version is the only protocol version this codec speaks.
	Version byte = 1

	// FixedHeaderSize is the byte length of the fixed header:
	// magic(2) version(1) type(1) flags(1) timestamp(8)
	// ext_length(1) payload_length(4) reserved(2).
	FixedHeaderSize = 20

	// FragmentThreshold is the largest payload carried in a single
	// frame. Anything bigger is split into fragments of exactly this
	// size, with the last fragment holding the remainder.
	FragmentThreshold = 16384

	// MaxFragments bounds total_fragments in a fragmented frame.
	MaxFragments = 256
)

// Extension block sizes.
const (
	fragmentExtSize = 6
	commonExtSize   = 10
	typeExtSize     = 4
)

// MsgType identifies what a frame carries.
type MsgType byte

const (
	MsgVideo    MsgType = 1
	MsgAudio    MsgType = 2
	MsgImage    MsgType = 3
	MsgMetadata MsgType = 4
	MsgControl  MsgType = 5
)

// Fixed-header flag bits.
const (
	// FlagFragment marks a frame as one fragment of a larger payload.
	// The fragment extension is present.
	FlagFragment byte = 0x01

	// FlagEncrypted and FlagCompressed are defined by the protocol but
	// never set by this sender.
	FlagEncrypted  byte = 0x02
	FlagCompressed byte = 0x04

	// FlagHasCommon marks the common extension (and the type-specific
	// extension after it) as present.
	FlagHasCommon byte = 0x08
)

// Common-extension field bits.
const (
	// CommonAbsTime marks an 8-byte absolute wall-clock time in
	// milliseconds.
	CommonAbsTime byte = 0x01

	// CommonWatermark and CommonSeqNumber mark a 4-byte watermark ID
	// and a 4-byte sequence number. This sender never emits them; the
	// decoder skips them by length.
	CommonWatermark byte = 0x02
	CommonSeqNumber byte = 0x04
)

// VideoCodec is the wire value for a video payload's codec.
type VideoCodec byte

const (
	VideoH264  VideoCodec = 1
	VideoH265  VideoCodec = 2
	VideoMJPEG VideoCodec = 3
)

// FrameType is the wire value for a video payload's picture type.
type FrameType byte

const (
	FrameIDR    FrameType = 1
	FrameI      FrameType = 2
	FrameP      FrameType = 3
	FrameB      FrameType = 4
	FrameSPSPPS FrameType = 5
	FrameVPS    FrameType = 6
)

// AudioCodec is the wire value for an audio payload's codec.
type AudioCodec byte

const (
	AudioG711A AudioCodec = 1
	AudioG711U AudioCodec = 2
	AudioG726  AudioCodec = 3
	AudioAAC   AudioCodec = 4
)

// SampleRateCode maps a sample rate in Hz to its wire code. Unknown
// rates map to the 8 kHz code.
func SampleRateCode(rate int) byte {
	switch rate {
	case 8000:
		return 1
	case 16000:
		return 2
	case 44100:
		return 3
	case 48000:
		return 4
	default:
		return 1
	}
}

// EncodeVideo encodes one video access unit into wire frames. Payloads
// at or below FragmentThreshold yield a single frame; larger payloads
// yield one frame per fragment, all sharing timestampMs and frameID.
// Only the first fragment carries the common and video extensions.
func EncodeVideo(payload []byte, codec VideoCodec, frameType FrameType, timestampMs, absTimeMs int64, frameID uint16) [][]byte {
	ext := [typeExtSize]byte{byte(codec), byte(frameType)}
	// ext[2:4] is the resolution code, always zero for raw dimensions.
	return encode(MsgVideo, payload, ext, timestampMs, absTimeMs, frameID)
}

// EncodeAudio encodes one audio frame into wire frames, fragmenting
// exactly like EncodeVideo.
func EncodeAudio(payload []byte, codec AudioCodec, rateCode, channels byte, timestampMs, absTimeMs int64, frameID uint16) [][]byte {
	ext := [typeExtSize]byte{byte(codec), rateCode, channels, 0}
	return encode(MsgAudio, payload, ext, timestampMs, absTimeMs, frameID)
}

func encode(msgType MsgType, payload []byte, typeExt [typeExtSize]byte, timestampMs, absTimeMs int64, frameID uint16) [][]byte {
	if len(payload) <= FragmentThreshold {
		return [][]byte{buildFrame(msgType, FlagHasCommon, timestampMs, nil, commonExt(absTimeMs), typeExt[:], payload)}
	}

	total := (len(payload) + FragmentThreshold - 1) / FragmentThreshold
	frames := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * FragmentThreshold
		end := start + FragmentThreshold
		if end > len(payload) {
			end = len(payload)
		}
		frag := fragmentExt(frameID, uint16(i), uint16(total))
		if i == 0 {
			frames = append(frames, buildFrame(msgType, FlagFragment|FlagHasCommon, timestampMs, frag[:], commonExt(absTimeMs), typeExt[:], payload[start:end]))
		} else {
			frames = append(frames, buildFrame(msgType, FlagFragment, timestampMs, frag[:], nil, nil, payload[start:end]))
		}
	}
	return frames
}

func buildFrame(msgType MsgType, flags byte, timestampMs int64, fragExt, common, typeExt, payload []byte) []byte {
	extLen := len(fragExt) + len(common) + len(typeExt)

	var hdr [FixedHeaderSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], Magic)
	hdr[2] = Version
	hdr[3] = byte(msgType)
	hdr[4] = flags
	binary.BigEndian.PutUint64(hdr[5:13], uint64(timestampMs))
	hdr[13] = byte(extLen)
	binary.BigEndian.PutUint32(hdr[14:18], uint32(len(payload)))

	frame := make([]byte, 0, FixedHeaderSize+extLen+len(payload))
	frame = append(frame, hdr[:]...)
	frame = append(frame, fragExt...)
	frame = append(frame, common...)
	frame = append(frame, typeExt...)
	frame = append(frame, payload...)
	return frame
}

// commonExt builds the common extension: inclusive length, field flags,
// then the absolute time in milliseconds.
func commonExt(absTimeMs int64) []byte {
	ext := make([]byte, commonExtSize)
	ext[0] = commonExtSize
	ext[1] = CommonAbsTime
	binary.BigEndian.PutUint64(ext[2:10], uint64(absTimeMs))
	return ext
}

// fragmentExt builds the fragment extension: frame ID, fragment index,
// total fragments.
func fragmentExt(frameID, index, total uint16) [fragmentExtSize]byte {
	var ext [fragmentExtSize]byte
	binary.BigEndian.PutUint16(ext[0:2], frameID)
	binary.BigEndian.PutUint16(ext[2:4], index)
	binary.BigEndian.PutUint16(ext[4:6], total)
	return ext
}
