package demux

import "fmt"

// Codec selects the NAL header layout and type numbering of a stream.
type Codec byte

const (
	H264 Codec = iota + 1
	H265
)

// ParseCodec maps a codec name to a Codec. "hevc" is accepted as an alias
// for "h265".
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "h264":
		return H264, nil
	case "h265", "hevc":
		return H265, nil
	}
	return 0, fmt.Errorf("demux: unknown codec %q", s)
}

func (c Codec) String() string {
	switch c {
	case H264:
		return "h264"
	case H265:
		return "h265"
	}
	return "unknown"
}

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// H.265/HEVC NAL unit type constants as defined in ITU-T H.265 Table 7-1.
const (
	HEVCNALBlaWLP    = 16
	HEVCNALIDRWRadl  = 19
	HEVCNALIDRNlp    = 20
	HEVCNALCraNut    = 21
	HEVCNALIrapVcl   = 23 // upper bound of the reserved IRAP VCL range
	HEVCNALVPS       = 32
	HEVCNALSPS       = 33
	HEVCNALPPS       = 34
	HEVCNALAUD       = 35
	HEVCNALSEIPrefix = 39
)

// InvalidNALType marks a NAL unit whose header byte could not be read (a
// bare start code at end of buffer).
const InvalidNALType = 0xFF

// NALUnit is a single NAL unit cut from an Annex B stream. Data includes
// the start code bytes and aliases the segmented buffer.
type NALUnit struct {
	Type byte
	Data []byte
}

// AccessUnit is one decodable picture: the NAL units that compose it and
// their concatenated Annex B bytes.
type AccessUnit struct {
	NALUs []NALUnit
	Data  []byte
}

// H264NALType extracts the NAL type from an H.264 1-byte NAL header.
func H264NALType(firstByte byte) byte {
	return firstByte & 0x1F
}

// HEVCNALType extracts the NAL type from the first byte of an HEVC 2-byte
// NAL header: forbidden(1) | type(6) | layerID_high(1).
func HEVCNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// SegmentAnnexB scans an Annex B byte stream and cuts it into NAL units.
// Both 4-byte (00 00 00 01) and 3-byte (00 00 01) start codes are
// recognized, the 4-byte form winning at the same position. Each unit runs
// from its start code to the byte before the next start code or end of
// buffer, start code included; bytes before the first start code are
// discarded. Concatenating the returned units reproduces the input from
// the first start code onward.
func SegmentAnnexB(data []byte, codec Codec) []NALUnit {
	type startCode struct {
		pos    int
		length int
	}

	var codes []startCode
	for i := 0; i+2 < len(data); {
		if data[i] == 0x00 && data[i+1] == 0x00 {
			if i+3 < len(data) && data[i+2] == 0x00 && data[i+3] == 0x01 {
				codes = append(codes, startCode{pos: i, length: 4})
				i += 4
				continue
			}
			if data[i+2] == 0x01 {
				codes = append(codes, startCode{pos: i, length: 3})
				i += 3
				continue
			}
		}
		i++
	}

	units := make([]NALUnit, 0, len(codes))
	for idx, sc := range codes {
		end := len(data)
		if idx+1 < len(codes) {
			end = codes[idx+1].pos
		}
		nal := data[sc.pos:end]
		units = append(units, NALUnit{
			Type: nalHeaderType(nal, sc.length, codec),
			Data: nal,
		})
	}
	return units
}

func nalHeaderType(nal []byte, scLen int, codec Codec) byte {
	if len(nal) <= scLen {
		return InvalidNALType
	}
	if codec == H265 {
		return HEVCNALType(nal[scLen])
	}
	return H264NALType(nal[scLen])
}

func isAUD(nalType byte, codec Codec) bool {
	if codec == H265 {
		return nalType == HEVCNALAUD
	}
	return nalType == NALTypeAUD
}

func isVCL(nalType byte, codec Codec) bool {
	if codec == H265 {
		return nalType <= 31
	}
	return nalType == NALTypeSlice || nalType == NALTypeIDR
}

// GroupAccessUnits groups segmented NAL units into access units. An AU
// boundary falls immediately before an AUD, and before any NAL once the
// current AU holds a VCL NAL, so leading parameter sets and SEI attach to
// the picture that follows them. The final AU is emitted at end of input.
func GroupAccessUnits(nalus []NALUnit, codec Codec) []AccessUnit {
	var aus []AccessUnit
	var cur []NALUnit
	hasVCL := false

	flush := func() {
		if len(cur) == 0 {
			return
		}
		aus = append(aus, newAccessUnit(cur))
		cur = nil
		hasVCL = false
	}

	for _, nal := range nalus {
		if isAUD(nal.Type, codec) || hasVCL {
			flush()
		}
		cur = append(cur, nal)
		if isVCL(nal.Type, codec) {
			hasVCL = true
		}
	}
	flush()
	return aus
}

func newAccessUnit(nalus []NALUnit) AccessUnit {
	total := 0
	for _, n := range nalus {
		total += len(n.Data)
	}
	data := make([]byte, 0, total)
	for _, n := range nalus {
		data = append(data, n.Data...)
	}
	return AccessUnit{NALUs: nalus, Data: data}
}

// StreamSPSInfo parses the first SPS in the stream. A stream without an
// SPS yields zero dimensions and DefaultFPS.
func StreamSPSInfo(nalus []NALUnit, codec Codec) SPSInfo {
	for _, nal := range nalus {
		if codec == H265 && nal.Type == HEVCNALSPS {
			return ParseH265SPS(nal.Data)
		}
		if codec == H264 && nal.Type == NALTypeSPS {
			return ParseH264SPS(nal.Data)
		}
	}
	return SPSInfo{FPS: DefaultFPS}
}

// StreamFPS extracts the frame rate from the first SPS in the stream, or
// returns DefaultFPS if no SPS is present.
func StreamFPS(nalus []NALUnit, codec Codec) float64 {
	return StreamSPSInfo(nalus, codec).FPS
}
