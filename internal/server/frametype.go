package server

import (
	"encoding/binary"

	"github.com/zsiec/wscast/internal/demux"
	"github.com/zsiec/wscast/internal/wire"
)

// accessUnitFrameType classifies a raw access unit by its first NAL unit
// with a recognized type. Units carrying only SEI or other non-frame
// NALs fall back to P.
func accessUnitFrameType(au demux.AccessUnit, codec demux.Codec) wire.FrameType {
	for _, nal := range au.NALUs {
		if ft, ok := classifyNAL(nal.Type, codec); ok {
			return ft
		}
	}
	return wire.FrameP
}

// packetFrameType classifies a container video packet. Loaded packets
// are Annex B; anything without a leading start code is treated as AVCC
// with 4-byte length prefixes.
func packetFrameType(data []byte, codec demux.Codec) wire.FrameType {
	if hasStartCode(data) {
		for _, nal := range demux.SegmentAnnexB(data, codec) {
			if ft, ok := classifyNAL(nal.Type, codec); ok {
				return ft
			}
		}
		return wire.FrameP
	}
	for off := 0; off+4 <= len(data); {
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if n <= 0 || n > len(data)-off {
			break
		}
		t := demux.H264NALType(data[off])
		if codec == demux.H265 {
			t = demux.HEVCNALType(data[off])
		}
		if ft, ok := classifyNAL(t, codec); ok {
			return ft
		}
		off += n
	}
	return wire.FrameP
}

func hasStartCode(data []byte) bool {
	if len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 {
		return data[2] == 0x01 || (len(data) >= 4 && data[2] == 0x00 && data[3] == 0x01)
	}
	return false
}

func classifyNAL(nalType byte, codec demux.Codec) (wire.FrameType, bool) {
	if codec == demux.H265 {
		switch {
		case nalType == demux.HEVCNALVPS:
			return wire.FrameVPS, true
		case nalType == demux.HEVCNALSPS || nalType == demux.HEVCNALPPS:
			return wire.FrameSPSPPS, true
		case nalType == demux.HEVCNALIDRWRadl || nalType == demux.HEVCNALIDRNlp:
			return wire.FrameIDR, true
		case nalType >= demux.HEVCNALBlaWLP && nalType <= demux.HEVCNALIrapVcl:
			return wire.FrameI, true
		case nalType <= 15:
			return wire.FrameP, true
		}
		return 0, false
	}
	switch nalType {
	case demux.NALTypeSPS, demux.NALTypePPS:
		return wire.FrameSPSPPS, true
	case demux.NALTypeIDR:
		return wire.FrameIDR, true
	case demux.NALTypeSlice:
		return wire.FrameP, true
	}
	return 0, false
}

func wireVideoCodec(c demux.Codec) wire.VideoCodec {
	if c == demux.H265 {
		return wire.VideoH265
	}
	return wire.VideoH264
}

func wireAudioCodec(name string) wire.AudioCodec {
	switch name {
	case "pcm_alaw":
		return wire.AudioG711A
	case "pcm_mulaw":
		return wire.AudioG711U
	case "g726":
		return wire.AudioG726
	}
	return wire.AudioAAC
}
