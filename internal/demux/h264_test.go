package demux

import (
	"bytes"
	"testing"
)

// h264SPS describes a sequence parameter set to encode for tests.
type h264SPS struct {
	profileIDC     uint32
	levelIDC       uint32
	pocType        uint32
	pocCycleLen    int
	scalingMatrix  bool
	widthMbs       uint32
	heightMbs      uint32
	cropRight      uint32
	cropBottom     uint32
	vui            bool
	fullVUIPrefix  bool
	timing         bool
	numUnitsInTick uint32
	timeScale      uint32
}

func (p h264SPS) encode() []byte {
	w := &bitWriter{}
	w.putBits(8, p.profileIDC)
	w.putBits(8, 0) // constraint_set flags
	w.putBits(8, p.levelIDC)
	w.putUE(0) // seq_parameter_set_id

	switch p.profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128:
		w.putUE(1)      // chroma_format_idc 4:2:0
		w.putUE(0)      // bit_depth_luma_minus8
		w.putUE(0)      // bit_depth_chroma_minus8
		w.putBit(false) // qpprime_y_zero_transform_bypass_flag
		w.putBit(p.scalingMatrix)
		if p.scalingMatrix {
			for i := 0; i < 8; i++ {
				w.putBit(i == 0)
				if i == 0 {
					w.putSE(-8) // delta scale, zeroes next_scale immediately
				}
			}
		}
	}

	w.putUE(4) // log2_max_frame_num_minus4
	w.putUE(p.pocType)
	switch p.pocType {
	case 0:
		w.putUE(4) // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		w.putBit(false) // delta_pic_order_always_zero_flag
		w.putSE(-1)     // offset_for_non_ref_pic
		w.putSE(1)      // offset_for_top_to_bottom_field
		w.putUE(uint32(p.pocCycleLen))
		for i := 0; i < p.pocCycleLen; i++ {
			w.putSE(int32(i + 1))
		}
	}

	w.putUE(1)      // max_num_ref_frames
	w.putBit(false) // gaps_in_frame_num_value_allowed_flag
	w.putUE(p.widthMbs - 1)
	w.putUE(p.heightMbs - 1)
	w.putBit(true) // frame_mbs_only_flag
	w.putBit(true) // direct_8x8_inference_flag

	crop := p.cropRight != 0 || p.cropBottom != 0
	w.putBit(crop)
	if crop {
		w.putUE(0)
		w.putUE(p.cropRight)
		w.putUE(0)
		w.putUE(p.cropBottom)
	}

	w.putBit(p.vui)
	if p.vui {
		if p.fullVUIPrefix {
			w.putBit(true)    // aspect_ratio_info_present_flag
			w.putBits(8, 255) // Extended_SAR
			w.putBits(16, 16) // sar_width
			w.putBits(16, 9)  // sar_height
			w.putBit(true)    // overscan_info_present_flag
			w.putBit(false)   // overscan_appropriate_flag
			w.putBit(true)    // video_signal_type_present_flag
			w.putBits(3, 5)   // video_format
			w.putBit(false)   // video_full_range_flag
			w.putBit(true)    // colour_description_present_flag
			w.putBits(8, 1)   // colour_primaries
			w.putBits(8, 1)   // transfer_characteristics
			w.putBits(8, 1)   // matrix_coefficients
			w.putBit(true)    // chroma_loc_info_present_flag
			w.putUE(0)
			w.putUE(0)
		} else {
			w.putBit(false) // aspect_ratio_info_present_flag
			w.putBit(false) // overscan_info_present_flag
			w.putBit(false) // video_signal_type_present_flag
			w.putBit(false) // chroma_loc_info_present_flag
		}
		w.putBit(p.timing)
		if p.timing {
			w.putBits(32, p.numUnitsInTick)
			w.putBits(32, p.timeScale)
			w.putBit(true) // fixed_frame_rate_flag
		}
	}
	w.stopAndPad()

	return append([]byte{0x00, 0x00, 0x00, 0x01, 0x67}, escapeEPB(w.bytes())...)
}

func TestParseH264SPS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sps  h264SPS
		want SPSInfo
	}{
		{
			name: "baseline with vui timing",
			sps: h264SPS{
				profileIDC: 66, levelIDC: 30, widthMbs: 20, heightMbs: 15,
				vui: true, timing: true, numUnitsInTick: 1, timeScale: 50,
			},
			want: SPSInfo{ProfileIDC: 66, LevelIDC: 30, Width: 320, Height: 240, FPS: 25.0},
		},
		{
			name: "no vui falls back to default",
			sps:  h264SPS{profileIDC: 66, levelIDC: 30, widthMbs: 20, heightMbs: 15},
			want: SPSInfo{ProfileIDC: 66, LevelIDC: 30, Width: 320, Height: 240, FPS: DefaultFPS},
		},
		{
			name: "vui without timing info",
			sps:  h264SPS{profileIDC: 66, levelIDC: 30, widthMbs: 20, heightMbs: 15, vui: true},
			want: SPSInfo{ProfileIDC: 66, LevelIDC: 30, Width: 320, Height: 240, FPS: DefaultFPS},
		},
		{
			name: "zero num units rejected",
			sps: h264SPS{
				profileIDC: 66, levelIDC: 30, widthMbs: 20, heightMbs: 15,
				vui: true, timing: true, numUnitsInTick: 0, timeScale: 50,
			},
			want: SPSInfo{ProfileIDC: 66, LevelIDC: 30, Width: 320, Height: 240, FPS: DefaultFPS},
		},
		{
			name: "high profile chroma fields",
			sps: h264SPS{
				profileIDC: 100, levelIDC: 40, widthMbs: 80, heightMbs: 45,
				vui: true, timing: true, numUnitsInTick: 1, timeScale: 60,
			},
			want: SPSInfo{ProfileIDC: 100, LevelIDC: 40, Width: 1280, Height: 720, FPS: 30.0},
		},
		{
			name: "high profile with scaling list",
			sps: h264SPS{
				profileIDC: 100, levelIDC: 40, widthMbs: 80, heightMbs: 45, scalingMatrix: true,
				vui: true, timing: true, numUnitsInTick: 1, timeScale: 50,
			},
			want: SPSInfo{ProfileIDC: 100, LevelIDC: 40, Width: 1280, Height: 720, FPS: 25.0},
		},
		{
			name: "pic order cnt type one",
			sps: h264SPS{
				profileIDC: 66, levelIDC: 30, pocType: 1, pocCycleLen: 2,
				widthMbs: 20, heightMbs: 15,
				vui: true, timing: true, numUnitsInTick: 1, timeScale: 50,
			},
			want: SPSInfo{ProfileIDC: 66, LevelIDC: 30, Width: 320, Height: 240, FPS: 25.0},
		},
		{
			name: "full vui prefix skipped",
			sps: h264SPS{
				profileIDC: 66, levelIDC: 31, widthMbs: 20, heightMbs: 15, fullVUIPrefix: true,
				vui: true, timing: true, numUnitsInTick: 1, timeScale: 120,
			},
			want: SPSInfo{ProfileIDC: 66, LevelIDC: 31, Width: 320, Height: 240, FPS: 60.0},
		},
		{
			name: "frame cropping applied",
			sps: h264SPS{
				profileIDC: 100, levelIDC: 42, widthMbs: 120, heightMbs: 68, cropBottom: 4,
				vui: true, timing: true, numUnitsInTick: 1, timeScale: 50,
			},
			want: SPSInfo{ProfileIDC: 100, LevelIDC: 42, Width: 1920, Height: 1080, FPS: 25.0},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ParseH264SPS(tt.sps.encode())
			if got != tt.want {
				t.Errorf("ParseH264SPS() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseH264SPSWithoutStartCode(t *testing.T) {
	t.Parallel()

	nal := h264SPS{
		profileIDC: 66, levelIDC: 30, widthMbs: 20, heightMbs: 15,
		vui: true, timing: true, numUnitsInTick: 1, timeScale: 50,
	}.encode()

	if got := ParseH264FPS(nal[4:]); got != 25.0 {
		t.Errorf("ParseH264FPS without start code = %v, want 25", got)
	}
}

func TestParseH264SPSTruncated(t *testing.T) {
	t.Parallel()

	full := h264SPS{
		profileIDC: 100, levelIDC: 40, widthMbs: 80, heightMbs: 45,
		vui: true, timing: true, numUnitsInTick: 1, timeScale: 50,
	}.encode()

	// Stop short of the end: the last bytes hold only the stop bit and
	// padding, which the parser never needs.
	for n := 0; n < len(full)-2; n++ {
		got := ParseH264SPS(full[:n])
		if got.FPS != DefaultFPS {
			t.Errorf("truncated at %d: FPS = %v, want %v", n, got.FPS, DefaultFPS)
		}
	}
}

func TestStreamFPSFromFirstSPS(t *testing.T) {
	t.Parallel()

	sps := h264SPS{
		profileIDC: 66, levelIDC: 30, widthMbs: 20, heightMbs: 15,
		vui: true, timing: true, numUnitsInTick: 1, timeScale: 50,
	}.encode()
	stream := bytes.Join([][]byte{sps, buildNAL(4, 0x65, 0x88)}, nil)

	units := SegmentAnnexB(stream, H264)
	if got := StreamFPS(units, H264); got != 25.0 {
		t.Errorf("StreamFPS = %v, want 25", got)
	}
}
