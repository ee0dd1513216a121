package demux

import (
	"testing"
)

func TestHEVCNALType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		firstByte byte
		want      byte
	}{
		{"VPS (32)", 0x40, HEVCNALVPS},
		{"SPS (33)", 0x42, HEVCNALSPS},
		{"PPS (34)", 0x44, HEVCNALPPS},
		{"IDR_W_RADL (19)", 0x26, HEVCNALIDRWRadl},
		{"IDR_N_LP (20)", 0x28, HEVCNALIDRNlp},
		{"CRA (21)", 0x2A, HEVCNALCraNut},
		{"BLA_W_LP (16)", 0x20, HEVCNALBlaWLP},
		{"TRAIL_R (1)", 0x02, 1},
		{"TRAIL_N (0)", 0x00, 0},
		{"SEI_PREFIX (39)", 0x4E, HEVCNALSEIPrefix},
		{"AUD (35)", 0x46, HEVCNALAUD},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := HEVCNALType(tt.firstByte); got != tt.want {
				t.Errorf("HEVCNALType(0x%02X) = %d, want %d", tt.firstByte, got, tt.want)
			}
		})
	}
}

// h265SPS describes an HEVC sequence parameter set to encode for tests.
type h265SPS struct {
	maxSubLayersMinus1 uint32
	subLayerProfiles   bool
	profileIDC         uint32
	levelIDC           uint32
	width              uint32
	height             uint32
	confWindow         bool
	confBottom         uint32
	log2MaxPocLsb      uint32
	numShortTermSets   int
	longTermRefs       int
	scalingList        bool
	pcm                bool
	vui                bool
	fullVUIPrefix      bool
	timing             bool
	numUnitsInTick     uint32
	timeScale          uint32
}

func (p h265SPS) encode() []byte {
	w := &bitWriter{}
	w.putBits(4, 0) // sps_video_parameter_set_id
	w.putBits(3, p.maxSubLayersMinus1)
	w.putBit(true) // sps_temporal_id_nesting_flag

	// profile_tier_level
	w.putBits(2, 0) // general_profile_space
	w.putBit(false) // general_tier_flag
	w.putBits(5, p.profileIDC)
	w.putBits(32, 0x60000000) // general_profile_compatibility_flags
	w.putBits(32, 0x90000000) // constraint flags
	w.putBits(16, 0)          // reserved
	w.putBits(8, p.levelIDC)
	for i := uint32(0); i < p.maxSubLayersMinus1; i++ {
		w.putBit(p.subLayerProfiles) // sub_layer_profile_present_flag
		w.putBit(p.subLayerProfiles) // sub_layer_level_present_flag
	}
	if p.maxSubLayersMinus1 > 0 {
		for i := p.maxSubLayersMinus1; i < 8; i++ {
			w.putBits(2, 0) // reserved_zero_2bits
		}
	}
	for i := uint32(0); i < p.maxSubLayersMinus1; i++ {
		if p.subLayerProfiles {
			w.putBits(32, 0)
			w.putBits(32, 0)
			w.putBits(24, 0) // 88 bits of sub_layer profile info
			w.putBits(8, 30) // sub_layer_level_idc
		}
	}

	w.putUE(0) // sps_seq_parameter_set_id
	w.putUE(1) // chroma_format_idc 4:2:0
	w.putUE(p.width)
	w.putUE(p.height)
	w.putBit(p.confWindow)
	if p.confWindow {
		w.putUE(0) // conf_win_left_offset
		w.putUE(0) // conf_win_right_offset
		w.putUE(0) // conf_win_top_offset
		w.putUE(p.confBottom)
	}
	w.putUE(0) // bit_depth_luma_minus8
	w.putUE(0) // bit_depth_chroma_minus8
	w.putUE(p.log2MaxPocLsb)
	w.putBit(true) // sps_sub_layer_ordering_info_present_flag
	for i := uint32(0); i <= p.maxSubLayersMinus1; i++ {
		w.putUE(4) // sps_max_dec_pic_buffering_minus1
		w.putUE(0) // sps_max_num_reorder_pics
		w.putUE(0) // sps_max_latency_increase_plus1
	}
	w.putUE(0) // log2_min_luma_coding_block_size_minus3
	w.putUE(3) // log2_diff_max_min_luma_coding_block_size
	w.putUE(0) // log2_min_luma_transform_block_size_minus2
	w.putUE(3) // log2_diff_max_min_luma_transform_block_size
	w.putUE(0) // max_transform_hierarchy_depth_inter
	w.putUE(0) // max_transform_hierarchy_depth_intra

	w.putBit(p.scalingList) // scaling_list_enabled_flag
	if p.scalingList {
		w.putBit(true) // sps_scaling_list_data_present_flag
		for sizeID := 0; sizeID < 4; sizeID++ {
			count := 6
			if sizeID == 3 {
				count = 2
			}
			for m := 0; m < count; m++ {
				w.putBit(false) // scaling_list_pred_mode_flag
				w.putUE(0)      // scaling_list_pred_matrix_id_delta
			}
		}
	}

	w.putBit(false) // amp_enabled_flag
	w.putBit(true)  // sample_adaptive_offset_enabled_flag
	w.putBit(p.pcm)
	if p.pcm {
		w.putBits(8, 0x77) // pcm sample bit depths
		w.putUE(0)         // log2_min_pcm_luma_coding_block_size_minus3
		w.putUE(2)         // log2_diff_max_min_pcm_luma_coding_block_size
		w.putBit(false)    // pcm_loop_filter_disabled_flag
	}

	w.putUE(uint32(p.numShortTermSets))
	for i := 0; i < p.numShortTermSets; i++ {
		if i != 0 {
			w.putBit(false) // inter_ref_pic_set_prediction_flag
		}
		w.putUE(1)     // num_negative_pics
		w.putUE(0)     // num_positive_pics
		w.putUE(0)     // delta_poc_s0_minus1
		w.putBit(true) // used_by_curr_pic_s0_flag
	}

	w.putBit(p.longTermRefs > 0)
	if p.longTermRefs > 0 {
		w.putUE(uint32(p.longTermRefs))
		for i := 0; i < p.longTermRefs; i++ {
			w.putBits(int(p.log2MaxPocLsb)+4, 0) // lt_ref_pic_poc_lsb_sps
			w.putBit(false)                      // used_by_curr_pic_lt_sps_flag
		}
	}

	w.putBit(true) // sps_temporal_mvp_enabled_flag
	w.putBit(true) // strong_intra_smoothing_enabled_flag

	w.putBit(p.vui)
	if p.vui {
		if p.fullVUIPrefix {
			w.putBit(true)    // aspect_ratio_info_present_flag
			w.putBits(8, 255) // Extended_SAR
			w.putBits(16, 4)  // sar_width
			w.putBits(16, 3)  // sar_height
			w.putBit(true)    // overscan_info_present_flag
			w.putBit(true)    // overscan_appropriate_flag
			w.putBit(true)    // video_signal_type_present_flag
			w.putBits(3, 5)   // video_format
			w.putBit(false)   // video_full_range_flag
			w.putBit(true)    // colour_description_present_flag
			w.putBits(8, 9)   // colour_primaries
			w.putBits(8, 16)  // transfer_characteristics
			w.putBits(8, 9)   // matrix_coeffs
			w.putBit(true)    // chroma_loc_info_present_flag
			w.putUE(0)
			w.putUE(0)
		} else {
			w.putBit(false) // aspect_ratio_info_present_flag
			w.putBit(false) // overscan_info_present_flag
			w.putBit(false) // video_signal_type_present_flag
			w.putBit(false) // chroma_loc_info_present_flag
		}
		w.putBits(3, 0) // neutral_chroma + field_seq + frame_field_info
		if p.fullVUIPrefix {
			w.putBit(true) // default_display_window_flag
			w.putUE(0)
			w.putUE(0)
			w.putUE(2)
			w.putUE(2)
		} else {
			w.putBit(false)
		}
		w.putBit(p.timing)
		if p.timing {
			w.putBits(32, p.numUnitsInTick)
			w.putBits(32, p.timeScale)
			w.putBit(false) // vui_poc_proportional_to_timing_flag
		}
	}
	w.stopAndPad()

	// NAL header: type 33, layer 0, temporal id 0
	return append([]byte{0x00, 0x00, 0x00, 0x01, 0x42, 0x01}, escapeEPB(w.bytes())...)
}

func TestParseH265SPS(t *testing.T) {
	t.Parallel()

	base := h265SPS{
		profileIDC: 1, levelIDC: 93, width: 1920, height: 1080, log2MaxPocLsb: 4,
		numShortTermSets: 1,
		vui:              true, timing: true, numUnitsInTick: 1, timeScale: 25,
	}

	tests := []struct {
		name   string
		modify func(*h265SPS)
		want   SPSInfo
	}{
		{
			name:   "main profile with vui timing",
			modify: func(p *h265SPS) {},
			want:   SPSInfo{ProfileIDC: 1, LevelIDC: 93, Width: 1920, Height: 1080, FPS: 25.0},
		},
		{
			name:   "no vui falls back to default",
			modify: func(p *h265SPS) { p.vui = false; p.timing = false },
			want:   SPSInfo{ProfileIDC: 1, LevelIDC: 93, Width: 1920, Height: 1080, FPS: DefaultFPS},
		},
		{
			name:   "vui without timing info",
			modify: func(p *h265SPS) { p.timing = false },
			want:   SPSInfo{ProfileIDC: 1, LevelIDC: 93, Width: 1920, Height: 1080, FPS: DefaultFPS},
		},
		{
			name:   "zero time scale rejected",
			modify: func(p *h265SPS) { p.timeScale = 0 },
			want:   SPSInfo{ProfileIDC: 1, LevelIDC: 93, Width: 1920, Height: 1080, FPS: DefaultFPS},
		},
		{
			name:   "no field pair doubling",
			modify: func(p *h265SPS) { p.timeScale = 50 },
			want:   SPSInfo{ProfileIDC: 1, LevelIDC: 93, Width: 1920, Height: 1080, FPS: 50.0},
		},
		{
			name:   "fractional frame rate",
			modify: func(p *h265SPS) { p.numUnitsInTick = 1001; p.timeScale = 30000 },
			want:   SPSInfo{ProfileIDC: 1, LevelIDC: 93, Width: 1920, Height: 1080, FPS: 30000.0 / 1001.0},
		},
		{
			name:   "conformance window subtracted",
			modify: func(p *h265SPS) { p.height = 1088; p.confWindow = true; p.confBottom = 4 },
			want:   SPSInfo{ProfileIDC: 1, LevelIDC: 93, Width: 1920, Height: 1080, FPS: 25.0},
		},
		{
			name: "sub layer profiles skipped",
			modify: func(p *h265SPS) {
				p.maxSubLayersMinus1 = 2
				p.subLayerProfiles = true
			},
			want: SPSInfo{ProfileIDC: 1, LevelIDC: 93, Width: 1920, Height: 1080, FPS: 25.0},
		},
		{
			name:   "multiple short term ref pic sets",
			modify: func(p *h265SPS) { p.numShortTermSets = 3 },
			want:   SPSInfo{ProfileIDC: 1, LevelIDC: 93, Width: 1920, Height: 1080, FPS: 25.0},
		},
		{
			name:   "long term ref pics skipped",
			modify: func(p *h265SPS) { p.longTermRefs = 2; p.log2MaxPocLsb = 6 },
			want:   SPSInfo{ProfileIDC: 1, LevelIDC: 93, Width: 1920, Height: 1080, FPS: 25.0},
		},
		{
			name:   "scaling list data skipped",
			modify: func(p *h265SPS) { p.scalingList = true },
			want:   SPSInfo{ProfileIDC: 1, LevelIDC: 93, Width: 1920, Height: 1080, FPS: 25.0},
		},
		{
			name:   "pcm block skipped",
			modify: func(p *h265SPS) { p.pcm = true },
			want:   SPSInfo{ProfileIDC: 1, LevelIDC: 93, Width: 1920, Height: 1080, FPS: 25.0},
		},
		{
			name:   "full vui prefix skipped",
			modify: func(p *h265SPS) { p.fullVUIPrefix = true; p.timeScale = 60 },
			want:   SPSInfo{ProfileIDC: 1, LevelIDC: 93, Width: 1920, Height: 1080, FPS: 60.0},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sps := base
			tt.modify(&sps)
			got := ParseH265SPS(sps.encode())
			if got != tt.want {
				t.Errorf("ParseH265SPS() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseH265SPSTruncated(t *testing.T) {
	t.Parallel()

	full := h265SPS{
		profileIDC: 1, levelIDC: 93, width: 1920, height: 1080, log2MaxPocLsb: 4,
		numShortTermSets: 1,
		vui:              true, timing: true, numUnitsInTick: 1, timeScale: 25,
	}.encode()

	// Stop short of the end: the last bytes hold only the stop bit and
	// padding, which the parser never needs.
	for n := 0; n < len(full)-2; n++ {
		got := ParseH265SPS(full[:n])
		if got.FPS != DefaultFPS {
			t.Errorf("truncated at %d: FPS = %v, want %v", n, got.FPS, DefaultFPS)
		}
	}
}

func TestStreamFPSFromHEVCSPS(t *testing.T) {
	t.Parallel()

	sps := h265SPS{
		profileIDC: 1, levelIDC: 93, width: 1280, height: 720, log2MaxPocLsb: 4,
		numShortTermSets: 1,
		vui:              true, timing: true, numUnitsInTick: 1, timeScale: 30,
	}.encode()
	stream := append(sps, buildNAL(4, hevcHeader(HEVCNALIDRWRadl), 0x01, 0x88)...)

	units := SegmentAnnexB(stream, H265)
	if got := StreamFPS(units, H265); got != 30.0 {
		t.Errorf("StreamFPS = %v, want 30", got)
	}
}
