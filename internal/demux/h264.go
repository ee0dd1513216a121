package demux

// DefaultFPS is the frame rate assumed when a stream carries no usable
// VUI timing information.
const DefaultFPS = 25.0

// SPSInfo holds the parameters extracted from a sequence parameter set.
// FPS is DefaultFPS when the SPS has no timing information or cannot be
// parsed.
type SPSInfo struct {
	ProfileIDC byte
	LevelIDC   byte
	Width      int
	Height     int
	FPS        float64
}

// ParseH264FPS extracts the frame rate from an H.264 SPS NAL unit. The
// input includes the start code.
func ParseH264FPS(nal []byte) float64 {
	return ParseH264SPS(nal).FPS
}

// ParseH264SPS parses an H.264 sequence parameter set for resolution and
// frame rate. The input is the full NAL unit including its start code.
// Parsing never fails: unrecoverable fields keep their zero value and FPS
// falls back to DefaultFPS.
func ParseH264SPS(nal []byte) SPSInfo {
	info := SPSInfo{FPS: DefaultFPS}

	rbsp := removeEmulationPrevention(stripStartCode(nal))
	if len(rbsp) < 4 {
		return info
	}
	r := newBitReader(rbsp[1:]) // skip the NAL header byte

	profileIDC := r.readBits(8)
	r.skip(8) // constraint_set flags + reserved_zero_2bits
	levelIDC := r.readBits(8)
	r.readUE() // seq_parameter_set_id

	info.ProfileIDC = byte(profileIDC)
	info.LevelIDC = byte(levelIDC)

	chromaFormatIDC := uint32(1)
	separateColourPlane := false
	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128:
		chromaFormatIDC = r.readUE()
		if chromaFormatIDC == 3 {
			separateColourPlane = r.readBit()
		}
		r.readUE() // bit_depth_luma_minus8
		r.readUE() // bit_depth_chroma_minus8
		r.skip(1)  // qpprime_y_zero_transform_bypass_flag
		if r.readBit() { // seq_scaling_matrix_present_flag
			count := 8
			if chromaFormatIDC == 3 {
				count = 12
			}
			for i := 0; i < count; i++ {
				if r.readBit() { // seq_scaling_list_present_flag[i]
					size := 16
					if i >= 6 {
						size = 64
					}
					skipScalingList(r, size)
				}
			}
		}
	}

	r.readUE() // log2_max_frame_num_minus4

	picOrderCntType := r.readUE()
	switch picOrderCntType {
	case 0:
		r.readUE() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.skip(1)  // delta_pic_order_always_zero_flag
		r.readSE() // offset_for_non_ref_pic
		r.readSE() // offset_for_top_to_bottom_field
		numRefFrames := r.readUE()
		for i := uint32(0); i < numRefFrames && !r.overflow; i++ {
			r.readSE() // offset_for_ref_frame[i]
		}
	}

	r.readUE() // max_num_ref_frames
	r.skip(1)  // gaps_in_frame_num_value_allowed_flag

	picWidthMbs := r.readUE() + 1
	picHeightMapUnits := r.readUE() + 1
	frameMbsOnly := r.readBits(1)
	if frameMbsOnly == 0 {
		r.skip(1) // mb_adaptive_frame_field_flag
	}
	r.skip(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint32
	if r.readBit() { // frame_cropping_flag
		cropLeft = r.readUE()
		cropRight = r.readUE()
		cropTop = r.readUE()
		cropBottom = r.readUE()
	}

	chromaArrayType := chromaFormatIDC
	if separateColourPlane {
		chromaArrayType = 0
	}
	var subWidthC, subHeightC uint32
	switch chromaArrayType {
	case 1:
		subWidthC, subHeightC = 2, 2
	case 2:
		subWidthC, subHeightC = 2, 1
	default:
		subWidthC, subHeightC = 1, 1
	}
	cropUnitX := subWidthC
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	if !r.overflow {
		info.Width = int(picWidthMbs*16 - cropUnitX*(cropLeft+cropRight))
		info.Height = int(picHeightMapUnits*16*(2-frameMbsOnly) - cropUnitY*(cropTop+cropBottom))
	}

	if r.readBits(1) == 0 { // vui_parameters_present_flag
		return info
	}
	if r.readBit() { // aspect_ratio_info_present_flag
		if r.readBits(8) == 255 { // Extended_SAR
			r.skip(32) // sar_width + sar_height
		}
	}
	if r.readBit() { // overscan_info_present_flag
		r.skip(1)
	}
	if r.readBit() { // video_signal_type_present_flag
		r.skip(4) // video_format + video_full_range_flag
		if r.readBit() { // colour_description_present_flag
			r.skip(24)
		}
	}
	if r.readBit() { // chroma_loc_info_present_flag
		r.readUE()
		r.readUE()
	}
	if r.readBits(1) == 0 { // timing_info_present_flag
		return info
	}

	numUnitsInTick := r.readBits(32)
	timeScale := r.readBits(32)
	if r.overflow || numUnitsInTick == 0 || timeScale == 0 {
		return info
	}
	info.FPS = float64(timeScale) / (2 * float64(numUnitsInTick))
	return info
}

func skipScalingList(r *bitReader, size int) {
	lastScale, nextScale := int32(8), int32(8)
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta := r.readSE()
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}

// stripStartCode drops a leading 3- or 4-byte Annex B start code if one is
// present.
func stripStartCode(nal []byte) []byte {
	if len(nal) >= 4 && nal[0] == 0x00 && nal[1] == 0x00 {
		if nal[2] == 0x01 {
			return nal[3:]
		}
		if nal[2] == 0x00 && nal[3] == 0x01 {
			return nal[4:]
		}
	}
	return nal
}
