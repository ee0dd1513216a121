package demux

// ParseH265FPS extracts the frame rate from an H.265 SPS NAL unit. The
// input includes the start code.
func ParseH265FPS(nal []byte) float64 {
	return ParseH265SPS(nal).FPS
}

// ParseH265SPS parses an H.265 sequence parameter set for resolution and
// frame rate. The full descent down to vui_timing_info is required since
// the timing fields sit at the very end of the SPS. HEVC timing gives the
// frame rate directly as time_scale over num_units_in_tick, without the
// H.264 field-pair doubling. Parsing never fails: unrecoverable fields
// keep their zero value and FPS falls back to DefaultFPS.
func ParseH265SPS(nal []byte) SPSInfo {
	info := SPSInfo{FPS: DefaultFPS}

	rbsp := removeEmulationPrevention(stripStartCode(nal))
	if len(rbsp) < 15 {
		return info
	}
	r := newBitReader(rbsp[2:]) // skip the 2-byte NAL header

	r.skip(4) // sps_video_parameter_set_id
	maxSubLayersMinus1 := r.readBits(3)
	r.skip(1) // sps_temporal_id_nesting_flag

	// profile_tier_level
	r.skip(3) // general_profile_space + general_tier_flag
	info.ProfileIDC = byte(r.readBits(5))
	r.skip(32) // general_profile_compatibility_flags
	r.skip(48) // general constraint flags + reserved
	info.LevelIDC = byte(r.readBits(8))

	var profilePresent, levelPresent [8]bool
	for i := uint32(0); i < maxSubLayersMinus1; i++ {
		profilePresent[i] = r.readBit()
		levelPresent[i] = r.readBit()
	}
	if maxSubLayersMinus1 > 0 {
		for i := maxSubLayersMinus1; i < 8; i++ {
			r.skip(2) // reserved_zero_2bits
		}
	}
	for i := uint32(0); i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			r.skip(88) // sub_layer profile info
		}
		if levelPresent[i] {
			r.skip(8) // sub_layer_level_idc
		}
	}

	r.readUE() // sps_seq_parameter_set_id
	chromaFormatIDC := r.readUE()
	if chromaFormatIDC == 3 {
		r.skip(1) // separate_colour_plane_flag
	}

	width := r.readUE()  // pic_width_in_luma_samples
	height := r.readUE() // pic_height_in_luma_samples

	if r.readBit() { // conformance_window_flag
		left := r.readUE()
		right := r.readUE()
		top := r.readUE()
		bottom := r.readUE()

		var subWidthC, subHeightC uint32
		switch chromaFormatIDC {
		case 1:
			subWidthC, subHeightC = 2, 2
		case 2:
			subWidthC, subHeightC = 2, 1
		default:
			subWidthC, subHeightC = 1, 1
		}
		width -= (left + right) * subWidthC
		height -= (top + bottom) * subHeightC
	}
	if !r.overflow {
		info.Width = int(width)
		info.Height = int(height)
	}

	r.readUE() // bit_depth_luma_minus8
	r.readUE() // bit_depth_chroma_minus8
	log2MaxPocLsbMinus4 := r.readUE()

	start := maxSubLayersMinus1
	if r.readBit() { // sps_sub_layer_ordering_info_present_flag
		start = 0
	}
	for i := start; i <= maxSubLayersMinus1; i++ {
		r.readUE() // sps_max_dec_pic_buffering_minus1
		r.readUE() // sps_max_num_reorder_pics
		r.readUE() // sps_max_latency_increase_plus1
	}

	r.readUE() // log2_min_luma_coding_block_size_minus3
	r.readUE() // log2_diff_max_min_luma_coding_block_size
	r.readUE() // log2_min_luma_transform_block_size_minus2
	r.readUE() // log2_diff_max_min_luma_transform_block_size
	r.readUE() // max_transform_hierarchy_depth_inter
	r.readUE() // max_transform_hierarchy_depth_intra

	if r.readBit() { // scaling_list_enabled_flag
		if r.readBit() { // sps_scaling_list_data_present_flag
			skipHEVCScalingListData(r)
		}
	}

	r.skip(1) // amp_enabled_flag
	r.skip(1) // sample_adaptive_offset_enabled_flag

	if r.readBit() { // pcm_enabled_flag
		r.skip(8)  // pcm sample bit depths
		r.readUE() // log2_min_pcm_luma_coding_block_size_minus3
		r.readUE() // log2_diff_max_min_pcm_luma_coding_block_size
		r.skip(1)  // pcm_loop_filter_disabled_flag
	}

	numShortTermRefPicSets := r.readUE()
	for i := uint32(0); i < numShortTermRefPicSets && !r.overflow; i++ {
		if i != 0 && r.readBit() { // inter_ref_pic_set_prediction_flag
			r.skip(1)  // delta_rps_sign
			r.readUE() // abs_delta_rps_minus1
			for j := 0; j < 16; j++ {
				if r.readBit() { // used_by_curr_pic_flag
					r.skip(1)
				}
			}
		} else {
			numNegative := r.readUE()
			numPositive := r.readUE()
			for j := uint32(0); j < numNegative && !r.overflow; j++ {
				r.readUE() // delta_poc_s0_minus1
				r.skip(1)  // used_by_curr_pic_s0_flag
			}
			for j := uint32(0); j < numPositive && !r.overflow; j++ {
				r.readUE() // delta_poc_s1_minus1
				r.skip(1)  // used_by_curr_pic_s1_flag
			}
		}
	}

	if r.readBit() { // long_term_ref_pics_present_flag
		numLongTerm := r.readUE()
		for i := uint32(0); i < numLongTerm && !r.overflow; i++ {
			r.skip(int(log2MaxPocLsbMinus4) + 4) // lt_ref_pic_poc_lsb_sps
			r.skip(1)                            // used_by_curr_pic_lt_sps_flag
		}
	}

	r.skip(1) // sps_temporal_mvp_enabled_flag
	r.skip(1) // strong_intra_smoothing_enabled_flag

	if !r.readBit() { // vui_parameters_present_flag
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

	r.skip(3) // neutral_chroma + field_seq + frame_field_info flags

	if r.readBit() { // default_display_window_flag
		r.readUE()
		r.readUE()
		r.readUE()
		r.readUE()
	}

	if !r.readBit() { // vui_timing_info_present_flag
		return info
	}
	numUnitsInTick := r.readBits(32)
	timeScale := r.readBits(32)
	if r.overflow || numUnitsInTick == 0 || timeScale == 0 {
		return info
	}
	info.FPS = float64(timeScale) / float64(numUnitsInTick)
	return info
}

func skipHEVCScalingListData(r *bitReader) {
	for sizeID := 0; sizeID < 4; sizeID++ {
		count := 6
		if sizeID == 3 {
			count = 2
		}
		for matrixID := 0; matrixID < count; matrixID++ {
			if !r.readBit() { // scaling_list_pred_mode_flag
				r.readUE() // scaling_list_pred_matrix_id_delta
			} else {
				coefNum := 1 << (4 + 2*sizeID)
				if coefNum > 64 {
					coefNum = 64
				}
				if sizeID > 1 {
					r.readSE() // scaling_list_dc_coef_minus8
				}
				for i := 0; i < coefNum; i++ {
					r.readSE() // scaling_list_delta_coef
				}
			}
		}
	}
}
