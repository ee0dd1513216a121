// Package demux implements H.264/H.265 elementary stream parsing: Annex B
// NAL unit segmentation, access unit grouping, and SPS frame-rate extraction.
//
// The entry point for raw streams is [SegmentAnnexB] followed by
// [GroupAccessUnits]. Frame-rate discovery is provided by [ParseH264FPS] and
// [ParseH265FPS], which walk the codec's sequence parameter set down to the
// VUI timing fields and fall back to [DefaultFPS] when the stream does not
// declare timing.
package demux
