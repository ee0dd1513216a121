// Package mp4 loads MP4 files into the shared stream model. Video
// samples come out as Annex B packets with parameter sets from the
// sample description injected in front of every sync sample; the first
// supported audio track rides along as raw codec frames.
package mp4

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/Eyevinn/mp4ff/aac"
	mp4ff "github.com/Eyevinn/mp4ff/mp4"

	"github.com/zsiec/wscast/internal/demux"
	"github.com/zsiec/wscast/internal/media"
)

// ErrNoVideoTrack means the file has no track this server can stream.
var ErrNoVideoTrack = errors.New("mp4: no supported video track")

var annexBStartCode = []byte{0, 0, 0, 1}

// Load reads a progressive or fragmented MP4 file and flattens its
// first video track (and first supported audio track, if any) into a
// PTS-ordered packet list.
func Load(path string) (*media.Stream, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mp4: read %s: %w", path, err)
	}
	f, err := mp4ff.DecodeFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("mp4: decode %s: %w", path, err)
	}
	if f.Moov == nil {
		return nil, fmt.Errorf("mp4: %s: no moov box", path)
	}

	var videoTrak, audioTrak *mp4ff.TrakBox
	for _, trak := range f.Moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil {
			continue
		}
		switch trak.Mdia.Hdlr.HandlerType {
		case "vide":
			if videoTrak == nil {
				videoTrak = trak
			}
		case "soun":
			if audioTrak == nil {
				audioTrak = trak
			}
		}
	}
	if videoTrak == nil {
		return nil, ErrNoVideoTrack
	}

	video, err := describeVideo(videoTrak)
	if err != nil {
		return nil, err
	}
	audio := describeAudio(audioTrak)
	if audio == nil {
		audioTrak = nil
	}

	var videoSamples, audioSamples []sampleRef
	if f.IsFragmented() {
		videoSamples, audioSamples, err = fragmentedSamples(f, videoTrak, audioTrak)
	} else {
		videoSamples, err = progressiveSamples(raw, videoTrak)
		if err == nil && audioTrak != nil {
			audioSamples, err = progressiveSamples(raw, audioTrak)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(videoSamples) == 0 {
		return nil, fmt.Errorf("mp4: %s: video track has no samples", path)
	}

	packets := make([]media.Packet, 0, len(videoSamples)+len(audioSamples))
	for i, s := range videoSamples {
		data, err := annexBFromAVCC(s.data)
		if err != nil {
			return nil, fmt.Errorf("mp4: video sample %d: %w", i+1, err)
		}
		if s.sync && len(video.paramSets) > 0 {
			withPS := make([]byte, 0, len(video.paramSets)+len(data))
			withPS = append(withPS, video.paramSets...)
			data = append(withPS, data...)
		}
		packets = append(packets, media.Packet{Kind: media.Video, PTS: s.pts, Data: data})
	}
	for _, s := range audioSamples {
		packets = append(packets, media.Packet{Kind: media.Audio, PTS: s.pts, Data: s.data})
	}
	sort.SliceStable(packets, func(i, j int) bool { return packets[i].PTS < packets[j].PTS })

	durationMs := declaredDurationMs(f, videoTrak)
	fps := demux.DefaultFPS
	if durationMs > 0 {
		fps = float64(len(videoSamples)) * 1000 / float64(durationMs)
	} else if len(packets) > 0 {
		durationMs = packets[len(packets)-1].PTS - packets[0].PTS
	}
	if durationMs < 1 {
		durationMs = 1
	}

	return &media.Stream{
		Codec:      video.codec,
		FPS:        fps,
		Width:      video.sps.Width,
		Height:     video.sps.Height,
		Packets:    packets,
		DurationMs: durationMs,
		Audio:      audio,
	}, nil
}

type sampleRef struct {
	pts  int64
	sync bool
	data []byte
}

type videoInfo struct {
	codec     demux.Codec
	paramSets []byte
	sps       demux.SPSInfo
}

func describeVideo(trak *mp4ff.TrakBox) (*videoInfo, error) {
	stbl, err := sampleTable(trak)
	if err != nil {
		return nil, err
	}
	stsd := stbl.Stsd
	if stsd == nil {
		return nil, errors.New("mp4: video track missing sample description")
	}

	v := &videoInfo{}
	switch {
	case stsd.AvcX != nil:
		v.codec = demux.H264
		if avcC := stsd.AvcX.AvcC; avcC != nil {
			var firstSPS []byte
			for _, sps := range avcC.SPSnalus {
				if firstSPS == nil {
					firstSPS = sps
				}
				v.paramSets = appendAnnexB(v.paramSets, sps)
			}
			for _, pps := range avcC.PPSnalus {
				v.paramSets = appendAnnexB(v.paramSets, pps)
			}
			if firstSPS != nil {
				v.sps = demux.ParseH264SPS(firstSPS)
			}
		}
	case stsd.HvcX != nil:
		v.codec = demux.H265
		if hvcC := stsd.HvcX.HvcC; hvcC != nil {
			var firstSPS []byte
			for _, arr := range hvcC.NaluArrays {
				for _, nalu := range arr.Nalus {
					if firstSPS == nil && len(nalu) > 0 && demux.HEVCNALType(nalu[0]) == demux.HEVCNALSPS {
						firstSPS = nalu
					}
					v.paramSets = appendAnnexB(v.paramSets, nalu)
				}
			}
			if firstSPS != nil {
				v.sps = demux.ParseH265SPS(firstSPS)
			}
		}
	default:
		return nil, errors.New("mp4: unsupported video sample entry")
	}
	return v, nil
}

// describeAudio maps the track's sample entry to a stream audio
// config, or nil when the track is absent or unsupported.
func describeAudio(trak *mp4ff.TrakBox) *media.AudioConfig {
	if trak == nil {
		return nil
	}
	stbl, err := sampleTable(trak)
	if err != nil || stbl.Stsd == nil {
		slog.Warn("ignoring audio track without sample description")
		return nil
	}
	stsd := stbl.Stsd

	if stsd.Mp4a != nil {
		esds := stsd.Mp4a.Esds
		if esds == nil || esds.DecConfigDescriptor == nil || esds.DecConfigDescriptor.DecSpecificInfo == nil {
			slog.Warn("ignoring audio track without decoder config")
			return nil
		}
		asc, err := aac.DecodeAudioSpecificConfig(bytes.NewReader(esds.DecConfigDescriptor.DecSpecificInfo.DecConfig))
		if err != nil {
			slog.Warn("ignoring audio track with bad AAC config", "err", err)
			return nil
		}
		return &media.AudioConfig{
			Codec:      "aac",
			SampleRate: asc.SamplingFrequency,
			Channels:   int(asc.ChannelConfiguration),
		}
	}

	for _, child := range stsd.Children {
		entry, ok := child.(*mp4ff.AudioSampleEntryBox)
		if !ok {
			continue
		}
		var name string
		switch entry.Type() {
		case "pcma":
			name = "pcm_alaw"
		case "pcmu":
			name = "pcm_mulaw"
		case "g726":
			name = "g726"
		default:
			continue
		}
		return &media.AudioConfig{
			Codec:      name,
			SampleRate: int(entry.SampleRate),
			Channels:   int(entry.ChannelCount),
		}
	}
	slog.Warn("ignoring audio track with unsupported codec")
	return nil
}

func progressiveSamples(raw []byte, trak *mp4ff.TrakBox) ([]sampleRef, error) {
	stbl, err := sampleTable(trak)
	if err != nil {
		return nil, err
	}
	mdhd := trak.Mdia.Mdhd
	if mdhd == nil || mdhd.Timescale == 0 {
		return nil, errors.New("mp4: track missing timescale")
	}
	if stbl.Stts == nil || stbl.Stsz == nil || stbl.Stsc == nil {
		return nil, errors.New("mp4: track missing sample tables")
	}

	count := stbl.Stsz.SampleNumber
	samples := make([]sampleRef, 0, count)
	for nr := uint32(1); nr <= count; nr++ {
		decTime, _ := stbl.Stts.GetDecodeTime(nr)
		var ctso int32
		if stbl.Ctts != nil {
			ctso = stbl.Ctts.GetCompositionTimeOffset(nr)
		}

		chunkNr, firstInChunk, err := stbl.Stsc.ChunkNrFromSampleNr(int(nr))
		if err != nil {
			return nil, fmt.Errorf("mp4: sample %d: %w", nr, err)
		}
		offset, err := chunkOffset(stbl, chunkNr)
		if err != nil {
			return nil, err
		}
		for s := firstInChunk; s < int(nr); s++ {
			offset += int64(stbl.Stsz.GetSampleSize(s))
		}
		size := int64(stbl.Stsz.GetSampleSize(int(nr)))
		if offset < 0 || offset+size > int64(len(raw)) {
			return nil, fmt.Errorf("mp4: sample %d outside file bounds", nr)
		}

		samples = append(samples, sampleRef{
			pts:  (int64(decTime) + int64(ctso)) * 1000 / int64(mdhd.Timescale),
			sync: stbl.Stss == nil || stbl.Stss.IsSyncSample(nr),
			data: raw[offset : offset+size],
		})
	}
	return samples, nil
}

func fragmentedSamples(f *mp4ff.File, videoTrak, audioTrak *mp4ff.TrakBox) (video, audio []sampleRef, err error) {
	type track struct {
		timescale uint32
		trex      *mp4ff.TrexBox
		out       *[]sampleRef
	}
	tracks := make(map[uint32]*track)
	add := func(trak *mp4ff.TrakBox, out *[]sampleRef) error {
		if trak == nil {
			return nil
		}
		if trak.Tkhd == nil || trak.Mdia.Mdhd == nil || trak.Mdia.Mdhd.Timescale == 0 {
			return errors.New("mp4: fragmented track missing headers")
		}
		tr := &track{timescale: trak.Mdia.Mdhd.Timescale, out: out}
		if f.Moov.Mvex != nil {
			for _, trex := range f.Moov.Mvex.Trexs {
				if trex.TrackID == trak.Tkhd.TrackID {
					tr.trex = trex
					break
				}
			}
		}
		tracks[trak.Tkhd.TrackID] = tr
		return nil
	}
	if err := add(videoTrak, &video); err != nil {
		return nil, nil, err
	}
	if err := add(audioTrak, &audio); err != nil {
		return nil, nil, err
	}

	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil || frag.Moof.Traf == nil || frag.Moof.Traf.Tfhd == nil {
				continue
			}
			tr, ok := tracks[frag.Moof.Traf.Tfhd.TrackID]
			if !ok {
				continue
			}
			samples, err := frag.GetFullSamples(tr.trex)
			if err != nil {
				return nil, nil, fmt.Errorf("mp4: read fragment samples: %w", err)
			}
			for _, s := range samples {
				*tr.out = append(*tr.out, sampleRef{
					pts:  (int64(s.DecodeTime) + int64(s.CompositionTimeOffset)) * 1000 / int64(tr.timescale),
					sync: s.IsSync(),
					data: s.Data,
				})
			}
		}
	}
	return video, audio, nil
}

// declaredDurationMs returns the container's declared duration in
// milliseconds: the video track duration when set, else the movie
// duration, else the fragmented movie extends duration. Zero means
// nothing was declared.
func declaredDurationMs(f *mp4ff.File, videoTrak *mp4ff.TrakBox) int64 {
	if mdhd := videoTrak.Mdia.Mdhd; mdhd != nil && mdhd.Duration > 0 && mdhd.Timescale > 0 {
		return int64(mdhd.Duration) * 1000 / int64(mdhd.Timescale)
	}
	mvhd := f.Moov.Mvhd
	if mvhd != nil && mvhd.Duration > 0 && mvhd.Timescale > 0 {
		return int64(mvhd.Duration) * 1000 / int64(mvhd.Timescale)
	}
	if mvex := f.Moov.Mvex; mvex != nil && mvex.Mehd != nil && mvex.Mehd.FragmentDuration > 0 && mvhd != nil && mvhd.Timescale > 0 {
		return int64(mvex.Mehd.FragmentDuration) * 1000 / int64(mvhd.Timescale)
	}
	return 0
}

func sampleTable(trak *mp4ff.TrakBox) (*mp4ff.StblBox, error) {
	if trak.Mdia == nil || trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil {
		return nil, errors.New("mp4: track missing sample table")
	}
	return trak.Mdia.Minf.Stbl, nil
}

func chunkOffset(stbl *mp4ff.StblBox, chunkNr int) (int64, error) {
	switch {
	case stbl.Stco != nil && chunkNr <= len(stbl.Stco.ChunkOffset):
		return int64(stbl.Stco.ChunkOffset[chunkNr-1]), nil
	case stbl.Co64 != nil && chunkNr <= len(stbl.Co64.ChunkOffset):
		return int64(stbl.Co64.ChunkOffset[chunkNr-1]), nil
	}
	return 0, fmt.Errorf("mp4: no offset for chunk %d", chunkNr)
}

// annexBFromAVCC rewrites a sample's 4-byte NAL length prefixes as
// Annex B start codes.
func annexBFromAVCC(sample []byte) ([]byte, error) {
	out := make([]byte, 0, len(sample))
	for off := 0; off < len(sample); {
		if len(sample)-off < 4 {
			return nil, errors.New("truncated NAL length")
		}
		n := int(binary.BigEndian.Uint32(sample[off : off+4]))
		off += 4
		if n <= 0 || n > len(sample)-off {
			return nil, errors.New("NAL length out of range")
		}
		out = append(out, annexBStartCode...)
		out = append(out, sample[off:off+n]...)
		off += n
	}
	return out, nil
}

func appendAnnexB(dst, nalu []byte) []byte {
	dst = append(dst, annexBStartCode...)
	return append(dst, nalu...)
}
