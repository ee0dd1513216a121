// Generate synthetic test inputs for wscast: a raw H.264 elementary
// stream and a progressive MP4 holding the same pictures plus an A-law
// audio track. The slice payloads are filler bytes, enough to exercise
// the segmenter, the container loader and the pacing and fragmentation
// paths, but they do not decode to real pictures.
//
// Usage:
//
//	go run ./test/tools/gen-streams
//	go run ./cmd/wscast -f test/streams/counter.h264
//	go run ./cmd/wscast -f test/streams/counter.mp4
package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"
)

const (
	frameCount = 250 // 10 s at 25 fps
	gopSize    = 25  // one IDR per second

	videoTimescale = 12800
	videoSampleDur = 512 // 40 ms
	audioRate      = 8000
	audioSampleLen = 320 // 40 ms of A-law at 8 kHz
)

// Baseline profile SPS for a 320x240 stream with 1/50 timing info,
// and a matching PPS.
var (
	sps = []byte{
		0x67, 0x42, 0x00, 0x1E, 0x96, 0x54, 0x0A, 0x0F, 0xD0, 0x80,
		0x00, 0x00, 0x03, 0x00, 0x80, 0x00, 0x00, 0x19, 0x60,
	}
	pps = []byte{0x68, 0xCE, 0x3C, 0x80}
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

func main() {
	root := findProjectRoot()
	outDir := filepath.Join(root, "test", "streams")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fatal("create streams dir: %v", err)
	}

	fmt.Printf("Generating %d-frame test streams in %s\n", frameCount, outDir)

	nals := sliceNALs()

	rawFile := filepath.Join(outDir, "counter.h264")
	if fileExists(rawFile) {
		fmt.Printf("  %s already exists, skipping\n", rawFile)
	} else {
		if err := os.WriteFile(rawFile, buildRaw(nals), 0o644); err != nil {
			fatal("write %s: %v", rawFile, err)
		}
		report(rawFile)
	}

	mp4File := filepath.Join(outDir, "counter.mp4")
	if fileExists(mp4File) {
		fmt.Printf("  %s already exists, skipping\n", mp4File)
	} else {
		data, err := buildMP4(nals)
		if err != nil {
			fatal("build mp4: %v", err)
		}
		if err := os.WriteFile(mp4File, data, 0o644); err != nil {
			fatal("write %s: %v", mp4File, err)
		}
		report(mp4File)
	}
}

// sliceNALs builds one slice NAL per frame. Every gopSize-th frame is
// an IDR, the rest are P slices; two IDRs are oversized so the wire
// encoder has something to fragment.
func sliceNALs() [][]byte {
	nals := make([][]byte, frameCount)
	for i := range nals {
		header := byte(0x41) // non-IDR slice, nal_ref_idc 2
		size := 1024 + (i%7)*128
		if i%gopSize == 0 {
			header = 0x65 // IDR slice
			size = 2048
			if i%125 == 0 {
				size = 40000 // exceeds the 16384-byte fragment threshold
			}
		}
		nals[i] = fillNAL(header, size, byte(i))
	}
	return nals
}

// fillNAL builds a NAL of the given total size whose body cycles
// through non-zero bytes, so no start code or emulation sequence can
// appear by accident.
func fillNAL(header byte, size int, seed byte) []byte {
	nal := make([]byte, size)
	nal[0] = header
	for i := 1; i < size; i++ {
		nal[i] = 0x10 + (seed+byte(i))%0xE0
	}
	return nal
}

func buildRaw(nals [][]byte) []byte {
	var out []byte
	for i, nal := range nals {
		if i%gopSize == 0 {
			out = append(out, startCode...)
			out = append(out, sps...)
			out = append(out, startCode...)
			out = append(out, pps...)
		}
		out = append(out, startCode...)
		out = append(out, nal...)
	}
	return out
}

func buildMP4(nals [][]byte) ([]byte, error) {
	videoSamples := make([][]byte, frameCount)
	for i, nal := range nals {
		videoSamples[i] = avccSample(nal)
	}
	audioSample := bytes.Repeat([]byte{0xD5}, audioSampleLen) // A-law silence

	durationMs := uint64(frameCount) * 40

	ftyp := mp4ff.NewFtyp("isom", 0x200, []string{"isom", "iso2", "avc1", "mp41"})

	moov := &mp4ff.MoovBox{}
	moov.AddChild(&mp4ff.MvhdBox{Timescale: 1000, Duration: durationMs, NextTrackID: 3})

	vTrak := mp4ff.CreateEmptyTrak(1, videoTimescale, "video", "und")
	moov.AddChild(vTrak)
	if err := vTrak.SetAVCDescriptor("avc1", [][]byte{sps}, [][]byte{pps}, true); err != nil {
		return nil, fmt.Errorf("set AVC descriptor: %w", err)
	}
	vTrak.Mdia.Mdhd.Duration = uint64(frameCount) * videoSampleDur
	vStbl := vTrak.Mdia.Minf.Stbl
	vStbl.Stts.SampleCount = []uint32{frameCount}
	vStbl.Stts.SampleTimeDelta = []uint32{videoSampleDur}
	var syncSamples []uint32
	for i := 0; i < frameCount; i += gopSize {
		syncSamples = append(syncSamples, uint32(i+1))
	}
	vStbl.AddChild(&mp4ff.StssBox{SampleNumber: syncSamples})
	if err := vStbl.Stsc.AddEntry(1, frameCount, 1); err != nil {
		return nil, fmt.Errorf("add video stsc entry: %w", err)
	}
	var videoBytes int
	for _, s := range videoSamples {
		vStbl.Stsz.SampleSize = append(vStbl.Stsz.SampleSize, uint32(len(s)))
		videoBytes += len(s)
	}
	vStbl.Stsz.SampleNumber = frameCount
	vStbl.Stco.ChunkOffset = []uint32{0}

	aTrak := mp4ff.CreateEmptyTrak(2, audioRate, "audio", "und")
	moov.AddChild(aTrak)
	aTrak.Mdia.Mdhd.Duration = uint64(frameCount) * audioSampleLen
	aStbl := aTrak.Mdia.Minf.Stbl
	aStbl.Stsd.AddChild(mp4ff.CreateAudioSampleEntryBox("pcma", 1, 16, audioRate, nil))
	aStbl.Stts.SampleCount = []uint32{frameCount}
	aStbl.Stts.SampleTimeDelta = []uint32{audioSampleLen}
	if err := aStbl.Stsc.AddEntry(1, frameCount, 1); err != nil {
		return nil, fmt.Errorf("add audio stsc entry: %w", err)
	}
	for i := 0; i < frameCount; i++ {
		aStbl.Stsz.SampleSize = append(aStbl.Stsz.SampleSize, uint32(audioSampleLen))
	}
	aStbl.Stsz.SampleNumber = frameCount
	aStbl.Stco.ChunkOffset = []uint32{0}

	// Chunk offsets are absolute, so they depend on the encoded sizes
	// of everything before the mdat payload. The placeholder entries
	// above keep the box sizes stable while we compute them.
	payloadStart := ftyp.Size() + moov.Size() + 8
	vStbl.Stco.ChunkOffset[0] = uint32(payloadStart)
	aStbl.Stco.ChunkOffset[0] = uint32(payloadStart) + uint32(videoBytes)

	var mdatPayload []byte
	for _, s := range videoSamples {
		mdatPayload = append(mdatPayload, s...)
	}
	for i := 0; i < frameCount; i++ {
		mdatPayload = append(mdatPayload, audioSample...)
	}

	var buf bytes.Buffer
	if err := ftyp.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode ftyp: %w", err)
	}
	if err := moov.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode moov: %w", err)
	}
	mdat := &mp4ff.MdatBox{Data: mdatPayload}
	if err := mdat.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode mdat: %w", err)
	}
	return buf.Bytes(), nil
}

func avccSample(nalus ...[]byte) []byte {
	var out []byte
	for _, nalu := range nalus {
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(nalu)))
		out = append(out, size[:]...)
		out = append(out, nalu...)
	}
	return out
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		fatal("getwd: %v", err)
	}
	for {
		if fileExists(filepath.Join(dir, "go.mod")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			fatal("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func report(path string) {
	info, err := os.Stat(path)
	if err != nil {
		fatal("stat %s: %v", path, err)
	}
	fmt.Printf("  %s (%.1f KB)\n", path, float64(info.Size())/1024)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
