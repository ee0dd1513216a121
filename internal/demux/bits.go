package demux

// bitReader reads bits MSB-first from a byte slice. Reads past the end of the
// data yield zero bits and set the overflow flag; they never fail. RBSP
// parsing treats truncated input as defaulted values, not hard errors.
type bitReader struct {
	data     []byte
	bitPos   int
	overflow bool
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) readBit() bool {
	if r.bitPos >= len(r.data)*8 {
		r.overflow = true
		return false
	}
	byteIdx := r.bitPos / 8
	bitIdx := 7 - (r.bitPos % 8)
	r.bitPos++
	return (r.data[byteIdx]>>uint(bitIdx))&1 == 1
}

func (r *bitReader) readBits(n int) uint32 {
	var val uint32
	for i := 0; i < n; i++ {
		val <<= 1
		if r.readBit() {
			val |= 1
		}
	}
	return val
}

func (r *bitReader) skip(n int) {
	r.bitPos += n
	if r.bitPos > len(r.data)*8 {
		r.bitPos = len(r.data) * 8
		r.overflow = true
	}
}

// moreData reports whether at least one unread bit remains.
func (r *bitReader) moreData() bool {
	return r.bitPos < len(r.data)*8
}

// readUE decodes an unsigned Exp-Golomb value (H.264/H.265 ue(v)). A zero
// run truncated by the end of data decodes as if the terminating one bit
// and suffix were zero.
func (r *bitReader) readUE() uint32 {
	k := 0
	for !r.readBit() && r.moreData() {
		k++
	}
	if k == 0 {
		return 0
	}
	return uint32(1)<<uint(k) - 1 + r.readBits(k)
}

// readSE decodes a signed Exp-Golomb value (se(v)): odd code words map to
// positive values, even to negative.
func (r *bitReader) readSE() int32 {
	u := r.readUE()
	if u%2 == 1 {
		return int32((u + 1) / 2)
	}
	return -int32(u / 2)
}

// removeEmulationPrevention strips emulation prevention bytes from a NAL
// unit: any 0x03 whose two preceding bytes are both zero is dropped.
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i >= 2 && data[i] == 0x03 && data[i-1] == 0x00 && data[i-2] == 0x00 {
			continue
		}
		out = append(out, data[i])
	}
	return out
}
