// Package audio holds the little MP3 knowledge needed to join synthesized
// chunks: ID3 tag boundaries and MPEG audio frame headers.
package audio

import (
	"bytes"
	"crypto/sha256"
	"time"
)

const (
	id3v2HeaderSize = 10
	id3v1Size       = 128
)

// ID3v2Size returns the length of the ID3v2 tag at the start of b, including
// header and footer, or 0 when b does not start with one.
func ID3v2Size(b []byte) int {
	if len(b) < id3v2HeaderSize || string(b[:3]) != "ID3" {
		return 0
	}
	for _, c := range b[6:10] {
		if c&0x80 != 0 {
			return 0
		}
	}
	size := int(b[6])<<21 | int(b[7])<<14 | int(b[8])<<7 | int(b[9])
	size += id3v2HeaderSize
	if b[5]&0x10 != 0 {
		size += id3v2HeaderSize // footer
	}
	if size > len(b) {
		return len(b)
	}
	return size
}

// StripID3v2 returns b without a leading ID3v2 tag.
func StripID3v2(b []byte) []byte {
	return b[ID3v2Size(b):]
}

// stripID3v1 returns b without a trailing 128-byte ID3v1 tag.
func stripID3v1(b []byte) []byte {
	if len(b) >= id3v1Size && string(b[len(b)-id3v1Size:len(b)-id3v1Size+3]) == "TAG" {
		return b[:len(b)-id3v1Size]
	}
	return b
}

// Concat joins MP3 streams in order. The first part keeps its ID3v2 tag, the
// last keeps its ID3v1 tag, and every tag in between is dropped so players
// see one continuous stream of frames.
func Concat(parts [][]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for i, p := range parts {
		if i > 0 {
			p = StripID3v2(p)
		}
		if i < len(parts)-1 {
			p = stripID3v1(p)
		}
		out = append(out, p...)
	}
	return out
}

// Frame header lookup tables for MPEG audio Layer III.
var (
	bitratesV1 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	bitratesV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

	sampleRates = map[byte][3]int{
		3: {44100, 48000, 32000}, // MPEG 1
		2: {22050, 24000, 16000}, // MPEG 2
		0: {11025, 12000, 8000},  // MPEG 2.5
	}
)

type frameHeader struct {
	length     int
	samples    int
	sampleRate int
}

// parseFrameHeader decodes a Layer III frame header at the start of b.
func parseFrameHeader(b []byte) (frameHeader, bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return frameHeader{}, false
	}
	version := (b[1] >> 3) & 0x03
	layer := (b[1] >> 1) & 0x03
	if version == 1 || layer != 1 {
		return frameHeader{}, false
	}

	rateIdx := (b[2] >> 2) & 0x03
	if rateIdx == 3 {
		return frameHeader{}, false
	}
	sampleRate := sampleRates[version][rateIdx]

	bitrates, coeff, samples := bitratesV1, 144, 1152
	if version != 3 {
		bitrates, coeff, samples = bitratesV2, 72, 576
	}
	bitrate := bitrates[b[2]>>4]
	if bitrate == 0 {
		return frameHeader{}, false
	}

	padding := int((b[2] >> 1) & 0x01)
	return frameHeader{
		length:     coeff*bitrate*1000/sampleRate + padding,
		samples:    samples,
		sampleRate: sampleRate,
	}, true
}

// Duration sums the playback time of every MPEG Layer III frame in b.
// Bytes that are not part of a frame are skipped.
func Duration(b []byte) time.Duration {
	b = stripID3v1(StripID3v2(b))

	var total time.Duration
	for i := 0; i+4 <= len(b); {
		h, ok := parseFrameHeader(b[i:])
		if !ok || i+h.length > len(b) {
			i++
			continue
		}
		total += time.Duration(h.samples) * time.Second / time.Duration(h.sampleRate)
		i += h.length
	}
	return total
}

// FrameDuration is the playback time of one frame written by SyntheticMP3.
const FrameDuration = 1152 * time.Second / 44100

// SyntheticMP3 builds a syntactically valid MP3 of n silent-looking MPEG 1
// Layer III frames (128 kbit/s, 44.1 kHz) behind an empty ID3v2 tag. The
// frame payload is derived from seed so different inputs give different
// bytes.
func SyntheticMP3(seed []byte, n int) []byte {
	const frameLen = 144 * 128000 / 44100

	var buf bytes.Buffer
	buf.Grow(id3v2HeaderSize*2 + n*frameLen)
	buf.Write([]byte{'I', 'D', '3', 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, id3v2HeaderSize})
	buf.Write(make([]byte, id3v2HeaderSize))

	sum := sha256.Sum256(seed)
	payload := make([]byte, frameLen-4)
	for i := range payload {
		// Keep payload bytes below 0xFF so no false sync word appears.
		payload[i] = sum[i%len(sum)] & 0x7F
	}

	for i := 0; i < n; i++ {
		buf.Write([]byte{0xFF, 0xFB, 0x90, 0x00})
		buf.Write(payload)
	}
	return buf.Bytes()
}
