package audio

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID3v2Size(t *testing.T) {
	tag := []byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0x01, 0x00}
	data := append(tag, make([]byte, 200)...)
	assert.Equal(t, 10+128, ID3v2Size(data))

	withFooter := append([]byte{'I', 'D', '3', 4, 0, 0x10, 0, 0, 0, 5}, make([]byte, 40)...)
	assert.Equal(t, 25, ID3v2Size(withFooter))

	assert.Equal(t, 0, ID3v2Size([]byte{0xFF, 0xFB, 0x90, 0x00}))
	assert.Equal(t, 0, ID3v2Size([]byte("ID3")))

	// Sizes beyond the buffer are clamped.
	assert.Equal(t, 12, ID3v2Size([]byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0x7F, 0x7F, 1, 2}))
}

func TestSyntheticMP3(t *testing.T) {
	data := SyntheticMP3([]byte("hello"), 10)
	assert.Equal(t, 20, ID3v2Size(data))
	assert.Equal(t, 20+10*417, len(data))
	assert.Equal(t, 10*FrameDuration, Duration(data))

	assert.NotEqual(t, data, SyntheticMP3([]byte("world"), 10))
	assert.Equal(t, data, SyntheticMP3([]byte("hello"), 10))
}

func TestConcat(t *testing.T) {
	a := SyntheticMP3([]byte("a"), 2)
	b := SyntheticMP3([]byte("b"), 3)
	tagged := append(SyntheticMP3([]byte("c"), 1), append([]byte("TAG"), make([]byte, 125)...)...)

	out := Concat([][]byte{a, tagged, b})

	require.True(t, bytes.HasPrefix(out, a))
	assert.Equal(t, 1, bytes.Count(out, []byte("ID3")))
	assert.NotContains(t, string(out), "TAG")
	assert.Equal(t, len(a)+(len(tagged)-20-128)+(len(b)-20), len(out))
	assert.Equal(t, 6*FrameDuration, Duration(out))
}

func TestDuration_SkipsGarbageAndMPEG2(t *testing.T) {
	// MPEG 2 Layer III, 64 kbit/s, 22.05 kHz: 72*64000/22050 = 208 bytes.
	frame := make([]byte, 208)
	copy(frame, []byte{0xFF, 0xF3, 0x80, 0x00})

	data := append([]byte{0x00, 0x12, 0xFF}, frame...)
	data = append(data, frame...)

	assert.Equal(t, 2*576*time.Second/22050, Duration(data))
	assert.Equal(t, time.Duration(0), Duration(nil))
}
