package audio

import (
	"math"
	"testing"

	"github.com/gopxl/beep"
	"github.com/stretchr/testify/require"
)

const testSampleRate = 8000

// stepLevel returns a distinct amplitude for every whole second,
// so slices can be identified after concatenation.
func stepLevel(sec float64) float64 {
	return float64(int(sec)+1) / 20
}

// testWAV renders a mono 16-bit WAV whose amplitude follows level.
func testWAV(t *testing.T, seconds float64, level func(sec float64) float64) Blob {
	t.Helper()

	format := beep.Format{SampleRate: testSampleRate, NumChannels: 1, Precision: 2}
	total := int(math.Round(seconds * testSampleRate))
	pos := 0
	s := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := 0
		for n < len(samples) && pos < total {
			v := level(float64(pos) / testSampleRate)
			samples[n] = [2]float64{v, v}
			n++
			pos++
		}
		return n, true
	})

	data, err := EncodeWAV(format, s)
	require.NoError(t, err)
	return Blob{Data: data, MIMEType: MIMETypeWAV}
}

// sampleAt returns the left-channel value of one frame.
func sampleAt(t *testing.T, pcm *PCM, frame int) float64 {
	t.Helper()
	require.Less(t, frame, pcm.Len())
	buf := make([][2]float64, 1)
	n, ok := pcm.Slice(frame, frame+1).Stream(buf)
	require.True(t, ok)
	require.Equal(t, 1, n)
	return buf[0][0]
}

func decodeWAV(t *testing.T, b Blob) *PCM {
	t.Helper()
	pcm, err := NewBeepDecoder().Decode(t.Context(), b)
	require.NoError(t, err)
	return pcm
}
