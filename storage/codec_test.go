package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealsCodec(t *testing.T) {
	values := make([]float64, 4096)
	for i := range values {
		values[i] = float64(i % 7)
	}
	values[5] = math.Inf(-1)
	values[9] = -0.25

	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(compression.String(), func(t *testing.T) {
			buf, err := EncodeReals(values, compression)
			require.NoError(t, err)
			if compression != CompressionNone {
				assert.Less(t, len(buf), 9*len(values))
			}

			decoded, err := DecodeReals(buf)
			require.NoError(t, err)
			assert.Equal(t, values, decoded)
		})
	}
}

func TestIntsAndStringsCodec(t *testing.T) {
	ints := []int64{0, -1, 1 << 40, 7}
	buf, err := EncodeInts(ints, CompressionZSTD)
	require.NoError(t, err)
	decodedInts, err := DecodeInts(buf)
	require.NoError(t, err)
	assert.Equal(t, ints, decodedInts)

	strs := []string{"", "forest", "water", "forest"}
	buf, err = EncodeStrings(strs, CompressionLZ4)
	require.NoError(t, err)
	decodedStrs, err := DecodeStrings(buf)
	require.NoError(t, err)
	assert.Equal(t, strs, decodedStrs)
}

func TestDecodeShortBlock(t *testing.T) {
	_, err := DecodeReals([]byte{2, 0})
	assert.Error(t, err)
}
