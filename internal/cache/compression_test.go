package cache

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressBlock_RoundTrip(t *testing.T) {
	random := make([]byte, 4096)
	_, err := rand.Read(random)
	require.NoError(t, err)

	inputs := map[string][]byte{
		"empty":        {},
		"repetitive":   bytes.Repeat([]byte{0xAB}, 64*1024),
		"random":       random,
		"short string": []byte("hello"),
	}

	for _, comp := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for name, in := range inputs {
			t.Run(comp.String()+"/"+name, func(t *testing.T) {
				enc, err := compressBlock(in, comp)
				require.NoError(t, err)

				dec, err := decompressBlock(enc, comp, 1<<20)
				require.NoError(t, err)
				assert.Equal(t, len(in), len(dec))
				assert.True(t, bytes.Equal(in, dec))
			})
		}
	}
}

func TestCompressBlock_IncompressibleStoredRaw(t *testing.T) {
	random := make([]byte, 1024)
	_, err := rand.Read(random)
	require.NoError(t, err)

	enc, err := compressBlock(random, CompressionZSTD)
	require.NoError(t, err)
	assert.Len(t, enc, blockHeaderSize+len(random))
}

func TestDecompressBlock_Truncated(t *testing.T) {
	_, err := decompressBlock([]byte{1, 2, 3}, CompressionLZ4, 1<<20)
	assert.ErrorIs(t, err, errBlockTooSmall)

	enc, err := compressBlock(bytes.Repeat([]byte("x"), 1024), CompressionLZ4)
	require.NoError(t, err)
	_, err = decompressBlock(enc[:len(enc)-1], CompressionLZ4, 1<<20)
	assert.ErrorIs(t, err, errBlockTooSmall)
}

func TestDecompressBlock_RejectsOversizedHeader(t *testing.T) {
	// Claims 4 GiB uncompressed behind a 1-byte payload.
	hdr := []byte{0xff, 0xff, 0xff, 0xff, 1, 0, 0, 0, 0}
	for _, comp := range []Compression{CompressionLZ4, CompressionZSTD} {
		_, err := decompressBlock(hdr, comp, 1<<20)
		assert.ErrorIs(t, err, errBlockTooLarge)
	}

	enc, err := compressBlock(bytes.Repeat([]byte("y"), 2048), CompressionLZ4)
	require.NoError(t, err)
	_, err = decompressBlock(enc, CompressionLZ4, 1024)
	assert.ErrorIs(t, err, errBlockTooLarge)
}

func TestParseCompression(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		c, err := ParseCompression(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.String())
	}

	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)

	_, err = ParseCompression("snappy")
	assert.Error(t, err)
}
