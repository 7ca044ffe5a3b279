package core

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allCodecs = []Codec{Gzip{}, Zstd{}, LZ4{}}

func TestCodecConcatenatedChunksDecodeAsOneStream(t *testing.T) {
	parts := [][]byte{
		testData(5000, 1),
		testData(1, 2),
		testData(70000, 3),
	}
	want := bytes.Join(parts, nil)

	for _, codec := range allCodecs {
		t.Run(codec.Name(), func(t *testing.T) {
			var stream []byte
			for _, part := range parts {
				compressed, err := codec.Compress(part)
				require.NoError(t, err)
				stream = append(stream, compressed...)
			}

			zr, err := codec.NewReader(bytes.NewReader(stream))
			require.NoError(t, err)
			defer zr.Close()

			got, err := io.ReadAll(zr)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(want, got), "decoded %d bytes, want %d", len(got), len(want))
		})
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	garbage := []byte("definitely not a compressed stream, just text")
	for _, codec := range allCodecs {
		t.Run(codec.Name(), func(t *testing.T) {
			zr, err := codec.NewReader(bytes.NewReader(garbage))
			if err != nil {
				return
			}
			defer zr.Close()
			_, err = io.ReadAll(zr)
			assert.Error(t, err)
		})
	}
}

func TestParseCodec(t *testing.T) {
	for name, want := range map[string]string{
		"":     CodecGzip,
		"gzip": CodecGzip,
		"zstd": CodecZstd,
		"lz4":  CodecLZ4,
	} {
		codec, err := ParseCodec(name)
		require.NoError(t, err)
		assert.Equal(t, want, codec.Name())
	}

	_, err := ParseCodec("zip")
	assert.Error(t, err)
}

func TestCodecExtensions(t *testing.T) {
	assert.Equal(t, ".gz", Gzip{}.Extension())
	assert.Equal(t, ".zst", Zstd{}.Extension())
	assert.Equal(t, ".lz4", LZ4{}.Extension())
}
