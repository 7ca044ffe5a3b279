package core

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func TestChunkCount(t *testing.T) {
	tests := []struct {
		size, chunk int64
		want        int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{9, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{35, 10, 4},
		{DefaultChunkSize * 3, DefaultChunkSize, 3},
		{10, math.MaxInt64, 1},
		{10, math.MaxInt64 - 2, 1},
		{math.MaxInt64, math.MaxInt64, 1},
		{math.MaxInt64, math.MaxInt64 - 1, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChunkCount(tt.size, tt.chunk), "size=%d chunk=%d", tt.size, tt.chunk)
	}
}

func TestChunkReaderPartitionsSource(t *testing.T) {
	const chunkSize = 64
	for _, size := range []int{0, 1, chunkSize - 1, chunkSize, chunkSize + 1, 3*chunkSize + 5} {
		data := testData(size, int64(size))
		reader, err := NewChunkReader(NewBytesBlob("data.bin", "application/octet-stream", data), chunkSize)
		require.NoError(t, err)
		require.Equal(t, ChunkCount(int64(size), chunkSize), reader.Count())

		var joined []byte
		for i := 0; ; i++ {
			chunk, err := reader.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			assert.Equal(t, i, chunk.Index)
			assert.Equal(t, int64(i*chunkSize), chunk.Offset)
			assert.NotEmpty(t, chunk.Bytes)
			if i < reader.Count()-1 {
				assert.Len(t, chunk.Bytes, chunkSize)
			}
			joined = append(joined, chunk.Bytes...)
		}

		assert.True(t, bytes.Equal(data, joined), "size %d: chunks do not rebuild the source", size)
		assert.Equal(t, int64(size), reader.BytesRead())

		_, err = reader.Next()
		assert.Equal(t, io.EOF, err)
	}
}

func TestChunkReaderDigest(t *testing.T) {
	data := testData(1000, 7)
	reader, err := NewChunkReader(NewBytesBlob("data.bin", "", data), 128)
	require.NoError(t, err)
	for {
		if _, err := reader.Next(); err == io.EOF {
			break
		}
	}

	sum := blake3.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), reader.Digest())
}

func TestChunkReaderShortRead(t *testing.T) {
	data := testData(300, 1)
	blob := &truncatedBlob{BytesBlob: NewBytesBlob("short.bin", "", data), limit: 150}

	reader, err := NewChunkReader(blob, 100)
	require.NoError(t, err)

	_, err = reader.Next()
	require.NoError(t, err)

	_, err = reader.Next()
	require.Error(t, err)
	assert.Equal(t, KindRead, KindOf(err))
	assert.True(t, errors.Is(err, ErrRead))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Contains(t, err.Error(), "read chunk 1")
}

func TestNewChunkReaderRejectsChunkSize(t *testing.T) {
	blob := NewBytesBlob("a", "text/plain", []byte("abc"))
	for _, size := range []int64{0, -1} {
		_, err := NewChunkReader(blob, size)
		assert.Error(t, err)
	}
}
