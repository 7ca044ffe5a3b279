package core

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"chunkup/pkg/transfer"
)

func decodeAll(t *testing.T, codec Codec, stream []byte) []byte {
	t.Helper()
	zr, err := codec.NewReader(bytes.NewReader(stream))
	require.NoError(t, err)
	defer zr.Close()
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return out
}

func TestCompressRoundTrip(t *testing.T) {
	data := testData(10_000, 42)
	for _, codec := range allCodecs {
		t.Run(codec.Name(), func(t *testing.T) {
			c := &Compressor{ChunkSize: 1000, Concurrency: 4, Codec: codec}
			artifact, err := c.Compress(context.Background(), NewBytesBlob("data.txt", "", data), nil)
			require.NoError(t, err)

			assert.Equal(t, 10, artifact.ChunkCount)
			assert.Equal(t, int64(len(data)), artifact.SourceSize)
			assert.Equal(t, codec.Name(), artifact.Codec)
			sum := blake3.Sum256(data)
			assert.Equal(t, hex.EncodeToString(sum[:]), artifact.Digest)
			assert.True(t, bytes.Equal(data, decodeAll(t, codec, artifact.Bytes)))
		})
	}
}

func TestCompressMergesInIndexOrder(t *testing.T) {
	data := testData(64*20, 3)
	codec := Gzip{}

	// Sequential reference: each chunk compressed on its own, in order
	var want []byte
	for off := 0; off < len(data); off += 64 {
		part, err := codec.Compress(data[off : off+64])
		require.NoError(t, err)
		want = append(want, part...)
	}

	base := CodecWorker(codec)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	delays := make([]time.Duration, 20)
	for i := range delays {
		delays[i] = time.Duration(rng.Intn(5)) * time.Millisecond
	}
	c := &Compressor{
		ChunkSize:   64,
		Concurrency: -1,
		Codec:       codec,
		Worker: func(ctx context.Context, chunk Chunk) (CompressedChunk, error) {
			time.Sleep(delays[chunk.Index])
			return base(ctx, chunk)
		},
	}

	for i := 0; i < 3; i++ {
		artifact, err := c.Compress(context.Background(), NewBytesBlob("data.bin", "", data), nil)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(want, artifact.Bytes), "run %d: merged stream differs from sequential order", i)
	}
}

func TestCompressEmitsProgress(t *testing.T) {
	data := testData(1050, 9)
	rec := &recorder{}
	c := &Compressor{ChunkSize: 100, Concurrency: 3}
	_, err := c.Compress(context.Background(), NewBytesBlob("data.bin", "", data), rec)
	require.NoError(t, err)

	reading := rec.progress(transfer.PhaseReading)
	require.Len(t, reading, 11)
	var prev int64
	for _, m := range reading {
		assert.Greater(t, m.Loaded, prev)
		assert.Equal(t, int64(len(data)), m.Total)
		prev = m.Loaded
	}
	assert.Equal(t, int64(len(data)), prev)

	compressing := rec.progress(transfer.PhaseCompressing)
	require.Len(t, compressing, 11)
	for i, m := range compressing {
		assert.Equal(t, int64(i+1), m.Loaded)
		assert.Equal(t, int64(11), m.Total)
	}

	for _, m := range rec.all() {
		assert.Equal(t, transfer.KindProgress, m.Kind)
	}
}

func TestCompressEmptySource(t *testing.T) {
	rec := &recorder{}
	c := &Compressor{ChunkSize: 100}
	artifact, err := c.Compress(context.Background(), NewBytesBlob("empty.txt", "text/plain", nil), rec)
	require.NoError(t, err)

	assert.Equal(t, 0, artifact.ChunkCount)
	assert.Zero(t, artifact.Size())
	assert.Empty(t, rec.all())
	sum := blake3.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(sum[:]), artifact.Digest)
}

func TestCompressWorkerFailure(t *testing.T) {
	data := testData(500, 5)
	boom := errors.New("codec exploded")
	base := CodecWorker(Gzip{})
	c := &Compressor{
		ChunkSize:   100,
		Concurrency: 2,
		Worker: func(ctx context.Context, chunk Chunk) (CompressedChunk, error) {
			if chunk.Index == 2 {
				return CompressedChunk{}, boom
			}
			return base(ctx, chunk)
		},
	}

	artifact, err := c.Compress(context.Background(), NewBytesBlob("data.bin", "", data), nil)
	require.Error(t, err)
	assert.Nil(t, artifact)
	assert.Equal(t, KindCompression, KindOf(err))
	assert.True(t, errors.Is(err, ErrCompression))
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "compress chunk 2")
}

func TestCompressWorkerWrongIndex(t *testing.T) {
	c := &Compressor{
		ChunkSize: 10,
		Worker: func(ctx context.Context, chunk Chunk) (CompressedChunk, error) {
			return CompressedChunk{Index: chunk.Index + 1, Bytes: chunk.Bytes}, nil
		},
	}
	_, err := c.Compress(context.Background(), NewBytesBlob("a", "", testData(30, 1)), nil)
	require.Error(t, err)
	assert.Equal(t, KindCompression, KindOf(err))
}

func TestCompressReadFailure(t *testing.T) {
	blob := &truncatedBlob{BytesBlob: NewBytesBlob("short.bin", "", testData(500, 2)), limit: 250}
	c := &Compressor{ChunkSize: 100}
	artifact, err := c.Compress(context.Background(), blob, nil)
	require.Error(t, err)
	assert.Nil(t, artifact)
	assert.Equal(t, KindRead, KindOf(err))
}

func TestCompressHugeChunkSize(t *testing.T) {
	data := testData(10, 4)
	c := &Compressor{ChunkSize: math.MaxInt64 - 2}
	artifact, err := c.Compress(context.Background(), NewBytesBlob("tiny.bin", "", data), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, artifact.ChunkCount)
	assert.NotZero(t, artifact.Size())

	assert.Equal(t, data, decodeAll(t, Gzip{}, artifact.Bytes))
}

func TestCompressFileTruncatedAfterOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shrinking.bin")
	require.NoError(t, os.WriteFile(path, testData(1<<20, 6), 0644))

	blob, err := OpenFileBlob(path)
	require.NoError(t, err)
	defer blob.Close()
	require.NoError(t, os.Truncate(path, 4096))

	c := &Compressor{ChunkSize: 64 << 10, Concurrency: 2}
	artifact, err := c.Compress(context.Background(), blob, nil)
	require.Error(t, err)
	assert.Nil(t, artifact)
	assert.Equal(t, KindRead, KindOf(err))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestCompressRespectsConcurrencyLimit(t *testing.T) {
	var running, peak atomic.Int32
	base := CodecWorker(Gzip{})
	c := &Compressor{
		ChunkSize:   10,
		Concurrency: 2,
		Worker: func(ctx context.Context, chunk Chunk) (CompressedChunk, error) {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			return base(ctx, chunk)
		},
	}
	_, err := c.Compress(context.Background(), NewBytesBlob("a", "", testData(200, 4)), nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestCompressCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &Compressor{ChunkSize: 10}
	_, err := c.Compress(ctx, NewBytesBlob("a", "", testData(100, 1)), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestResolveConcurrency(t *testing.T) {
	assert.Equal(t, runtime.NumCPU(), ResolveConcurrency(0))
	assert.Equal(t, -1, ResolveConcurrency(-5))
	assert.Equal(t, 3, ResolveConcurrency(3))
}

func BenchmarkCompress(b *testing.B) {
	for _, size := range []int{1 << 20, 10 << 20} {
		data := testData(size, 1)
		for _, codec := range allCodecs {
			b.Run(fmt.Sprintf("%s-%dMB", codec.Name(), size>>20), func(b *testing.B) {
				c := &Compressor{ChunkSize: 1 << 20, Codec: codec}
				blob := NewBytesBlob("bench.bin", "application/octet-stream", data)
				b.SetBytes(int64(size))
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := c.Compress(context.Background(), blob, nil); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}
