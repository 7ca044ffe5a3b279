package core

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// ChunkReader splits a SourceBlob into consecutive fixed-size chunks.
// It is lazy and single-use: each call to Next reads one chunk.
type ChunkReader struct {
	blob      SourceBlob
	chunkSize int64
	count     int
	next      int
	offset    int64
	hasher    *blake3.Hasher
}

// NewChunkReader creates a reader over blob. chunkSize must be positive.
func NewChunkReader(blob SourceBlob, chunkSize int64) (*ChunkReader, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	size := blob.Size()
	if size < 0 {
		return nil, fmt.Errorf("source %s reports negative size %d", blob.Name(), size)
	}
	return &ChunkReader{
		blob:      blob,
		chunkSize: chunkSize,
		count:     ChunkCount(size, chunkSize),
		hasher:    blake3.New(),
	}, nil
}

// ChunkCount returns ceil(size / chunkSize)
func ChunkCount(size, chunkSize int64) int {
	if size <= 0 {
		return 0
	}
	return int(1 + (size-1)/chunkSize)
}

// Count returns the total number of chunks, known before any read
func (r *ChunkReader) Count() int { return r.count }

// BytesRead returns the number of source bytes consumed so far
func (r *ChunkReader) BytesRead() int64 { return r.offset }

// Next reads the next chunk. It returns io.EOF after the last chunk and a
// ReadError when the source cannot supply the expected range.
func (r *ChunkReader) Next() (Chunk, error) {
	if r.next >= r.count {
		return Chunk{}, io.EOF
	}

	length := r.chunkSize
	if remaining := r.blob.Size() - r.offset; remaining < length {
		length = remaining
	}

	buf := make([]byte, length)
	n, err := r.blob.ReadAt(buf, r.offset)
	if int64(n) < length {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Chunk{}, newError(KindRead, fmt.Sprintf("read chunk %d at offset %d", r.next, r.offset), err)
	}

	chunk := Chunk{Index: r.next, Offset: r.offset, Bytes: buf}
	r.hasher.Write(buf)
	r.next++
	r.offset += length
	return chunk, nil
}

// Digest returns the hex BLAKE3 digest of every byte read so far. After
// the last chunk it is the digest of the whole source.
func (r *ChunkReader) Digest() string {
	return hex.EncodeToString(r.hasher.Sum(nil))
}
