package core

import (
	"bytes"
	"fmt"
	"io"
)

// Default sizes for the upload pipeline
const (
	DefaultChunkSize = 128 * 1024 * 1024 // Bytes per source chunk
	DefaultFrameSize = 80 * 1024         // Bytes per persisted frame
)

// Chunk is one fixed-size range of the source. Bytes is owned by the
// chunk and handed to exactly one worker.
type Chunk struct {
	Index  int    // Position in the source, determines merge order
	Offset int64  // Byte offset into the source
	Bytes  []byte // Raw bytes of the range
}

// CompressedChunk is the output of one worker for one Chunk
type CompressedChunk struct {
	Index int    // Index of the source chunk
	Bytes []byte // Compressed bytes, a complete codec frame
}

// Artifact is the merged compressed stream of one source
type Artifact struct {
	Bytes      []byte // Concatenated compressed chunks in index order
	SourceSize int64  // Uncompressed size
	ChunkCount int    // Number of chunks merged
	Codec      string // Codec name used for every chunk
	Digest     string // Hex BLAKE3 digest of the uncompressed source
}

// Size returns the compressed length
func (a *Artifact) Size() int64 {
	return int64(len(a.Bytes))
}

// OpenReadStream opens the artifact for the receiving side. The open is
// rejected when the artifact is larger than maxAllowedSize.
func (a *Artifact) OpenReadStream(maxAllowedSize int64) (io.ReadCloser, error) {
	if a.Size() > maxAllowedSize {
		return nil, fmt.Errorf("artifact size %d exceeds max allowed size %d", a.Size(), maxAllowedSize)
	}
	return io.NopCloser(bytes.NewReader(a.Bytes)), nil
}
