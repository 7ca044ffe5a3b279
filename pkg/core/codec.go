package core

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is a compression format in which independently compressed chunks
// concatenate into one valid stream. Compress must not share mutable
// state between calls; NewReader decodes the whole concatenation.
type Codec interface {
	Name() string
	Extension() string
	Compress(data []byte) ([]byte, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Codec names accepted by ParseCodec
const (
	CodecGzip = "gzip"
	CodecZstd = "zstd"
	CodecLZ4  = "lz4"
)

// ParseCodec returns the codec registered under name
func ParseCodec(name string) (Codec, error) {
	switch name {
	case CodecGzip, "":
		return Gzip{}, nil
	case CodecZstd:
		return Zstd{}, nil
	case CodecLZ4:
		return LZ4{}, nil
	default:
		return nil, fmt.Errorf("unknown codec: %q", name)
	}
}

// Gzip writes each chunk as one gzip member. Readers treat consecutive
// members as a single stream.
type Gzip struct{}

func (Gzip) Name() string      { return CodecGzip }
func (Gzip) Extension() string { return ".gz" }

func (Gzip) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (Gzip) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	zr.Multistream(true)
	return zr, nil
}

// zstdEncoder is safe for concurrent EncodeAll calls, each of which
// produces a complete frame.
var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("core: zstd encoder initialization failed: " + err.Error())
	}
}

// Zstd writes each chunk as one zstd frame
type Zstd struct{}

func (Zstd) Name() string      { return CodecZstd }
func (Zstd) Extension() string { return ".zst" }

func (Zstd) Compress(data []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (Zstd) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return zr.IOReadCloser(), nil
}

// LZ4 writes each chunk as one LZ4 frame
type LZ4 struct{}

func (LZ4) Name() string      { return CodecLZ4 }
func (LZ4) Extension() string { return ".lz4" }

func (LZ4) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func (LZ4) NewReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	return &lz4FrameReader{src: br, zr: lz4.NewReader(br)}, nil
}

// lz4FrameReader decodes consecutive LZ4 frames. The frame reader
// consumes exactly one frame, so at its end the buffered source is
// peeked for another.
type lz4FrameReader struct {
	src *bufio.Reader
	zr  *lz4.Reader
}

func (r *lz4FrameReader) Read(p []byte) (int, error) {
	for {
		n, err := r.zr.Read(p)
		if !errors.Is(err, io.EOF) {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
		if _, perr := r.src.Peek(1); perr != nil {
			if errors.Is(perr, io.EOF) {
				return 0, io.EOF
			}
			return 0, perr
		}
		r.zr.Reset(r.src)
	}
}

func (r *lz4FrameReader) Close() error { return nil }
