package core

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/zeebo/blake3"

	"chunkup/pkg/metrics"
	"chunkup/pkg/progress"
	"chunkup/pkg/transfer"
)

// Decompressor expands a persisted artifact into its output file
type Decompressor struct {
	Codec   Codec // Gzip when nil
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DecompressResult describes a written output artifact
type DecompressResult struct {
	Path    string
	Written int64
	Digest  string // Hex BLAKE3 digest of the output
}

// Decompress reads the whole persisted stream at src and writes the
// decoded bytes to dst. When expectDigest is set, the output digest must
// match it. Success emits a Completed message and failure an Error
// message; the state of dst after a failure is undefined.
func (d *Decompressor) Decompress(ctx context.Context, src, dst, expectDigest string, emit transfer.Emitter) (*DecompressResult, error) {
	if emit == nil {
		emit = transfer.Discard
	}
	res, err := d.decompress(ctx, src, dst, expectDigest, emit)
	if err != nil {
		emit.Emit(transfer.Error(err))
		return nil, err
	}
	emit.Emit(transfer.Completed(dst))
	return res, nil
}

func (d *Decompressor) decompress(ctx context.Context, src, dst, expectDigest string, emit transfer.Emitter) (*DecompressResult, error) {
	codec := d.Codec
	if codec == nil {
		codec = Gzip{}
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("source", src, "destination", dst, "codec", codec.Name())
	start := time.Now()

	in, err := os.Open(src)
	if err != nil {
		return nil, newError(KindDecompress, "open persisted artifact", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return nil, newError(KindDecompress, "stat persisted artifact", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return nil, newError(KindDecompress, "create output", err)
	}
	defer out.Close()

	hasher := blake3.New()
	written, err := d.expand(ctx, codec, in, info.Size(), io.MultiWriter(out, hasher), emit)
	if err != nil {
		log.Error("decompress failed", "written", written, "error", err)
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, newError(KindDecompress, "close output", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if expectDigest != "" && digest != expectDigest {
		return nil, newError(KindDecompress, "verify output",
			fmt.Errorf("digest %s does not match source digest %s", digest, expectDigest))
	}

	d.Metrics.ObservePhase(string(transfer.PhaseDecompressing), time.Since(start))
	log.Info("decompress complete", "written", written, "elapsed", time.Since(start))
	return &DecompressResult{Path: dst, Written: written, Digest: digest}, nil
}

// expand streams the codec output of in into w. An empty input is an
// empty stream.
func (d *Decompressor) expand(ctx context.Context, codec Codec, in io.Reader, size int64, w io.Writer, emit transfer.Emitter) (int64, error) {
	if size == 0 {
		return 0, nil
	}

	tracker := progress.NewPercent(size)
	counted := &progress.Reader{
		R: bufio.NewReader(in),
		OnRead: func(n int64) {
			if pct, changed := tracker.Add(n); changed {
				emit.Emit(transfer.Progress(transfer.PhaseDecompressing, pct, 100))
			}
		},
	}

	zr, err := codec.NewReader(counted)
	if err != nil {
		return 0, newError(KindDecompress, "open decoder", err)
	}
	defer zr.Close()

	written, err := io.Copy(w, &contextReader{ctx: ctx, r: zr})
	d.Metrics.AddBytesDecompressed(written)
	if err != nil {
		return written, newError(KindDecompress, "decode stream", err)
	}
	return written, nil
}

// contextReader stops reading once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
