package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"chunkup/pkg/metrics"
	"chunkup/pkg/transfer"
)

// Compressor reads a source in chunks, compresses every chunk in
// parallel and merges the results in index order.
type Compressor struct {
	ChunkSize   int64      // Bytes per chunk, DefaultChunkSize when zero
	Concurrency int        // Worker limit, see ResolveConcurrency
	Codec       Codec      // Gzip when nil
	Worker      WorkerFunc // Overrides CodecWorker(Codec) when set
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

func (c *Compressor) codec() Codec {
	if c.Codec == nil {
		return Gzip{}
	}
	return c.Codec
}

func (c *Compressor) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Compress produces the artifact for blob, emitting reading progress as
// chunks are read and compressing progress as workers finish. emit is
// never called concurrently. On any failure no artifact is returned.
func (c *Compressor) Compress(ctx context.Context, blob SourceBlob, emit transfer.Emitter) (*Artifact, error) {
	if emit == nil {
		emit = transfer.Discard
	}
	// Reading and merge progress come from different goroutines
	emit = transfer.Serialize(emit)
	chunkSize := c.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	reader, err := NewChunkReader(blob, chunkSize)
	if err != nil {
		return nil, newError(KindRead, "open chunk reader", err)
	}

	codec := c.codec()
	work := c.Worker
	if work == nil {
		work = CodecWorker(codec)
	}

	total := reader.Count()
	size := blob.Size()
	log := c.logger().With("source", blob.Name(), "size", size, "chunks", total, "codec", codec.Name())
	log.Debug("compress start", "chunk_size", chunkSize)
	start := time.Now()

	// Cancelling stops the pool from starting new workers on a read failure
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := NewWorkerPool(ctx, c.Concurrency, total, work)
	slots := make([][]byte, total)
	merged := make(chan mergeResult, 1)
	go func() {
		merged <- c.collect(pool.Results(), slots, emit)
	}()

	var readErr error
	for {
		chunk, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = err
			cancel()
			break
		}
		c.Metrics.AddBytesRead(int64(len(chunk.Bytes)))
		emit.Emit(transfer.Progress(transfer.PhaseReading, reader.BytesRead(), size))
		pool.Submit(chunk)
	}

	poolErr := pool.Wait()
	result := <-merged

	switch {
	case readErr != nil:
		log.Error("compress aborted", "error", readErr)
		return nil, readErr
	case poolErr != nil:
		log.Error("compress aborted", "error", poolErr)
		if KindOf(poolErr) == 0 {
			poolErr = newError(KindCompression, "compress chunks", poolErr)
		}
		return nil, poolErr
	case result.err != nil:
		return nil, result.err
	}

	artifact := &Artifact{
		Bytes:      concatSlots(slots, result.bytes),
		SourceSize: size,
		ChunkCount: total,
		Codec:      codec.Name(),
		Digest:     reader.Digest(),
	}
	c.Metrics.ObservePhase(string(transfer.PhaseCompressing), time.Since(start))
	log.Info("compress complete", "compressed_size", artifact.Size(), "elapsed", time.Since(start))
	return artifact, nil
}

type mergeResult struct {
	bytes int64
	err   error
}

// collect is the only writer of slots. Each index is filled exactly once;
// the filled count must equal len(slots) once results is closed.
func (c *Compressor) collect(results <-chan CompressedChunk, slots [][]byte, emit transfer.Emitter) mergeResult {
	var (
		filled int
		total  int64
		err    error
	)
	seen := make([]bool, len(slots))
	for result := range results {
		if result.Index < 0 || result.Index >= len(slots) {
			err = errors.Join(err, newError(KindCompression, "merge", fmt.Errorf("chunk index %d out of range", result.Index)))
			continue
		}
		if seen[result.Index] {
			err = errors.Join(err, newError(KindCompression, "merge", fmt.Errorf("chunk %d produced twice", result.Index)))
			continue
		}
		slots[result.Index] = result.Bytes
		seen[result.Index] = true
		filled++
		total += int64(len(result.Bytes))
		c.Metrics.IncChunksCompressed()
		emit.Emit(transfer.Progress(transfer.PhaseCompressing, int64(filled), int64(len(slots))))
	}
	if err == nil && filled != len(slots) {
		err = newError(KindCompression, "merge", fmt.Errorf("filled %d of %d slots", filled, len(slots)))
	}
	return mergeResult{bytes: total, err: err}
}

func concatSlots(slots [][]byte, size int64) []byte {
	out := make([]byte, 0, size)
	for _, slot := range slots {
		out = append(out, slot...)
	}
	return out
}
