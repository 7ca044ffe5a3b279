package core

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// WorkerFunc compresses one chunk. It must return exactly one result with
// the chunk's index, or an error.
type WorkerFunc func(ctx context.Context, chunk Chunk) (CompressedChunk, error)

// CodecWorker returns a WorkerFunc that compresses with codec
func CodecWorker(codec Codec) WorkerFunc {
	return func(ctx context.Context, chunk Chunk) (CompressedChunk, error) {
		compressed, err := codec.Compress(chunk.Bytes)
		if err != nil {
			return CompressedChunk{}, err
		}
		return CompressedChunk{Index: chunk.Index, Bytes: compressed}, nil
	}
}

// WorkerPool runs one worker per submitted chunk, at most limit at a
// time. Results are delivered on a channel buffered to the expected chunk
// count, so workers never wait on the collector.
type WorkerPool struct {
	group   *errgroup.Group
	ctx     context.Context
	work    WorkerFunc
	results chan CompressedChunk
}

// ResolveConcurrency maps a configured limit to an errgroup limit:
// 0 means one worker per CPU, a negative value means unbounded.
func ResolveConcurrency(limit int) int {
	switch {
	case limit == 0:
		return runtime.NumCPU()
	case limit < 0:
		return -1
	default:
		return limit
	}
}

// NewWorkerPool creates a pool expecting capacity results
func NewWorkerPool(ctx context.Context, limit, capacity int, work WorkerFunc) *WorkerPool {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(ResolveConcurrency(limit))
	return &WorkerPool{
		group:   group,
		ctx:     groupCtx,
		work:    work,
		results: make(chan CompressedChunk, capacity),
	}
}

// Submit hands chunk to a new worker. It blocks while the pool is at its
// limit. Once any worker has failed, later chunks are skipped.
func (p *WorkerPool) Submit(chunk Chunk) {
	p.group.Go(func() error {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		result, err := p.work(p.ctx, chunk)
		if err != nil {
			return newError(KindCompression, fmt.Sprintf("compress chunk %d", chunk.Index), err)
		}
		if result.Index != chunk.Index {
			return newError(KindCompression, fmt.Sprintf("compress chunk %d", chunk.Index),
				fmt.Errorf("worker returned index %d", result.Index))
		}
		p.results <- result
		return nil
	})
}

// Results is closed by Wait after every worker has returned
func (p *WorkerPool) Results() <-chan CompressedChunk {
	return p.results
}

// Wait joins every worker and returns the first failure
func (p *WorkerPool) Wait() error {
	err := p.group.Wait()
	close(p.results)
	return err
}

// Context is cancelled when a worker fails or the parent is cancelled
func (p *WorkerPool) Context() context.Context {
	return p.ctx
}
