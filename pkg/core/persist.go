package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"chunkup/pkg/metrics"
	"chunkup/pkg/progress"
	"chunkup/pkg/transfer"
)

// Persister writes a compressed stream to a file one frame at a time
type Persister struct {
	FrameSize int // Bytes per frame, DefaultFrameSize when zero
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Persist fetches source once, opens its stream bounded by size, and
// appends it to a new file at path. After each frame an uploading
// progress message carries the percentage written, emitted only when it
// changes. The file is synced and closed before Persist returns; on
// failure a partial file is left at path.
func (p *Persister) Persist(ctx context.Context, source transfer.DataSource, size int64, path string, emit transfer.Emitter) (int64, error) {
	if emit == nil {
		emit = transfer.Discard
	}
	if source == nil {
		return 0, newError(KindTransfer, "fetch data source", fmt.Errorf("no data source"))
	}
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("path", path, "size", size)
	start := time.Now()

	ref, err := source()
	if err != nil {
		return 0, newError(KindTransfer, "fetch data source", err)
	}
	stream, err := ref.OpenReadStream(size)
	if err != nil {
		return 0, newError(KindTransfer, "open read stream", err)
	}
	defer stream.Close()

	f, err := os.Create(path)
	if err != nil {
		return 0, newError(KindPersist, "create file", err)
	}

	written, err := p.copyFrames(ctx, f, stream, size, emit)
	if err != nil {
		f.Close()
		log.Error("persist failed", "written", written, "error", err)
		return written, err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return written, newError(KindPersist, "sync file", err)
	}
	if err := f.Close(); err != nil {
		return written, newError(KindPersist, "close file", err)
	}

	p.Metrics.ObservePhase(string(transfer.PhaseUploading), time.Since(start))
	log.Info("persist complete", "written", written, "elapsed", time.Since(start))
	return written, nil
}

// copyFrames reads the stream in frames and appends each one to w
func (p *Persister) copyFrames(ctx context.Context, w io.Writer, r io.Reader, size int64, emit transfer.Emitter) (int64, error) {
	frameSize := p.FrameSize
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	buf := make([]byte, frameSize)
	tracker := progress.NewPercent(size)

	for {
		if err := ctx.Err(); err != nil {
			return tracker.Done(), newError(KindTransfer, "read frame", err)
		}

		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return tracker.Done(), newError(KindPersist, "write frame", werr)
			}
			p.Metrics.AddBytesPersisted(int64(n))
			if pct, changed := tracker.Add(int64(n)); changed {
				emit.Emit(transfer.Progress(transfer.PhaseUploading, pct, 100))
			}
		}
		if err == io.EOF {
			return tracker.Done(), nil
		}
		if err != nil {
			return tracker.Done(), newError(KindTransfer, "read frame", err)
		}
	}
}
