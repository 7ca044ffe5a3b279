// Package pipeline runs one upload end to end: the sending side reads and
// compresses the source and announces the result on a transfer channel;
// the receiving side persists the announced stream and decompresses it.
// Every progress update, warning and failure reaches the caller through a
// single transfer.Emitter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"chunkup/pkg/catalog"
	"chunkup/pkg/core"
	"chunkup/pkg/metrics"
	"chunkup/pkg/storage"
	"chunkup/pkg/transfer"
)

// Directories resolves where the receiving side writes. Both directories
// must exist once the call returns.
type Directories interface {
	UploadDirectory() (string, error)
	ExtractedDirectory() (string, error)
}

// Options configures a Pipeline
type Options struct {
	ChunkSize         int64
	FrameSize         int
	Concurrency       int
	Codec             core.Codec      // Gzip when nil
	Worker            core.WorkerFunc // Replaces the codec worker when set
	MaxFileSize       int64           // Zero means unlimited
	AcceptedFileTypes []string
	Directories       Directories    // Required
	Catalog           *catalog.Store // Optional
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
}

// Result describes a completed run
type Result struct {
	RunID          string
	Name           string
	PersistedPath  string
	OutputPath     string
	SourceSize     int64
	CompressedSize int64
	OutputSize     int64
	ChunkCount     int
	Digest         string
}

// Pipeline drives a single run through the upload state machine. A
// retry is a new Pipeline.
type Pipeline struct {
	opts         Options
	log          *slog.Logger
	state        machine
	started      atomic.Bool
	compressor   *core.Compressor
	persister    *core.Persister
	decompressor *core.Decompressor
}

// New creates a pipeline in the Idle state
func New(opts Options) (*Pipeline, error) {
	if opts.Directories == nil {
		return nil, fmt.Errorf("pipeline: no directories configured")
	}
	if opts.ChunkSize < 0 {
		return nil, fmt.Errorf("pipeline: chunk size must be positive, got %d", opts.ChunkSize)
	}
	if opts.Codec == nil {
		opts.Codec = core.Gzip{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		opts: opts,
		log:  log,
		compressor: &core.Compressor{
			ChunkSize:   opts.ChunkSize,
			Concurrency: opts.Concurrency,
			Codec:       opts.Codec,
			Worker:      opts.Worker,
			Logger:      log,
			Metrics:     opts.Metrics,
		},
		persister: &core.Persister{
			FrameSize: opts.FrameSize,
			Logger:    log,
			Metrics:   opts.Metrics,
		},
		decompressor: &core.Decompressor{
			Codec:   opts.Codec,
			Logger:  log,
			Metrics: opts.Metrics,
		},
	}, nil
}

// State returns the current state
func (p *Pipeline) State() State {
	return p.state.Load()
}

// Run uploads blob. Validation problems are reported to sink as a single
// warning and returned as a ValidationWarning without leaving Idle. Any
// later failure is reported to sink as a single error, moves the run to
// Failed and is returned.
func (p *Pipeline) Run(ctx context.Context, blob core.SourceBlob, sink transfer.Emitter) (*Result, error) {
	if sink == nil {
		sink = transfer.Discard
	}

	if err := p.validate(blob); err != nil {
		p.log.Warn("upload rejected", "reason", warningText(err))
		sink.Emit(transfer.Warning(warningText(err)))
		p.opts.Metrics.RecordRun("rejected")
		return nil, err
	}
	if !p.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("pipeline: run already started")
	}

	runID := uuid.NewString()
	log := p.log.With("run", runID, "source", blob.Name())
	log.Info("upload start", "size", blob.Size(), "media_type", blob.MediaType())
	p.state.advance(StateReading)

	ch := transfer.NewChannel()
	go p.send(ctx, blob, ch)

	result, err := p.receive(ctx, ch, sink, log)
	if err != nil {
		p.state.fail()
		p.opts.Metrics.RecordRun("failed")
		log.Error("upload failed", "state", p.State(), "error", err)
		return nil, err
	}
	result.RunID = runID

	if p.opts.Catalog != nil {
		if err := p.record(ctx, result, blob); err != nil {
			log.Warn("catalog write failed", "error", err)
			sink.Emit(transfer.Warning(fmt.Sprintf("Upload %s was not recorded: %v", result.Name, err)))
		}
	}

	p.state.advance(StateCompleted)
	p.opts.Metrics.RecordRun("completed")
	log.Info("upload complete", "output", result.OutputPath, "output_size", result.OutputSize)
	sink.Emit(transfer.Completed(result.OutputPath))
	return result, nil
}

// send is the producing side: compress, then terminate the send phase
// with Ready or Error
func (p *Pipeline) send(ctx context.Context, blob core.SourceBlob, ch *transfer.Channel) {
	artifact, err := p.compressor.Compress(ctx, blob, ch)
	if err != nil {
		ch.Send(transfer.Error(err))
		return
	}
	ch.Send(transfer.Ready(transfer.Payload{
		Name:       blob.Name(),
		MediaType:  blob.MediaType(),
		Size:       artifact.Size(),
		SourceSize: artifact.SourceSize,
		ChunkCount: artifact.ChunkCount,
		Codec:      artifact.Codec,
		Digest:     artifact.Digest,
		Source:     onceSource(artifact),
	}))
}

// receive is the consuming side. Errors it returns have already been
// reported to sink.
func (p *Pipeline) receive(ctx context.Context, ch *transfer.Channel, sink transfer.Emitter, log *slog.Logger) (*Result, error) {
	for {
		m, err := ch.Receive(ctx)
		if err != nil {
			err = core.TransferFailure("receive message", err)
			sink.Emit(transfer.Error(err))
			return nil, err
		}

		switch m.Kind {
		case transfer.KindProgress:
			if m.Phase == transfer.PhaseCompressing {
				p.state.advance(StateCompressing)
			}
			sink.Emit(m)
		case transfer.KindWarning:
			sink.Emit(m)
		case transfer.KindError:
			sink.Emit(m)
			if m.Err != nil {
				return nil, m.Err
			}
			return nil, core.TransferFailure("sender", errors.New(m.Text))
		case transfer.KindReady:
			result, err := p.receivePayload(ctx, m.Payload, sink, log)
			if err != nil {
				sink.Emit(transfer.Error(err))
				return nil, err
			}
			return result, nil
		default:
			log.Debug("ignoring message", "kind", m.Kind)
		}
	}
}

// receivePayload persists the announced stream and decompresses it
func (p *Pipeline) receivePayload(ctx context.Context, payload *transfer.Payload, sink transfer.Emitter, log *slog.Logger) (*Result, error) {
	p.state.advance(StateUploading)
	if payload == nil {
		return nil, core.TransferFailure("ready message", errors.New("no payload"))
	}
	codec := p.opts.Codec
	if payload.Codec != codec.Name() {
		return nil, core.TransferFailure("ready message",
			fmt.Errorf("payload codec %q, receiver expects %q", payload.Codec, codec.Name()))
	}

	uploadDir, err := p.opts.Directories.UploadDirectory()
	if err != nil {
		return nil, &core.Error{Kind: core.KindPersist, Op: "resolve upload directory", Err: err}
	}
	persisted := filepath.Join(uploadDir, storage.CompressedName(payload.Name, codec.Extension()))
	log.Debug("persisting", "path", persisted, "size", payload.Size)

	written, err := p.persister.Persist(ctx, payload.Source, payload.Size, persisted, sink)
	if err != nil {
		return nil, err
	}
	p.state.advance(StatePersisted)

	extractedDir, err := p.opts.Directories.ExtractedDirectory()
	if err != nil {
		return nil, &core.Error{Kind: core.KindDecompress, Op: "resolve extracted directory", Err: err}
	}
	output := filepath.Join(extractedDir, storage.ExtractedName(payload.Name))

	p.state.advance(StateDecompressing)
	// Run reports the outcome: Completed once the run is recorded, Error
	// through receive
	res, err := p.decompressor.Decompress(ctx, persisted, output, payload.Digest, withoutOutcome(sink))
	if err != nil {
		return nil, err
	}

	return &Result{
		Name:           payload.Name,
		PersistedPath:  persisted,
		OutputPath:     res.Path,
		SourceSize:     payload.SourceSize,
		CompressedSize: written,
		OutputSize:     res.Written,
		ChunkCount:     payload.ChunkCount,
		Digest:         res.Digest,
	}, nil
}

func (p *Pipeline) record(ctx context.Context, r *Result, blob core.SourceBlob) error {
	return p.opts.Catalog.Put(ctx, catalog.Entry{
		RunID:          r.RunID,
		Name:           r.Name,
		MediaType:      blob.MediaType(),
		SourceSize:     r.SourceSize,
		CompressedSize: r.CompressedSize,
		ChunkCount:     r.ChunkCount,
		Codec:          p.opts.Codec.Name(),
		PersistedPath:  r.PersistedPath,
		OutputPath:     r.OutputPath,
		Digest:         r.Digest,
		CompletedAt:    time.Now().UTC(),
	})
}

// onceSource hands out the artifact on the first call only
func onceSource(artifact *core.Artifact) transfer.DataSource {
	var fetched atomic.Bool
	return func() (transfer.StreamReference, error) {
		if !fetched.CompareAndSwap(false, true) {
			return nil, errors.New("data source already fetched")
		}
		return artifact, nil
	}
}

func withoutOutcome(next transfer.Emitter) transfer.Emitter {
	return transfer.EmitterFunc(func(m transfer.Message) {
		if m.Kind != transfer.KindCompleted && m.Kind != transfer.KindError {
			next.Emit(m)
		}
	})
}

func warningText(err error) string {
	var e *core.Error
	if errors.As(err, &e) && e.Kind == core.KindValidation {
		return e.Op
	}
	return err.Error()
}
