// Package lib wires configuration into the upload pipeline. It is the
// entry point for programs embedding the uploader and for the chunkup
// command.
package lib

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"chunkup/pkg/catalog"
	"chunkup/pkg/config"
	"chunkup/pkg/core"
	"chunkup/pkg/metrics"
	"chunkup/pkg/pipeline"
	"chunkup/pkg/storage"
	"chunkup/pkg/transfer"
)

// Uploader runs uploads with one configuration
type Uploader struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Catalog *catalog.Store // Optional
}

// NewUploader creates an uploader for cfg, using the default
// configuration when cfg is nil
func NewUploader(cfg *config.Config, logger *slog.Logger) (*Uploader, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{Config: cfg, Logger: logger}, nil
}

// Codec returns the configured codec
func (u *Uploader) Codec() (core.Codec, error) {
	return core.ParseCodec(u.Config.Codec)
}

// Layout returns the receiving side's directory layout
func (u *Uploader) Layout() storage.Layout {
	return storage.Layout{Base: u.Config.OutputBasePath}
}

// Upload runs the full pipeline for the file at path. An empty path means
// nothing was selected and produces a warning.
func (u *Uploader) Upload(ctx context.Context, path string, sink transfer.Emitter) (*pipeline.Result, error) {
	if sink == nil {
		sink = transfer.Discard
	}
	codec, err := u.Codec()
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Options{
		ChunkSize:         int64(u.Config.ChunkSize),
		FrameSize:         int(u.Config.FrameSize),
		Concurrency:       u.Config.Concurrency,
		Codec:             codec,
		MaxFileSize:       int64(u.Config.MaxFileSize),
		AcceptedFileTypes: u.Config.AcceptedFileTypes,
		Directories:       u.Layout(),
		Catalog:           u.Catalog,
		Logger:            u.Logger,
		Metrics:           u.Metrics,
	})
	if err != nil {
		return nil, err
	}

	if path == "" {
		return p.Run(ctx, nil, sink)
	}

	blob, err := core.OpenFileBlob(path)
	if err != nil {
		err = &core.Error{Kind: core.KindRead, Op: "open source", Err: err}
		sink.Emit(transfer.Error(err))
		return nil, err
	}
	defer blob.Close()

	return p.Run(ctx, blob, sink)
}

// Compress writes the compressed artifact of input to output without
// transferring it. A failure is also emitted to sink as an Error.
func (u *Uploader) Compress(ctx context.Context, input, output string, sink transfer.Emitter) (*core.Artifact, error) {
	if sink == nil {
		sink = transfer.Discard
	}
	artifact, err := u.compress(ctx, input, output, sink)
	if err != nil {
		sink.Emit(transfer.Error(err))
		return nil, err
	}
	return artifact, nil
}

func (u *Uploader) compress(ctx context.Context, input, output string, sink transfer.Emitter) (*core.Artifact, error) {
	codec, err := u.Codec()
	if err != nil {
		return nil, err
	}
	blob, err := core.OpenFileBlob(input)
	if err != nil {
		return nil, &core.Error{Kind: core.KindRead, Op: "open source", Err: err}
	}
	defer blob.Close()

	compressor := &core.Compressor{
		ChunkSize:   int64(u.Config.ChunkSize),
		Concurrency: u.Config.Concurrency,
		Codec:       codec,
		Logger:      u.Logger,
		Metrics:     u.Metrics,
	}
	artifact, err := compressor.Compress(ctx, blob, sink)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, &core.Error{Kind: core.KindPersist, Op: "create output directory", Err: err}
	}
	persister := &core.Persister{FrameSize: int(u.Config.FrameSize), Logger: u.Logger, Metrics: u.Metrics}
	source := func() (transfer.StreamReference, error) { return artifact, nil }
	if _, err := persister.Persist(ctx, source, artifact.Size(), output, sink); err != nil {
		return nil, err
	}
	return artifact, nil
}

// Decompress expands a persisted artifact at input into output. Every
// failure is emitted to sink as an Error.
func (u *Uploader) Decompress(ctx context.Context, input, output string, sink transfer.Emitter) (*core.DecompressResult, error) {
	if sink == nil {
		sink = transfer.Discard
	}
	codec, err := u.Codec()
	if err != nil {
		sink.Emit(transfer.Error(err))
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		err = &core.Error{Kind: core.KindDecompress, Op: "create output directory", Err: err}
		sink.Emit(transfer.Error(err))
		return nil, err
	}
	d := &core.Decompressor{Codec: codec, Logger: u.Logger, Metrics: u.Metrics}
	return d.Decompress(ctx, input, output, "", sink)
}

// CompressedOutputPath picks the artifact path for input: its base name
// with the codec extension, or "output" plus the extension when that
// name is taken
func (u *Uploader) CompressedOutputPath(input string) (string, error) {
	codec, err := u.Codec()
	if err != nil {
		return "", err
	}
	autoName := filepath.Base(input) + codec.Extension()
	if _, err := os.Stat(autoName); os.IsNotExist(err) {
		return autoName, nil
	}
	return "output" + codec.Extension(), nil
}

// DecompressedOutputPath strips the codec extension from input
func (u *Uploader) DecompressedOutputPath(input string) (string, error) {
	codec, err := u.Codec()
	if err != nil {
		return "", err
	}
	base := filepath.Base(input)
	trimmed := strings.TrimSuffix(base, codec.Extension())
	if trimmed == base || trimmed == "" {
		return "", fmt.Errorf("cannot derive output name from %s: missing %s extension", input, codec.Extension())
	}
	return trimmed, nil
}
