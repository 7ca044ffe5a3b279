package lib

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkup/pkg/config"
	"chunkup/pkg/core"
	"chunkup/pkg/storage"
	"chunkup/pkg/transfer"
)

func newTestUploader(t *testing.T, codec string) *Uploader {
	t.Helper()
	cfg := config.Default()
	cfg.OutputBasePath = filepath.Join(t.TempDir(), "uploads")
	cfg.ChunkSize = 4096
	cfg.FrameSize = 512
	cfg.Codec = codec
	u, err := NewUploader(cfg, nil)
	require.NoError(t, err)
	return u
}

func writeSource(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	data := bytes.Repeat([]byte("chunkup lib test data "), size/22+1)[:size]
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}

func TestUploadFile(t *testing.T) {
	u := newTestUploader(t, "gzip")
	path, data := writeSource(t, "notes.txt", 20_000)

	var completed []string
	sink := transfer.EmitterFunc(func(m transfer.Message) {
		if m.Kind == transfer.KindCompleted {
			completed = append(completed, m.Path)
		}
	})

	result, err := u.Upload(context.Background(), path, sink)
	require.NoError(t, err)
	assert.Equal(t, 5, result.ChunkCount)
	assert.Equal(t, []string{result.OutputPath}, completed)
	assert.Equal(t, filepath.Join(u.Config.OutputBasePath, storage.ExtractedDirName, "notes.txt"), result.OutputPath)

	out, err := os.ReadFile(result.OutputPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, out))
	assert.FileExists(t, filepath.Join(u.Config.OutputBasePath, "notes.gz"))
}

func TestUploadWithoutPathWarns(t *testing.T) {
	u := newTestUploader(t, "gzip")
	var warnings []string
	sink := transfer.EmitterFunc(func(m transfer.Message) {
		if m.Kind == transfer.KindWarning {
			warnings = append(warnings, m.Text)
		}
	})

	_, err := u.Upload(context.Background(), "", sink)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	assert.Len(t, warnings, 1)
}

func TestUploadMissingFile(t *testing.T) {
	u := newTestUploader(t, "gzip")
	var errs int
	sink := transfer.EmitterFunc(func(m transfer.Message) {
		if m.Kind == transfer.KindError {
			errs++
		}
	})

	_, err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing"), sink)
	assert.Equal(t, core.KindRead, core.KindOf(err))
	assert.Equal(t, 1, errs)
}

func TestCompressThenDecompress(t *testing.T) {
	for _, codec := range []string{"gzip", "zstd", "lz4"} {
		t.Run(codec, func(t *testing.T) {
			u := newTestUploader(t, codec)
			path, data := writeSource(t, "data.bin", 10_000)
			dir := t.TempDir()

			c, err := u.Codec()
			require.NoError(t, err)
			artifactPath := filepath.Join(dir, "data.bin"+c.Extension())
			artifact, err := u.Compress(context.Background(), path, artifactPath, nil)
			require.NoError(t, err)
			assert.Equal(t, 3, artifact.ChunkCount)

			name, err := u.DecompressedOutputPath(artifactPath)
			require.NoError(t, err)
			assert.Equal(t, "data.bin", name)

			res, err := u.Decompress(context.Background(), artifactPath, filepath.Join(dir, "out", name), nil)
			require.NoError(t, err)
			assert.Equal(t, artifact.Digest, res.Digest)

			out, err := os.ReadFile(res.Path)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, out))
		})
	}
}

func TestCompressAndDecompressEmitFailures(t *testing.T) {
	u := newTestUploader(t, "gzip")
	dir := t.TempDir()
	var errs []transfer.Message
	sink := transfer.EmitterFunc(func(m transfer.Message) {
		if m.Kind == transfer.KindError {
			errs = append(errs, m)
		}
	})

	_, err := u.Compress(context.Background(), filepath.Join(dir, "missing"), filepath.Join(dir, "missing.gz"), sink)
	assert.Equal(t, core.KindRead, core.KindOf(err))
	require.Len(t, errs, 1)
	assert.Equal(t, core.KindRead, core.KindOf(errs[0].Err))

	errs = nil
	_, err = u.Decompress(context.Background(), filepath.Join(dir, "missing.gz"), filepath.Join(dir, "out", "missing"), sink)
	assert.Equal(t, core.KindDecompress, core.KindOf(err))
	assert.Len(t, errs, 1)
}

func TestOutputPaths(t *testing.T) {
	u := newTestUploader(t, "zstd")

	name, err := u.CompressedOutputPath(filepath.Join("some", "dir", "video.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "video.mp4.zst", name)

	_, err = u.DecompressedOutputPath("video.mp4.gz")
	assert.Error(t, err)
}

func TestNewUploaderValidates(t *testing.T) {
	cfg := config.Default()
	cfg.Codec = "rar"
	_, err := NewUploader(cfg, nil)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.MaxFileSize = math.MaxUint64
	_, err = NewUploader(cfg, nil)
	assert.Error(t, err)

	u, err := NewUploader(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), u.Config)
}
