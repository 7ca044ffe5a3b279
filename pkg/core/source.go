package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/edsrzf/mmap-go"
	"github.com/gabriel-vasile/mimetype"
)

// SourceBlob is an immutable handle to the bytes being uploaded. The
// caller owns it for the whole run; the pipeline only reads ranges.
type SourceBlob interface {
	io.ReaderAt
	Size() int64
	Name() string
	MediaType() string
}

// sniffLimit is how many leading bytes are used for media type detection
const sniffLimit = 3072

// BytesBlob is an in-memory SourceBlob
type BytesBlob struct {
	name      string
	mediaType string
	data      []byte
}

// NewBytesBlob wraps data. An empty mediaType is detected from content.
func NewBytesBlob(name, mediaType string, data []byte) *BytesBlob {
	if mediaType == "" {
		mediaType = detectMediaType(data)
	}
	return &BytesBlob{name: name, mediaType: mediaType, data: data}
}

func (b *BytesBlob) Size() int64       { return int64(len(b.data)) }
func (b *BytesBlob) Name() string      { return b.name }
func (b *BytesBlob) MediaType() string { return b.mediaType }

// ReadAt implements io.ReaderAt
func (b *BytesBlob) ReadAt(p []byte, off int64) (int, error) {
	return readAtMapping(b.data, p, off)
}

// FileBlob is a SourceBlob backed by a read-only memory mapping of a file
type FileBlob struct {
	name      string
	mediaType string
	file      *os.File
	data      mmap.MMap // nil for empty files
}

// OpenFileBlob maps the file at path read-only
func OpenFileBlob(path string) (*FileBlob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open %s: is a directory", path)
	}

	blob := &FileBlob{name: filepath.Base(path), file: f}

	// Zero-length files cannot be mapped
	if info.Size() > 0 {
		blob.data, err = mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("map %s: %w", path, err)
		}
	}
	blob.mediaType = detectMediaType(blob.data)
	return blob, nil
}

func (b *FileBlob) Size() int64       { return int64(len(b.data)) }
func (b *FileBlob) Name() string      { return b.name }
func (b *FileBlob) MediaType() string { return b.mediaType }

// ReadAt implements io.ReaderAt. A file that shrank after mapping
// faults on the missing pages; the read then fails with
// io.ErrUnexpectedEOF.
func (b *FileBlob) ReadAt(p []byte, off int64) (n int, err error) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(interface{ Addr() uintptr }); !ok {
				panic(r)
			}
			n, err = 0, fmt.Errorf("%s changed while mapped: %w", b.name, io.ErrUnexpectedEOF)
		}
	}()
	return readAtMapping(b.data, p, off)
}

// Close unmaps and closes the file
func (b *FileBlob) Close() error {
	if b.data != nil {
		if err := b.data.Unmap(); err != nil {
			b.file.Close()
			return fmt.Errorf("unmap %s: %w", b.name, err)
		}
		b.data = nil
	}
	return b.file.Close()
}

// readAtMapping copies from an in-memory range with io.ReaderAt semantics
func readAtMapping(data []byte, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func detectMediaType(data []byte) string {
	if len(data) > sniffLimit {
		data = data[:sniffLimit]
	}
	return mimetype.Detect(data).String()
}
