// Package transfer carries progress, payload and failure messages from the
// compressing side of an upload to the receiving side.
//
// A send phase is a sequence of Progress and Warning messages terminated
// by exactly one Ready or Error message. The receiving side adds its own
// Progress messages while persisting and decompressing, and a final
// Completed message naming the output artifact.
package transfer

import (
	"fmt"
	"io"
	"sync"
)

// Kind identifies a message type. Values are stored in event logs.
type Kind uint8

const (
	KindProgress  Kind = 1
	KindReady     Kind = 2
	KindWarning   Kind = 3
	KindError     Kind = 4
	KindCompleted Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindReady:
		return "ready"
	case KindWarning:
		return "warning"
	case KindError:
		return "error"
	case KindCompleted:
		return "completed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Terminal reports whether k ends a send phase
func (k Kind) Terminal() bool {
	return k == KindReady || k == KindError
}

// Phase names the pipeline stage a progress message belongs to
type Phase string

const (
	PhaseReading       Phase = "reading"
	PhaseCompressing   Phase = "compressing"
	PhaseUploading     Phase = "uploading"
	PhaseDecompressing Phase = "decompressing"
)

// StreamReference is an opaque handle to the compressed byte stream. The
// stream is opened once; maxAllowedSize must be at least the stream's
// actual length or the open is rejected.
type StreamReference interface {
	OpenReadStream(maxAllowedSize int64) (io.ReadCloser, error)
}

// DataSource is fetched exactly once by the receiving side. It is a
// borrowed reference valid for the duration of one run.
type DataSource func() (StreamReference, error)

// Payload describes the compressed artifact announced by a Ready message.
type Payload struct {
	Name       string `cbor:"name"        json:"name"`
	MediaType  string `cbor:"media_type"  json:"media_type"`
	Size       int64  `cbor:"size"        json:"size"`
	SourceSize int64  `cbor:"source_size" json:"source_size"`
	ChunkCount int    `cbor:"chunk_count" json:"chunk_count"`
	Codec      string `cbor:"codec"       json:"codec"`

	// Digest is the hex BLAKE3 digest of the uncompressed source.
	Digest string `cbor:"digest,omitempty" json:"digest,omitempty"`

	Source DataSource `cbor:"-" json:"-"`
}

// Message is one entry on the channel. Which fields are set depends on
// Kind: Phase/Loaded/Total for progress, Payload for ready, Text for
// warning and error, Path for completed.
type Message struct {
	Kind    Kind     `cbor:"kind"              json:"kind"`
	Phase   Phase    `cbor:"phase,omitempty"   json:"phase,omitempty"`
	Loaded  int64    `cbor:"loaded,omitempty"  json:"loaded,omitempty"`
	Total   int64    `cbor:"total,omitempty"   json:"total,omitempty"`
	Text    string   `cbor:"text,omitempty"    json:"text,omitempty"`
	Path    string   `cbor:"path,omitempty"    json:"path,omitempty"`
	Payload *Payload `cbor:"payload,omitempty" json:"payload,omitempty"`

	// Err is the in-process error behind an Error message. Event logs
	// keep only Text.
	Err error `cbor:"-" json:"-"`
}

// Progress builds a progress message
func Progress(phase Phase, loaded, total int64) Message {
	return Message{Kind: KindProgress, Phase: phase, Loaded: loaded, Total: total}
}

// Ready builds the terminal success message of a send phase
func Ready(payload Payload) Message {
	return Message{Kind: KindReady, Payload: &payload}
}

// Warning builds a non-fatal warning message
func Warning(text string) Message {
	return Message{Kind: KindWarning, Text: text}
}

// Error builds the terminal failure message of a send phase
func Error(err error) Message {
	return Message{Kind: KindError, Text: err.Error(), Err: err}
}

// Completed builds the receiver's final message
func Completed(path string) Message {
	return Message{Kind: KindCompleted, Path: path}
}

// Emitter accepts messages. Implementations must not reorder them.
type Emitter interface {
	Emit(Message)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(Message)

func (f EmitterFunc) Emit(m Message) { f(m) }

// Discard drops every message
var Discard Emitter = EmitterFunc(func(Message) {})

type serialized struct {
	mu   sync.Mutex
	next Emitter
}

func (s *serialized) Emit(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next.Emit(m)
}

// Serialize makes next safe to call from several goroutines. Messages
// keep the order in which Emit calls acquire the lock.
func Serialize(next Emitter) Emitter {
	if s, ok := next.(*serialized); ok {
		return s
	}
	return &serialized{next: next}
}
