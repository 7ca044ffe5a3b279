package transfer

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"chunkup/internal/codec"
)

// Recorder appends every message it sees to an event log as a sequence
// of CBOR records, then forwards it to Next (if set).
type Recorder struct {
	Next Emitter

	mu  sync.Mutex
	enc *codec.Encoder
	err error
}

// NewRecorder creates a recorder writing to w
func NewRecorder(w io.Writer, next Emitter) *Recorder {
	return &Recorder{Next: next, enc: codec.NewEncoder(w)}
}

// Emit implements Emitter. The first encoding failure is kept and later
// records are skipped; forwarding continues.
func (r *Recorder) Emit(m Message) {
	r.mu.Lock()
	if r.err == nil {
		if err := r.enc.Encode(m); err != nil {
			r.err = fmt.Errorf("encode %s message: %w", m.Kind, err)
		}
	}
	r.mu.Unlock()

	if r.Next != nil {
		r.Next.Emit(m)
	}
}

// Err returns the first encoding failure, if any
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ReadLog decodes every record of an event log written by a Recorder.
func ReadLog(r io.Reader) ([]Message, error) {
	dec := codec.NewDecoder(r)
	var messages []Message
	for {
		var m Message
		if err := dec.Decode(&m); err != nil {
			if errors.Is(err, io.EOF) {
				return messages, nil
			}
			return messages, fmt.Errorf("decode record %d: %w", len(messages), err)
		}
		messages = append(messages, m)
	}
}
