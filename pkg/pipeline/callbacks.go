package pipeline

import (
	"errors"

	"chunkup/pkg/progress"
	"chunkup/pkg/transfer"
)

// Callbacks are the sinks of the front end that started the upload. Nil
// fields are skipped. Callbacks implements transfer.Emitter, so every
// message of a run reaches the front end through it.
type Callbacks struct {
	OnWarning         func(message string)
	OnException       func(err error)
	OnProgressChange  func(message string)
	OnUploadCompleted func(path string)
}

// Emit dispatches m to the matching callback
func (c Callbacks) Emit(m transfer.Message) {
	switch m.Kind {
	case transfer.KindProgress:
		if c.OnProgressChange != nil {
			c.OnProgressChange(progress.Describe(m))
		}
	case transfer.KindWarning:
		if c.OnWarning != nil {
			c.OnWarning(m.Text)
		}
	case transfer.KindError:
		if c.OnException != nil {
			err := m.Err
			if err == nil {
				err = errors.New(m.Text)
			}
			c.OnException(err)
		}
	case transfer.KindCompleted:
		if c.OnUploadCompleted != nil {
			c.OnUploadCompleted(m.Path)
		}
	}
}

// Fanout delivers every message to each emitter in order
type Fanout []transfer.Emitter

func (f Fanout) Emit(m transfer.Message) {
	for _, e := range f {
		if e != nil {
			e.Emit(m)
		}
	}
}
