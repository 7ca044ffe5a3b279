package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"chunkup/pkg/transfer"
)

func TestCallbacksDispatch(t *testing.T) {
	var (
		warnings, progress, completed []string
		failures                      []error
	)
	c := Callbacks{
		OnWarning:         func(m string) { warnings = append(warnings, m) },
		OnException:       func(err error) { failures = append(failures, err) },
		OnProgressChange:  func(m string) { progress = append(progress, m) },
		OnUploadCompleted: func(p string) { completed = append(completed, p) },
	}

	boom := errors.New("boom")
	c.Emit(transfer.Progress(transfer.PhaseUploading, 40, 100))
	c.Emit(transfer.Warning("careful"))
	c.Emit(transfer.Error(boom))
	c.Emit(transfer.Message{Kind: transfer.KindError, Text: "decoded from a log"})
	c.Emit(transfer.Ready(transfer.Payload{}))
	c.Emit(transfer.Completed("/out/a.txt"))

	assert.Equal(t, []string{"Uploading 40%"}, progress)
	assert.Equal(t, []string{"careful"}, warnings)
	assert.Equal(t, []string{"/out/a.txt"}, completed)
	if assert.Len(t, failures, 2) {
		assert.Same(t, boom, failures[0])
		assert.EqualError(t, failures[1], "decoded from a log")
	}
}

func TestCallbacksSkipNilFields(t *testing.T) {
	assert.NotPanics(t, func() {
		Callbacks{}.Emit(transfer.Warning("ignored"))
		Callbacks{}.Emit(transfer.Error(errors.New("ignored")))
	})
}

func TestFanout(t *testing.T) {
	var a, b int
	f := Fanout{
		transfer.EmitterFunc(func(transfer.Message) { a++ }),
		nil,
		transfer.EmitterFunc(func(transfer.Message) { b++ }),
	}
	f.Emit(transfer.Warning("x"))
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
