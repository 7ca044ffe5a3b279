package core

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure by the phase that produced it
type Kind uint8

const (
	KindRead Kind = iota + 1
	KindCompression
	KindTransfer
	KindPersist
	KindDecompress
	KindValidation
)

// String returns the taxonomy name of the kind
func (k Kind) String() string {
	switch k {
	case KindRead:
		return "ReadError"
	case KindCompression:
		return "CompressionError"
	case KindTransfer:
		return "TransferError"
	case KindPersist:
		return "PersistError"
	case KindDecompress:
		return "DecompressError"
	case KindValidation:
		return "ValidationWarning"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Sentinels for errors.Is. A *Error matches the sentinel of its Kind.
var (
	ErrRead        = errors.New("read error")
	ErrCompression = errors.New("compression error")
	ErrTransfer    = errors.New("transfer error")
	ErrPersist     = errors.New("persist error")
	ErrDecompress  = errors.New("decompress error")
	ErrValidation  = errors.New("validation warning")
)

var kindSentinels = map[Kind]error{
	KindRead:        ErrRead,
	KindCompression: ErrCompression,
	KindTransfer:    ErrTransfer,
	KindPersist:     ErrPersist,
	KindDecompress:  ErrDecompress,
	KindValidation:  ErrValidation,
}

// Error is a phase-local failure
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "read chunk 3"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// newError builds an *Error of the given kind
func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Warning returns a ValidationWarning carrying message
func Warning(message string) error {
	return newError(KindValidation, message, nil)
}

// TransferFailure wraps err as a TransferError
func TransferFailure(op string, err error) error {
	return newError(KindTransfer, op, err)
}
