package accel

import (
	"errors"
	"fmt"
)

// Kind classifies accelerator failures
type Kind int

const (
	KindInitialization Kind = iota + 1
	KindKernelNotFound
	KindPipelineCreation
	KindQueueCreation
	KindBufferAllocation
	KindDispatch
)

// Sentinels for errors.Is matching against *Error values
var (
	ErrInitialization   = errors.New("accelerator module unavailable")
	ErrKernelNotFound   = errors.New("kernel entry point not found")
	ErrPipelineCreation = errors.New("pipeline creation failed")
	ErrQueueCreation    = errors.New("command queue creation failed")
	ErrBufferAllocation = errors.New("buffer allocation failed")
	ErrDispatchFailure  = errors.New("dispatch failed")
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindInitialization:
		return "Initialization"
	case KindKernelNotFound:
		return "KernelNotFound"
	case KindPipelineCreation:
		return "PipelineCreation"
	case KindQueueCreation:
		return "QueueCreation"
	case KindBufferAllocation:
		return "BufferAllocation"
	case KindDispatch:
		return "DispatchFailure"
	default:
		return "Unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindInitialization:
		return ErrInitialization
	case KindKernelNotFound:
		return ErrKernelNotFound
	case KindPipelineCreation:
		return ErrPipelineCreation
	case KindQueueCreation:
		return ErrQueueCreation
	case KindBufferAllocation:
		return ErrBufferAllocation
	case KindDispatch:
		return ErrDispatchFailure
	default:
		return nil
	}
}

// Error is a classified accelerator failure
type Error struct {
	Kind   Kind
	Op     string // Operation that failed
	Detail string // Device reported diagnostic, if any
	Err    error  // Underlying error, if any
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error in %s", e.Kind, e.Op)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Err)
	}
	return msg
}

// Unwrap allows error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func newError(kind Kind, op, detail string, err error) error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

// KindOf returns the Kind of err, or 0 if err is not an *Error
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}
