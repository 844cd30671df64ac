// Package xdd is the top-level API for the xdd disk-to-disk and host-to-host
// I/O benchmarking engine: a Plan of Targets, each driven by a pool of
// Workers, optionally streamed end-to-end between a source and destination
// instance with crash-resumable checkpointing.
package xdd

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorCode classifies an Error into the high-level categories from spec.md §7.
type ErrorCode string

const (
	ErrCodeSetup           ErrorCode = "setup error"
	ErrCodeAlignment       ErrorCode = "alignment violation"
	ErrCodeTransientIO     ErrorCode = "transient I/O error"
	ErrCodeProtocol        ErrorCode = "E2E protocol violation"
	ErrCodeConnectionLost  ErrorCode = "E2E connection lost"
	ErrCodeCleanup         ErrorCode = "cleanup error"
	ErrCodeInvalidArgument ErrorCode = "invalid argument"
)

// Error is a structured xdd error carrying enough context (target, worker,
// op) to identify exactly where in the plan it occurred, in the manner of
// the teacher's *ublk.Error.
type Error struct {
	Op           string // operation that failed, e.g. "open", "e2e.connect", "restart.checkpoint"
	TargetNumber int    // -1 if not applicable
	WorkerNumber int    // -1 if not applicable
	Code         ErrorCode
	Errno        syscall.Errno // 0 if not applicable
	Msg          string
	Inner        error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.TargetNumber >= 0 {
		parts = append(parts, fmt.Sprintf("target=%d", e.TargetNumber))
	}
	if e.WorkerNumber >= 0 {
		parts = append(parts, fmt.Sprintf("worker=%d", e.WorkerNumber))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("xdd: %s (%s)", msg, joinParts(parts))
	}
	return fmt.Sprintf("xdd: %s", msg)
}

func joinParts(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}

// Unwrap supports errors.Is/errors.As against the wrapped error.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison by error code.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// NewError creates a structured error not tied to a specific target/worker.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, TargetNumber: -1, WorkerNumber: -1, Code: code, Msg: msg}
}

// NewTargetError creates a structured error scoped to a target.
func NewTargetError(op string, targetNumber int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, TargetNumber: targetNumber, WorkerNumber: -1, Code: code, Msg: msg}
}

// NewWorkerError creates a structured error scoped to a worker within a target.
func NewWorkerError(op string, targetNumber, workerNumber int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, TargetNumber: targetNumber, WorkerNumber: workerNumber, Code: code, Msg: msg}
}

// WrapError wraps an existing error with xdd context, mapping syscall errno
// to an ErrorCode where possible.
func WrapError(op string, targetNumber, workerNumber int, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ue, ok := inner.(*Error); ok {
		return &Error{
			Op: op, TargetNumber: ue.TargetNumber, WorkerNumber: ue.WorkerNumber,
			Code: ue.Code, Errno: ue.Errno, Msg: ue.Msg, Inner: ue.Inner,
		}
	}

	code := ErrCodeTransientIO
	var errno syscall.Errno
	if e, ok := inner.(syscall.Errno); ok {
		errno = e
		code = mapErrnoToCode(e)
	}
	return &Error{
		Op: op, TargetNumber: targetNumber, WorkerNumber: workerNumber,
		Code: code, Errno: errno, Msg: inner.Error(), Inner: inner,
	}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidArgument
	case syscall.ENOSPC, syscall.ENOMEM, syscall.ENOENT, syscall.EACCES, syscall.EPERM:
		return ErrCodeSetup
	default:
		return ErrCodeTransientIO
	}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
