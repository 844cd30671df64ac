package xdd

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTargetErrorFormatting(t *testing.T) {
	err := NewTargetError("target.New", 2, ErrCodeSetup, "open failed")
	require.Equal(t, "xdd: open failed (op=target.New target=2)", err.Error())
}

func TestNewWorkerErrorFormatting(t *testing.T) {
	err := NewWorkerError("issue_io", 1, 3, ErrCodeTransientIO, "short write")
	require.Contains(t, err.Error(), "target=1")
	require.Contains(t, err.Error(), "worker=3")
}

func TestWrapErrorNilIsNil(t *testing.T) {
	require.Nil(t, WrapError("op", 0, 0, nil))
}

func TestWrapErrorPreservesExistingError(t *testing.T) {
	inner := NewTargetError("open", 0, ErrCodeSetup, "enospc")
	wrapped := WrapError("target.New", 9, 9, inner)
	require.Equal(t, ErrCodeSetup, wrapped.Code)
	require.Equal(t, 0, wrapped.TargetNumber)
}

func TestWrapErrorMapsErrno(t *testing.T) {
	wrapped := WrapError("open", 0, -1, syscall.ENOSPC)
	require.Equal(t, ErrCodeSetup, wrapped.Code)
	require.Equal(t, syscall.ENOSPC, wrapped.Errno)
}

func TestWrapErrorDefaultsToTransientIO(t *testing.T) {
	wrapped := WrapError("read", 0, 0, fmt.Errorf("boom"))
	require.Equal(t, ErrCodeTransientIO, wrapped.Code)
}

func TestIsCodeMatchesThroughWrapping(t *testing.T) {
	err := NewTargetError("open", 0, ErrCodeAlignment, "misaligned")
	wrapped := fmt.Errorf("pass 0: %w", err)
	require.True(t, IsCode(wrapped, ErrCodeAlignment))
	require.False(t, IsCode(wrapped, ErrCodeSetup))
}

func TestErrorIsComparesByCode(t *testing.T) {
	a := NewTargetError("open", 0, ErrCodeSetup, "a")
	b := NewTargetError("close", 1, ErrCodeSetup, "b")
	require.True(t, errors.Is(a, b))

	c := NewTargetError("open", 0, ErrCodeTransientIO, "c")
	require.False(t, errors.Is(a, c))
}

func TestErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("disk full")
	err := WrapError("write", 0, 0, inner)
	require.ErrorIs(t, err, inner)
}
