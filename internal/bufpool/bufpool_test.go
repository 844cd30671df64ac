package bufpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAllocatesRequestedCountAndUsableSize(t *testing.T) {
	p, err := New(4, 4096)
	require.NoError(t, err)
	defer p.Free()

	require.Equal(t, 4, p.Count())
	require.GreaterOrEqual(t, p.BufferSize(), 4096)
}

func TestLeaseIsExclusivePerIndex(t *testing.T) {
	p, err := New(2, 4096)
	require.NoError(t, err)
	defer p.Free()

	buf, err := p.Lease(0)
	require.NoError(t, err)
	require.Len(t, buf, p.BufferSize())

	_, err = p.Lease(0)
	require.Error(t, err)

	p.Release(0)
	_, err = p.Lease(0)
	require.NoError(t, err)
}

func TestLeaseRejectsOutOfRangeIndex(t *testing.T) {
	p, err := New(1, 4096)
	require.NoError(t, err)
	defer p.Free()

	_, err = p.Lease(-1)
	require.Error(t, err)
	_, err = p.Lease(1)
	require.Error(t, err)
}

func TestBuffersDoNotOverlap(t *testing.T) {
	p, err := New(3, 4096)
	require.NoError(t, err)
	defer p.Free()

	bufs := make([][]byte, 3)
	for i := 0; i < 3; i++ {
		buf, err := p.Lease(i)
		require.NoError(t, err)
		for j := range buf {
			buf[j] = byte(i + 1)
		}
		bufs[i] = buf
	}
	for i, buf := range bufs {
		for _, b := range buf {
			require.Equal(t, byte(i+1), b)
		}
	}
}

func TestFreeIsIdempotent(t *testing.T) {
	p, err := New(1, 4096)
	require.NoError(t, err)
	require.NoError(t, p.Free())
	require.NoError(t, p.Free())
}

func TestNewAppliesDefaultsForZeroArgs(t *testing.T) {
	p, err := New(0, 0)
	require.NoError(t, err)
	defer p.Free()
	require.Equal(t, 1, p.Count())
	require.GreaterOrEqual(t, p.BufferSize(), 4096)
}
