package main

import (
	"testing"

	"github.com/ehrlich-b/xdd/internal/gates"
	"github.com/ehrlich-b/xdd/internal/seekplan"
	"github.com/stretchr/testify/require"
)

func TestParsePattern(t *testing.T) {
	p, err := parsePattern("sequential")
	require.NoError(t, err)
	require.Equal(t, seekplan.Sequential, p)

	p, err = parsePattern("random")
	require.NoError(t, err)
	require.Equal(t, seekplan.Random, p)

	_, err = parsePattern("bogus")
	require.Error(t, err)
}

func TestParseOpKinds(t *testing.T) {
	k, err := parseOpKinds("write")
	require.NoError(t, err)
	require.Equal(t, seekplan.AllWrite, k)

	k, err = parseOpKinds("raw")
	require.NoError(t, err)
	require.Equal(t, seekplan.ReadAfterWrite, k)

	_, err = parseOpKinds("bogus")
	require.Error(t, err)
}

func TestParseThrottleMode(t *testing.T) {
	m, err := parseThrottleMode("delay")
	require.NoError(t, err)
	require.Equal(t, gates.ThrottleDelay, m)

	_, err = parseThrottleMode("bogus")
	require.Error(t, err)
}

func TestSplitHostPort(t *testing.T) {
	host, port, err := splitHostPort("10.0.0.2:40000")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.2", host)
	require.Equal(t, 40000, port)

	_, _, err = splitHostPort("not-a-host-port")
	require.Error(t, err)
}
