package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	for in, want := range map[string]string{"": Auto, " HOST ": Host, "host-noblas": NoBLAS, "auto": Auto} {
		got, err := Normalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := Normalize("cuda")
	assert.ErrorContains(t, err, "unknown backend")
}

func TestOpenNoBLAS(t *testing.T) {
	d, err := Open(NoBLAS, 1)
	require.NoError(t, err)
	assert.False(t, d.HasBLAS())
	assert.Equal(t, "host-noblas", d.Name())

	auto, err := Open("", 1)
	require.NoError(t, err)
	assert.Equal(t, Has(Host), auto.HasBLAS())
	assert.Contains(t, Available(), NoBLAS)
}
