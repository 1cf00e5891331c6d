package plan

import (
	"errors"
	"testing"

	"github.com/samcharles93/kforge/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequirementsTakesMaximumExtent(t *testing.T) {
	p := New("test")
	p.Add(
		&MatMul{M: 2, N: 3, K: 4, Alpha: 1,
			A: Operand{Buf: BufX, LD: 4},
			B: Operand{Buf: BufW, Offset: 10, LD: 3},
			C: Operand{Buf: BufY, Offset: 1, LD: 5}},
		&Accumulate{Mode: AddRowBroadcast, Rows: 2, Cols: 3,
			Src: Operand{Buf: BufW, Offset: 40},
			Dst: Operand{Buf: BufY, Offset: 1, LD: 5}},
	)
	req := p.Requirements()
	assert.Equal(t, 8, req[BufX])
	assert.Equal(t, 43, req[BufW])
	assert.Equal(t, 9, req[BufY])
	assert.Equal(t, map[string]int{"matmul": 1, "accumulate": 1}, p.Counts())
}

func TestMatMulTransposedExtents(t *testing.T) {
	m := &MatMul{TransA: true, TransB: true, M: 2, N: 3, K: 4,
		A: Operand{Buf: BufX, LD: 2},
		B: Operand{Buf: BufW, LD: 4},
		C: Operand{Buf: BufY, LD: 3}}
	require.NoError(t, m.Validate())
	ext := m.Extents()
	assert.Equal(t, 8, ext[0].End)
	assert.Equal(t, 12, ext[1].End)
	assert.Equal(t, 6, ext[2].End)

	m.A.LD = 1
	assert.Error(t, m.Validate())
}

func TestLayoutPacksRegions(t *testing.T) {
	l := NewLayout(BufReserve)
	a := l.Add("layer 0 hidden", 12)
	b := l.Add("layer 1 hidden", 8)
	assert.Equal(t, 0, a.Offset)
	assert.Equal(t, 12, b.Offset)
	assert.Equal(t, 20, l.Size())
	require.NoError(t, l.Validate())

	op, err := l.Operand("layer 1 hidden", 1, 2, 1, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, Operand{Buf: BufReserve, Offset: 18, LD: 4}, op)

	_, err = l.Operand("layer 1 hidden", 1, 2, 2, 2, 4)
	assert.True(t, errors.Is(err, status.ErrBadParm))
	_, err = l.Region("layer 7 hidden")
	assert.Error(t, err)
}

func TestLayoutRejectsUndeclaredOverlap(t *testing.T) {
	l := NewLayout(BufWorkspace)
	l.Add("a", 10)
	l.Place("b", 5, 10)
	err := l.Validate()
	assert.True(t, errors.Is(err, status.ErrBadParm))
}

func TestLayoutAllowsAliasChains(t *testing.T) {
	l := NewLayout(BufWorkspace)
	l.Add("layer 0", 10)
	l.Add("layer 1", 10)
	l.Alias("layer 2", "layer 0")
	l.Alias("layer 3", "layer 1")
	l.Alias("layer 4", "layer 2")
	require.NoError(t, l.Validate())
	assert.Equal(t, 20, l.Size())

	r, err := l.Region("layer 4")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Offset)

	assert.Panics(t, func() { l.Add("layer 0", 1) })
}
