package repeat

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/samcharles93/kforge/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardHostBroadcastsLeadingDims(t *testing.T) {
	out, lens, err := ForwardHost([]float32{1, 2, 3, 4}, []int{1, 4}, []int{1, 1, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 4}, lens)
	assert.Equal(t, []float32{1, 2, 3, 4, 1, 2, 3, 4}, out)
}

func TestForwardHostTilesEveryDim(t *testing.T) {
	// [[1 2] [3 4]] tiled 2x3
	out, lens, err := ForwardHost([]float32{1, 2, 3, 4}, []int{2, 2}, []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 6}, lens)
	assert.Equal(t, []float32{
		1, 2, 1, 2, 1, 2,
		3, 4, 3, 4, 3, 4,
		1, 2, 1, 2, 1, 2,
		3, 4, 3, 4, 3, 4,
	}, out)
}

func TestBackwardHostSumsRepeats(t *testing.T) {
	dy := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	dx, err := BackwardHost(dy, []int{1, 4}, []int{1, 1, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, []float32{6, 8, 10, 12}, dx)
}

// An all-ones gradient reduces to the repeat multiplicity of every input
// element.
func TestBackwardOfOnesIsMultiplicity(t *testing.T) {
	cases := []struct {
		name      string
		in, sizes []int
		want      float32
	}{
		{"identity", []int{2, 3}, []int{1, 1}, 1},
		{"identity with leading dim", []int{4}, []int{1, 1}, 1},
		{"tiled", []int{2, 3}, []int{2, 3}, 6},
		{"broadcast", []int{3}, []int{4, 2}, 8},
		{"mixed", []int{2, 1, 2}, []int{3, 1, 5, 1}, 15},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x := make([]float32, product(tc.in))
			for i := range x {
				x[i] = float32(i)
			}
			y, lens, err := ForwardHost(x, tc.in, tc.sizes)
			require.NoError(t, err)
			if tc.want == 1 {
				assert.Equal(t, x, y)
			}

			ones := make([]float32, product(lens))
			for i := range ones {
				ones[i] = 1
			}
			dx, err := BackwardHost(ones, tc.in, tc.sizes)
			require.NoError(t, err)
			require.Len(t, dx, len(x))
			for j, v := range dx {
				assert.Equal(t, tc.want, v, "dx[%d]", j)
			}
		})
	}
}

// <repeat(x), dy> == <x, backward(dy)> for every shape.
func TestBackwardIsAdjoint(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	cases := []struct{ in, sizes []int }{
		{[]int{3}, []int{2}},
		{[]int{2, 3}, []int{3, 1, 2}},
		{[]int{2, 1, 3}, []int{1, 4, 2}},
		{[]int{1, 2, 2, 2}, []int{2, 1, 1, 3, 1}},
	}
	for _, tc := range cases {
		x := make([]float32, product(tc.in))
		for i := range x {
			x[i] = float32(r.IntN(7) - 3)
		}
		y, lens, err := ForwardHost(x, tc.in, tc.sizes)
		require.NoError(t, err)
		dy := make([]float32, product(lens))
		for i := range dy {
			dy[i] = float32(r.IntN(7) - 3)
		}
		dx, err := BackwardHost(dy, tc.in, tc.sizes)
		require.NoError(t, err)

		var lhs, rhs float32
		for i := range y {
			lhs += y[i] * dy[i]
		}
		for i := range x {
			rhs += x[i] * dx[i]
		}
		assert.Equal(t, lhs, rhs, "in=%v sizes=%v", tc.in, tc.sizes)
	}
}

func TestShortSizesRejected(t *testing.T) {
	_, _, err := ForwardHost([]float32{1, 2}, []int{1, 2}, []int{2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortSizes))
	assert.True(t, errors.Is(err, status.ErrBadParm))
	assert.Contains(t, err.Error(), "cannot be smaller than number of dimensions of input tensor")

	_, err = BackwardHost([]float32{1}, []int{1, 1, 1}, []int{1, 1})
	assert.ErrorIs(t, err, ErrShortSizes)

	_, err = NewMapper([]int{2, 2}, []int{4})
	assert.ErrorIs(t, err, status.ErrBadParm)
}

func TestZeroSizeGivesEmptyOutput(t *testing.T) {
	out, lens, err := ForwardHost([]float32{1, 2}, []int{2}, []int{0})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, lens)
	assert.Empty(t, out)
}

func TestParamsRoundTrip(t *testing.T) {
	in, out, err := DecodeParams(EncodeParams([]int{1, 4}, []int{1, 1, 2, 4}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, in)
	assert.Equal(t, []int{1, 1, 2, 4}, out)

	for _, bad := range [][]int{nil, {3, 1}, {1, 4, 2, 1}} {
		_, _, err := DecodeParams(bad)
		assert.Error(t, err, "%v", bad)
	}
}
