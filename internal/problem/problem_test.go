package problem

import (
	"errors"
	"testing"

	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f32(lengths ...int) tensor.Desc { return tensor.MustNew(tensor.Float32, lengths...) }

func TestKindRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("matmul")
	assert.Error(t, err)
}

func TestNewConvOutputSize(t *testing.T) {
	p := ConvParams{PadH: 1, PadW: 1, StrideH: 2, StrideW: 2, DilationH: 1, DilationW: 1}
	c, err := NewConv(ConvForward, f32(2, 3, 8, 8), f32(4, 3, 3, 3), f32(2, 4, 4, 4), p)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Ho)
	assert.Equal(t, 4, c.Wo)
	assert.Equal(t, 3*3*3*4*4, c.ColumnSize())
	assert.False(t, c.Is1x1())
}

func TestNewConvRejects(t *testing.T) {
	d := DefaultConvParams()
	cases := map[string]struct {
		x, w, y tensor.Desc
		p       ConvParams
	}{
		"channel mismatch": {f32(1, 3, 4, 4), f32(2, 2, 1, 1), f32(1, 2, 4, 4), d},
		"wrong output":     {f32(1, 3, 4, 4), f32(2, 3, 3, 3), f32(1, 2, 4, 4), d},
		"rank":             {f32(3, 4, 4), f32(2, 3, 1, 1), f32(1, 2, 4, 4), d},
		"zero stride":      {f32(1, 3, 4, 4), f32(2, 3, 1, 1), f32(1, 2, 4, 4), ConvParams{DilationH: 1, DilationW: 1}},
		"mixed types":      {f32(1, 3, 4, 4), tensor.MustNew(tensor.Half, 2, 3, 1, 1), f32(1, 2, 4, 4), d},
	}
	for name, tc := range cases {
		_, err := NewConv(ConvForward, tc.x, tc.w, tc.y, tc.p)
		assert.True(t, errors.Is(err, status.ErrBadParm), "%s: %v", name, err)
	}
}

func TestConvKeyIsDirectionScoped(t *testing.T) {
	c, err := NewConv(ConvForward, f32(1, 3, 4, 4), f32(2, 3, 1, 1), f32(1, 2, 4, 4), DefaultConvParams())
	require.NoError(t, err)
	again, err := NewConv(ConvForward, f32(1, 3, 4, 4), f32(2, 3, 1, 1), f32(1, 2, 4, 4), DefaultConvParams())
	require.NoError(t, err)
	assert.Equal(t, c.Key(), again.Key())

	bwd := c.WithKind(ConvBackwardData)
	assert.NotEqual(t, c.Key(), bwd.Key())
	assert.Equal(t, Key("conv-fwd|f32|nchw|nchwkrs[1,3,4,4,2,1,1]|out[4,4]|pad.stride.dil[0,0,1,1,1,1]"), c.Key())
}

func rnnDescs(batches []int, in, out int) (xs, ys []tensor.Desc) {
	for _, b := range batches {
		xs = append(xs, f32(b, in))
		ys = append(ys, f32(b, out))
	}
	return xs, ys
}

func TestNewRNN(t *testing.T) {
	cfg := RNNConfig{HiddenSize: 8, Layers: 2, Mode: RNNTanh, Direction: Bidirectional, Bias: WithBias}
	xs, ys := rnnDescs([]int{3, 3, 2}, 5, 4)
	r, err := NewRNN(RNNForwardTraining, cfg, xs, f32(4, 3, 8), ys)
	require.NoError(t, err)
	assert.Equal(t, 3, r.SeqLen())
	assert.Equal(t, 8, r.BatchSum())
	assert.Equal(t, 5, r.InputSize)
	assert.Equal(t, 4, r.OutputSize)

	inf := r.WithKind(RNNForwardInference)
	built, err := NewRNN(RNNForwardInference, cfg, xs, f32(4, 3, 8), ys)
	require.NoError(t, err)
	assert.Equal(t, inf.Key(), built.Key())
	assert.NotEqual(t, r.Key(), inf.Key())
}

func TestNewRNNRejects(t *testing.T) {
	cfg := RNNConfig{HiddenSize: 4, Layers: 1, Mode: RNNRelu}
	xs, ys := rnnDescs([]int{2, 2}, 3, 3)

	_, err := NewRNN(RNNForwardTraining, cfg, nil, f32(1, 2, 4), nil)
	assert.True(t, errors.Is(err, status.ErrBadParm), "empty sequence")

	grow, growY := rnnDescs([]int{1, 2}, 3, 3)
	_, err = NewRNN(RNNForwardTraining, cfg, grow, f32(1, 1, 4), growY)
	assert.True(t, errors.Is(err, status.ErrBadParm), "increasing batch")

	_, err = NewRNN(RNNForwardTraining, cfg, xs, f32(2, 2, 4), ys)
	assert.True(t, errors.Is(err, status.ErrBadParm), "hx layers")

	bad := cfg
	bad.HiddenSize = 0
	_, err = NewRNN(RNNForwardTraining, bad, xs, f32(1, 2, 0), ys)
	assert.True(t, errors.Is(err, status.ErrBadParm), "zero hidden")

	_, err = NewRNN(ConvForward, cfg, xs, f32(1, 2, 4), ys)
	assert.True(t, errors.Is(err, status.ErrBadParm), "wrong kind")

	padded, err := tensor.NewStrided(tensor.Float32, []int{2, 3}, []int{4, 1})
	require.NoError(t, err)
	_, err = NewRNN(RNNForwardTraining, cfg, []tensor.Desc{padded, xs[1]}, f32(1, 2, 4), ys)
	assert.True(t, errors.Is(err, status.ErrBadParm), "padded input rows")
	_, err = NewRNN(RNNForwardTraining, cfg, xs, f32(1, 2, 4), []tensor.Desc{ys[0], padded})
	assert.True(t, errors.Is(err, status.ErrBadParm), "padded output rows")

	hx, err := tensor.NewStrided(tensor.Float32, []int{1, 2, 4}, []int{16, 8, 1})
	require.NoError(t, err)
	_, err = NewRNN(RNNForwardTraining, cfg, xs, hx, ys)
	assert.True(t, errors.Is(err, status.ErrBadParm), "padded hidden state")
}

func TestNewRepeat(t *testing.T) {
	r, err := NewRepeat(RepeatForward, f32(1, 4), f32(1, 1, 2, 4), []int{1, 1, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 4}, r.Out)
	assert.Equal(t, 8, r.OutputSize())

	_, err = NewRepeat(RepeatForward, f32(1, 4), f32(4), []int{4})
	assert.True(t, errors.Is(err, status.ErrBadParm))

	_, err = NewRepeat(RepeatForward, f32(1, 4), f32(1, 1, 3, 4), []int{1, 1, 2, 1})
	assert.True(t, errors.Is(err, status.ErrBadParm))
}

func TestRepeatLengthsShortSizes(t *testing.T) {
	for _, in := range [][]int{{2}, {2, 3}, {1, 2, 3}} {
		for n := 0; n < len(in); n++ {
			_, err := RepeatLengths(in, make([]int, n))
			assert.True(t, errors.Is(err, status.ErrBadParm), "in=%v sizes=%d", in, n)
		}
	}
}

func TestNewLogsumexp(t *testing.T) {
	l, err := NewLogsumexp(LogsumexpForward, f32(2, 3, 4), f32(2, 4), []int{1}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, l.OutputLengths())

	k, err := NewLogsumexp(LogsumexpForward, f32(2, 3, 4), f32(2, 1, 4), []int{-2}, true)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, k.Dims)
	assert.Equal(t, l.Key(), k.Key())

	_, err = NewLogsumexp(LogsumexpForward, f32(2, 3), f32(1), []int{0, 1}, false)
	require.NoError(t, err)

	_, err = NewLogsumexp(LogsumexpForward, f32(2, 3), f32(2), []int{1, 1}, false)
	assert.True(t, errors.Is(err, status.ErrBadParm))
	_, err = NewLogsumexp(LogsumexpForward, f32(2, 3), f32(2), []int{2}, false)
	assert.True(t, errors.Is(err, status.ErrBadParm))
}
