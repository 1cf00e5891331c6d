package rnn

import (
	"testing"

	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightLengthGrid(t *testing.T) {
	const in, out = 3, 5
	for layers := 1; layers <= 4; layers++ {
		for _, h := range []int{1, 8} {
			for _, dir := range []problem.DirectionMode{problem.Unidirectional, problem.Bidirectional} {
				for _, bias := range []problem.BiasMode{problem.NoBias, problem.WithBias} {
					cfg := problem.RNNConfig{HiddenSize: h, Layers: layers, Mode: problem.RNNRelu, Direction: dir, Bias: bias}
					w := NewWeights(cfg, in, out)
					bi := cfg.Bi()

					want := (bi*(in+h+out) + (layers-1)*bi*(bi+1)*h) * h
					assert.Equal(t, want, w.MatrixLen(), "matrices %s", w)
					if bias == problem.WithBias {
						want += (bi*2+(layers-1)*bi*(bi+1))*h + bi*out
					}
					assert.Equal(t, want, w.Len(), "total %s", w)

					// blocks tile the buffer in order without gaps or overlap
					next := 0
					for l := 0; l < layers; l++ {
						ip, err := w.LayerParam(l, InputParam)
						require.NoError(t, err)
						hp, err := w.LayerParam(l, HiddenParam)
						require.NoError(t, err)
						assert.Equal(t, next, ip.Offset)
						assert.Equal(t, ip.Offset+ip.Len(), hp.Offset)
						next = hp.Offset + hp.Len()
					}
					assert.Equal(t, next, w.OutputOffset())
					assert.Equal(t, w.MatrixLen(), w.OutputOffset()+w.OutputParam().Len())
				}
			}
		}
	}
}

func TestGatedWeightLength(t *testing.T) {
	const in, out, h = 4, 3, 6
	for _, mode := range []problem.CellMode{problem.LSTM, problem.GRU} {
		for layers := 1; layers <= 3; layers++ {
			cfg := problem.RNNConfig{HiddenSize: h, Layers: layers, Mode: mode, Direction: problem.Bidirectional, Bias: problem.WithBias}
			w := NewWeights(cfg, in, out)
			g, bi := mode.Gates(), 2
			assert.Equal(t, g*(bi*(in+h)+(layers-1)*bi*(bi+1)*h)*h+bi*out*h, w.MatrixLen())
			assert.Equal(t, g*(2*bi+(layers-1)*bi*(bi+1))*h+bi*out, w.BiasLen())
			if layers > 1 {
				assert.Equal(t, g*(bi*(in+h)*h+(layers-2)*bi*(bi*h+h)*h), w.InputOffset(layers-1))
			}
		}
	}
}

func TestBiasSlots(t *testing.T) {
	cfg := problem.RNNConfig{HiddenSize: 2, Layers: 3, Mode: problem.RNNTanh, Direction: problem.Bidirectional, Bias: problem.WithBias}
	w := NewWeights(cfg, 3, 5)
	base := w.MatrixLen()

	assert.Equal(t, base, w.InputBiasOffset(0))
	assert.Equal(t, base+4, w.HiddenBiasOffset(0))
	// layer 1 input slot is bi times wider than the part in use
	assert.Equal(t, base+8, w.InputBiasOffset(1))
	assert.Equal(t, base+16, w.HiddenBiasOffset(1))
	assert.Equal(t, base+20, w.InputBiasOffset(2))
	ob, err := w.OutputBias()
	require.NoError(t, err)
	assert.Equal(t, base+32, ob.Offset)
	assert.Equal(t, w.Len(), ob.Offset+2*5)

	b, err := w.LayerBias(1, HiddenParam)
	require.NoError(t, err)
	assert.Equal(t, Block{Offset: base + 16, Rows: 1, Cols: 4}, b)
}

func TestLayerParamRejects(t *testing.T) {
	w := NewWeights(problem.RNNConfig{HiddenSize: 2, Layers: 2, Mode: problem.RNNRelu}, 3, 3)
	_, err := w.LayerParam(2, InputParam)
	assert.ErrorIs(t, err, status.ErrBadParm)
	_, err = w.LayerParam(0, ParamID(7))
	assert.ErrorIs(t, err, status.ErrBadParm)
	_, err = w.LayerBias(0, InputParam)
	assert.ErrorIs(t, err, status.ErrBadParm, "no bias configured")

	blk, err := w.LayerParam(1, HiddenParam)
	require.NoError(t, err)
	data := make([]float32, w.Len())
	for i := range data {
		data[i] = float32(i)
	}
	got, err := blk.Extract(data)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, float32(blk.Offset), got[0])
	_, err = Block{Offset: w.Len() - 1, Rows: 1, Cols: 2}.Extract(data)
	assert.Error(t, err)
}

func TestInferenceWorkspaceReusesLayers(t *testing.T) {
	cfg := problem.RNNConfig{HiddenSize: 4, Layers: 5, Mode: problem.LSTM, Direction: problem.Bidirectional}
	p := newProblem(t, problem.RNNForwardInference, cfg, []int{3, 2, 2}, 5, 2)

	l := WorkspaceLayout(p)
	require.NoError(t, l.Validate())
	for layer := 2; layer < 5; layer++ {
		a, err := l.Region(hiddenRegion(layer))
		require.NoError(t, err)
		b, err := l.Region(hiddenRegion(layer - 2))
		require.NoError(t, err)
		assert.Equal(t, b.Offset, a.Offset)
	}
	h0, _ := l.Region(hiddenRegion(0))
	h1, _ := l.Region(hiddenRegion(1))
	assert.NotEqual(t, h0.Offset, h1.Offset)

	// hidden, gates and cell state of two layers plus recurrent scratch
	rows, hs := 7, 8
	want := 2*(rows*hs+rows*4*hs+rows*hs) + 2*3*4*4
	assert.Equal(t, want, WorkspaceSize(p))
	assert.Zero(t, ReserveSize(p))

	train := p.WithKind(problem.RNNForwardTraining)
	assert.Equal(t, 5*(rows*hs+rows*4*hs+rows*hs), ReserveSize(train))
	assert.Equal(t, 5*rows*hs+2*3*4*4, WorkspaceSize(train))
	rl := ReserveLayout(train)
	require.NoError(t, rl.Validate())
	assert.Equal(t, plan.BufReserve, rl.Buf)
}
