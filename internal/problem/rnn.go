package problem

import (
	"fmt"

	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
)

// CellMode selects the recurrence cell.
type CellMode int

const (
	RNNRelu CellMode = iota
	RNNTanh
	LSTM
	GRU
)

func (m CellMode) String() string {
	switch m {
	case RNNRelu:
		return "relu"
	case RNNTanh:
		return "tanh"
	case LSTM:
		return "lstm"
	case GRU:
		return "gru"
	default:
		return "unknown"
	}
}

// Gates is the number of hidden-sized column blocks one cell owns in each
// weight matrix.
func (m CellMode) Gates() int {
	switch m {
	case LSTM:
		return 4
	case GRU:
		return 3
	default:
		return 1
	}
}

// IsGated reports whether m is LSTM or GRU.
func (m CellMode) IsGated() bool { return m == LSTM || m == GRU }

// ParseCellMode is the inverse of CellMode.String.
func ParseCellMode(s string) (CellMode, error) {
	for _, m := range []CellMode{RNNRelu, RNNTanh, LSTM, GRU} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown rnn mode %q", s)
}

type DirectionMode int

const (
	Unidirectional DirectionMode = iota
	Bidirectional
)

type BiasMode int

const (
	NoBias BiasMode = iota
	WithBias
)

type InputMode int

const (
	LinearInput InputMode = iota
	SkipInput
)

type Algo int

const AlgoDefault Algo = 0

// RNNConfig is the descriptor-level part of a recurrent problem.
type RNNConfig struct {
	HiddenSize int
	Layers     int
	Mode       CellMode
	Direction  DirectionMode
	Bias       BiasMode
	Input      InputMode
	Algo       Algo
}

// Bi returns 2 for bidirectional networks and 1 otherwise.
func (c RNNConfig) Bi() int {
	if c.Direction == Bidirectional {
		return 2
	}
	return 1
}

func (c RNNConfig) validate() error {
	if c.HiddenSize <= 0 {
		return status.BadParmf("hidden size %d", c.HiddenSize)
	}
	if c.Layers <= 0 {
		return status.BadParmf("layer count %d", c.Layers)
	}
	if c.Mode < RNNRelu || c.Mode > GRU {
		return status.BadParmf("rnn mode %d", c.Mode)
	}
	if c.Direction != Unidirectional && c.Direction != Bidirectional {
		return status.BadParmf("direction mode %d", c.Direction)
	}
	if c.Bias != NoBias && c.Bias != WithBias {
		return status.BadParmf("bias mode %d", c.Bias)
	}
	if c.Input != LinearInput && c.Input != SkipInput {
		return status.BadParmf("input mode %d", c.Input)
	}
	if c.Algo != AlgoDefault {
		return status.BadParmf("rnn algorithm %d", c.Algo)
	}
	return nil
}

// RNN is a normalised recurrent problem. Batches holds the per-timestep live
// batch sizes, which never increase over time.
type RNN struct {
	kind       Kind
	dtype      tensor.DataType
	Config     RNNConfig
	Batches    []int
	InputSize  int
	OutputSize int
}

// NewRNN validates the per-timestep input descriptors xs ([batch_t, in_h]),
// the initial hidden state hx ([layers*bi, batch_0, hidden]) and the
// per-timestep output descriptors ys ([batch_t, out_h]). Backward passes use
// dx/dy descriptors in the same roles.
func NewRNN(kind Kind, cfg RNNConfig, xs []tensor.Desc, hx tensor.Desc, ys []tensor.Desc) (*RNN, error) {
	if !kind.IsRNN() {
		return nil, status.BadParmf("kind %s is not recurrent", kind)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	seqLen := len(xs)
	if seqLen <= 0 {
		return nil, status.BadParmf("sequence length %d", seqLen)
	}
	if len(ys) != seqLen {
		return nil, status.BadParmf("got %d output descriptors for sequence length %d", len(ys), seqLen)
	}

	r := &RNN{
		kind:    kind,
		dtype:   xs[0].DataType,
		Config:  cfg,
		Batches: make([]int, seqLen),
	}
	for t := range xs {
		x, y := xs[t], ys[t]
		if x.Rank() != 2 || y.Rank() != 2 {
			return nil, status.BadParmf("timestep %d: expected rank-2 input and output, got %d/%d", t, x.Rank(), y.Rank())
		}
		if x.DataType != r.dtype || y.DataType != r.dtype {
			return nil, status.BadParmf("timestep %d: data type mismatch", t)
		}
		if !x.IsPacked() || !y.IsPacked() {
			return nil, status.BadParmf("timestep %d: input and output must be packed", t)
		}
		n := x.Lengths[0]
		if n <= 0 {
			return nil, status.BadParmf("timestep %d: batch size %d", t, n)
		}
		if t > 0 && n > r.Batches[t-1] {
			return nil, status.BadParmf("timestep %d: batch size %d exceeds previous %d", t, n, r.Batches[t-1])
		}
		if y.Lengths[0] != n {
			return nil, status.BadParmf("timestep %d: output batch %d, input batch %d", t, y.Lengths[0], n)
		}
		if t == 0 {
			r.InputSize = x.Lengths[1]
			r.OutputSize = y.Lengths[1]
		} else if x.Lengths[1] != r.InputSize || y.Lengths[1] != r.OutputSize {
			return nil, status.BadParmf("timestep %d: feature sizes change over time", t)
		}
		r.Batches[t] = n
	}
	if r.InputSize <= 0 || r.OutputSize <= 0 {
		return nil, status.BadParmf("input size %d, output size %d", r.InputSize, r.OutputSize)
	}
	if cfg.Input == SkipInput && r.InputSize != cfg.HiddenSize {
		return nil, status.BadParmf("skip input requires input size %d to equal hidden size %d", r.InputSize, cfg.HiddenSize)
	}

	want := []int{cfg.Layers * cfg.Bi(), r.Batches[0], cfg.HiddenSize}
	hl := hx.GetLengths()
	if len(hl) != 3 || hl[0] != want[0] || hl[1] != want[1] || hl[2] != want[2] {
		return nil, status.BadParmf("hidden state lengths %v, expected %v", hl, want)
	}
	if hx.DataType != r.dtype {
		return nil, status.BadParmf("hidden state data type %s, expected %s", hx.DataType, r.dtype)
	}
	if !hx.IsPacked() {
		return nil, status.BadParmf("hidden state must be packed")
	}
	return r, nil
}

func (r *RNN) Kind() Kind { return r.kind }

func (r *RNN) DataType() tensor.DataType { return r.dtype }

// WithKind returns a copy of r for another pass over the same network.
func (r *RNN) WithKind(kind Kind) *RNN {
	cp := *r
	cp.kind = kind
	return &cp
}

func (r *RNN) SeqLen() int { return len(r.Batches) }

// BatchSum is the total number of rows over all timesteps.
func (r *RNN) BatchSum() int {
	n := 0
	for _, b := range r.Batches {
		n += b
	}
	return n
}

// MaxBatch is the batch size of the first timestep.
func (r *RNN) MaxBatch() int { return r.Batches[0] }

// StateSize is the element count of hx, cx, hy and cy.
func (r *RNN) StateSize() int {
	return r.Config.Layers * r.Config.Bi() * r.MaxBatch() * r.Config.HiddenSize
}

func (r *RNN) String() string {
	return fmt.Sprintf("%s %s layers=%d hidden=%d bi=%d seq=%d", r.kind, r.Config.Mode, r.Config.Layers, r.Config.HiddenSize, r.Config.Bi(), r.SeqLen())
}

func (r *RNN) Key() Key {
	c := r.Config
	return newKey(r.kind, r.dtype).
		field(c.Mode.String()).
		ints("cfg", []int{c.Layers, c.HiddenSize, c.Bi(), int(c.Bias), int(c.Input), int(c.Algo)}).
		ints("io", []int{r.InputSize, r.OutputSize}).
		ints("batches", r.Batches).
		key()
}
