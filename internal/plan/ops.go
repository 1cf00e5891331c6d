package plan

import (
	"errors"
	"fmt"
)

var errShape = errors.New("invalid op shape")

func checkLD(name string, o Operand, cols int) error {
	if o.LD != 0 && o.LD < cols {
		return fmt.Errorf("%w: %s leading dimension %d < %d columns", errShape, name, o.LD, cols)
	}
	if o.Offset < 0 {
		return fmt.Errorf("%w: %s offset %d", errShape, name, o.Offset)
	}
	return nil
}

// MatMul computes C = Alpha*op(A)*op(B) + Beta*C where op(A) is M x K and
// op(B) is K x N. Beta 0 overwrites C, beta 1 accumulates into it.
type MatMul struct {
	TransA, TransB bool
	M, N, K        int
	Alpha, Beta    float32
	A, B, C        Operand
}

func (m *MatMul) Kind() string { return "matmul" }

// Shapes returns the stored (rows, cols) of A and B.
func (m *MatMul) Shapes() (ar, ac, br, bc int) {
	ar, ac = m.M, m.K
	if m.TransA {
		ar, ac = ac, ar
	}
	br, bc = m.K, m.N
	if m.TransB {
		br, bc = bc, br
	}
	return
}

func (m *MatMul) Extents() []Extent {
	ar, ac, br, bc := m.Shapes()
	return []Extent{
		matrixExtent(m.A, ar, ac),
		matrixExtent(m.B, br, bc),
		matrixExtent(m.C, m.M, m.N),
	}
}

func (m *MatMul) Validate() error {
	if m.M < 0 || m.N < 0 || m.K < 0 {
		return fmt.Errorf("%w: matmul %dx%dx%d", errShape, m.M, m.N, m.K)
	}
	_, ac, _, bc := m.Shapes()
	if err := checkLD("A", m.A, ac); err != nil {
		return err
	}
	if err := checkLD("B", m.B, bc); err != nil {
		return err
	}
	return checkLD("C", m.C, m.N)
}

func (m *MatMul) String() string {
	t := func(b bool) string {
		if b {
			return "T"
		}
		return "N"
	}
	return fmt.Sprintf("matmul %s%s m=%d n=%d k=%d alpha=%g beta=%g A=%s B=%s C=%s",
		t(m.TransA), t(m.TransB), m.M, m.N, m.K, m.Alpha, m.Beta, m.A, m.B, m.C)
}

// ActivationMode selects an elementwise nonlinearity.
type ActivationMode int

const (
	Identity ActivationMode = iota
	Relu
	Tanh
	Sigmoid
)

func (a ActivationMode) String() string {
	switch a {
	case Relu:
		return "relu"
	case Tanh:
		return "tanh"
	case Sigmoid:
		return "sigmoid"
	default:
		return "identity"
	}
}

// Activation computes Y = f(X) over a Rows x Cols block. X and Y may be the
// same operand.
type Activation struct {
	Mode       ActivationMode
	Rows, Cols int
	X, Y       Operand
}

func (a *Activation) Kind() string { return "activation" }

func (a *Activation) Extents() []Extent {
	return []Extent{matrixExtent(a.X, a.Rows, a.Cols), matrixExtent(a.Y, a.Rows, a.Cols)}
}

func (a *Activation) Validate() error {
	if a.Rows < 0 || a.Cols < 0 {
		return fmt.Errorf("%w: activation %dx%d", errShape, a.Rows, a.Cols)
	}
	if err := checkLD("X", a.X, a.Cols); err != nil {
		return err
	}
	return checkLD("Y", a.Y, a.Cols)
}

func (a *Activation) String() string {
	return fmt.Sprintf("activation %s %dx%d X=%s Y=%s", a.Mode, a.Rows, a.Cols, a.X, a.Y)
}

// ActivationGrad computes DX = DY * f'(x) where the derivative is evaluated
// from the retained forward output Y. DX may alias DY.
type ActivationGrad struct {
	Mode       ActivationMode
	Rows, Cols int
	Y, DY, DX  Operand
}

func (a *ActivationGrad) Kind() string { return "activation-grad" }

func (a *ActivationGrad) Extents() []Extent {
	return []Extent{
		matrixExtent(a.Y, a.Rows, a.Cols),
		matrixExtent(a.DY, a.Rows, a.Cols),
		matrixExtent(a.DX, a.Rows, a.Cols),
	}
}

func (a *ActivationGrad) Validate() error {
	if a.Rows < 0 || a.Cols < 0 {
		return fmt.Errorf("%w: activation-grad %dx%d", errShape, a.Rows, a.Cols)
	}
	for name, o := range map[string]Operand{"Y": a.Y, "DY": a.DY, "DX": a.DX} {
		if err := checkLD(name, o, a.Cols); err != nil {
			return err
		}
	}
	return nil
}

func (a *ActivationGrad) String() string {
	return fmt.Sprintf("activation-grad %s %dx%d Y=%s DY=%s DX=%s", a.Mode, a.Rows, a.Cols, a.Y, a.DY, a.DX)
}

// AccumulateMode selects the elementwise combination of Src into Dst.
type AccumulateMode int

const (
	// AddRowBroadcast adds the Cols-vector Src to every row of Dst.
	AddRowBroadcast AccumulateMode = iota
	// ReduceRows adds the column sums of the Rows x Cols Src into the vector Dst.
	ReduceRows
	// Add adds Src into Dst element by element.
	Add
	// Copy overwrites Dst with Src.
	Copy
	// Fill sets every element of Dst to Value. Src is unused.
	Fill
)

func (m AccumulateMode) String() string {
	switch m {
	case AddRowBroadcast:
		return "add-row-broadcast"
	case ReduceRows:
		return "reduce-rows"
	case Add:
		return "add"
	case Copy:
		return "copy"
	case Fill:
		return "fill"
	default:
		return "unknown"
	}
}

type Accumulate struct {
	Mode       AccumulateMode
	Rows, Cols int
	Src, Dst   Operand
	Value      float32
}

func (a *Accumulate) Kind() string { return "accumulate" }

func (a *Accumulate) Extents() []Extent {
	switch a.Mode {
	case AddRowBroadcast:
		return []Extent{vectorExtent(a.Src, a.Cols), matrixExtent(a.Dst, a.Rows, a.Cols)}
	case ReduceRows:
		return []Extent{matrixExtent(a.Src, a.Rows, a.Cols), vectorExtent(a.Dst, a.Cols)}
	case Fill:
		return []Extent{matrixExtent(a.Dst, a.Rows, a.Cols)}
	default:
		return []Extent{matrixExtent(a.Src, a.Rows, a.Cols), matrixExtent(a.Dst, a.Rows, a.Cols)}
	}
}

func (a *Accumulate) Validate() error {
	if a.Rows < 0 || a.Cols < 0 {
		return fmt.Errorf("%w: accumulate %dx%d", errShape, a.Rows, a.Cols)
	}
	if a.Mode < AddRowBroadcast || a.Mode > Fill {
		return fmt.Errorf("%w: accumulate mode %d", errShape, a.Mode)
	}
	if err := checkLD("Src", a.Src, a.Cols); err != nil {
		return err
	}
	return checkLD("Dst", a.Dst, a.Cols)
}

func (a *Accumulate) String() string {
	if a.Mode == Fill {
		return fmt.Sprintf("accumulate %s %dx%d value=%g Dst=%s", a.Mode, a.Rows, a.Cols, a.Value, a.Dst)
	}
	return fmt.Sprintf("accumulate %s %dx%d Src=%s Dst=%s", a.Mode, a.Rows, a.Cols, a.Src, a.Dst)
}

// CellKind selects a gated recurrence.
type CellKind int

const (
	LSTMCell CellKind = iota
	GRUCell
)

func (c CellKind) String() string {
	if c == GRUCell {
		return "gru"
	}
	return "lstm"
}

// Gates returns the number of hidden-sized gate blocks of the cell.
func (c CellKind) Gates() int {
	if c == GRUCell {
		return 3
	}
	return 4
}

// Cell advances Rows sequences of a gated recurrence by one timestep.
//
// Gates holds the input projection (bias included) as Rows x Gates*Hidden and
// is overwritten with the activated gates. Recur holds the recurrent
// projection of PrevH (hidden bias included). LSTM gate order is input,
// forget, output, candidate; GRU order is update, reset, candidate. PrevC and
// C are only used by LSTM.
type Cell struct {
	Cell         CellKind
	Rows, Hidden int
	Gates, Recur Operand
	PrevH, H     Operand
	PrevC, C     Operand
}

func (c *Cell) Kind() string { return "cell" }

func (c *Cell) Extents() []Extent {
	g := c.Cell.Gates() * c.Hidden
	ext := []Extent{
		matrixExtent(c.Gates, c.Rows, g),
		matrixExtent(c.Recur, c.Rows, g),
		matrixExtent(c.PrevH, c.Rows, c.Hidden),
		matrixExtent(c.H, c.Rows, c.Hidden),
	}
	if c.Cell == LSTMCell {
		ext = append(ext, matrixExtent(c.PrevC, c.Rows, c.Hidden), matrixExtent(c.C, c.Rows, c.Hidden))
	}
	return ext
}

func (c *Cell) Validate() error {
	if c.Rows < 0 || c.Hidden <= 0 {
		return fmt.Errorf("%w: cell rows=%d hidden=%d", errShape, c.Rows, c.Hidden)
	}
	g := c.Cell.Gates() * c.Hidden
	if err := checkLD("Gates", c.Gates, g); err != nil {
		return err
	}
	if err := checkLD("Recur", c.Recur, g); err != nil {
		return err
	}
	if err := checkLD("PrevH", c.PrevH, c.Hidden); err != nil {
		return err
	}
	return checkLD("H", c.H, c.Hidden)
}

func (c *Cell) String() string {
	s := fmt.Sprintf("cell %s rows=%d hidden=%d gates=%s recur=%s prevh=%s h=%s",
		c.Cell, c.Rows, c.Hidden, c.Gates, c.Recur, c.PrevH, c.H)
	if c.Cell == LSTMCell {
		s += fmt.Sprintf(" prevc=%s c=%s", c.PrevC, c.C)
	}
	return s
}

// KernelArg is a flat buffer argument of a named kernel.
type KernelArg struct {
	Operand
	Len int
}

// Kernel launches a named device kernel with buffer arguments and integer
// parameters. The kernel registry of the handle defines the meaning of both.
type Kernel struct {
	Name   string
	Args   []KernelArg
	Params []int
}

func (k *Kernel) Kind() string { return "kernel" }

func (k *Kernel) Extents() []Extent {
	ext := make([]Extent, len(k.Args))
	for i, a := range k.Args {
		ext[i] = vectorExtent(a.Operand, a.Len)
	}
	return ext
}

func (k *Kernel) Validate() error {
	if k.Name == "" {
		return fmt.Errorf("%w: unnamed kernel", errShape)
	}
	for i, a := range k.Args {
		if a.Len < 0 || a.Offset < 0 {
			return fmt.Errorf("%w: kernel %s arg %d", errShape, k.Name, i)
		}
	}
	return nil
}

func (k *Kernel) String() string {
	args := make([]string, len(k.Args))
	for i, a := range k.Args {
		args[i] = fmt.Sprintf("%s[%d]", a.Operand, a.Len)
	}
	return fmt.Sprintf("kernel %s params=%v args=%v", k.Name, k.Params, args)
}
