package host

import (
	"fmt"
	"math"

	"github.com/samcharles93/kforge/internal/device"
	"github.com/samcharles93/kforge/internal/plan"
)

func sigmoid(v float32) float32 { return float32(1 / (1 + math.Exp(-float64(v)))) }

func tanh(v float32) float32 { return float32(math.Tanh(float64(v))) }

func activate(mode plan.ActivationMode, v float32) float32 {
	switch mode {
	case plan.Relu:
		return max(v, 0)
	case plan.Tanh:
		return tanh(v)
	case plan.Sigmoid:
		return sigmoid(v)
	default:
		return v
	}
}

// derivative evaluates f'(x) from y = f(x).
func derivative(mode plan.ActivationMode, y float32) float32 {
	switch mode {
	case plan.Relu:
		if y > 0 {
			return 1
		}
		return 0
	case plan.Tanh:
		return 1 - y*y
	case plan.Sigmoid:
		return y * (1 - y)
	default:
		return 1
	}
}

// rows calls fn for every row r of a rows x cols block at o with the
// element offset of the row start.
func rows(o plan.Operand, n, cols int, fn func(r, base int)) {
	ld := ldOr(o.LD, cols)
	for r := 0; r < n; r++ {
		fn(r, o.Offset+r*ld)
	}
}

func (d *Device) Activation(op *plan.Activation, x, y device.Buffer) error {
	bufs, err := unwrap(x, y)
	if err != nil {
		return err
	}
	if err := op.Validate(); err != nil {
		return err
	}
	src, dst := bufs[0].data, bufs[1].data
	xld := ldOr(op.X.LD, op.Cols)
	rows(op.Y, op.Rows, op.Cols, func(r, base int) {
		in := op.X.Offset + r*xld
		for c := 0; c < op.Cols; c++ {
			dst[base+c] = activate(op.Mode, src[in+c])
		}
	})
	bufs[1].roundMatrix(op.Y, op.Rows, op.Cols)
	return nil
}

func (d *Device) ActivationGrad(op *plan.ActivationGrad, y, dy, dx device.Buffer) error {
	bufs, err := unwrap(y, dy, dx)
	if err != nil {
		return err
	}
	if err := op.Validate(); err != nil {
		return err
	}
	yd, dyd, dxd := bufs[0].data, bufs[1].data, bufs[2].data
	yld, dyld := ldOr(op.Y.LD, op.Cols), ldOr(op.DY.LD, op.Cols)
	rows(op.DX, op.Rows, op.Cols, func(r, base int) {
		yb, gb := op.Y.Offset+r*yld, op.DY.Offset+r*dyld
		for c := 0; c < op.Cols; c++ {
			dxd[base+c] = dyd[gb+c] * derivative(op.Mode, yd[yb+c])
		}
	})
	bufs[2].roundMatrix(op.DX, op.Rows, op.Cols)
	return nil
}

func (d *Device) Accumulate(op *plan.Accumulate, src, dst device.Buffer) error {
	bufs, err := unwrap(src, dst)
	if err != nil {
		return err
	}
	if err := op.Validate(); err != nil {
		return err
	}
	out := bufs[1].data
	if op.Mode == plan.Fill {
		rows(op.Dst, op.Rows, op.Cols, func(_, base int) {
			for c := 0; c < op.Cols; c++ {
				out[base+c] = op.Value
			}
		})
		bufs[1].roundMatrix(op.Dst, op.Rows, op.Cols)
		return nil
	}
	if bufs[0] == nil {
		return fmt.Errorf("host: accumulate %s without a source", op.Mode)
	}
	in := bufs[0].data
	sld := ldOr(op.Src.LD, op.Cols)

	switch op.Mode {
	case plan.AddRowBroadcast:
		rows(op.Dst, op.Rows, op.Cols, func(_, base int) {
			for c := 0; c < op.Cols; c++ {
				out[base+c] += in[op.Src.Offset+c]
			}
		})
		bufs[1].roundMatrix(op.Dst, op.Rows, op.Cols)
	case plan.ReduceRows:
		for c := 0; c < op.Cols; c++ {
			var sum float32
			for r := 0; r < op.Rows; r++ {
				sum += in[op.Src.Offset+r*sld+c]
			}
			out[op.Dst.Offset+c] += sum
		}
		bufs[1].round(op.Dst.Offset, op.Cols)
	case plan.Add:
		rows(op.Dst, op.Rows, op.Cols, func(r, base int) {
			sb := op.Src.Offset + r*sld
			for c := 0; c < op.Cols; c++ {
				out[base+c] += in[sb+c]
			}
		})
		bufs[1].roundMatrix(op.Dst, op.Rows, op.Cols)
	case plan.Copy:
		rows(op.Dst, op.Rows, op.Cols, func(r, base int) {
			sb := op.Src.Offset + r*sld
			copy(out[base:base+op.Cols], in[sb:sb+op.Cols])
		})
		bufs[1].roundMatrix(op.Dst, op.Rows, op.Cols)
	}
	return nil
}

// Cell runs one LSTM or GRU step, row by row.
func (d *Device) Cell(op *plan.Cell, bufs []device.Buffer) error {
	if len(bufs) != 6 {
		return fmt.Errorf("host: cell expects 6 buffers, got %d", len(bufs))
	}
	hb, err := unwrap(bufs...)
	if err != nil {
		return err
	}
	if err := op.Validate(); err != nil {
		return err
	}
	if op.Cell == plan.LSTMCell && (hb[4] == nil || hb[5] == nil) {
		return fmt.Errorf("host: lstm cell without cell-state buffers")
	}
	h := op.Hidden
	g := op.Cell.Gates() * h
	gld, rld := ldOr(op.Gates.LD, g), ldOr(op.Recur.LD, g)
	phld, hld := ldOr(op.PrevH.LD, h), ldOr(op.H.LD, h)

	for r := 0; r < op.Rows; r++ {
		gates := hb[0].data[op.Gates.Offset+r*gld : op.Gates.Offset+r*gld+g]
		recur := hb[1].data[op.Recur.Offset+r*rld : op.Recur.Offset+r*rld+g]
		prevH := hb[2].data[op.PrevH.Offset+r*phld : op.PrevH.Offset+r*phld+h]
		out := hb[3].data[op.H.Offset+r*hld : op.H.Offset+r*hld+h]

		switch op.Cell {
		case plan.LSTMCell:
			pcld, cld := ldOr(op.PrevC.LD, h), ldOr(op.C.LD, h)
			prevC := hb[4].data[op.PrevC.Offset+r*pcld : op.PrevC.Offset+r*pcld+h]
			cell := hb[5].data[op.C.Offset+r*cld : op.C.Offset+r*cld+h]
			for j := 0; j < h; j++ {
				i := sigmoid(gates[j] + recur[j])
				f := sigmoid(gates[h+j] + recur[h+j])
				o := sigmoid(gates[2*h+j] + recur[2*h+j])
				c := tanh(gates[3*h+j] + recur[3*h+j])
				gates[j], gates[h+j], gates[2*h+j], gates[3*h+j] = i, f, o, c
				cell[j] = f*prevC[j] + i*c
				out[j] = o * tanh(cell[j])
			}
		case plan.GRUCell:
			for j := 0; j < h; j++ {
				z := sigmoid(gates[j] + recur[j])
				rs := sigmoid(gates[h+j] + recur[h+j])
				n := tanh(gates[2*h+j] + rs*recur[2*h+j])
				gates[j], gates[h+j], gates[2*h+j] = z, rs, n
				out[j] = (1-z)*n + z*prevH[j]
			}
		}
	}
	hb[0].roundMatrix(op.Gates, op.Rows, g)
	hb[3].roundMatrix(op.H, op.Rows, h)
	if op.Cell == plan.LSTMCell {
		hb[5].roundMatrix(op.C, op.Rows, h)
	}
	return nil
}
