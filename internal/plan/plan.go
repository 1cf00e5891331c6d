// Package plan describes execution plans: ordered device sub-operations that
// address caller buffers through element offsets and leading dimensions.
// Plans are plain data. They are built per call, checked against the bound
// buffers and then issued in order by the dispatcher.
package plan

import (
	"fmt"
	"strings"
)

// BufferID selects one of the caller-bound buffers of a call.
type BufferID int

const (
	BufX BufferID = iota
	BufY
	BufHX
	BufCX
	BufHY
	BufCY
	BufW
	BufDW
	BufDX
	BufDY
	BufDHX
	BufDHY
	BufDCX
	BufDCY
	BufWorkspace
	BufReserve
	NumBuffers
)

var bufferNames = [NumBuffers]string{
	"x", "y", "hx", "cx", "hy", "cy", "w", "dw",
	"dx", "dy", "dhx", "dhy", "dcx", "dcy", "workspace", "reserve",
}

func (b BufferID) String() string {
	if b >= 0 && b < NumBuffers {
		return bufferNames[b]
	}
	return fmt.Sprintf("buffer(%d)", int(b))
}

// Operand addresses a row-major matrix (or a flat vector when LD is zero)
// inside a bound buffer.
type Operand struct {
	Buf    BufferID
	Offset int
	LD     int
}

// At returns o moved forward by delta elements.
func (o Operand) At(delta int) Operand {
	o.Offset += delta
	return o
}

// Row returns o moved forward by r rows.
func (o Operand) Row(r int) Operand {
	o.Offset += r * o.LD
	return o
}

func (o Operand) String() string {
	if o.LD == 0 {
		return fmt.Sprintf("%s+%d", o.Buf, o.Offset)
	}
	return fmt.Sprintf("%s+%d/ld%d", o.Buf, o.Offset, o.LD)
}

// Extent is the half-open element range [Offset, End) one operand touches.
type Extent struct {
	Buf    BufferID
	Offset int
	End    int
}

// matrixExtent returns the extent of a rows x cols matrix at o.
func matrixExtent(o Operand, rows, cols int) Extent {
	if rows <= 0 || cols <= 0 {
		return Extent{Buf: o.Buf, Offset: o.Offset, End: o.Offset}
	}
	ld := o.LD
	if ld == 0 {
		ld = cols
	}
	return Extent{Buf: o.Buf, Offset: o.Offset, End: o.Offset + (rows-1)*ld + cols}
}

func vectorExtent(o Operand, n int) Extent {
	return Extent{Buf: o.Buf, Offset: o.Offset, End: o.Offset + max(n, 0)}
}

// Op is one planned sub-operation.
type Op interface {
	Kind() string
	// Extents lists every range the op reads or writes.
	Extents() []Extent
	// Validate checks the op's own shape parameters.
	Validate() error
	String() string
}

// Plan is the ordered op sequence produced by one solver for one call.
type Plan struct {
	Solver string
	Ops    []Op
}

func New(solver string) *Plan {
	return &Plan{Solver: solver}
}

// Add appends ops in issue order.
func (p *Plan) Add(ops ...Op) {
	p.Ops = append(p.Ops, ops...)
}

// Len returns the op count.
func (p *Plan) Len() int { return len(p.Ops) }

// Requirements returns, per buffer, the minimum element count a bound buffer
// needs for every op of the plan to stay in bounds.
func (p *Plan) Requirements() map[BufferID]int {
	req := make(map[BufferID]int)
	for _, op := range p.Ops {
		for _, e := range op.Extents() {
			if e.End > req[e.Buf] {
				req[e.Buf] = e.End
			}
		}
	}
	return req
}

// Counts tallies ops by kind.
func (p *Plan) Counts() map[string]int {
	c := make(map[string]int)
	for _, op := range p.Ops {
		c[op.Kind()]++
	}
	return c
}

func (p *Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan %s (%d ops)\n", p.Solver, len(p.Ops))
	for i, op := range p.Ops {
		fmt.Fprintf(&b, "%4d  %s\n", i, op)
	}
	return b.String()
}
