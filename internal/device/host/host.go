// Package host is the reference execution handle. It runs every plan op
// synchronously on the CPU over float32 storage, rounding stores to the
// buffer's data type so Half and BFloat16 plans see realistic precision.
package host

import (
	"fmt"
	"math"
	"runtime"

	"github.com/samcharles93/kforge/internal/device"
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/pkg/tensor"
	"github.com/x448/float16"
)

// Buffer is host memory. Values are kept as float32 and rounded on store.
type Buffer struct {
	dt   tensor.DataType
	data []float32
}

// NewBuffer wraps data (rounded to dt) as a host buffer.
func NewBuffer(dt tensor.DataType, data []float32) *Buffer {
	b := &Buffer{dt: dt, data: data}
	b.round(0, len(data))
	return b
}

func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

func (b *Buffer) DataType() tensor.DataType { return b.dt }

// Data exposes the backing slice.
func (b *Buffer) Data() []float32 { return b.data }

func (b *Buffer) round(off, n int) {
	switch b.dt {
	case tensor.Half:
		for i := off; i < off+n; i++ {
			b.data[i] = float16.Fromfloat32(b.data[i]).Float32()
		}
	case tensor.BFloat16:
		for i := off; i < off+n; i++ {
			b.data[i] = roundBF16(b.data[i])
		}
	}
}

func (b *Buffer) roundMatrix(o plan.Operand, rows, cols int) {
	if b.dt == tensor.Float32 || rows <= 0 || cols <= 0 {
		return
	}
	ld := o.LD
	if ld == 0 {
		ld = cols
	}
	for r := 0; r < rows; r++ {
		b.round(o.Offset+r*ld, cols)
	}
}

// roundBF16 rounds to nearest even on the upper 16 bits.
func roundBF16(v float32) float32 {
	if v != v {
		return v
	}
	bits := math.Float32bits(v)
	bits += 0x7fff + (bits>>16)&1
	return math.Float32frombits(bits &^ 0xffff)
}

// Options configure a Device.
type Options struct {
	// Workers bounds GEMM parallelism. Zero means GOMAXPROCS.
	Workers int
	// NoBLAS builds a device without a GEMM provider, as on a build that was
	// compiled without one.
	NoBLAS bool
	// Tiles overrides the blocked GEMM tile sizes.
	Tiles *GemmConfig
}

// Device is a synchronous CPU handle.
type Device struct {
	opts    Options
	kernels map[string]kernelFunc
}

var _ device.Handle = (*Device)(nil)

func New(opts Options) *Device {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Device{opts: opts, kernels: defaultKernels()}
}

func (d *Device) Name() string {
	if d.opts.NoBLAS {
		return "host-noblas"
	}
	return "host"
}

func (d *Device) HasBLAS() bool { return !d.opts.NoBLAS }

// Workers is the GEMM parallelism in effect.
func (d *Device) Workers() int { return d.opts.Workers }

func (d *Device) Alloc(dt tensor.DataType, n int) (device.Buffer, error) {
	if dt.Size() == 0 {
		return nil, fmt.Errorf("host: cannot allocate %s buffer", dt)
	}
	if n < 0 {
		return nil, fmt.Errorf("host: negative allocation %d", n)
	}
	return &Buffer{dt: dt, data: make([]float32, n)}, nil
}

// Synchronize is a no-op: every call has completed when it returns.
func (d *Device) Synchronize() error { return nil }

func unwrap(bufs ...device.Buffer) ([]*Buffer, error) {
	out := make([]*Buffer, len(bufs))
	for i, b := range bufs {
		if device.IsNil(b) {
			continue
		}
		hb, ok := b.(*Buffer)
		if !ok {
			return nil, fmt.Errorf("host: buffer %d is %T, not a host buffer", i, b)
		}
		out[i] = hb
	}
	return out, nil
}
