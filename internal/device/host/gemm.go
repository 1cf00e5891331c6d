package host

import (
	"fmt"
	"runtime"

	"github.com/samcharles93/kforge/internal/device"
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/status"
	"golang.org/x/sys/cpu"
)

const (
	defaultTileM = 32
	defaultTileN = 32
	defaultTileK = 16

	maxTileM = 64
	maxTileN = 64
	maxTileK = 64
)

// GemmConfig holds the blocking parameters of the host GEMM.
type GemmConfig struct {
	TileM int
	TileN int
	TileK int
}

// SelectGemmConfig picks tiles from the shape and the CPU's vector width.
func SelectGemmConfig(m, k, n int) GemmConfig {
	cfg := GemmConfig{TileM: defaultTileM, TileN: defaultTileN, TileK: defaultTileK}

	switch {
	case cpu.X86.HasAVX512F:
		cfg.TileN = 64
	case cpu.X86.HasAVX2, cpu.ARM64.HasASIMD:
		cfg.TileN = 32
	default:
		cfg.TileN = 16
	}
	switch {
	case k >= 192:
		cfg.TileK = 32
	case k >= 96:
		cfg.TileK = 24
	}
	if m < cfg.TileM {
		cfg.TileM = max(m, 1)
	}
	return cfg.clamp()
}

func (c GemmConfig) clamp() GemmConfig {
	c.TileM = clampTile(c.TileM, maxTileM)
	c.TileN = clampTile(c.TileN, maxTileN)
	c.TileK = clampTile(c.TileK, maxTileK)
	return c
}

func clampTile(v, max int) int {
	if v < 1 {
		return 1
	}
	if v > max {
		return max
	}
	return v
}

// strided is a matrix view: element (i, j) lives at off + i*rs + j*cs.
type strided struct {
	data   []float32
	off    int
	rs, cs int
}

func (s strided) at(i, j int) float32 { return s.data[s.off+i*s.rs+j*s.cs] }

func view(data []float32, o plan.Operand, storedCols int, trans bool) strided {
	ld := ldOr(o.LD, storedCols)
	if trans {
		return strided{data: data, off: o.Offset, rs: 1, cs: ld}
	}
	return strided{data: data, off: o.Offset, rs: ld, cs: 1}
}

type gemmTask struct {
	c           strided
	a, b        strided
	n, k        int
	alpha, beta float32
	rs, re      int
	cfg         GemmConfig
	done        chan struct{}
}

type gemmPool struct {
	size      int
	tasks     chan gemmTask
	doneSlots chan chan struct{}
}

func newGemmPool() *gemmPool {
	size := max(runtime.GOMAXPROCS(0), 1)
	p := &gemmPool{
		size:      size,
		tasks:     make(chan gemmTask, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for range size {
		p.doneSlots <- make(chan struct{}, size)
	}
	for range size {
		go func() {
			for task := range p.tasks {
				gemmRangeRows(task)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

var gemmWorkPool = newGemmPool()

// Gemm computes C = alpha*op(A)*op(B) + beta*C, splitting output rows across
// the worker pool.
func (d *Device) Gemm(op *plan.MatMul, a, b, c device.Buffer) error {
	if d.opts.NoBLAS {
		return errNoBLAS
	}
	bufs, err := unwrap(a, b, c)
	if err != nil {
		return err
	}
	if err := op.Validate(); err != nil {
		return err
	}
	_, ac, _, bc := op.Shapes()
	A := view(bufs[0].data, op.A, ac, op.TransA)
	B := view(bufs[1].data, op.B, bc, op.TransB)
	C := view(bufs[2].data, op.C, op.N, false)

	gemm(C, A, B, op.M, op.N, op.K, op.Alpha, op.Beta, d.tiles(op), d.opts.Workers)
	bufs[2].roundMatrix(op.C, op.M, op.N)
	return nil
}

func ldOr(ld, cols int) int {
	if ld == 0 {
		return cols
	}
	return ld
}

func (d *Device) tiles(op *plan.MatMul) GemmConfig {
	if d.opts.Tiles != nil {
		return d.opts.Tiles.clamp()
	}
	return SelectGemmConfig(op.M, op.K, op.N)
}

func gemm(C, A, B strided, m, n, k int, alpha, beta float32, cfg GemmConfig, workers int) {
	if m == 0 || n == 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	// Small products are not worth the hand-off.
	if m*n*k < 32*32*32 {
		workers = 1
	}
	workers = min(workers, m, gemmWorkPool.size)
	task := gemmTask{c: C, a: A, b: B, n: n, k: k, alpha: alpha, beta: beta, cfg: cfg}
	if workers <= 1 {
		task.rs, task.re = 0, m
		gemmRangeRows(task)
		return
	}

	chunk := (m + workers - 1) / workers
	done := <-gemmWorkPool.doneSlots
	issued := 0
	for rs := 0; rs < m; rs += chunk {
		t := task
		t.rs, t.re = rs, min(rs+chunk, m)
		t.done = done
		gemmWorkPool.tasks <- t
		issued++
	}
	for range issued {
		<-done
	}
	gemmWorkPool.doneSlots <- done
}

// gemmRangeRows performs a blocked GEMM on rows [rs, re) of C.
func gemmRangeRows(t gemmTask) {
	C, A, B := t.c, t.a, t.b
	if t.beta == 0 {
		for i := t.rs; i < t.re; i++ {
			base := C.off + i*C.rs
			clear(C.data[base : base+t.n])
		}
	} else if t.beta != 1 {
		for i := t.rs; i < t.re; i++ {
			base := C.off + i*C.rs
			for j := 0; j < t.n; j++ {
				C.data[base+j] *= t.beta
			}
		}
	}
	if t.alpha == 0 || t.k == 0 {
		return
	}

	tm, tn, tk := t.cfg.TileM, t.cfg.TileN, t.cfg.TileK
	for i0 := t.rs; i0 < t.re; i0 += tm {
		iMax := min(i0+tm, t.re)
		for k0 := 0; k0 < t.k; k0 += tk {
			kMax := min(k0+tk, t.k)
			for j0 := 0; j0 < t.n; j0 += tn {
				jMax := min(j0+tn, t.n)
				blockUpdate(C, A, B, t.alpha, i0, iMax, j0, jMax, k0, kMax)
			}
		}
	}
}

func blockUpdate(C, A, B strided, alpha float32, i0, iMax, j0, jMax, k0, kMax int) {
	for i := i0; i < iMax; i++ {
		cBase := C.off + i*C.rs
		for kk := k0; kk < kMax; kk++ {
			av := alpha * A.at(i, kk)
			bBase := B.off + kk*B.rs
			if B.cs == 1 {
				bRow := B.data[bBase+j0 : bBase+jMax]
				cRow := C.data[cBase+j0 : cBase+jMax]
				for j, bv := range bRow {
					cRow[j] += av * bv
				}
				continue
			}
			for j := j0; j < jMax; j++ {
				C.data[cBase+j] += av * B.data[bBase+j*B.cs]
			}
		}
	}
}

var errNoBLAS = fmt.Errorf("host: %w", status.ErrBackendUnavailable)
