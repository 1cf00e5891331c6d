// Package conv holds the 2D convolution solvers and the reference kernels
// the host device runs for them.
package conv

import (
	"fmt"

	"github.com/samcharles93/kforge/internal/problem"
)

// Kernel names understood by device handles.
const (
	KernelDirectFwd = "ConvDirectFwd"
	KernelDirectBwd = "ConvDirectBwd"
	KernelDirectWrw = "ConvDirectWrw"
	KernelIm2Col    = "Im2Col"
	KernelCol2Im    = "Col2Im"
	KernelBwdWrW2   = "ConvBwdWrW2"
)

// Shape is the flattened geometry passed to conv kernels.
type Shape struct {
	N, C, H, W int
	K, R, S    int
	Ho, Wo     int
	PadH, PadW int
	StrH, StrW int
	DilH, DilW int
}

const shapeParams = 15

func ShapeOf(c *problem.Conv) Shape {
	p := c.Params
	return Shape{
		N: c.N, C: c.C, H: c.H, W: c.W,
		K: c.K, R: c.R, S: c.S,
		Ho: c.Ho, Wo: c.Wo,
		PadH: p.PadH, PadW: p.PadW,
		StrH: p.StrideH, StrW: p.StrideW,
		DilH: p.DilationH, DilW: p.DilationW,
	}
}

// Params encodes s followed by extra kernel parameters.
func (s Shape) Params(extra ...int) []int {
	return append([]int{
		s.N, s.C, s.H, s.W, s.K, s.R, s.S, s.Ho, s.Wo,
		s.PadH, s.PadW, s.StrH, s.StrW, s.DilH, s.DilW,
	}, extra...)
}

// DecodeShape splits kernel parameters into the shape and the extras.
func DecodeShape(p []int) (Shape, []int, error) {
	if len(p) < shapeParams {
		return Shape{}, nil, fmt.Errorf("conv: %d kernel params, need %d", len(p), shapeParams)
	}
	s := Shape{
		N: p[0], C: p[1], H: p[2], W: p[3], K: p[4], R: p[5], S: p[6], Ho: p[7], Wo: p[8],
		PadH: p[9], PadW: p[10], StrH: p[11], StrW: p[12], DilH: p[13], DilW: p[14],
	}
	return s, p[shapeParams:], nil
}

// input position of output (oh, ow) under filter tap (r, s); ok is false in
// the padding.
func (s Shape) tap(oh, ow, r, q int) (ih, iw int, ok bool) {
	ih = oh*s.StrH - s.PadH + r*s.DilH
	iw = ow*s.StrW - s.PadW + q*s.DilW
	return ih, iw, ih >= 0 && ih < s.H && iw >= 0 && iw < s.W
}

func (s Shape) imageLen() int  { return s.C * s.H * s.W }
func (s Shape) outputLen() int { return s.K * s.Ho * s.Wo }

// DirectForward computes y = conv(x, w) for all images.
func DirectForward(y, x, w []float32, s Shape) {
	for n := 0; n < s.N; n++ {
		xn := x[n*s.imageLen():]
		yn := y[n*s.outputLen():]
		for k := 0; k < s.K; k++ {
			for oh := 0; oh < s.Ho; oh++ {
				for ow := 0; ow < s.Wo; ow++ {
					var acc float32
					for c := 0; c < s.C; c++ {
						for r := 0; r < s.R; r++ {
							for q := 0; q < s.S; q++ {
								ih, iw, ok := s.tap(oh, ow, r, q)
								if !ok {
									continue
								}
								acc += xn[(c*s.H+ih)*s.W+iw] * w[((k*s.C+c)*s.R+r)*s.S+q]
							}
						}
					}
					yn[(k*s.Ho+oh)*s.Wo+ow] = acc
				}
			}
		}
	}
}

// DirectBackwardData computes dx from dy and w, overwriting dx.
func DirectBackwardData(dx, dy, w []float32, s Shape) {
	clear(dx[:s.N*s.imageLen()])
	for n := 0; n < s.N; n++ {
		dxn := dx[n*s.imageLen():]
		dyn := dy[n*s.outputLen():]
		for k := 0; k < s.K; k++ {
			for oh := 0; oh < s.Ho; oh++ {
				for ow := 0; ow < s.Wo; ow++ {
					g := dyn[(k*s.Ho+oh)*s.Wo+ow]
					for c := 0; c < s.C; c++ {
						for r := 0; r < s.R; r++ {
							for q := 0; q < s.S; q++ {
								if ih, iw, ok := s.tap(oh, ow, r, q); ok {
									dxn[(c*s.H+ih)*s.W+iw] += g * w[((k*s.C+c)*s.R+r)*s.S+q]
								}
							}
						}
					}
				}
			}
		}
	}
}

// DirectBackwardWeights computes dw from x and dy, overwriting dw.
func DirectBackwardWeights(dw, x, dy []float32, s Shape) {
	BackwardWeightsTiled(dw, x, dy, s, s.N, s.K)
}

// BackwardWeightsTiled computes dw walking images in groups of batchLoops and
// output channels in tiles of kTile. The result does not depend on either.
func BackwardWeightsTiled(dw, x, dy []float32, s Shape, batchLoops, kTile int) {
	batchLoops = max(batchLoops, 1)
	kTile = max(kTile, 1)
	clear(dw[:s.K*s.C*s.R*s.S])
	for n0 := 0; n0 < s.N; n0 += batchLoops {
		nEnd := min(n0+batchLoops, s.N)
		for k0 := 0; k0 < s.K; k0 += kTile {
			kEnd := min(k0+kTile, s.K)
			for k := k0; k < kEnd; k++ {
				for c := 0; c < s.C; c++ {
					for r := 0; r < s.R; r++ {
						for q := 0; q < s.S; q++ {
							var acc float32
							for n := n0; n < nEnd; n++ {
								xn := x[n*s.imageLen():]
								dyn := dy[n*s.outputLen():]
								for oh := 0; oh < s.Ho; oh++ {
									for ow := 0; ow < s.Wo; ow++ {
										if ih, iw, ok := s.tap(oh, ow, r, q); ok {
											acc += xn[(c*s.H+ih)*s.W+iw] * dyn[(k*s.Ho+oh)*s.Wo+ow]
										}
									}
								}
							}
							dw[((k*s.C+c)*s.R+r)*s.S+q] += acc
						}
					}
				}
			}
		}
	}
}

// Im2Col unfolds one image into col, a [C*R*S, Ho*Wo] matrix.
func Im2Col(col, x []float32, s Shape) {
	cols := s.Ho * s.Wo
	for c := 0; c < s.C; c++ {
		for r := 0; r < s.R; r++ {
			for q := 0; q < s.S; q++ {
				row := ((c*s.R+r)*s.S + q) * cols
				for oh := 0; oh < s.Ho; oh++ {
					for ow := 0; ow < s.Wo; ow++ {
						v := float32(0)
						if ih, iw, ok := s.tap(oh, ow, r, q); ok {
							v = x[(c*s.H+ih)*s.W+iw]
						}
						col[row+oh*s.Wo+ow] = v
					}
				}
			}
		}
	}
}

// Col2Im folds col back into one image, adding overlapping taps into dx.
func Col2Im(dx, col []float32, s Shape) {
	cols := s.Ho * s.Wo
	for c := 0; c < s.C; c++ {
		for r := 0; r < s.R; r++ {
			for q := 0; q < s.S; q++ {
				row := ((c*s.R+r)*s.S + q) * cols
				for oh := 0; oh < s.Ho; oh++ {
					for ow := 0; ow < s.Wo; ow++ {
						if ih, iw, ok := s.tap(oh, ow, r, q); ok {
							dx[(c*s.H+ih)*s.W+iw] += col[row+oh*s.Wo+ow]
						}
					}
				}
			}
		}
	}
}
