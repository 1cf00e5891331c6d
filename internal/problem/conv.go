package problem

import (
	"fmt"

	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
)

// ConvParams holds the 2D convolution hyperparameters.
type ConvParams struct {
	PadH, PadW           int
	StrideH, StrideW     int
	DilationH, DilationW int
}

// DefaultConvParams is stride 1, dilation 1, no padding.
func DefaultConvParams() ConvParams {
	return ConvParams{StrideH: 1, StrideW: 1, DilationH: 1, DilationW: 1}
}

// Conv is a 2D NCHW convolution problem. The image, filter and output-side
// tensors keep the same roles for every direction, so forward, backward-data
// and backward-weights problems of one layer share everything but the kind.
type Conv struct {
	kind   Kind
	dtype  tensor.DataType
	N, C   int
	H, W   int
	K      int
	R, S   int
	Ho, Wo int
	Params ConvParams
}

// NewConv validates x [N,C,H,W], w [K,C,R,S] and y [N,K,Ho,Wo]. For
// backward-data x and y are the gradient tensors dx and dy; for
// backward-weights w is dw.
func NewConv(kind Kind, x, w, y tensor.Desc, p ConvParams) (*Conv, error) {
	if !kind.IsConv() {
		return nil, status.BadParmf("kind %s is not a convolution", kind)
	}
	if x.Rank() != 4 || w.Rank() != 4 || y.Rank() != 4 {
		return nil, status.BadParmf("convolution expects rank-4 NCHW tensors, got %d/%d/%d", x.Rank(), w.Rank(), y.Rank())
	}
	if x.DataType != w.DataType || x.DataType != y.DataType {
		return nil, status.BadParmf("convolution data types differ: %s/%s/%s", x.DataType, w.DataType, y.DataType)
	}
	if !x.IsPacked() || !w.IsPacked() || !y.IsPacked() {
		return nil, status.BadParmf("convolution tensors must be packed NCHW")
	}
	if p.StrideH <= 0 || p.StrideW <= 0 || p.DilationH <= 0 || p.DilationW <= 0 {
		return nil, status.BadParmf("convolution stride and dilation must be positive")
	}
	if p.PadH < 0 || p.PadW < 0 {
		return nil, status.BadParmf("convolution padding must be non-negative")
	}

	xl, wl, yl := x.Lengths, w.Lengths, y.Lengths
	c := &Conv{
		kind:   kind,
		dtype:  x.DataType,
		N:      xl[0],
		C:      xl[1],
		H:      xl[2],
		W:      xl[3],
		K:      wl[0],
		R:      wl[2],
		S:      wl[3],
		Params: p,
	}
	if wl[1] != c.C {
		return nil, status.BadParmf("filter channels %d do not match input channels %d", wl[1], c.C)
	}
	if c.N <= 0 || c.C <= 0 || c.K <= 0 || c.R <= 0 || c.S <= 0 {
		return nil, status.BadParmf("convolution lengths must be positive")
	}
	c.Ho = convOut(c.H, c.R, p.PadH, p.StrideH, p.DilationH)
	c.Wo = convOut(c.W, c.S, p.PadW, p.StrideW, p.DilationW)
	if c.Ho <= 0 || c.Wo <= 0 {
		return nil, status.BadParmf("convolution output would be empty (%dx%d)", c.Ho, c.Wo)
	}
	if yl[0] != c.N || yl[1] != c.K || yl[2] != c.Ho || yl[3] != c.Wo {
		return nil, status.BadParmf("output lengths %v, expected [%d,%d,%d,%d]", yl, c.N, c.K, c.Ho, c.Wo)
	}
	return c, nil
}

// ConvOutputDesc returns the packed y descriptor of convolving x with w.
func ConvOutputDesc(x, w tensor.Desc, p ConvParams) (tensor.Desc, error) {
	if x.Rank() != 4 || w.Rank() != 4 {
		return tensor.Desc{}, status.BadParmf("convolution expects rank-4 NCHW tensors, got %d/%d", x.Rank(), w.Rank())
	}
	if p.StrideH <= 0 || p.StrideW <= 0 || p.DilationH <= 0 || p.DilationW <= 0 {
		return tensor.Desc{}, status.BadParmf("convolution stride and dilation must be positive")
	}
	ho := convOut(x.Lengths[2], w.Lengths[2], p.PadH, p.StrideH, p.DilationH)
	wo := convOut(x.Lengths[3], w.Lengths[3], p.PadW, p.StrideW, p.DilationW)
	if ho <= 0 || wo <= 0 {
		return tensor.Desc{}, status.BadParmf("convolution output would be empty (%dx%d)", ho, wo)
	}
	return tensor.New(x.DataType, x.Lengths[0], w.Lengths[0], ho, wo)
}

func convOut(in, filter, pad, stride, dilation int) int {
	return (in+2*pad-dilation*(filter-1)-1)/stride + 1
}

func (c *Conv) Kind() Kind { return c.kind }

func (c *Conv) DataType() tensor.DataType { return c.dtype }

// WithKind returns a copy of c for another direction of the same layer.
func (c *Conv) WithKind(kind Kind) *Conv {
	cp := *c
	cp.kind = kind
	return &cp
}

func (c *Conv) Is1x1() bool { return c.R == 1 && c.S == 1 }

func (c *Conv) IsUnitStride() bool { return c.Params.StrideH == 1 && c.Params.StrideW == 1 }

func (c *Conv) IsUnpadded() bool { return c.Params.PadH == 0 && c.Params.PadW == 0 }

// InputSize, FilterSize and OutputSize are element counts of x, w and y.
func (c *Conv) InputSize() int { return c.N * c.C * c.H * c.W }

func (c *Conv) FilterSize() int { return c.K * c.C * c.R * c.S }

func (c *Conv) OutputSize() int { return c.N * c.K * c.Ho * c.Wo }

// ColumnSize is the element count of one image's im2col matrix.
func (c *Conv) ColumnSize() int { return c.C * c.R * c.S * c.Ho * c.Wo }

// FLOPs counts multiply-adds as two operations.
func (c *Conv) FLOPs() float64 {
	return 2 * float64(c.N*c.K*c.Ho*c.Wo) * float64(c.C*c.R*c.S)
}

func (c *Conv) String() string {
	return fmt.Sprintf("%s %dx%dx%dx%d * %dx%dx%dx%d", c.kind, c.N, c.C, c.H, c.W, c.K, c.C, c.R, c.S)
}

// Key renders the normalised problem.
func (c *Conv) Key() Key {
	p := c.Params
	return newKey(c.kind, c.dtype).
		field("nchw").
		ints("nchwkrs", []int{c.N, c.C, c.H, c.W, c.K, c.R, c.S}).
		ints("out", []int{c.Ho, c.Wo}).
		ints("pad.stride.dil", []int{p.PadH, p.PadW, p.StrideH, p.StrideW, p.DilationH, p.DilationW}).
		key()
}
