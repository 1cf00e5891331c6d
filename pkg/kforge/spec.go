package kforge

import (
	"fmt"

	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
)

// ConvSpec is a convolution problem in the textual form used by request
// bodies and tuning files. Zero strides and dilations mean 1.
type ConvSpec struct {
	Kind      string `json:"kind,omitempty" yaml:"kind"`
	DataType  string `json:"data_type,omitempty" yaml:"data_type"`
	N         int    `json:"n" yaml:"n"`
	C         int    `json:"c" yaml:"c"`
	H         int    `json:"h" yaml:"h"`
	W         int    `json:"w" yaml:"w"`
	K         int    `json:"k" yaml:"k"`
	R         int    `json:"r" yaml:"r"`
	S         int    `json:"s" yaml:"s"`
	PadH      int    `json:"pad_h,omitempty" yaml:"pad_h"`
	PadW      int    `json:"pad_w,omitempty" yaml:"pad_w"`
	StrideH   int    `json:"stride_h,omitempty" yaml:"stride_h"`
	StrideW   int    `json:"stride_w,omitempty" yaml:"stride_w"`
	DilationH int    `json:"dilation_h,omitempty" yaml:"dilation_h"`
	DilationW int    `json:"dilation_w,omitempty" yaml:"dilation_w"`
}

// Problem validates s. Every failure is a configuration error.
func (s ConvSpec) Problem() (*problem.Conv, error) {
	kind := problem.ConvForward
	if s.Kind != "" {
		k, err := problem.ParseKind(s.Kind)
		if err != nil || !k.IsConv() {
			return nil, status.BadParmf("convolution kind %q", s.Kind)
		}
		kind = k
	}
	dt := tensor.Float32
	if s.DataType != "" {
		var err error
		if dt, err = tensor.ParseDataType(s.DataType); err != nil {
			return nil, fmt.Errorf("%w: %w", status.ErrBadParm, err)
		}
	}
	params := problem.ConvParams{
		PadH: s.PadH, PadW: s.PadW,
		StrideH: orOne(s.StrideH), StrideW: orOne(s.StrideW),
		DilationH: orOne(s.DilationH), DilationW: orOne(s.DilationW),
	}
	x, err := tensor.New(dt, s.N, s.C, s.H, s.W)
	if err != nil {
		return nil, fmt.Errorf("%w: input: %w", status.ErrBadParm, err)
	}
	w, err := tensor.New(dt, s.K, s.C, s.R, s.S)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %w", status.ErrBadParm, err)
	}
	y, err := problem.ConvOutputDesc(x, w, params)
	if err != nil {
		return nil, err
	}
	return problem.NewConv(kind, x, w, y, params)
}

func orOne(v int) int {
	if v == 0 {
		return 1
	}
	return v
}
