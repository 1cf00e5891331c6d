// Package device defines the execution handle the dispatcher issues plan ops
// against. A handle owns one in-order queue; every call is ordered after the
// previous one.
package device

import (
	"reflect"

	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/pkg/tensor"
)

// Buffer is device memory holding Len elements of DataType.
type Buffer interface {
	Len() int
	DataType() tensor.DataType
}

// IsNil reports whether b is unset, including a nil pointer stored in the
// interface.
func IsNil(b Buffer) bool {
	if b == nil {
		return true
	}
	v := reflect.ValueOf(b)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// Handle executes plan sub-operations. Buffers are passed in the operand
// order of the op.
type Handle interface {
	Name() string
	// HasBLAS reports whether a dense linear algebra provider backs Gemm.
	HasBLAS() bool
	Alloc(dt tensor.DataType, n int) (Buffer, error)

	Gemm(op *plan.MatMul, a, b, c Buffer) error
	Activation(op *plan.Activation, x, y Buffer) error
	ActivationGrad(op *plan.ActivationGrad, y, dy, dx Buffer) error
	// Accumulate receives a nil src for plan.Fill.
	Accumulate(op *plan.Accumulate, src, dst Buffer) error
	// Cell receives gates, recur, prevH, h, prevC and c. The last two are nil
	// for GRU.
	Cell(op *plan.Cell, bufs []Buffer) error
	Launch(op *plan.Kernel, bufs []Buffer) error

	// Synchronize blocks until all issued work has completed.
	Synchronize() error
}
