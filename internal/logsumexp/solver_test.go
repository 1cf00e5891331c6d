package logsumexp_test

import (
	"context"
	"math"
	"testing"

	"github.com/samcharles93/kforge/internal/device/host"
	"github.com/samcharles93/kforge/internal/dispatch"
	"github.com/samcharles93/kforge/internal/logsumexp"
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/status"
	"github.com/samcharles93/kforge/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardAndBackwardOnHost(t *testing.T) {
	in, out := tensor.MustNew(tensor.Float32, 2, 2), tensor.MustNew(tensor.Float32, 2)
	fwd, err := problem.NewLogsumexp(problem.LogsumexpForward, in, out, []int{1}, false)
	require.NoError(t, err)
	s := logsumexp.NewForward()
	require.True(t, s.IsApplicable(fwd))
	pl, err := s.Plan(fwd, "")
	require.NoError(t, err)

	dev := host.New(host.Options{})
	x := host.NewBuffer(tensor.Float32, []float32{0, 0, 1, 1})
	y := host.NewBuffer(tensor.Float32, make([]float32, 2))
	require.NoError(t, dispatch.Run(context.Background(), dev, pl, dispatch.Bindings{plan.BufX: x, plan.BufY: y}))
	assert.InDeltaSlice(t, []float64{math.Ln2, 1 + math.Ln2}, y.Data(), 1e-6)

	bwd := fwd.WithKind(problem.LogsumexpBackward)
	pl, err = logsumexp.NewBackward().Plan(bwd, "")
	require.NoError(t, err)
	dx := host.NewBuffer(tensor.Float32, make([]float32, 4))
	require.NoError(t, dispatch.Run(context.Background(), dev, pl, dispatch.Bindings{
		plan.BufX:  x,
		plan.BufY:  y,
		plan.BufDY: host.NewBuffer(tensor.Float32, []float32{1, 4}),
		plan.BufDX: dx,
	}))
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 2, 2}, dx.Data(), 1e-6)

	_, err = s.Plan(bwd, "")
	assert.ErrorIs(t, err, status.ErrBadParm)
}

func TestRankLimit(t *testing.T) {
	in := tensor.MustNew(tensor.Float32, 1, 1, 1, 1, 1, 2)
	out := tensor.MustNew(tensor.Float32, 1, 1, 1, 1, 1)
	p, err := problem.NewLogsumexp(problem.LogsumexpForward, in, out, []int{5}, false)
	require.NoError(t, err)
	assert.False(t, logsumexp.NewForward().IsApplicable(p))
}
