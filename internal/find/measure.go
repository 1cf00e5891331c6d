package find

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/kforge/internal/device"
	"github.com/samcharles93/kforge/internal/dispatch"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/solver"
	"github.com/samcharles93/kforge/internal/status"
)

// DeviceMeasurer runs plans on scratch buffers of a device handle and keeps
// the fastest of Runs repetitions.
type DeviceMeasurer struct {
	Handle device.Handle
	Runs   int
}

func (m *DeviceMeasurer) Measure(ctx context.Context, s solver.Solver, cfg solver.PerfConfig, p problem.Problem) (time.Duration, error) {
	pl, err := s.Plan(p, cfg)
	if err != nil {
		return 0, err
	}
	bind := make(dispatch.Bindings)
	for id, n := range pl.Requirements() {
		buf, err := m.Handle.Alloc(p.DataType(), n)
		if err != nil {
			return 0, fmt.Errorf("allocate %s scratch: %w", id, err)
		}
		bind[id] = buf
	}

	best := time.Duration(-1)
	for range max(m.Runs, 1) {
		start := time.Now()
		if err := dispatch.Run(ctx, m.Handle, pl, bind); err != nil {
			return 0, err
		}
		if err := m.Handle.Synchronize(); err != nil {
			return 0, fmt.Errorf("%w: synchronize: %w", status.ErrExecution, err)
		}
		if d := time.Since(start); best < 0 || d < best {
			best = d
		}
	}
	return best, nil
}
