// Package kforge is the handle-based entry point. A Handle owns one device,
// the solver registry and the performance database; each operation selects
// a solver, plans it and dispatches the plan on the handle's device.
package kforge

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/kforge/internal/backend"
	"github.com/samcharles93/kforge/internal/device"
	"github.com/samcharles93/kforge/internal/dispatch"
	"github.com/samcharles93/kforge/internal/find"
	"github.com/samcharles93/kforge/internal/logger"
	"github.com/samcharles93/kforge/internal/perfdb"
	"github.com/samcharles93/kforge/internal/plan"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/solver"
	"github.com/samcharles93/kforge/internal/status"
)

// Config holds handle settings.
type Config struct {
	// Backend is auto, host or host-noblas.
	Backend string
	// Workers bounds host GEMM parallelism. Zero means GOMAXPROCS.
	Workers int
	// WorkspaceLimit is the workspace size, in elements, Find assumes when
	// the caller has not allocated one yet.
	WorkspaceLimit int
	// EnableDeprecated admits legacy solvers to selection.
	EnableDeprecated bool
	// Tuning measures candidates. Without it the first applicable solver
	// that fits the workspace is used, unless the database knows better.
	Tuning bool
	// SearchBudget bounds the measurement of one solver's configs.
	SearchBudget time.Duration
	// PerfDBPath persists measurements across processes when set.
	PerfDBPath string
}

func DefaultConfig() Config {
	return Config{
		Backend:        backend.Auto,
		WorkspaceLimit: 64 << 20,
		Tuning:         true,
		SearchBudget:   2 * time.Second,
	}
}

type Handle struct {
	cfg Config
	dev device.Handle
	reg *solver.Registry
	db  *perfdb.DB
	sel *find.Selector
}

// New opens the configured backend.
func New(cfg Config) (*Handle, error) {
	dev, err := backend.Open(cfg.Backend, cfg.Workers)
	if err != nil {
		return nil, err
	}
	return NewWithDevice(cfg, dev)
}

// NewWithDevice builds a handle around an existing device.
func NewWithDevice(cfg Config, dev device.Handle) (*Handle, error) {
	db := perfdb.New()
	if cfg.PerfDBPath != "" {
		var err error
		if db, err = perfdb.Load(cfg.PerfDBPath); err != nil {
			return nil, err
		}
	}
	return &Handle{
		cfg: cfg,
		dev: dev,
		reg: DefaultRegistry(),
		db:  db,
		sel: find.New(db, &find.DeviceMeasurer{Handle: dev, Runs: 3}, cfg.SearchBudget),
	}, nil
}

func (h *Handle) Config() Config             { return h.cfg }
func (h *Handle) Device() device.Handle      { return h.dev }
func (h *Handle) Registry() *solver.Registry { return h.reg }
func (h *Handle) PerfDB() *perfdb.DB         { return h.db }

// Env reports the facts applicability filtering depends on.
func (h *Handle) Env() solver.Env {
	return solver.Env{HasBLAS: h.dev.HasBLAS(), EnableDeprecated: h.cfg.EnableDeprecated}
}

// SavePerfDB writes the database to PerfDBPath. It is a no-op without one.
func (h *Handle) SavePerfDB() error {
	if h.cfg.PerfDBPath == "" {
		return nil
	}
	return h.db.Save(h.cfg.PerfDBPath)
}

// Find measures every applicable solver for p that fits in workspace
// elements and returns their costs, cheapest first.
func (h *Handle) Find(ctx context.Context, p problem.Problem, workspace int) ([]find.Result, error) {
	cands, err := h.reg.Applicable(ctx, h.Env(), p)
	if err != nil {
		return nil, err
	}
	return h.sel.FindAll(ctx, cands, p, workspace)
}

// Choose returns the solver an operation on p with workspace elements of
// scratch would run.
func (h *Handle) Choose(ctx context.Context, p problem.Problem, workspace int) (find.Result, error) {
	cands, err := h.reg.Applicable(ctx, h.Env(), p)
	if err != nil {
		return find.Result{}, err
	}
	if h.cfg.Tuning {
		return h.sel.Select(ctx, cands, p, workspace)
	}
	var first, known *find.Result
	for _, c := range cands {
		ws := c.Workspace(p)
		if ws > workspace {
			continue
		}
		if rec, ok := h.db.Get(p.Key(), c.Name()); ok && (known == nil || rec.Time < known.Time) {
			known = &find.Result{Solver: rec.Solver, Config: rec.Config, Time: rec.Time, Workspace: ws, Cached: true}
		}
		if first == nil {
			first = &find.Result{Solver: c.Name(), Workspace: ws}
		}
	}
	switch {
	case known != nil:
		return *known, nil
	case first != nil:
		return *first, nil
	default:
		return find.Result{}, fmt.Errorf("%w for %s within %d workspace elements", status.ErrNoSolver, p.Kind(), workspace)
	}
}

// Plan returns the plan an operation on p would dispatch.
func (h *Handle) Plan(ctx context.Context, p problem.Problem, workspace int) (*plan.Plan, find.Result, error) {
	r, err := h.Choose(ctx, p, workspace)
	if err != nil {
		return nil, r, err
	}
	s, ok := h.reg.Lookup(r.Solver)
	if !ok {
		return nil, r, fmt.Errorf("%w: solver %s is not registered", status.ErrNoSolver, r.Solver)
	}
	pl, err := s.Plan(p, r.Config)
	return pl, r, err
}

// Run selects a solver for p, plans it and dispatches the plan against b.
// The workspace budget is the length of the bound workspace buffer.
func (h *Handle) Run(ctx context.Context, p problem.Problem, b dispatch.Bindings) (find.Result, error) {
	ws := 0
	if buf := b[plan.BufWorkspace]; !device.IsNil(buf) {
		ws = buf.Len()
	}
	pl, r, err := h.Plan(ctx, p, ws)
	if err != nil {
		return r, err
	}
	if err := dispatch.Run(ctx, h.dev, pl, b); err != nil {
		return r, err
	}
	logger.FromContext(ctx).Debug("operation complete", "kind", p.Kind(), "solver", r.Solver, "ops", pl.Len())
	return r, nil
}

// bind collects the non-nil buffers of pairs into bindings.
func bind(pairs map[plan.BufferID]device.Buffer) dispatch.Bindings {
	b := make(dispatch.Bindings, len(pairs))
	for id, buf := range pairs {
		if !device.IsNil(buf) {
			b[id] = buf
		}
	}
	return b
}
