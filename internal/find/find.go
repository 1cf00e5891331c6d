// Package find picks the fastest applicable solver for a problem. Costs come
// from the performance database, or from a bounded empirical search whose
// result is stored there.
package find

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/samcharles93/kforge/internal/logger"
	"github.com/samcharles93/kforge/internal/perfdb"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/solver"
	"github.com/samcharles93/kforge/internal/status"
)

// Measurer times one performance config of a solver on a problem.
type Measurer interface {
	Measure(ctx context.Context, s solver.Solver, cfg solver.PerfConfig, p problem.Problem) (time.Duration, error)
}

// Result is the cost of one candidate.
type Result struct {
	Solver    string            `json:"solver"`
	Config    solver.PerfConfig `json:"config,omitempty"`
	Time      time.Duration     `json:"time_ns"`
	Workspace int               `json:"workspace"`
	// Cached is set when the cost came from the database without a search.
	Cached bool `json:"cached"`
}

// Selector ranks candidates by measured cost. It is safe for concurrent use;
// concurrent searches of the same solver on the same problem run once.
type Selector struct {
	DB       *perfdb.DB
	Measurer Measurer
	// SearchBudget bounds the time spent on one solver's configs. The first
	// config is always measured. Zero means no bound.
	SearchBudget time.Duration

	group singleflight.Group
}

func New(db *perfdb.DB, m Measurer, budget time.Duration) *Selector {
	return &Selector{DB: db, Measurer: m, SearchBudget: budget}
}

// Select returns the cheapest of candidates whose workspace fits in
// workspace elements. Ties go to the earlier candidate, so callers pass
// candidates in registry order.
func (s *Selector) Select(ctx context.Context, candidates []solver.Solver, p problem.Problem, workspace int) (Result, error) {
	all, err := s.FindAll(ctx, candidates, p, workspace)
	if err != nil {
		return Result{}, err
	}
	logger.FromContext(ctx).Debug("solver selected", "kind", p.Kind(), "solver", all[0].Solver, "time", all[0].Time, "cached", all[0].Cached)
	return all[0], nil
}

// FindAll returns the cost of every candidate that fits the workspace and
// ran, cheapest first. Configuration and not-implemented errors abort the
// whole call; other measurement failures only drop the candidate.
func (s *Selector) FindAll(ctx context.Context, candidates []solver.Solver, p problem.Problem, workspace int) ([]Result, error) {
	log := logger.FromContext(ctx)
	var (
		out      []Result
		failures []error
	)
	for _, c := range candidates {
		ws := c.Workspace(p)
		if ws > workspace {
			log.Debug("solver skipped", "solver", c.Name(), "reason", "workspace", "need", ws, "have", workspace)
			continue
		}
		r, err := s.cost(ctx, c, p, ws)
		if err != nil {
			if status.Fatal(err) {
				return nil, err
			}
			log.Warn("solver failed", "solver", c.Name(), "error", err)
			failures = append(failures, err)
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		if len(failures) > 0 {
			return nil, fmt.Errorf("%w for %s: %w", status.ErrNoSolver, p.Kind(), errors.Join(failures...))
		}
		return nil, fmt.Errorf("%w for %s within %d workspace elements", status.ErrNoSolver, p.Kind(), workspace)
	}
	slices.SortStableFunc(out, func(a, b Result) int { return cmp.Compare(a.Time, b.Time) })
	return out, nil
}

func (s *Selector) cost(ctx context.Context, c solver.Solver, p problem.Problem, ws int) (Result, error) {
	key := p.Key()
	if rec, ok := s.DB.Get(key, c.Name()); ok {
		logger.FromContext(ctx).Debug("perf db hit", "solver", c.Name(), "key", key)
		return resultOf(rec, true), nil
	}
	v, err, _ := s.group.Do(string(key)+"\x00"+c.Name(), func() (any, error) {
		if rec, ok := s.DB.Get(key, c.Name()); ok {
			return rec, nil
		}
		rec, err := s.search(ctx, c, p)
		if err != nil {
			return nil, err
		}
		rec.Workspace = ws
		return s.DB.Insert(rec), nil
	})
	if err != nil {
		return Result{}, err
	}
	return resultOf(v.(perfdb.Record), false), nil
}

// search measures the configs of c in order until the budget runs out and
// returns the fastest.
func (s *Selector) search(ctx context.Context, c solver.Solver, p problem.Problem) (perfdb.Record, error) {
	log := logger.FromContext(ctx)
	best := perfdb.Record{Key: p.Key(), Solver: c.Name(), Time: -1}
	start := time.Now()
	var lastErr error
	for i, cfg := range solver.Configs(c, p) {
		if i > 0 && s.SearchBudget > 0 && time.Since(start) >= s.SearchBudget {
			log.Debug("search budget exhausted", "solver", c.Name(), "measured", i)
			break
		}
		d, err := s.Measurer.Measure(ctx, c, cfg, p)
		if err != nil {
			if status.Fatal(err) {
				return perfdb.Record{}, err
			}
			lastErr = err
			continue
		}
		log.Debug("measured", "solver", c.Name(), "config", cfg, "time", d)
		if best.Time < 0 || d < best.Time {
			best.Time, best.Config = d, cfg
		}
	}
	if best.Time < 0 {
		return perfdb.Record{}, fmt.Errorf("%s: no config ran: %w", c.Name(), lastErr)
	}
	return best, nil
}

func resultOf(r perfdb.Record, cached bool) Result {
	return Result{Solver: r.Solver, Config: r.Config, Time: r.Time, Workspace: r.Workspace, Cached: cached}
}
