package kforge

import (
	"github.com/samcharles93/kforge/internal/conv"
	"github.com/samcharles93/kforge/internal/logsumexp"
	"github.com/samcharles93/kforge/internal/repeat"
	"github.com/samcharles93/kforge/internal/rnn"
	"github.com/samcharles93/kforge/internal/solver"
)

// DefaultRegistry registers every solver in its fixed selection order.
func DefaultRegistry() *solver.Registry {
	r := solver.NewRegistry(conv.Solvers()...)
	for _, s := range rnn.Solvers() {
		r.Register(s)
	}
	r.Register(repeat.NewForward())
	r.Register(repeat.NewBackward())
	r.Register(logsumexp.NewForward())
	r.Register(logsumexp.NewBackward())
	return r
}
