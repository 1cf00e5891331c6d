package main

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/kforge/internal/logger"
	"github.com/samcharles93/kforge/pkg/kforge"
)

// openHandle builds a handle from the global flags.
func openHandle(ctx context.Context) (*kforge.Handle, error) {
	cfg := handleConfig()
	h, err := kforge.New(cfg)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug("handle opened",
		"device", h.Device().Name(),
		"blas", h.Device().HasBLAS(),
		"perfdb", cfg.PerfDBPath,
		"records", h.PerfDB().Len(),
	)
	return h, nil
}

// savePerfDB persists measurements and logs rather than fails on error.
func savePerfDB(ctx context.Context, h *kforge.Handle) {
	if err := h.SavePerfDB(); err != nil {
		logger.FromContext(ctx).Warn("perfdb not saved", "path", h.Config().PerfDBPath, "error", err)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseInts reads a comma-separated list such as "4,3,3".
func parseInts(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
