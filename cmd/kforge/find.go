package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kforge/internal/find"
	"github.com/samcharles93/kforge/internal/logger"
	"github.com/samcharles93/kforge/pkg/kforge"
)

func findCmd() *cli.Command {
	return &cli.Command{
		Name:  "find",
		Usage: "Measure applicable solvers for a problem and record them in the performance database",
		Commands: []*cli.Command{
			findConvCmd(),
		},
	}
}

func convSpecFlags(spec *kforge.ConvSpec) []cli.Flag {
	ints := []struct {
		name, usage string
		dst         *int
		value       int
	}{
		{"n", "batch size", &spec.N, 1},
		{"c", "input channels", &spec.C, 1},
		{"height", "input height (H)", &spec.H, 8},
		{"width", "input width (W)", &spec.W, 8},
		{"k", "output channels", &spec.K, 1},
		{"r", "filter height", &spec.R, 3},
		{"s", "filter width", &spec.S, 3},
		{"pad-h", "vertical padding", &spec.PadH, 0},
		{"pad-w", "horizontal padding", &spec.PadW, 0},
		{"stride-h", "vertical stride", &spec.StrideH, 1},
		{"stride-w", "horizontal stride", &spec.StrideW, 1},
		{"dilation-h", "vertical dilation", &spec.DilationH, 1},
		{"dilation-w", "horizontal dilation", &spec.DilationW, 1},
	}
	flags := []cli.Flag{
		&cli.StringFlag{Name: "kind", Usage: "conv-fwd, conv-bwd or conv-wrw", Value: "conv-fwd", Destination: &spec.Kind},
		&cli.StringFlag{Name: "data-type", Aliases: []string{"dtype"}, Usage: "f32, f16 or bf16", Value: "f32", Destination: &spec.DataType},
	}
	for _, f := range ints {
		flags = append(flags, &cli.IntFlag{Name: f.name, Usage: f.usage, Value: f.value, Destination: f.dst})
	}
	return flags
}

func findConvCmd() *cli.Command {
	var (
		spec     kforge.ConvSpec
		asJSON   bool
		noBudget bool
	)
	return &cli.Command{
		Name:  "conv",
		Usage: "Rank convolution solvers for one problem",
		Flags: append(convSpecFlags(&spec),
			&cli.BoolFlag{Name: "json", Usage: "print results as JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "unlimited-workspace", Usage: "ignore --workspace-limit", Destination: &noBudget},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			p, err := spec.Problem()
			if err != nil {
				return err
			}
			h, err := openHandle(ctx)
			if err != nil {
				return err
			}
			ws := h.Config().WorkspaceLimit
			if noBudget {
				ws = math.MaxInt
			}
			log.Info("finding", "problem", p.String(), "workspace", ws)
			results, err := h.Find(ctx, p, ws)
			if err != nil {
				return err
			}
			savePerfDB(ctx, h)

			w := cmd.Root().Writer
			if asJSON {
				return writeJSON(w, results)
			}
			fmt.Fprintf(w, "%s\nkey %s\n\n", p, p.Key())
			return writeResults(w, results)
		},
	}
}

func writeResults(w io.Writer, results []find.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSOLVER\tCONFIG\tTIME\tWORKSPACE\tCACHED")
	for i, r := range results {
		cfg := string(r.Config)
		if cfg == "" {
			cfg = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%t\n", i+1, r.Solver, cfg, r.Time, r.Workspace, r.Cached)
	}
	return tw.Flush()
}
