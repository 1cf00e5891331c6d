package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/solver"
	"github.com/samcharles93/kforge/pkg/kforge"
)

func solversCmd() *cli.Command {
	var kind string
	return &cli.Command{
		Name:  "solvers",
		Usage: "List registered solvers in registration order",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "kind",
				Usage:       "only solvers of this problem kind (" + strings.Join(kindNames(), ", ") + ")",
				Destination: &kind,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			reg := kforge.DefaultRegistry()
			list := reg.All()
			if kind != "" {
				k, err := problem.ParseKind(kind)
				if err != nil {
					return err
				}
				list = reg.ForKind(k)
			}
			tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tNAME\tKINDS\tBLAS\tDEPRECATED\tTUNABLE")
			for _, s := range list {
				_, tunable := s.(solver.Tunable)
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%t\t%t\n",
					reg.Index(s.Name()), s.Name(), joinKinds(s.Kinds()), s.RequiresBLAS(), s.Deprecated(), tunable)
			}
			return tw.Flush()
		},
	}
}

func kindNames() []string {
	var out []string
	for _, k := range problem.Kinds() {
		out = append(out, k.String())
	}
	return out
}

func joinKinds(kinds []problem.Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, ",")
}
