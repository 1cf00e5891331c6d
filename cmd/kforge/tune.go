package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/kforge/internal/find"
	"github.com/samcharles93/kforge/internal/logger"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/pkg/kforge"
)

// TuneFile is a batch of convolution problems to measure ahead of time.
type TuneFile struct {
	// Workspace overrides --workspace-limit for every entry.
	Workspace    *int        `yaml:"workspace"`
	Convolutions []TuneEntry `yaml:"convolutions"`
}

// TuneEntry is one layer. Without a kind all three directions are tuned.
type TuneEntry struct {
	Name            string `yaml:"name"`
	kforge.ConvSpec `yaml:",inline"`
}

type tuneJob struct {
	name string
	p    *problem.Conv
}

type tuneResult struct {
	job     tuneJob
	results []find.Result
}

func tuneCmd() *cli.Command {
	var jobs int
	return &cli.Command{
		Name:      "tune",
		Usage:     "Measure every problem of a YAML batch file and save the performance database",
		ArgsUsage: "<file.yaml>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "jobs", Aliases: []string{"j"}, Usage: "problems measured concurrently", Value: 1, Destination: &jobs},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("tune takes exactly one batch file")
			}
			file, err := loadTuneFile(cmd.Args().First())
			if err != nil {
				return err
			}
			h, err := openHandle(ctx)
			if err != nil {
				return err
			}
			if h.Config().PerfDBPath == "" {
				logger.FromContext(ctx).Warn("no --perfdb path, measurements will not be kept")
			}
			if err := runTune(ctx, h, file, jobs, cmd.Root().Writer); err != nil {
				return err
			}
			return h.SavePerfDB()
		},
	}
}

func loadTuneFile(path string) (TuneFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TuneFile{}, err
	}
	var f TuneFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return TuneFile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// expand validates every entry before anything is measured.
func (f TuneFile) expand() ([]tuneJob, error) {
	var jobs []tuneJob
	for i, e := range f.Convolutions {
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		kinds := []string{e.Kind}
		if e.Kind == "" {
			kinds = []string{problem.ConvForward.String(), problem.ConvBackwardData.String(), problem.ConvBackwardWeights.String()}
		}
		for _, k := range kinds {
			spec := e.ConvSpec
			spec.Kind = k
			p, err := spec.Problem()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			jobs = append(jobs, tuneJob{name: name, p: p})
		}
	}
	return jobs, nil
}

func runTune(ctx context.Context, h *kforge.Handle, f TuneFile, jobs int, w io.Writer) error {
	log := logger.FromContext(ctx)
	work, err := f.expand()
	if err != nil {
		return err
	}
	workspace := h.Config().WorkspaceLimit
	if f.Workspace != nil {
		workspace = *f.Workspace
	}

	out := make([]tuneResult, len(work))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	for i, job := range work {
		g.Go(func() error {
			results, err := h.Find(gctx, job.p, workspace)
			if err != nil {
				return fmt.Errorf("%s %s: %w", job.name, job.p.Kind(), err)
			}
			log.Info("tuned", "entry", job.name, "kind", job.p.Kind(), "best", results[0].Solver, "time", results[0].Time)
			out[i] = tuneResult{job: job, results: results}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range out {
		fmt.Fprintf(w, "%s: %s\n", r.job.name, r.job.p)
		if err := writeResults(w, r.results); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	return nil
}
