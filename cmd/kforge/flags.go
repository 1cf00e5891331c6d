package main

import (
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kforge/pkg/kforge"
)

var (
	backendName      string
	workers          int
	workspaceLimit   int
	enableDeprecated bool
	noTuning         bool
	searchBudget     time.Duration
	perfDBPath       string
	configFile       string
	logLevel         string
	logFormat        string
	debug            bool
)

func handleFlags() []cli.Flag {
	def := kforge.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "execution backend (auto, host, host-noblas)",
			Value:       def.Backend,
			Sources:     cli.EnvVars("KFORGE_BACKEND"),
			Destination: &backendName,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "GEMM worker goroutines (0 = GOMAXPROCS)",
			Destination: &workers,
		},
		&cli.IntFlag{
			Name:        "workspace-limit",
			Usage:       "largest workspace a selected solver may use, in elements",
			Value:       def.WorkspaceLimit,
			Destination: &workspaceLimit,
		},
		&cli.BoolFlag{
			Name:        "enable-deprecated",
			Usage:       "consider deprecated solvers",
			Sources:     cli.EnvVars("KFORGE_ENABLE_DEPRECATED"),
			Destination: &enableDeprecated,
		},
		&cli.BoolFlag{
			Name:        "no-tuning",
			Usage:       "pick the first fitting solver instead of measuring candidates",
			Destination: &noTuning,
		},
		&cli.DurationFlag{
			Name:        "search-budget",
			Usage:       "time bound on one solver's config search",
			Value:       def.SearchBudget,
			Destination: &searchBudget,
		},
		&cli.StringFlag{
			Name:        "perfdb",
			Usage:       "performance database file (empty keeps it in memory)",
			Value:       defaultPerfDBPath(),
			Sources:     cli.EnvVars("KFORGE_PERFDB"),
			Destination: &perfDBPath,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "config file",
			Value:       configPath(),
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// handleConfig is the library configuration the global flags describe.
func handleConfig() kforge.Config {
	cfg := kforge.DefaultConfig()
	cfg.Backend = backendName
	cfg.Workers = workers
	cfg.WorkspaceLimit = workspaceLimit
	cfg.EnableDeprecated = enableDeprecated
	cfg.Tuning = !noTuning
	cfg.SearchBudget = searchBudget
	cfg.PerfDBPath = perfDBPath
	return cfg
}
