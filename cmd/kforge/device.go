package main

import (
	"context"
	"fmt"
	"maps"
	"runtime"
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kforge/internal/backend"
	"github.com/samcharles93/kforge/internal/device/host"
)

type deviceInfo struct {
	Backend   string          `json:"backend"`
	Available string          `json:"available"`
	BLAS      bool            `json:"blas"`
	Workers   int             `json:"workers"`
	GoArch    string          `json:"go_arch"`
	CPUs      int             `json:"cpus"`
	Features  map[string]bool `json:"features"`
	Tiles     host.GemmConfig `json:"gemm_tiles_256"`
}

func deviceCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:  "device",
		Usage: "Describe the execution device the global flags select",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print as JSON", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dev, err := backend.Open(backendName, workers)
			if err != nil {
				return err
			}
			info := deviceInfo{
				Backend:   dev.Name(),
				Available: backend.Available(),
				BLAS:      dev.HasBLAS(),
				GoArch:    runtime.GOARCH,
				CPUs:      runtime.NumCPU(),
				Features:  host.Features(),
				Tiles:     host.SelectGemmConfig(256, 256, 256),
			}
			if hd, ok := dev.(*host.Device); ok {
				info.Workers = hd.Workers()
			}

			w := cmd.Root().Writer
			if asJSON {
				return writeJSON(w, info)
			}
			fmt.Fprintf(w, "backend:   %s (available: %s)\n", info.Backend, info.Available)
			fmt.Fprintf(w, "blas:      %t\n", info.BLAS)
			fmt.Fprintf(w, "workers:   %d of %d cpus\n", info.Workers, info.CPUs)
			fmt.Fprintf(w, "arch:      %s\n", info.GoArch)
			for _, name := range slices.Sorted(maps.Keys(info.Features)) {
				fmt.Fprintf(w, "  %-9s %t\n", name, info.Features[name])
			}
			fmt.Fprintf(w, "gemm tiles (256^3): m=%d n=%d k=%d\n", info.Tiles.TileM, info.Tiles.TileN, info.Tiles.TileK)
			return nil
		},
	}
}
