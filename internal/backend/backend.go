// Package backend selects the execution device and reports whether this
// build carries a dense linear algebra provider.
package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/kforge/internal/device"
	"github.com/samcharles93/kforge/internal/device/host"
)

const (
	Host   = "host"
	NoBLAS = "host-noblas"
	Auto   = "auto"
)

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Host, NoBLAS, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, host, or host-noblas)", backend)
	}
}

// Open returns a device for name. Auto picks the GEMM-backed host device when
// the build has one. Asking for it explicitly on a build without one is an
// error rather than a silent downgrade.
func Open(name string, workers int) (device.Handle, error) {
	backend, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	if backend == Host && !Has(Host) {
		return nil, fmt.Errorf("backend %q is not available in this build (available: %s)", backend, Available())
	}
	noBLAS := backend == NoBLAS || !Has(Host)
	return host.New(host.Options{Workers: workers, NoBLAS: noBLAS}), nil
}
