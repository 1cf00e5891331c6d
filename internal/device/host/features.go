package host

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// Features lists the vector extensions SelectGemmConfig looks at.
func Features() map[string]bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return map[string]bool{
			"AVX":      cpu.X86.HasAVX,
			"AVX2":     cpu.X86.HasAVX2,
			"FMA":      cpu.X86.HasFMA,
			"AVX512F":  cpu.X86.HasAVX512F,
			"AVX512BW": cpu.X86.HasAVX512BW,
		}
	case "arm64":
		return map[string]bool{
			"ASIMD":   cpu.ARM64.HasASIMD,
			"FPHP":    cpu.ARM64.HasFPHP,
			"ASIMDHP": cpu.ARM64.HasASIMDHP,
			"SVE":     cpu.ARM64.HasSVE,
		}
	default:
		return map[string]bool{}
	}
}
