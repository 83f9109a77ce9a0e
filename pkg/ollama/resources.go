package ollama

import (
	"context"
	"fmt"

	"github.com/ollama/ollama/api"
	"github.com/shirou/gopsutil/v3/mem"

	apperrors "github.com/menta2k/vision-detect/internal/errors"
)

const gib = 1 << 30

// CheckResources reports whether this host can serve the local backend: the
// Ollama server must answer and total memory must be at least minMemoryGB.
func CheckResources(ctx context.Context, c *api.Client, minMemoryGB float64) error {
	if err := c.Heartbeat(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindBackendUnavailable, "check_resources", "ollama server is not reachable", err)
	}

	if minMemoryGB <= 0 {
		return nil
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.KindBackendUnavailable, "check_resources", "cannot read host memory", err)
	}

	total := float64(vm.Total) / gib
	if total < minMemoryGB {
		return apperrors.New(apperrors.KindBackendUnavailable, "check_resources",
			fmt.Sprintf("host has %.1f GiB of memory, local model needs %.1f GiB", total, minMemoryGB))
	}
	return nil
}
