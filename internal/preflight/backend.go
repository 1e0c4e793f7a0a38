package preflight

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/amangrep/internal/config"
	"github.com/Aman-CERP/amangrep/internal/search"
)

// CheckBackend probes for a usable search backend. Without one no
// search can run, accelerated or not.
func (c *Checker) CheckBackend(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:     "search_backend",
		Required: true,
	}

	backend, err := search.Probe(ctx, cfg)
	if err != nil {
		result.Status = StatusFail
		tried := strings.TrimSuffix(cfg.Backend.Preferred+", "+cfg.Backend.Fallback, ", ")
		result.Message = fmt.Sprintf("no usable backend (tried %s)", tried)
		result.Details = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = backend.ID()
	if backend.Kind() != search.KindUgrep {
		result.Details = "fuzzy fallback needs ugrep; only exact search is available"
	}
	return result
}
