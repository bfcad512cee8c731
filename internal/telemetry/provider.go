// Package telemetry supplies resource-usage samples to the governance
// loop. Providers only observe; validation and budget decisions belong to
// the governor.
package telemetry

import (
	"context"

	"github.com/splax/loadguard/internal/domain"
)

// Provider produces one telemetry sample per call. Implementations must be
// safe for use from a single sampling goroutine; they are not required to
// support concurrent calls.
type Provider interface {
	Sample(ctx context.Context) (domain.TelemetrySample, error)
}
