package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/splax/loadguard/internal/breaker"
	"github.com/splax/loadguard/internal/gate"
)

const (
	demoAcquireTimeout  = 2 * time.Second
	demoMaxBreakerWait  = 2 * time.Second
	demoFailureRate     = 0.15
	demoMaxRetries      = 4
	demoRetryBackoff    = 250 * time.Millisecond
	demoIdleBetweenUnit = 200 * time.Millisecond
)

// runDemoWorkload generates synthetic admission traffic so the gate,
// breakers and alert pipeline have something to act on in local runs.
func runDemoWorkload(ctx context.Context, g *gate.Gate, units int, logger *slog.Logger) {
	if units < 1 {
		units = 1
	}
	logger = logger.With("component", "demo")
	logger.Info("demo workload enabled", "units", units)
	for i := 0; i < units; i++ {
		unit := fmt.Sprintf("demo-unit-%d", i+1)
		go demoWorker(ctx, g, unit, int64(i+1), logger)
	}
}

func demoWorker(ctx context.Context, g *gate.Gate, unit string, seed int64, logger *slog.Logger) {
	random := rand.New(rand.NewSource(seed))
	for {
		if ctx.Err() != nil {
			return
		}
		if err := submitDemoUnit(ctx, g, unit, random); err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug("demo submission gave up", "unit", unit, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(demoIdleBetweenUnit + time.Duration(random.Intn(200))*time.Millisecond):
		}
	}
}

// submitDemoUnit pushes one unit of fake work through the gate, retrying
// admission failures with backoff. An open breaker's RetryAfter hint is
// honoured (capped, so a long trip timeout does not stall the worker).
func submitDemoUnit(ctx context.Context, g *gate.Gate, unit string, random *rand.Rand) error {
	backoff := retry.WithMaxRetries(demoMaxRetries, retry.NewExponential(demoRetryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		acquireCtx, cancel := context.WithTimeout(ctx, demoAcquireTimeout)
		defer cancel()

		permit, err := g.Acquire(acquireCtx, unit)
		if err != nil {
			var open *breaker.OpenError
			if errors.As(err, &open) {
				wait := open.RetryAfter
				if wait > demoMaxBreakerWait {
					wait = demoMaxBreakerWait
				}
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return retry.RetryableError(err)
		}

		select {
		case <-time.After(time.Duration(50+random.Intn(150)) * time.Millisecond):
		case <-ctx.Done():
			permit.Release()
			return ctx.Err()
		}

		if random.Float64() < demoFailureRate {
			permit.Fail(errors.New("simulated downstream failure"))
			return nil
		}
		permit.Succeed()
		return nil
	})
}
