package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/splax/loadguard/internal/domain"
)

const (
	defaultCPUQuery = `100 * (1 - avg(rate(node_cpu_seconds_total{mode="idle"}[5m])))`
	defaultMemQuery = `100 * (1 - node_memory_MemAvailable_bytes / node_memory_MemTotal_bytes)`
	defaultRSSQuery = `process_resident_memory_bytes / 1024 / 1024`

	promQueryTimeout = 3 * time.Second
)

// PrometheusQueries configures the PromQL expressions backing each sample
// field. Empty fields fall back to node-exporter defaults.
type PrometheusQueries struct {
	CPUPercent       string
	MemoryPercent    string
	ResidentMemoryMB string
}

func (q PrometheusQueries) withDefaults() PrometheusQueries {
	if q.CPUPercent == "" {
		q.CPUPercent = defaultCPUQuery
	}
	if q.MemoryPercent == "" {
		q.MemoryPercent = defaultMemQuery
	}
	if q.ResidentMemoryMB == "" {
		q.ResidentMemoryMB = defaultRSSQuery
	}
	return q
}

// PrometheusProvider samples utilisation from a Prometheus server instead
// of the local host, for deployments where node-level metrics are already
// collected centrally.
type PrometheusProvider struct {
	client  v1.API
	queries PrometheusQueries
	now     func() time.Time
}

// NewPrometheusProvider connects to the Prometheus HTTP API at promURL.
func NewPrometheusProvider(promURL string, queries PrometheusQueries) (*PrometheusProvider, error) {
	client, err := api.NewClient(api.Config{Address: promURL})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	return &PrometheusProvider{
		client:  v1.NewAPI(client),
		queries: queries.withDefaults(),
		now:     time.Now,
	}, nil
}

// Sample implements Provider. A query returning no data yields a sample the
// governor will reject, which keeps the last known budget in force.
func (p *PrometheusProvider) Sample(ctx context.Context) (domain.TelemetrySample, error) {
	var sample domain.TelemetrySample
	opCtx, cancel := context.WithTimeout(ctx, promQueryTimeout)
	defer cancel()

	ts := p.now()
	cpuPercent, err := p.queryScalar(opCtx, p.queries.CPUPercent, ts)
	if err != nil {
		return sample, err
	}
	memPercent, err := p.queryScalar(opCtx, p.queries.MemoryPercent, ts)
	if err != nil {
		return sample, err
	}
	rssMB, err := p.queryScalar(opCtx, p.queries.ResidentMemoryMB, ts)
	if err != nil {
		return sample, err
	}

	sample = domain.TelemetrySample{
		Timestamp:        ts,
		CPUPercent:       cpuPercent,
		MemoryPercent:    memPercent,
		ResidentMemoryMB: rssMB,
	}
	return sample, nil
}

func (p *PrometheusProvider) queryScalar(ctx context.Context, query string, ts time.Time) (float64, error) {
	result, _, err := p.client.Query(ctx, query, ts)
	if err != nil {
		return 0, fmt.Errorf("prometheus query %q: %w", query, err)
	}
	if v, ok := result.(model.Vector); ok && len(v) > 0 {
		return float64(v[0].Value), nil
	}
	if v, ok := result.(*model.Scalar); ok {
		return float64(v.Value), nil
	}
	return 0, fmt.Errorf("prometheus query %q returned no data", query)
}
