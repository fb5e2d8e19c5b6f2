package report

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const PushJob = "rdispatch"

// Pushgateway pushes the outcome of a run to a Prometheus Pushgateway, one
// series per target.
type Pushgateway struct {
	url string
}

func NewPushgateway(url string) *Pushgateway {
	return &Pushgateway{url: url}
}

func (p *Pushgateway) Name() string {
	return "pushgateway"
}

func (p *Pushgateway) Send(ctx context.Context, records []Record) error {
	duration := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rdispatch_dispatch_duration_seconds",
			Help: "Duration of the last dispatch in seconds",
		},
		[]string{"target"},
	)

	exitCode := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rdispatch_dispatch_exit_code",
			Help: "Remote exit code of the last dispatch, -1 when the payload did not complete",
		},
		[]string{"target"},
	)

	success := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rdispatch_dispatch_success",
			Help: "1 when the last dispatch completed with exit code 0",
		},
		[]string{"target", "kind"},
	)

	for _, r := range records {
		duration.WithLabelValues(r.Name).Set(r.duration().Seconds())
		exitCode.WithLabelValues(r.Name).Set(float64(r.exitCode()))

		value := 0.0
		if r.Success() {
			value = 1
		}
		success.WithLabelValues(r.Name, string(r.Kind)).Set(value)
	}

	err := push.New(p.url, PushJob).
		Collector(duration).
		Collector(exitCode).
		Collector(success).
		PushContext(ctx)

	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}

	return nil
}
