package monitor

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/harrison/sentinel/internal/config"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/telemetry"
)

// Mirror receives a copy of every collected batch. Mirror failures are
// logged by the service and never fail a tick.
type Mirror interface {
	Mirror(ctx context.Context, points []models.MetricPoint) error
}

// PrometheusMirror publishes each point as the sentinel_monitor_metric gauge.
type PrometheusMirror struct{}

func (PrometheusMirror) Mirror(_ context.Context, points []models.MetricPoint) error {
	for _, p := range points {
		telemetry.SetMetric(p.Name, p.Value)
	}
	return nil
}

// InfluxMeasurement is the measurement metric points are written to.
const InfluxMeasurement = "sentinel_metrics"

// InfluxMirror writes batches to InfluxDB with the blocking write API.
type InfluxMirror struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
}

// NewInfluxMirror connects to the configured InfluxDB. It returns nil when no URL is set.
func NewInfluxMirror(cfg config.InfluxConfig) *InfluxMirror {
	if cfg.URL == "" {
		return nil
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxMirror{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}
}

// Mirror writes one point per metric, tagged by name and kind.
func (m *InfluxMirror) Mirror(ctx context.Context, points []models.MetricPoint) error {
	if len(points) == 0 {
		return nil
	}
	batch := make([]*write.Point, 0, len(points))
	for _, p := range points {
		pt := influxdb2.NewPointWithMeasurement(InfluxMeasurement).
			AddTag("name", p.Name).
			AddTag("kind", string(p.Kind)).
			AddField("value", p.Value).
			SetTime(p.Timestamp)
		for k, v := range p.Tags {
			pt.AddTag(k, v)
		}
		batch = append(batch, pt)
	}
	if err := m.writeAPI.WritePoint(ctx, batch...); err != nil {
		return fmt.Errorf("influx write to %s: %w", m.bucket, err)
	}
	return nil
}

// Close releases the client.
func (m *InfluxMirror) Close() {
	m.client.Close()
}
