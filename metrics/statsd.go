package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cactus/go-statsd-client/statsd"
)

// StatsdClient is an abstraction over a UDP statsd emitter.
type StatsdClient struct {
	backend     statsd.Statter
	defaultTags map[string]string
	sampleRate  float32
}

// NewStatsdClient creates a new statsd client pointing at the specified
// listener/server address with an optional prefix and set of default
// tags to include with every metric.
func NewStatsdClient(addr string, prefix string, defaultTags map[string]string, sampleRate float32) (*StatsdClient, error) {
	client, err := statsd.NewClient(addr, prefix)
	if err != nil {
		return nil, fmt.Errorf("metrics: error creating statsd client: %w", err)
	}
	return &StatsdClient{
		backend:     client,
		defaultTags: defaultTags,
		sampleRate:  sampleRate,
	}, nil
}

// Count emits a count metric with a configurable delta.
func (c *StatsdClient) Count(metric string, delta int64, tags map[string]string) error {
	return c.backend.Inc(c.formatMetric(metric, tags), delta, c.sampleRate)
}

// Gauge emits a gauge metric.
func (c *StatsdClient) Gauge(metric string, value int64, tags map[string]string) error {
	return c.backend.Gauge(c.formatMetric(metric, tags), value, c.sampleRate)
}

// Timing emits a time duration metric.
func (c *StatsdClient) Timing(metric string, duration time.Duration, tags map[string]string) error {
	return c.backend.TimingDuration(c.formatMetric(metric, tags), duration, c.sampleRate)
}

// formatMetric serializes a metric name and a map of tags (merged with
// any default tags) into a single string for the backend.
func (c *StatsdClient) formatMetric(metric string, tags map[string]string) string {
	escapedMetric := url.QueryEscape(metric)

	if len(c.defaultTags)+len(tags) == 0 {
		return escapedMetric
	}

	merged := make(map[string]string, len(c.defaultTags)+len(tags))
	for k, v := range c.defaultTags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}

	components := make([]string, 0, len(merged))
	for k, v := range merged {
		components = append(components, fmt.Sprintf("%s=%s", url.QueryEscape(k), url.QueryEscape(v)))
	}
	return fmt.Sprintf("%s,%s", escapedMetric, strings.Join(components, ","))
}
