package metrics

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Point is one data point of a collected instrument. For histograms Value
// is the sum of observations and Count their number.
type Point struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"`
}

// Snapshot is the flattened state of one instrument.
type Snapshot struct {
	Name   string  `json:"name"`
	Unit   string  `json:"unit,omitempty"`
	Points []Point `json:"points"`
}

// Exporter is an in-process MeterProvider whose instruments are read on
// demand rather than pushed to a collector.
type Exporter struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

// NewExporter creates an exporter backed by a manual reader.
func NewExporter() *Exporter {
	reader := sdkmetric.NewManualReader()
	return &Exporter{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

// Provider returns the underlying MeterProvider.
func (e *Exporter) Provider() metric.MeterProvider {
	return e.provider
}

// Meter returns a named meter from the exporter's provider.
func (e *Exporter) Meter(name string) metric.Meter {
	return e.provider.Meter(name)
}

// Snapshot collects the current state of every instrument, sorted by name.
func (e *Exporter) Snapshot(ctx context.Context) ([]Snapshot, error) {
	var rm metricdata.ResourceMetrics
	if err := e.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("failed to collect metrics: %w", err)
	}

	var out []Snapshot
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out = append(out, Snapshot{Name: m.Name, Unit: m.Unit, Points: points(m.Data)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Shutdown flushes and stops the provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}

func points(data metricdata.Aggregation) []Point {
	switch d := data.(type) {
	case metricdata.Sum[int64]:
		return numberPoints(d.DataPoints)
	case metricdata.Sum[float64]:
		return numberPoints(d.DataPoints)
	case metricdata.Gauge[int64]:
		return numberPoints(d.DataPoints)
	case metricdata.Gauge[float64]:
		return numberPoints(d.DataPoints)
	case metricdata.Histogram[float64]:
		return histogramPoints(d.DataPoints)
	case metricdata.Histogram[int64]:
		return histogramPoints(d.DataPoints)
	default:
		return nil
	}
}

func numberPoints[N int64 | float64](dps []metricdata.DataPoint[N]) []Point {
	out := make([]Point, 0, len(dps))
	for _, dp := range dps {
		out = append(out, Point{Attributes: attributes(dp.Attributes), Value: float64(dp.Value)})
	}
	return out
}

func histogramPoints[N int64 | float64](dps []metricdata.HistogramDataPoint[N]) []Point {
	out := make([]Point, 0, len(dps))
	for _, dp := range dps {
		out = append(out, Point{Attributes: attributes(dp.Attributes), Value: float64(dp.Sum), Count: dp.Count})
	}
	return out
}

func attributes(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
