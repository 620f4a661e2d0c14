package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BenchmarkCollector_Session records the counter traffic of one served
// request, which a worker does on its serving goroutine.
func BenchmarkCollector_Session(b *testing.B) {
	c := New()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c.ConnectionOpened()
		c.BytesReceived(64)
		c.RequestServed()
		c.BytesSent(64)
		c.ConnectionClosed()
	}
}

// BenchmarkCollector_Tick is the per-tick cost: record, snapshot, encode.
func BenchmarkCollector_Tick(b *testing.B) {
	c := New()
	c.ConnectionOpened()
	c.RecordError("dropping connection")
	now := time.Now()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c.RecordTick(now)
		_ = c.JSON()
	}
}

// BenchmarkExporter_Collect scrapes a 16-worker pool.
func BenchmarkExporter_Collect(b *testing.B) {
	samples := make([]Sample, 16)
	for i := range samples {
		samples[i] = Sample{Worker: "worker", Pid: 1000 + i, Snapshot: New().Snapshot()}
	}
	e := NewExporter("forkhost", func() []Sample { return samples })
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := reg.Gather(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkNilCollector(b *testing.B) {
	var c *Collector
	for i := 0; i < b.N; i++ {
		c.ConnectionOpened()
		c.BytesSent(32768)
		c.RecordError("test")
	}
}
