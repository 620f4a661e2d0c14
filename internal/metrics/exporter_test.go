package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestExporter_Collect(t *testing.T) {
	samples := []Sample{
		{Worker: "w0", Pid: 100, Snapshot: Snapshot{ConnectionsTotal: 4, RequestsTotal: 3, ErrorsTotal: 1}},
		{Worker: "w1", Pid: 101, Snapshot: Snapshot{ConnectionsTotal: 2, RequestsTotal: 2}},
	}
	exp := NewExporter("", func() []Sample { return samples })

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(exp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	want := `
# HELP forkhost_worker_requests_total Requests dispatched to an application.
# TYPE forkhost_worker_requests_total counter
forkhost_worker_requests_total{pid="100",worker="w0"} 3
forkhost_worker_requests_total{pid="101",worker="w1"} 2
# HELP forkhost_workers Number of tracked worker processes.
# TYPE forkhost_workers gauge
forkhost_workers 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(want),
		"forkhost_worker_requests_total", "forkhost_workers")
	if err != nil {
		t.Error(err)
	}
}

func TestExporter_NoWorkers(t *testing.T) {
	exp := NewExporter("test", func() []Sample { return nil })
	if n := testutil.CollectAndCount(exp); n != 1 {
		t.Errorf("collected %d metrics, want only the worker gauge", n)
	}
}
