// Package metrics holds the statistics block every worker carries and
// the Prometheus exporter the supervisor publishes them through.
//
// Counters are atomic.  A nil *Collector accepts every call and reports
// zeros, so sessions built without one need no checks.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

type counter int

const (
	active counter = iota
	accepted
	received
	sent
	requests
	failures
	numCounters
)

// Collector tracks one worker's sessions, traffic and errors.
type Collector struct {
	counts [numCounters]atomic.Int64
	clock  clock.Clock

	mu      sync.RWMutex
	started time.Time
	tick    time.Time
	errAt   time.Time
	errMsg  string
}

// New returns a collector whose uptime starts now.
func New() *Collector { return NewWithClock(clock.New()) }

// NewWithClock is New driven by clk.
func NewWithClock(clk clock.Clock) *Collector {
	return &Collector{clock: clk, started: clk.Now()}
}

func (c *Collector) add(k counter, n int64) {
	if c != nil {
		c.counts[k].Add(n)
	}
}

func (c *Collector) get(k counter) int64 {
	if c == nil {
		return 0
	}
	return c.counts[k].Load()
}

// ConnectionOpened counts an accepted session.
func (c *Collector) ConnectionOpened() {
	c.add(active, 1)
	c.add(accepted, 1)
}

// ConnectionClosed ends a session opened with ConnectionOpened.
func (c *Collector) ConnectionClosed() { c.add(active, -1) }

func (c *Collector) BytesReceived(n int64) { c.add(received, n) }
func (c *Collector) BytesSent(n int64)     { c.add(sent, n) }
func (c *Collector) RequestServed()        { c.add(requests, 1) }

func (c *Collector) ActiveConnections() int64 { return c.get(active) }
func (c *Collector) TotalConnections() int64  { return c.get(accepted) }
func (c *Collector) TotalBytesIn() int64      { return c.get(received) }
func (c *Collector) TotalBytesOut() int64     { return c.get(sent) }
func (c *Collector) Requests() int64          { return c.get(requests) }
func (c *Collector) ErrorCount() int64        { return c.get(failures) }

// RecordError counts a dropped connection and keeps its message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.add(failures, 1)
	now := c.clock.Now()
	c.mu.Lock()
	c.errAt, c.errMsg = now, msg
	c.mu.Unlock()
}

// RecordTick stamps the worker's last housekeeping pass.
func (c *Collector) RecordTick(now time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tick = now
	c.mu.Unlock()
}

// Snapshot is the JSON document a worker writes to its status pipe.
type Snapshot struct {
	Uptime            string  `json:"uptime"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	ConnectionsActive int64   `json:"connections_active"`
	ConnectionsTotal  int64   `json:"connections_total"`
	RequestsTotal     int64   `json:"requests_total"`
	BytesIn           int64   `json:"bytes_in"`
	BytesOut          int64   `json:"bytes_out"`
	ErrorsTotal       int64   `json:"errors_total"`
	LastTick          string  `json:"last_tick,omitempty"`
	LastError         string  `json:"last_error,omitempty"`
	LastErrorMessage  string  `json:"last_error_message,omitempty"`
}

// Snapshot copies the current values.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	up := c.clock.Since(c.started)
	s := Snapshot{
		Uptime:            up.Truncate(time.Second).String(),
		UptimeSeconds:     up.Seconds(),
		ConnectionsActive: c.get(active),
		ConnectionsTotal:  c.get(accepted),
		RequestsTotal:     c.get(requests),
		BytesIn:           c.get(received),
		BytesOut:          c.get(sent),
		ErrorsTotal:       c.get(failures),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.tick.IsZero() {
		s.LastTick = c.tick.UTC().Format(time.RFC3339)
	}
	if !c.errAt.IsZero() {
		s.LastError = c.errAt.UTC().Format(time.RFC3339)
		s.LastErrorMessage = c.errMsg
	}
	return s
}

// JSON renders the snapshot on one line, ready for the status pipe.
func (c *Collector) JSON() string {
	data, _ := json.Marshal(c.Snapshot())
	return string(data)
}
