package worker

import (
	"encoding/json"
	"io"
	"sync/atomic"

	"forkhost/internal/metrics"
)

// Probe reports whether the supervisor still wants this worker.
type Probe interface {
	Alive() bool
}

// PipeProbe watches the read end of a pipe the supervisor holds open.
// When the supervisor closes its end, or exits, the read returns EOF and
// the probe turns false for good.
type PipeProbe struct {
	alive atomic.Bool
	done  chan struct{}
}

// WatchPipe starts draining r in the background.
func WatchPipe(r io.Reader) *PipeProbe {
	p := &PipeProbe{done: make(chan struct{})}
	p.alive.Store(true)
	go func() {
		defer close(p.done)
		io.Copy(io.Discard, r) //nolint:errcheck
		p.alive.Store(false)
	}()
	return p
}

// Alive reports whether the pipe is still open.
func (p *PipeProbe) Alive() bool { return p.alive.Load() }

// Done is closed once the pipe has been seen closed.
func (p *PipeProbe) Done() <-chan struct{} { return p.done }

// Reporter writes status snapshots as JSON lines.
type Reporter struct {
	enc *json.Encoder
}

// NewReporter returns a Reporter writing to w.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{enc: json.NewEncoder(w)}
}

// Report writes one snapshot followed by a newline.
func (r *Reporter) Report(s metrics.Snapshot) error {
	return r.enc.Encode(s)
}
