package app

import (
	"encoding/json"
	"fmt"

	"forkhost/internal/session"
)

// Echo writes each request back followed by a newline.
type Echo struct{}

func (Echo) Name() string            { return "echo" }
func (Echo) NewState() session.State { return nil }

func (Echo) Construct(s *session.Session) error {
	body, err := payload(s)
	if err != nil {
		return err
	}
	s.Out.Write(body)
	s.Out.WriteByte('\n')
	return nil
}

// Status answers every request with the worker's counters as one line
// of JSON.
type Status struct{}

func (Status) Name() string            { return "status" }
func (Status) NewState() session.State { return nil }

func (Status) Construct(s *session.Session) error {
	data, err := json.Marshal(s.Stats.Snapshot())
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	s.Out.Write(data)
	s.Out.WriteByte('\n')
	return nil
}
