package protocol

import (
	"bytes"
	"fmt"
	"strings"

	"forkhost/internal/errors"
	"forkhost/internal/session"
)

// DefaultMaxLineLen bounds a line request when Line.MaxLen is zero.
const DefaultMaxLineLen = 8 * 1024

// Line is a newline-terminated request protocol.  A trailing "\r" is
// stripped, so both "\n" and "\r\n" clients work.
type Line struct {
	MaxLen int
}

// LineRequest is the per-session state of the line protocol.
type LineRequest struct {
	// Line is the most recent complete request without its terminator.
	Line []byte
	// Count is the number of requests parsed on this session.
	Count int

	scanned int
}

// Release drops the request buffer.
func (r *LineRequest) Release() error {
	r.Line = nil
	r.scanned = 0
	return nil
}

// Payload returns the last parsed line.
func (r *LineRequest) Payload() []byte { return r.Line }

func (l *Line) Name() string { return "line" }

func (l *Line) NewState() session.State { return &LineRequest{} }

func (l *Line) maxLen() int {
	if l.MaxLen > 0 {
		return l.MaxLen
	}
	return DefaultMaxLineLen
}

// Parse looks for a newline in s.In, resuming the scan where the last
// Incomplete call stopped.
func (l *Line) Parse(s *session.Session) (session.ParseResult, error) {
	st := s.ProtocolState().(*LineRequest)
	data := s.In.Bytes()
	if st.scanned > len(data) {
		st.scanned = 0
	}

	idx := bytes.IndexByte(data[st.scanned:], '\n')
	if idx < 0 {
		st.scanned = len(data)
		if len(data) > l.maxLen() {
			return session.Invalid, fmt.Errorf("request exceeds %d bytes", l.maxLen())
		}
		return session.Incomplete, nil
	}
	end := st.scanned + idx
	if end > l.maxLen() {
		return session.Invalid, fmt.Errorf("request exceeds %d bytes", l.maxLen())
	}

	line := bytes.TrimSuffix(data[:end], []byte{'\r'})
	st.Line = append(st.Line[:0], line...)
	st.Count++
	st.scanned = 0
	s.In.Next(end + 1)
	return session.Complete, nil
}

// WriteError queues "-ERR <reason>\r\n" for the client.
func (l *Line) WriteError(s *session.Session, err error) {
	fmt.Fprintf(&s.Out, "-ERR %s\r\n", errorReason(err))
}

func errorReason(err error) string {
	var se *errors.SessionError
	msg := err.Error()
	if errors.As(err, &se) {
		msg = se.Kind.Error()
		if se.Err != nil {
			msg += ": " + se.Err.Error()
		}
	}
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(msg)
}
