// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel orders messages by importance.  Messages below the
// logger's minimum level are dropped.
type LogLevel int

const (
	LogDebug   LogLevel = 0
	LogVerbose LogLevel = 1
	LogNotice  LogLevel = 2
	LogWarning LogLevel = 3
)

// DefaultLogMaxSize is the size past which a log file is rotated.
const DefaultLogMaxSize int64 = 100 * 1024 * 1024

var levelTags = [...]string{"DBG", "VRB", "NTC", "WRN"}

func (l LogLevel) String() string {
	if l < LogDebug || l > LogWarning {
		return "???"
	}
	return levelTags[l]
}

// ParseLogLevel accepts "debug", "verbose", "notice" or "warning".
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LogDebug, nil
	case "verbose":
		return LogVerbose, nil
	case "notice", "":
		return LogNotice, nil
	case "warning", "warn":
		return LogWarning, nil
	}
	return LogNotice, fmt.Errorf("unknown log level %q", s)
}

// Logger writes levelled messages to stdout or to a file.  Every line
// carries the process id, so output from several worker processes
// sharing one file stays attributable.
type Logger struct {
	level      LogLevel
	output     io.Writer
	mu         sync.Mutex
	timestamps bool

	// file sink, nil when writing to output
	path    string
	file    *os.File
	ident   os.FileInfo // of file, compared against the path
	size    int64
	maxSize int64
	now     func() time.Time
}

// NewLogger returns a Logger that prints messages at or above level to
// stdout.
func NewLogger(level LogLevel) *Logger {
	return &Logger{
		level:      level,
		output:     os.Stdout,
		timestamps: true,
		maxSize:    DefaultLogMaxSize,
		now:        time.Now,
	}
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) { l.timestamps = on }

// SetOutput overrides the output writer and detaches any file sink.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
	l.output = w
}

// SetMaxSize sets the rotation threshold for file sinks.
func (l *Logger) SetMaxSize(n int64) {
	l.mu.Lock()
	l.maxSize = n
	l.mu.Unlock()
}

// Level returns the current minimum level.
func (l *Logger) Level() LogLevel { return l.level }

// Redirect points the logger at path, appending to it.  An empty path
// or "stdout" switches back to standard output, so a reload can always
// undo an earlier redirect.
func (l *Logger) Redirect(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closeFile()
	if path == "" || strings.EqualFold(path, "stdout") {
		l.output = os.Stdout
		return nil
	}
	if err := l.openFile(path); err != nil {
		l.output = os.Stdout
		return err
	}
	return nil
}

// Close releases the file sink, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeFile()
}

// Log writes a formatted message at the given level.
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.write(level, fmt.Sprintf(format, args...))
}

// Raw writes msg verbatim, without prefix or trailing newline.
func (l *Logger) Raw(level LogLevel, msg string) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.emit(msg)
}

// Debug prints at LogDebug.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	l.Log(LogDebug, format, args...)
}

// Verbose prints at LogVerbose.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	l.Log(LogVerbose, format, args...)
}

// Notice prints at LogNotice.  Prefixed with [NTC].
func (l *Logger) Notice(format string, args ...interface{}) {
	l.Log(LogNotice, format, args...)
}

// Warn prints at LogWarning.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	l.Log(LogWarning, format, args...)
}

// Error prints at LogWarning, which is never filtered out.  Prefixed
// with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.writeTag("ERR", fmt.Sprintf(format, args...))
}

func (l *Logger) write(level LogLevel, msg string) {
	l.writeTag(level.String(), msg)
}

func (l *Logger) writeTag(tag, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var line string
	if l.timestamps {
		ts := l.now().Format("02 Jan 15:04:05.000")
		line = fmt.Sprintf("[%d] %s [%s] %s\n", os.Getpid(), ts, tag, msg)
	} else {
		line = fmt.Sprintf("[%s] %s\n", tag, msg)
	}
	l.emit(line)
}

// emit must be called with l.mu held.
func (l *Logger) emit(s string) {
	if l.file != nil {
		l.follow()
	}
	if l.file != nil && l.maxSize > 0 && l.size > l.maxSize {
		if err := l.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "log rotate %s: %v\n", l.path, err)
			l.fallback()
		}
	}
	n, _ := io.WriteString(l.output, s)
	l.size += int64(n)
}

// ── file sink ────────────────────────────────────────────────────────

func (l *Logger) openFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file %s: %w", path, err)
	}
	l.path = path
	l.file = f
	l.ident = st
	l.output = f
	l.size = st.Size()
	return nil
}

func (l *Logger) closeFile() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.fallback()
	return err
}

// fallback sends further output to stdout.  The file, if any, must
// already be closed.
func (l *Logger) fallback() {
	l.file = nil
	l.ident = nil
	l.path = ""
	l.size = 0
	l.output = os.Stdout
}

// follow keeps the sink on whatever file currently lives at the path.
// Several processes append to one log; when another of them rotates it,
// this one reopens the new file.  The size always comes from disk.
func (l *Logger) follow() {
	disk, err := os.Stat(l.path)
	if err == nil && os.SameFile(disk, l.ident) {
		l.size = disk.Size()
		return
	}
	path := l.path
	l.file.Close()
	if err := l.openFile(path); err != nil {
		fmt.Fprintf(os.Stderr, "log reopen %s: %v\n", path, err)
		l.fallback()
	}
}

// rotate renames the current file with a timestamp suffix and starts a
// fresh one under the original name.
func (l *Logger) rotate() error {
	path := l.path
	l.file.Close()

	rotated := path + "." + l.now().Format("20060102-150405.000")
	if err := os.Rename(path, rotated); err != nil {
		return err
	}
	return l.openFile(path)
}
