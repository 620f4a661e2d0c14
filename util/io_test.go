package util

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"
)

func TestBridge(t *testing.T) {
	aServer, aClient := net.Pipe()
	bServer, bClient := net.Pipe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Bridge(ctx, aServer, bServer) }()

	msg := []byte("hello bridge")
	go func() {
		aClient.Write(msg) //nolint:errcheck
		aClient.Close()
	}()

	got, err := io.ReadAll(bClient)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(msg) {
		t.Errorf("got %q, want %q", got, msg)
	}
	bClient.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Bridge: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Bridge did not return")
	}
}

func TestBridge_ContextCancel(t *testing.T) {
	aServer, aClient := net.Pipe()
	bServer, bClient := net.Pipe()
	defer aClient.Close()
	defer bClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Bridge(ctx, aServer, bServer) //nolint:errcheck
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Bridge did not return after cancel")
	}
}

func TestErrorClassifiers(t *testing.T) {
	closedRead := &net.OpError{Op: "read", Net: "tcp", Err: net.ErrClosed}
	tests := []struct {
		name     string
		err      error
		harmless bool
		timeout  bool
	}{
		{"nil", nil, true, false},
		{"eof", io.EOF, true, false},
		{"closed conn", closedRead, true, false},
		{"wrapped closed", fmt.Errorf("bridge: %w", net.ErrClosed), true, false},
		{"closed pipe", io.ErrClosedPipe, true, false},
		{"deadline", os.ErrDeadlineExceeded, false, true},
		{"truncated", io.ErrUnexpectedEOF, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHarmless(tt.err); got != tt.harmless {
				t.Errorf("IsHarmless = %v, want %v", got, tt.harmless)
			}
			if got := IsTimeout(tt.err); got != tt.timeout {
				t.Errorf("IsTimeout = %v, want %v", got, tt.timeout)
			}
		})
	}
}
