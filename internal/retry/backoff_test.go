package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestBackoff_Delay(t *testing.T) {
	b := &Backoff{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 3}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 300 * time.Millisecond},
		{3, 900 * time.Millisecond},
		{4, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}

	zero := &Backoff{}
	if got := zero.Delay(1); got != time.Second {
		t.Errorf("zero Backoff Delay(1) = %s, want 1s", got)
	}
	if got := zero.Delay(10); got != 60*time.Second {
		t.Errorf("zero Backoff Delay(10) = %s, want the 60s cap", got)
	}
}

func TestBackoff_WaitsOnClock(t *testing.T) {
	mock := clock.NewMock()
	b := &Backoff{InitialDelay: time.Second, MaxDelay: 4 * time.Second, Clock: mock}

	attempts := make(chan int, 8)
	done := make(chan error, 1)
	go func() {
		done <- b.Do(context.Background(), func(attempt int) error {
			attempts <- attempt
			if attempt < 4 {
				return fmt.Errorf("respawn failed")
			}
			return nil
		})
	}()

	// Waits of 1s, 2s and 4s separate the four attempts.
	for i, wait := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		if got := <-attempts; got != i+1 {
			t.Fatalf("attempt %d, want %d", got, i+1)
		}
		// Let Do reach its timer before the clock moves.
		time.Sleep(5 * time.Millisecond)
		mock.Add(wait - time.Millisecond)
		select {
		case a := <-attempts:
			t.Fatalf("attempt %d ran before its wait ended", a)
		default:
		}
		mock.Add(time.Millisecond)
	}
	if got := <-attempts; got != 4 {
		t.Fatalf("final attempt %d", got)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestBackoff_Outcomes(t *testing.T) {
	fatal := errors.New("fatal")
	fast := func() *Backoff {
		return &Backoff{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxAttempts: 3}
	}
	tests := []struct {
		name      string
		fn        func(int) error
		wantCalls int
		check     func(error) bool
	}{
		{"immediate success", func(int) error { return nil }, 1, func(err error) bool { return err == nil }},
		{"success on third", func(a int) error {
			if a < 3 {
				return errors.New("transient")
			}
			return nil
		}, 3, func(err error) bool { return err == nil }},
		{"permanent stops at once", func(int) error { return Permanent(fatal) }, 1,
			func(err error) bool { return err == fatal }},
		{"attempts exhausted", func(int) error { return fatal }, 3,
			func(err error) bool { return errors.Is(err, fatal) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := fast().Do(context.Background(), func(a int) error {
				calls++
				return tt.fn(a)
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if !tt.check(err) {
				t.Errorf("unexpected result %v", err)
			}
		})
	}
}

func TestBackoff_ContextCancelled(t *testing.T) {
	b := &Backoff{InitialDelay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Do(ctx, func(int) error { return errors.New("gateway unreachable") })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want the context error", err)
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	wrapped := fmt.Errorf("boot: %w", Permanent(errors.New("bad binary")))
	if !IsPermanent(wrapped) {
		t.Error("IsPermanent should see through wrapping")
	}
	if IsPermanent(errors.New("x")) || IsPermanent(nil) {
		t.Error("plain errors are not permanent")
	}
}

func TestJitter(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 200; i++ {
		if j := jitter(d); j < 75*time.Millisecond || j > 125*time.Millisecond {
			t.Fatalf("jitter(%s) = %s", d, j)
		}
	}
	if j := jitter(0); j != time.Millisecond {
		t.Errorf("jitter(0) = %s, want the 1ms floor", j)
	}
}
