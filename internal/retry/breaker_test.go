package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

var errBoot = errors.New("worker failed to boot")

func newTestBreaker() (*Breaker, *clock.Mock, *[]string) {
	mock := clock.NewMock()
	var changes []string
	b := NewBreaker(BreakerConfig{
		Threshold: 3,
		Cooldown:  10 * time.Second,
		Probes:    2,
		Clock:     mock,
		OnChange:  func(from, to State) { changes = append(changes, from.String()+">"+to.String()) },
	})
	return b, mock, &changes
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _, changes := newTestBreaker()
	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatal(err)
		}
		b.Record(errBoot)
	}
	if b.State() != Closed || b.Failures() != 2 {
		t.Fatalf("state=%s failures=%d", b.State(), b.Failures())
	}
	b.Record(errBoot)
	if b.State() != Open {
		t.Fatalf("state = %s, want open", b.State())
	}
	err := b.Allow()
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Allow = %v, want ErrOpen", err)
	}
	if len(*changes) != 1 || (*changes)[0] != "closed>open" {
		t.Errorf("changes %v", *changes)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _, _ := newTestBreaker()
	b.Record(errBoot)
	b.Record(errBoot)
	b.Record(nil)
	b.Record(errBoot)
	if b.State() != Closed || b.Failures() != 1 {
		t.Errorf("state=%s failures=%d, want closed/1", b.State(), b.Failures())
	}
}

func TestBreaker_Recovery(t *testing.T) {
	b, mock, changes := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.Record(errBoot)
	}

	mock.Add(9 * time.Second)
	if err := b.Allow(); err == nil {
		t.Fatal("cooldown has not passed")
	}
	mock.Add(time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow after cooldown: %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}

	b.Record(nil)
	if b.State() != HalfOpen {
		t.Fatal("one probe must not close the breaker")
	}
	b.Record(nil)
	if b.State() != Closed || b.Failures() != 0 {
		t.Fatalf("state=%s failures=%d", b.State(), b.Failures())
	}
	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(*changes) != len(want) {
		t.Fatalf("changes %v, want %v", *changes, want)
	}
	for i := range want {
		if (*changes)[i] != want[i] {
			t.Errorf("change %d = %s, want %s", i, (*changes)[i], want[i])
		}
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, mock, _ := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.Record(errBoot)
	}
	mock.Add(10 * time.Second)
	b.Allow() //nolint:errcheck
	b.Record(nil)
	b.Record(errBoot)
	if b.State() != Open {
		t.Fatalf("state = %s, want open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Error("a fresh cooldown should start")
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _, _ := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.Record(errBoot)
	}
	b.Reset()
	if b.State() != Closed || b.Failures() != 0 || b.Allow() != nil {
		t.Error("Reset should close the breaker")
	}
}

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	for i := 0; i < DefaultBreakerConfig().Threshold-1; i++ {
		b.Record(errBoot)
	}
	if b.State() != Closed {
		t.Fatal("opened before the default threshold")
	}
	b.Record(errBoot)
	if b.State() != Open {
		t.Fatal("did not open at the default threshold")
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open", State(9): "unknown"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d) = %q, want %q", s, got, want)
		}
	}
}
