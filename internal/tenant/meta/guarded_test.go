package meta

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

type stubDirectory struct {
	calls int
	err   error
	delay time.Duration
}

func (s *stubDirectory) FindByHost(ctx context.Context, host string) (*Record, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Record{ID: "t-1", Host: host}, nil
}

func (s *stubDirectory) Status(context.Context, string) (Status, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return StatusActive, nil
}

func (s *stubDirectory) SetStatus(context.Context, string, Status) error {
	s.calls++
	return s.err
}

func (s *stubDirectory) HostsByTenant(context.Context, string) ([]string, error) {
	s.calls++
	return []string{"a"}, s.err
}

func TestGuardedPassesThrough(t *testing.T) {
	stub := &stubDirectory{}
	g := NewGuarded(stub, GuardOptions{}, nil)

	rec, err := g.FindByHost(context.Background(), "h")
	if err != nil || rec.ID != "t-1" {
		t.Fatalf("FindByHost = %+v, %v", rec, err)
	}
	if s, err := g.Status(context.Background(), "t-1"); err != nil || s != StatusActive {
		t.Fatalf("Status = %q, %v", s, err)
	}
}

func TestGuardedTimesOut(t *testing.T) {
	stub := &stubDirectory{delay: time.Second}
	g := NewGuarded(stub, GuardOptions{Timeout: 20 * time.Millisecond}, nil)

	start := time.Now()
	_, err := g.FindByHost(context.Background(), "h")
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("call was not bounded by the timeout")
	}
}

func TestGuardedOpensOnFaults(t *testing.T) {
	stub := &stubDirectory{err: errors.New("db down")}
	g := NewGuarded(stub, GuardOptions{FailureThreshold: 2, Window: 2, OpenFor: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		_, _ = g.FindByHost(context.Background(), "h")
	}
	if !g.Open() {
		t.Fatal("breaker should be open after consecutive faults")
	}

	calls := stub.calls
	_, err := g.FindByHost(context.Background(), "h")
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if stub.calls != calls {
		t.Fatal("open breaker must not reach the directory")
	}
}

func TestGuardedIgnoresNotFound(t *testing.T) {
	stub := &stubDirectory{err: ErrNotFound}
	g := NewGuarded(stub, GuardOptions{FailureThreshold: 1, Window: 1, OpenFor: time.Minute}, nil)

	for i := 0; i < 3; i++ {
		if _, err := g.FindByHost(context.Background(), "h"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	}
	if g.Open() {
		t.Fatal("not-found answers must not open the breaker")
	}
}
