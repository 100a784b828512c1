package live

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStateReplaysCurrentValueAndBroadcasts(t *testing.T) {
	s := NewState(1)
	sub := s.Subscribe(context.Background())
	defer sub.Close()
	if got := next(t, sub); got != 1 {
		t.Fatalf("expected replay of 1, got %d", got)
	}
	s.Set(2)
	if got := next(t, sub); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := s.Update(func(v int) int { return v * 10 }); got != 20 || s.Value() != 20 {
		t.Fatalf("expected 20, got %d", got)
	}
}

func TestStateAwait(t *testing.T) {
	s := NewState("loading")
	go func() {
		time.Sleep(5 * time.Millisecond)
		s.Set("loaded")
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := s.Await(ctx, func(v string) bool { return v == "loaded" })
	if err != nil || got != "loaded" {
		t.Fatalf("expected loaded, got %q (%v)", got, err)
	}
}

func TestStateAwaitHonoursContext(t *testing.T) {
	s := NewState(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Await(ctx, func(v int) bool { return v > 0 }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestStateCloseEndsSubscriptions(t *testing.T) {
	s := NewState(0)
	sub := s.Subscribe(context.Background())
	s.Close()
	select {
	case <-sub.Done():
	default:
		t.Fatalf("expected subscription ended")
	}
	s.Set(1)
}
