package freshness

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeMeta struct {
	last map[string]time.Time
	err  error
}

func (f *fakeMeta) LastRefresh(_ context.Context, owner string) (time.Time, bool, error) {
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	t, ok := f.last[owner]
	return t, ok, nil
}

func TestShouldRefetch(t *testing.T) {
	t0 := time.Unix(1_000_000, 0)
	meta := &fakeMeta{last: map[string]time.Time{"alice": t0}}

	tests := []struct {
		name   string
		owner  string
		now    time.Time
		force  bool
		want   bool
		reason Reason
	}{
		{"just fetched", "alice", t0, false, false, ReasonFresh},
		{"one second before expiry", "alice", t0.Add(86399 * time.Second), false, false, ReasonFresh},
		{"exactly at ttl", "alice", t0.Add(86400 * time.Second), false, false, ReasonFresh},
		{"one second past ttl", "alice", t0.Add(86401 * time.Second), false, true, ReasonExpired},
		{"forced while fresh", "alice", t0, true, true, ReasonForced},
		{"never cached", "bob", t0, false, true, ReasonMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(meta, 0, WithClock(func() time.Time { return tt.now }))

			got, err := c.ShouldRefetch(context.Background(), tt.owner, tt.force)
			if err != nil {
				t.Fatalf("ShouldRefetch: %v", err)
			}
			if got != tt.want {
				t.Errorf("ShouldRefetch() = %v, want %v", got, tt.want)
			}

			d, _ := c.Decide(context.Background(), tt.owner, tt.force)
			if d.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", d.Reason, tt.reason)
			}
		})
	}
}

func TestCustomTTL(t *testing.T) {
	t0 := time.Unix(5000, 0)
	meta := &fakeMeta{last: map[string]time.Time{"alice": t0}}
	c := NewController(meta, time.Minute, WithClock(func() time.Time { return t0.Add(2 * time.Minute) }))

	if c.TTL() != time.Minute {
		t.Errorf("expected ttl 1m, got %s", c.TTL())
	}
	d, err := c.Decide(context.Background(), "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Refetch || d.Age != 2*time.Minute {
		t.Errorf("unexpected decision: %+v", d)
	}
}

func TestStoreErrorIsNotStaleness(t *testing.T) {
	boom := errors.New("disk on fire")
	c := NewController(&fakeMeta{err: boom}, 0)

	refetch, err := c.ShouldRefetch(context.Background(), "alice", false)
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if refetch {
		t.Error("a store error must not trigger a refetch")
	}

	// Forcing skips the store entirely.
	if refetch, err := c.ShouldRefetch(context.Background(), "alice", true); err != nil || !refetch {
		t.Errorf("forced: got (%v, %v)", refetch, err)
	}
}

func TestDefaultTTL(t *testing.T) {
	if NewController(&fakeMeta{}, -time.Second).TTL() != DefaultTTL {
		t.Error("expected non-positive ttl to fall back to the default")
	}
	if DefaultTTL != 86400*time.Second {
		t.Errorf("default ttl should be one day, got %s", DefaultTTL)
	}
}
