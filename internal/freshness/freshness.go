// Package freshness decides whether an owner's cached stars are stale.
package freshness

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL is how long a snapshot stays fresh.
const DefaultTTL = 24 * time.Hour

// MetaStore reports when an owner was last refreshed.
type MetaStore interface {
	LastRefresh(ctx context.Context, owner string) (time.Time, bool, error)
}

// Reason explains a refetch decision.
type Reason string

const (
	ReasonForced  Reason = "forced"
	ReasonMissing Reason = "not cached"
	ReasonExpired Reason = "expired"
	ReasonFresh   Reason = "fresh"
)

// Decision is the outcome of a freshness check.
type Decision struct {
	Refetch     bool
	Reason      Reason
	LastRefresh time.Time
	Age         time.Duration
}

// Controller applies the TTL policy.
type Controller struct {
	store MetaStore
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a Controller. A non-positive ttl means DefaultTTL.
func NewController(st MetaStore, ttl time.Duration, opts ...Option) *Controller {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Controller{store: st, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *Controller) TTL() time.Duration { return c.ttl }

// ShouldRefetch reports whether owner must be fetched again: always when
// forced or never cached, otherwise once the snapshot is older than the TTL.
func (c *Controller) ShouldRefetch(ctx context.Context, owner string, force bool) (bool, error) {
	d, err := c.Decide(ctx, owner, force)
	if err != nil {
		return false, err
	}
	return d.Refetch, nil
}

// Decide is ShouldRefetch with the reason attached. A store error is
// returned as is and never read as staleness.
func (c *Controller) Decide(ctx context.Context, owner string, force bool) (Decision, error) {
	if force {
		return Decision{Refetch: true, Reason: ReasonForced}, nil
	}

	last, ok, err := c.store.LastRefresh(ctx, owner)
	if err != nil {
		return Decision{}, fmt.Errorf("checking freshness of %s: %w", owner, err)
	}
	if !ok {
		return Decision{Refetch: true, Reason: ReasonMissing}, nil
	}

	age := c.now().Sub(last)
	d := Decision{LastRefresh: last, Age: age, Reason: ReasonFresh}
	if age > c.ttl {
		d.Refetch = true
		d.Reason = ReasonExpired
	}
	return d, nil
}
