package quota

import (
	"context"
	"errors"
	"strings"
	"time"

	"mahainsight.org/internal/obs"
)

// UnlimitedRemaining is the sentinel reported when the bypass flag waives the
// cap for a privileged subject.
const UnlimitedRemaining = -1

var (
	// ErrStoreUnavailable marks a transient persistence failure.
	ErrStoreUnavailable = errors.New("quota: store unavailable")

	errInvalidInput = errors.New("quota: subject, resource, and a positive policy are required")
)

// Policy is the caller-supplied cap for one check; nothing is hardcoded in
// the tracker.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one check-and-increment.
type Decision struct {
	Allowed   bool
	Remaining int
}

// Usage is one (subject, resource) counter with its rolling window. The count
// is only meaningful within [WindowStartedAt, WindowStartedAt+Window).
type Usage struct {
	SubjectID       string
	ResourceID      string
	Count           int
	WindowStartedAt time.Time
}

// Store applies the check-then-increment as one atomic unit per
// (subject, resource) pair.
type Store interface {
	Increment(ctx context.Context, subjectID, resourceID string, policy Policy, bypass bool, now time.Time) (Decision, error)
}

// Tracker enforces a rolling-window usage cap per (subject, resource) pair.
type Tracker struct {
	store Store
	now   func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.now = fn
		}
	}
}

func NewTracker(store Store, opts ...Option) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("quota: store is required")
	}
	t := &Tracker{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// CheckAndIncrement consumes one slot if any remains. With bypass the call
// always allows and still records usage for observability. A denied check
// never increments.
func (t *Tracker) CheckAndIncrement(ctx context.Context, subjectID, resourceID string, policy Policy, bypass bool) (Decision, error) {
	if strings.TrimSpace(subjectID) == "" || strings.TrimSpace(resourceID) == "" ||
		policy.Limit <= 0 || policy.Window <= 0 {
		return Decision{}, errInvalidInput
	}
	dec, err := t.store.Increment(ctx, subjectID, resourceID, policy, bypass, t.now())
	if err != nil {
		return Decision{}, err
	}
	switch {
	case bypass:
		obs.QuotaDecision("bypass")
	case dec.Allowed:
		obs.QuotaDecision("allowed")
	default:
		obs.QuotaDecision("denied")
	}
	return dec, nil
}

// apply implements the window arithmetic shared by every Store: reset a stale
// window, then either deny without mutating the count or consume one slot.
// Callers must hold whatever guard makes the surrounding read-modify-write
// atomic.
func apply(u *Usage, policy Policy, bypass bool, now time.Time) Decision {
	if !now.Before(u.WindowStartedAt.Add(policy.Window)) {
		u.Count = 0
		u.WindowStartedAt = now
	}
	if bypass {
		u.Count++
		return Decision{Allowed: true, Remaining: UnlimitedRemaining}
	}
	if u.Count >= policy.Limit {
		return Decision{Allowed: false, Remaining: 0}
	}
	u.Count++
	return Decision{Allowed: true, Remaining: policy.Limit - u.Count}
}
