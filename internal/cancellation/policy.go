package cancellation

import (
	"time"
)

const (
	DefaultUrgentWindow   = 5 * time.Minute
	DefaultStandardWindow = 60 * time.Minute
)

// Policy holds the self-service cancellation windows, measured from the
// moment a contractor was assigned.
type Policy struct {
	Urgent   time.Duration
	Standard time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Urgent: DefaultUrgentWindow, Standard: DefaultStandardWindow}
}

func (p Policy) Window(isUrgent bool) time.Duration {
	if isUrgent {
		return p.Urgent
	}
	return p.Standard
}

// IsAutoApprovable reports whether a request made at requestedAt falls inside
// the window. The boundary is inclusive. An order never assigned has no
// window. A request timestamped before the assignment (clock skew) counts as
// inside.
func (p Policy) IsAutoApprovable(assignedAt *time.Time, requestedAt time.Time, isUrgent bool) bool {
	if assignedAt == nil {
		return false
	}
	return requestedAt.Sub(*assignedAt) <= p.Window(isUrgent)
}

// TimeRemaining is how much of the window is left at now, clamped to
// [0, window]. A now before assignedAt reports the full window.
func (p Policy) TimeRemaining(assignedAt *time.Time, now time.Time, isUrgent bool) time.Duration {
	if assignedAt == nil {
		return 0
	}
	window := p.Window(isUrgent)
	return min(max(window-now.Sub(*assignedAt), 0), window)
}

// IsAutoApprovable applies the default 5/60 minute policy.
func IsAutoApprovable(assignedAt *time.Time, requestedAt time.Time, isUrgent bool) bool {
	return DefaultPolicy().IsAutoApprovable(assignedAt, requestedAt, isUrgent)
}

// TimeRemaining applies the default 5/60 minute policy.
func TimeRemaining(assignedAt *time.Time, now time.Time, isUrgent bool) time.Duration {
	return DefaultPolicy().TimeRemaining(assignedAt, now, isUrgent)
}
