// Package window classifies the submission window for a destination.
// The calculator never caches "now": every call reads the clock again, so a
// device clock change reclassifies on the next call without any reset.
package window

import "time"

// State names where the current moment sits relative to the window.
type State string

const (
	// StateNoDate means the arrival timestamp is not set yet.
	StateNoDate State = "no-date"
	// StatePreWindow means the window has not opened.
	StatePreWindow State = "pre-window"
	// StateWithinWindow means submission is currently allowed.
	StateWithinWindow State = "within-window"
	// StateUrgent is the final 24 hours before arrival.
	StateUrgent State = "urgent"
	// StatePastDeadline means arrival has passed.
	StatePastDeadline State = "past-deadline"
)

const urgentLead = 24 * time.Hour

// Policy is the destination-specific submission window rule.
type Policy struct {
	// Restricted is false for destinations that accept submissions any time
	// before arrival.
	Restricted bool
	// Length is how long before arrival the window opens. Ignored when
	// Restricted is false.
	Length time.Duration
}

// Unrestricted is the policy for destinations without a submission window.
var Unrestricted = Policy{}

// Classification is the calculator output consumed by the state machine and
// the presentation layer.
type Classification struct {
	State         State         `json:"state"`
	TimeRemaining time.Duration `json:"timeRemaining"`
	OpensAt       time.Time     `json:"windowOpensAt"`
}

// Calculator classifies arrival timestamps against policies. The zero value
// uses the real clock; tests inject their own.
type Calculator struct {
	Clock func() time.Time
}

func (c Calculator) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// Classify maps the current moment onto the submission window for the given
// arrival. A nil arrival yields StateNoDate. TimeRemaining counts down to
// arrival once the window is open, and to the window opening before that;
// it is zero past the deadline.
func (c Calculator) Classify(arrival *time.Time, policy Policy) Classification {
	if arrival == nil || arrival.IsZero() {
		return Classification{State: StateNoDate}
	}

	now := c.now()
	opensAt := *arrival
	if policy.Restricted {
		opensAt = arrival.Add(-policy.Length)
	} else {
		// Unrestricted destinations are open from the beginning of time.
		opensAt = time.Time{}
	}

	if !now.Before(*arrival) {
		return Classification{State: StatePastDeadline, OpensAt: opensAt}
	}

	remaining := arrival.Sub(now)
	if policy.Restricted && now.Before(opensAt) {
		return Classification{
			State:         StatePreWindow,
			TimeRemaining: opensAt.Sub(now),
			OpensAt:       opensAt,
		}
	}

	// Unrestricted destinations stay plain within-window; urgency only makes
	// sense against a closing window.
	state := StateWithinWindow
	if policy.Restricted && remaining <= urgentLead {
		state = StateUrgent
	}
	return Classification{State: state, TimeRemaining: remaining, OpensAt: opensAt}
}
