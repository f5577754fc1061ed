// Package bridge implements the BridgeRegistry and pluggable Selector
// (spec.md §4.B): the live view of media bridges and the strategies that
// pick one per participant.
package bridge

import "time"

// Bridge mirrors spec.md §3's Bridge entity: a media relay's current
// advertised stats plus the operational/drain flags that gate selection.
type Bridge struct {
	ID                   string
	Region               string
	RelayID              string
	Stress               float64
	Version              string
	IsInGracefulShutdown bool
	IsOperational        bool
	SupportsColibri2     bool
	Drain                bool
	LastEventAt          time.Time

	// failedAt is set when the bridge is marked faulty; it stays
	// non-operational until failureResetThreshold elapses (spec.md §4.B).
	failedAt time.Time
}

// Stats is the subset of Bridge fields a heartbeat/presence update carries.
// Fields left at their zero value do not overwrite the prior value — the
// caller must use pointers to express "field present but zero".
type Stats struct {
	Region               *string
	Stress               *float64
	Version              *string
	IsInGracefulShutdown *bool
	Drain                *bool
	RelayID              *string
	SupportsColibri2     *bool
}

// Operational reports whether the bridge is usable right now: not stickily
// failed, per spec.md §4.B ("failure is sticky for failureResetThreshold").
func (b *Bridge) Operational(now time.Time, failureResetThreshold time.Duration) bool {
	if b.failedAt.IsZero() {
		return true
	}
	return now.Sub(b.failedAt) >= failureResetThreshold
}

// MarkFailed records a non-graceful failure, starting the sticky-failure
// window.
func (b *Bridge) MarkFailed(now time.Time) {
	b.failedAt = now
}

// EligibleForNewConferences reports whether a bridge may be selected for a
// conference that does not already use it (spec.md §4.B: graceful shutdown
// and drain disqualify only for *new* conferences).
func (b *Bridge) EligibleForNewConferences(now time.Time, failureResetThreshold time.Duration) bool {
	return b.Operational(now, failureResetThreshold) && !b.IsInGracefulShutdown && !b.Drain
}
