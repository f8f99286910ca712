package main

import "time"

// ============================================================================
// Suppression Windows
// ============================================================================
// Two user-armed gates share this shape:
//   - popup mute: alerts keep getting counted for phase escalation but are
//     not shown while the window is active
//   - pause: enforcement itself stands down while the window is active
// Expiry is lazy. Nothing fires when a window lapses; the next Active check
// observes the passed deadline and reports the gate open.
// ============================================================================

// SuppressionKind names one of the two gates.
type SuppressionKind string

const (
	SuppressPopupMute SuppressionKind = "popupmute"
	SuppressPause     SuppressionKind = "pause"
)

// Suppression is one window. The zero value is inactive.
type Suppression struct {
	armed      bool
	indefinite bool
	until      time.Time
}

// Arm activates the window for the given duration. d <= 0 arms indefinitely.
func (s *Suppression) Arm(d time.Duration, now time.Time) {
	s.armed = true
	if d <= 0 {
		s.indefinite = true
		s.until = time.Time{}
		return
	}
	s.indefinite = false
	s.until = now.Add(d)
}

// ArmUntil activates the window with an absolute deadline; a nil deadline
// means indefinite. Used when restoring a persisted window at startup.
func (s *Suppression) ArmUntil(until *time.Time) {
	s.armed = true
	if until == nil {
		s.indefinite = true
		s.until = time.Time{}
		return
	}
	s.indefinite = false
	s.until = *until
}

// Disarm deactivates the window. Safe to call when already inactive.
func (s *Suppression) Disarm() {
	*s = Suppression{}
}

// Active reports whether the window covers now, clearing lapsed state as a
// side effect so a stale deadline is only ever observed once.
func (s *Suppression) Active(now time.Time) bool {
	if !s.armed {
		return false
	}
	if s.indefinite {
		return true
	}
	if now.Before(s.until) {
		return true
	}
	s.Disarm()
	return false
}

// Deadline returns the absolute expiry, or nil for indefinite/inactive.
func (s *Suppression) Deadline() *time.Time {
	if !s.armed || s.indefinite {
		return nil
	}
	t := s.until
	return &t
}

// Indefinite reports whether the window is armed with no deadline.
func (s *Suppression) Indefinite() bool {
	return s.armed && s.indefinite
}
