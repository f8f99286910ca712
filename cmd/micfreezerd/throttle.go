package main

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Notification Phase Throttler
// ============================================================================
// Paces the user-facing "volume restored" alerts per device. A device that
// keeps getting yanked escalates through four phases; higher phases batch
// harder and suggest longer mute windows. The cumulative event count drives
// escalation and keeps counting while popups are muted, so a device that
// misbehaved under mute surfaces at the right phase when the mute lifts.
//
// All methods run on the control loop goroutine. Grouping timers post
// alertFlush events; nothing here is touched cross-thread.
// ============================================================================

// Alert is one user-facing notification.
type Alert struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	TargetDB   float64   `json:"target_db"`
	Count      int       `json:"count"`
	Phase      int       `json:"phase"`
	At         time.Time `json:"at"`

	// Suggested actions carried on the alert.
	SuggestedMute  time.Duration `json:"suggested_mute_ns"`
	SuggestedPause time.Duration `json:"suggested_pause_ns"`
}

// suggestedMuteByPhase maps phase (1-4) to the mute duration offered on the
// alert.
var suggestedMuteByPhase = [5]time.Duration{
	0,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
}

type throttleGroup struct {
	openedAt time.Time
	deadline time.Time
	count    int
	latest   Device
	timerSet bool
}

type throttleState struct {
	phase     int
	total     int // cumulative events since last reset
	lastShown time.Time
	shownAny  bool
	group     *throttleGroup
}

type Throttler struct {
	logger    *slog.Logger
	popupMute *Suppression

	emit     func(Alert)
	schedule func(deviceID string, d time.Duration)
	nowFn    func() time.Time

	states map[string]*throttleState
}

func NewThrottler(popupMute *Suppression, logger *slog.Logger) *Throttler {
	return &Throttler{
		logger:    logger,
		popupMute: popupMute,
		nowFn:     time.Now,
		states:    make(map[string]*throttleState),
	}
}

func (t *Throttler) OnAlert(fn func(Alert)) { t.emit = fn }

func (t *Throttler) SetScheduler(fn func(id string, d time.Duration)) { t.schedule = fn }

// phaseDelay is how long a group waits before flushing.
func phaseDelay(phase int) time.Duration {
	if phase <= 1 {
		return phaseOneGroupDelay
	}
	ms := 5000 + (phase-2)*2000
	if ms > 15000 {
		ms = 15000
	}
	return time.Duration(ms) * time.Millisecond
}

// phaseWindow caps how far merges can push a group's deadline past its open.
func phaseWindow(phase int) time.Duration {
	if phase <= 1 {
		return phaseOneGroupWindow
	}
	ms := 10000 + (phase-2)*5000
	if ms > 30000 {
		ms = 30000
	}
	return time.Duration(ms) * time.Millisecond
}

// phaseFor returns the phase implied by a cumulative event count.
func phaseFor(total int) int {
	switch {
	case total >= phaseFourThreshold:
		return 4
	case total >= phaseThreeThreshold:
		return 3
	case total >= phaseTwoThreshold:
		return 2
	default:
		return 1
	}
}

// Record registers one blocked-change event for dev.
func (t *Throttler) Record(dev Device) {
	now := t.nowFn()

	st, ok := t.states[dev.ID]
	if !ok {
		st = &throttleState{phase: 1}
		t.states[dev.ID] = st
	}
	t.maybeReset(st, now)

	st.total++
	st.phase = phaseFor(st.total)

	if st.group != nil {
		// Merge: newest value wins, deadline slides but never past the
		// window cap.
		st.group.count++
		st.group.latest = dev
		latest := st.group.openedAt.Add(phaseWindow(st.phase))
		dl := now.Add(phaseDelay(st.phase))
		if dl.After(latest) {
			dl = latest
		}
		st.group.deadline = dl
		return
	}

	// Phase 1 shows the first event of a burst immediately; everything else
	// opens a grouping window.
	if st.phase == 1 && st.total == 1 {
		t.show(st, dev, 1, now)
		return
	}

	delay := phaseDelay(st.phase)
	st.group = &throttleGroup{
		openedAt: now,
		deadline: now.Add(delay),
		count:    1,
		latest:   dev,
		timerSet: t.schedule != nil,
	}
	if t.schedule != nil {
		t.schedule(dev.ID, delay)
	}
}

// Flush handles an alertFlush event. The group may have slid its deadline
// past the timer that fired; if so, re-arm for the remainder.
func (t *Throttler) Flush(deviceID string) {
	st, ok := t.states[deviceID]
	if !ok || st.group == nil {
		return
	}
	now := t.nowFn()
	if now.Before(st.group.deadline) {
		if t.schedule != nil {
			t.schedule(deviceID, st.group.deadline.Sub(now))
		}
		return
	}

	g := st.group
	st.group = nil
	t.show(st, g.latest, g.count, now)
}

// show emits one alert unless popups are muted. A muted alert is dropped
// outright; the cumulative count already advanced in Record.
func (t *Throttler) show(st *throttleState, dev Device, count int, now time.Time) {
	if t.popupMute.Active(now) {
		t.logger.Debug("alert suppressed by popup mute", "device", dev.ID, "count", count)
		return
	}

	st.lastShown = now
	st.shownAny = true

	if t.emit == nil {
		return
	}
	t.emit(Alert{
		ID:             uuid.NewString(),
		DeviceID:       dev.ID,
		DeviceName:     dev.Name,
		TargetDB:       dev.FrozenTargetDB,
		Count:          count,
		Phase:          st.phase,
		At:             now,
		SuggestedMute:  suggestedMuteByPhase[st.phase],
		SuggestedPause: fixedPauseSuggestion,
	})
}

// maybeReset drops the machine back to phase 1 after a quiet gap. The
// pending group, if any, is discarded with it.
func (t *Throttler) maybeReset(st *throttleState, now time.Time) {
	if !st.shownAny {
		return
	}
	if now.Sub(st.lastShown) <= phaseResetGap {
		return
	}
	st.phase = 1
	st.total = 0
	st.shownAny = false
	st.lastShown = time.Time{}
	st.group = nil
}

// Tick performs the lazy reset sweep. Called from the control loop's
// housekeeping tick.
func (t *Throttler) Tick() {
	now := t.nowFn()
	for _, st := range t.states {
		if st.group == nil {
			t.maybeReset(st, now)
		}
	}
}

// Forget drops throttle state for a removed device.
func (t *Throttler) Forget(deviceID string) {
	delete(t.states, deviceID)
}
