package main

import (
	"testing"
	"time"
)

type throttleHarness struct {
	th        *Throttler
	popupMute *Suppression
	now       time.Time
	alerts    []Alert
	timers    []time.Duration
}

func newThrottleHarness() *throttleHarness {
	h := &throttleHarness{
		popupMute: &Suppression{},
		now:       time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
	h.th = NewThrottler(h.popupMute, testLogger())
	h.th.nowFn = func() time.Time { return h.now }
	h.th.OnAlert(func(a Alert) { h.alerts = append(h.alerts, a) })
	h.th.SetScheduler(func(id string, d time.Duration) { h.timers = append(h.timers, d) })
	return h
}

func (h *throttleHarness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *throttleHarness) record() {
	h.th.Record(frozenMic(0))
}

// drain advances past any pending group deadline and flushes it. 10s clears
// the longest single-event group delay (9s at phase 4) while staying inside
// the 30s reset gap.
func (h *throttleHarness) drain() {
	h.advance(10 * time.Second)
	h.th.Flush("mic-1")
}

func TestThrottler_FirstEventImmediate(t *testing.T) {
	h := newThrottleHarness()

	h.record()

	if len(h.alerts) != 1 {
		t.Fatalf("first event must show immediately, got %d alerts", len(h.alerts))
	}
	a := h.alerts[0]
	if a.Phase != 1 || a.Count != 1 {
		t.Errorf("unexpected alert phase/count: %+v", a)
	}
	if a.ID == "" {
		t.Error("alert must carry an ID")
	}
	if a.SuggestedMute != 5*time.Minute {
		t.Errorf("phase 1 suggests 5min mute, got %v", a.SuggestedMute)
	}
	if a.SuggestedPause != 15*time.Minute {
		t.Errorf("pause suggestion is fixed at 15min, got %v", a.SuggestedPause)
	}
}

func TestThrottler_SubsequentEventsGroup(t *testing.T) {
	h := newThrottleHarness()

	h.record() // shown immediately
	h.advance(100 * time.Millisecond)
	h.record() // opens group
	h.advance(100 * time.Millisecond)
	h.record() // merges

	if len(h.alerts) != 1 {
		t.Fatalf("grouped events must not show yet, got %d alerts", len(h.alerts))
	}
	if len(h.timers) != 1 {
		t.Fatalf("group must arm exactly one timer, got %d", len(h.timers))
	}

	h.advance(phaseOneGroupWindow + time.Second)
	h.th.Flush("mic-1")

	if len(h.alerts) != 2 {
		t.Fatalf("group flush must emit one merged alert, got %d total", len(h.alerts))
	}
	if h.alerts[1].Count != 2 {
		t.Errorf("merged alert should count 2 events, got %d", h.alerts[1].Count)
	}
}

func TestThrottler_PhaseEscalation(t *testing.T) {
	h := newThrottleHarness()

	// Phases escalate on cumulative totals: 3 -> phase 2, 8 -> 3, 15 -> 4.
	phases := map[int]int{}
	for i := 1; i <= 16; i++ {
		h.record()
		h.drain()
		if len(h.alerts) == 0 {
			t.Fatalf("no alert after event %d", i)
		}
		phases[i] = h.alerts[len(h.alerts)-1].Phase
		// Stay under the 30s reset gap between events.
		h.advance(5 * time.Second)
	}

	for _, tc := range []struct {
		total int
		phase int
	}{
		{1, 1}, {2, 1}, {3, 2}, {7, 2}, {8, 3}, {14, 3}, {15, 4}, {16, 4},
	} {
		if phases[tc.total] != tc.phase {
			t.Errorf("after %d events expected phase %d, got %d", tc.total, tc.phase, phases[tc.total])
		}
	}
}

func TestThrottler_SuggestedMuteGrowsWithPhase(t *testing.T) {
	h := newThrottleHarness()

	want := map[int]time.Duration{
		1: 5 * time.Minute,
		2: 15 * time.Minute,
		3: 30 * time.Minute,
		4: 60 * time.Minute,
	}

	for i := 1; i <= 15; i++ {
		h.record()
		h.drain()
		a := h.alerts[len(h.alerts)-1]
		if a.SuggestedMute != want[a.Phase] {
			t.Errorf("phase %d should suggest %v mute, got %v", a.Phase, want[a.Phase], a.SuggestedMute)
		}
		h.advance(5 * time.Second)
	}
}

func TestThrottler_QuietGapResets(t *testing.T) {
	h := newThrottleHarness()

	// Escalate to phase 2.
	for i := 0; i < 3; i++ {
		h.record()
		h.drain()
		h.advance(5 * time.Second)
	}
	if last := h.alerts[len(h.alerts)-1]; last.Phase != 2 {
		t.Fatalf("setup: expected phase 2, got %d", last.Phase)
	}

	// More than 30s of silence since the last shown alert.
	h.advance(phaseResetGap + time.Second)
	h.record()

	if last := h.alerts[len(h.alerts)-1]; last.Phase != 1 {
		t.Errorf("quiet gap must reset to phase 1, got %d", last.Phase)
	}
	if last := h.alerts[len(h.alerts)-1]; last.Count != 1 {
		t.Errorf("post-reset first event shows immediately with count 1, got %d", last.Count)
	}
}

func TestThrottler_PopupMuteSuppressesButCounts(t *testing.T) {
	h := newThrottleHarness()
	h.popupMute.Arm(time.Hour, h.now)

	// Three events under mute: nothing shown, counting continues.
	for i := 0; i < 3; i++ {
		h.record()
		h.drain()
		h.advance(5 * time.Second)
	}
	if len(h.alerts) != 0 {
		t.Fatalf("muted popups must not show, got %d alerts", len(h.alerts))
	}

	// Mute lifts; the next event surfaces at the escalated phase.
	h.popupMute.Disarm()
	h.record()
	h.drain()

	if len(h.alerts) != 1 {
		t.Fatalf("expected 1 alert after unmute, got %d", len(h.alerts))
	}
	if h.alerts[0].Phase != 2 {
		t.Errorf("counting under mute should have escalated to phase 2, got %d", h.alerts[0].Phase)
	}
}

func TestThrottler_PhaseTwoDelayAndWindow(t *testing.T) {
	if got := phaseDelay(2); got != 5*time.Second {
		t.Errorf("phase 2 delay = %v, want 5s", got)
	}
	if got := phaseDelay(3); got != 7*time.Second {
		t.Errorf("phase 3 delay = %v, want 7s", got)
	}
	if got := phaseDelay(4); got != 9*time.Second {
		t.Errorf("phase 4 delay = %v, want 9s", got)
	}
	if got := phaseWindow(2); got != 10*time.Second {
		t.Errorf("phase 2 window = %v, want 10s", got)
	}
	if got := phaseWindow(3); got != 15*time.Second {
		t.Errorf("phase 3 window = %v, want 15s", got)
	}
	if got := phaseWindow(4); got != 20*time.Second {
		t.Errorf("phase 4 window = %v, want 20s", got)
	}
}

func TestThrottler_MergeSlidesDeadlineUpToWindow(t *testing.T) {
	h := newThrottleHarness()

	// Get into phase 2 so delays are long enough to observe the slide.
	for i := 0; i < 3; i++ {
		h.record()
		h.drain()
		h.advance(5 * time.Second)
	}

	h.record() // opens phase-2 group (delay 5s)
	for i := 0; i < 4; i++ {
		h.advance(4 * time.Second)
		h.record() // each merge slides the deadline
	}

	// 16s elapsed since open; window cap is 10s, so the group is overdue.
	alertsBefore := len(h.alerts)
	h.th.Flush("mic-1")
	if len(h.alerts) != alertsBefore+1 {
		t.Fatalf("window cap must force the flush, alerts %d -> %d", alertsBefore, len(h.alerts))
	}
	if got := h.alerts[len(h.alerts)-1].Count; got != 5 {
		t.Errorf("merged group should count 5 events, got %d", got)
	}
}

func TestThrottler_EarlyTimerRearms(t *testing.T) {
	h := newThrottleHarness()

	h.record() // immediate
	h.advance(time.Second)
	h.record() // opens group, deadline now+2s

	timersBefore := len(h.timers)
	// Timer fires before the deadline (merge slid it): must re-arm, not show.
	h.advance(time.Second)
	h.record() // slides deadline
	h.th.Flush("mic-1")

	if len(h.alerts) != 1 {
		t.Fatalf("early flush must not show the group")
	}
	if len(h.timers) != timersBefore+1 {
		t.Fatalf("early flush must re-arm the timer")
	}
}
