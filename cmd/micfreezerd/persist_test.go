package main

import (
	"testing"
	"time"
)

type debounceHarness struct {
	db       *Debouncer
	store    *SettingsStore
	now      time.Time
	timers   []SaveType
	selected []string
}

func newDebounceHarness(t *testing.T) *debounceHarness {
	h := &debounceHarness{
		store: openTestStore(t),
		now:   time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
	h.db = NewDebouncer(h.store, func() []string { return h.selected }, testLogger())
	h.db.nowFn = func() time.Time { return h.now }
	h.db.SetScheduler(func(st SaveType, d time.Duration) { h.timers = append(h.timers, st) })
	return h
}

func boolPtr(b bool) *bool { return &b }
func floatPtr(f float64) *float64 { return &f }

func TestDebouncer_ImmediateFlushesSynchronously(t *testing.T) {
	h := newDebounceHarness(t)
	h.selected = []string{"mic-1"}

	h.db.ScheduleUpdate("mic-1", boolPtr(true), floatPtr(-15), SaveImmediate)

	if db, ok := h.store.FrozenVolume("mic-1"); !ok || db != -15 {
		t.Fatalf("immediate save must hit the store, got (%v, %v)", db, ok)
	}
	if sel := h.store.SelectedDevices(); len(sel) != 1 || sel[0] != "mic-1" {
		t.Errorf("selection not written, got %v", sel)
	}
	if h.db.PendingCount() != 0 {
		t.Errorf("pending records must drain on immediate flush")
	}
}

func TestDebouncer_MergesPendingRecords(t *testing.T) {
	h := newDebounceHarness(t)
	h.selected = []string{"mic-1"}

	// Two partial updates for the same device merge into one record.
	h.db.ScheduleUpdate("mic-1", boolPtr(true), nil, SaveBatchUpdate)
	h.db.ScheduleUpdate("mic-1", nil, floatPtr(-22), SaveBatchUpdate)

	if h.db.PendingCount() != 1 {
		t.Fatalf("expected 1 merged pending record, got %d", h.db.PendingCount())
	}
	if _, ok := h.store.FrozenVolume("mic-1"); ok {
		t.Fatal("debounced save must not write before the delay")
	}

	h.now = h.now.Add(batchUpdateDelay + time.Millisecond)
	h.db.Flush(SaveBatchUpdate)

	if db, ok := h.store.FrozenVolume("mic-1"); !ok || db != -22 {
		t.Fatalf("merged record should carry the later volume, got (%v, %v)", db, ok)
	}
}

func TestDebouncer_LaterValueOverwrites(t *testing.T) {
	h := newDebounceHarness(t)
	h.selected = []string{"mic-1"}

	h.db.ScheduleUpdate("mic-1", boolPtr(true), floatPtr(-10), SaveContinuousEdit)
	h.db.ScheduleUpdate("mic-1", nil, floatPtr(-18), SaveContinuousEdit)

	h.now = h.now.Add(continuousEditDelay + time.Millisecond)
	h.db.Flush(SaveContinuousEdit)

	if db, _ := h.store.FrozenVolume("mic-1"); db != -18 {
		t.Errorf("later frozen value must win, got %v", db)
	}
}

func TestDebouncer_TimerRescheduledNotStacked(t *testing.T) {
	h := newDebounceHarness(t)

	h.db.ScheduleUpdate("mic-1", boolPtr(true), floatPtr(-10), SaveContinuousEdit)
	h.db.ScheduleUpdate("mic-2", boolPtr(true), floatPtr(-20), SaveContinuousEdit)

	if len(h.timers) != 1 {
		t.Fatalf("one save type must own one timer, got %d", len(h.timers))
	}

	// The second update pushed the deadline; an early fire re-arms.
	h.now = h.now.Add(continuousEditDelay / 2)
	h.db.ScheduleUpdate("mic-1", nil, floatPtr(-11), SaveContinuousEdit)
	h.db.Flush(SaveContinuousEdit)

	if h.db.PendingCount() != 2 {
		t.Fatalf("early fire must not flush, pending = %d", h.db.PendingCount())
	}
	if len(h.timers) != 2 {
		t.Fatalf("early fire must re-arm the timer, got %d arms", len(h.timers))
	}

	h.now = h.now.Add(continuousEditDelay + time.Millisecond)
	h.db.Flush(SaveContinuousEdit)
	if h.db.PendingCount() != 0 {
		t.Errorf("deadline flush must drain all pending records")
	}
}

func TestDebouncer_UnfreezeDeletesStoredTarget(t *testing.T) {
	h := newDebounceHarness(t)
	h.selected = []string{"mic-1"}
	h.db.ScheduleUpdate("mic-1", boolPtr(true), floatPtr(-15), SaveImmediate)

	// Unfreeze: selection drops, stored target is deleted even though a
	// frozen value rides in the same record.
	h.selected = nil
	h.db.ScheduleUpdate("mic-1", boolPtr(false), floatPtr(-15), SaveSingleDevice)

	if _, ok := h.store.FrozenVolume("mic-1"); ok {
		t.Error("unfreeze must delete the stored frozen target")
	}
	if sel := h.store.SelectedDevices(); sel != nil {
		t.Errorf("selection should be empty after unfreeze, got %v", sel)
	}
}

func TestDebouncer_SaveTypesIndependent(t *testing.T) {
	h := newDebounceHarness(t)

	h.db.ScheduleUpdate("mic-1", boolPtr(true), floatPtr(-10), SaveContinuousEdit)
	h.db.ScheduleUpdate("mic-2", boolPtr(true), floatPtr(-20), SaveBatchUpdate)

	if len(h.timers) != 2 {
		t.Fatalf("each save type arms its own timer, got %d", len(h.timers))
	}

	// The batch timer fires first and flushes everything pending.
	h.now = h.now.Add(batchUpdateDelay + time.Millisecond)
	h.db.Flush(SaveBatchUpdate)

	if h.db.PendingCount() != 0 {
		t.Errorf("flush writes all pending records regardless of save type")
	}
}
