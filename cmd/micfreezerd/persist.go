package main

import (
	"log/slog"
	"time"
)

// ============================================================================
// Persistence Debouncer
// ============================================================================
// Batches settings-store writes so a slider drag does not hammer badger.
// One pending record per device; later updates overwrite field-wise. Each
// debounced save type owns a single conceptual timer that is rescheduled,
// never stacked. Runs on the control loop goroutine; timers post persistFlush
// events back to the loop.
// ============================================================================

// SaveType selects how urgently a scheduled update is written.
type SaveType int

const (
	// SaveImmediate flushes everything synchronously (shutdown, device
	// removal).
	SaveImmediate SaveType = iota
	// SaveSingleDevice flushes now through the normal merge path (freeze
	// toggles).
	SaveSingleDevice
	// SaveContinuousEdit debounces 500ms (slider drags).
	SaveContinuousEdit
	// SaveBatchUpdate debounces 200ms (multi-device sweeps).
	SaveBatchUpdate
)

func (s SaveType) String() string {
	switch s {
	case SaveImmediate:
		return "immediate"
	case SaveSingleDevice:
		return "single_device"
	case SaveContinuousEdit:
		return "continuous_edit"
	case SaveBatchUpdate:
		return "batch_update"
	default:
		return "unknown"
	}
}

func (s SaveType) delay() time.Duration {
	switch s {
	case SaveContinuousEdit:
		return continuousEditDelay
	case SaveBatchUpdate:
		return batchUpdateDelay
	default:
		return 0
	}
}

// pendingRecord accumulates the not-yet-written state for one device.
type pendingRecord struct {
	selected *bool
	frozenDB *float64
}

type debounceTimer struct {
	deadline time.Time
	armed    bool
}

type Debouncer struct {
	store  *SettingsStore
	logger *slog.Logger

	// selectedIDs returns the current enforced-device set, written under the
	// "selected" key on every flush.
	selectedIDs func() []string

	schedule func(saveType SaveType, d time.Duration)
	nowFn    func() time.Time

	pending map[string]*pendingRecord
	timers  map[SaveType]*debounceTimer
}

func NewDebouncer(store *SettingsStore, selectedIDs func() []string, logger *slog.Logger) *Debouncer {
	return &Debouncer{
		store:       store,
		logger:      logger,
		selectedIDs: selectedIDs,
		nowFn:       time.Now,
		pending:     make(map[string]*pendingRecord),
		timers:      make(map[SaveType]*debounceTimer),
	}
}

func (d *Debouncer) SetScheduler(fn func(saveType SaveType, dur time.Duration)) { d.schedule = fn }

// ScheduleUpdate queues a settings write for one device. Nil fields leave the
// pending value untouched; non-nil fields overwrite it.
func (d *Debouncer) ScheduleUpdate(deviceID string, selected *bool, frozenDB *float64, saveType SaveType) {
	rec, ok := d.pending[deviceID]
	if !ok {
		rec = &pendingRecord{}
		d.pending[deviceID] = rec
	}
	if selected != nil {
		rec.selected = selected
	}
	if frozenDB != nil {
		rec.frozenDB = frozenDB
	}

	switch saveType {
	case SaveImmediate, SaveSingleDevice:
		d.FlushAll()
	default:
		d.arm(saveType)
	}
}

// arm starts or reschedules the timer for one save type.
func (d *Debouncer) arm(saveType SaveType) {
	t, ok := d.timers[saveType]
	if !ok {
		t = &debounceTimer{}
		d.timers[saveType] = t
	}
	delay := saveType.delay()
	t.deadline = d.nowFn().Add(delay)
	if t.armed {
		return
	}
	t.armed = true
	if d.schedule != nil {
		d.schedule(saveType, delay)
	}
}

// Flush handles a persistFlush event. A reschedule may have pushed the
// deadline past the timer that fired; re-arm for the remainder instead of
// writing early.
func (d *Debouncer) Flush(saveType SaveType) {
	t, ok := d.timers[saveType]
	if !ok || !t.armed {
		return
	}
	now := d.nowFn()
	if now.Before(t.deadline) {
		if d.schedule != nil {
			d.schedule(saveType, t.deadline.Sub(now))
		}
		return
	}
	t.armed = false
	d.FlushAll()
}

// FlushAll writes every pending record and the selection set. Store failures
// are logged; the in-memory state stays authoritative and the records are
// dropped rather than retried.
func (d *Debouncer) FlushAll() {
	if len(d.pending) == 0 {
		return
	}

	for id, rec := range d.pending {
		if rec.selected != nil && !*rec.selected {
			if err := d.store.DeleteFrozenVolume(id); err != nil {
				d.logger.Warn("settings delete failed", "device", id, "error", err)
			}
			continue
		}
		if rec.frozenDB != nil {
			if err := d.store.SetFrozenVolume(id, *rec.frozenDB); err != nil {
				d.logger.Warn("settings write failed", "device", id, "error", err)
			}
		}
	}
	d.pending = make(map[string]*pendingRecord)

	if err := d.store.SetSelectedDevices(d.selectedIDs()); err != nil {
		d.logger.Warn("selection write failed", "error", err)
	}
}

// PendingCount reports how many device records await flushing.
func (d *Debouncer) PendingCount() int {
	return len(d.pending)
}
