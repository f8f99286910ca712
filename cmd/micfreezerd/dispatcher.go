package main

import (
	"sync"
	"time"
)

// ============================================================================
// Notification Dispatcher
// ============================================================================
// Sits between raw endpoint callbacks (backend goroutines) and the control
// loop. Two stages, both per-device:
//
//   coalesce: a callback closer than 50ms to the last forwarded one, moving
//   the volume by less than 0.5dB, is noise (driver chatter, our own echo
//   ramps) and is dropped before it costs anything.
//
//   marshal: forwarded changes reach the control loop at most once per 16ms
//   per device. A change landing inside the window parks in a single
//   latest-value slot; replacing the slot never schedules a second timer.
//
// Per-device ordering is preserved because collapse keeps only the newest
// value. There is no ordering across devices.
// ============================================================================

type dispatcherEntry struct {
	lastForward  time.Time
	lastVolumeDB float64
	seen         bool

	lastDispatch time.Time
	pending      *volumeNotification
	timerSet     bool
}

type Dispatcher struct {
	mu      sync.Mutex
	entries map[string]*dispatcherEntry
	emit    func(volumeNotification)
}

// NewDispatcher creates a dispatcher. emit posts onto the control loop's
// event channel; it must not block for long.
func NewDispatcher(emit func(volumeNotification)) *Dispatcher {
	return &Dispatcher{
		entries: make(map[string]*dispatcherEntry),
		emit:    emit,
	}
}

// Notify accepts one raw endpoint callback. Safe from any goroutine.
func (d *Dispatcher) Notify(deviceID string, volumeDB float64, muted bool) {
	now := time.Now()

	d.mu.Lock()
	e, ok := d.entries[deviceID]
	if !ok {
		e = &dispatcherEntry{}
		d.entries[deviceID] = e
	}

	if e.seen &&
		now.Sub(e.lastForward) < coalesceWindow &&
		absDB(volumeDB-e.lastVolumeDB) < coalesceThresholdDB {
		d.mu.Unlock()
		return
	}
	e.seen = true
	e.lastForward = now
	e.lastVolumeDB = volumeDB

	d.marshalLocked(e, volumeNotification{DeviceID: deviceID, VolumeDB: volumeDB, Muted: muted}, now)
	d.mu.Unlock()
}

// marshalLocked applies the 16ms per-device ceiling. Caller holds d.mu.
func (d *Dispatcher) marshalLocked(e *dispatcherEntry, n volumeNotification, now time.Time) {
	elapsed := now.Sub(e.lastDispatch)
	if !e.timerSet && elapsed >= minDispatchInterval {
		e.lastDispatch = now
		d.emit(n)
		return
	}

	e.pending = &n
	if e.timerSet {
		return
	}
	e.timerSet = true
	wait := minDispatchInterval - elapsed
	if wait < 0 {
		wait = 0
	}
	time.AfterFunc(wait, func() { d.flush(n.DeviceID) })
}

// flush delivers the parked value when the window closes.
func (d *Dispatcher) flush(deviceID string) {
	d.mu.Lock()
	e, ok := d.entries[deviceID]
	if !ok || e.pending == nil {
		if ok {
			e.timerSet = false
		}
		d.mu.Unlock()
		return
	}
	n := *e.pending
	e.pending = nil
	e.timerSet = false
	e.lastDispatch = time.Now()
	d.mu.Unlock()

	d.emit(n)
}

// Forget drops tracking state for a removed device.
func (d *Dispatcher) Forget(deviceID string) {
	d.mu.Lock()
	delete(d.entries, deviceID)
	d.mu.Unlock()
}

func absDB(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
