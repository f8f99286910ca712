package main

import (
	"log/slog"
	"time"
)

// ============================================================================
// Enforcement Engine
// ============================================================================
// Decides, for each marshaled volume notification, whether the hardware gets
// written back to the frozen target. All methods run on the control loop
// goroutine (single-owner); the only cross-thread traffic is the deferred
// write timer, which posts an enforcePending event instead of touching state.
//
// The write path is paced to one hardware set per device per 16ms. A
// correction landing inside the window parks its target in a single pending
// slot; the timer drains whatever target is newest when it fires.
// ============================================================================

// deviceAccess is the slice of the registry the enforcer needs. Narrow so
// tests can substitute a mock.
type deviceAccess interface {
	Get(id string) (Device, bool)
	UpdateDisplayed(id string, volumeDB float64, muted bool) (Device, bool)
	SetEndpointVolume(id string, db float64) error
}

type enforceState struct {
	lastSetAt time.Time
	pending   bool
	timerSet  bool
}

type Enforcer struct {
	devices deviceAccess
	gate    *editGate
	pause   *Suppression
	logger  *slog.Logger

	// onDisplay fires on every accepted display update, onRestored on every
	// corrective write that landed.
	onDisplay  func(Device)
	onRestored func(Device)

	// schedule arranges an enforcePending event after d. Injected so tests
	// can capture timers instead of sleeping.
	schedule func(deviceID string, d time.Duration)

	nowFn func() time.Time

	states map[string]*enforceState
}

func NewEnforcer(devices deviceAccess, gate *editGate, pause *Suppression, logger *slog.Logger) *Enforcer {
	return &Enforcer{
		devices: devices,
		gate:    gate,
		pause:   pause,
		logger:  logger,
		nowFn:   time.Now,
		states:  make(map[string]*enforceState),
	}
}

func (e *Enforcer) OnDisplay(fn func(Device)) { e.onDisplay = fn }

func (e *Enforcer) OnRestored(fn func(Device)) { e.onRestored = fn }

func (e *Enforcer) SetScheduler(fn func(id string, d time.Duration)) { e.schedule = fn }

// Process handles one marshaled notification.
func (e *Enforcer) Process(deviceID string, newVolumeDB float64, muted bool) {
	dev, ok := e.devices.Get(deviceID)
	if !ok {
		return
	}

	suppressed := e.gate.Suppressed(deviceID)

	dev, ok = e.devices.UpdateDisplayed(deviceID, newVolumeDB, muted)
	if !ok {
		return
	}
	if e.onDisplay != nil {
		e.onDisplay(dev)
	}

	if suppressed {
		return
	}
	if !dev.Enforced || e.pause.Active(e.nowFn()) {
		return
	}
	if absDB(newVolumeDB-dev.FrozenTargetDB) <= enforceToleranceDB {
		return
	}

	e.correct(dev)
}

// correct issues or defers one paced write toward dev's frozen target.
func (e *Enforcer) correct(dev Device) {
	st, ok := e.states[dev.ID]
	if !ok {
		st = &enforceState{}
		e.states[dev.ID] = st
	}

	now := e.nowFn()
	if elapsed := now.Sub(st.lastSetAt); st.timerSet || elapsed < minDispatchInterval {
		st.pending = true
		if !st.timerSet && e.schedule != nil {
			st.timerSet = true
			wait := minDispatchInterval - elapsed
			if wait < 0 {
				wait = 0
			}
			e.schedule(dev.ID, wait)
		}
		return
	}

	st.lastSetAt = now
	e.write(dev)
}

// FlushPending runs when a deferred write window closes. Conditions are
// re-checked against current state: the device may have unfrozen, drifted
// back, or gone away while the timer was in flight.
func (e *Enforcer) FlushPending(deviceID string) {
	st, ok := e.states[deviceID]
	if !ok {
		return
	}
	st.timerSet = false
	if !st.pending {
		return
	}
	st.pending = false

	dev, ok := e.devices.Get(deviceID)
	if !ok {
		return
	}
	if e.gate.Suppressed(deviceID) || !dev.Enforced || e.pause.Active(e.nowFn()) {
		return
	}
	if absDB(dev.CurrentVolumeDB-dev.FrozenTargetDB) <= enforceToleranceDB {
		return
	}

	st.lastSetAt = e.nowFn()
	e.write(dev)
}

// write performs the hardware set and reports the restoration. A failure
// leaves state untouched for the next notification to retry.
func (e *Enforcer) write(dev Device) {
	target := clampDB(dev.FrozenTargetDB, dev.MinDB, dev.MaxDB)
	if err := e.devices.SetEndpointVolume(dev.ID, target); err != nil {
		e.logger.Warn("corrective volume set failed", "device", dev.ID, "target_db", target, "error", err)
		return
	}

	dev, ok := e.devices.UpdateDisplayed(dev.ID, target, dev.Muted)
	if !ok {
		return
	}
	if e.onDisplay != nil {
		e.onDisplay(dev)
	}
	if e.onRestored != nil {
		e.onRestored(dev)
	}
}

// ReEnforceAll walks every enforced device and corrects any that drifted.
// Called when a global pause lifts.
func (e *Enforcer) ReEnforceAll(devices []Device) {
	for _, dev := range devices {
		if !dev.Enforced || e.gate.Suppressed(dev.ID) {
			continue
		}
		if absDB(dev.CurrentVolumeDB-dev.FrozenTargetDB) <= enforceToleranceDB {
			continue
		}
		e.correct(dev)
	}
}

// Forget drops pacing state for a removed device.
func (e *Enforcer) Forget(deviceID string) {
	delete(e.states, deviceID)
}
