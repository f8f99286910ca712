package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// ============================================================================
// Control Loop
// ============================================================================
// One goroutine owns every piece of mutable pipeline state: the edit gate,
// enforcement pacing, throttle phases, pending persistence, and the
// suppression windows. Everything else (IPC handlers, endpoint callbacks,
// timers) posts controlEvents onto the daemon's channel and lets the loop do
// the mutation. This is intended to be called only by the daemon goroutine
// (single-owner); the registry is the one mutex-guarded exception because
// backend callbacks read it.
// ============================================================================

// SuppressionSnapshot is the UI-visible view of the two global gates.
type SuppressionSnapshot struct {
	Paused     bool       `json:"paused"`
	PauseUntil *time.Time `json:"pause_until,omitempty"`
	PopupMuted bool       `json:"popup_muted"`
	MuteUntil  *time.Time `json:"mute_until,omitempty"`
}

// statePublisher receives UI projection updates. Implemented by the
// websocket hub; nil-safe so tests can run a daemon without one.
type statePublisher interface {
	PublishDeviceChanged(d Device)
	PublishDeviceRemoved(d Device)
	PublishAlert(a Alert)
	PublishSuppression(s SuppressionSnapshot)
	SetSnapshot(devices []Device, sup SuppressionSnapshot)
}

type Daemon struct {
	cfg    Config
	logger *slog.Logger

	store      *SettingsStore
	registry   *Registry
	dispatcher *Dispatcher
	gate       *editGate
	enforcer   *Enforcer
	throttler  *Throttler
	debouncer  *Debouncer
	publisher  statePublisher

	pause     Suppression
	popupMute Suppression

	// selected remembers which devices the user froze, present or not, so an
	// unplugged device comes back frozen at its stored target.
	selected map[string]bool

	events chan controlEvent
}

func NewDaemon(cfg Config, store *SettingsStore, backend Backend, publisher statePublisher, logger *slog.Logger) *Daemon {
	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		publisher: publisher,
		gate:      newEditGate(),
		selected:  make(map[string]bool),
		events:    make(chan controlEvent, defaultEventBufSize),
	}

	d.dispatcher = NewDispatcher(func(n volumeNotification) { d.post(n) })
	d.registry = NewRegistry(backend, d.dispatcher.Notify, logger)

	d.enforcer = NewEnforcer(d.registry, d.gate, &d.pause, logger)
	d.enforcer.SetScheduler(func(id string, dur time.Duration) {
		time.AfterFunc(dur, func() { d.post(enforcePending{DeviceID: id}) })
	})
	d.enforcer.OnDisplay(func(dev Device) {
		if d.publisher != nil {
			d.publisher.PublishDeviceChanged(dev)
		}
	})
	d.enforcer.OnRestored(func(dev Device) {
		d.logger.Info("volume restored", "device", dev.ID, "target_db", dev.FrozenTargetDB)
		d.throttler.Record(dev)
	})

	d.throttler = NewThrottler(&d.popupMute, logger)
	d.throttler.SetScheduler(func(id string, dur time.Duration) {
		time.AfterFunc(dur, func() { d.post(alertFlush{DeviceID: id}) })
	})
	d.throttler.OnAlert(func(a Alert) {
		if d.publisher != nil {
			d.publisher.PublishAlert(a)
		}
	})

	d.debouncer = NewDebouncer(store, d.selectedIDs, logger)
	d.debouncer.SetScheduler(func(st SaveType, dur time.Duration) {
		time.AfterFunc(dur, func() { d.post(persistFlush{SaveType: st}) })
	})

	backend.OnDevicesChanged(func() { d.post(endpointsChanged{}) })

	d.restore()
	return d
}

// restore loads persisted selection and suppression state. Device targets
// are applied per-device when rescans bring the devices in.
func (d *Daemon) restore() {
	for _, id := range d.store.SelectedDevices() {
		if id != "" {
			d.selected[id] = true
		}
	}

	now := time.Now()
	if until, ok := d.store.Suppression(SuppressPause); ok {
		if until == nil || until.After(now) {
			d.pause.ArmUntil(until)
		} else {
			_ = d.store.ClearSuppression(SuppressPause)
		}
	}
	if until, ok := d.store.Suppression(SuppressPopupMute); ok {
		if until == nil || until.After(now) {
			d.popupMute.ArmUntil(until)
		} else {
			_ = d.store.ClearSuppression(SuppressPopupMute)
		}
	}
}

// selectedIDs is the debouncer's view of the selection set. It includes
// absent devices on purpose.
func (d *Daemon) selectedIDs() []string {
	ids := make([]string, 0, len(d.selected))
	for id := range d.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// post delivers an event to the control loop. Blocks if the loop is behind;
// the buffer absorbs normal bursts.
func (d *Daemon) post(ev controlEvent) {
	d.events <- ev
}

// SubmitAction hands an action to the control loop and waits for it to be
// applied. Safe from any goroutine; this is the IPC entry point.
func (d *Daemon) SubmitAction(ctx context.Context, a Action) error {
	reply := make(chan error, 1)
	select {
	case d.events <- actionEvent{action: a, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Devices returns a snapshot of the device table for read-only surfaces.
func (d *Daemon) Devices() []Device {
	return d.registry.List()
}

// Run executes the control loop until ctx is cancelled. The initial rescan
// happens here so all state mutation stays on this goroutine.
func (d *Daemon) Run(ctx context.Context) error {
	d.rescan()
	d.publishSnapshot()

	tickInterval := time.Second / time.Duration(d.cfg.Enforce.TickHz)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	d.logger.Info("control loop running", "tick_interval", tickInterval)

	for {
		select {
		case <-ctx.Done():
			d.debouncer.FlushAll()
			d.registry.Close()
			d.logger.Info("control loop stopped")
			return ctx.Err()

		case ev := <-d.events:
			d.handleEvent(ev)

		case <-ticker.C:
			d.handleTick()
		}
	}
}

func (d *Daemon) handleEvent(ev controlEvent) {
	switch e := ev.(type) {
	case actionEvent:
		err := d.applyAction(e.action)
		if e.reply != nil {
			e.reply <- err
		}
	case volumeNotification:
		d.enforcer.Process(e.DeviceID, e.VolumeDB, e.Muted)
	case endpointsChanged:
		d.rescan()
	case enforcePending:
		d.enforcer.FlushPending(e.DeviceID)
	case alertFlush:
		d.throttler.Flush(e.DeviceID)
	case persistFlush:
		d.debouncer.Flush(e.SaveType)
	case tick:
		d.handleTick()
	default:
		d.logger.Warn("unknown control event", "event", fmt.Sprintf("%T", ev))
	}
}

func (d *Daemon) handleTick() {
	d.expireSuppressions()
	d.throttler.Tick()
}

// expireSuppressions performs the lazy expiry sweep and tells the UI when a
// window lapses on its own.
func (d *Daemon) expireSuppressions() {
	now := time.Now()
	pauseWas := d.pause.armed
	muteWas := d.popupMute.armed

	pauseActive := d.pause.Active(now)
	muteActive := d.popupMute.Active(now)

	changed := false
	if pauseWas && !pauseActive {
		d.logger.Info("enforcement pause expired")
		_ = d.store.ClearSuppression(SuppressPause)
		d.enforcer.ReEnforceAll(d.registry.List())
		changed = true
	}
	if muteWas && !muteActive {
		d.logger.Info("popup mute expired")
		_ = d.store.ClearSuppression(SuppressPopupMute)
		changed = true
	}
	if changed {
		d.publishSuppression()
	}
}

func (d *Daemon) applyAction(a Action) error {
	switch act := a.(type) {
	case SetEnforced:
		return d.applySetEnforced(act)
	case SetFrozenTarget:
		return d.applySetTarget(act.DeviceID, act.TargetDB, SaveContinuousEdit)
	case SetFrozenToMax:
		dev, ok := d.registry.Get(act.DeviceID)
		if !ok {
			return fmt.Errorf("unknown device %s", act.DeviceID)
		}
		return d.applySetTarget(act.DeviceID, dev.MaxDB, SaveSingleDevice)
	case SetMuted:
		if err := d.registry.SetEndpointMuted(act.DeviceID, act.Muted); err != nil {
			d.logger.Warn("mute set failed", "device", act.DeviceID, "error", err)
			return err
		}
		return nil
	case BeginEdit:
		d.gate.BeginEdit(act.DeviceID)
		return nil
	case EndEdit:
		return d.applyEndEdit(act.DeviceID)
	case Pause:
		d.armSuppression(&d.pause, SuppressPause, act.Seconds)
		d.logger.Info("enforcement paused", "seconds", act.Seconds)
		return nil
	case Resume:
		d.pause.Disarm()
		_ = d.store.ClearSuppression(SuppressPause)
		d.publishSuppression()
		d.enforcer.ReEnforceAll(d.registry.List())
		d.logger.Info("enforcement resumed")
		return nil
	case MutePopups:
		d.armSuppression(&d.popupMute, SuppressPopupMute, act.Seconds)
		d.logger.Info("popups muted", "seconds", act.Seconds)
		return nil
	case UnmutePopups:
		d.popupMute.Disarm()
		_ = d.store.ClearSuppression(SuppressPopupMute)
		d.publishSuppression()
		return nil
	case Rescan:
		d.rescan()
		return nil
	default:
		return fmt.Errorf("unknown action %T", a)
	}
}

func (d *Daemon) applySetEnforced(act SetEnforced) error {
	if !act.Enforced {
		dev, ok := d.registry.SetEnforced(act.DeviceID, false, nil)
		if !ok {
			return fmt.Errorf("unknown device %s", act.DeviceID)
		}
		delete(d.selected, act.DeviceID)
		sel := false
		d.debouncer.ScheduleUpdate(act.DeviceID, &sel, nil, SaveSingleDevice)
		d.publishDevice(dev)
		return nil
	}

	// Freezing adopts the stored target when one survives from a previous
	// session, else captures the live volume.
	var stored *float64
	if db, ok := d.store.FrozenVolume(act.DeviceID); ok {
		stored = &db
	}
	dev, ok := d.registry.SetEnforced(act.DeviceID, true, stored)
	if !ok {
		return fmt.Errorf("unknown device %s", act.DeviceID)
	}
	d.selected[act.DeviceID] = true
	sel := true
	target := dev.FrozenTargetDB
	d.debouncer.ScheduleUpdate(act.DeviceID, &sel, &target, SaveSingleDevice)
	d.publishDevice(dev)
	d.enforcer.ReEnforceAll([]Device{dev})
	return nil
}

func (d *Daemon) applySetTarget(deviceID string, targetDB float64, saveType SaveType) error {
	dev, ok := d.registry.SetFrozenTarget(deviceID, targetDB)
	if !ok {
		return fmt.Errorf("unknown device %s", deviceID)
	}
	if dev.Enforced {
		target := dev.FrozenTargetDB
		d.debouncer.ScheduleUpdate(deviceID, nil, &target, saveType)
		d.enforcer.ReEnforceAll([]Device{dev})
	}
	d.publishDevice(dev)
	return nil
}

// applyEndEdit closes an interactive edit. The displayed volume the user
// dragged to becomes the new frozen target; that is the whole point of the
// edit bracket.
func (d *Daemon) applyEndEdit(deviceID string) error {
	d.gate.EndEdit(deviceID)
	dev, ok := d.registry.Get(deviceID)
	if !ok {
		return nil
	}
	if dev.Enforced {
		return d.applySetTarget(deviceID, dev.CurrentVolumeDB, SaveContinuousEdit)
	}
	d.publishDevice(dev)
	return nil
}

func (d *Daemon) armSuppression(s *Suppression, kind SuppressionKind, seconds int) {
	now := time.Now()
	s.Arm(time.Duration(seconds)*time.Second, now)
	if s.Indefinite() {
		_ = d.store.SetSuppression(kind, nil)
	} else {
		_ = d.store.SetSuppression(kind, s.Deadline())
	}
	d.publishSuppression()
}

// rescan runs one enumeration pass and reconciles pipeline state with the
// result.
func (d *Daemon) rescan() {
	res, ran := d.registry.Rescan()
	if !ran {
		return
	}

	for _, dev := range res.Removed {
		// Persist the freeze before forgetting the device so a re-plug
		// restores it.
		if dev.Enforced {
			sel := true
			target := dev.FrozenTargetDB
			d.debouncer.ScheduleUpdate(dev.ID, &sel, &target, SaveImmediate)
		}
		d.dispatcher.Forget(dev.ID)
		d.enforcer.Forget(dev.ID)
		d.throttler.Forget(dev.ID)
		d.gate.Forget(dev.ID)
		d.logger.Info("device removed", "device", dev.ID, "name", dev.Name)
		if d.publisher != nil {
			d.publisher.PublishDeviceRemoved(dev)
		}
	}

	for _, dev := range res.Added {
		d.logger.Info("device added", "device", dev.ID, "name", dev.Name)
		if d.selected[dev.ID] {
			var stored *float64
			if db, ok := d.store.FrozenVolume(dev.ID); ok {
				stored = &db
			}
			if frozen, ok := d.registry.SetEnforced(dev.ID, true, stored); ok {
				dev = frozen
				d.enforcer.ReEnforceAll([]Device{dev})
			}
		}
		d.publishDevice(dev)
	}

	if len(res.Added) > 0 || len(res.Removed) > 0 {
		d.publishSnapshot()
	}
}

func (d *Daemon) suppressionSnapshot() SuppressionSnapshot {
	now := time.Now()
	return SuppressionSnapshot{
		Paused:     d.pause.Active(now),
		PauseUntil: d.pause.Deadline(),
		PopupMuted: d.popupMute.Active(now),
		MuteUntil:  d.popupMute.Deadline(),
	}
}

func (d *Daemon) publishDevice(dev Device) {
	if d.publisher != nil {
		d.publisher.PublishDeviceChanged(dev)
	}
}

func (d *Daemon) publishSuppression() {
	if d.publisher != nil {
		sup := d.suppressionSnapshot()
		d.publisher.PublishSuppression(sup)
		d.publisher.SetSnapshot(d.registry.List(), sup)
	}
}

func (d *Daemon) publishSnapshot() {
	if d.publisher != nil {
		d.publisher.SetSnapshot(d.registry.List(), d.suppressionSnapshot())
	}
}
