package main

import (
	"context"
	"testing"
	"time"
)

// daemonHarness runs a full control loop against the simulated backend and a
// real badger store in a temp dir.
type daemonHarness struct {
	t       *testing.T
	daemon  *Daemon
	backend *SimulatedBackend
	store   *SettingsStore
	cancel  context.CancelFunc
}

func startDaemon(t *testing.T) *daemonHarness {
	t.Helper()

	store := openTestStore(t)
	backend := NewSimulatedBackend()
	backend.AddEndpoint("sim-mic-1", "Sim Mic", EndpointCapture, -60, 0, -12)

	cfg := DefaultConfig()
	cfg.Enforce.TickHz = 50 // fast housekeeping so expiry tests stay quick

	d := NewDaemon(cfg, store, backend, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Run(ctx) }()

	h := &daemonHarness{t: t, daemon: d, backend: backend, store: store, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		time.Sleep(20 * time.Millisecond) // let the loop flush and close
	})

	h.waitFor("initial rescan", func() bool { return len(d.Devices()) == 1 })
	return h
}

func (h *daemonHarness) waitFor(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *daemonHarness) submit(a Action) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.daemon.SubmitAction(ctx, a); err != nil {
		h.t.Fatalf("action %T failed: %v", a, err)
	}
}

func (h *daemonHarness) endpoint(id string) *SimulatedEndpoint {
	h.t.Helper()
	ep, err := h.backend.Open(id)
	if err != nil {
		h.t.Fatalf("open %s: %v", id, err)
	}
	return ep.(*SimulatedEndpoint)
}

func (h *daemonHarness) endpointVolume(id string) float64 {
	db, err := h.endpoint(id).VolumeLevel()
	if err != nil {
		h.t.Fatalf("read volume: %v", err)
	}
	return db
}

func TestDaemon_FreezeRevertsExternalChange(t *testing.T) {
	h := startDaemon(t)

	h.submit(SetEnforced{DeviceID: "sim-mic-1", Enforced: true})

	// Single-device saves are synchronous, so the target is persisted by the
	// time the action replies.
	if db, ok := h.store.FrozenVolume("sim-mic-1"); !ok || db != -12 {
		t.Fatalf("frozen target not persisted, got (%v, %v)", db, ok)
	}

	h.endpoint("sim-mic-1").SetVolumeExternally(-30)
	h.waitFor("corrective write", func() bool {
		return absDB(h.endpointVolume("sim-mic-1")-(-12)) <= enforceToleranceDB
	})

	if d := h.daemon.Devices()[0]; !d.Enforced || d.FrozenTargetDB != -12 {
		t.Errorf("device state after restore: %+v", d)
	}
}

func TestDaemon_RetargetMovesHardware(t *testing.T) {
	h := startDaemon(t)
	h.submit(SetEnforced{DeviceID: "sim-mic-1", Enforced: true})

	h.submit(SetFrozenTarget{DeviceID: "sim-mic-1", TargetDB: -24})
	h.waitFor("hardware at new target", func() bool {
		return absDB(h.endpointVolume("sim-mic-1")-(-24)) <= enforceToleranceDB
	})
}

func TestDaemon_UnfreezeStopsEnforcing(t *testing.T) {
	h := startDaemon(t)
	h.submit(SetEnforced{DeviceID: "sim-mic-1", Enforced: true})
	h.submit(SetEnforced{DeviceID: "sim-mic-1", Enforced: false})

	if _, ok := h.store.FrozenVolume("sim-mic-1"); ok {
		t.Fatal("unfreeze must delete the stored target")
	}

	h.endpoint("sim-mic-1").SetVolumeExternally(-40)
	time.Sleep(150 * time.Millisecond)
	if db := h.endpointVolume("sim-mic-1"); db != -40 {
		t.Errorf("unfrozen device must keep the external volume, got %v", db)
	}
}

func TestDaemon_PauseSuspendsAndResumeCorrects(t *testing.T) {
	h := startDaemon(t)
	h.submit(SetEnforced{DeviceID: "sim-mic-1", Enforced: true})

	h.submit(Pause{}) // indefinite
	h.endpoint("sim-mic-1").SetVolumeExternally(-35)
	time.Sleep(150 * time.Millisecond)
	if db := h.endpointVolume("sim-mic-1"); db != -35 {
		t.Fatalf("paused daemon must not correct, got %v", db)
	}

	h.submit(Resume{})
	h.waitFor("correction after resume", func() bool {
		return absDB(h.endpointVolume("sim-mic-1")-(-12)) <= enforceToleranceDB
	})
}

func TestDaemon_EditBracketAdoptsNewTarget(t *testing.T) {
	h := startDaemon(t)
	h.submit(SetEnforced{DeviceID: "sim-mic-1", Enforced: true})

	h.submit(BeginEdit{DeviceID: "sim-mic-1"})
	h.endpoint("sim-mic-1").SetVolumeExternally(-20)

	// Mid-edit changes must reach the displayed model without being fought.
	h.waitFor("display follows the edit", func() bool {
		devs := h.daemon.Devices()
		return len(devs) == 1 && devs[0].CurrentVolumeDB == -20
	})
	if db := h.endpointVolume("sim-mic-1"); db != -20 {
		t.Fatalf("edit must not be corrected, hardware at %v", db)
	}

	h.submit(EndEdit{DeviceID: "sim-mic-1"})
	if d := h.daemon.Devices()[0]; d.FrozenTargetDB != -20 {
		t.Errorf("end of edit adopts the dragged volume as target, got %v", d.FrozenTargetDB)
	}

	// The adopted target is what gets enforced now.
	h.endpoint("sim-mic-1").SetVolumeExternally(-5)
	h.waitFor("enforcement of adopted target", func() bool {
		return absDB(h.endpointVolume("sim-mic-1")-(-20)) <= enforceToleranceDB
	})
}

func TestDaemon_HotPlugRestoresFreeze(t *testing.T) {
	h := startDaemon(t)
	h.submit(SetEnforced{DeviceID: "sim-mic-1", Enforced: true})

	h.backend.RemoveEndpoint("sim-mic-1")
	h.waitFor("device removal", func() bool { return len(h.daemon.Devices()) == 0 })

	// Selection and target survive the absence.
	if db, ok := h.store.FrozenVolume("sim-mic-1"); !ok || db != -12 {
		t.Fatalf("stored target lost on unplug, got (%v, %v)", db, ok)
	}

	// Device comes back at the wrong volume; the freeze re-attaches and the
	// daemon walks it back to the stored target.
	h.backend.AddEndpoint("sim-mic-1", "Sim Mic", EndpointCapture, -60, 0, -33)
	h.waitFor("re-freeze on re-plug", func() bool {
		devs := h.daemon.Devices()
		return len(devs) == 1 && devs[0].Enforced && devs[0].FrozenTargetDB == -12
	})
	h.waitFor("correction to stored target", func() bool {
		return absDB(h.endpointVolume("sim-mic-1")-(-12)) <= enforceToleranceDB
	})
}

func TestDaemon_SecondDeviceIndependent(t *testing.T) {
	h := startDaemon(t)
	h.backend.AddEndpoint("sim-mic-2", "Other Mic", EndpointCapture, -60, 0, -6)
	h.waitFor("second device", func() bool { return len(h.daemon.Devices()) == 2 })

	h.submit(SetEnforced{DeviceID: "sim-mic-1", Enforced: true})

	h.endpoint("sim-mic-2").SetVolumeExternally(-50)
	time.Sleep(150 * time.Millisecond)
	if db := h.endpointVolume("sim-mic-2"); db != -50 {
		t.Errorf("unfrozen second device must be untouched, got %v", db)
	}
}
