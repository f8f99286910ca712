package main

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Device Registry
// ============================================================================
// Owns the live device table: one entry per present endpoint, each carrying
// its native handle and the generation of the enumeration pass that produced
// it. Endpoint callbacks registered by an older pass check their generation
// before forwarding, so a handle replaced by a rescan goes silent instead of
// injecting stale notifications. Replaced handles are closed off-thread by a
// reaper goroutine because a native Close can block on the callback it is
// tearing down.
// ============================================================================

// Device is the UI-visible model of one endpoint.
type Device struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Kind            string  `json:"kind"`
	CurrentVolumeDB float64 `json:"current_volume_db"`
	MinDB           float64 `json:"min_db"`
	MaxDB           float64 `json:"max_db"`
	StepDB          float64 `json:"step_db"`
	Muted           bool    `json:"muted"`
	Enforced        bool    `json:"enforced"`
	FrozenTargetDB  float64 `json:"frozen_target_db"`
}

// RegistryObserver is notified of membership changes. Replaces the
// static-hook pattern: observers are injected, never looked up.
type RegistryObserver interface {
	DeviceAdded(d Device)
	DeviceRemoved(d Device)
}

type deviceEntry struct {
	dev      Device
	endpoint AudioEndpoint
	gen      uint64
}

// RescanResult lists what one enumeration pass changed.
type RescanResult struct {
	Added   []Device
	Removed []Device
}

type Registry struct {
	backend  Backend
	logger   *slog.Logger
	notify   func(deviceID string, volumeDB float64, muted bool)
	observer RegistryObserver

	mu      sync.Mutex
	entries map[string]*deviceEntry
	gen     uint64

	scanning atomic.Bool
	reapCh   chan AudioEndpoint
	done     chan struct{}
}

// NewRegistry creates a registry. notify receives raw endpoint callbacks
// (dispatcher input); it is invoked on backend-owned goroutines.
func NewRegistry(backend Backend, notify func(deviceID string, volumeDB float64, muted bool), logger *slog.Logger) *Registry {
	r := &Registry{
		backend: backend,
		logger:  logger,
		notify:  notify,
		entries: make(map[string]*deviceEntry),
		reapCh:  make(chan AudioEndpoint, 32),
		done:    make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

func (r *Registry) SetObserver(obs RegistryObserver) {
	r.mu.Lock()
	r.observer = obs
	r.mu.Unlock()
}

// reapLoop closes retired endpoint handles away from the control loop.
func (r *Registry) reapLoop() {
	for {
		select {
		case ep := <-r.reapCh:
			if err := ep.Close(); err != nil {
				r.logger.Debug("endpoint close failed", "error", err)
			}
		case <-r.done:
			return
		}
	}
}

func (r *Registry) retire(ep AudioEndpoint) {
	select {
	case r.reapCh <- ep:
	default:
		// Reaper backed up; close inline rather than leak the handle.
		_ = ep.Close()
	}
}

// Rescan runs one enumeration pass. Single-flight: a call arriving while a
// pass is in flight returns (zero result, false) and is dropped, not queued.
// The next hot-plug event triggers a fresh pass anyway.
func (r *Registry) Rescan() (RescanResult, bool) {
	if !r.scanning.CompareAndSwap(false, true) {
		return RescanResult{}, false
	}
	defer r.scanning.Store(false)

	descs, err := r.backend.Enumerate()
	if err != nil {
		r.logger.Warn("device enumeration failed", "error", err)
		return RescanResult{}, true
	}

	present := make(map[string]EndpointDescriptor, len(descs))
	for _, d := range descs {
		present[d.ID] = d
	}

	var res RescanResult

	r.mu.Lock()
	r.gen++
	gen := r.gen
	obs := r.observer

	// Drop departed devices first so their handles stop mattering.
	for id, e := range r.entries {
		if _, ok := present[id]; ok {
			e.gen = gen
			continue
		}
		res.Removed = append(res.Removed, e.dev)
		r.retire(e.endpoint)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, desc := range descs {
		r.mu.Lock()
		_, exists := r.entries[desc.ID]
		r.mu.Unlock()
		if exists {
			continue
		}

		dev, entry, err := r.openEntry(desc, gen)
		if err != nil {
			r.logger.Warn("endpoint open failed", "device", desc.ID, "error", err)
			continue
		}

		r.mu.Lock()
		r.entries[desc.ID] = entry
		r.mu.Unlock()

		r.watchEndpoint(desc.ID, entry.endpoint, gen)
		res.Added = append(res.Added, dev)
	}

	sort.Slice(res.Added, func(i, j int) bool { return res.Added[i].ID < res.Added[j].ID })
	sort.Slice(res.Removed, func(i, j int) bool { return res.Removed[i].ID < res.Removed[j].ID })

	if obs != nil {
		for _, d := range res.Removed {
			obs.DeviceRemoved(d)
		}
		for _, d := range res.Added {
			obs.DeviceAdded(d)
		}
	}
	return res, true
}

func (r *Registry) openEntry(desc EndpointDescriptor, gen uint64) (Device, *deviceEntry, error) {
	ep, err := r.backend.Open(desc.ID)
	if err != nil {
		return Device{}, nil, err
	}
	vol, err := ep.VolumeLevel()
	if err != nil {
		r.retire(ep)
		return Device{}, nil, fmt.Errorf("read volume: %w", err)
	}
	muted, err := ep.Muted()
	if err != nil {
		r.retire(ep)
		return Device{}, nil, fmt.Errorf("read mute: %w", err)
	}
	minDB, maxDB, stepDB := ep.VolumeRange()

	dev := Device{
		ID:              desc.ID,
		Name:            desc.Name,
		Kind:            string(desc.Kind),
		CurrentVolumeDB: vol,
		MinDB:           minDB,
		MaxDB:           maxDB,
		StepDB:          stepDB,
		Muted:           muted,
	}
	return dev, &deviceEntry{dev: dev, endpoint: ep, gen: gen}, nil
}

// watchEndpoint registers the change callback for one handle. The captured
// generation makes callbacks from a replaced handle self-silencing.
func (r *Registry) watchEndpoint(id string, ep AudioEndpoint, gen uint64) {
	ep.OnVolumeOrMuteChanged(func(volumeDB float64, muted bool) {
		r.mu.Lock()
		e, ok := r.entries[id]
		stale := !ok || e.gen != gen
		r.mu.Unlock()
		if stale {
			return
		}
		r.notify(id, volumeDB, muted)
	})
}

// Get returns a snapshot of one device. Unknown IDs report ok=false; callers
// treat that as a no-op per the stale-ID rule.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Device{}, false
	}
	return e.dev, true
}

// List returns snapshots of all devices, ordered by ID.
func (r *Registry) List() []Device {
	r.mu.Lock()
	out := make([]Device, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.dev)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateDisplayed records the observed volume/mute without touching hardware.
func (r *Registry) UpdateDisplayed(id string, volumeDB float64, muted bool) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Device{}, false
	}
	e.dev.CurrentVolumeDB = volumeDB
	e.dev.Muted = muted
	return e.dev, true
}

// SetEnforced freezes or unfreezes a device. When freezing, storedTarget (if
// non-nil) seeds the frozen target; otherwise the live displayed volume is
// captured. The target is clamped to the device's range either way.
func (r *Registry) SetEnforced(id string, enforced bool, storedTarget *float64) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Device{}, false
	}
	e.dev.Enforced = enforced
	if enforced {
		target := e.dev.CurrentVolumeDB
		if storedTarget != nil {
			target = *storedTarget
		}
		e.dev.FrozenTargetDB = clampDB(target, e.dev.MinDB, e.dev.MaxDB)
	} else {
		e.dev.FrozenTargetDB = 0
	}
	return e.dev, true
}

// SetFrozenTarget updates the frozen target, clamped to range. Only
// meaningful while enforced; callers may still set it ahead of freezing.
func (r *Registry) SetFrozenTarget(id string, targetDB float64) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Device{}, false
	}
	e.dev.FrozenTargetDB = clampDB(targetDB, e.dev.MinDB, e.dev.MaxDB)
	return e.dev, true
}

// SetEndpointVolume writes to hardware. The echo arrives later through the
// normal callback path; the displayed volume is updated optimistically by the
// caller, not here.
func (r *Registry) SetEndpointVolume(id string, db float64) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("device %s not present", id)
	}
	return e.endpoint.SetVolumeLevel(db)
}

// SetEndpointMuted writes the mute state to hardware.
func (r *Registry) SetEndpointMuted(id string, muted bool) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("device %s not present", id)
	}
	return e.endpoint.SetMuted(muted)
}

// Close retires every handle and stops the reaper.
func (r *Registry) Close() {
	r.mu.Lock()
	for id, e := range r.entries {
		_ = e.endpoint.Close()
		delete(r.entries, id)
	}
	r.mu.Unlock()
	close(r.done)
}

func clampDB(db, minDB, maxDB float64) float64 {
	if db < minDB {
		return minDB
	}
	if db > maxDB {
		return maxDB
	}
	return db
}
