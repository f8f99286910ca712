package main

import (
	"fmt"
	"sort"
	"sync"
)

// ============================================================================
// Simulated Backend
// ============================================================================
// In-process backend used by tests and by `-backend sim`. It reproduces the
// two properties the pipeline is built around:
//   - change callbacks are delivered asynchronously on a goroutine the
//     backend owns, not on the caller's goroutine
//   - a SetVolumeLevel from this process echoes back through the callback
//     exactly like an external change would
// SetVolumeExternally stands in for another application rewriting the volume.
// ============================================================================

type SimulatedBackend struct {
	mu        sync.Mutex
	endpoints map[string]*SimulatedEndpoint
	changedFn func()
	closed    bool
}

func NewSimulatedBackend() *SimulatedBackend {
	return &SimulatedBackend{
		endpoints: make(map[string]*SimulatedEndpoint),
	}
}

// AddEndpoint registers a new endpoint and fires the hot-plug callback.
func (b *SimulatedBackend) AddEndpoint(id, name string, kind EndpointKind, minDB, maxDB, volumeDB float64) *SimulatedEndpoint {
	ep := &SimulatedEndpoint{
		id:       id,
		name:     name,
		kind:     kind,
		minDB:    minDB,
		maxDB:    maxDB,
		stepDB:   0.5,
		volumeDB: volumeDB,
		events:   make(chan endpointState, 64),
	}
	go ep.deliverLoop()

	b.mu.Lock()
	b.endpoints[id] = ep
	fn := b.changedFn
	b.mu.Unlock()

	if fn != nil {
		go fn()
	}
	return ep
}

// RemoveEndpoint unplugs an endpoint. The handle stays valid but every native
// call on it fails from now on, mirroring a device yanked mid-operation.
func (b *SimulatedBackend) RemoveEndpoint(id string) {
	b.mu.Lock()
	ep := b.endpoints[id]
	delete(b.endpoints, id)
	fn := b.changedFn
	b.mu.Unlock()

	if ep != nil {
		ep.disconnect()
	}
	if fn != nil {
		go fn()
	}
}

func (b *SimulatedBackend) Enumerate() ([]EndpointDescriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("backend closed")
	}

	descs := make([]EndpointDescriptor, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		descs = append(descs, EndpointDescriptor{ID: ep.id, Name: ep.name, Kind: ep.kind})
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })
	return descs, nil
}

func (b *SimulatedBackend) Open(id string) (AudioEndpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ep, ok := b.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("endpoint %s not present", id)
	}
	return ep, nil
}

func (b *SimulatedBackend) OnDevicesChanged(fn func()) {
	b.mu.Lock()
	b.changedFn = fn
	b.mu.Unlock()
}

func (b *SimulatedBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ep := range b.endpoints {
		ep.disconnect()
	}
	b.endpoints = map[string]*SimulatedEndpoint{}
	return nil
}

// endpointState is one queued change notification.
type endpointState struct {
	volumeDB float64
	muted    bool
}

// SimulatedEndpoint is one fake device.
type SimulatedEndpoint struct {
	id     string
	name   string
	kind   EndpointKind
	minDB  float64
	maxDB  float64
	stepDB float64

	mu           sync.Mutex
	volumeDB     float64
	muted        bool
	callbacks    []func(volumeDB float64, muted bool)
	disconnected bool
	closed       bool

	events chan endpointState
}

// deliverLoop is the backend-owned notification goroutine.
func (e *SimulatedEndpoint) deliverLoop() {
	for st := range e.events {
		e.mu.Lock()
		cbs := make([]func(float64, bool), len(e.callbacks))
		copy(cbs, e.callbacks)
		e.mu.Unlock()

		for _, cb := range cbs {
			cb(st.volumeDB, st.muted)
		}
	}
}

func (e *SimulatedEndpoint) notifyLocked() {
	if e.closed {
		return
	}
	select {
	case e.events <- endpointState{volumeDB: e.volumeDB, muted: e.muted}:
	default:
		// Queue full: the dispatcher collapses to latest anyway.
	}
}

func (e *SimulatedEndpoint) VolumeLevel() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disconnected {
		return 0, fmt.Errorf("endpoint %s disconnected", e.id)
	}
	return e.volumeDB, nil
}

func (e *SimulatedEndpoint) SetVolumeLevel(db float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disconnected {
		return fmt.Errorf("endpoint %s disconnected", e.id)
	}
	if db < e.minDB {
		db = e.minDB
	}
	if db > e.maxDB {
		db = e.maxDB
	}
	e.volumeDB = db
	e.notifyLocked()
	return nil
}

func (e *SimulatedEndpoint) VolumeRange() (float64, float64, float64) {
	return e.minDB, e.maxDB, e.stepDB
}

func (e *SimulatedEndpoint) Muted() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disconnected {
		return false, fmt.Errorf("endpoint %s disconnected", e.id)
	}
	return e.muted, nil
}

func (e *SimulatedEndpoint) SetMuted(muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disconnected {
		return fmt.Errorf("endpoint %s disconnected", e.id)
	}
	e.muted = muted
	e.notifyLocked()
	return nil
}

func (e *SimulatedEndpoint) OnVolumeOrMuteChanged(fn func(volumeDB float64, muted bool)) {
	e.mu.Lock()
	e.callbacks = append(e.callbacks, fn)
	e.mu.Unlock()
}

func (e *SimulatedEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.callbacks = nil
	close(e.events)
	return nil
}

// SetVolumeExternally models another process or driver rewriting the volume.
func (e *SimulatedEndpoint) SetVolumeExternally(db float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disconnected {
		return
	}
	e.volumeDB = db
	e.notifyLocked()
}

// SetMutedExternally models an external mute toggle.
func (e *SimulatedEndpoint) SetMutedExternally(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disconnected {
		return
	}
	e.muted = muted
	e.notifyLocked()
}

func (e *SimulatedEndpoint) disconnect() {
	e.mu.Lock()
	e.disconnected = true
	e.mu.Unlock()
}
