package main

// ============================================================================
// Audio Endpoint Abstraction
// ============================================================================
// An AudioEndpoint wraps one native audio device. The backend owns the
// threading: change callbacks are invoked on a goroutine belonging to the
// backend (the equivalent of the OS audio service's notification thread),
// never on the control loop. Every SetVolumeLevel issued by this process
// echoes back through the same callback; callers must not treat the callback
// stream as "external input only".
// ============================================================================

// EndpointKind distinguishes capture from render endpoints.
type EndpointKind string

const (
	EndpointCapture EndpointKind = "capture"
	EndpointRender  EndpointKind = "render"
)

// EndpointDescriptor identifies one endpoint during enumeration.
type EndpointDescriptor struct {
	ID   string
	Name string
	Kind EndpointKind
}

// AudioEndpoint is the per-device handle contract.
type AudioEndpoint interface {
	// VolumeLevel returns the current hardware volume in dB.
	VolumeLevel() (float64, error)

	// SetVolumeLevel sets the hardware volume in dB. The caller is expected
	// to clamp to the range reported by VolumeRange. A failed call leaves the
	// endpoint at its previous state.
	SetVolumeLevel(db float64) error

	// VolumeRange returns (minDB, maxDB, stepDB). stepDB may be 0 when the
	// backend does not report a step size.
	VolumeRange() (minDB, maxDB, stepDB float64)

	Muted() (bool, error)
	SetMuted(muted bool) error

	// OnVolumeOrMuteChanged registers a callback invoked whenever the
	// endpoint's volume or mute state changes, from any source including this
	// process. The callback runs on a backend-owned goroutine.
	OnVolumeOrMuteChanged(fn func(volumeDB float64, muted bool))

	Close() error
}

// Backend is the device enumeration service.
type Backend interface {
	// Enumerate lists the currently present endpoints.
	Enumerate() ([]EndpointDescriptor, error)

	// Open returns a live handle for the given endpoint ID.
	Open(id string) (AudioEndpoint, error)

	// OnDevicesChanged registers a hot-plug callback (add/remove/state
	// change). Invoked on a backend-owned goroutine.
	OnDevicesChanged(fn func())

	Close() error
}
