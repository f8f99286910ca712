package main

// ============================================================================
// Control Loop Events
// ============================================================================
// Everything that reaches the control loop arrives as a controlEvent on one
// channel. Timers never touch state directly; they post an event and the
// loop does the work on its own goroutine.
// ============================================================================

// controlEvent is a marker interface for everything the control loop consumes
type controlEvent interface{}

// actionEvent carries a user/IPC action, with an optional reply channel for
// synchronous surfaces (IPC waits for the loop to apply the action).
type actionEvent struct {
	action Action
	reply  chan error
}

// volumeNotification is a coalesced, marshaled device change from the
// dispatcher
type volumeNotification struct {
	DeviceID string
	VolumeDB float64
	Muted    bool
}

// endpointsChanged signals the backend reported a hot-plug event; the loop
// kicks off a rescan
type endpointsChanged struct{}

// enforcePending fires when a device's 16ms write window elapses with a
// corrective set still queued
type enforcePending struct {
	DeviceID string
}

// alertFlush fires when a device's alert grouping window closes
type alertFlush struct {
	DeviceID string
}

// persistFlush fires when a debounce timer for one save type elapses
type persistFlush struct {
	SaveType SaveType
}

// tick is the periodic housekeeping event (lazy suppression expiry, phase
// resets)
type tick struct{}
