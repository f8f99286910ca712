package main

import "time"

// Dispatcher coalescing: raw endpoint callbacks arriving closer together than
// this, with a volume delta below the threshold, are dropped before they ever
// cross onto the control loop.
const (
	coalesceWindow      = 50 * time.Millisecond
	coalesceThresholdDB = 0.5
)

// Per-device pacing for both dispatch onto the control loop and hardware
// corrective writes. 16ms is a 60Hz ceiling; endpoints chattering faster than
// that collapse to the latest value.
const minDispatchInterval = 16 * time.Millisecond

// Deviations at or below this band count as "already at target". Hardware
// volume steps and float rounding land well inside it.
const enforceToleranceDB = 0.1

// Notification phase machine (user-facing alert pacing).
const (
	phaseTwoThreshold   = 3  // cumulative notifications to advance 1 -> 2
	phaseThreeThreshold = 8  // 2 -> 3
	phaseFourThreshold  = 15 // 3 -> 4

	phaseResetGap = 30 * time.Second // quiet gap after last shown alert

	phaseOneGroupDelay  = 2 * time.Second
	phaseOneGroupWindow = 2 * time.Second

	fixedPauseSuggestion = 15 * time.Minute
)

// Persistence debounce delays by save type.
const (
	continuousEditDelay = 500 * time.Millisecond
	batchUpdateDelay    = 200 * time.Millisecond
)

// Default daemon knobs (overridable via config/flags).
const (
	defaultTickHz       = 2
	defaultStateWSPort  = 3002
	defaultIPCSocket    = "/tmp/micfreezerd.sock"
	defaultEventBufSize = 256
)
