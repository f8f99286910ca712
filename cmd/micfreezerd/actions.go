package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Action Types - Command-based Architecture
// ============================================================================
// Actions represent intent from control surfaces (IPC, future UI). The
// control loop consumes these and applies policy; nothing outside the loop
// mutates device state.
// ============================================================================

// Action is a marker interface for all daemon commands
type Action interface{}

// SetEnforced freezes or unfreezes a device. Freezing captures the device's
// current volume as the frozen target unless a stored target exists.
type SetEnforced struct {
	DeviceID string `json:"device_id"`
	Enforced bool   `json:"enforced"`
}

// SetFrozenTarget changes the frozen target volume for a device
type SetFrozenTarget struct {
	DeviceID string  `json:"device_id"`
	TargetDB float64 `json:"target_db"`
}

// SetFrozenToMax snaps the frozen target to the device's maximum volume
// (0dB on typical endpoints)
type SetFrozenToMax struct {
	DeviceID string `json:"device_id"`
}

// SetMuted requests the device's mute state to change
type SetMuted struct {
	DeviceID string `json:"device_id"`
	Muted    bool   `json:"muted"`
}

// BeginEdit marks the start of an interactive volume edit on a device.
// While active, incoming changes update the displayed volume without
// triggering correction.
type BeginEdit struct {
	DeviceID string `json:"device_id"`
}

// EndEdit marks the end of an interactive edit. Idempotent.
type EndEdit struct {
	DeviceID string `json:"device_id"`
}

// Pause suspends enforcement globally. Seconds <= 0 pauses indefinitely.
type Pause struct {
	Seconds int `json:"seconds,omitempty"`
}

// Resume lifts a global pause and re-enforces drifted devices
type Resume struct{}

// MutePopups suppresses user-facing alerts globally. Seconds <= 0 mutes
// indefinitely. Escalation counting continues underneath.
type MutePopups struct {
	Seconds int `json:"seconds,omitempty"`
}

// UnmutePopups lifts a popup mute
type UnmutePopups struct{}

// Rescan requests a device enumeration pass
type Rescan struct{}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// ActionEnvelope wraps actions for JSON serialization/deserialization.
// Since Go doesn't have union types, we use a type discriminator.
// ============================================================================

// ActionEnvelope wraps an action with a type discriminator for JSON marshaling
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalAction deserializes a JSON action envelope into a concrete Action
func UnmarshalAction(data []byte) (Action, error) {
	var env ActionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "set_enforced":
		var a SetEnforced
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetEnforced: %w", err)
		}
		return a, nil

	case "set_frozen_target":
		var a SetFrozenTarget
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetFrozenTarget: %w", err)
		}
		return a, nil

	case "set_frozen_to_max":
		var a SetFrozenToMax
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetFrozenToMax: %w", err)
		}
		return a, nil

	case "set_muted":
		var a SetMuted
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetMuted: %w", err)
		}
		return a, nil

	case "begin_edit":
		var a BeginEdit
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal BeginEdit: %w", err)
		}
		return a, nil

	case "end_edit":
		var a EndEdit
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal EndEdit: %w", err)
		}
		return a, nil

	case "pause":
		var a Pause
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &a); err != nil {
				return nil, fmt.Errorf("unmarshal Pause: %w", err)
			}
		}
		return a, nil

	case "resume":
		return Resume{}, nil

	case "mute_popups":
		var a MutePopups
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &a); err != nil {
				return nil, fmt.Errorf("unmarshal MutePopups: %w", err)
			}
		}
		return a, nil

	case "unmute_popups":
		return UnmutePopups{}, nil

	case "rescan":
		return Rescan{}, nil

	default:
		return nil, fmt.Errorf("unknown action type: %s", env.Type)
	}
}

// MarshalAction serializes an Action into a JSON action envelope
func MarshalAction(action Action) ([]byte, error) {
	var env ActionEnvelope

	switch a := action.(type) {
	case SetEnforced:
		env.Type = "set_enforced"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal SetEnforced: %w", err)
		}
		env.Data = data

	case SetFrozenTarget:
		env.Type = "set_frozen_target"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal SetFrozenTarget: %w", err)
		}
		env.Data = data

	case SetFrozenToMax:
		env.Type = "set_frozen_to_max"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal SetFrozenToMax: %w", err)
		}
		env.Data = data

	case SetMuted:
		env.Type = "set_muted"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal SetMuted: %w", err)
		}
		env.Data = data

	case BeginEdit:
		env.Type = "begin_edit"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal BeginEdit: %w", err)
		}
		env.Data = data

	case EndEdit:
		env.Type = "end_edit"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal EndEdit: %w", err)
		}
		env.Data = data

	case Pause:
		env.Type = "pause"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal Pause: %w", err)
		}
		env.Data = data

	case Resume:
		env.Type = "resume"

	case MutePopups:
		env.Type = "mute_popups"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal MutePopups: %w", err)
		}
		env.Data = data

	case UnmutePopups:
		env.Type = "unmute_popups"

	case Rescan:
		env.Type = "rescan"

	default:
		return nil, fmt.Errorf("unknown action type: %T", action)
	}

	return json.Marshal(env)
}
