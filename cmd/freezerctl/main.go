package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
)

// ============================================================================
// freezerctl - Command-line IPC Client
// ============================================================================
// This tool sends commands to the micfreezerd daemon via IPC.
//
// Usage:
//   freezerctl freeze sim-mic-0
//   freezerctl target sim-mic-0 -12.5
//   freezerctl pause 900
//   freezerctl devices
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/micfreezerd.sock)
// ============================================================================

// ActionEnvelope wraps actions for JSON (duplicated from the daemon package
// for a standalone binary)
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Devices []struct {
		ID              string  `json:"id"`
		Name            string  `json:"name"`
		Kind            string  `json:"kind"`
		CurrentVolumeDB float64 `json:"current_volume_db"`
		MinDB           float64 `json:"min_db"`
		MaxDB           float64 `json:"max_db"`
		Muted           bool    `json:"muted"`
		Enforced        bool    `json:"enforced"`
		FrozenTargetDB  float64 `json:"frozen_target_db"`
	} `json:"devices,omitempty"`
}

func main() {
	socketPath := "/tmp/micfreezerd.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	env, listDevices, err := buildRequest(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	resp, err := send(socketPath, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if listDevices {
		printDevices(resp)
		return
	}
	fmt.Println("ok")
}

// buildRequest turns CLI args into one request envelope.
func buildRequest(args []string) (ActionEnvelope, bool, error) {
	needDevice := func() (string, error) {
		if len(args) < 2 {
			return "", fmt.Errorf("%s requires a device ID", args[0])
		}
		return args[1], nil
	}

	switch args[0] {
	case "freeze":
		id, err := needDevice()
		if err != nil {
			return ActionEnvelope{}, false, err
		}
		return envelope("set_enforced", map[string]any{"device_id": id, "enforced": true}), false, nil

	case "unfreeze":
		id, err := needDevice()
		if err != nil {
			return ActionEnvelope{}, false, err
		}
		return envelope("set_enforced", map[string]any{"device_id": id, "enforced": false}), false, nil

	case "target":
		id, err := needDevice()
		if err != nil {
			return ActionEnvelope{}, false, err
		}
		if len(args) < 3 {
			return ActionEnvelope{}, false, fmt.Errorf("target requires a dB value")
		}
		db, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return ActionEnvelope{}, false, fmt.Errorf("invalid dB value: %w", err)
		}
		return envelope("set_frozen_target", map[string]any{"device_id": id, "target_db": db}), false, nil

	case "max":
		id, err := needDevice()
		if err != nil {
			return ActionEnvelope{}, false, err
		}
		return envelope("set_frozen_to_max", map[string]any{"device_id": id}), false, nil

	case "mute":
		id, err := needDevice()
		if err != nil {
			return ActionEnvelope{}, false, err
		}
		return envelope("set_muted", map[string]any{"device_id": id, "muted": true}), false, nil

	case "unmute":
		id, err := needDevice()
		if err != nil {
			return ActionEnvelope{}, false, err
		}
		return envelope("set_muted", map[string]any{"device_id": id, "muted": false}), false, nil

	case "begin-edit":
		id, err := needDevice()
		if err != nil {
			return ActionEnvelope{}, false, err
		}
		return envelope("begin_edit", map[string]any{"device_id": id}), false, nil

	case "end-edit":
		id, err := needDevice()
		if err != nil {
			return ActionEnvelope{}, false, err
		}
		return envelope("end_edit", map[string]any{"device_id": id}), false, nil

	case "pause":
		seconds := 0
		if len(args) >= 2 {
			s, err := strconv.Atoi(args[1])
			if err != nil {
				return ActionEnvelope{}, false, fmt.Errorf("invalid seconds value: %w", err)
			}
			seconds = s
		}
		return envelope("pause", map[string]any{"seconds": seconds}), false, nil

	case "resume":
		return ActionEnvelope{Type: "resume"}, false, nil

	case "mute-popups":
		seconds := 0
		if len(args) >= 2 {
			s, err := strconv.Atoi(args[1])
			if err != nil {
				return ActionEnvelope{}, false, fmt.Errorf("invalid seconds value: %w", err)
			}
			seconds = s
		}
		return envelope("mute_popups", map[string]any{"seconds": seconds}), false, nil

	case "unmute-popups":
		return ActionEnvelope{Type: "unmute_popups"}, false, nil

	case "rescan":
		return ActionEnvelope{Type: "rescan"}, false, nil

	case "devices", "list":
		return ActionEnvelope{Type: "list_devices"}, true, nil

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
		return ActionEnvelope{}, false, nil

	default:
		return ActionEnvelope{}, false, fmt.Errorf("unknown command: %s", args[0])
	}
}

func envelope(msgType string, data map[string]any) ActionEnvelope {
	raw, _ := json.Marshal(data)
	return ActionEnvelope{Type: msgType, Data: raw}
}

func send(socketPath string, env ActionEnvelope) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var response IPCResponse
	decoder := json.NewDecoder(conn)
	if err := decoder.Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}
	return response, nil
}

func printDevices(resp IPCResponse) {
	if len(resp.Devices) == 0 {
		fmt.Println("no devices")
		return
	}
	for _, d := range resp.Devices {
		state := "unfrozen"
		if d.Enforced {
			state = fmt.Sprintf("frozen @ %.1f dB", d.FrozenTargetDB)
		}
		mute := ""
		if d.Muted {
			mute = " [muted]"
		}
		fmt.Printf("%-20s %-28s %-8s %6.1f dB  (range %.1f..%.1f)  %s%s\n",
			d.ID, d.Name, d.Kind, d.CurrentVolumeDB, d.MinDB, d.MaxDB, state, mute)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `freezerctl - Control micfreezerd daemon via IPC

Usage:
  freezerctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/micfreezerd.sock)

Commands:
  devices, list             List devices and their freeze state
  freeze <id>               Freeze a device at its current volume
  unfreeze <id>             Unfreeze a device (clears the stored target)
  target <id> <dB>          Set the frozen target volume (e.g., -12.5)
  max <id>                  Set the frozen target to the device maximum
  mute <id> / unmute <id>   Change the device mute state
  begin-edit <id>           Start an interactive edit (suspends correction)
  end-edit <id>             Finish an edit (adopts the edited volume)
  pause [seconds]           Pause enforcement (no seconds = indefinite)
  resume                    Resume enforcement
  mute-popups [seconds]     Suppress alerts (no seconds = indefinite)
  unmute-popups             Stop suppressing alerts
  rescan                    Force a device enumeration pass
  help, -h, --help          Show this help message

Examples:
  freezerctl freeze sim-mic-0
  freezerctl target sim-mic-0 -18
  freezerctl -socket /run/micfreezerd.sock pause 900
`)
}
