package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// External clients (freezerctl, scripts) send JSON actions to the daemon over
// a Unix domain socket. The server applies each action through the control
// loop synchronously, so an "ok" response means the action took effect, not
// just that it was queued.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "action_name", "data": {...}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
//   - The "list_devices" query returns {"status": "ok", "devices": [...]}
// ============================================================================

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status  string   `json:"status"`            // "ok" or "error"
	Error   string   `json:"error,omitempty"`   // error message if status == "error"
	Devices []Device `json:"devices,omitempty"` // populated for list_devices
}

const ipcActionTimeout = 5 * time.Second

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, daemon *Daemon, logger *slog.Logger) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, daemon, logger)
	}
}

// handleIPCConnection processes a single IPC client connection
func handleIPCConnection(ctx context.Context, conn net.Conn, daemon *Daemon, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		resp := dispatchIPCLine(ctx, daemon, []byte(line))
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

// dispatchIPCLine turns one request line into a response.
func dispatchIPCLine(ctx context.Context, daemon *Daemon, line []byte) IPCResponse {
	// Peek at the type for queries that are not actions.
	var env ActionEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return IPCResponse{Status: "error", Error: fmt.Sprintf("parse request: %v", err)}
	}
	if env.Type == "list_devices" {
		return IPCResponse{Status: "ok", Devices: daemon.Devices()}
	}

	action, err := UnmarshalAction(line)
	if err != nil {
		return IPCResponse{Status: "error", Error: fmt.Sprintf("parse action: %v", err)}
	}

	actx, cancel := context.WithTimeout(ctx, ipcActionTimeout)
	defer cancel()
	if err := daemon.SubmitAction(actx, action); err != nil {
		return IPCResponse{Status: "error", Error: err.Error()}
	}
	return IPCResponse{Status: "ok"}
}

// ============================================================================
// IPC Client Utility Functions
// ============================================================================
// Used by freezerctl and by tests to talk to a running daemon.
// ============================================================================

// SendIPCAction sends an action to the daemon via IPC and returns the response
func SendIPCAction(socketPath string, action Action) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := MarshalAction(action)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal action: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return IPCResponse{}, fmt.Errorf("send action: %w", err)
	}

	return readIPCResponse(conn)
}

// SendIPCRaw sends a pre-encoded request line (used for queries like
// list_devices).
func SendIPCRaw(socketPath string, line string) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(line)); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	return readIPCResponse(conn)
}

func readIPCResponse(conn net.Conn) (IPCResponse, error) {
	decoder := json.NewDecoder(conn)
	var resp IPCResponse
	if err := decoder.Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}
