package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// freezer-listen - State WebSocket Listener
// ============================================================================
// Debug tool that connects to micfreezerd's state websocket and prints every
// broadcast: the state_init snapshot, device changes, restoration alerts and
// suppression changes.
// ============================================================================

type wsEnvelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/ws/state", "micfreezerd state websocket URL")
		raw   = flag.Bool("raw", false, "Print raw JSON frames instead of formatted output")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				fmt.Printf("%s\n", message)
				continue
			}
			printFrame(message)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// printFrame renders one envelope for humans.
func printFrame(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", message)
		return
	}

	switch env.Type {
	case "state_init":
		var snap struct {
			Devices []struct {
				ID              string  `json:"id"`
				Name            string  `json:"name"`
				CurrentVolumeDB float64 `json:"current_volume_db"`
				Enforced        bool    `json:"enforced"`
				FrozenTargetDB  float64 `json:"frozen_target_db"`
			} `json:"devices"`
			Suppression struct {
				Paused     bool `json:"paused"`
				PopupMuted bool `json:"popup_muted"`
			} `json:"suppression"`
		}
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			prettyPrint(env)
			return
		}
		fmt.Printf("[INIT] %d device(s), paused=%v, popups_muted=%v\n",
			len(snap.Devices), snap.Suppression.Paused, snap.Suppression.PopupMuted)
		for _, d := range snap.Devices {
			frozen := ""
			if d.Enforced {
				frozen = fmt.Sprintf(" frozen@%.1fdB", d.FrozenTargetDB)
			}
			fmt.Printf("       %s (%s) %.1f dB%s\n", d.ID, d.Name, d.CurrentVolumeDB, frozen)
		}

	case "device_changed":
		var dev struct {
			ID              string  `json:"id"`
			CurrentVolumeDB float64 `json:"current_volume_db"`
			Muted           bool    `json:"muted"`
			Enforced        bool    `json:"enforced"`
			FrozenTargetDB  float64 `json:"frozen_target_db"`
		}
		if err := json.Unmarshal(env.Data, &dev); err != nil {
			prettyPrint(env)
			return
		}
		frozen := ""
		if dev.Enforced {
			frozen = fmt.Sprintf(" (frozen@%.1fdB)", dev.FrozenTargetDB)
		}
		mute := ""
		if dev.Muted {
			mute = " [muted]"
		}
		fmt.Printf("[DEVICE] %s %.1f dB%s%s\n", dev.ID, dev.CurrentVolumeDB, frozen, mute)

	case "device_removed":
		var dev struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(env.Data, &dev)
		fmt.Printf("[REMOVED] %s\n", dev.ID)

	case "volume_restored":
		var alert struct {
			DeviceName string  `json:"device_name"`
			TargetDB   float64 `json:"target_db"`
			Count      int     `json:"count"`
			Phase      int     `json:"phase"`
		}
		if err := json.Unmarshal(env.Data, &alert); err != nil {
			prettyPrint(env)
			return
		}
		fmt.Printf("[RESTORED] %s back to %.1f dB (count=%d, phase=%d)\n",
			alert.DeviceName, alert.TargetDB, alert.Count, alert.Phase)

	case "suppression_changed":
		var sup struct {
			Paused     bool `json:"paused"`
			PopupMuted bool `json:"popup_muted"`
		}
		if err := json.Unmarshal(env.Data, &sup); err != nil {
			prettyPrint(env)
			return
		}
		fmt.Printf("[SUPPRESSION] paused=%v popups_muted=%v\n", sup.Paused, sup.PopupMuted)

	default:
		prettyPrint(env)
	}
}

func prettyPrint(env wsEnvelope) {
	pretty, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		fmt.Printf("[%s]\n", env.Type)
		return
	}
	fmt.Printf("%s\n", pretty)
}
