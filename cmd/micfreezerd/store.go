package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// ============================================================================
// Settings Store
// ============================================================================
// Badger-backed persistence for everything that must survive a restart:
// which devices are frozen and at what dB, and the popup-mute / pause
// suppression windows. The in-memory state is always authoritative; a store
// failure is logged and the daemon carries on.
//
// Key layout (flat string namespace):
//   frozen/<device-id>  -> target volume in dB, as strconv float
//   selected            -> newline-joined device IDs
//   suppress/popupmute  -> RFC3339 expiry, or "indefinite"
//   suppress/pause      -> RFC3339 expiry, or "indefinite"
// ============================================================================

const (
	keyPrefixFrozen   = "frozen/"
	keySelected       = "selected"
	keyPopupMute      = "suppress/popupmute"
	keyPause          = "suppress/pause"
	indefiniteExpires = "indefinite"
)

type SettingsStore struct {
	db     *badger.DB
	logger *slog.Logger
}

func OpenSettingsStore(dir string, logger *slog.Logger) (*SettingsStore, error) {
	opts := badger.DefaultOptions(ExpandPath(dir))
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	return &SettingsStore{db: db, logger: logger}, nil
}

func (s *SettingsStore) Close() error {
	return s.db.Close()
}

// SetFrozenVolume stores the frozen target for one device.
func (s *SettingsStore) SetFrozenVolume(deviceID string, targetDB float64) error {
	val := strconv.FormatFloat(targetDB, 'f', -1, 64)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefixFrozen+deviceID), []byte(val))
	})
}

// DeleteFrozenVolume removes the stored target. Missing keys are not an error.
func (s *SettingsStore) DeleteFrozenVolume(deviceID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(keyPrefixFrozen + deviceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// FrozenVolume returns (targetDB, true) when a valid stored target exists.
// A malformed value is treated as absent and logged; the caller falls back to
// capturing the live volume.
func (s *SettingsStore) FrozenVolume(deviceID string) (float64, bool) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixFrozen + deviceID))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false
	}
	if err != nil {
		s.logger.Warn("settings store read failed", "key", keyPrefixFrozen+deviceID, "error", err)
		return 0, false
	}
	db, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		s.logger.Warn("discarding malformed frozen volume", "device", deviceID, "value", string(raw))
		return 0, false
	}
	return db, true
}

// FrozenVolumes loads every stored frozen target, skipping malformed entries.
func (s *SettingsStore) FrozenVolumes() map[string]float64 {
	out := make(map[string]float64)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefixFrozen)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), keyPrefixFrozen)
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			db, err := strconv.ParseFloat(string(raw), 64)
			if err != nil {
				s.logger.Warn("discarding malformed frozen volume", "device", id, "value", string(raw))
				continue
			}
			out[id] = db
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("settings store scan failed", "error", err)
	}
	return out
}

// SetSelectedDevices stores the full selection set.
func (s *SettingsStore) SetSelectedDevices(ids []string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keySelected), []byte(strings.Join(ids, "\n")))
	})
}

// SelectedDevices returns the stored selection set, empty when absent.
func (s *SettingsStore) SelectedDevices() []string {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySelected))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("settings store read failed", "key", keySelected, "error", err)
		return nil
	}
	if len(raw) == 0 {
		return nil
	}
	return strings.Split(string(raw), "\n")
}

// SetSuppression stores one suppression window. A nil until means indefinite.
func (s *SettingsStore) SetSuppression(kind SuppressionKind, until *time.Time) error {
	key, err := suppressionKey(kind)
	if err != nil {
		return err
	}
	val := indefiniteExpires
	if until != nil {
		val = until.UTC().Format(time.RFC3339Nano)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(val))
	})
}

// ClearSuppression removes a stored suppression window.
func (s *SettingsStore) ClearSuppression(kind SuppressionKind) error {
	key, err := suppressionKey(kind)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Suppression loads a stored suppression window. Returns (nil, false) when no
// valid window is stored, (nil, true) for an indefinite window, and
// (&until, true) for a timed one.
func (s *SettingsStore) Suppression(kind SuppressionKind) (*time.Time, bool) {
	key, err := suppressionKey(kind)
	if err != nil {
		return nil, false
	}
	var raw []byte
	verr := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(verr, badger.ErrKeyNotFound) {
		return nil, false
	}
	if verr != nil {
		s.logger.Warn("settings store read failed", "key", key, "error", verr)
		return nil, false
	}
	if string(raw) == indefiniteExpires {
		return nil, true
	}
	t, perr := time.Parse(time.RFC3339Nano, string(raw))
	if perr != nil {
		s.logger.Warn("discarding malformed suppression expiry", "key", key, "value", string(raw))
		return nil, false
	}
	return &t, true
}

func suppressionKey(kind SuppressionKind) (string, error) {
	switch kind {
	case SuppressPopupMute:
		return keyPopupMute, nil
	case SuppressPause:
		return keyPause, nil
	default:
		return "", fmt.Errorf("unknown suppression kind %q", kind)
	}
}
