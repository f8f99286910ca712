package main

import (
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

func openTestStore(t *testing.T) *SettingsStore {
	t.Helper()
	s, err := OpenSettingsStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_FrozenVolumeRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetFrozenVolume("mic-1", -12.5); err != nil {
		t.Fatalf("set: %v", err)
	}

	db, ok := s.FrozenVolume("mic-1")
	if !ok {
		t.Fatal("expected stored volume")
	}
	if db != -12.5 {
		t.Errorf("got %v, want -12.5", db)
	}

	if _, ok := s.FrozenVolume("mic-2"); ok {
		t.Error("missing key must report absent")
	}
}

func TestStore_DeleteFrozenVolume(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetFrozenVolume("mic-1", -12.5); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.DeleteFrozenVolume("mic-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.FrozenVolume("mic-1"); ok {
		t.Error("deleted key must report absent")
	}

	// Deleting again is not an error.
	if err := s.DeleteFrozenVolume("mic-1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestStore_MalformedFrozenVolumeFallsBack(t *testing.T) {
	s := openTestStore(t)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefixFrozen+"mic-1"), []byte("not-a-float"))
	})
	if err != nil {
		t.Fatalf("seed corrupt value: %v", err)
	}

	if _, ok := s.FrozenVolume("mic-1"); ok {
		t.Error("malformed value must be treated as absent")
	}
	if all := s.FrozenVolumes(); len(all) != 0 {
		t.Errorf("scan must skip malformed entries, got %v", all)
	}
}

func TestStore_FrozenVolumesScan(t *testing.T) {
	s := openTestStore(t)

	_ = s.SetFrozenVolume("mic-1", -10)
	_ = s.SetFrozenVolume("mic-2", -20)

	all := s.FrozenVolumes()
	if len(all) != 2 || all["mic-1"] != -10 || all["mic-2"] != -20 {
		t.Errorf("unexpected scan result %v", all)
	}
}

func TestStore_SelectedDevicesRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if got := s.SelectedDevices(); got != nil {
		t.Errorf("empty store should report no selection, got %v", got)
	}

	if err := s.SetSelectedDevices([]string{"mic-1", "spk-2"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got := s.SelectedDevices()
	if len(got) != 2 || got[0] != "mic-1" || got[1] != "spk-2" {
		t.Errorf("unexpected selection %v", got)
	}

	if err := s.SetSelectedDevices(nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := s.SelectedDevices(); got != nil {
		t.Errorf("cleared selection should be empty, got %v", got)
	}
}

func TestStore_SuppressionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, ok := s.Suppression(SuppressPause); ok {
		t.Error("empty store should report no suppression")
	}

	until := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Millisecond)
	if err := s.SetSuppression(SuppressPause, &until); err != nil {
		t.Fatalf("set timed: %v", err)
	}
	got, ok := s.Suppression(SuppressPause)
	if !ok || got == nil {
		t.Fatal("expected timed suppression")
	}
	if !got.Equal(until) {
		t.Errorf("got %v, want %v", got, until)
	}

	if err := s.SetSuppression(SuppressPopupMute, nil); err != nil {
		t.Fatalf("set indefinite: %v", err)
	}
	got, ok = s.Suppression(SuppressPopupMute)
	if !ok || got != nil {
		t.Errorf("indefinite suppression should be (nil, true), got (%v, %v)", got, ok)
	}

	if err := s.ClearSuppression(SuppressPause); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := s.Suppression(SuppressPause); ok {
		t.Error("cleared suppression should report absent")
	}
}

func TestStore_MalformedSuppressionIgnored(t *testing.T) {
	s := openTestStore(t)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPause), []byte("yesterday-ish"))
	})
	if err != nil {
		t.Fatalf("seed corrupt value: %v", err)
	}

	if _, ok := s.Suppression(SuppressPause); ok {
		t.Error("malformed expiry must be treated as absent")
	}
}
