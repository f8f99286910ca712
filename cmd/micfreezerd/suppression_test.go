package main

import (
	"testing"
	"time"
)

func TestSuppression_TimedWindow(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	var s Suppression
	if s.Active(now) {
		t.Fatal("zero value must be inactive")
	}

	s.Arm(5*time.Minute, now)
	if !s.Active(now.Add(4 * time.Minute)) {
		t.Fatal("window must cover times before the deadline")
	}
	if d := s.Deadline(); d == nil || !d.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("deadline mismatch: %v", d)
	}

	// Lazy expiry: the first check past the deadline clears the window.
	if s.Active(now.Add(6 * time.Minute)) {
		t.Fatal("window must lapse past the deadline")
	}
	if s.Deadline() != nil {
		t.Fatal("lapsed window must report no deadline")
	}
	if s.Active(now) {
		t.Fatal("lapsed window stays cleared even for earlier times")
	}
}

func TestSuppression_Indefinite(t *testing.T) {
	now := time.Now()

	var s Suppression
	s.Arm(0, now)
	if !s.Indefinite() || !s.Active(now.Add(24*time.Hour)) {
		t.Fatal("non-positive duration arms indefinitely")
	}
	if s.Deadline() != nil {
		t.Fatal("indefinite window has no deadline")
	}

	s.Disarm()
	if s.Active(now) || s.Indefinite() {
		t.Fatal("disarm clears the window")
	}
}

func TestSuppression_ArmUntil(t *testing.T) {
	now := time.Now()

	var s Suppression
	until := now.Add(10 * time.Minute)
	s.ArmUntil(&until)
	if !s.Active(now) || s.Indefinite() {
		t.Fatal("absolute deadline arms a timed window")
	}

	s.ArmUntil(nil)
	if !s.Indefinite() {
		t.Fatal("nil deadline arms indefinitely")
	}
}
