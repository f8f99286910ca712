package main

import "testing"

func TestEditGate_PauseAndEditIndependent(t *testing.T) {
	g := newEditGate()

	g.PauseDevice("mic-1")
	if !g.Paused("mic-1") || g.Editing("mic-1") {
		t.Fatal("pause must not imply editing")
	}
	if !g.Suppressed("mic-1") {
		t.Fatal("paused device is suppressed")
	}

	g.BeginEdit("mic-1")
	g.ResumeDevice("mic-1")
	if !g.Suppressed("mic-1") {
		t.Fatal("edit outlives the pause")
	}

	g.EndEdit("mic-1")
	if g.Suppressed("mic-1") {
		t.Fatal("all gates cleared")
	}
}

func TestEditGate_EndEditIdempotent(t *testing.T) {
	g := newEditGate()
	g.EndEdit("mic-1") // never began
	g.BeginEdit("mic-1")
	g.EndEdit("mic-1")
	g.EndEdit("mic-1")
	if g.Editing("mic-1") {
		t.Fatal("edit must be cleared")
	}
}

func TestEditGate_ForgetDropsAllState(t *testing.T) {
	g := newEditGate()
	g.PauseDevice("mic-1")
	g.BeginEdit("mic-1")
	g.Forget("mic-1")
	if g.Suppressed("mic-1") {
		t.Fatal("forget must clear both gates")
	}
}
