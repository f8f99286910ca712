package main

// ============================================================================
// Edit-Suppression Gate
// ============================================================================
// Tracks which devices are temporarily exempt from correction: paused devices
// are skipped entirely, devices mid-edit get display updates but no hardware
// writes. State is mutated only by the control loop goroutine (single-owner).
// ============================================================================

type editGate struct {
	paused  map[string]struct{}
	editing map[string]struct{}
}

func newEditGate() *editGate {
	return &editGate{
		paused:  make(map[string]struct{}),
		editing: make(map[string]struct{}),
	}
}

func (g *editGate) PauseDevice(id string) { g.paused[id] = struct{}{} }

func (g *editGate) ResumeDevice(id string) { delete(g.paused, id) }

func (g *editGate) BeginEdit(id string) { g.editing[id] = struct{}{} }

// EndEdit is idempotent; ending an edit that never began is a no-op.
func (g *editGate) EndEdit(id string) { delete(g.editing, id) }

func (g *editGate) Paused(id string) bool {
	_, ok := g.paused[id]
	return ok
}

func (g *editGate) Editing(id string) bool {
	_, ok := g.editing[id]
	return ok
}

// Suppressed reports whether any per-device gate blocks correction.
func (g *editGate) Suppressed(id string) bool {
	return g.Paused(id) || g.Editing(id)
}

// Forget drops all gate state for a removed device.
func (g *editGate) Forget(id string) {
	delete(g.paused, id)
	delete(g.editing, id)
}
