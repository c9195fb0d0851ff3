package presence

import (
	"testing"
	"time"

	"github.com/collabforge/syncd/internal/wire"
)

func TestAddPeerAssignsColorAndEmitsJoined(t *testing.T) {
	pp := newProjectPresence("p1")
	now := time.Now()

	p := pp.AddPeer("peer-1", "Ada", now)
	if p == nil {
		t.Fatal("AddPeer returned nil")
	}

	snap := p.snapshot()
	if snap.Color == "" {
		t.Fatal("expected a non-empty color")
	}
	found := false
	for _, c := range palette {
		if c == snap.Color {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("color %q is not in the fixed palette", snap.Color)
	}

	select {
	case ev := <-pp.Events():
		if ev.Kind != EventJoined || ev.PeerID != "peer-1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected a Joined event")
	}
}

func TestStatusTransitions(t *testing.T) {
	pp := newProjectPresence("p1")
	base := time.Now()
	p := pp.AddPeer("peer-1", "Ada", base)
	<-pp.Events() // drain Joined

	if status, changed := p.updateStatus(base.Add(30 * time.Second)); changed || status != wire.PresenceActive {
		t.Fatalf("expected Active at 30s, got %v changed=%v", status, changed)
	}
	if status, changed := p.updateStatus(base.Add(90 * time.Second)); !changed || status != wire.PresenceIdle {
		t.Fatalf("expected Idle at 90s, got %v changed=%v", status, changed)
	}
	if status, changed := p.updateStatus(base.Add(400 * time.Second)); !changed || status != wire.PresenceAway {
		t.Fatalf("expected Away at 400s, got %v changed=%v", status, changed)
	}

	p.touch(base.Add(401 * time.Second))
	// touch itself sets Active, so the following tick reports no change.
	if status, changed := p.updateStatus(base.Add(401 * time.Second)); changed || status != wire.PresenceActive {
		t.Fatalf("expected touch to reset to Active, got %v changed=%v", status, changed)
	}
}

func TestCursorRetentionAfterOffline(t *testing.T) {
	pp := newProjectPresence("p1")
	base := time.Now()
	pp.AddPeer("peer-1", "Ada", base)
	<-pp.Events()

	pp.UpdateCursor("peer-1", Cursor{FilePath: "/a.txt", Line: 1}, base)
	<-pp.Events()

	pp.MarkOffline("peer-1", base)
	<-pp.Events()

	p, _ := pp.GetPeer("peer-1")
	if p.cursorExpired(base.Add(2 * time.Second)) {
		t.Fatal("cursor should still be retained at 2s")
	}
	if !p.cursorExpired(base.Add(6 * time.Second)) {
		t.Fatal("cursor should have expired at 6s")
	}

	pp.CleanupStale(base.Add(6 * time.Second))
	if snap := p.snapshot(); snap.Cursor != nil {
		t.Fatal("expected cursor to be purged after cleanup")
	}
}

func TestTypingChangeOnlyEmitsOnFlip(t *testing.T) {
	pp := newProjectPresence("p1")
	now := time.Now()
	pp.AddPeer("peer-1", "Ada", now)
	<-pp.Events()

	pp.SetTyping("peer-1", true, now)
	select {
	case ev := <-pp.Events():
		if ev.Kind != EventTypingChanged || !ev.IsTyping {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected TypingChanged event")
	}

	pp.SetTyping("peer-1", true, now)
	select {
	case ev := <-pp.Events():
		t.Fatalf("expected no event for a no-op typing update, got %+v", ev)
	default:
	}
}

func TestManagerGetOrCreateIsStable(t *testing.T) {
	m := NewManager()
	a := m.GetOrCreate("p1")
	b := m.GetOrCreate("p1")
	if a != b {
		t.Fatal("GetOrCreate should return the same table for the same project")
	}
	if m.ProjectCount() != 1 {
		t.Fatalf("expected 1 project, got %d", m.ProjectCount())
	}

	m.Remove("p1")
	if m.ProjectCount() != 0 {
		t.Fatalf("expected 0 projects after Remove, got %d", m.ProjectCount())
	}
}

func TestStalePeerIDsOnlyReportsPastTimeout(t *testing.T) {
	pp := newProjectPresence("p1")
	base := time.Now()
	pp.AddPeer("fresh", "Ada", base)
	pp.AddPeer("stale", "Bea", base)

	later := base.Add(10 * time.Minute)
	stale := pp.StalePeerIDs(later, 5*time.Minute)
	if len(stale) != 2 {
		t.Fatalf("expected both peers stale with no activity, got %v", stale)
	}

	pp.UpdateStatus("fresh", wire.PresenceActive, "", later)
	stale = pp.StalePeerIDs(later, 5*time.Minute)
	if len(stale) != 1 || stale[0] != "stale" {
		t.Fatalf("expected only 'stale' to be reported, got %v", stale)
	}
}
