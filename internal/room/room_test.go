package room

import (
	"testing"
	"time"

	"github.com/collabforge/syncd/internal/crdt"
	"github.com/collabforge/syncd/internal/presence"
	"github.com/collabforge/syncd/internal/wire"
)

type recordingSender struct {
	received []wire.ServerMessage
}

func (s *recordingSender) Send(msg wire.ServerMessage) {
	s.received = append(s.received, msg)
}

func testNow() int64 { return 1000 }

func TestApplySyncRelaysToOthersNotSender(t *testing.T) {
	docA := crdt.NewDocument("p1", "alice", testNow)
	r := New("p1", docA, presence.NewManager().GetOrCreate("p1"))

	alice := &recordingSender{}
	bob := &recordingSender{}
	r.Join("alice", alice)
	r.Join("bob", bob)

	docA.CreateFolder("src", docA.RootID(), "src")
	changes := docA.GetChangesSince(crdt.VectorClock{})
	payload, err := crdt.EncodeChanges(changes)
	if err != nil {
		t.Fatalf("EncodeChanges: %v", err)
	}

	if _, err := r.ApplySync("alice", payload, false); err != nil {
		t.Fatalf("ApplySync: %v", err)
	}

	if len(bob.received) != 1 {
		t.Fatalf("expected bob to receive 1 relayed message, got %d", len(bob.received))
	}
	if len(alice.received) != 0 {
		t.Fatalf("expected alice (the sender) to receive nothing, got %d", len(alice.received))
	}

	if _, ok := docA.GetNodeByPath("p1/src"); !ok {
		t.Fatal("expected the applied change to be reflected in the room's document")
	}
}

func TestBroadcastScopeAll(t *testing.T) {
	doc := crdt.NewDocument("p1", "alice", testNow)
	r := New("p1", doc, presence.NewManager().GetOrCreate("p1"))

	alice := &recordingSender{}
	bob := &recordingSender{}
	r.Join("alice", alice)
	r.Join("bob", bob)

	r.Broadcast(ScopeAll(), wire.Pong{Timestamp: 1})

	if len(alice.received) != 1 || len(bob.received) != 1 {
		t.Fatalf("expected both peers to receive the broadcast, got alice=%d bob=%d", len(alice.received), len(bob.received))
	}
}

func TestChatHistoryBounded(t *testing.T) {
	doc := crdt.NewDocument("p1", "alice", testNow)
	r := New("p1", doc, presence.NewManager().GetOrCreate("p1"))

	now := time.Unix(0, 0)
	for i := 0; i < chatHistoryCap+10; i++ {
		r.AddChatMessage("alice", "Alice", "hi", now)
	}

	history := r.ChatHistory(0)
	if len(history) != chatHistoryCap {
		t.Fatalf("expected chat history capped at %d, got %d", chatHistoryCap, len(history))
	}
}

func TestRoomLeaveRemovesPeerAndSyncState(t *testing.T) {
	doc := crdt.NewDocument("p1", "alice", testNow)
	r := New("p1", doc, presence.NewManager().GetOrCreate("p1"))

	r.Join("alice", &recordingSender{})
	r.SetSyncState("alice", []byte("state"))

	r.Leave("alice")

	if r.PeerCount() != 0 {
		t.Fatalf("expected 0 peers after Leave, got %d", r.PeerCount())
	}
	if _, ok := r.GetSyncState("alice"); ok {
		t.Fatal("expected sync state to be cleared on Leave")
	}
}

func TestRegistryPutGetRemove(t *testing.T) {
	reg := NewRegistry()
	doc := crdt.NewDocument("p1", "alice", testNow)
	r := New("p1", doc, presence.NewManager().GetOrCreate("p1"))

	reg.Put(r)
	if got, ok := reg.Get("p1"); !ok || got != r {
		t.Fatal("expected Get to return the room just Put")
	}
	if reg.Count() != 1 {
		t.Fatalf("expected count 1, got %d", reg.Count())
	}

	reg.Remove("p1")
	if _, ok := reg.Get("p1"); ok {
		t.Fatal("expected room to be gone after Remove")
	}
}
