package scheduler

import (
	"testing"
	"time"

	"github.com/collabforge/syncd/internal/config"
	"github.com/collabforge/syncd/internal/crdt"
	"github.com/collabforge/syncd/internal/presence"
	"github.com/collabforge/syncd/internal/room"
	"github.com/collabforge/syncd/internal/storage"
	"github.com/collabforge/syncd/internal/wire"
)

type recordingSender struct {
	received []wire.ServerMessage
}

func (s *recordingSender) Send(msg wire.ServerMessage) { s.received = append(s.received, msg) }

func testNow() int64 { return 1000 }

func newTestScheduler(t *testing.T) (*Scheduler, *storage.Store, *presence.Manager, *room.Registry) {
	t.Helper()
	store, err := storage.Open(":memory:", false)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Defaults()
	cfg.SessionTimeout = 5 * time.Minute
	cfg.RoomIdleTimeout = 5 * time.Minute

	presenceMgr := presence.NewManager()
	rooms := room.NewRegistry()
	return New(cfg, rooms, presenceMgr, store), store, presenceMgr, rooms
}

func TestSaveAllPersistsOnlyDirtyDocuments(t *testing.T) {
	sched, store, presenceMgr, rooms := newTestScheduler(t)

	doc := crdt.NewDocument("p1", "alice", testNow)
	r := room.New("p1", doc, presenceMgr.GetOrCreate("p1"))
	rooms.Put(r)

	// A fresh document has no authored changes yet, so it isn't dirty.
	sched.saveAll()
	if _, ok, _ := store.LoadDocument("p1"); ok {
		t.Fatal("expected no save for a clean document")
	}

	doc.CreateFolder("src", doc.RootID(), "src")
	sched.saveAll()
	if _, ok, _ := store.LoadDocument("p1"); !ok {
		t.Fatal("expected the dirty document to be saved")
	}
	if doc.Dirty() {
		t.Fatal("expected ClearDirty after a successful save")
	}
}

func TestCleanupEvictsStalePeers(t *testing.T) {
	sched, _, presenceMgr, rooms := newTestScheduler(t)

	doc := crdt.NewDocument("p1", "alice", testNow)
	pp := presenceMgr.GetOrCreate("p1")
	r := room.New("p1", doc, pp)
	rooms.Put(r)

	base := time.Now()
	pp.AddPeer("alice", "Alice", base)
	sender := &recordingSender{}
	r.Join("alice", sender)

	// Advance past session_timeout without any activity from alice.
	laterCleanup := func(now time.Time) {
		pp.UpdateAllStatuses(now)
		pp.CleanupStale(now)
		sched.evictStalePeers(r, now)
	}
	laterCleanup(base.Add(10 * time.Minute))

	if r.PeerCount() != 0 {
		t.Fatalf("expected stale peer evicted from room, got %d peers", r.PeerCount())
	}
	if _, ok := pp.GetPeer("alice"); ok {
		t.Fatal("expected stale peer removed from presence")
	}
	if len(sender.received) != 1 {
		t.Fatalf("expected a single PeerLeft broadcast, got %d", len(sender.received))
	}
	if _, ok := sender.received[0].(wire.PeerLeft); !ok {
		t.Fatalf("expected PeerLeft, got %T", sender.received[0])
	}
}

func TestCleanupEvictsEmptyRoomPastIdleTimeout(t *testing.T) {
	sched, _, presenceMgr, rooms := newTestScheduler(t)
	sched.cfg.RoomIdleTimeout = 0 // evict immediately once empty, for a deterministic test

	doc := crdt.NewDocument("p1", "alice", testNow)
	r := room.New("p1", doc, presenceMgr.GetOrCreate("p1"))
	rooms.Put(r)

	if !r.IsEmpty() {
		t.Fatal("expected a freshly created room to be empty")
	}

	sched.cleanup()
	if _, ok := rooms.Get("p1"); ok {
		t.Fatal("expected the empty room evicted past its idle timeout")
	}
}
