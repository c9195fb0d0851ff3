// Package scheduler runs the sync server's background maintenance loops: a
// periodic save of every dirty room's document, and a periodic cleanup pass
// that evicts idle peers, empty rooms, and stale presence cursors. Each
// concern has its own ticker; both tickers are served by one select loop.
package scheduler

import (
	"context"
	"time"

	"github.com/collabforge/syncd/internal/config"
	"github.com/collabforge/syncd/internal/logger"
	"github.com/collabforge/syncd/internal/presence"
	"github.com/collabforge/syncd/internal/room"
	"github.com/collabforge/syncd/internal/storage"
	"github.com/collabforge/syncd/internal/wire"
)

// Scheduler owns the save and cleanup tickers against a running server's
// registries.
type Scheduler struct {
	cfg      *config.Config
	rooms    *room.Registry
	presence *presence.Manager
	store    *storage.Store
}

// New wires a Scheduler against the already-constructed server registries.
func New(cfg *config.Config, rooms *room.Registry, presenceMgr *presence.Manager, store *storage.Store) *Scheduler {
	return &Scheduler{cfg: cfg, rooms: rooms, presence: presenceMgr, store: store}
}

// Run blocks, driving the save and cleanup loops until ctx is canceled, then
// performs one final save pass before returning. done is closed once that
// final pass has completed, so a caller can block on it before closing the
// store out from under an in-flight save (spec.md §4.7/§9: "the save loop
// performs a final flush pass; then the process exits").
func (s *Scheduler) Run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	saveTicker := time.NewTicker(s.cfg.SaveInterval)
	defer saveTicker.Stop()
	cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.saveAll()
			return
		case <-saveTicker.C:
			s.saveAll()
		case <-cleanupTicker.C:
			s.cleanup()
		}
	}
}

// saveAll persists every room whose document has unsaved changes, rejecting
// (and logging, not crashing on) documents that exceed max_document_size.
// The dirty flag is cleared before the snapshot is taken, so a change that
// lands during the save marks the document dirty again; a save that fails
// is retried only after the document changes again.
func (s *Scheduler) saveAll() {
	for _, r := range s.rooms.All() {
		doc := r.Document()
		if !doc.ClearDirty() {
			continue
		}

		data, err := doc.Save()
		if err != nil {
			logger.ForRoom(r.ProjectID()).Error("serialize document for save", "error", err)
			continue
		}
		if int64(len(data)) > s.cfg.MaxDocumentSize {
			logger.ForRoom(r.ProjectID()).Warn("document exceeds max_document_size, skipping save",
				"size", len(data), "max", s.cfg.MaxDocumentSize)
			continue
		}

		if err := s.store.SaveDocument(r.ProjectID(), data); err != nil {
			logger.ForRoom(r.ProjectID()).Error("save document", "error", err)
			continue
		}

		if _, exists, err := s.store.GetMetadata(r.ProjectID()); err != nil || exists {
			// SaveDocument has already refreshed an existing row's size and
			// updated_at; rewriting it here would replace its display name.
			continue
		}
		if err := s.store.SaveMetadata(storage.DocumentMetadata{
			ProjectID: r.ProjectID(),
			Name:      r.ProjectID(),
			CreatedAt: r.CreatedAt().Unix(),
			UpdatedAt: time.Now().Unix(),
			SizeBytes: uint64(len(data)),
		}); err != nil {
			logger.ForRoom(r.ProjectID()).Error("refresh metadata", "error", err)
		}
	}
}

// cleanup ticks presence status transitions, purges stale cursors, evicts
// peers inactive past session_timeout, and evicts rooms that have sat empty
// past room_idle_timeout.
func (s *Scheduler) cleanup() {
	now := time.Now()
	s.presence.UpdateAllStatuses(now)
	s.presence.CleanupAll(now)

	for _, r := range s.rooms.All() {
		s.evictStalePeers(r, now)

		if !r.IsEmpty() {
			continue
		}
		if now.Sub(r.LastActive()) < s.cfg.RoomIdleTimeout {
			continue
		}
		s.evictRoom(r)
	}
}

// evictStalePeers unregisters peers inactive longer than session_timeout
// (spec.md §5: "this sends PeerLeft and evicts presence but does not close
// an already-open socket — the next send fails and closes naturally").
func (s *Scheduler) evictStalePeers(r *room.Room, now time.Time) {
	for _, peerID := range r.Presence().StalePeerIDs(now, s.cfg.SessionTimeout) {
		// Broadcast before Leave so the evicted peer, whose socket stays
		// open, is told as well as the rest of the room.
		r.Broadcast(room.ScopeAll(), wire.PeerLeft{ProjectID: r.ProjectID(), PeerID: peerID, Reason: "session_timeout"})
		r.Leave(peerID)
		r.Presence().RemovePeer(peerID)
		logger.ForPeerRoom(peerID, r.ProjectID()).Info("evicted stale peer")
	}
}

func (s *Scheduler) evictRoom(r *room.Room) {
	doc := r.Document()
	if doc.Dirty() {
		if data, err := doc.Save(); err != nil {
			logger.ForRoom(r.ProjectID()).Error("final save before eviction", "error", err)
		} else if err := s.store.SaveDocument(r.ProjectID(), data); err != nil {
			logger.ForRoom(r.ProjectID()).Error("save document before eviction", "error", err)
		} else {
			doc.ClearDirty()
		}
	}
	s.rooms.Remove(r.ProjectID())
	s.presence.Remove(r.ProjectID())
	logger.ForRoom(r.ProjectID()).Info("evicted idle room")
}
