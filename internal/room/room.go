// Package room implements the per-project runtime aggregate: the
// authoritative CRDT document, the live peer set, presence, a bounded chat
// history, and the six-step sync-merge protocol. A Room is created on first
// join of a project and evicted by the scheduler once it has sat empty past
// the grace period.
package room

import (
	"fmt"
	"sync"
	"time"

	"github.com/collabforge/syncd/internal/crdt"
	"github.com/collabforge/syncd/internal/presence"
	"github.com/collabforge/syncd/internal/wire"
)

// chatHistoryCap bounds the in-room chat ring buffer (supplemented feature,
// not present in spec.md's core column families — this is ephemeral,
// in-memory only, and lost on room eviction).
const chatHistoryCap = 200

// Sender delivers a server message to one peer's outbound channel. It must
// never block; internal/server backs this with a buffered channel and drops
// a peer whose queue is full, so a slow peer cannot stall a broadcast to the
// rest of the room.
type Sender interface {
	Send(msg wire.ServerMessage)
}

// Room is the per-project aggregate described in spec.md §4.5.
type Room struct {
	projectID string
	doc       *crdt.Document
	presence  *presence.ProjectPresence

	peersMu    sync.RWMutex
	peers      map[string]Sender
	syncStates map[string][]byte

	activityMu sync.Mutex
	createdAt  time.Time
	lastActive time.Time

	chatMu sync.Mutex
	chat   []wire.ChatHistoryItem
}

// New creates a room wrapping an already-loaded-or-fresh document.
func New(projectID string, doc *crdt.Document, pp *presence.ProjectPresence) *Room {
	now := time.Now()
	return &Room{
		projectID:  projectID,
		doc:        doc,
		presence:   pp,
		peers:      make(map[string]Sender),
		syncStates: make(map[string][]byte),
		createdAt:  now,
		lastActive: now,
	}
}

// ProjectID returns the room's project identifier.
func (r *Room) ProjectID() string { return r.projectID }

// Document returns the room's authoritative CRDT document.
func (r *Room) Document() *crdt.Document { return r.doc }

// Presence returns the room's presence table.
func (r *Room) Presence() *presence.ProjectPresence { return r.presence }

// CreatedAt returns when the room was first materialized.
func (r *Room) CreatedAt() time.Time {
	r.activityMu.Lock()
	defer r.activityMu.Unlock()
	return r.createdAt
}

// LastActive returns the most recent time a peer joined, left, or
// synced against this room.
func (r *Room) LastActive() time.Time {
	r.activityMu.Lock()
	defer r.activityMu.Unlock()
	return r.lastActive
}

func (r *Room) touch() {
	r.activityMu.Lock()
	r.lastActive = time.Now()
	r.activityMu.Unlock()
}

// Join registers a peer's sender in the room's fan-out set.
func (r *Room) Join(peerID string, sender Sender) {
	r.peersMu.Lock()
	r.peers[peerID] = sender
	r.peersMu.Unlock()
	r.touch()
}

// Leave removes a peer from the room's fan-out set and drops its sync state.
func (r *Room) Leave(peerID string) {
	r.peersMu.Lock()
	delete(r.peers, peerID)
	delete(r.syncStates, peerID)
	r.peersMu.Unlock()
	r.touch()
}

// PeerIDs returns every peer id currently joined to the room.
func (r *Room) PeerIDs() []string {
	r.peersMu.RLock()
	defer r.peersMu.RUnlock()
	out := make([]string, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	return out
}

// PeerCount returns the number of peers currently joined.
func (r *Room) PeerCount() int {
	r.peersMu.RLock()
	defer r.peersMu.RUnlock()
	return len(r.peers)
}

// IsEmpty reports whether the room has no joined peers.
func (r *Room) IsEmpty() bool { return r.PeerCount() == 0 }

// Broadcast sends msg to every peer matched by scope.
func (r *Room) Broadcast(scope BroadcastScope, msg wire.ServerMessage) {
	r.peersMu.RLock()
	defer r.peersMu.RUnlock()
	for id, sender := range r.peers {
		if scope.includes(id) {
			sender.Send(msg)
		}
	}
}

// SetSyncState records a peer's latest sync-state bytes in memory. Leave
// drops them; the server reads a joining peer's prior state from storage,
// not from here.
func (r *Room) SetSyncState(peerID string, state []byte) {
	r.peersMu.Lock()
	r.syncStates[peerID] = state
	r.peersMu.Unlock()
}

// GetSyncState returns a peer's last-recorded sync state, if any.
func (r *Room) GetSyncState(peerID string) ([]byte, bool) {
	r.peersMu.RLock()
	defer r.peersMu.RUnlock()
	s, ok := r.syncStates[peerID]
	return s, ok
}

// ApplySync runs the six-step merge protocol (spec.md §4.5) for a sync
// payload received from fromPeer: decode, apply under the document's lock,
// mark dirty/touch, optionally snapshot a reverse payload, then relay the
// original payload to every other peer outside the lock. The apply and the
// reverse snapshot each take the document lock on their own, so the
// snapshot can also include changes another sync applied in between.
func (r *Room) ApplySync(fromPeer string, syncData []byte, wantReverse bool) (reverse []byte, err error) {
	changes, err := crdt.DecodeChanges(syncData)
	if err != nil {
		return nil, fmt.Errorf("room: decode sync payload: %w", err)
	}

	if err := r.doc.ApplyChanges(changes); err != nil {
		return nil, fmt.Errorf("room: apply changes: %w", err)
	}
	r.touch()

	if wantReverse {
		reverse, err = r.doc.Save()
		if err != nil {
			return nil, fmt.Errorf("room: snapshot reverse payload: %w", err)
		}
	}

	r.Broadcast(ScopeExcludePeer(fromPeer), wire.ServerSyncMessage{
		ProjectID: r.projectID,
		SyncData:  syncData,
		FromPeer:  fromPeer,
	})
	return reverse, nil
}

// AddChatMessage appends to the room's bounded chat ring buffer and returns
// the broadcast item.
func (r *Room) AddChatMessage(peerID, peerName, content string, now time.Time) wire.ChatHistoryItem {
	item := wire.ChatHistoryItem{
		PeerID:    peerID,
		PeerName:  peerName,
		Content:   content,
		Timestamp: now.Unix(),
	}
	r.chatMu.Lock()
	r.chat = append(r.chat, item)
	if len(r.chat) > chatHistoryCap {
		r.chat = r.chat[len(r.chat)-chatHistoryCap:]
	}
	r.chatMu.Unlock()
	return item
}

// ChatHistory returns the most recent limit messages (all of them if limit
// is 0 or exceeds the buffer's length).
func (r *Room) ChatHistory(limit int) []wire.ChatHistoryItem {
	r.chatMu.Lock()
	defer r.chatMu.Unlock()
	if limit <= 0 || limit > len(r.chat) {
		limit = len(r.chat)
	}
	start := len(r.chat) - limit
	out := make([]wire.ChatHistoryItem, limit)
	copy(out, r.chat[start:])
	return out
}
