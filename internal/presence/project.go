package presence

import (
	"sync"
	"time"

	"github.com/collabforge/syncd/internal/wire"
)

// eventBuffer bounds the per-project broadcast channel; a room's forwarding
// goroutine is expected to drain it promptly, this is slack for bursts.
const eventBuffer = 256

// ProjectPresence is the per-project presence table: one Presence per
// currently-joined peer, plus a channel fanning out the five event kinds to
// whatever room owns this project.
type ProjectPresence struct {
	projectID string

	mu    sync.RWMutex
	peers map[string]*Presence

	events chan Event
}

func newProjectPresence(projectID string) *ProjectPresence {
	return &ProjectPresence{
		projectID: projectID,
		peers:     make(map[string]*Presence),
		events:    make(chan Event, eventBuffer),
	}
}

// Events returns the channel a room subscribes to for presence broadcasts.
func (pp *ProjectPresence) Events() <-chan Event { return pp.events }

func (pp *ProjectPresence) emit(ev Event) {
	select {
	case pp.events <- ev:
	default:
		// a stalled subscriber must not block presence updates; drop this
		// event when the buffer is full rather than backpressure the hot path.
	}
}

// AddPeer registers a new peer's presence, assigning it a random color, and
// emits Joined.
func (pp *ProjectPresence) AddPeer(peerID, name string, now time.Time) *Presence {
	p := newPresence(peerID, name, RandomColor(), now)
	pp.mu.Lock()
	pp.peers[peerID] = p
	pp.mu.Unlock()
	pp.emit(Event{Kind: EventJoined, PeerID: peerID, Snapshot: p.snapshot()})
	return p
}

// RemovePeer deregisters a peer entirely and emits Left. Used when a peer
// disconnects for good, as opposed to going Offline while still registered.
func (pp *ProjectPresence) RemovePeer(peerID string) {
	pp.mu.Lock()
	delete(pp.peers, peerID)
	pp.mu.Unlock()
	pp.emit(Event{Kind: EventLeft, PeerID: peerID})
}

// GetPeer returns the live Presence for peerID, if registered.
func (pp *ProjectPresence) GetPeer(peerID string) (*Presence, bool) {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	p, ok := pp.peers[peerID]
	return p, ok
}

// Snapshot returns an immutable copy of peerID's current presence record.
func (pp *ProjectPresence) Snapshot(peerID string) (Snapshot, bool) {
	p, ok := pp.GetPeer(peerID)
	if !ok {
		return Snapshot{}, false
	}
	return p.snapshot(), true
}

// GetAllPeers returns a snapshot of every registered peer.
func (pp *ProjectPresence) GetAllPeers() []Snapshot {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	out := make([]Snapshot, 0, len(pp.peers))
	for _, p := range pp.peers {
		out = append(out, p.snapshot())
	}
	return out
}

// GetCursorsInFile returns every live cursor currently anchored to path.
func (pp *ProjectPresence) GetCursorsInFile(path string) []Snapshot {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	var out []Snapshot
	for _, p := range pp.peers {
		snap := p.snapshot()
		if snap.Cursor != nil && snap.Cursor.FilePath == path {
			out = append(out, snap)
		}
	}
	return out
}

// PeerCount returns the number of currently registered peers.
func (pp *ProjectPresence) PeerCount() int {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	return len(pp.peers)
}

// IsEmpty reports whether the project has no registered peers.
func (pp *ProjectPresence) IsEmpty() bool { return pp.PeerCount() == 0 }

// UpdateCursor records activity and a new cursor position for peerID,
// emitting CursorMoved.
func (pp *ProjectPresence) UpdateCursor(peerID string, c Cursor, now time.Time) {
	p, ok := pp.GetPeer(peerID)
	if !ok {
		return
	}
	p.touch(now)
	p.setCursor(c)
	pp.emit(Event{Kind: EventCursorMoved, PeerID: peerID, Cursor: c})
}

// UpdateStatus handles a client-reported status/active-file update: it
// touches last-active (which sets the stored status to Active), records the
// active file, and emits StatusChanged carrying the reported status. The
// reported status itself is not stored; stored status changes only through
// touch and the time-driven updateStatus.
func (pp *ProjectPresence) UpdateStatus(peerID string, status wire.PresenceStatus, activeFile string, now time.Time) {
	p, ok := pp.GetPeer(peerID)
	if !ok {
		return
	}
	p.touch(now)
	if activeFile != "" {
		p.openFile(activeFile)
	}
	pp.emit(Event{Kind: EventStatusChanged, PeerID: peerID, Status: status, ActiveFile: activeFile})
}

// SetTyping records a typing-indicator change, emitting TypingChanged only
// when the value actually flips.
func (pp *ProjectPresence) SetTyping(peerID string, typing bool, now time.Time) {
	p, ok := pp.GetPeer(peerID)
	if !ok {
		return
	}
	p.touch(now)
	if p.setTyping(typing) {
		pp.emit(Event{Kind: EventTypingChanged, PeerID: peerID, IsTyping: typing})
	}
}

// CloseFile removes path from peerID's open-files set.
func (pp *ProjectPresence) CloseFile(peerID, path string) {
	if p, ok := pp.GetPeer(peerID); ok {
		p.closeFile(path)
	}
}

// UpdateAllStatuses ticks every peer's time-driven status transition,
// emitting StatusChanged for each peer whose status actually moved.
func (pp *ProjectPresence) UpdateAllStatuses(now time.Time) {
	pp.mu.RLock()
	peers := make([]*Presence, 0, len(pp.peers))
	for _, p := range pp.peers {
		peers = append(peers, p)
	}
	pp.mu.RUnlock()

	for _, p := range peers {
		if status, changed := p.updateStatus(now); changed {
			pp.emit(Event{Kind: EventStatusChanged, PeerID: p.peerID, Status: status})
		}
	}
}

// MarkOffline transitions peerID to Offline without removing its record,
// starting the cursor-retention countdown.
func (pp *ProjectPresence) MarkOffline(peerID string, now time.Time) {
	if p, ok := pp.GetPeer(peerID); ok {
		p.markOffline(now)
		pp.emit(Event{Kind: EventStatusChanged, PeerID: peerID, Status: wire.PresenceOffline})
	}
}

// StalePeerIDs returns every peer whose last activity is older than timeout,
// for the scheduler's session-timeout eviction pass (spec.md §4.6/§4.7): a
// peer this stale is unregistered even though its socket may still be open.
func (pp *ProjectPresence) StalePeerIDs(now time.Time, timeout time.Duration) []string {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	var out []string
	for id, p := range pp.peers {
		if p.staleSince(now, timeout) {
			out = append(out, id)
		}
	}
	return out
}

// CleanupStale purges cursors that have outlived CursorRetention after
// their owner went Offline.
func (pp *ProjectPresence) CleanupStale(now time.Time) {
	pp.mu.RLock()
	peers := make([]*Presence, 0, len(pp.peers))
	for _, p := range pp.peers {
		peers = append(peers, p)
	}
	pp.mu.RUnlock()

	for _, p := range peers {
		if p.cursorExpired(now) {
			p.purgeCursor()
		}
	}
}

// Manager is the process-wide registry of per-project presence tables.
type Manager struct {
	mu       sync.RWMutex
	projects map[string]*ProjectPresence
}

// NewManager creates an empty presence manager.
func NewManager() *Manager {
	return &Manager{projects: make(map[string]*ProjectPresence)}
}

// GetOrCreate returns the project's presence table, creating it on first use.
func (m *Manager) GetOrCreate(projectID string) *ProjectPresence {
	m.mu.RLock()
	pp, ok := m.projects[projectID]
	m.mu.RUnlock()
	if ok {
		return pp
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pp, ok := m.projects[projectID]; ok {
		return pp
	}
	pp = newProjectPresence(projectID)
	m.projects[projectID] = pp
	return pp
}

// Get returns the project's presence table if it has been created.
func (m *Manager) Get(projectID string) (*ProjectPresence, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pp, ok := m.projects[projectID]
	return pp, ok
}

// Remove drops a project's presence table entirely (called on room eviction).
func (m *Manager) Remove(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, projectID)
}

// TotalPeerCount sums peer counts across every tracked project.
func (m *Manager) TotalPeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, pp := range m.projects {
		n += pp.PeerCount()
	}
	return n
}

// ProjectCount returns the number of projects with a presence table.
func (m *Manager) ProjectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.projects)
}

// UpdateAllStatuses ticks status transitions across every tracked project.
func (m *Manager) UpdateAllStatuses(now time.Time) {
	m.mu.RLock()
	projects := make([]*ProjectPresence, 0, len(m.projects))
	for _, pp := range m.projects {
		projects = append(projects, pp)
	}
	m.mu.RUnlock()

	for _, pp := range projects {
		pp.UpdateAllStatuses(now)
	}
}

// CleanupAll purges stale cursors across every tracked project.
func (m *Manager) CleanupAll(now time.Time) {
	m.mu.RLock()
	projects := make([]*ProjectPresence, 0, len(m.projects))
	for _, pp := range m.projects {
		projects = append(projects, pp)
	}
	m.mu.RUnlock()

	for _, pp := range projects {
		pp.CleanupStale(now)
	}
}
