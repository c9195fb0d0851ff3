// Package presence tracks ephemeral per-project collaborator state: cursors,
// online/idle/away status, typing indicators, and open files. None of this
// lives in the CRDT document — it is too high-frequency and too disposable
// to deserve a place in the change log.
package presence

import (
	"math/rand"
	"sync"
	"time"

	"github.com/collabforge/syncd/internal/wire"
)

// Time-driven status thresholds and cursor retention, exact values a room's
// cleanup pass and status-tick pass both rely on.
const (
	IdleTimeout     = 60 * time.Second
	AwayTimeout     = 300 * time.Second
	CursorRetention = 5 * time.Second
)

// palette is the fixed 14-entry set of display colors assigned at random on
// join.
var palette = []string{
	"#3b82f6", "#ef4444", "#22c55e", "#f59e0b", "#8b5cf6", "#ec4899", "#06b6d4",
	"#f97316", "#14b8a6", "#a855f7", "#84cc16", "#6366f1", "#d946ef", "#0ea5e9",
}

// RandomColor picks one of the fixed palette entries.
func RandomColor() string {
	return palette[rand.Intn(len(palette))]
}

// Cursor is a peer's last-known position in a file.
type Cursor struct {
	FilePath     string
	Line         uint32
	Column       uint32
	SelectionEnd *wire.SelectionEnd
	Handle       []byte
	UpdatedAt    time.Time
}

// EventKind discriminates the five broadcast event shapes a room subscribes to.
type EventKind uint8

const (
	EventJoined EventKind = iota
	EventLeft
	EventCursorMoved
	EventStatusChanged
	EventTypingChanged
)

// Event is one presence change, fanned out on a project's broadcast channel
// for the owning room to translate into wire broadcasts.
type Event struct {
	Kind       EventKind
	PeerID     string
	Snapshot   Snapshot
	Cursor     Cursor
	Status     wire.PresenceStatus
	ActiveFile string
	IsTyping   bool
}

// Snapshot is an immutable copy of a Presence record, safe to read without
// the originating Presence's lock held.
type Snapshot struct {
	PeerID     string
	Name       string
	Color      string
	Status     wire.PresenceStatus
	ActiveFile string
	Cursor     *Cursor
	JoinedAt   time.Time
	LastActive time.Time
	IsTyping   bool
	OpenFiles  []string
}

// Presence is one peer's live collaboration state within a project.
type Presence struct {
	mu         sync.RWMutex
	peerID     string
	name       string
	color      string
	status     wire.PresenceStatus
	activeFile string
	cursor     *Cursor
	joinedAt   time.Time
	lastActive time.Time
	isTyping   bool
	openFiles  map[string]struct{}
	offlineAt  time.Time
}

func newPresence(peerID, name, color string, now time.Time) *Presence {
	return &Presence{
		peerID:     peerID,
		name:       name,
		color:      color,
		status:     wire.PresenceActive,
		joinedAt:   now,
		lastActive: now,
		openFiles:  make(map[string]struct{}),
	}
}

func (p *Presence) touch(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = wire.PresenceActive
	p.lastActive = now
}

// updateStatus applies the time-driven transition rule: Active for <= 60s
// inactivity, Idle for <= 300s, Away beyond that. Offline peers never
// transition automatically — they are cleared explicitly by remove.
func (p *Presence) updateStatus(now time.Time) (wire.PresenceStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == wire.PresenceOffline {
		return p.status, false
	}
	elapsed := now.Sub(p.lastActive)
	next := wire.PresenceActive
	switch {
	case elapsed > AwayTimeout:
		next = wire.PresenceAway
	case elapsed > IdleTimeout:
		next = wire.PresenceIdle
	}
	changed := next != p.status
	p.status = next
	return next, changed
}

// staleSince reports whether the peer has been inactive longer than timeout.
func (p *Presence) staleSince(now time.Time, timeout time.Duration) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return now.Sub(p.lastActive) > timeout
}

func (p *Presence) setCursor(c Cursor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := c
	p.cursor = &cp
}

func (p *Presence) clearCursor() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = nil
}

func (p *Presence) setTyping(typing bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := p.isTyping != typing
	p.isTyping = typing
	return changed
}

func (p *Presence) openFile(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openFiles[path] = struct{}{}
	p.activeFile = path
}

func (p *Presence) closeFile(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.openFiles, path)
	if p.activeFile == path {
		p.activeFile = ""
	}
}

func (p *Presence) markOffline(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = wire.PresenceOffline
	p.offlineAt = now
}

// cursorExpired reports whether an offline peer's cursor has outlived
// CursorRetention and should be purged by the cleanup pass.
func (p *Presence) cursorExpired(now time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.status != wire.PresenceOffline || p.cursor == nil {
		return false
	}
	return now.Sub(p.offlineAt) > CursorRetention
}

func (p *Presence) purgeCursor() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = nil
}

func (p *Presence) snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	files := make([]string, 0, len(p.openFiles))
	for f := range p.openFiles {
		files = append(files, f)
	}
	var cur *Cursor
	if p.cursor != nil {
		cp := *p.cursor
		cur = &cp
	}
	return Snapshot{
		PeerID:     p.peerID,
		Name:       p.name,
		Color:      p.color,
		Status:     p.status,
		ActiveFile: p.activeFile,
		Cursor:     cur,
		JoinedAt:   p.joinedAt,
		LastActive: p.lastActive,
		IsTyping:   p.isTyping,
		OpenFiles:  files,
	}
}
