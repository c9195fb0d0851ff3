package crdt

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
)

// charID uniquely identifies a character across every replica: a Lamport
// counter paired with the actor that minted it (Apply advances the local
// counter past every seq it sees, so a new local insert outranks every
// character already present). The zero value is the sentinel meaning
// "before the first character" (the document head).
type charID struct {
	Seq   uint64
	Actor string
}

func (id charID) isHead() bool { return id == charID{} }

// charNode is one tombstone-or-live character in the text CRDT.
type charNode struct {
	id      charID
	after   charID
	ch      rune
	deleted bool
}

// Text is a sequence CRDT (an RGA: Replicated Growable Array) supporting
// convergent concurrent splices and stable cursor handles. Insert ordering
// among concurrent siblings is resolved deterministically by (seq desc,
// actor asc) so that any two replicas applying the same operation set, in
// any order, converge to the same character sequence.
type Text struct {
	mu    sync.RWMutex
	actor string
	seq   uint64
	nodes []charNode
	index map[charID]int
}

// NewText creates an empty text CRDT whose locally authored operations are
// attributed to actor.
func NewText(actor string) *Text {
	return &Text{actor: actor, index: make(map[charID]int)}
}

// InsertOp places a single character after the node identified by After
// (the zero value means "at the document head").
type InsertOp struct {
	ID    charID
	After charID
	Char  rune
}

// DeleteOp tombstones a previously inserted character.
type DeleteOp struct {
	ID charID
}

// Op is one operation in a change set: exactly one of Insert or Delete is set.
type Op struct {
	Insert *InsertOp
	Delete *DeleteOp
}

// Text returns the current live character sequence, ignoring tombstones.
func (t *Text) Text() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.textLocked()
}

func (t *Text) textLocked() string {
	var b strings.Builder
	for _, n := range t.nodes {
		if !n.deleted {
			b.WriteRune(n.ch)
		}
	}
	return b.String()
}

// Len returns the number of live (non-tombstoned) characters.
func (t *Text) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, c := range t.nodes {
		if !c.deleted {
			n++
		}
	}
	return n
}

// Splice authors a local change: deletes deleteCount live characters
// starting at pos, then inserts insertText at that position. It returns the
// ops representing the change, which the caller folds into the document's
// change log for get_changes_since/apply_changes.
func (t *Text) Splice(pos, deleteCount int, insertText string) []Op {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ops []Op

	// Resolve the live-character index `pos` to the id directly preceding it.
	after := t.liveIDAtOffsetLocked(pos)

	for i := 0; i < deleteCount; i++ {
		id, ok := t.liveIDAtLiveOffsetLocked(pos)
		if !ok {
			break
		}
		t.markDeletedLocked(id)
		ops = append(ops, Op{Delete: &DeleteOp{ID: id}})
	}

	for _, r := range insertText {
		t.seq++
		id := charID{Seq: t.seq, Actor: t.actor}
		t.insertLocked(id, after, r)
		ops = append(ops, Op{Insert: &InsertOp{ID: id, After: after, Char: r}})
		after = id
	}

	return ops
}

// Apply idempotently integrates a remote change set. Re-applying an
// identical set of ops (e.g. a duplicate relay) is a no-op for every op
// whose id has already been seen.
func (t *Text) Apply(ops []Op) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, op := range ops {
		switch {
		case op.Insert != nil:
			if _, seen := t.index[op.Insert.ID]; seen {
				continue
			}
			t.insertLocked(op.Insert.ID, op.Insert.After, op.Insert.Char)
			// Lamport rule: keep the local counter at or above every seq
			// seen, so later local inserts order ahead of their siblings.
			if op.Insert.ID.Seq > t.seq {
				t.seq = op.Insert.ID.Seq
			}
		case op.Delete != nil:
			t.markDeletedLocked(op.Delete.ID)
		default:
			return fmt.Errorf("crdt: empty op")
		}
	}
	return nil
}

// insertLocked inserts a new node after `after`, resolving concurrent
// sibling order by (seq desc, actor asc). Caller holds t.mu.
func (t *Text) insertLocked(id, after charID, ch rune) {
	pos := t.siblingInsertPositionLocked(after, id)
	node := charNode{id: id, after: after, ch: ch}
	t.nodes = append(t.nodes, charNode{})
	copy(t.nodes[pos+1:], t.nodes[pos:])
	t.nodes[pos] = node
	t.reindexFromLocked(pos)
}

func (t *Text) siblingInsertPositionLocked(after, newID charID) int {
	start := 0
	if !after.isHead() {
		idx, ok := t.index[after]
		if !ok {
			// Causal dependency not yet seen locally; place at the end.
			// Callers are expected to deliver ops in causal order (the
			// document's change log preserves authoring order), so this
			// is a defensive fallback rather than the common case.
			return len(t.nodes)
		}
		start = idx + 1
	}
	pos := start
	for pos < len(t.nodes) && t.nodes[pos].after == after && siblingPrecedes(t.nodes[pos].id, newID) {
		// Skip the preceding sibling together with its whole subtree: every
		// following node anchored, directly or transitively, inside it.
		subtree := map[charID]bool{t.nodes[pos].id: true}
		pos++
		for pos < len(t.nodes) && subtree[t.nodes[pos].after] {
			subtree[t.nodes[pos].id] = true
			pos++
		}
	}
	return pos
}

// siblingPrecedes reports whether a should stay ordered before b when both
// are direct siblings (same After anchor): higher seq first, actor name
// breaks ties.
func siblingPrecedes(a, b charID) bool {
	if a.Seq != b.Seq {
		return a.Seq > b.Seq
	}
	return a.Actor < b.Actor
}

func (t *Text) reindexFromLocked(from int) {
	if t.index == nil {
		t.index = make(map[charID]int, len(t.nodes))
	}
	for i := from; i < len(t.nodes); i++ {
		t.index[t.nodes[i].id] = i
	}
}

func (t *Text) markDeletedLocked(id charID) {
	if idx, ok := t.index[id]; ok {
		t.nodes[idx].deleted = true
	}
}

// liveIDAtOffsetLocked returns the id of the live character immediately
// before the given live-character offset (head sentinel if offset is 0).
func (t *Text) liveIDAtOffsetLocked(offset int) charID {
	if offset <= 0 {
		return charID{}
	}
	seen := 0
	for _, n := range t.nodes {
		if n.deleted {
			continue
		}
		seen++
		if seen == offset {
			return n.id
		}
	}
	if len(t.nodes) == 0 {
		return charID{}
	}
	// offset beyond the end: anchor on the last live character.
	for i := len(t.nodes) - 1; i >= 0; i-- {
		if !t.nodes[i].deleted {
			return t.nodes[i].id
		}
	}
	return charID{}
}

// liveIDAtLiveOffsetLocked returns the id of the live character currently
// at live-character offset `offset` (0-based), used to resolve deletes.
func (t *Text) liveIDAtLiveOffsetLocked(offset int) (charID, bool) {
	seen := 0
	for _, n := range t.nodes {
		if n.deleted {
			continue
		}
		if seen == offset {
			return n.id, true
		}
		seen++
	}
	return charID{}, false
}

// CursorHandle is an opaque, stable handle to a character: the id of the
// character immediately preceding the cursor position at creation time.
// ResolveCursor re-anchors it to that same logical character after any
// number of remote edits, as long as the anchor itself was not deleted.
type CursorHandle struct {
	anchor charID
}

// Bytes serializes the handle for transport (wire.CursorUpdate.CursorHandle).
func (h CursorHandle) Bytes() []byte {
	buf := make([]byte, 8+len(h.anchor.Actor))
	binary.BigEndian.PutUint64(buf[:8], h.anchor.Seq)
	copy(buf[8:], h.anchor.Actor)
	return buf
}

// ParseCursorHandle deserializes bytes produced by CursorHandle.Bytes.
func ParseCursorHandle(b []byte) (CursorHandle, error) {
	if len(b) < 8 {
		if len(b) == 0 {
			return CursorHandle{}, nil
		}
		return CursorHandle{}, fmt.Errorf("crdt: short cursor handle")
	}
	seq := binary.BigEndian.Uint64(b[:8])
	actor := string(b[8:])
	return CursorHandle{anchor: charID{Seq: seq, Actor: actor}}, nil
}

// GetCursor produces a stable handle for the character position pos
// (0-based, counted in live characters).
func (t *Text) GetCursor(pos int) CursorHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return CursorHandle{anchor: t.liveIDAtOffsetLocked(pos)}
}

// ResolveCursor re-anchors a handle to its current live-character offset.
// If the anchor character was deleted, it resolves to the offset the
// tombstone would occupy among live characters (best-effort), since the
// stability contract only covers edits that do not delete the anchor.
func (t *Text) ResolveCursor(h CursorHandle) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h.anchor.isHead() {
		return 0
	}
	idx, ok := t.index[h.anchor]
	if !ok {
		return 0
	}
	pos := 0
	for i := 0; i < idx; i++ {
		if !t.nodes[i].deleted {
			pos++
		}
	}
	if !t.nodes[idx].deleted {
		pos++
	}
	return pos
}
