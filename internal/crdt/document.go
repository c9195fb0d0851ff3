package crdt

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// VectorClock tracks the highest change sequence seen from each actor. Two
// documents with equal clocks have applied exactly the same change set.
type VectorClock map[string]uint64

// Clone returns an independent copy of the clock.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// ChangeKind discriminates the payload carried by a Change.
type ChangeKind string

const (
	ChangeCreateFolder ChangeKind = "create_folder"
	ChangeCreateFile   ChangeKind = "create_file"
	ChangeRenameNode   ChangeKind = "rename_node"
	ChangeMoveNode     ChangeKind = "move_node"
	ChangeDeleteNode   ChangeKind = "delete_node"
	ChangeTextOp       ChangeKind = "text_op"
)

// Change is one entry in a document's op log: a single CRDT mutation
// attributed to the actor and sequence number that authored it. Change logs
// are exchanged between replicas via get_changes_since/apply_changes and
// must replay deterministically regardless of arrival order.
type Change struct {
	Actor string     `cbor:"1,keyasint"`
	Seq   uint64     `cbor:"2,keyasint"`
	Kind  ChangeKind `cbor:"3,keyasint"`

	NodeID   string `cbor:"4,keyasint,omitempty"`
	ParentID string `cbor:"5,keyasint,omitempty"`
	Name     string `cbor:"6,keyasint,omitempty"`
	Language string `cbor:"7,keyasint,omitempty"`

	Path string `cbor:"8,keyasint,omitempty"`
	Ops  []Op   `cbor:"9,keyasint,omitempty"`
}

func (c Change) key() changeKey { return changeKey{c.Actor, c.Seq} }

type changeKey struct {
	actor string
	seq   uint64
}

// fileEntry pairs a file's text CRDT with its monotonic content version
// (invariant 9: version strictly increases on every accepted edit).
type fileEntry struct {
	text    *Text
	version uint64
}

// Document ties the movable file tree together with one Text CRDT per file
// path and a causal change log, giving the room layer everything it needs
// for get_heads / get_changes_since / apply_changes / save / load / merge.
type Document struct {
	mu sync.RWMutex

	projectID string
	actor     string
	now       func() int64

	tree  *Tree
	files map[string]*fileEntry

	seq   uint64
	clock VectorClock
	log   []Change
	seen  map[changeKey]bool

	dirty bool
}

// NewDocument creates an empty document for a project, rooted at a directory
// named after the project and authored locally as actor.
func NewDocument(projectID, actor string, now func() int64) *Document {
	return &Document{
		projectID: projectID,
		actor:     actor,
		now:       now,
		tree:      NewTree(rootNodeID, projectID, now),
		files:     make(map[string]*fileEntry),
		clock:     make(VectorClock),
		seen:      make(map[changeKey]bool),
	}
}

const rootNodeID = "root"

// ProjectID returns the project this document belongs to.
func (d *Document) ProjectID() string { return d.projectID }

// Dirty reports whether the document has unsaved changes.
func (d *Document) Dirty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dirty
}

// ClearDirty atomically reads and clears the dirty flag (used by the save
// loop so a concurrent writer setting it mid-save is not lost).
func (d *Document) ClearDirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	was := d.dirty
	d.dirty = false
	return was
}

func (d *Document) nextSeq() uint64 {
	d.seq++
	d.clock[d.actor] = d.seq
	return d.seq
}

func (d *Document) record(c Change) {
	d.log = append(d.log, c)
	d.seen[c.key()] = true
	if c.Seq > d.clock[c.Actor] {
		d.clock[c.Actor] = c.Seq
	}
	d.dirty = true
}

// RootID returns the id of the document's root tree node.
func (d *Document) RootID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tree.RootID()
}

// GetNode returns the tree node with the given id.
func (d *Document) GetNode(id string) (*FileNode, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tree.Get(id)
}

// GetNodeByPath returns the tree node at the given path.
func (d *Document) GetNodeByPath(path string) (*FileNode, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tree.GetByPath(path)
}

// AllNodes returns every node in the file tree.
func (d *Document) AllNodes() []*FileNode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tree.AllNodes()
}

// CreateFolder authors a new directory node and appends the change to the log.
func (d *Document) CreateFolder(id, parentID, name string) (*FileNode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.tree.CreateFolder(id, parentID, name)
	if err != nil {
		return nil, err
	}
	d.record(Change{Actor: d.actor, Seq: d.nextSeq(), Kind: ChangeCreateFolder, NodeID: id, ParentID: parentID, Name: name})
	return n, nil
}

// CreateFile authors a new file node (with an empty text body) and appends
// the change to the log.
func (d *Document) CreateFile(id, parentID, name, language string) (*FileNode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.tree.CreateFile(id, parentID, name, language)
	if err != nil {
		return nil, err
	}
	d.files[n.Path] = &fileEntry{text: NewText(d.actor), version: 1}
	d.record(Change{Actor: d.actor, Seq: d.nextSeq(), Kind: ChangeCreateFile, NodeID: id, ParentID: parentID, Name: name, Language: language})
	return n, nil
}

// RenameNode renames a node, migrating its file entry's key if it has content.
func (d *Document) RenameNode(id, newName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	before := d.captureSubtreePaths(id)
	if err := d.tree.RenameNode(id, newName); err != nil {
		return err
	}
	d.migrateFileEntries(before)
	d.record(Change{Actor: d.actor, Seq: d.nextSeq(), Kind: ChangeRenameNode, NodeID: id, Name: newName})
	return nil
}

// MoveNode reparents a node, migrating file entries for it and its descendants.
func (d *Document) MoveNode(id, newParentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	before := d.captureSubtreePaths(id)
	if err := d.tree.MoveNode(id, newParentID); err != nil {
		return err
	}
	d.migrateFileEntries(before)
	d.record(Change{Actor: d.actor, Seq: d.nextSeq(), Kind: ChangeMoveNode, NodeID: id, ParentID: newParentID})
	return nil
}

// captureSubtreePaths snapshots id's (and its descendants') current paths,
// indexed by node id, so a subsequent rename/move can be translated into a
// precise old-path -> new-path rekey of d.files regardless of how many
// descendant paths the tree mutation rewrote.
func (d *Document) captureSubtreePaths(id string) map[string]string {
	out := make(map[string]string)
	var walk func(nodeID string)
	walk = func(nodeID string) {
		n, ok := d.tree.Get(nodeID)
		if !ok {
			return
		}
		out[nodeID] = n.Path
		for _, cid := range n.Children {
			walk(cid)
		}
	}
	walk(id)
	return out
}

// migrateFileEntries re-keys d.files from each node's pre-mutation path
// (captured by captureSubtreePaths) to its current, post-mutation path.
func (d *Document) migrateFileEntries(before map[string]string) {
	for nodeID, oldPath := range before {
		n, ok := d.tree.Get(nodeID)
		if !ok || n.Kind != KindFile {
			continue
		}
		if n.Path == oldPath {
			continue
		}
		if e, ok := d.files[oldPath]; ok {
			delete(d.files, oldPath)
			d.files[n.Path] = e
		}
	}
}

// DeleteNode removes a node and its subtree, dropping any file entries underneath it.
func (d *Document) DeleteNode(id string) ([]*FileNode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	deleted, err := d.tree.DeleteNode(id)
	if err != nil {
		return nil, err
	}
	for _, n := range deleted {
		if n.Kind == KindFile {
			delete(d.files, n.Path)
		}
	}
	d.record(Change{Actor: d.actor, Seq: d.nextSeq(), Kind: ChangeDeleteNode, NodeID: id})
	return deleted, nil
}

// GetFileContent returns the live text of the file at path.
func (d *Document) GetFileContent(path string) (string, uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.files[path]
	if !ok {
		return "", 0, false
	}
	return e.text.Text(), e.version, true
}

// SpliceFile authors a local text edit against the file at path.
func (d *Document) SpliceFile(path string, pos, deleteCount int, insertText string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.files[path]
	if !ok {
		return fmt.Errorf("crdt: file not found: %s", path)
	}
	// Characters authored here belong to this replica's actor, whichever
	// actor created the file's Text (a remote creator, a snapshot, a fork).
	e.text.mu.Lock()
	e.text.actor = d.actor
	e.text.mu.Unlock()
	ops := e.text.Splice(pos, deleteCount, insertText)
	e.version++
	d.record(Change{Actor: d.actor, Seq: d.nextSeq(), Kind: ChangeTextOp, Path: path, Ops: ops})
	return nil
}

// GetCursor produces a stable cursor handle into the file at path.
func (d *Document) GetCursor(path string, pos int) (CursorHandle, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.files[path]
	if !ok {
		return CursorHandle{}, false
	}
	return e.text.GetCursor(pos), true
}

// ResolveCursor re-anchors a cursor handle to its current live offset.
func (d *Document) ResolveCursor(path string, h CursorHandle) (int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.files[path]
	if !ok {
		return 0, false
	}
	return e.text.ResolveCursor(h), true
}

// GetHeads returns a snapshot of the document's current vector clock.
func (d *Document) GetHeads() VectorClock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clock.Clone()
}

// GetChangesSince returns every logged change not yet reflected in heads, in
// log order (callers must deliver changes in this order — the text CRDT's
// insert resolution assumes causal delivery).
func (d *Document) GetChangesSince(heads VectorClock) []Change {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Change
	for _, c := range d.log {
		if c.Seq > heads[c.Actor] {
			out = append(out, c)
		}
	}
	return out
}

// ApplyChanges idempotently replays a remote change set. Changes already
// seen (by actor+seq) are skipped, so re-delivery of the same set is a no-op.
func (d *Document) ApplyChanges(changes []Change) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range changes {
		if d.seen[c.key()] {
			continue
		}
		if err := d.applyOneLocked(c); err != nil {
			return fmt.Errorf("crdt: apply change %s/%d: %w", c.Actor, c.Seq, err)
		}
		d.seen[c.key()] = true
		if c.Seq > d.clock[c.Actor] {
			d.clock[c.Actor] = c.Seq
		}
		d.log = append(d.log, c)
		d.dirty = true
	}
	return nil
}

func (d *Document) applyOneLocked(c Change) error {
	switch c.Kind {
	case ChangeCreateFolder:
		_, err := d.tree.CreateFolder(c.NodeID, c.ParentID, c.Name)
		if err == ErrPathExists {
			return nil
		}
		return err
	case ChangeCreateFile:
		n, err := d.tree.CreateFile(c.NodeID, c.ParentID, c.Name, c.Language)
		if err == ErrPathExists {
			return nil
		}
		if err != nil {
			return err
		}
		if _, exists := d.files[n.Path]; !exists {
			d.files[n.Path] = &fileEntry{text: NewText(c.Actor), version: 1}
		}
		return nil
	case ChangeRenameNode:
		before := d.captureSubtreePaths(c.NodeID)
		if err := d.tree.RenameNode(c.NodeID, c.Name); err != nil {
			if err == ErrNodeNotFound {
				return nil
			}
			return err
		}
		d.migrateFileEntries(before)
		return nil
	case ChangeMoveNode:
		before := d.captureSubtreePaths(c.NodeID)
		if err := d.tree.MoveNode(c.NodeID, c.ParentID); err != nil {
			if err == ErrNodeNotFound || err == ErrCircularMove {
				return nil
			}
			return err
		}
		d.migrateFileEntries(before)
		return nil
	case ChangeDeleteNode:
		deleted, err := d.tree.DeleteNode(c.NodeID)
		if err != nil {
			if err == ErrNodeNotFound || err == ErrCannotDeleteRoot {
				return nil
			}
			return err
		}
		for _, n := range deleted {
			if n.Kind == KindFile {
				delete(d.files, n.Path)
			}
		}
		return nil
	case ChangeTextOp:
		e, ok := d.files[c.Path]
		if !ok {
			e = &fileEntry{text: NewText(c.Actor), version: 0}
			d.files[c.Path] = e
		}
		if err := e.text.Apply(c.Ops); err != nil {
			return err
		}
		e.version++
		return nil
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
}

// snapshot is the on-disk/wire representation produced by Save and consumed
// by Load: the full current tree state plus every file's live text and the
// causal metadata needed to keep exchanging changes afterward.
type snapshot struct {
	ProjectID string            `cbor:"1,keyasint"`
	Actor     string            `cbor:"2,keyasint"`
	Seq       uint64            `cbor:"3,keyasint"`
	Clock     VectorClock       `cbor:"4,keyasint"`
	Nodes     []*FileNode       `cbor:"5,keyasint"`
	Files     map[string]string `cbor:"6,keyasint"`
	Versions  map[string]uint64 `cbor:"7,keyasint"`
	Log       []Change          `cbor:"8,keyasint"`
}

// Save serializes the full document state (invariant 6: round trip through
// Save/Load is lossless for every field a replica needs to keep syncing).
func (d *Document) Save() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap := snapshot{
		ProjectID: d.projectID,
		Actor:     d.actor,
		Seq:       d.seq,
		Clock:     d.clock.Clone(),
		Nodes:     d.tree.AllNodes(),
		Files:     make(map[string]string, len(d.files)),
		Versions:  make(map[string]uint64, len(d.files)),
		Log:       append([]Change(nil), d.log...),
	}
	for path, e := range d.files {
		snap.Files[path] = e.text.Text()
		snap.Versions[path] = e.version
	}

	data, err := cbor.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("crdt: marshal snapshot: %w", err)
	}
	return data, nil
}

// LoadDocument deserializes a snapshot produced by Save, replaying its
// change log through a fresh Text CRDT per file so convergence state (the
// RGA node order) is reconstructed exactly rather than copied opaquely.
func LoadDocument(data []byte, now func() int64) (*Document, error) {
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("crdt: unmarshal snapshot: %w", err)
	}

	d := &Document{
		projectID: snap.ProjectID,
		actor:     snap.Actor,
		now:       now,
		tree:      rebuildTree(snap.Nodes, snap.ProjectID, now),
		files:     make(map[string]*fileEntry),
		seq:       snap.Seq,
		clock:     snap.Clock.Clone(),
		seen:      make(map[changeKey]bool),
	}
	if d.clock == nil {
		d.clock = make(VectorClock)
	}

	for path := range snap.Files {
		d.files[path] = &fileEntry{text: NewText(snap.Actor), version: snap.Versions[path]}
	}
	for _, c := range snap.Log {
		d.seen[c.key()] = true
		if err := d.applyTextOnlyLocked(c); err != nil {
			return nil, err
		}
	}
	d.log = snap.Log
	return d, nil
}

// applyTextOnlyLocked replays only the text-content portion of a historical
// change during Load; the tree shape already comes from the snapshot's node
// list, so only Text CRDT ops need reconstructing to restore cursor/RGA state.
func (d *Document) applyTextOnlyLocked(c Change) error {
	if c.Kind != ChangeTextOp {
		return nil
	}
	e, ok := d.files[c.Path]
	if !ok {
		return nil
	}
	return e.text.Apply(c.Ops)
}

// rebuildTree reconstructs a tree from a snapshot's flat node list, inserting
// each node as-is (RestoreNode) rather than authoring it anew through
// CreateFolder/CreateFile, which would stamp CreatedAt/ModifiedAt with a
// freshly-invoked now() and break invariant 6 (load(save(D)) ≡ D on metadata).
func rebuildTree(nodes []*FileNode, rootName string, now func() int64) *Tree {
	var root *FileNode
	for _, n := range nodes {
		if n.ParentID == "" {
			root = n
			break
		}
	}
	if root == nil {
		return NewTree(rootNodeID, rootName, now)
	}
	root.Children = nil
	t := NewTreeFromRoot(root, now)
	byParent := make(map[string][]*FileNode)
	for _, n := range nodes {
		if n.ID == root.ID {
			continue
		}
		byParent[n.ParentID] = append(byParent[n.ParentID], n)
	}
	// Children lists are rebuilt by RestoreNode (via Tree.insert, which
	// appends each node's id onto its parent's Children) rather than kept
	// from the snapshot, which would otherwise duplicate every entry once
	// RestoreNode re-appends it.
	var insert func(parentID string)
	insert = func(parentID string) {
		for _, n := range byParent[parentID] {
			n.Children = nil
			t.RestoreNode(n)
			insert(n.ID)
		}
	}
	insert(root.ID)
	return t
}

// Merge pulls every change from other that this document hasn't seen yet.
func (d *Document) Merge(other *Document) error {
	heads := d.GetHeads()
	changes := other.GetChangesSince(heads)
	return d.ApplyChanges(changes)
}

// Fork produces an independent copy of the document attributed to a new
// actor, for isolated local editing before changes are published.
func (d *Document) Fork(newActor string) (*Document, error) {
	data, err := d.Save()
	if err != nil {
		return nil, err
	}
	forked, err := LoadDocument(data, d.now)
	if err != nil {
		return nil, err
	}
	forked.actor = newActor
	return forked, nil
}
