package crdt

import (
	"fmt"
	"path"
	"strings"
)

// NodeKind discriminates a FileNode's file-system role.
type NodeKind uint8

const (
	KindFile NodeKind = iota
	KindDirectory
	KindSymlink
)

// FileNode is one entry in the movable file tree. Parent/child linkage is
// carried as ids only — the Tree arena owns every node, so the structure
// never forms a Go-level reference cycle even though the logical tree does.
type FileNode struct {
	ID         string
	Name       string
	Path       string
	Kind       NodeKind
	ParentID   string // empty for the root
	Children   []string
	Extension  string
	Language   string
	Size       uint64
	Loaded     bool
	CreatedAt  int64
	ModifiedAt int64
	Expanded   bool
}

func (n *FileNode) isDirectory() bool { return n.Kind == KindDirectory }

// Tree is an arena-keyed movable-tree CRDT. Every node lives in the id→node
// map; a parallel path→id index gives O(1) path lookups. Moves are three
// structural edits (detach from old parent, rewrite parent_id, attach to new
// parent) that converge regardless of delivery order, provided acyclicity
// was checked before the move was authored (see MoveNode).
type Tree struct {
	rootID string
	nodes  map[string]*FileNode
	byPath map[string]string
	now    func() int64
}

// NewTree creates an empty tree with a root directory named rootName.
func NewTree(rootID, rootName string, now func() int64) *Tree {
	t := &Tree{nodes: make(map[string]*FileNode), byPath: make(map[string]string), now: now}
	root := &FileNode{
		ID:         rootID,
		Name:       rootName,
		Path:       rootName,
		Kind:       KindDirectory,
		Expanded:   true,
		CreatedAt:  now(),
		ModifiedAt: now(),
	}
	t.nodes[root.ID] = root
	t.byPath[root.Path] = root.ID
	t.rootID = root.ID
	return t
}

// NewTreeFromRoot builds a tree around an already-formed root node, carrying
// its CreatedAt/ModifiedAt as-is instead of stamping them with now(). Used by
// LoadDocument to restore a saved tree without rewriting its timestamps.
func NewTreeFromRoot(root *FileNode, now func() int64) *Tree {
	t := &Tree{nodes: make(map[string]*FileNode), byPath: make(map[string]string), now: now}
	t.nodes[root.ID] = root
	t.byPath[root.Path] = root.ID
	t.rootID = root.ID
	return t
}

// RestoreNode inserts an already-formed node (with its original timestamps,
// size, and other metadata intact) rather than authoring a new one stamped
// with now(). Used to rebuild a tree from a snapshot's node list.
func (t *Tree) RestoreNode(n *FileNode) error {
	return t.insert(n)
}

var (
	ErrNodeNotFound    = fmt.Errorf("crdt: node not found")
	ErrParentNotFound  = fmt.Errorf("crdt: parent not found")
	ErrPathExists      = fmt.Errorf("crdt: path already exists")
	ErrNotADirectory   = fmt.Errorf("crdt: not a directory")
	ErrCannotDeleteRoot = fmt.Errorf("crdt: cannot delete root node")
	ErrCannotMoveRoot   = fmt.Errorf("crdt: cannot move root node")
	ErrCircularMove     = fmt.Errorf("crdt: cannot move node into its own descendant")
)

// RootID returns the id of the tree's root node.
func (t *Tree) RootID() string { return t.rootID }

// Get returns the node with the given id.
func (t *Tree) Get(id string) (*FileNode, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// GetByPath returns the node at the given path.
func (t *Tree) GetByPath(p string) (*FileNode, bool) {
	id, ok := t.byPath[p]
	if !ok {
		return nil, false
	}
	return t.nodes[id], true
}

// NodeCount returns the total number of nodes in the tree.
func (t *Tree) NodeCount() int { return len(t.nodes) }

// AllNodes returns every node as a flat slice, in no particular order.
func (t *Tree) AllNodes() []*FileNode {
	out := make([]*FileNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	return out
}

// insert places a fully-formed node into the arena and both indices,
// registering it as a child of its parent.
func (t *Tree) insert(n *FileNode) error {
	if _, exists := t.byPath[n.Path]; exists {
		return ErrPathExists
	}
	if n.ParentID != "" {
		parent, ok := t.nodes[n.ParentID]
		if !ok {
			return ErrParentNotFound
		}
		parent.Children = append(parent.Children, n.ID)
	}
	t.nodes[n.ID] = n
	t.byPath[n.Path] = n.ID
	return nil
}

func childPath(parent *FileNode, name string) string {
	return strings.TrimRight(parent.Path, "/") + "/" + name
}

// CreateFile authors a new file node under parentID.
func (t *Tree) CreateFile(id, parentID, name, language string) (*FileNode, error) {
	parent, ok := t.nodes[parentID]
	if !ok {
		return nil, ErrParentNotFound
	}
	if !parent.isDirectory() {
		return nil, ErrNotADirectory
	}
	p := childPath(parent, name)
	if _, exists := t.byPath[p]; exists {
		return nil, ErrPathExists
	}
	now := t.now()
	n := &FileNode{
		ID:         id,
		Name:       name,
		Path:       p,
		Kind:       KindFile,
		ParentID:   parentID,
		Extension:  strings.TrimPrefix(path.Ext(name), "."),
		Language:   language,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := t.insert(n); err != nil {
		return nil, err
	}
	return n, nil
}

// CreateFolder authors a new directory node under parentID.
func (t *Tree) CreateFolder(id, parentID, name string) (*FileNode, error) {
	parent, ok := t.nodes[parentID]
	if !ok {
		return nil, ErrParentNotFound
	}
	if !parent.isDirectory() {
		return nil, ErrNotADirectory
	}
	p := childPath(parent, name)
	if _, exists := t.byPath[p]; exists {
		return nil, ErrPathExists
	}
	now := t.now()
	n := &FileNode{
		ID:         id,
		Name:       name,
		Path:       p,
		Kind:       KindDirectory,
		ParentID:   parentID,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := t.insert(n); err != nil {
		return nil, err
	}
	return n, nil
}

// DeleteNode removes id and its entire subtree, returning the deleted nodes.
func (t *Tree) DeleteNode(id string) ([]*FileNode, error) {
	if id == t.rootID {
		return nil, ErrCannotDeleteRoot
	}
	node, ok := t.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}

	var toDelete []string
	t.collectSubtree(id, &toDelete)

	if node.ParentID != "" {
		if parent, ok := t.nodes[node.ParentID]; ok {
			parent.Children = removeString(parent.Children, id)
		}
	}

	deleted := make([]*FileNode, 0, len(toDelete))
	for _, nid := range toDelete {
		n, ok := t.nodes[nid]
		if !ok {
			continue
		}
		delete(t.nodes, nid)
		delete(t.byPath, n.Path)
		deleted = append(deleted, n)
	}
	return deleted, nil
}

func (t *Tree) collectSubtree(id string, out *[]string) {
	*out = append(*out, id)
	if n, ok := t.nodes[id]; ok {
		for _, c := range n.Children {
			t.collectSubtree(c, out)
		}
	}
}

// RenameNode renames id, rewriting its own path and every descendant's path.
func (t *Tree) RenameNode(id, newName string) error {
	node, ok := t.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	oldPath := node.Path
	parentPath := path.Dir(oldPath)
	if parentPath == "." {
		parentPath = ""
	}
	var newPath string
	if parentPath == "" {
		newPath = newName
	} else {
		newPath = parentPath + "/" + newName
	}
	if existing, exists := t.byPath[newPath]; exists && existing != id {
		return ErrPathExists
	}

	t.updatePaths(id, oldPath, newPath)
	node.Name = newName
	node.ModifiedAt = t.now()
	return nil
}

// updatePaths rewrites a node's path and every descendant's path, replacing
// the oldPrefix with newPrefix exactly once (mirrors the source's
// path.replacen semantics for descendants whose path starts with oldPrefix).
func (t *Tree) updatePaths(id, oldPrefix, newPrefix string) {
	node, ok := t.nodes[id]
	if !ok {
		return
	}
	children := append([]string(nil), node.Children...)
	oldPath := node.Path

	var newPath string
	if oldPath == oldPrefix {
		newPath = newPrefix
	} else {
		newPath = strings.Replace(oldPath, oldPrefix, newPrefix, 1)
	}

	delete(t.byPath, oldPath)
	t.byPath[newPath] = id
	node.Path = newPath

	for _, childID := range children {
		t.updatePaths(childID, oldPrefix, newPrefix)
	}
}

// MoveNode reparents id under newParentID, validating acyclicity first.
func (t *Tree) MoveNode(id, newParentID string) error {
	node, ok := t.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	if id == t.rootID {
		return ErrCannotMoveRoot
	}
	newParent, ok := t.nodes[newParentID]
	if !ok {
		return ErrNodeNotFound
	}
	if !newParent.isDirectory() {
		return ErrNotADirectory
	}
	if t.isAncestorOf(id, newParentID) {
		return ErrCircularMove
	}

	oldPath := node.Path
	newPath := childPath(newParent, node.Name)
	if existing, exists := t.byPath[newPath]; exists && existing != id {
		return ErrPathExists
	}

	if node.ParentID != "" {
		if oldParent, ok := t.nodes[node.ParentID]; ok {
			oldParent.Children = removeString(oldParent.Children, id)
		}
	}
	newParent.Children = append(newParent.Children, id)
	node.ParentID = newParentID

	t.updatePaths(id, oldPath, newPath)
	node.ModifiedAt = t.now()
	return nil
}

// isAncestorOf reports whether ancestorID is on descendantID's parent chain
// (walking parent_id links must terminate at the root — invariant 1).
func (t *Tree) isAncestorOf(ancestorID, descendantID string) bool {
	current := descendantID
	for current != "" {
		if current == ancestorID {
			return true
		}
		n, ok := t.nodes[current]
		if !ok {
			return false
		}
		current = n.ParentID
	}
	return false
}

// Acyclic walks every node's parent chain to the root, returning false if
// any chain fails to terminate (invariant 1/invariant 2 in combination).
func (t *Tree) Acyclic() bool {
	for id := range t.nodes {
		seen := make(map[string]bool)
		current := id
		for current != "" {
			if seen[current] {
				return false
			}
			seen[current] = true
			n, ok := t.nodes[current]
			if !ok {
				break
			}
			current = n.ParentID
		}
	}
	return true
}

// ChildrenConsistent checks part of invariant 3: every node with a parent
// appears exactly once in its recorded parent's children list. It does not
// check whether some other node's children list also names it.
func (t *Tree) ChildrenConsistent() bool {
	for id, n := range t.nodes {
		if n.ParentID == "" {
			continue
		}
		parent, ok := t.nodes[n.ParentID]
		if !ok {
			return false
		}
		count := 0
		for _, c := range parent.Children {
			if c == id {
				count++
			}
		}
		if count != 1 {
			return false
		}
	}
	return true
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
