package crdt

import "testing"

func TestDocumentCreateFileAndEditContent(t *testing.T) {
	doc := NewDocument("proj", "alice", fixedClock(1000))

	file, err := doc.CreateFile("f1", doc.RootID(), "main.go", "go")
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := doc.SpliceFile(file.Path, 0, 0, "package main"); err != nil {
		t.Fatalf("SpliceFile: %v", err)
	}

	content, version, ok := doc.GetFileContent(file.Path)
	if !ok {
		t.Fatalf("GetFileContent: not found")
	}
	if content != "package main" {
		t.Errorf("content = %q, want %q", content, "package main")
	}
	if version != 2 {
		t.Errorf("version = %d, want 2 (1 on create, +1 on edit)", version)
	}
}

// Path migration: renaming a directory must re-key the in-flight file
// entries underneath it so GetFileContent keeps resolving by current path.
func TestDocumentRenameMigratesFileContent(t *testing.T) {
	doc := NewDocument("proj", "alice", fixedClock(1000))
	dir, _ := doc.CreateFolder("dir1", doc.RootID(), "src")
	file, _ := doc.CreateFile("f1", dir.ID, "main.go", "go")
	doc.SpliceFile(file.Path, 0, 0, "hello")

	if err := doc.RenameNode("dir1", "source"); err != nil {
		t.Fatalf("RenameNode: %v", err)
	}

	gotFile, ok := doc.GetNode("f1")
	if !ok {
		t.Fatalf("GetNode(f1): not found")
	}
	if gotFile.Path != "proj/source/main.go" {
		t.Fatalf("file path = %q, want %q", gotFile.Path, "proj/source/main.go")
	}
	content, _, ok := doc.GetFileContent(gotFile.Path)
	if !ok || content != "hello" {
		t.Errorf("GetFileContent(%q) = %q, %v; want %q, true", gotFile.Path, content, ok, "hello")
	}
	if _, _, ok := doc.GetFileContent("proj/src/main.go"); ok {
		t.Error("stale path still resolves content after rename")
	}
}

func TestDocumentMoveMigratesFileContent(t *testing.T) {
	doc := NewDocument("proj", "alice", fixedClock(1000))
	a, _ := doc.CreateFolder("a", doc.RootID(), "a")
	b, _ := doc.CreateFolder("b", doc.RootID(), "b")
	file, _ := doc.CreateFile("f1", a.ID, "x.go", "go")
	doc.SpliceFile(file.Path, 0, 0, "content")

	if err := doc.MoveNode(file.ID, b.ID); err != nil {
		t.Fatalf("MoveNode: %v", err)
	}
	moved, _ := doc.GetNode(file.ID)
	content, _, ok := doc.GetFileContent(moved.Path)
	if !ok || content != "content" {
		t.Errorf("GetFileContent after move: %q, %v", content, ok)
	}
}

// S8 — save/load round trip preserves tree shape, file content, and the
// causal change log needed to keep syncing with other replicas.
func TestDocumentSaveLoadRoundTrip(t *testing.T) {
	doc := NewDocument("proj", "alice", fixedClock(1000))
	dir, _ := doc.CreateFolder("dir1", doc.RootID(), "src")
	file, _ := doc.CreateFile("f1", dir.ID, "main.go", "go")
	doc.SpliceFile(file.Path, 0, 0, "package main\n")

	origFile, _ := doc.GetNode("f1")
	origDir, _ := doc.GetNode("dir1")
	origRoot, _ := doc.GetNode(doc.RootID())

	data, err := doc.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	// LoadDocument runs against a clock well past the original one: a
	// timestamp that changed across the round trip would mean load(save(D))
	// stamped nodes with this clock instead of carrying the original values
	// (invariant 6).
	loaded, err := LoadDocument(data, fixedClock(2000))
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}

	n, ok := loaded.GetNode("f1")
	if !ok {
		t.Fatalf("loaded doc missing node f1")
	}
	content, version, ok := loaded.GetFileContent(n.Path)
	if !ok || content != "package main\n" {
		t.Errorf("loaded content = %q, %v; want %q", content, ok, "package main\n")
	}
	if version != 2 {
		t.Errorf("loaded version = %d, want 2", version)
	}
	if loaded.ProjectID() != "proj" {
		t.Errorf("ProjectID() = %q, want %q", loaded.ProjectID(), "proj")
	}

	if n.CreatedAt != origFile.CreatedAt || n.ModifiedAt != origFile.ModifiedAt {
		t.Errorf("loaded file timestamps = (%d, %d), want (%d, %d)",
			n.CreatedAt, n.ModifiedAt, origFile.CreatedAt, origFile.ModifiedAt)
	}
	loadedDir, _ := loaded.GetNode("dir1")
	if loadedDir.CreatedAt != origDir.CreatedAt || loadedDir.ModifiedAt != origDir.ModifiedAt {
		t.Errorf("loaded dir timestamps = (%d, %d), want (%d, %d)",
			loadedDir.CreatedAt, loadedDir.ModifiedAt, origDir.CreatedAt, origDir.ModifiedAt)
	}
	loadedRoot, _ := loaded.GetNode(loaded.RootID())
	if loadedRoot.CreatedAt != origRoot.CreatedAt || loadedRoot.ModifiedAt != origRoot.ModifiedAt {
		t.Errorf("loaded root timestamps = (%d, %d), want (%d, %d)",
			loadedRoot.CreatedAt, loadedRoot.ModifiedAt, origRoot.CreatedAt, origRoot.ModifiedAt)
	}
}

// Vector-clock-based sync: a replica that only saw an earlier set of heads
// catches up via GetChangesSince/ApplyChanges without re-sending history it
// already has, and re-delivering the same changes twice is a no-op.
func TestDocumentChangesSinceAndApplyAreIdempotent(t *testing.T) {
	alice := NewDocument("proj", "alice", fixedClock(1000))
	file, _ := alice.CreateFile("f1", alice.RootID(), "a.txt", "")
	headsBeforeEdit := alice.GetHeads()

	bob := NewDocument("proj", "bob", fixedClock(2000))
	// Bob bootstraps from alice's pre-edit state.
	if err := bob.ApplyChanges(alice.GetChangesSince(VectorClock{})); err != nil {
		t.Fatalf("bootstrap ApplyChanges: %v", err)
	}

	alice.SpliceFile(file.Path, 0, 0, "hello")
	catchUp := alice.GetChangesSince(headsBeforeEdit)
	if len(catchUp) == 0 {
		t.Fatal("expected at least one change since headsBeforeEdit")
	}
	if err := bob.ApplyChanges(catchUp); err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}
	// Re-applying the same changes must not double-apply the edit.
	if err := bob.ApplyChanges(catchUp); err != nil {
		t.Fatalf("ApplyChanges (repeat): %v", err)
	}

	n, _ := bob.GetNodeByPath(file.Path)
	content, _, ok := bob.GetFileContent(n.Path)
	if !ok || content != "hello" {
		t.Errorf("bob content = %q, %v; want %q", content, ok, "hello")
	}
}

// Concurrent edits from two forks converge after a bidirectional merge.
func TestDocumentMergeConverges(t *testing.T) {
	base := NewDocument("proj", "alice", fixedClock(1000))
	file, _ := base.CreateFile("f1", base.RootID(), "a.txt", "")
	base.SpliceFile(file.Path, 0, 0, "Hello")

	data, _ := base.Save()
	bob, err := LoadDocument(data, fixedClock(2000))
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	bob.actor = "bob"

	base.SpliceFile(file.Path, 5, 0, " World")
	bob.SpliceFile(file.Path, 0, 0, "Say ")

	if err := base.Merge(bob); err != nil {
		t.Fatalf("base.Merge(bob): %v", err)
	}
	if err := bob.Merge(base); err != nil {
		t.Fatalf("bob.Merge(base): %v", err)
	}

	n1, _ := base.GetNodeByPath(file.Path)
	c1, _, _ := base.GetFileContent(n1.Path)
	n2, _ := bob.GetNodeByPath(file.Path)
	c2, _, _ := bob.GetFileContent(n2.Path)
	if c1 != c2 {
		t.Fatalf("documents diverged after bidirectional merge: base=%q bob=%q", c1, c2)
	}
	for _, substr := range []string{"Say", "Hello", "World"} {
		if !contains(c1, substr) {
			t.Errorf("merged content %q missing %q", c1, substr)
		}
	}
}

func TestDocumentForkIsIndependent(t *testing.T) {
	doc := NewDocument("proj", "alice", fixedClock(1000))
	file, _ := doc.CreateFile("f1", doc.RootID(), "a.txt", "")
	doc.SpliceFile(file.Path, 0, 0, "base")

	forked, err := doc.Fork("bob")
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	forked.SpliceFile(file.Path, 4, 0, "-fork")

	origContent, _, _ := doc.GetFileContent(file.Path)
	forkContent, _, _ := forked.GetFileContent(file.Path)
	if origContent != "base" {
		t.Errorf("original document mutated by fork edit: %q", origContent)
	}
	if forkContent != "base-fork" {
		t.Errorf("fork content = %q, want %q", forkContent, "base-fork")
	}
}
