package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestRegistry(t *testing.T) *FileRegistry {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aaa"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("bbb"), 0644); err != nil {
		t.Fatal(err)
	}
	r := NewFileRegistry(dir)
	if err := r.LoadFromDisk(); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRegistryLoadFromDisk(t *testing.T) {
	r := newTestRegistry(t)

	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
	e, ok := r.Get("/sub/b.txt")
	if !ok {
		t.Fatal("missing /sub/b.txt")
	}
	if string(e.Buffer.Content()) != "bbb" {
		t.Errorf("content = %q", e.Buffer.Content())
	}
	if e.Buffer.Version() != 0 {
		t.Errorf("version = %d, want 0", e.Buffer.Version())
	}
}

func TestRegistrySubscribeCreatesFile(t *testing.T) {
	r := newTestRegistry(t)

	e := r.Subscribe("alice", "/new.txt")
	if len(e.Buffer.Content()) != 0 {
		t.Errorf("new file content = %q, want empty", e.Buffer.Content())
	}
	if _, ok := e.Subscribers["alice"]; !ok {
		t.Error("alice not subscribed")
	}

	// Subscribing a second user reuses the entry.
	e2 := r.Subscribe("bob", "/new.txt")
	if e2 != e {
		t.Error("second subscribe created a new entry")
	}
	if len(e.Subscribers) != 2 {
		t.Errorf("subscribers = %d, want 2", len(e.Subscribers))
	}
}

func TestRegistryUnsubscribe(t *testing.T) {
	r := newTestRegistry(t)
	r.Subscribe("alice", "/a.txt")
	r.Subscribe("alice", "/sub/b.txt")
	r.Subscribe("bob", "/a.txt")

	r.Unsubscribe("alice", "/a.txt")
	e, _ := r.Get("/a.txt")
	if _, ok := e.Subscribers["alice"]; ok {
		t.Error("alice still subscribed to /a.txt")
	}
	if _, ok := e.Subscribers["bob"]; !ok {
		t.Error("bob lost his subscription")
	}

	// Unknown paths and absent users are no-ops.
	r.Unsubscribe("alice", "/ghost.txt")
	r.Unsubscribe("ghost", "/a.txt")
}

func TestRegistryUnsubscribeAll(t *testing.T) {
	r := newTestRegistry(t)
	r.Subscribe("alice", "/a.txt")
	r.Subscribe("alice", "/sub/b.txt")
	r.Subscribe("bob", "/a.txt")

	r.UnsubscribeAll("alice")

	r.Each(func(path string, e *FileEntry) {
		if _, ok := e.Subscribers["alice"]; ok {
			t.Errorf("alice still subscribed to %s", path)
		}
	})
	e, _ := r.Get("/a.txt")
	if _, ok := e.Subscribers["bob"]; !ok {
		t.Error("bob lost his subscription")
	}
}

func TestRegistryAddLeavesExisting(t *testing.T) {
	r := newTestRegistry(t)

	r.Add("/a.txt", []byte("replaced"))
	e, _ := r.Get("/a.txt")
	if string(e.Buffer.Content()) != "aaa" {
		t.Errorf("content = %q, want original preserved", e.Buffer.Content())
	}

	r.Add("/c.txt", []byte("ccc"))
	e, ok := r.Get("/c.txt")
	if !ok || string(e.Buffer.Content()) != "ccc" {
		t.Error("new file not added")
	}
}

func TestRegistryRemove(t *testing.T) {
	r := newTestRegistry(t)
	r.Subscribe("alice", "/a.txt")

	r.Remove("/a.txt")
	if _, ok := r.Get("/a.txt"); ok {
		t.Fatal("entry still present after remove")
	}

	// Re-creating the path starts from a fresh empty entry.
	e := r.Ensure("/a.txt")
	if len(e.Buffer.Content()) != 0 || len(e.Subscribers) != 0 {
		t.Error("recreated entry not fresh")
	}
}

func TestRegistryRemoveTree(t *testing.T) {
	r := newTestRegistry(t)
	r.Add("/sub/deep/c.txt", []byte("c"))
	r.Add("/subway.txt", []byte("s"))

	r.RemoveTree("/sub")

	for _, path := range []string{"/sub/b.txt", "/sub/deep/c.txt"} {
		if _, ok := r.Get(path); ok {
			t.Errorf("%s still present after tree removal", path)
		}
	}
	// Sibling names sharing the prefix string are not part of the tree.
	if _, ok := r.Get("/subway.txt"); !ok {
		t.Error("/subway.txt removed, but it is outside the tree")
	}
	if _, ok := r.Get("/a.txt"); !ok {
		t.Error("/a.txt removed, but it is outside the tree")
	}
}

func TestRegistryListNodesSorted(t *testing.T) {
	r := newTestRegistry(t)
	r.Add("/new.txt", nil)

	got := r.ListNodes()
	want := []Node{
		{Path: "/a.txt", IsDir: false},
		{Path: "/new.txt", IsDir: false},
		{Path: "/sub", IsDir: true},
		{Path: "/sub/b.txt", IsDir: false},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("nodes = %+v, want %+v", got, want)
	}
}
