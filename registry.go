package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"
)

// FileEntry pairs a file's edit buffer with the set of users subscribed to
// its change notifications.
type FileEntry struct {
	Buffer      *EditBuffer
	Subscribers map[string]struct{}
}

// Node is one entry of the project tree listing.
type Node struct {
	Path  string `json:"node"`
	IsDir bool   `json:"isDir"`
}

// FileRegistry maps normalized project paths to file entries. It owns every
// entry exclusively; all methods run on the scheduler worker, so there is
// no locking here.
type FileRegistry struct {
	files   map[string]*FileEntry
	srcRoot string
}

// NewFileRegistry returns an empty registry rooted at srcRoot on disk.
func NewFileRegistry(srcRoot string) *FileRegistry {
	return &FileRegistry{
		files:   make(map[string]*FileEntry),
		srcRoot: srcRoot,
	}
}

// LoadFromDisk populates the registry from every file under the source
// root. Each file starts at version 0 with its on-disk bytes as committed
// content and no subscribers.
func (r *FileRegistry) LoadFromDisk() error {
	err := filepath.WalkDir(r.srcRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.srcRoot, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		path := NormalizePath(rel)
		r.files[path] = &FileEntry{
			Buffer:      NewEditBuffer(data),
			Subscribers: make(map[string]struct{}),
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning source tree: %w", err)
	}
	log.WithField("files", len(r.files)).Info("project tree loaded")
	return nil
}

// Ensure returns the entry at path, creating an empty one if absent.
func (r *FileRegistry) Ensure(path string) *FileEntry {
	if e, ok := r.files[path]; ok {
		return e
	}
	e := &FileEntry{
		Buffer:      NewEditBuffer(nil),
		Subscribers: make(map[string]struct{}),
	}
	r.files[path] = e
	return e
}

// Add creates an entry at path with the given initial content. An existing
// entry is left untouched.
func (r *FileRegistry) Add(path string, content []byte) {
	if _, ok := r.files[path]; ok {
		return
	}
	r.files[path] = &FileEntry{
		Buffer:      NewEditBuffer(content),
		Subscribers: make(map[string]struct{}),
	}
}

// Get returns the entry at path without creating one.
func (r *FileRegistry) Get(path string) (*FileEntry, bool) {
	e, ok := r.files[path]
	return e, ok
}

// Remove drops the entry at path. A later Subscribe or Ensure for the same
// path starts over with a fresh empty entry.
func (r *FileRegistry) Remove(path string) {
	delete(r.files, path)
}

// RemoveTree drops the entry at prefix and every entry below it. Directory
// removals on disk arrive as a single event for the directory path, never
// one per contained file.
func (r *FileRegistry) RemoveTree(prefix string) {
	for path := range r.files {
		if underPrefix(path, prefix) {
			delete(r.files, path)
		}
	}
}

// Subscribe registers user for change notifications on path, creating the
// file when it does not exist yet.
func (r *FileRegistry) Subscribe(user, path string) *FileEntry {
	e := r.Ensure(path)
	e.Subscribers[user] = struct{}{}
	return e
}

// Unsubscribe removes user from the subscriber set of path. Unknown paths
// and absent users are no-ops.
func (r *FileRegistry) Unsubscribe(user, path string) {
	if e, ok := r.files[path]; ok {
		delete(e.Subscribers, user)
	}
}

// UnsubscribeAll removes user from the subscriber set of every file.
func (r *FileRegistry) UnsubscribeAll(user string) {
	for _, e := range r.files {
		delete(e.Subscribers, user)
	}
}

// Each calls fn for every entry in the registry. Iteration order is
// unspecified.
func (r *FileRegistry) Each(fn func(path string, e *FileEntry)) {
	for path, e := range r.files {
		fn(path, e)
	}
}

// Len returns the number of files in the registry.
func (r *FileRegistry) Len() int {
	return len(r.files)
}

// ListNodes returns the union of directory paths found under the source
// root on disk and every file path currently in the registry, sorted
// lexicographically.
func (r *FileRegistry) ListNodes() []Node {
	nodes := make([]Node, 0, len(r.files))
	for _, dir := range r.existingDirs() {
		nodes = append(nodes, Node{Path: dir, IsDir: true})
	}
	for path := range r.files {
		nodes = append(nodes, Node{Path: path, IsDir: false})
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Path == nodes[j].Path {
			return nodes[i].IsDir
		}
		return nodes[i].Path < nodes[j].Path
	})
	return nodes
}

// existingDirs walks the on-disk source tree and returns every directory
// below the root in registry path form. Walk errors only cost us tree
// entries, never a failed listing.
func (r *FileRegistry) existingDirs() []string {
	var dirs []string
	_ = filepath.WalkDir(r.srcRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() || p == r.srcRoot {
			return nil
		}
		rel, err := filepath.Rel(r.srcRoot, p)
		if err != nil {
			return nil
		}
		dirs = append(dirs, NormalizePath(rel))
		return nil
	})
	return dirs
}
