package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// TreeWatcher mirrors on-disk file creation and removal under the source
// root into the registry. Events become add_file/delete_file tasks, so
// disk-side changes are serialized by the scheduler worker like every
// other mutation instead of racing it.
//
// Write events are deliberately ignored: once the server owns a file, the
// edit pipeline is authoritative for its content.
type TreeWatcher struct {
	core *Core
	root string
}

// NewTreeWatcher returns a watcher over root feeding core.
func NewTreeWatcher(core *Core, root string) *TreeWatcher {
	return &TreeWatcher{core: core, root: root}
}

// Serve runs the watcher until ctx is canceled. fsnotify watches are not
// recursive, so every directory is registered individually, including
// directories created while running.
func (t *TreeWatcher) Serve(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := t.watchTree(w, t.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			t.handle(w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warnf("watcher error: %v", err)
		}
	}
}

// watchTree registers dir and every directory below it.
func (t *TreeWatcher) watchTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		return nil
	})
}

func (t *TreeWatcher) handle(w *fsnotify.Watcher, ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// New subtree: watch it and pick up any files already inside.
			if err := t.watchTree(w, ev.Name); err != nil {
				log.Warnf("watching new directory: %v", err)
			}
			t.addFilesUnder(ev.Name)
			return
		}
		t.addFile(ev.Name)

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		path, err := t.projectPath(ev.Name)
		if err != nil {
			return
		}
		// The removed name may have been a directory; a prefix delete
		// covers both cases, since directories get no per-file events.
		log.WithField("path", path).Info("path removed on disk")
		if err := t.core.DeleteTree(path); err != nil {
			log.WithField("path", path).Warnf("delete_tree not queued: %v", err)
		}
	}
}

func (t *TreeWatcher) addFilesUnder(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		t.addFile(p)
		return nil
	})
}

// addFile reads the new file's bytes here, off the worker, and hands them
// to the add_file task. An entry the editor created first wins; Add leaves
// existing entries untouched.
func (t *TreeWatcher) addFile(name string) {
	path, err := t.projectPath(name)
	if err != nil {
		return
	}
	data, err := os.ReadFile(name)
	if err != nil {
		log.WithField("path", path).Warnf("reading new file: %v", err)
		return
	}
	log.WithField("path", path).Info("file created on disk")
	if err := t.core.AddFile(path, data); err != nil {
		log.WithField("path", path).Warnf("add_file not queued: %v", err)
	}
}

func (t *TreeWatcher) projectPath(name string) (string, error) {
	rel, err := filepath.Rel(t.root, name)
	if err != nil {
		return "", err
	}
	return NormalizePath(rel), nil
}
