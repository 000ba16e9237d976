package main

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// Declared worst-case durations for admission control. Metadata tasks touch
// in-memory maps only; the archive task additionally writes one file under
// tmp. The values are deliberately pessimistic against the defaults in
// DefaultConfig.
const (
	worstCaseMetadata = 100 * time.Microsecond
	worstCaseEdit     = 200 * time.Microsecond
	worstCaseArchive  = 10 * time.Millisecond
	worstCaseSweep    = 1 * time.Millisecond
)

// ArchiveResult resolves a CreateArchive future with the location of the
// written archive, or the error that prevented it.
type ArchiveResult struct {
	Path string
	Err  error
}

// Core is the facade external collaborators call. Every mutation of the
// file registry is wrapped in a task and executed by the scheduler worker;
// the non-query methods return as soon as the task is queued. Replies, when
// any, arrive through the NotificationRouter or through the returned
// one-shot future channel.
type Core struct {
	cfg      *Config
	registry *FileRegistry
	queue    *TaskQueue
	router   *NotificationRouter
	sched    *Scheduler
}

// NewCore boots a core: scans the source tree into the registry and wires
// the queue, router and scheduler together. The scheduler is not started.
func NewCore(cfg *Config) (*Core, error) {
	registry := NewFileRegistry(cfg.CodeDir)
	if err := registry.LoadFromDisk(); err != nil {
		return nil, err
	}

	c := &Core{
		cfg:      cfg,
		registry: registry,
		queue:    NewTaskQueue(cfg.QueueSize),
		router:   NewNotificationRouter(),
	}
	c.sched = NewScheduler(cfg, c.queue, Task{
		Name:      "check_apply_notify",
		WorstCase: worstCaseSweep,
		Fn:        c.criticalSweep,
	})
	return c, nil
}

// ProjectName returns the configured project label.
func (c *Core) ProjectName() string {
	return c.cfg.Name
}

// Start launches the scheduler worker.
func (c *Core) Start() error {
	return c.sched.Start()
}

// Stop requests a cooperative scheduler stop; the in-flight cycle
// completes first.
func (c *Core) Stop() {
	c.sched.Stop()
}

// Serve runs the core as a supervised service.
func (c *Core) Serve(ctx context.Context) error {
	return c.sched.Serve(ctx)
}

// RegisterApplicationListener subscribes l to core events, immediately.
func (c *Core) RegisterApplicationListener(l Listener) {
	c.router.Register(l)
}

// UnregisterApplicationListener removes l from core events, immediately.
func (c *Core) UnregisterApplicationListener(l Listener) {
	c.router.Unregister(l)
}

func (c *Core) enqueue(name string, worstCase time.Duration, fn func()) error {
	err := c.queue.Put(Task{Name: name, WorstCase: worstCase, Fn: fn})
	if err != nil {
		log.WithField("task", name).Warn("task rejected, queue full")
		return err
	}
	log.WithField("task", name).Debug("task enqueued")
	return nil
}

// GetProjectNodes asks for the sorted project tree; the reply is routed to
// caller through onProjectNodes.
func (c *Core) GetProjectNodes(caller string) error {
	return c.enqueue("get_project_nodes", worstCaseMetadata, func() {
		c.router.ProjectNodes(c.registry.ListNodes(), caller)
	})
}

// GetFileContent asks for the committed content of path; the reply is
// routed to caller through onFileContent, with a nil result when the path
// is unknown.
func (c *Core) GetFileContent(path, caller string) error {
	return c.enqueue("get_file_content", worstCaseMetadata, func() {
		c.router.FileContentReply(c.snapshot(path), caller)
	})
}

// OpenFile subscribes user to path, creating the file when it does not
// exist, and routes the current content to the user through onFileContent.
// Subscription happens before the content reply is emitted, so the user
// misses no subsequent update.
func (c *Core) OpenFile(user, path string) error {
	return c.enqueue("open_file", worstCaseMetadata, func() {
		c.registry.Subscribe(user, path)
		c.router.FileContentReply(c.snapshot(path), user)
	})
}

// UnregisterUserToFile removes user from the subscriber set of path.
func (c *Core) UnregisterUserToFile(user, path string) error {
	return c.enqueue("unregister_user_to_file", worstCaseMetadata, func() {
		c.registry.Unsubscribe(user, path)
	})
}

// UnregisterUserToAllFiles removes user from every subscriber set.
func (c *Core) UnregisterUserToAllFiles(user string) error {
	return c.enqueue("unregister_user_to_all_files", worstCaseMetadata, func() {
		c.registry.UnsubscribeAll(user)
	})
}

// FileEdit queues changes against the file's edit buffer. The changes are
// applied, versioned and broadcast by the next critical sweep. An edit to
// an unknown path is a no-op (the file may have been removed concurrently).
func (c *Core) FileEdit(path string, changes []Change, author string) error {
	return c.enqueue("file_edit", worstCaseEdit, func() {
		entry, ok := c.registry.Get(path)
		if !ok {
			log.WithField("path", path).Debug("edit for unknown file dropped")
			return
		}
		mods := make([]PendingMod, len(changes))
		for i, ch := range changes {
			mods[i] = PendingMod{Change: ch, Author: author}
		}
		entry.Buffer.Append(mods)
	})
}

// AddFile creates an entry for path. The initial content is normally nil;
// the watcher passes the on-disk bytes for files created outside the
// editor. Routed through the queue so it is serialized with every other
// registry mutation.
func (c *Core) AddFile(path string, content []byte) error {
	return c.enqueue("add_file", worstCaseMetadata, func() {
		c.registry.Add(path, content)
	})
}

// DeleteFile drops the entry for path; subscribers of a later re-created
// file start from a fresh empty entry.
func (c *Core) DeleteFile(path string) error {
	return c.enqueue("delete_file", worstCaseMetadata, func() {
		c.registry.Remove(path)
	})
}

// DeleteTree drops the entry at path and every entry below it. Used by the
// watcher, where a removed directory is reported as one event for the
// directory path.
func (c *Core) DeleteTree(path string) error {
	return c.enqueue("delete_tree", worstCaseMetadata, func() {
		c.registry.RemoveTree(path)
	})
}

// DumpFile resolves a one-shot future with the committed content of path,
// or nil when unknown. Reads are serialized through the worker like every
// other operation, so no cross-thread access to the registry occurs.
func (c *Core) DumpFile(path string) (<-chan *FileContent, error) {
	out := make(chan *FileContent, 1)
	err := c.enqueue("dump_file", worstCaseMetadata, func() {
		out <- c.snapshot(path)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProjectTree resolves a one-shot future with the sorted project tree.
func (c *Core) ProjectTree() (<-chan []Node, error) {
	out := make(chan []Node, 1)
	err := c.enqueue("project_tree", worstCaseMetadata, func() {
		out <- c.registry.ListNodes()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateArchive resolves a one-shot future with the location of a ZIP of
// every file whose path starts with prefix. Content is read from the
// committed in-memory buffers, never from disk, so pending edits that have
// not been flushed yet are not included.
func (c *Core) CreateArchive(prefix, caller string) (<-chan ArchiveResult, error) {
	out := make(chan ArchiveResult, 1)
	err := c.enqueue("create_archive", worstCaseArchive, func() {
		path, err := c.writeArchive(prefix, caller)
		out <- ArchiveResult{Path: path, Err: err}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// snapshot copies the committed state of path for handoff to other
// goroutines. Runs on the worker only.
func (c *Core) snapshot(path string) *FileContent {
	entry, ok := c.registry.Get(path)
	if !ok {
		return nil
	}
	return &FileContent{
		Path:    path,
		Content: append([]byte(nil), entry.Buffer.Content()...),
		Version: entry.Buffer.Version(),
	}
}

// criticalSweep is the tail-of-cycle pass: flush every non-empty buffer and
// notify that file's subscribers. Runs at most once per cycle.
func (c *Core) criticalSweep() {
	c.registry.Each(func(path string, entry *FileEntry) {
		if entry.Buffer.IsEmpty() {
			return
		}
		version, changes := entry.Buffer.Flush()
		metricChangesApplied.Add(float64(len(changes)))

		subscribers := make([]string, 0, len(entry.Subscribers))
		for user := range entry.Subscribers {
			subscribers = append(subscribers, user)
		}
		sort.Strings(subscribers)

		c.router.FileEdit(path, changes, version, subscribers)
	})
}
