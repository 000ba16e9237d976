package main

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// FileContent is the payload of an onFileContent reply. A nil *FileContent
// is the "not found" sentinel.
type FileContent struct {
	Path    string
	Content []byte
	Version int
}

// Listener receives core events. The WebSocket hub is the production
// listener; tests register their own.
//
// OnFileEdit carries the changes applied by one flush of one file, the
// version they produced, and a snapshot of the file's subscribers taken at
// flush time. OnProjectNodes and OnFileContent are one-shot replies
// addressed to a single caller identity.
type Listener interface {
	OnFileEdit(path string, changes []Change, version int, subscribers []string)
	OnProjectNodes(nodes []Node, caller string)
	OnFileContent(result *FileContent, caller string)
}

// notifyStrategy is the installed fan-out mode. With zero listeners the
// empty strategy discards events without any per-event work; with one or
// more the active strategy delivers to every listener in registration
// order. Strategies swap themselves through the install callback on the
// 0-to-1 boundary, so Send never branches on the listener count.
type notifyStrategy interface {
	Send(listeners []Listener, fn func(Listener))
	Upgrade(count int)
	Downgrade(count int)
}

type strategyEmpty struct {
	install func(notifyStrategy)
}

func (s *strategyEmpty) Send([]Listener, func(Listener)) {}

func (s *strategyEmpty) Upgrade(count int) {
	if count > 0 {
		s.install(&strategyActive{install: s.install})
	}
}

func (s *strategyEmpty) Downgrade(int) {}

type strategyActive struct {
	install func(notifyStrategy)
}

func (s *strategyActive) Send(listeners []Listener, fn func(Listener)) {
	for _, l := range listeners {
		deliver(l, fn)
	}
}

// deliver invokes one listener, recovering a panic so the remaining
// listeners are still notified and the sweep is never aborted.
func deliver(l Listener, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("listener panicked during notification: %v", r)
		}
	}()
	fn(l)
}

func (s *strategyActive) Upgrade(int) {}

func (s *strategyActive) Downgrade(count int) {
	if count == 0 {
		s.install(&strategyEmpty{install: s.install})
	}
}

// NotificationRouter fans core events out to the registered listeners. The
// listener list is the only surface shared between the scheduler worker and
// external goroutines, guarded here by a single mutex.
type NotificationRouter struct {
	mu        sync.Mutex
	listeners []Listener
	strategy  notifyStrategy
}

// NewNotificationRouter returns a router with no listeners and the empty
// strategy installed.
func NewNotificationRouter() *NotificationRouter {
	r := &NotificationRouter{}
	r.strategy = &strategyEmpty{install: r.installStrategy}
	return r
}

// installStrategy is the change callback handed to strategies.
func (r *NotificationRouter) installStrategy(s notifyStrategy) {
	r.strategy = s
}

// Register adds l to the fan-out set. Registering an already-registered
// listener is a no-op; each identity holds exactly one registration.
func (r *NotificationRouter) Register(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.listeners {
		if existing == l {
			return
		}
	}
	r.listeners = append(r.listeners, l)
	r.strategy.Upgrade(len(r.listeners))
}

// Unregister removes l from the fan-out set.
func (r *NotificationRouter) Unregister(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			r.strategy.Downgrade(len(r.listeners))
			return
		}
	}
}

// Notify sends one event through the installed strategy.
func (r *NotificationRouter) Notify(fn func(Listener)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategy.Send(r.listeners, fn)
}

// FileEdit routes an onFileEdit event.
func (r *NotificationRouter) FileEdit(path string, changes []Change, version int, subscribers []string) {
	r.Notify(func(l Listener) { l.OnFileEdit(path, changes, version, subscribers) })
}

// ProjectNodes routes an onProjectNodes reply to caller.
func (r *NotificationRouter) ProjectNodes(nodes []Node, caller string) {
	r.Notify(func(l Listener) { l.OnProjectNodes(nodes, caller) })
}

// FileContentReply routes an onFileContent reply to caller.
func (r *NotificationRouter) FileContentReply(result *FileContent, caller string) {
	r.Notify(func(l Listener) { l.OnFileContent(result, caller) })
}
