// Package watcher maintains one long-lived streaming subscription per
// watched Kubernetes resource path, dispatching each observed event to a
// handler and managing stream lifecycle under Add/Remove/Start/Stop.
package watcher

import (
	"context"
	"sync"

	"k8s.io/klog/v2"
)

// EventSource opens a streaming watch against path. It mirrors
// k8sclient.Client.Watch's signature so the watcher package does not need
// to import k8sclient directly (it only needs a stream of events and an
// error channel).
type EventSource func(ctx context.Context, path string) (events <-chan Event, errc <-chan error, err error)

// Event is one raw {type, object} delta read off a watch stream.
type Event struct {
	Type   string
	Object map[string]any
}

// Handler processes one event observed for path.
type Handler func(ctx context.Context, path string, event Event)

type watchTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Watcher maintains the set of watched paths and their running stream
// tasks. The zero value is not usable; construct with New.
type Watcher struct {
	source  EventSource
	handler Handler

	mu        sync.Mutex
	resources map[string]struct{}
	watching  map[string]*watchTask
	idle      map[string]bool
	running   bool

	wg sync.WaitGroup
}

// New constructs a Watcher that reads events via source and delivers them
// to handler. No paths are watched until Add and Start are both called.
func New(source EventSource, handler Handler) *Watcher {
	return &Watcher{
		source:    source,
		handler:   handler,
		resources: make(map[string]struct{}),
		watching:  make(map[string]*watchTask),
		idle:      make(map[string]bool),
	}
}

// Add registers path for watching. If the watcher is already running and
// path is not yet watched, a task is spawned immediately.
func (w *Watcher) Add(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.resources[path] = struct{}{}
	if _, watched := w.watching[path]; w.running && !watched {
		w.startLocked(path)
	}
}

// Remove unregisters path. If a task is watching it, a stop is requested;
// the task exits the next time it is idle (between events).
func (w *Watcher) Remove(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.resources, path)
	if task, ok := w.watching[path]; ok {
		task.cancel()
	}
}

// Start marks the watcher running and spawns a task for every registered
// path that isn't already watched.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.running = true
	for path := range w.resources {
		if _, ok := w.watching[path]; !ok {
			w.startLocked(path)
		}
	}
}

// Stop marks the watcher not running and requests a stop for every
// currently-watching path. It does not block; call Wait to block until all
// tasks have actually exited.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.running = false
	for _, task := range w.watching {
		task.cancel()
	}
}

// Wait blocks until every spawned watch task has exited.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) startLocked(path string) {
	ctx, cancel := context.WithCancel(context.Background())
	task := &watchTask{cancel: cancel, done: make(chan struct{})}
	w.watching[path] = task
	w.idle[path] = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(task.done)
		w.runWatch(ctx, path)
	}()
}

// runWatch implements the watch task behavior: open the stream, dispatch
// each event while tracking idle/busy, and stop once the caller has
// requested it (between events only -- a stuck handler is never
// force-interrupted).
func (w *Watcher) runWatch(ctx context.Context, path string) {
	klog.InfoS("started watching", "path", path)
	defer func() {
		w.mu.Lock()
		delete(w.watching, path)
		delete(w.idle, path)
		w.mu.Unlock()
		klog.InfoS("stopped watching", "path", path)
	}()

	events, errc, err := w.source(ctx, path)
	if err != nil {
		klog.ErrorS(err, "failed to open watch stream", "path", path)
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if err := <-errc; err != nil {
					klog.ErrorS(err, "watch stream ended with error", "path", path)
				}
				return
			}

			w.setIdle(path, false)
			w.handler(ctx, path, ev)
			w.setIdle(path, true)

			if !w.shouldContinue(path) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) setIdle(path string, idle bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.idle[path] = idle
}

// shouldContinue reports whether path is still wanted: the watcher is
// running and the path is still registered. Checked only between events, so
// a Remove/Stop issued mid-handler takes effect on the next idle point.
func (w *Watcher) shouldContinue(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, wanted := w.resources[path]; !wanted {
		return false
	}
	return w.running
}
