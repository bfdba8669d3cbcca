// Package dispatch translates raw {type, object} watch events into
// on_present/on_deleted calls for a handler registered against a single
// object kind, and is the point where retry wrapping (pkg/retry) is applied.
package dispatch

import (
	"context"

	"k8s.io/klog/v2"
)

// ResourceHandler reacts to ADDED/MODIFIED and DELETED events for a single
// Kubernetes object kind.
type ResourceHandler interface {
	// ObjectKind is the kind this handler cares about, e.g. "Service".
	ObjectKind() string
	// OnPresent is called for ADDED and MODIFIED events.
	OnPresent(ctx context.Context, object map[string]any) error
	// OnDeleted is called for DELETED events.
	OnDeleted(ctx context.Context, object map[string]any) error
}

// Event mirrors watcher.Event without importing it, keeping dispatch
// decoupled from the watcher's internal event representation.
type Event struct {
	Type   string
	Object map[string]any
}

// Dispatcher routes events to a single ResourceHandler, filtering by kind
// and event type.
type Dispatcher struct {
	handler ResourceHandler
}

// New constructs a Dispatcher for handler.
func New(handler ResourceHandler) *Dispatcher {
	return &Dispatcher{handler: handler}
}

// Dispatch routes event to the handler's OnPresent/OnDeleted, or ignores it.
// The returned error is exactly whatever the handler returned; callers
// normally wrap Dispatch with pkg/retry before registering it with the
// watcher.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	kind, _ := event.Object["kind"].(string)
	if kind != d.handler.ObjectKind() {
		return nil
	}

	switch event.Type {
	case "ADDED", "MODIFIED":
		return d.handler.OnPresent(ctx, event.Object)
	case "DELETED":
		return d.handler.OnDeleted(ctx, event.Object)
	default:
		klog.V(4).InfoS("ignoring unknown watch event type", "type", event.Type, "kind", kind)
		return nil
	}
}
