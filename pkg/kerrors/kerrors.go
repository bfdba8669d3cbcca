// Package kerrors defines the error taxonomy shared by the Kubernetes client,
// the retry wrapper, and the LBaaS reconciliation handlers.
package kerrors

import (
	"errors"
	"fmt"
)

// K8sClientError reports a protocol-level failure talking to the Kubernetes
// API server: a non-2xx response the client could not resolve on its own,
// or a malformed response body.
type K8sClientError struct {
	Path string
	Op   string
	Err  error
}

func (e *K8sClientError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("k8s client: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("k8s client: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *K8sClientError) Unwrap() error { return e.Err }

func NewK8sClientError(op, path string, err error) *K8sClientError {
	return &K8sClientError{Op: op, Path: path, Err: err}
}

// IntegrityError reports an invariant violation found in input data, e.g. a
// Service cluster IP that is not contained in exactly one subnet, or a
// selfLink that cannot be mapped to its twin Endpoints path. It is never
// retried: it indicates bad input, not a transient condition.
type IntegrityError struct {
	Message string
}

func (e *IntegrityError) Error() string { return "integrity error: " + e.Message }

func NewIntegrityError(format string, args ...any) *IntegrityError {
	return &IntegrityError{Message: fmt.Sprintf(format, args...)}
}

// ResourceNotReady signals that some resource the caller depends on has not
// reached a consistent state yet, and that re-invoking the same handler
// later with the same event is the correct response. It is the only error
// the retry wrapper treats specially by default.
type ResourceNotReady struct {
	Resource string
}

func (e *ResourceNotReady) Error() string {
	return fmt.Sprintf("resource not ready: %s", e.Resource)
}

func NewResourceNotReady(resource string) *ResourceNotReady {
	return &ResourceNotReady{Resource: resource}
}

// IsResourceNotReady reports whether err is, or wraps, a *ResourceNotReady.
func IsResourceNotReady(err error) bool {
	var notReady *ResourceNotReady
	return errors.As(err, &notReady)
}

// IsIntegrityError reports whether err is, or wraps, an *IntegrityError.
func IsIntegrityError(err error) bool {
	var integrity *IntegrityError
	return errors.As(err, &integrity)
}
