// Package k8sclient is a minimal, hand-rolled Kubernetes API client: bearer
// token or mutual TLS authentication, GET, a streaming WATCH, and an
// annotation PATCH protocol with optimistic-concurrency conflict resolution.
// It intentionally does not depend on client-go: the controller only ever
// needs these three operations against arbitrary resource paths.
package k8sclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"k8s.io/klog/v2"

	"github.com/kuryr/kuryr-controller/pkg/kerrors"
)

// MaxAnnotateAttempts bounds the ANNOTATE optimistic-concurrency retry loop
// (§9 Open Questions decision: the source has no upper bound).
const MaxAnnotateAttempts = 32

const scannerInitialBufferSize = 64 * 1024
const scannerMaxBufferSize = 16 * 1024 * 1024

// Client talks to a single Kubernetes API server.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	tokenSource func() (string, error)
}

// New constructs a Client against apiServerURL (e.g.
// "https://10.0.0.1:6443") using the given authentication configuration.
func New(apiServerURL string, auth AuthConfig) (*Client, error) {
	transport, tokenSource, err := newTransport(auth)
	if err != nil {
		return nil, err
	}
	return &Client{
		httpClient:  &http.Client{Transport: transport},
		baseURL:     strings.TrimSuffix(apiServerURL, "/"),
		tokenSource: tokenSource,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.tokenSource != nil {
		token, err := c.tokenSource()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// Object is a decoded Kubernetes resource. It is kept as a raw map rather
// than a typed struct so the client can GET/PATCH arbitrary resource kinds
// without a scheme registry.
type Object map[string]any

// Kind returns object["kind"], or "" if absent or not a string.
func (o Object) Kind() string {
	k, _ := o["kind"].(string)
	return k
}

// Metadata returns object["metadata"] as a map, or an empty map if absent.
func (o Object) Metadata() map[string]any {
	m, _ := o["metadata"].(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m
}

// ResourceVersion returns metadata.resourceVersion, or "" if absent.
func (o Object) ResourceVersion() string {
	rv, _ := o.Metadata()["resourceVersion"].(string)
	return rv
}

// Annotations returns metadata.annotations, or an empty map if absent.
func (o Object) Annotations() map[string]string {
	raw, _ := o.Metadata()["annotations"].(map[string]any)
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// SelfLink returns metadata.selfLink, or "" if absent.
func (o Object) SelfLink() string {
	sl, _ := o.Metadata()["selfLink"].(string)
	return sl
}

// Get fetches the resource at path and decodes it as an Object.
func (c *Client) Get(ctx context.Context, path string) (Object, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, kerrors.NewK8sClientError("GET", path, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, kerrors.NewK8sClientError("GET", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, kerrors.NewK8sClientError("GET", path, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var obj Object
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, kerrors.NewK8sClientError("GET", path, fmt.Errorf("decoding response body: %w", err))
	}
	return obj, nil
}

// WatchEvent is one decoded line from a watch stream.
type WatchEvent struct {
	Type   string `json:"type"`
	Object Object `json:"object"`
}

// Watch opens a streaming GET with watch=true against path and returns a
// channel that yields one WatchEvent per newline-delimited line. The
// returned channel is closed when the stream ends, the context is
// cancelled, or a decode error occurs; a non-nil error is sent as the final
// value read from errc. The caller must drain events (or cancel ctx) to
// release the underlying connection.
func (c *Client) Watch(ctx context.Context, path string) (<-chan WatchEvent, <-chan error, error) {
	watchPath := path
	if strings.Contains(path, "?") {
		watchPath += "&watch=true"
	} else {
		watchPath += "?watch=true"
	}

	req, err := c.newRequest(ctx, http.MethodGet, watchPath, nil)
	if err != nil {
		return nil, nil, kerrors.NewK8sClientError("WATCH", path, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, kerrors.NewK8sClientError("WATCH", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, nil, kerrors.NewK8sClientError("WATCH", path, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	events := make(chan WatchEvent)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errc)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, scannerInitialBufferSize), scannerMaxBufferSize)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var ev WatchEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				errc <- kerrors.NewK8sClientError("WATCH", path, fmt.Errorf("decoding watch line: %w", err))
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errc <- kerrors.NewK8sClientError("WATCH", path, err)
		}
	}()

	return events, errc, nil
}

// mergePatchBody is the JSON body of an ANNOTATE PATCH request.
type mergePatchBody struct {
	Metadata mergePatchMetadata `json:"metadata"`
}

type mergePatchMetadata struct {
	Annotations     map[string]*string `json:"annotations"`
	ResourceVersion *string            `json:"resourceVersion"`
}

// Annotate PATCHes the annotations on the resource at path using
// application/merge-patch+json, with resourceVersion as an optional
// optimistic-concurrency precondition. A nil value in annotations deletes
// that key. On HTTP 409 Conflict it re-reads the resource and, provided the
// server's current annotation values already agree with what the caller
// wants (i.e. some other writer raced to the same result), retries with the
// fresh resourceVersion; if they disagree, it fails with a K8sClientError
// without overwriting the divergent value. The loop is bounded by
// MaxAnnotateAttempts.
func (c *Client) Annotate(ctx context.Context, path string, annotations map[string]*string, resourceVersion *string) (map[string]*string, error) {
	rv := resourceVersion

	for attempt := 1; attempt <= MaxAnnotateAttempts; attempt++ {
		body := mergePatchBody{Metadata: mergePatchMetadata{Annotations: annotations, ResourceVersion: rv}}
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, kerrors.NewK8sClientError("PATCH", path, fmt.Errorf("encoding patch body: %w", err))
		}

		req, err := c.newRequest(ctx, http.MethodPatch, path, bytes.NewReader(payload))
		if err != nil {
			return nil, kerrors.NewK8sClientError("PATCH", path, err)
		}
		req.Header.Set("Content-Type", "application/merge-patch+json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, kerrors.NewK8sClientError("PATCH", path, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			var obj Object
			decErr := json.NewDecoder(resp.Body).Decode(&obj)
			resp.Body.Close()
			if decErr != nil {
				return nil, kerrors.NewK8sClientError("PATCH", path, fmt.Errorf("decoding response body: %w", decErr))
			}
			result := make(map[string]*string)
			for k, v := range obj.Annotations() {
				value := v
				result[k] = &value
			}
			return result, nil
		}

		if resp.StatusCode != http.StatusConflict {
			resp.Body.Close()
			return nil, kerrors.NewK8sClientError("PATCH", path, fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		resp.Body.Close()

		klog.V(2).InfoS("annotate conflict, re-reading resource", "path", path, "attempt", attempt)

		fresh, err := c.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		freshAnnotations := fresh.Annotations()
		for k, wanted := range annotations {
			current, present := freshAnnotations[k]
			if wanted == nil {
				if present {
					return nil, kerrors.NewK8sClientError("PATCH", path, fmt.Errorf("conflicting writer: key %q still present, wanted deletion", k))
				}
				continue
			}
			if present && current != *wanted {
				return nil, kerrors.NewK8sClientError("PATCH", path, fmt.Errorf("conflicting writer: key %q diverges", k))
			}
		}

		freshRV := fresh.ResourceVersion()
		rv = &freshRV
	}

	return nil, kerrors.NewResourceNotReady(path)
}
