package k8sclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func newTestClient(server *httptest.Server) *Client {
	tokenFile := filepath.Join(GinkgoT().TempDir(), "token")
	Expect(os.WriteFile(tokenFile, []byte("test-token"), 0o600)).To(Succeed())

	c, err := New(server.URL, AuthConfig{TokenFile: tokenFile})
	Expect(err).NotTo(HaveOccurred())
	return c
}

var _ = Describe("Client", func() {
	Describe("Get", func() {
		It("decodes a 2xx JSON response", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer test-token"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"kind":"Service","metadata":{"resourceVersion":"1"}}`))
			}))
			defer server.Close()

			c := newTestClient(server)
			obj, err := c.Get(context.Background(), "/api/v1/namespaces/x/services/s")
			Expect(err).NotTo(HaveOccurred())
			Expect(obj.Kind()).To(Equal("Service"))
			Expect(obj.ResourceVersion()).To(Equal("1"))
		})

		It("fails with a K8sClientError on non-2xx", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			}))
			defer server.Close()

			c := newTestClient(server)
			_, err := c.Get(context.Background(), "/api/v1/namespaces/x/services/missing")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("404"))
		})
	})

	Describe("Watch", func() {
		It("yields one event per newline-delimited JSON line and skips blank lines", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Query().Get("watch")).To(Equal("true"))
				flusher := w.(http.Flusher)
				_, _ = w.Write([]byte("\n"))
				_, _ = w.Write([]byte(`{"type":"ADDED","object":{"kind":"Endpoints"}}` + "\n"))
				flusher.Flush()
				_, _ = w.Write([]byte(`{"type":"MODIFIED","object":{"kind":"Endpoints"}}` + "\n"))
				flusher.Flush()
			}))
			defer server.Close()

			c := newTestClient(server)
			events, errc, err := c.Watch(context.Background(), "/api/v1/namespaces/x/endpoints/s")
			Expect(err).NotTo(HaveOccurred())

			var seen []string
			for ev := range events {
				seen = append(seen, ev.Type)
			}
			Expect(seen).To(Equal([]string{"ADDED", "MODIFIED"}))
			Expect(<-errc).To(BeNil())
		})
	})

	Describe("Annotate", func() {
		It("PATCHes with merge-patch+json and returns the new annotations", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodPatch))
				Expect(r.Header.Get("Content-Type")).To(Equal("application/merge-patch+json"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"kind":"Endpoints","metadata":{"resourceVersion":"2","annotations":{"a":"b"}}}`))
			}))
			defer server.Close()

			c := newTestClient(server)
			b := "b"
			annotations, err := c.Annotate(context.Background(), "/api/v1/namespaces/x/endpoints/s", map[string]*string{"a": &b}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(*annotations["a"]).To(Equal("b"))
		})

		It("fails on 409 without retrying when the conflicting writer set a different value", func() {
			attempts := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts++
				switch {
				case r.Method == http.MethodPatch && attempts == 1:
					w.WriteHeader(http.StatusConflict)
				case r.Method == http.MethodGet:
					w.Header().Set("Content-Type", "application/json")
					_, _ = w.Write([]byte(`{"kind":"Endpoints","metadata":{"resourceVersion":"3","annotations":{"a":"different"}}}`))
				default:
					w.WriteHeader(http.StatusConflict)
				}
			}))
			defer server.Close()

			c := newTestClient(server)
			b := "b"
			_, err := c.Annotate(context.Background(), "/api/v1/namespaces/x/endpoints/s", map[string]*string{"a": &b}, nil)
			Expect(err).To(HaveOccurred())
			Expect(strings.Contains(err.Error(), "diverges")).To(BeTrue())
		})

		It("retries on 409 when the wanted key is simply absent from the fresh object", func() {
			attempts := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts++
				switch {
				case r.Method == http.MethodPatch && attempts == 1:
					w.WriteHeader(http.StatusConflict)
				case r.Method == http.MethodGet:
					w.Header().Set("Content-Type", "application/json")
					_, _ = w.Write([]byte(`{"kind":"Endpoints","metadata":{"resourceVersion":"3","annotations":{}}}`))
				default:
					w.Header().Set("Content-Type", "application/json")
					_, _ = w.Write([]byte(`{"kind":"Endpoints","metadata":{"resourceVersion":"4","annotations":{"a":"b"}}}`))
				}
			}))
			defer server.Close()

			c := newTestClient(server)
			b := "b"
			annotations, err := c.Annotate(context.Background(), "/api/v1/namespaces/x/endpoints/s", map[string]*string{"a": &b}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(*annotations["a"]).To(Equal("b"))
			Expect(attempts).To(Equal(3))
		})
	})
})
