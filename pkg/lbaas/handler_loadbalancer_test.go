package lbaas

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kuryr/kuryr-controller/pkg/k8sclient"
)

// fakeLBaaS is a deterministic, name-keyed in-memory stand-in for an
// Octavia-backed LBaaSDriver: it assigns sequential IDs and tolerates
// releasing an entity that was never created, mirroring the idempotent
// Ensure*/Release* contract the real driver implements.
type fakeLBaaS struct {
	nextID int

	loadBalancers map[string]*LoadBalancer
	listeners     map[string]*Listener
	pools         map[string]*Pool
	members       map[string]*Member

	releasedLoadBalancers []string
	releasedListeners     []string
	releasedPools         []string
	releasedMembers       []string

	ensureLoadBalancerErr error
	ensurePoolErr         error
}

func newFakeLBaaS() *fakeLBaaS {
	return &fakeLBaaS{
		loadBalancers: map[string]*LoadBalancer{},
		listeners:     map[string]*Listener{},
		pools:         map[string]*Pool{},
		members:       map[string]*Member{},
	}
}

func (f *fakeLBaaS) newID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeLBaaS) EnsureLoadBalancer(ctx context.Context, endpoints Object, projectID, subnetID, ip string, securityGroupIDs []string) (*LoadBalancer, error) {
	if f.ensureLoadBalancerErr != nil {
		return nil, f.ensureLoadBalancerErr
	}
	lb := &LoadBalancer{ID: f.newID("lb"), ProjectID: projectID, SubnetID: subnetID, IP: ip}
	f.loadBalancers[lb.ID] = lb
	return lb, nil
}

func (f *fakeLBaaS) ReleaseLoadBalancer(ctx context.Context, lb *LoadBalancer) error {
	if lb == nil {
		return nil
	}
	f.releasedLoadBalancers = append(f.releasedLoadBalancers, lb.ID)
	delete(f.loadBalancers, lb.ID)
	return nil
}

func (f *fakeLBaaS) EnsureListener(ctx context.Context, endpoints Object, lb *LoadBalancer, protocol string, port int32) (*Listener, error) {
	l := &Listener{ID: f.newID("listener"), LoadBalancerID: lb.ID, Protocol: protocol, Port: port}
	f.listeners[l.ID] = l
	return l, nil
}

func (f *fakeLBaaS) ReleaseListener(ctx context.Context, listener *Listener) error {
	f.releasedListeners = append(f.releasedListeners, listener.ID)
	delete(f.listeners, listener.ID)
	return nil
}

func (f *fakeLBaaS) EnsurePool(ctx context.Context, endpoints Object, lb *LoadBalancer, listener *Listener) (*Pool, error) {
	if f.ensurePoolErr != nil {
		return nil, f.ensurePoolErr
	}
	p := &Pool{ID: f.newID("pool"), LoadBalancerID: lb.ID, ListenerID: listener.ID, Protocol: listener.Protocol}
	f.pools[p.ID] = p
	return p, nil
}

func (f *fakeLBaaS) ReleasePool(ctx context.Context, pool *Pool) error {
	f.releasedPools = append(f.releasedPools, pool.ID)
	delete(f.pools, pool.ID)
	return nil
}

func (f *fakeLBaaS) EnsureMember(ctx context.Context, endpoints Object, lb *LoadBalancer, pool *Pool, subnetID, ip string, port int32, targetRef map[string]any) (*Member, error) {
	m := &Member{ID: f.newID("member"), PoolID: pool.ID, SubnetID: subnetID, IP: ip, Port: port}
	f.members[m.ID] = m
	return m, nil
}

func (f *fakeLBaaS) ReleaseMember(ctx context.Context, member *Member) error {
	f.releasedMembers = append(f.releasedMembers, member.ID)
	delete(f.members, member.ID)
	return nil
}

func testEndpoints(spec *ServiceSpec, state *State, addresses []string, port int32) map[string]any {
	annotations := map[string]any{}
	if spec != nil {
		data, err := MarshalCanonical(spec)
		Expect(err).NotTo(HaveOccurred())
		annotations[AnnotationServiceSpec] = string(data)
	}
	if state != nil {
		data, err := MarshalCanonical(state)
		Expect(err).NotTo(HaveOccurred())
		annotations[AnnotationLBaaSState] = string(data)
	}

	rawAddresses := make([]any, len(addresses))
	for i, ip := range addresses {
		rawAddresses[i] = map[string]any{
			"ip":        ip,
			"targetRef": map[string]any{"kind": "Pod", "name": fmt.Sprintf("pod-%d", i)},
		}
	}

	return map[string]any{
		"kind": "Endpoints",
		"metadata": map[string]any{
			"namespace":       "default",
			"name":            "web",
			"resourceVersion": "1",
			"selfLink":        "/api/v1/namespaces/default/endpoints/web",
			"annotations":     annotations,
		},
		"subsets": []any{
			map[string]any{
				"addresses": rawAddresses,
				"ports": []any{
					map[string]any{"name": "http", "protocol": "TCP", "port": float64(port)},
				},
			},
		},
	}
}

var _ = Describe("LoadBalancerHandler", func() {
	var (
		lbaasDriver *fakeLBaaS
		server      *httptest.Server
		handler     *LoadBalancerHandler
		patched     []string
	)

	BeforeEach(func() {
		lbaasDriver = newFakeLBaaS()
		patched = nil

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPatch {
				patched = append(patched, r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"kind":"Endpoints","metadata":{"resourceVersion":"2","annotations":{}}}`))
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))

		handler = &LoadBalancerHandler{
			Client: newTestK8sClient(server),
			LBaaS:  lbaasDriver,
			PodSubnets: &stubSubnetsDriver{subnets: map[string]Subnet{
				"sn-pod": {ID: "sn-pod", CIDR: "10.1.0.0/16"},
			}},
		}
	})

	AfterEach(func() {
		server.Close()
	})

	It("ignores endpoints with no published spec", func() {
		endpoints := testEndpoints(nil, nil, []string{"10.1.0.2"}, 8080)
		Expect(handler.OnPresent(context.Background(), endpoints)).To(Succeed())
		Expect(patched).To(BeEmpty())
		Expect(lbaasDriver.loadBalancers).To(BeEmpty())
	})

	It("builds a load balancer, listener, pool and member from scratch", func() {
		spec := &ServiceSpec{
			SchemaVersion: SchemaVersion,
			IP:            "10.0.0.5",
			ProjectID:     "proj-1",
			SubnetID:      "sn-a",
			Ports:         []PortSpec{{Name: "http", Protocol: "TCP", Port: 80}},
		}
		endpoints := testEndpoints(spec, nil, []string{"10.1.0.2", "10.1.0.3"}, 8080)

		Expect(handler.OnPresent(context.Background(), endpoints)).To(Succeed())

		Expect(lbaasDriver.loadBalancers).To(HaveLen(1))
		Expect(lbaasDriver.listeners).To(HaveLen(1))
		Expect(lbaasDriver.pools).To(HaveLen(1))
		Expect(lbaasDriver.members).To(HaveLen(2))
		Expect(patched).To(Equal([]string{"/api/v1/namespaces/default/endpoints/web"}))

		for _, m := range lbaasDriver.members {
			// Members sit on the pod subnet, not the Service's own
			// spec.SubnetID ("sn-a").
			Expect(m.SubnetID).To(Equal("sn-pod"))
		}
	})

	It("ignores endpoints whose subset ports have not caught up with the spec", func() {
		spec := &ServiceSpec{
			SchemaVersion: SchemaVersion,
			IP:            "10.0.0.5",
			ProjectID:     "proj-1",
			SubnetID:      "sn-a",
			Ports:         []PortSpec{{Name: "http", Protocol: "TCP", Port: 80}, {Name: "metrics", Protocol: "TCP", Port: 81}},
		}
		endpoints := testEndpoints(spec, nil, []string{"10.1.0.2"}, 8080)

		Expect(handler.OnPresent(context.Background(), endpoints)).To(Succeed())
		Expect(patched).To(BeEmpty())
		Expect(lbaasDriver.loadBalancers).To(BeEmpty())
	})

	It("ignores endpoints with no pod-targeted address yet", func() {
		spec := &ServiceSpec{
			SchemaVersion: SchemaVersion,
			IP:            "10.0.0.5",
			ProjectID:     "proj-1",
			SubnetID:      "sn-a",
			Ports:         []PortSpec{{Name: "http", Protocol: "TCP", Port: 80}},
		}
		endpoints := testEndpoints(spec, nil, nil, 8080)

		Expect(handler.OnPresent(context.Background(), endpoints)).To(Succeed())
		Expect(patched).To(BeEmpty())
		Expect(lbaasDriver.loadBalancers).To(BeEmpty())
	})

	It("creates no load balancer for a headless service and releases a stale one", func() {
		spec := &ServiceSpec{
			SchemaVersion: SchemaVersion,
			ProjectID:     "proj-1",
			Ports:         []PortSpec{{Name: "http", Protocol: "TCP", Port: 80}},
		}
		oldLB := &LoadBalancer{ID: "lb-old", ProjectID: "proj-1", SubnetID: "sn-a", IP: "10.0.0.5"}
		lbaasDriver.loadBalancers[oldLB.ID] = oldLB
		state := &State{SchemaVersion: SchemaVersion, LoadBalancer: oldLB}
		endpoints := testEndpoints(spec, state, []string{"10.1.0.2"}, 8080)

		Expect(handler.OnPresent(context.Background(), endpoints)).To(Succeed())
		Expect(lbaasDriver.releasedLoadBalancers).To(Equal([]string{"lb-old"}))
		Expect(lbaasDriver.loadBalancers).To(BeEmpty())
		Expect(lbaasDriver.listeners).To(BeEmpty())
	})

	It("is idempotent when run twice against the same desired state", func() {
		spec := &ServiceSpec{
			SchemaVersion: SchemaVersion,
			IP:            "10.0.0.5",
			ProjectID:     "proj-1",
			SubnetID:      "sn-a",
			Ports:         []PortSpec{{Name: "http", Protocol: "TCP", Port: 80}},
		}
		endpoints := testEndpoints(spec, nil, []string{"10.1.0.2"}, 8080)
		Expect(handler.OnPresent(context.Background(), endpoints)).To(Succeed())

		state := NewEmptyState()
		for _, lb := range lbaasDriver.loadBalancers {
			state.LoadBalancer = lb
		}
		for _, l := range lbaasDriver.listeners {
			state.Listeners = append(state.Listeners, *l)
		}
		for _, p := range lbaasDriver.pools {
			state.Pools = append(state.Pools, *p)
		}
		for _, m := range lbaasDriver.members {
			state.Members = append(state.Members, *m)
		}

		endpoints2 := testEndpoints(spec, state, []string{"10.1.0.2"}, 8080)
		Expect(handler.OnPresent(context.Background(), endpoints2)).To(Succeed())

		Expect(lbaasDriver.loadBalancers).To(HaveLen(1))
		Expect(lbaasDriver.listeners).To(HaveLen(1))
		Expect(lbaasDriver.pools).To(HaveLen(1))
		Expect(lbaasDriver.members).To(HaveLen(1))
		Expect(lbaasDriver.releasedMembers).To(BeEmpty())
	})

	It("prunes a member that disappeared from the endpoints subset", func() {
		spec := &ServiceSpec{
			SchemaVersion: SchemaVersion, ProjectID: "proj-1", SubnetID: "sn-a",
			Ports: []PortSpec{{Name: "http", Protocol: "TCP", Port: 80}},
		}
		lb := &LoadBalancer{ID: "lb-1", ProjectID: "proj-1", SubnetID: "sn-a"}
		listener := Listener{ID: "listener-1", LoadBalancerID: "lb-1", Protocol: "TCP", Port: 80}
		pool := Pool{ID: "pool-1", LoadBalancerID: "lb-1", ListenerID: "listener-1", Protocol: "TCP"}
		stale := Member{ID: "member-1", PoolID: "pool-1", IP: "10.1.0.9", Port: 8080}
		kept := Member{ID: "member-2", PoolID: "pool-1", IP: "10.1.0.2", Port: 8080}

		lbaasDriver.loadBalancers[lb.ID] = lb
		lbaasDriver.listeners[listener.ID] = &listener
		lbaasDriver.pools[pool.ID] = &pool
		lbaasDriver.members[stale.ID] = &stale
		lbaasDriver.members[kept.ID] = &kept

		state := &State{SchemaVersion: SchemaVersion, LoadBalancer: lb, Listeners: []Listener{listener}, Pools: []Pool{pool}, Members: []Member{stale, kept}}
		endpoints := testEndpoints(spec, state, []string{"10.1.0.2"}, 8080)

		Expect(handler.OnPresent(context.Background(), endpoints)).To(Succeed())
		Expect(lbaasDriver.releasedMembers).To(Equal([]string{"member-1"}))
		Expect(lbaasDriver.members).To(HaveLen(1))
	})

	It("recreates the load balancer when the spec's subnet changes underneath it", func() {
		spec := &ServiceSpec{
			SchemaVersion: SchemaVersion, IP: "10.0.0.9", ProjectID: "proj-1", SubnetID: "sn-b",
			Ports: []PortSpec{{Name: "http", Protocol: "TCP", Port: 80}},
		}
		oldLB := &LoadBalancer{ID: "lb-old", ProjectID: "proj-1", SubnetID: "sn-a", IP: "10.0.0.9"}
		lbaasDriver.loadBalancers[oldLB.ID] = oldLB

		state := &State{SchemaVersion: SchemaVersion, LoadBalancer: oldLB}
		endpoints := testEndpoints(spec, state, []string{"10.1.0.2"}, 8080)

		Expect(handler.OnPresent(context.Background(), endpoints)).To(Succeed())
		Expect(lbaasDriver.releasedLoadBalancers).To(Equal([]string{"lb-old"}))
		Expect(lbaasDriver.loadBalancers).To(HaveLen(1))
		Expect(lbaasDriver.listeners).To(HaveLen(1))
	})

	It("releases every realized entity on delete", func() {
		lb := &LoadBalancer{ID: "lb-1"}
		listener := Listener{ID: "listener-1", LoadBalancerID: "lb-1"}
		pool := Pool{ID: "pool-1", LoadBalancerID: "lb-1", ListenerID: "listener-1"}
		member := Member{ID: "member-1", PoolID: "pool-1"}

		lbaasDriver.loadBalancers[lb.ID] = lb
		lbaasDriver.listeners[listener.ID] = &listener
		lbaasDriver.pools[pool.ID] = &pool
		lbaasDriver.members[member.ID] = &member

		state := &State{SchemaVersion: SchemaVersion, LoadBalancer: lb, Listeners: []Listener{listener}, Pools: []Pool{pool}, Members: []Member{member}}
		endpoints := testEndpoints(nil, state, nil, 0)

		Expect(handler.OnDeleted(context.Background(), endpoints)).To(Succeed())
		Expect(lbaasDriver.releasedMembers).To(Equal([]string{"member-1"}))
		Expect(lbaasDriver.releasedPools).To(Equal([]string{"pool-1"}))
		Expect(lbaasDriver.releasedListeners).To(Equal([]string{"listener-1"}))
		Expect(lbaasDriver.releasedLoadBalancers).To(Equal([]string{"lb-1"}))
	})
})

var _ = Describe("desiredPoolsFromEndpoints", func() {
	It("matches a single service port positionally when names are absent", func() {
		spec := &ServiceSpec{Ports: []PortSpec{{Protocol: "TCP", Port: 80}}}
		endpoints := k8sclient.Object(testEndpoints(nil, nil, []string{"10.1.0.2"}, 8080))
		// desiredPoolsFromEndpoints reads endpoints["subsets"] directly; the
		// helper's spec/state annotation args above are irrelevant here.
		pools := desiredPoolsFromEndpoints(spec, endpoints)
		Expect(pools).To(HaveLen(1))
		Expect(pools[0].Members).To(HaveLen(1))
		Expect(pools[0].Members[0].IP).To(Equal("10.1.0.2"))
		Expect(pools[0].Members[0].Port).To(Equal(int32(8080)))
	})

	It("drops a subset port that matches no named service port when there are multiple", func() {
		spec := &ServiceSpec{Ports: []PortSpec{{Name: "http", Protocol: "TCP", Port: 80}, {Name: "https", Protocol: "TCP", Port: 443}}}
		endpoints := k8sclient.Object(map[string]any{
			"subsets": []any{
				map[string]any{
					"addresses": []any{map[string]any{"ip": "10.1.0.2"}},
					"ports":     []any{map[string]any{"name": "unmatched", "protocol": "TCP", "port": float64(8080)}},
				},
			},
		})
		pools := desiredPoolsFromEndpoints(spec, endpoints)
		Expect(pools).To(HaveLen(2))
		Expect(pools[0].Members).To(BeEmpty())
		Expect(pools[1].Members).To(BeEmpty())
	})
})
