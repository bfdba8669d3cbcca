package lbaas

import (
	"context"
	"fmt"
	"sort"

	"k8s.io/klog/v2"

	"github.com/kuryr/kuryr-controller/pkg/k8sclient"
	"github.com/kuryr/kuryr-controller/pkg/kerrors"
)

// LoadBalancerHandler is the LoadBalancerHandler (C6): it reacts to
// Endpoints events and reconciles the realized Octavia load balancer,
// listeners, pools, and members against the ServiceSpec published by
// SpecHandler and the Endpoints' own subsets.
//
// Reconciliation always prunes before it adds (§4.6): members, then pools,
// then listeners are released before the load balancer itself is
// reconciled, and only then are missing listeners, pools, and members
// created. This ordering never leaves a pool referencing a released
// listener, or a member referencing a released pool.
type LoadBalancerHandler struct {
	Client     *k8sclient.Client
	LBaaS      LBaaSDriver
	PodSubnets SubnetsDriver
}

// ObjectKind implements dispatch.ResourceHandler.
func (h *LoadBalancerHandler) ObjectKind() string { return "Endpoints" }

type desiredMember struct {
	IP        string
	Port      int32
	TargetRef map[string]any
}

type desiredPool struct {
	ServicePort PortSpec
	Members     []desiredMember
}

// OnPresent implements dispatch.ResourceHandler for ADDED/MODIFIED
// Endpoints events (§4.6).
func (h *LoadBalancerHandler) OnPresent(ctx context.Context, raw map[string]any) error {
	endpoints := k8sclient.Object(raw)

	spec, err := UnmarshalServiceSpec([]byte(endpoints.Annotations()[AnnotationServiceSpec]))
	if err != nil {
		return kerrors.NewIntegrityError("decoding service spec on endpoints: %v", err)
	}
	if shouldIgnore(spec, endpoints) {
		klog.V(4).InfoS("service spec absent or endpoints not in sync with it, ignoring endpoints", "endpoints", endpoints.SelfLink())
		return nil
	}

	state, err := UnmarshalState([]byte(endpoints.Annotations()[AnnotationLBaaSState]))
	if err != nil {
		return kerrors.NewIntegrityError("decoding lbaas state on endpoints: %v", err)
	}
	if state == nil {
		state = NewEmptyState()
	}

	desiredPools := desiredPoolsFromEndpoints(spec, endpoints)

	if err := h.pruneMembers(ctx, state, desiredPools); err != nil {
		return err
	}
	if err := h.prunePools(ctx, state, desiredPools); err != nil {
		return err
	}
	if err := h.pruneListeners(ctx, state, desiredPools); err != nil {
		return err
	}
	if err := h.reconcileLoadBalancer(ctx, state, spec, endpoints); err != nil {
		return err
	}

	// spec.IP is optional (§3): a headless or not-yet-assigned Service
	// publishes a spec with no IP, and no load balancer should exist for
	// it. reconcileLoadBalancer has already released any stale one above;
	// there is nothing left to attach listeners, pools, or members to.
	if spec.IP != "" {
		if err := h.addListeners(ctx, state, desiredPools, endpoints); err != nil {
			return err
		}
		if err := h.addPools(ctx, state, desiredPools, endpoints); err != nil {
			return err
		}
		if err := h.addMembers(ctx, state, desiredPools, spec, endpoints); err != nil {
			return err
		}
	}

	return h.persistState(ctx, endpoints, state)
}

// OnDeleted implements dispatch.ResourceHandler for DELETED Endpoints
// events: it releases every realized entity, in prune order, and clears the
// state annotation on a best-effort basis.
func (h *LoadBalancerHandler) OnDeleted(ctx context.Context, raw map[string]any) error {
	endpoints := k8sclient.Object(raw)

	state, err := UnmarshalState([]byte(endpoints.Annotations()[AnnotationLBaaSState]))
	if err != nil || state == nil {
		return nil
	}

	for i := range state.Members {
		if err := h.LBaaS.ReleaseMember(ctx, &state.Members[i]); err != nil {
			return fmt.Errorf("lbaas: releasing member %s: %w", state.Members[i].ID, err)
		}
	}
	for i := range state.Pools {
		if err := h.LBaaS.ReleasePool(ctx, &state.Pools[i]); err != nil {
			return fmt.Errorf("lbaas: releasing pool %s: %w", state.Pools[i].ID, err)
		}
	}
	for i := range state.Listeners {
		if err := h.LBaaS.ReleaseListener(ctx, &state.Listeners[i]); err != nil {
			return fmt.Errorf("lbaas: releasing listener %s: %w", state.Listeners[i].ID, err)
		}
	}
	if err := h.LBaaS.ReleaseLoadBalancer(ctx, state.LoadBalancer); err != nil {
		return fmt.Errorf("lbaas: releasing load balancer: %w", err)
	}

	if _, err := h.Client.Annotate(ctx, endpoints.SelfLink(), map[string]*string{AnnotationLBaaSState: nil}, nil); err != nil {
		klog.V(2).InfoS("could not clear lbaas state on deleted endpoints", "endpoints", endpoints.SelfLink(), "err", err)
	}
	return nil
}

// shouldIgnore reports whether endpoints carries no actionable ServiceSpec
// yet (§4.6): the spec is absent or incomplete, no subset address targets a
// Pod yet, or the Endpoints' own subset ports haven't caught up with the
// spec's ports (a stale/in-flight Endpoints write racing the spec publish).
func shouldIgnore(spec *ServiceSpec, endpoints k8sclient.Object) bool {
	if spec == nil || spec.ProjectID == "" || len(spec.Ports) == 0 {
		return true
	}
	if !endpointsHavePodAddress(endpoints) {
		return true
	}
	if !sortedStringsEqual(endpointsPortNames(endpoints), specPortNames(spec.Ports)) {
		return true
	}
	return false
}

func specPortNames(ports []PortSpec) []string {
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name
	}
	sort.Strings(names)
	return names
}

// endpointsPortNames returns the sorted port names carried by every subset
// of endpoints, across all subsets.
func endpointsPortNames(endpoints k8sclient.Object) []string {
	var names []string
	for _, subset := range rawSubsets(endpoints) {
		rawPorts, _ := subset["ports"].([]any)
		for _, rp := range rawPorts {
			p, _ := rp.(map[string]any)
			if p == nil {
				continue
			}
			name, _ := p["name"].(string)
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// endpointsHavePodAddress reports whether any subset address targets a Pod.
// Before the endpoints controller has filled in addresses (or once it only
// targets something other than a Pod), there is nothing to load balance to.
func endpointsHavePodAddress(endpoints k8sclient.Object) bool {
	for _, subset := range rawSubsets(endpoints) {
		rawAddresses, _ := subset["addresses"].([]any)
		for _, ra := range rawAddresses {
			addr, _ := ra.(map[string]any)
			if addr == nil {
				continue
			}
			targetRef, _ := addr["targetRef"].(map[string]any)
			if kind, _ := targetRef["kind"].(string); kind == "Pod" {
				return true
			}
		}
	}
	return false
}

func rawSubsets(endpoints k8sclient.Object) []map[string]any {
	raw, _ := endpoints["subsets"].([]any)
	subsets := make([]map[string]any, 0, len(raw))
	for _, rs := range raw {
		if subset, ok := rs.(map[string]any); ok {
			subsets = append(subsets, subset)
		}
	}
	return subsets
}

func sortedStringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (h *LoadBalancerHandler) pruneMembers(ctx context.Context, state *State, desired []desiredPool) error {
	wanted := make(map[string]map[string]struct{}, len(desired))
	for _, dp := range desired {
		key := poolKeyFor(dp.ServicePort)
		members := make(map[string]struct{}, len(dp.Members))
		for _, m := range dp.Members {
			members[memberKey(m.IP, m.Port)] = struct{}{}
		}
		wanted[key] = members
	}

	listenerByID := make(map[string]Listener, len(state.Listeners))
	for _, l := range state.Listeners {
		listenerByID[l.ID] = l
	}
	poolByID := make(map[string]Pool, len(state.Pools))
	for _, p := range state.Pools {
		poolByID[p.ID] = p
	}

	kept := make([]Member, 0, len(state.Members))
	for _, m := range state.Members {
		pool, ok := poolByID[m.PoolID]
		keep := false
		if ok {
			if listener, ok := listenerByID[pool.ListenerID]; ok {
				if members, present := wanted[listenerKeyForListener(listener)]; present {
					_, keep = members[memberKey(m.IP, m.Port)]
				}
			}
		}
		if keep {
			kept = append(kept, m)
			continue
		}
		if err := h.LBaaS.ReleaseMember(ctx, &m); err != nil {
			return fmt.Errorf("lbaas: releasing member %s: %w", m.ID, err)
		}
	}
	state.Members = kept
	return nil
}

func (h *LoadBalancerHandler) prunePools(ctx context.Context, state *State, desired []desiredPool) error {
	wanted := make(map[string]struct{}, len(desired))
	for _, dp := range desired {
		wanted[poolKeyFor(dp.ServicePort)] = struct{}{}
	}

	listenerByID := make(map[string]Listener, len(state.Listeners))
	for _, l := range state.Listeners {
		listenerByID[l.ID] = l
	}

	kept := make([]Pool, 0, len(state.Pools))
	for _, p := range state.Pools {
		keep := false
		if listener, ok := listenerByID[p.ListenerID]; ok {
			_, keep = wanted[listenerKeyForListener(listener)]
		}
		if keep {
			kept = append(kept, p)
			continue
		}
		if err := h.LBaaS.ReleasePool(ctx, &p); err != nil {
			return fmt.Errorf("lbaas: releasing pool %s: %w", p.ID, err)
		}
	}
	state.Pools = kept
	return nil
}

func (h *LoadBalancerHandler) pruneListeners(ctx context.Context, state *State, desired []desiredPool) error {
	wanted := make(map[string]struct{}, len(desired))
	for _, dp := range desired {
		wanted[poolKeyFor(dp.ServicePort)] = struct{}{}
	}

	kept := make([]Listener, 0, len(state.Listeners))
	for _, l := range state.Listeners {
		if _, keep := wanted[listenerKeyForListener(l)]; keep {
			kept = append(kept, l)
			continue
		}
		if err := h.LBaaS.ReleaseListener(ctx, &l); err != nil {
			return fmt.Errorf("lbaas: releasing listener %s: %w", l.ID, err)
		}
	}
	state.Listeners = kept
	return nil
}

// reconcileLoadBalancer ensures the realized load balancer matches the
// desired project/subnet/IP. A mismatch means the Service's spec changed
// underneath an already-realized load balancer; since Octavia cannot move a
// load balancer between subnets or VIPs in place, the whole realized state
// is released first (members, pools, listeners all orphaned by the
// deletion) and state is reset so the add phase rebuilds it from scratch.
//
// spec.IP is optional (§3): when it is empty, no load balancer should exist
// for this Service at all, so any realized one is released and none is
// created.
func (h *LoadBalancerHandler) reconcileLoadBalancer(ctx context.Context, state *State, spec *ServiceSpec, endpoints k8sclient.Object) error {
	if state.LoadBalancer != nil {
		lb := state.LoadBalancer
		if lb.ProjectID == spec.ProjectID && lb.SubnetID == spec.SubnetID && lb.IP == spec.IP {
			return nil
		}

		klog.InfoS("service spec changed underneath realized load balancer, recreating", "loadBalancer", lb.ID)
		if err := h.LBaaS.ReleaseLoadBalancer(ctx, lb); err != nil {
			return fmt.Errorf("lbaas: releasing stale load balancer %s: %w", lb.ID, err)
		}
		*state = *NewEmptyState()
	}

	if spec.IP == "" {
		return nil
	}

	lb, err := h.LBaaS.EnsureLoadBalancer(ctx, endpoints, spec.ProjectID, spec.SubnetID, spec.IP, spec.SecurityGroupsIDs)
	if err != nil {
		return fmt.Errorf("lbaas: ensuring load balancer: %w", err)
	}
	state.LoadBalancer = lb
	return nil
}

func (h *LoadBalancerHandler) addListeners(ctx context.Context, state *State, desired []desiredPool, endpoints k8sclient.Object) error {
	existing := make(map[string]struct{}, len(state.Listeners))
	for _, l := range state.Listeners {
		existing[listenerKeyForListener(l)] = struct{}{}
	}

	for _, dp := range desired {
		key := poolKeyFor(dp.ServicePort)
		if _, ok := existing[key]; ok {
			continue
		}
		listener, err := h.LBaaS.EnsureListener(ctx, endpoints, state.LoadBalancer, dp.ServicePort.Protocol, dp.ServicePort.Port)
		if err != nil {
			return fmt.Errorf("lbaas: ensuring listener for port %d: %w", dp.ServicePort.Port, err)
		}
		state.Listeners = append(state.Listeners, *listener)
	}
	return nil
}

func (h *LoadBalancerHandler) addPools(ctx context.Context, state *State, desired []desiredPool, endpoints k8sclient.Object) error {
	listenerByKey := make(map[string]Listener, len(state.Listeners))
	for _, l := range state.Listeners {
		listenerByKey[listenerKeyForListener(l)] = l
	}
	existingByKey := make(map[string]struct{}, len(state.Pools))
	for _, p := range state.Pools {
		if listener, ok := listenerByID(state.Listeners, p.ListenerID); ok {
			existingByKey[listenerKeyForListener(listener)] = struct{}{}
		}
	}

	for _, dp := range desired {
		key := poolKeyFor(dp.ServicePort)
		if _, ok := existingByKey[key]; ok {
			continue
		}
		listener, ok := listenerByKey[key]
		if !ok {
			return kerrors.NewIntegrityError("no realized listener for port %d/%s", dp.ServicePort.Port, dp.ServicePort.Protocol)
		}
		pool, err := h.LBaaS.EnsurePool(ctx, endpoints, state.LoadBalancer, &listener)
		if err != nil {
			return fmt.Errorf("lbaas: ensuring pool for listener %s: %w", listener.ID, err)
		}
		state.Pools = append(state.Pools, *pool)
	}
	return nil
}

func listenerByID(listeners []Listener, id string) (Listener, bool) {
	for _, l := range listeners {
		if l.ID == id {
			return l, true
		}
	}
	return Listener{}, false
}

// addMembers creates the missing members of each desired pool. Members are
// placed on the subnet containing the *pod's* IP, not the Service's own
// spec.SubnetID (§4.6 step 7): a pod's subnet and the Service's VIP subnet
// are frequently different networks entirely, so attaching a member to
// spec.SubnetID would point Octavia at the wrong network.
func (h *LoadBalancerHandler) addMembers(ctx context.Context, state *State, desired []desiredPool, spec *ServiceSpec, endpoints k8sclient.Object) error {
	poolByKey := make(map[string]Pool, len(state.Pools))
	for _, p := range state.Pools {
		if listener, ok := listenerByID(state.Listeners, p.ListenerID); ok {
			poolByKey[listenerKeyForListener(listener)] = p
		}
	}

	existing := make(map[string]struct{}, len(state.Members))
	for _, m := range state.Members {
		existing[m.PoolID+"/"+memberKey(m.IP, m.Port)] = struct{}{}
	}

	podSubnets, err := h.PodSubnets.GetSubnets(ctx, endpoints, spec.ProjectID)
	if err != nil {
		return fmt.Errorf("lbaas: resolving pod subnets: %w", err)
	}

	for _, dp := range desired {
		key := poolKeyFor(dp.ServicePort)
		pool, ok := poolByKey[key]
		if !ok {
			return kerrors.NewIntegrityError("no realized pool for port %d/%s", dp.ServicePort.Port, dp.ServicePort.Protocol)
		}
		for _, m := range dp.Members {
			if _, ok := existing[pool.ID+"/"+memberKey(m.IP, m.Port)]; ok {
				continue
			}
			subnetID, err := podSubnetContaining(podSubnets, m.IP)
			if err != nil {
				return err
			}
			member, err := h.LBaaS.EnsureMember(ctx, endpoints, state.LoadBalancer, &pool, subnetID, m.IP, m.Port, m.TargetRef)
			if err != nil {
				return fmt.Errorf("lbaas: ensuring member %s:%d: %w", m.IP, m.Port, err)
			}
			state.Members = append(state.Members, *member)
		}
	}
	return nil
}

func podSubnetContaining(candidates map[string]Subnet, ip string) (string, error) {
	matches, err := SubnetContaining(candidates, ip)
	if err != nil {
		return "", kerrors.NewIntegrityError("%v", err)
	}
	if len(matches) == 0 {
		return "", kerrors.NewIntegrityError("pod ip %s is not contained in any subnet", ip)
	}
	return matches[0].ID, nil
}

func (h *LoadBalancerHandler) persistState(ctx context.Context, endpoints k8sclient.Object, state *State) error {
	data, err := MarshalCanonical(state)
	if err != nil {
		return kerrors.NewIntegrityError("encoding lbaas state: %v", err)
	}
	value := string(data)

	if endpoints.Annotations()[AnnotationLBaaSState] == value {
		return nil
	}

	rv := endpoints.ResourceVersion()
	if _, err := h.Client.Annotate(ctx, endpoints.SelfLink(), map[string]*string{AnnotationLBaaSState: &value}, &rv); err != nil {
		return err
	}
	return nil
}

func poolKeyFor(p PortSpec) string {
	return fmt.Sprintf("%s/%d", p.Protocol, p.Port)
}

func listenerKeyForListener(l Listener) string {
	return fmt.Sprintf("%s/%d", l.Protocol, l.Port)
}

func memberKey(ip string, port int32) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

// desiredPoolsFromEndpoints computes, for each port the Service exposes, the
// set of member (ip, targetPort) pairs that should be load balanced to it.
// Endpoints subset ports carry the pod-facing target port; they are matched
// to ServiceSpec ports by name (or, when a subset has exactly one port, by
// position) since a Service may expose several named ports.
func desiredPoolsFromEndpoints(spec *ServiceSpec, endpoints k8sclient.Object) []desiredPool {
	pools := make([]desiredPool, 0, len(spec.Ports))
	for _, servicePort := range spec.Ports {
		pools = append(pools, desiredPool{ServicePort: servicePort})
	}

	subsets, _ := endpoints["subsets"].([]any)
	for _, rs := range subsets {
		subset, _ := rs.(map[string]any)
		if subset == nil {
			continue
		}
		rawAddresses, _ := subset["addresses"].([]any)
		rawPorts, _ := subset["ports"].([]any)

		for _, rp := range rawPorts {
			p, _ := rp.(map[string]any)
			if p == nil {
				continue
			}
			name, _ := p["name"].(string)
			protocol, _ := p["protocol"].(string)
			if protocol == "" {
				protocol = "TCP"
			}
			targetPort := int32(0)
			switch v := p["port"].(type) {
			case float64:
				targetPort = int32(v)
			case int:
				targetPort = int32(v)
			}

			idx := matchingServicePortIndex(spec.Ports, name, len(rawPorts) == 1)
			if idx < 0 {
				continue
			}

			for _, ra := range rawAddresses {
				addr, _ := ra.(map[string]any)
				if addr == nil {
					continue
				}
				ip, _ := addr["ip"].(string)
				if ip == "" {
					continue
				}
				targetRef, _ := addr["targetRef"].(map[string]any)

				pools[idx].Members = append(pools[idx].Members, desiredMember{
					IP:        ip,
					Port:      targetPort,
					TargetRef: targetRef,
				})
			}
		}
	}

	return pools
}

func matchingServicePortIndex(ports []PortSpec, name string, singlePort bool) int {
	for i, p := range ports {
		if p.Name == name {
			return i
		}
	}
	if singlePort && len(ports) == 1 {
		return 0
	}
	return -1
}
