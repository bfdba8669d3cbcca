package drivers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/loadbalancer/v2/listeners"
	"github.com/gophercloud/gophercloud/v2/openstack/loadbalancer/v2/loadbalancers"
	"github.com/gophercloud/gophercloud/v2/openstack/loadbalancer/v2/pools"

	"github.com/kuryr/kuryr-controller/pkg/labels"
	"github.com/kuryr/kuryr-controller/pkg/lbaas"
)

// octaviaDriver implements LBaaSDriver against Octavia (load balancers,
// listeners, pools, members) via gophercloud/v2. Every Ensure* call lists
// by name before creating, so that restarting the controller against an
// Endpoints resource whose state annotation was lost still converges onto
// the already-created remote entity instead of duplicating it.
type octaviaDriver struct {
	clients *openstackClients
}

func newOctaviaDriver(cfg RegistryConfig) (LBaaSDriver, error) {
	clients, err := getOpenStackClients(cfg.OpenStack)
	if err != nil {
		return nil, err
	}
	return &octaviaDriver{clients: clients}, nil
}

func entityName(endpoints lbaas.Object, suffix string) string {
	meta := endpoints.Metadata()
	namespace, _ := meta["namespace"].(string)
	name, _ := meta["name"].(string)
	return labels.Sanitize(fmt.Sprintf("kuryr-%s-%s-%s", namespace, name, suffix))
}

func (d *octaviaDriver) EnsureLoadBalancer(ctx context.Context, endpoints lbaas.Object, projectID, subnetID, ip string, securityGroupIDs []string) (*lbaas.LoadBalancer, error) {
	name := entityName(endpoints, "lb")

	pages, err := loadbalancers.List(d.clients.lb, loadbalancers.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("drivers: listing load balancers: %w", err)
	}
	existing, err := loadbalancers.ExtractLoadBalancers(pages)
	if err != nil {
		return nil, fmt.Errorf("drivers: extracting load balancers: %w", err)
	}
	if len(existing) > 0 {
		return toLoadBalancer(&existing[0], projectID), nil
	}

	created, err := loadbalancers.Create(ctx, d.clients.lb, loadbalancers.CreateOpts{
		Name:        name,
		VipSubnetID: subnetID,
		VipAddress:  ip,
		Description: "managed by kuryr-controller",
	}).Extract()
	if err != nil {
		return nil, fmt.Errorf("drivers: creating load balancer: %w", err)
	}

	return toLoadBalancer(created, projectID), nil
}

func toLoadBalancer(lb *loadbalancers.LoadBalancer, projectID string) *lbaas.LoadBalancer {
	return &lbaas.LoadBalancer{
		ID:        lb.ID,
		ProjectID: projectID,
		Name:      lb.Name,
		IP:        lb.VipAddress,
		SubnetID:  lb.VipSubnetID,
	}
}

func (d *octaviaDriver) ReleaseLoadBalancer(ctx context.Context, lb *lbaas.LoadBalancer) error {
	if lb == nil {
		return nil
	}
	cascade := true
	err := loadbalancers.Delete(ctx, d.clients.lb, lb.ID, loadbalancers.DeleteOpts{Cascade: cascade}).ExtractErr()
	return ignoreNotFound(err)
}

func (d *octaviaDriver) EnsureListener(ctx context.Context, endpoints lbaas.Object, lb *lbaas.LoadBalancer, protocol string, port int32) (*lbaas.Listener, error) {
	name := entityName(endpoints, fmt.Sprintf("listener-%s-%d", protocol, port))

	pages, err := listeners.List(d.clients.lb, listeners.ListOpts{Name: name, LoadbalancerID: lb.ID}).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("drivers: listing listeners: %w", err)
	}
	existing, err := listeners.ExtractListeners(pages)
	if err != nil {
		return nil, fmt.Errorf("drivers: extracting listeners: %w", err)
	}
	if len(existing) > 0 {
		return toListener(&existing[0], lb), nil
	}

	created, err := listeners.Create(ctx, d.clients.lb, listeners.CreateOpts{
		Name:           name,
		LoadbalancerID: lb.ID,
		Protocol:       listeners.Protocol(protocol),
		ProtocolPort:   int(port),
	}).Extract()
	if err != nil {
		return nil, fmt.Errorf("drivers: creating listener: %w", err)
	}

	return toListener(created, lb), nil
}

func toListener(l *listeners.Listener, lb *lbaas.LoadBalancer) *lbaas.Listener {
	return &lbaas.Listener{
		ID:             l.ID,
		ProjectID:      lb.ProjectID,
		Name:           l.Name,
		LoadBalancerID: lb.ID,
		Protocol:       string(l.Protocol),
		Port:           int32(l.ProtocolPort),
	}
}

func (d *octaviaDriver) ReleaseListener(ctx context.Context, listener *lbaas.Listener) error {
	if listener == nil {
		return nil
	}
	err := listeners.Delete(ctx, d.clients.lb, listener.ID).ExtractErr()
	return ignoreNotFound(err)
}

func (d *octaviaDriver) EnsurePool(ctx context.Context, endpoints lbaas.Object, lb *lbaas.LoadBalancer, listener *lbaas.Listener) (*lbaas.Pool, error) {
	name := entityName(endpoints, "pool-"+listener.ID)

	pages, err := pools.List(d.clients.lb, pools.ListOpts{Name: name, LoadbalancerID: lb.ID}).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("drivers: listing pools: %w", err)
	}
	existing, err := pools.ExtractPools(pages)
	if err != nil {
		return nil, fmt.Errorf("drivers: extracting pools: %w", err)
	}
	if len(existing) > 0 {
		return toPool(&existing[0], lb, listener), nil
	}

	created, err := pools.Create(ctx, d.clients.lb, pools.CreateOpts{
		Name:           name,
		LoadbalancerID: lb.ID,
		ListenerID:     listener.ID,
		Protocol:       pools.Protocol(listener.Protocol),
		LBMethod:       pools.LBMethodRoundRobin,
	}).Extract()
	if err != nil {
		return nil, fmt.Errorf("drivers: creating pool: %w", err)
	}

	return toPool(created, lb, listener), nil
}

func toPool(p *pools.Pool, lb *lbaas.LoadBalancer, listener *lbaas.Listener) *lbaas.Pool {
	return &lbaas.Pool{
		ID:             p.ID,
		ProjectID:      lb.ProjectID,
		Name:           p.Name,
		LoadBalancerID: lb.ID,
		ListenerID:     listener.ID,
		Protocol:       string(p.Protocol),
	}
}

func (d *octaviaDriver) ReleasePool(ctx context.Context, pool *lbaas.Pool) error {
	if pool == nil {
		return nil
	}
	err := pools.Delete(ctx, d.clients.lb, pool.ID).ExtractErr()
	return ignoreNotFound(err)
}

func (d *octaviaDriver) EnsureMember(ctx context.Context, endpoints lbaas.Object, lb *lbaas.LoadBalancer, pool *lbaas.Pool, subnetID, ip string, port int32, targetRef map[string]any) (*lbaas.Member, error) {
	name := entityName(endpoints, fmt.Sprintf("member-%s-%d", ip, port))

	pages, err := pools.ListMembers(d.clients.lb, pool.ID, pools.ListMembersOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("drivers: listing members: %w", err)
	}
	existing, err := pools.ExtractMembers(pages)
	if err != nil {
		return nil, fmt.Errorf("drivers: extracting members: %w", err)
	}
	if len(existing) > 0 {
		return toMember(&existing[0], pool), nil
	}

	created, err := pools.CreateMember(ctx, d.clients.lb, pool.ID, pools.CreateMemberOpts{
		Name:         name,
		Address:      ip,
		ProtocolPort: int(port),
		SubnetID:     subnetID,
	}).Extract()
	if err != nil {
		return nil, fmt.Errorf("drivers: creating member: %w", err)
	}

	return toMember(created, pool), nil
}

func toMember(m *pools.Member, pool *lbaas.Pool) *lbaas.Member {
	return &lbaas.Member{
		ID:        m.ID,
		ProjectID: pool.ProjectID,
		Name:      m.Name,
		PoolID:    pool.ID,
		SubnetID:  m.SubnetID,
		IP:        m.Address,
		Port:      int32(m.ProtocolPort),
	}
}

func (d *octaviaDriver) ReleaseMember(ctx context.Context, member *lbaas.Member) error {
	if member == nil {
		return nil
	}
	err := pools.DeleteMember(ctx, d.clients.lb, member.PoolID, member.ID).ExtractErr()
	return ignoreNotFound(err)
}

// ignoreNotFound tolerates "already gone", the contract every Release*
// method in the LBaaSDriver interface must honor.
func ignoreNotFound(err error) error {
	if err == nil {
		return nil
	}
	if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
		return nil
	}
	return err
}
