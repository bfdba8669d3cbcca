package lbaas

import (
	"context"
	"fmt"
	"net"
)

// Object is the minimal view of a decoded Kubernetes resource the driver
// contracts need. It mirrors k8sclient.Object's method set without
// importing k8sclient, keeping the reconciler's driver contracts free of a
// dependency on the transport layer.
type Object interface {
	Kind() string
	Metadata() map[string]any
	Annotations() map[string]string
	ResourceVersion() string
	SelfLink() string
}

// Subnet is a single Neutron subnet, restricted to the fields the core
// needs to decide CIDR containment and to address ensure_* calls.
type Subnet struct {
	ID   string
	CIDR string
}

// ProjectDriver resolves the OpenStack project an object's LBaaS entities
// should be created in.
type ProjectDriver interface {
	GetProject(ctx context.Context, obj Object) (string, error)
}

// SubnetsDriver resolves the candidate subnets for an object within a
// project.
type SubnetsDriver interface {
	GetSubnets(ctx context.Context, obj Object, projectID string) (map[string]Subnet, error)
}

// SecurityGroupsDriver resolves the security groups to attach to an
// object's LBaaS entities.
type SecurityGroupsDriver interface {
	GetSecurityGroups(ctx context.Context, obj Object, projectID string) ([]string, error)
}

// LBaaSDriver is the capability contract for realizing LBaaS entities.
// Every Ensure* call is idempotent: given the same arguments it returns the
// existing entity if one already matches, or creates a new one. Every
// Release* call tolerates the entity already being gone.
type LBaaSDriver interface {
	EnsureLoadBalancer(ctx context.Context, endpoints Object, projectID, subnetID, ip string, securityGroupIDs []string) (*LoadBalancer, error)
	ReleaseLoadBalancer(ctx context.Context, lb *LoadBalancer) error

	EnsureListener(ctx context.Context, endpoints Object, lb *LoadBalancer, protocol string, port int32) (*Listener, error)
	ReleaseListener(ctx context.Context, listener *Listener) error

	EnsurePool(ctx context.Context, endpoints Object, lb *LoadBalancer, listener *Listener) (*Pool, error)
	ReleasePool(ctx context.Context, pool *Pool) error

	EnsureMember(ctx context.Context, endpoints Object, lb *LoadBalancer, pool *Pool, subnetID, ip string, port int32, targetRef map[string]any) (*Member, error)
	ReleaseMember(ctx context.Context, member *Member) error
}

// SubnetContaining returns every subnet among candidates whose CIDR
// contains ip. Callers require exactly one match; zero or multiple matches
// is the caller's integrity error to raise.
func SubnetContaining(candidates map[string]Subnet, ip string) ([]Subnet, error) {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return nil, fmt.Errorf("lbaas: invalid IP %q", ip)
	}

	var matches []Subnet
	for _, s := range candidates {
		_, network, err := net.ParseCIDR(s.CIDR)
		if err != nil {
			continue
		}
		if network.Contains(parsedIP) {
			matches = append(matches, s)
		}
	}
	return matches, nil
}
