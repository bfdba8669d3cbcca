// Package lbaas implements the two-stage LBaaS reconciler: LBaaSSpecHandler
// derives a declarative LBaaSServiceSpec from a Service and publishes it,
// LoadBalancerHandler drives the realized LBaaSState towards that spec.
package lbaas

import (
	"sort"

	"github.com/kuryr/kuryr-controller/pkg/cmp"
)

// SchemaVersion is embedded in every serialized LBaaSServiceSpec/LBaaSState
// value. It replaces the versioned-object framework of the source: a
// decoder rejects any value whose major version it does not recognize.
const SchemaVersion = 1

// PortSpec is one declared port of a Service's desired LBaaS shape. Name may
// be empty only when the Service has exactly one port.
type PortSpec struct {
	Name     string `json:"name,omitempty"`
	Protocol string `json:"protocol"`
	Port     int32  `json:"port"`
}

// ServiceSpec is the desired state derived from a Service, published as an
// annotation on both the Service and its twin Endpoints.
type ServiceSpec struct {
	SchemaVersion     int        `json:"schema_version"`
	IP                string     `json:"ip,omitempty"`
	ProjectID         string     `json:"project_id,omitempty"`
	SubnetID          string     `json:"subnet_id,omitempty"`
	Ports             []PortSpec `json:"ports"`
	SecurityGroupsIDs []string   `json:"security_groups_ids"`
}

func normalizedProtocol(p PortSpec) PortSpec {
	if p.Protocol == "" {
		p.Protocol = "TCP"
	}
	return p
}

// PortsEqual reports whether a and b contain the same (name, protocol,
// port) triples, ignoring order. An absent protocol defaults to "TCP".
func PortsEqual(a, b []PortSpec) bool {
	return cmp.SliceEqualUnordered(a, b, func(x, y PortSpec) bool {
		return normalizedProtocol(x) == normalizedProtocol(y)
	})
}

// SortedSecurityGroups returns a stable-sorted copy of ids, per §3's
// "stored as a stable-sorted list" requirement.
func SortedSecurityGroups(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

// LoadBalancer is the realized loadbalancer entity.
type LoadBalancer struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	IP        string `json:"ip"`
	SubnetID  string `json:"subnet_id"`
}

// Listener is a realized listener entity bound to a loadbalancer.
type Listener struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	Name           string `json:"name"`
	LoadBalancerID string `json:"loadbalancer_id"`
	Protocol       string `json:"protocol"`
	Port           int32  `json:"port"`
}

// Pool is a realized pool entity bound to a loadbalancer and a listener.
type Pool struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	Name           string `json:"name"`
	LoadBalancerID string `json:"loadbalancer_id"`
	ListenerID     string `json:"listener_id"`
	Protocol       string `json:"protocol"`
}

// Member is a realized member entity bound to a pool.
type Member struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	PoolID    string `json:"pool_id"`
	SubnetID  string `json:"subnet_id"`
	IP        string `json:"ip"`
	Port      int32  `json:"port"`
}

// State is the observed/realized LBaaS state for one Endpoints resource,
// published as the kuryr-lbaas-state annotation.
type State struct {
	SchemaVersion int            `json:"schema_version"`
	LoadBalancer  *LoadBalancer  `json:"loadbalancer"`
	Listeners     []Listener     `json:"listeners"`
	Pools         []Pool         `json:"pools"`
	Members       []Member       `json:"members"`
}

// NewEmptyState returns a State with no realized entities.
func NewEmptyState() *State {
	return &State{SchemaVersion: SchemaVersion}
}
