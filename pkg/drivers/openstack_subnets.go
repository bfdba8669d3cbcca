package drivers

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/subnets"

	"github.com/kuryr/kuryr-controller/pkg/lbaas"
)

// neutronSubnetsDriver lists the Neutron subnets visible to a project. Both
// the pod-subnet and service-subnet lookups in the registry resolve to this
// same implementation (§4.5 _subnet_containing, §4.6 step 7); callers are
// responsible for filtering the returned map to the subnet whose CIDR
// contains the IP they care about.
type neutronSubnetsDriver struct {
	clients *openstackClients
}

func newNeutronSubnetsDriver(cfg RegistryConfig) (SubnetsDriver, error) {
	clients, err := getOpenStackClients(cfg.OpenStack)
	if err != nil {
		return nil, err
	}
	return &neutronSubnetsDriver{clients: clients}, nil
}

func (d *neutronSubnetsDriver) GetSubnets(ctx context.Context, obj lbaas.Object, projectID string) (map[string]Subnet, error) {
	pages, err := subnets.List(d.clients.network, subnets.ListOpts{TenantID: projectID}).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("drivers: listing neutron subnets: %w", err)
	}
	list, err := subnets.ExtractSubnets(pages)
	if err != nil {
		return nil, fmt.Errorf("drivers: extracting neutron subnets: %w", err)
	}

	out := make(map[string]Subnet, len(list))
	for _, s := range list {
		out[s.ID] = Subnet{ID: s.ID, CIDR: s.CIDR}
	}
	return out, nil
}
