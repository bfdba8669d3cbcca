package drivers

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/groups"

	"github.com/kuryr/kuryr-controller/pkg/lbaas"
)

// neutronSecurityGroupsDriver resolves the security groups to attach to a
// Service's LBaaS entities. It returns every security group in the
// project; groups are not filtered by tag or by anything else. A per-Service
// annotation override is a natural extension but has no grounding in the
// retrieved corpus, so it isn't implemented here.
type neutronSecurityGroupsDriver struct {
	clients *openstackClients
}

func newNeutronSecurityGroupsDriver(cfg RegistryConfig) (SecurityGroupsDriver, error) {
	clients, err := getOpenStackClients(cfg.OpenStack)
	if err != nil {
		return nil, err
	}
	return &neutronSecurityGroupsDriver{clients: clients}, nil
}

func (d *neutronSecurityGroupsDriver) GetSecurityGroups(ctx context.Context, obj lbaas.Object, projectID string) ([]string, error) {
	pages, err := groups.List(d.clients.network, groups.ListOpts{TenantID: projectID}).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("drivers: listing neutron security groups: %w", err)
	}
	list, err := groups.ExtractGroups(pages)
	if err != nil {
		return nil, fmt.Errorf("drivers: extracting neutron security groups: %w", err)
	}

	ids := make([]string, 0, len(list))
	for _, g := range list {
		ids = append(ids, g.ID)
	}
	return ids, nil
}
