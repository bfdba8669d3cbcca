package drivers

import "fmt"

// RegistryConfig carries everything a driver constructor needs: the shared
// OpenStack service clients and the alias of each driver to instantiate.
// This replaces the source's stevedore-style plugin discovery (§9 Design
// Notes) with an explicit, build-time table.
type RegistryConfig struct {
	OpenStack OpenStackConfig

	ProjectDriverAlias  string
	SubnetsDriverAlias  string
	SecurityGroupsAlias string
	LBaaSDriverAlias    string
}

// Registry holds the concrete driver instances a running controller uses.
type Registry struct {
	Project        ProjectDriver
	PodSubnets     SubnetsDriver
	ServiceSubnets SubnetsDriver
	SecurityGroups SecurityGroupsDriver
	LBaaS          LBaaSDriver
}

type projectDriverFactory func(cfg RegistryConfig) (ProjectDriver, error)
type subnetsDriverFactory func(cfg RegistryConfig) (SubnetsDriver, error)
type securityGroupsDriverFactory func(cfg RegistryConfig) (SecurityGroupsDriver, error)
type lbaasDriverFactory func(cfg RegistryConfig) (LBaaSDriver, error)

// projectDrivers, subnetsDrivers, securityGroupsDrivers and lbaasDrivers are
// the build-time alias tables. Adding a driver means adding an entry here,
// not registering a plugin at runtime.
var (
	projectDrivers = map[string]projectDriverFactory{
		"default-project": newDefaultProjectDriver,
	}
	subnetsDrivers = map[string]subnetsDriverFactory{
		"default-subnet": newNeutronSubnetsDriver,
	}
	securityGroupsDrivers = map[string]securityGroupsDriverFactory{
		"default-security-groups": newNeutronSecurityGroupsDriver,
	}
	lbaasDrivers = map[string]lbaasDriverFactory{
		"octavia": newOctaviaDriver,
	}
)

// NewRegistry constructs every driver named in cfg and returns the wired
// Registry. The pod and service subnets drivers are both constructed from
// the single cfg.SubnetsDriverAlias, as two separate instances of the same
// driver; there is no separate alias for service subnets.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	projectFactory, ok := projectDrivers[cfg.ProjectDriverAlias]
	if !ok {
		return nil, fmt.Errorf("drivers: unknown project driver alias %q", cfg.ProjectDriverAlias)
	}
	project, err := projectFactory(cfg)
	if err != nil {
		return nil, fmt.Errorf("drivers: constructing project driver: %w", err)
	}

	subnetsFactory, ok := subnetsDrivers[cfg.SubnetsDriverAlias]
	if !ok {
		return nil, fmt.Errorf("drivers: unknown subnets driver alias %q", cfg.SubnetsDriverAlias)
	}
	podSubnets, err := subnetsFactory(cfg)
	if err != nil {
		return nil, fmt.Errorf("drivers: constructing pod subnets driver: %w", err)
	}
	serviceSubnets, err := subnetsFactory(cfg)
	if err != nil {
		return nil, fmt.Errorf("drivers: constructing service subnets driver: %w", err)
	}

	sgFactory, ok := securityGroupsDrivers[cfg.SecurityGroupsAlias]
	if !ok {
		return nil, fmt.Errorf("drivers: unknown security groups driver alias %q", cfg.SecurityGroupsAlias)
	}
	sg, err := sgFactory(cfg)
	if err != nil {
		return nil, fmt.Errorf("drivers: constructing security groups driver: %w", err)
	}

	lbaasFactory, ok := lbaasDrivers[cfg.LBaaSDriverAlias]
	if !ok {
		return nil, fmt.Errorf("drivers: unknown lbaas driver alias %q", cfg.LBaaSDriverAlias)
	}
	lb, err := lbaasFactory(cfg)
	if err != nil {
		return nil, fmt.Errorf("drivers: constructing lbaas driver: %w", err)
	}

	return &Registry{
		Project:        project,
		PodSubnets:     podSubnets,
		ServiceSubnets: serviceSubnets,
		SecurityGroups: sg,
		LBaaS:          lb,
	}, nil
}
