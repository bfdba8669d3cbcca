// Package drivers provides concrete implementations of the lbaas package's
// driver contracts (ProjectDriver, SubnetsDriver, SecurityGroupsDriver,
// LBaaSDriver) against Neutron and Octavia, plus the explicit build-time
// registry that replaces the source's plugin-discovery mechanism (§9 Design
// Notes).
package drivers

import "github.com/kuryr/kuryr-controller/pkg/lbaas"

// Subnet, ProjectDriver, SubnetsDriver, SecurityGroupsDriver and LBaaSDriver
// are the contracts defined by the consumer (pkg/lbaas); aliasing them here
// lets this package's code read naturally without a lbaas. prefix on every
// signature.
type (
	Subnet               = lbaas.Subnet
	ProjectDriver        = lbaas.ProjectDriver
	SubnetsDriver        = lbaas.SubnetsDriver
	SecurityGroupsDriver = lbaas.SecurityGroupsDriver
	LBaaSDriver          = lbaas.LBaaSDriver
)
