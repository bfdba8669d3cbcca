package drivers

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewRegistry", func() {
	// Only the project driver alias is checked here: it is the first lookup
	// NewRegistry performs, so it fails before constructing any driver that
	// would reach out to a (non-existent, in this test) OpenStack endpoint.
	// The subnets/security-groups/lbaas alias checks have the identical
	// "unknown X driver alias" shape (registry.go) but validating them would
	// require a valid project+subnets+... chain up to that point, which
	// means actually constructing a neutronSubnetsDriver/octaviaDriver
	// against real OpenStack credentials - not something a unit test can do.
	It("fails fast on an unknown project driver alias, before touching OpenStack", func() {
		_, err := NewRegistry(RegistryConfig{
			ProjectDriverAlias:  "nonexistent",
			SubnetsDriverAlias:  "default-subnet",
			SecurityGroupsAlias: "default-security-groups",
			LBaaSDriverAlias:    "octavia",
		})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unknown project driver alias"))
	})
})
