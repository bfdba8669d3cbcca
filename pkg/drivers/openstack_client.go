package drivers

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"

	"github.com/kuryr/kuryr-controller/pkg/metrics"
)

// openstackClients lazily authenticates and caches the gophercloud service
// clients shared by every driver constructor for a given RegistryConfig.
// Drivers are constructed independently (§ registry.go), but they must
// reuse one authenticated session rather than each re-authenticating.
var (
	clientsMu    sync.Mutex
	clientsCache = map[string]*openstackClients{}
)

type openstackClients struct {
	provider *gophercloud.ProviderClient
	network  *gophercloud.ServiceClient
	lb       *gophercloud.ServiceClient
}

func cacheKey(cfg OpenStackConfig) string {
	return cfg.AuthURL + "|" + cfg.Region + "|" + cfg.ProjectID
}

func getOpenStackClients(cfg OpenStackConfig) (*openstackClients, error) {
	clientsMu.Lock()
	defer clientsMu.Unlock()

	key := cacheKey(cfg)
	if c, ok := clientsCache[key]; ok {
		return c, nil
	}

	authOptions := gophercloud.AuthOptions{
		IdentityEndpoint:            cfg.AuthURL,
		TenantID:                    cfg.ProjectID,
		Username:                    cfg.Username,
		Password:                    cfg.Password,
		DomainName:                  cfg.UserDomainName,
		ApplicationCredentialID:     cfg.ApplicationCredentialID,
		ApplicationCredentialSecret: cfg.ApplicationCredentialSecret,
		AllowReauth:                 true,
	}

	provider, err := gophercloud.NewClient(authOptions.IdentityEndpoint)
	if err != nil {
		return nil, fmt.Errorf("drivers: constructing openstack client: %w", err)
	}

	if err := configureTLS(provider, cfg); err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := openstack.Authenticate(ctx, provider, authOptions); err != nil {
		return nil, fmt.Errorf("drivers: authenticating with openstack: %w", err)
	}

	endpointOpts := gophercloud.EndpointOpts{Region: cfg.Region}

	networkClient, err := openstack.NewNetworkV2(provider, endpointOpts)
	if err != nil {
		return nil, fmt.Errorf("drivers: constructing neutron client: %w", err)
	}

	lbClient, err := openstack.NewLoadBalancerV2(provider, endpointOpts)
	if err != nil {
		return nil, fmt.Errorf("drivers: constructing octavia client: %w", err)
	}

	clients := &openstackClients{provider: provider, network: networkClient, lb: lbClient}
	clientsCache[key] = clients
	return clients, nil
}

func configureTLS(provider *gophercloud.ProviderClient, cfg OpenStackConfig) error {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}

	if cfg.CACertFile != "" {
		caPEM, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return fmt.Errorf("drivers: reading openstack CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return fmt.Errorf("drivers: no certificates found in openstack CA file %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}

	provider.HTTPClient = http.Client{
		Transport: metrics.NewInstrumentedRoundTripperWithBase(&http.Transport{TLSClientConfig: tlsConfig}),
	}
	return nil
}
