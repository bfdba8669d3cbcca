// Package config loads the controller's own YAML configuration file and the
// OpenStack credentials ini file it points at, mirroring the dual
// yaml.v3/gcfg.v1 split the retrieved corpus uses for Kubernetes-facing
// versus OpenStack-facing configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/gcfg.v1"
	yaml "gopkg.in/yaml.v3"

	"github.com/kuryr/kuryr-controller/pkg/drivers"
)

const (
	defaultMetricsAddress  = ":9090"
	defaultRetryTimeout    = 30 * time.Second
	defaultRetryInterval   = time.Second
	defaultAPIServerScheme = "https://"
)

// Config is the controller's own configuration file (§10 Configuration).
type Config struct {
	// KubernetesAPIServer is the base URL of the Kubernetes API server.
	KubernetesAPIServer string `yaml:"kubernetesApiServer"`
	// TokenFile, CertFile, KeyFile, CAFile, InsecureSkipVerify configure
	// authentication against the API server; see k8sclient.AuthConfig.
	TokenFile          string `yaml:"tokenFile"`
	CertFile           string `yaml:"certFile"`
	KeyFile            string `yaml:"keyFile"`
	CAFile             string `yaml:"caFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`

	// ServicesPath and EndpointsPath are the collection paths watched for
	// Service and Endpoints resources, e.g. "/api/v1/services".
	ServicesPath  string `yaml:"servicesPath"`
	EndpointsPath string `yaml:"endpointsPath"`

	// RetryTimeout and RetryInterval bound the per-event retry wrapper
	// (§4.3). They accept any value time.ParseDuration understands.
	RetryTimeout  string `yaml:"retryTimeout"`
	RetryInterval string `yaml:"retryInterval"`

	// MetricsAddress is the address the Prometheus metrics server listens
	// on.
	MetricsAddress string `yaml:"metricsAddress"`

	// OpenStackCloudConfig is the path to an ini-style OpenStack
	// credentials file (clouds.conf), read with gcfg.v1.
	OpenStackCloudConfig string `yaml:"openstackCloudConfig"`

	// Drivers selects the driver implementation for each extension point
	// (§C7); every alias must be registered in pkg/drivers.
	Drivers DriversConfig `yaml:"drivers"`
}

// DriversConfig names the driver alias to load for each extension point.
// ServiceSubnets is parsed and defaulted but not used: cmd/kuryr-controller
// builds both the pod and the service subnets driver from PodSubnets.
type DriversConfig struct {
	Project        string `yaml:"project"`
	PodSubnets     string `yaml:"podSubnets"`
	ServiceSubnets string `yaml:"serviceSubnets"`
	SecurityGroups string `yaml:"securityGroups"`
	LBaaS          string `yaml:"lbaas"`
}

// Load reads and validates a Config from path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads and validates a Config from r.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: reading config: %w", err)
	}

	cfg := Config{
		ServicesPath:   "/api/v1/services",
		EndpointsPath:  "/api/v1/endpoints",
		MetricsAddress: defaultMetricsAddress,
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing config: %w", err)
	}

	if cfg.KubernetesAPIServer == "" {
		return nil, errors.New("config: kubernetesApiServer must be set")
	}
	if cfg.OpenStackCloudConfig == "" {
		return nil, errors.New("config: openstackCloudConfig must be set")
	}
	if cfg.Drivers.Project == "" {
		cfg.Drivers.Project = "default-project"
	}
	if cfg.Drivers.PodSubnets == "" {
		cfg.Drivers.PodSubnets = "default-subnet"
	}
	if cfg.Drivers.ServiceSubnets == "" {
		cfg.Drivers.ServiceSubnets = "default-subnet"
	}
	if cfg.Drivers.SecurityGroups == "" {
		cfg.Drivers.SecurityGroups = "default-security-groups"
	}
	if cfg.Drivers.LBaaS == "" {
		cfg.Drivers.LBaaS = "octavia"
	}

	return &cfg, nil
}

// RetryTimeoutOrDefault parses RetryTimeout, falling back to 30s.
func (c *Config) RetryTimeoutOrDefault() (time.Duration, error) {
	return parseDurationOrDefault(c.RetryTimeout, defaultRetryTimeout)
}

// RetryIntervalOrDefault parses RetryInterval, falling back to 1s.
func (c *Config) RetryIntervalOrDefault() (time.Duration, error) {
	return parseDurationOrDefault(c.RetryInterval, defaultRetryInterval)
}

func parseDurationOrDefault(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}

// openStackGlobalOpts is the [Global] section of the ini-style OpenStack
// credentials file.
type openStackGlobalOpts struct {
	AuthURL                      string `gcfg:"auth-url"`
	Region                       string `gcfg:"region"`
	ProjectID                    string `gcfg:"project-id"`
	ApplicationCredentialID      string `gcfg:"application-credential-id"`
	ApplicationCredentialSecret  string `gcfg:"application-credential-secret"`
	Username                     string `gcfg:"username"`
	Password                     string `gcfg:"password"`
	UserDomainName               string `gcfg:"user-domain-name"`
	CACertFile                   string `gcfg:"ca-file"`
	InsecureSkipVerify           bool   `gcfg:"insecure-skip-verify"`
}

type openStackIniConfig struct {
	Global openStackGlobalOpts
}

// LoadOpenStackConfig reads the ini-style OpenStack credentials file at
// path into a drivers.OpenStackConfig.
func LoadOpenStackConfig(path string) (drivers.OpenStackConfig, error) {
	var ini openStackIniConfig

	f, err := os.Open(path)
	if err != nil {
		return drivers.OpenStackConfig{}, fmt.Errorf("config: opening openstack cloud config %s: %w", path, err)
	}
	defer f.Close()

	if err := gcfg.FatalOnly(gcfg.ReadInto(&ini, f)); err != nil {
		return drivers.OpenStackConfig{}, fmt.Errorf("config: parsing openstack cloud config %s: %w", path, err)
	}

	g := ini.Global
	if g.AuthURL == "" {
		return drivers.OpenStackConfig{}, errors.New("config: openstack auth-url must be set")
	}
	if g.ProjectID == "" {
		return drivers.OpenStackConfig{}, errors.New("config: openstack project-id must be set")
	}

	return drivers.OpenStackConfig{
		AuthURL:                      g.AuthURL,
		Region:                       g.Region,
		ProjectID:                    g.ProjectID,
		ApplicationCredentialID:      g.ApplicationCredentialID,
		ApplicationCredentialSecret:  g.ApplicationCredentialSecret,
		Username:                     g.Username,
		Password:                     g.Password,
		UserDomainName:               g.UserDomainName,
		CACertFile:                   g.CACertFile,
		InsecureSkipVerify:           g.InsecureSkipVerify,
	}, nil
}
