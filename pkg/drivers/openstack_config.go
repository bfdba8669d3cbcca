package drivers

// OpenStackConfig carries the credentials and endpoint information needed
// to authenticate against Neutron and Octavia. It is populated from an
// ini-style clouds.yaml/cloud.conf-equivalent file via gopkg.in/gcfg.v1
// (see config.LoadOpenStackConfig in pkg/config).
type OpenStackConfig struct {
	AuthURL                     string
	Region                      string
	ProjectID                   string
	ApplicationCredentialID     string
	ApplicationCredentialSecret string
	Username                    string
	Password                    string
	UserDomainName              string
	CACertFile                  string
	InsecureSkipVerify          bool
}
