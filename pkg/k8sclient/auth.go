package k8sclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// AuthConfig selects exactly one authentication method: a bearer token read
// from TokenFile, or mutual TLS using CertFile/KeyFile. CAFile, if set, pins
// the server certificate; otherwise the system root pool is used unless
// InsecureSkipVerify is set.
type AuthConfig struct {
	TokenFile          string
	CertFile           string
	KeyFile            string
	CAFile             string
	InsecureSkipVerify bool
}

func (a AuthConfig) validate() error {
	hasToken := a.TokenFile != ""
	hasMTLS := a.CertFile != "" || a.KeyFile != ""
	switch {
	case hasToken && hasMTLS:
		return fmt.Errorf("k8sclient: exactly one auth method must be configured, got both token file and client cert")
	case !hasToken && !hasMTLS:
		return fmt.Errorf("k8sclient: no auth method configured, set TokenFile or CertFile/KeyFile")
	case hasMTLS && (a.CertFile == "" || a.KeyFile == ""):
		return fmt.Errorf("k8sclient: mutual TLS requires both CertFile and KeyFile")
	}
	return nil
}

// newTransport builds an *http.Transport configured per AuthConfig and
// returns a tokenSource to be consulted on every request (token files can be
// rotated by the kubelet without restarting the controller).
func newTransport(cfg AuthConfig) (*http.Transport, func() (string, error), error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}

	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, nil, fmt.Errorf("k8sclient: reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, nil, fmt.Errorf("k8sclient: no certificates found in CA file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	var tokenSource func() (string, error)
	if cfg.TokenFile != "" {
		tokenSource = func() (string, error) {
			b, err := os.ReadFile(cfg.TokenFile)
			if err != nil {
				return "", fmt.Errorf("k8sclient: reading token file: %w", err)
			}
			return strings.TrimSpace(string(b)), nil
		}
	} else {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("k8sclient: loading client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	transport := &http.Transport{
		TLSClientConfig:     tlsConfig,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	return transport, tokenSource, nil
}
