// Package tls builds the API server's TLS configuration.
package tls

import (
	"crypto/tls"
	"fmt"
)

// ServerTLS loads the certificate pair and returns a server-side config with
// TLS 1.2 as the floor. Clients are not verified; the API trusts its network
// the same way the plain-HTTP mode does.
func ServerTLS(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
