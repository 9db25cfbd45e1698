// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pki builds the TLS configuration used by the websocket and
// HTTP long-poll tunnel dialers. Unlike the backup agent this client
// descends from, mTLS is optional here: a remote-desktop client typically
// trusts the system root pool, and mutual authentication is an opt-in
// hardening feature rather than a baseline requirement.
package pki

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// NewClientTLSConfig builds a TLS 1.3 client configuration for dialing the
// tunnel endpoint.
//
//   - caCertPath empty: the system root pool is trusted (normal TLS).
//   - caCertPath set: that CA is trusted instead of the system pool
//     (RootCAs is replaced) — for private deployments.
//   - clientCertPath/clientKeyPath both set: the client presents this
//     certificate, enabling mTLS if the server requires it. Leaving both
//     empty is valid; setting only one is an error.
func NewClientTLSConfig(caCertPath, clientCertPath, clientKeyPath string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS13}

	if (clientCertPath == "") != (clientKeyPath == "") {
		return nil, fmt.Errorf("client_cert and client_key must be set together")
	}
	if clientCertPath != "" {
		cert, err := tls.LoadX509KeyPair(clientCertPath, clientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if caCertPath != "" {
		pool, err := loadCACertPool(caCertPath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

func loadCACertPool(caCertPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate from %s", caCertPath)
	}

	return pool, nil
}
