// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSFiles names the PEM files and options for a TLS endpoint.
type TLSFiles struct {
	// CAFile is a PEM bundle of roots used to verify the remote end.
	// Empty means the system roots.
	CAFile string

	// CertFile and KeyFile hold this end's certificate chain and
	// private key. Optional for clients, required for servers.
	CertFile string
	KeyFile  string

	// ServerName overrides the name checked against the server
	// certificate. Empty means the dialed host.
	ServerName string

	// InsecureSkipVerify disables server certificate verification.
	// Only for test rigs.
	InsecureSkipVerify bool
}

// ClientTLSConfig builds a client-side tls.Config from files.
func ClientTLSConfig(files TLSFiles) (*tls.Config, error) {
	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         files.ServerName,
		InsecureSkipVerify: files.InsecureSkipVerify, //nolint:gosec operator opt-in
	}

	if files.CAFile != "" {
		pool, err := loadCertPool(files.CAFile)
		if err != nil {
			return nil, err
		}
		config.RootCAs = pool
	}

	if files.CertFile != "" || files.KeyFile != "" {
		certificate, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{certificate}
	}

	return config, nil
}

// ServerTLSConfig builds a server-side tls.Config. When CAFile is set,
// clients must present a certificate signed by it.
func ServerTLSConfig(files TLSFiles) (*tls.Config, error) {
	if files.CertFile == "" || files.KeyFile == "" {
		return nil, fmt.Errorf("server TLS requires both a certificate and a key file")
	}
	certificate, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}
	config := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{certificate},
	}
	if files.CAFile != "" {
		pool, err := loadCertPool(files.CAFile)
		if err != nil {
			return nil, err
		}
		config.ClientCAs = pool
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return config, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("CA bundle %s contains no PEM certificates", path)
	}
	return pool, nil
}
