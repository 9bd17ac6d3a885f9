// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pki fornece as configurações TLS com mTLS para o stream do
// tunnel: as duas pontas se autenticam mutuamente com certificados da
// mesma CA.
package pki

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
)

// NewClientTLSConfig cria uma configuração TLS 1.3 para a ponta que disca
// (tunnel client), com autenticação mútua. serverAddr alimenta o
// ServerName para a validação do certificado remoto.
func NewClientTLSConfig(caCertPath, certPath, keyPath, serverAddr string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading client certificate: %w", err)
	}

	caPool, err := loadCACertPool(caCertPath)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(serverAddr)
	if err != nil {
		host = serverAddr
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		ServerName:   host,
	}, nil
}

// NewServerTLSConfig cria uma configuração TLS 1.3 para a ponta que
// escuta (tunnel server), com autenticação mútua obrigatória.
func NewServerTLSConfig(caCertPath, certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}

	caPool, err := loadCACertPool(caCertPath)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		ClientCAs:    caPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}, nil
}

func loadCACertPool(caCertPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("parsing CA certificate %q: no certificates found", caCertPath)
	}
	return pool, nil
}
