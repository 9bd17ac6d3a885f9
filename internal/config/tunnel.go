// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Modos de operação do tunnel.
const (
	TunnelModeClient = "client"
	TunnelModeServer = "server"
)

// TLSInfo contém os caminhos dos certificados mTLS do tunnel. O bloco é
// opcional: ausente, o stream TCP segue em claro.
type TLSInfo struct {
	Enabled bool   `yaml:"enabled"`
	CACert  string `yaml:"ca_cert"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// TunnelConfig representa a configuração completa do bacomm-tunnel: uma
// ponta UDP local e uma ponta TCP que carrega os PDUs encapsulados.
type TunnelConfig struct {
	Mode string `yaml:"mode"` // client|server

	// UDPListen é o bind do lado de datagramas local.
	UDPListen string `yaml:"udp_listen"`
	// UDPIdleTimeout controla o reaping de peers UDP; 0 desabilita.
	UDPIdleTimeout time.Duration `yaml:"udp_idle_timeout"`
	// Reuse liga SO_REUSEADDR em ambos os binds.
	Reuse bool `yaml:"reuse"`

	// Peer é o endereço remoto do tunnel (modo client).
	Peer string `yaml:"peer"`
	// TCPListen é o bind do tunnel (modo server).
	TCPListen string `yaml:"tcp_listen"`
	// Forward é o destino UDP local para PDUs que saem do tunnel sem
	// destino explícito no frame. Vazio: esses PDUs são descartados.
	Forward string `yaml:"forward"`

	ConnectTimeout   time.Duration `yaml:"connect_timeout"`   // default: 30s (client)
	IdleTimeout      time.Duration `yaml:"idle_timeout"`      // conexões do tunnel; 0 desabilita
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"` // client; 0 desabilita
	RateLimit        string        `yaml:"rate_limit"`        // escrita TCP em bytes/s

	TLS     TLSInfo     `yaml:"tls"`
	Logging LoggingInfo `yaml:"logging"`
	Trace   TraceConfig `yaml:"trace"`
	Stats   StatsConfig `yaml:"stats"`

	RateLimitRaw int64 `yaml:"-"` // preenchido por validate()
}

// LoadTunnelConfig lê e valida o arquivo YAML do tunnel.
func LoadTunnelConfig(path string) (*TunnelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tunnel config: %w", err)
	}

	var cfg TunnelConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing tunnel config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating tunnel config: %w", err)
	}

	return &cfg, nil
}

func (c *TunnelConfig) validate() error {
	switch c.Mode {
	case TunnelModeClient:
		if c.Peer == "" {
			return fmt.Errorf("peer is required in client mode")
		}
		if err := validateListen("peer", c.Peer); err != nil {
			return err
		}
		if c.ConnectTimeout <= 0 {
			c.ConnectTimeout = 30 * time.Second
		}
	case TunnelModeServer:
		if err := validateListen("tcp_listen", c.TCPListen); err != nil {
			return err
		}
	default:
		return fmt.Errorf("mode must be client or server, got %q", c.Mode)
	}

	if err := validateListen("udp_listen", c.UDPListen); err != nil {
		return err
	}
	if c.Forward != "" {
		if err := validateListen("forward", c.Forward); err != nil {
			return err
		}
	}

	if c.TLS.Enabled {
		if c.TLS.CACert == "" || c.TLS.Cert == "" || c.TLS.Key == "" {
			return fmt.Errorf("tls requires ca_cert, cert and key")
		}
	}

	raw, err := parseSize(c.RateLimit)
	if err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	c.RateLimitRaw = raw

	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Trace.validate(); err != nil {
		return err
	}
	c.Stats.validate()
	return nil
}
