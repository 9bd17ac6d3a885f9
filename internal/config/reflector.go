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

// ReflectorConfig representa a configuração completa do bacomm-reflector.
type ReflectorConfig struct {
	Listen      string        `yaml:"listen"`       // bind UDP (default: "0.0.0.0:47808")
	IdleTimeout time.Duration `yaml:"idle_timeout"` // reaping de actors; 0 desabilita
	Reuse       bool          `yaml:"reuse"`        // SO_REUSEADDR
	RateLimit   string        `yaml:"rate_limit"`   // saída em bytes/s; ex: "1mb" (0 = sem limite)

	// Sweep é a expressão cron da varredura periódica da tabela de peers.
	// Vazio desabilita.
	Sweep string `yaml:"sweep"`

	Logging LoggingInfo `yaml:"logging"`
	Trace   TraceConfig `yaml:"trace"`
	Stats   StatsConfig `yaml:"stats"`

	RateLimitRaw int64 `yaml:"-"` // preenchido por validate()
}

// LoadReflectorConfig lê e valida o arquivo YAML do reflector.
func LoadReflectorConfig(path string) (*ReflectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading reflector config: %w", err)
	}

	var cfg ReflectorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing reflector config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating reflector config: %w", err)
	}

	return &cfg, nil
}

func (c *ReflectorConfig) validate() error {
	if c.Listen == "" {
		c.Listen = "0.0.0.0:47808"
	}
	if err := validateListen("listen", c.Listen); err != nil {
		return err
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must not be negative")
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
