// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega e valida a configuração YAML dos daemons
// (bacomm-reflector e bacomm-tunnel).
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// LoggingInfo configura o logger dos daemons.
type LoggingInfo struct {
	Level  string `yaml:"level"`  // debug|info|warn|error (default: info)
	Format string `yaml:"format"` // json|text (default: json)
	File   string `yaml:"file"`   // opcional: stdout + arquivo
}

// TraceConfig configura o gravador de trace de PDUs.
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file"`      // default: "bacomm-trace.jsonl.gz"
	MaxSize string `yaml:"max_size"`  // rotação por tamanho; ex: "32mb" (default: 32mb)
	HeadLen int    `yaml:"head_len"`  // bytes iniciais do payload no trace (default: 16)
	S3      S3Info `yaml:"s3"`        // arquivamento opcional dos rotacionados
	MaxRaw  int64  `yaml:"-"`         // preenchido por validate()
}

// S3Info configura o arquivamento de traces rotacionados.
type S3Info struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Region  string `yaml:"region"`
}

// StatsConfig configura o reporter periódico de métricas.
type StatsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"` // default: 15s
}

// validate aplica os defaults do bloco de logging.
func (l *LoggingInfo) validate() error {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
	switch l.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", l.Format)
	}
	return nil
}

// validate aplica os defaults do bloco de trace.
func (t *TraceConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	if t.File == "" {
		t.File = "bacomm-trace.jsonl.gz"
	}
	if t.MaxSize == "" {
		t.MaxSize = "32mb"
	}
	raw, err := parseSize(t.MaxSize)
	if err != nil {
		return fmt.Errorf("trace.max_size: %w", err)
	}
	t.MaxRaw = raw
	if t.HeadLen <= 0 {
		t.HeadLen = 16
	}
	if t.S3.Enabled {
		if t.S3.Bucket == "" {
			return fmt.Errorf("trace.s3.bucket is required when trace.s3.enabled")
		}
	}
	return nil
}

// validate aplica os defaults do bloco de stats.
func (s *StatsConfig) validate() {
	if s.Interval <= 0 {
		s.Interval = 15 * time.Second
	}
}

// validateListen exige um host:port válido.
func validateListen(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// parseSize interpreta tamanhos com sufixo kb/mb/gb (ex: "64mb").
// Sem sufixo, bytes. "0" ou vazio → 0.
func parseSize(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "0" {
		return 0, nil
	}

	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "kb"):
		mult = 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "mb"):
		mult = 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "gb"):
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-2]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("size must not be negative")
	}
	return n * mult, nil
}
