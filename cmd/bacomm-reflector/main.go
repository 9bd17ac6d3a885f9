// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// bacomm-reflector é o daemon de diagnóstico UDP: devolve cada PDU
// recebido à sua origem, grava trace do tráfego e reporta métricas
// periódicas. A varredura da tabela de peers roda no cron configurado.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/bacomm/internal/comm"
	"github.com/nishisan-dev/bacomm/internal/config"
	"github.com/nishisan-dev/bacomm/internal/logging"
	"github.com/nishisan-dev/bacomm/internal/stats"
	"github.com/nishisan-dev/bacomm/internal/trace"
	"github.com/nishisan-dev/bacomm/internal/udp"
)

func main() {
	configPath := flag.String("config", "/etc/bacomm/reflector.yaml", "path to reflector config file")
	flag.Parse()

	cfg, err := config.LoadReflectorConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	defer logCloser.Close()

	// Context com cancelamento via signal
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("reflector error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ReflectorConfig, logger *slog.Logger) error {
	recorder, err := buildRecorder(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer recorder.Close()

	observer := comm.ObserverFuncs{
		OnAdd: func(a comm.Actor) {
			logger.Debug("peer seen", "peer", a.Peer().String())
		},
		OnDel: func(a comm.Actor) {
			logger.Debug("peer expired", "peer", a.Peer().String())
		},
		OnError: func(a comm.Actor, err error) {
			logger.Warn("peer error", "peer", a.Peer().String(), "error", err)
		},
	}

	director, err := udp.NewDirector(udp.Config{
		Address:   cfg.Listen,
		Timeout:   cfg.IdleTimeout,
		Reuse:     cfg.Reuse,
		Observer:  observer,
		RateLimit: cfg.RateLimitRaw,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer director.Close()

	echo := &echoElement{logger: logger}
	tap := trace.NewTap(recorder)
	if err := comm.Bind(echo, tap, director); err != nil {
		return err
	}

	if cfg.Stats.Enabled {
		reporter := stats.NewReporter(cfg.Stats.Interval, logger)
		reporter.AddSource("udp-director", func() []any {
			s := director.Stats()
			return []any{
				"actors", s.Actors,
				"pdus_in", s.PDUsIn,
				"pdus_out", s.PDUsOut,
				"send_errors", s.SendErrors,
				"rate_dropped", s.RateDropped,
			}
		})
		reporter.Start()
		defer reporter.Stop()
	}

	if cfg.Sweep != "" {
		c := cron.New()
		_, err := c.AddFunc(cfg.Sweep, func() {
			peers := director.Peers()
			logger.Info("peer sweep", "peers", len(peers))
			for _, p := range peers {
				logger.Debug("peer entry", "peer", p.String())
			}
		})
		if err != nil {
			return fmt.Errorf("parsing sweep schedule %q: %w", cfg.Sweep, err)
		}
		c.Start()
		defer c.Stop()
	}

	logger.Info("reflector running", "listen", cfg.Listen)
	<-ctx.Done()
	logger.Info("reflector shutdown complete")
	return nil
}

// buildRecorder monta o recorder de trace (e o archiver S3) conforme a
// configuração. Desabilitado, retorna nil — os taps viram pass-through.
func buildRecorder(ctx context.Context, cfg *config.ReflectorConfig, logger *slog.Logger) (*trace.Recorder, error) {
	if !cfg.Trace.Enabled {
		return nil, nil
	}

	var archiver *trace.Archiver
	if cfg.Trace.S3.Enabled {
		var err error
		archiver, err = trace.NewArchiver(ctx, cfg.Trace.S3.Bucket, cfg.Trace.S3.Prefix, cfg.Trace.S3.Region, logger)
		if err != nil {
			return nil, err
		}
	}

	return trace.NewRecorder(cfg.Trace.File, cfg.Trace.MaxRaw, cfg.Trace.HeadLen, logger, archiver)
}

// echoElement é o topo da pilha do reflector: devolve cada PDU recebido
// para a origem.
type echoElement struct {
	comm.ClientSide
	logger *slog.Logger
}

func (e *echoElement) Confirmation(pdu *comm.PDU) error {
	if !pdu.Source.IsValid() {
		return nil
	}
	return e.Request(pdu.WithDestination(pdu.Source))
}
