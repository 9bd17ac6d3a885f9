// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// bacomm-tunnel liga uma rede UDP local a um peer remoto por um stream
// TCP (opcionalmente mTLS): cada datagrama local é encapsulado em um
// frame do tunnel e remontado na outra ponta pelo StreamToPacket.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/bacomm/internal/comm"
	"github.com/nishisan-dev/bacomm/internal/config"
	"github.com/nishisan-dev/bacomm/internal/logging"
	"github.com/nishisan-dev/bacomm/internal/pki"
	"github.com/nishisan-dev/bacomm/internal/protocol"
	"github.com/nishisan-dev/bacomm/internal/stats"
	"github.com/nishisan-dev/bacomm/internal/stream"
	"github.com/nishisan-dev/bacomm/internal/tcp"
	"github.com/nishisan-dev/bacomm/internal/trace"
	"github.com/nishisan-dev/bacomm/internal/udp"
)

func main() {
	configPath := flag.String("config", "/etc/bacomm/tunnel.yaml", "path to tunnel config file")
	flag.Parse()

	cfg, err := config.LoadTunnelConfig(*configPath)
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
		logger.Error("tunnel error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.TunnelConfig, logger *slog.Logger) error {
	recorder, err := buildRecorder(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer recorder.Close()

	b := newBridge(cfg, logger)

	// Ponta UDP local.
	udpDir, err := udp.NewDirector(udp.Config{
		Address: cfg.UDPListen,
		Timeout: cfg.UDPIdleTimeout,
		Reuse:   cfg.Reuse,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer udpDir.Close()

	udpTap := trace.NewTap(recorder)
	if err := comm.Bind(b.udpSide, udpTap, udpDir); err != nil {
		return err
	}

	// Ponta TCP do tunnel: StreamToPacket remonta os frames.
	stp := stream.New(protocol.Framer(), logger)
	glue := stream.NewLifecycleGlue(stp, b)

	tlsCfg, err := buildTLS(cfg)
	if err != nil {
		return err
	}

	var reporterSources []func(*stats.Reporter)

	switch cfg.Mode {
	case config.TunnelModeClient:
		director := tcp.NewClientDirector(tcp.ClientConfig{
			ConnectTimeout: cfg.ConnectTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			Observer:       glue,
			TLS:            tlsCfg,
			RateLimit:      cfg.RateLimitRaw,
			Logger:         logger,
		})
		defer director.Close()

		if err := comm.Bind(b.tcpSide, stp, director); err != nil {
			return err
		}

		peer, err := comm.ParseAddress(cfg.Peer)
		if err != nil {
			return err
		}
		b.setTunnelPeer(peer)
		if err := director.Connect(peer, cfg.ReconnectBackoff); err != nil {
			return err
		}

		reporterSources = append(reporterSources, func(r *stats.Reporter) {
			r.AddSource("tcp-client-director", func() []any {
				s := director.Stats()
				return []any{"actors", s.Actors, "pdus_in", s.PDUsIn, "pdus_out", s.PDUsOut, "dropped", s.Dropped}
			})
		})

	case config.TunnelModeServer:
		director, err := tcp.NewServerDirector(tcp.ServerConfig{
			Address:     cfg.TCPListen,
			IdleTimeout: cfg.IdleTimeout,
			Reuse:       cfg.Reuse,
			Observer:    glue,
			TLS:         tlsCfg,
			RateLimit:   cfg.RateLimitRaw,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		defer director.Close()

		if err := comm.Bind(b.tcpSide, stp, director); err != nil {
			return err
		}

		reporterSources = append(reporterSources, func(r *stats.Reporter) {
			r.AddSource("tcp-server-director", func() []any {
				s := director.Stats()
				return []any{"actors", s.Actors, "pdus_in", s.PDUsIn, "pdus_out", s.PDUsOut, "dropped", s.Dropped}
			})
		})
	}

	reporterSources = append(reporterSources, func(r *stats.Reporter) {
		r.AddSource("udp-director", func() []any {
			s := udpDir.Stats()
			return []any{"actors", s.Actors, "pdus_in", s.PDUsIn, "pdus_out", s.PDUsOut}
		})
	})

	if cfg.Stats.Enabled {
		reporter := stats.NewReporter(cfg.Stats.Interval, logger)
		for _, add := range reporterSources {
			add(reporter)
		}
		reporter.Start()
		defer reporter.Stop()
	}

	logger.Info("tunnel running", "mode", cfg.Mode, "udp_listen", cfg.UDPListen)
	<-ctx.Done()
	logger.Info("tunnel shutdown complete")
	return nil
}

func buildTLS(cfg *config.TunnelConfig) (*tls.Config, error) {
	if !cfg.TLS.Enabled {
		return nil, nil
	}
	if cfg.Mode == config.TunnelModeClient {
		return pki.NewClientTLSConfig(cfg.TLS.CACert, cfg.TLS.Cert, cfg.TLS.Key, cfg.Peer)
	}
	return pki.NewServerTLSConfig(cfg.TLS.CACert, cfg.TLS.Cert, cfg.TLS.Key)
}

func buildRecorder(ctx context.Context, cfg *config.TunnelConfig, logger *slog.Logger) (*trace.Recorder, error) {
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
