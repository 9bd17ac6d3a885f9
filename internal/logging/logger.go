// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package logging constrói os loggers estruturados do bacomm: o logger
// raiz de cada daemon e o carimbo de componente que todos os directors e
// elementos da pilha usam para se identificar nas linhas de log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options descreve a saída de log de um daemon (o bloco logging do YAML).
type Options struct {
	Level  string // debug|info|warn|error (default: info)
	Format string // json|text (default: json)
	File   string // opcional: stdout + arquivo (MultiWriter)
}

// New cria o logger raiz do daemon. Retorna também o io.Closer do
// arquivo de log, a ser chamado no shutdown (no-op sem arquivo).
func New(opts Options) (*slog.Logger, io.Closer) {
	w, closer := output(opts.File)
	hopts := &slog.HandlerOptions{Level: level(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(w, hopts)
	} else {
		handler = slog.NewJSONHandler(w, hopts)
	}

	return slog.New(handler), closer
}

// Component carimba um logger com o nome do componente — a convenção de
// atribuição compartilhada por directors, adaptadores e daemons. Logger
// nil cai no default do processo, então construtores podem aplicar o
// carimbo sem checar a configuração.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", name))
}

// output resolve o destino de escrita e o closer correspondente. Sem
// conseguir abrir o arquivo, avisa no stderr e segue só com stdout.
func output(path string) (io.Writer, io.Closer) {
	if path == "" {
		return os.Stdout, noopCloser{}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", path, err)
		return os.Stdout, noopCloser{}
	}
	return io.MultiWriter(os.Stdout, f), f
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// level converte o nível textual, caindo em Info para valores
// desconhecidos.
func level(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
