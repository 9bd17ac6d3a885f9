// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package trace grava um registro JSONL comprimido do tráfego de PDUs dos
// daemons: direção, peer, tamanho e os primeiros bytes do payload. O
// arquivo rotaciona por tamanho e os rotacionados podem ser arquivados em
// S3.
package trace

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/nishisan-dev/bacomm/internal/comm"
	"github.com/nishisan-dev/bacomm/internal/logging"
)

// Entry é uma linha do trace.
type Entry struct {
	Time  time.Time `json:"ts"`
	Dir   string    `json:"dir"` // "in" ou "out"
	Peer  string    `json:"peer"`
	Bytes int       `json:"bytes"`
	Head  string    `json:"head,omitempty"` // hex dos primeiros bytes
}

// Recorder grava entries em um arquivo JSONL comprimido (pgzip). A
// rotação acontece quando o volume escrito (descomprimido, aproximação
// conservadora) passa de maxBytes: o arquivo corrente é renomeado com
// timestamp e, com um Archiver presente, sobe para o S3 em background.
type Recorder struct {
	path     string
	maxBytes int64
	headLen  int
	logger   *slog.Logger
	archiver *Archiver

	mu      sync.Mutex
	f       *os.File
	zw      *pgzip.Writer
	written int64
	closed  bool
}

// NewRecorder abre (ou cria) o arquivo de trace. maxBytes <= 0 desabilita
// a rotação. archiver pode ser nil.
func NewRecorder(path string, maxBytes int64, headLen int, logger *slog.Logger, archiver *Archiver) (*Recorder, error) {
	r := &Recorder{
		path:     path,
		maxBytes: maxBytes,
		headLen:  headLen,
		logger:   logging.Component(logger, "trace"),
		archiver: archiver,
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening trace file: %w", err)
	}
	r.f = f
	r.zw = pgzip.NewWriter(f)
	r.written = 0
	return nil
}

// Record acrescenta uma entry. Nil-safe: com o recorder desabilitado a
// chamada é um no-op. Erros de escrita são logados e não propagam — o
// trace nunca derruba o caminho de dados.
func (r *Recorder) Record(dir string, peer comm.Address, payload []byte) {
	if r == nil {
		return
	}

	head := payload
	if len(head) > r.headLen {
		head = head[:r.headLen]
	}
	entry := Entry{
		Time:  time.Now(),
		Dir:   dir,
		Peer:  peer.String(),
		Bytes: len(payload),
		Head:  hex.EncodeToString(head),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		r.logger.Warn("marshaling trace entry", "error", err)
		return
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if _, err := r.zw.Write(line); err != nil {
		r.logger.Warn("writing trace entry", "error", err)
		return
	}
	r.written += int64(len(line))

	if r.maxBytes > 0 && r.written >= r.maxBytes {
		r.rotate()
	}
}

// rotate fecha o arquivo corrente, renomeia com timestamp e reabre.
// Caller segura r.mu.
func (r *Recorder) rotate() {
	if err := r.zw.Close(); err != nil {
		r.logger.Warn("closing trace writer for rotation", "error", err)
	}
	if err := r.f.Close(); err != nil {
		r.logger.Warn("closing trace file for rotation", "error", err)
	}

	rotated := fmt.Sprintf("%s.%s", r.path, time.Now().Format("20060102T150405"))
	if err := os.Rename(r.path, rotated); err != nil {
		r.logger.Error("rotating trace file", "error", err)
	} else {
		r.logger.Info("trace file rotated", "file", rotated)
		if r.archiver != nil {
			go r.archiver.Upload(rotated)
		}
	}

	if err := r.open(); err != nil {
		r.logger.Error("reopening trace file after rotation", "error", err)
		r.closed = true
	}
}

// Close encerra o recorder. Nil-safe e idempotente.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.zw.Close(); err != nil {
		r.f.Close()
		return fmt.Errorf("closing trace writer: %w", err)
	}
	return r.f.Close()
}
