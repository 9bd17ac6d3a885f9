// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package stream implementa o adaptador entre um director orientado a
// stream (TCP) e uma camada superior orientada a pacotes: bytes que
// chegam fragmentados são remontados em frames completos por uma função
// de framing fornecida pelo chamador.
package stream

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/nishisan-dev/bacomm/internal/comm"
	"github.com/nishisan-dev/bacomm/internal/logging"
)

// Framer extrai um frame do início de buf. ok=false sinaliza frame
// incompleto (aguardar mais bytes). Quando ok, o framer deve consumir um
// prefixo estritamente não-vazio: frame contém o frame completo e rest o
// excedente ainda não consumido. O framer é puro e nunca "des-consome"
// bytes.
type Framer func(buf []byte) (frame, rest []byte, ok bool)

// ErrFramerViolation indica um framer que consumiu zero bytes ou devolveu
// um remainder maior que a entrada. O buffer do peer é descartado.
var ErrFramerViolation = errors.New("stream: framer broke the consumption contract")

// StreamToPacket fica entre um director de stream e a camada de pacotes.
// Mantém um buffer de remontagem por peer em cada direção: descendo, os
// bytes são acumulados por destino; subindo, por origem. Cada frame
// completo sai como um PDU próprio carregando os endereços e o user data
// do PDU que completou o frame.
type StreamToPacket struct {
	comm.ClientSide
	comm.ServerSide

	fn     Framer
	logger *slog.Logger

	// mu protege os buffers: Indication chega da goroutine da aplicação,
	// Confirmation e as notificações de ciclo de vida chegam do loop do
	// director.
	mu         sync.Mutex
	upstream   map[comm.Address][]byte
	downstream map[comm.Address][]byte
}

// New cria o adaptador com a função de framing. Logger nil usa o default.
func New(fn Framer, logger *slog.Logger) *StreamToPacket {
	return &StreamToPacket{
		fn:         fn,
		logger:     logging.Component(logger, "stream-to-packet"),
		upstream:   make(map[comm.Address][]byte),
		downstream: make(map[comm.Address][]byte),
	}
}

// Indication processa um PDU descendo: acumula no buffer do destino e
// emite cada frame completo para a camada de baixo.
func (s *StreamToPacket) Indication(pdu *comm.PDU) error {
	frames, err := s.packetize(pdu, s.downstream, pdu.Destination)
	if err != nil {
		return err
	}
	for _, out := range frames {
		if err := s.Request(out); err != nil {
			return err
		}
	}
	return nil
}

// Confirmation processa um PDU subindo: acumula no buffer da origem e
// emite cada frame completo para a camada de cima.
func (s *StreamToPacket) Confirmation(pdu *comm.PDU) error {
	frames, err := s.packetize(pdu, s.upstream, pdu.Source)
	if err != nil {
		return err
	}
	for _, out := range frames {
		if err := s.Response(out); err != nil {
			return err
		}
	}
	return nil
}

// packetize acrescenta pdu.Data ao buffer do peer e extrai frames em
// ordem de chegada. O remainder fica retido para a próxima entrega. Um
// peer desconhecido ganha buffer on demand, tolerando corridas com as
// notificações de ciclo de vida.
func (s *StreamToPacket) packetize(pdu *comm.PDU, buffers map[comm.Address][]byte, key comm.Address) ([]*comm.PDU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := append(buffers[key], pdu.Data...)

	var frames []*comm.PDU
	for len(buf) > 0 {
		frame, rest, ok := s.fn(buf)
		if !ok {
			break
		}
		if len(rest) >= len(buf) {
			// Framer não consumiu nada (ou inventou bytes): estado de
			// remontagem não é mais confiável para este peer.
			delete(buffers, key)
			s.logger.Error("framer violation, dropping reassembly buffer",
				"peer", key.String(), "buffered", len(buf))
			return frames, ErrFramerViolation
		}
		frames = append(frames, pdu.WithData(frame))
		buf = rest
	}

	buffers[key] = buf
	return frames, nil
}

// Buffered devolve quantos bytes aguardam remontagem para um peer na
// direção ascendente. Zero significa stream sem frame parcial.
func (s *StreamToPacket) Buffered(peer comm.Address) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upstream[peer])
}

// addPeer cria os buffers vazios do peer.
func (s *StreamToPacket) addPeer(peer comm.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.upstream[peer]; !exists {
		s.upstream[peer] = nil
	}
	if _, exists := s.downstream[peer]; !exists {
		s.downstream[peer] = nil
	}
}

// delPeer descarta os buffers do peer, inclusive frames parciais.
func (s *StreamToPacket) delPeer(peer comm.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.upstream, peer)
	delete(s.downstream, peer)
}

// LifecycleGlue observa o director de stream e mantém os buffers do
// adaptador alinhados ao ciclo de vida dos actors, encadeando as
// notificações para um próximo observer opcional.
type LifecycleGlue struct {
	stp  *StreamToPacket
	next comm.ActorObserver
}

// NewLifecycleGlue cria o observer de ciclo de vida do adaptador.
func NewLifecycleGlue(stp *StreamToPacket, next comm.ActorObserver) *LifecycleGlue {
	return &LifecycleGlue{stp: stp, next: next}
}

func (g *LifecycleGlue) AddActor(actor comm.Actor) {
	g.stp.addPeer(actor.Peer())
	if g.next != nil {
		g.next.AddActor(actor)
	}
}

func (g *LifecycleGlue) DelActor(actor comm.Actor) {
	g.stp.delPeer(actor.Peer())
	if g.next != nil {
		g.next.DelActor(actor)
	}
}

func (g *LifecycleGlue) ActorError(actor comm.Actor, err error) {
	if g.next != nil {
		g.next.ActorError(actor, err)
	}
}
