// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"log/slog"
	"sync"

	"github.com/nishisan-dev/bacomm/internal/comm"
	"github.com/nishisan-dev/bacomm/internal/config"
	"github.com/nishisan-dev/bacomm/internal/logging"
	"github.com/nishisan-dev/bacomm/internal/protocol"
)

// bridge liga as duas pilhas do tunnel: datagramas locais sobem pela
// pilha UDP, são encapsulados e descem pela pilha TCP até o peer do
// tunnel; frames remontados pelo StreamToPacket fazem o caminho inverso.
//
// No modo server, o peer do tunnel é a última conexão aceita: a bridge
// acompanha o ciclo de vida dos actors como observer encadeado depois do
// LifecycleGlue do adaptador.
type bridge struct {
	logger  *slog.Logger
	forward comm.Address

	udpSide *udpSide
	tcpSide *tcpSide

	mu         sync.Mutex
	tunnelPeer comm.Address
}

func newBridge(cfg *config.TunnelConfig, logger *slog.Logger) *bridge {
	b := &bridge{logger: logging.Component(logger, "bridge")}
	if cfg.Forward != "" {
		b.forward = comm.MustParseAddress(cfg.Forward)
	}
	b.udpSide = &udpSide{bridge: b}
	b.tcpSide = &tcpSide{bridge: b}
	return b
}

func (b *bridge) setTunnelPeer(peer comm.Address) {
	b.mu.Lock()
	b.tunnelPeer = peer
	b.mu.Unlock()
}

func (b *bridge) peer() comm.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tunnelPeer
}

// fromUDP encapsula um datagrama local e o envia pelo tunnel.
func (b *bridge) fromUDP(pdu *comm.PDU) error {
	peer := b.peer()
	if !peer.IsValid() {
		b.logger.Debug("no tunnel peer, dropping pdu", "source", pdu.Source.String())
		return nil
	}

	framed, err := protocol.EncodePDU(pdu)
	if err != nil {
		b.logger.Warn("encapsulating pdu", "error", err)
		return nil
	}
	return b.tcpSide.Request(&comm.PDU{Data: framed, Destination: peer})
}

// fromTunnel desfaz o encapsulamento de um frame remontado e entrega o
// PDU na rede UDP local. Frames indecifráveis (lixo de ressincronização)
// são descartados.
func (b *bridge) fromTunnel(framePDU *comm.PDU) error {
	inner, err := protocol.DecodePDU(framePDU.Data)
	if err != nil {
		b.logger.Debug("dropping undecodable tunnel frame",
			"peer", framePDU.Source.String(), "bytes", len(framePDU.Data), "error", err)
		return nil
	}

	dest := inner.Destination
	if !dest.IsValid() {
		dest = b.forward
	}
	if !dest.IsValid() {
		b.logger.Debug("tunnel frame without destination and no forward configured, dropping",
			"source", inner.Source.String())
		return nil
	}
	return b.udpSide.Request(inner.WithDestination(dest))
}

// --- observer (modo server: acompanha o peer corrente do tunnel) ---

func (b *bridge) AddActor(actor comm.Actor) {
	b.setTunnelPeer(actor.Peer())
	b.logger.Info("tunnel peer attached", "peer", actor.Peer().String())
}

func (b *bridge) DelActor(actor comm.Actor) {
	b.mu.Lock()
	if b.tunnelPeer == actor.Peer() {
		b.tunnelPeer = comm.Address{}
	}
	b.mu.Unlock()
	b.logger.Info("tunnel peer detached", "peer", actor.Peer().String())
}

func (b *bridge) ActorError(actor comm.Actor, err error) {
	b.logger.Warn("tunnel peer error", "peer", actor.Peer().String(), "error", err)
}

// udpSide é o topo da pilha UDP local.
type udpSide struct {
	comm.ClientSide
	bridge *bridge
}

func (u *udpSide) Confirmation(pdu *comm.PDU) error {
	return u.bridge.fromUDP(pdu)
}

// tcpSide é o topo da pilha TCP do tunnel (acima do StreamToPacket).
type tcpSide struct {
	comm.ClientSide
	bridge *bridge
}

func (t *tcpSide) Confirmation(pdu *comm.PDU) error {
	return t.bridge.fromTunnel(pdu)
}
