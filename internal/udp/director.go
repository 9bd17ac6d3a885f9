// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package udp implementa o transporte de datagramas: um director por
// socket UDP, com um actor por peer e reaping por inatividade.
package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/bacomm/internal/comm"
	"github.com/nishisan-dev/bacomm/internal/logging"
	"github.com/nishisan-dev/bacomm/internal/netutil"
	"github.com/nishisan-dev/bacomm/internal/task"
)

// readBufferSize é o tamanho do buffer de recepção de datagramas.
const readBufferSize = 65536

// ActorFactory é a estratégia de criação de actors do director. O default
// é NewActor; variantes com codec usam NewCodecActorFactory.
type ActorFactory func(d *Director, peer comm.Address) *Actor

// Config parametriza o director UDP.
type Config struct {
	// Address é o host:port de bind (obrigatório).
	Address string
	// Timeout é a inatividade máxima de um actor antes do reaping.
	// 0 desabilita: actors vivem até o Close do director.
	Timeout time.Duration
	// Reuse liga SO_REUSEADDR no bind. SO_BROADCAST é sempre ligado.
	Reuse bool
	// ActorFactory define a estratégia de actor (nil → NewActor).
	ActorFactory ActorFactory
	// Observer recebe as notificações de ciclo de vida (opcional).
	Observer comm.ActorObserver
	// RateLimit limita a saída em bytes/segundo; 0 desabilita. Datagramas
	// acima do orçamento instantâneo são descartados e contados.
	RateLimit int64
	// ServiceID registra o director no registro de elementos (opcional).
	ServiceID string
	// SAPID registra o director como service access point (opcional).
	SAPID string
	// Logger default é slog.Default().
	Logger *slog.Logger
}

// DirectorStats é o snapshot de métricas do director.
type DirectorStats struct {
	Actors      int
	PDUsIn      int64
	PDUsOut     int64
	SendErrors  int64
	RateDropped int64
}

// Director possui um socket UDP e mapeia peer → actor. Todo o estado é
// mutado exclusivamente no loop do director; os métodos públicos postam
// trabalho e os callbacks de timer executam serializados.
type Director struct {
	comm.ServerSide
	comm.ServiceAccessPoint

	cfg     Config
	logger  *slog.Logger
	conn    *net.UDPConn
	loop    *task.Loop
	factory ActorFactory
	pacer   *netutil.Pacer

	bound comm.Address

	// peers é mutado apenas no loop; o mutex existe para os leitores
	// síncronos (GetActor, Peers, Stats), que podem rodar em qualquer
	// goroutine — inclusive dentro de callbacks do próprio loop.
	mu     sync.RWMutex
	peers  map[comm.Address]*Actor
	closed bool

	readerDone chan struct{}

	pdusIn      atomic.Int64
	pdusOut     atomic.Int64
	sendErrors  atomic.Int64
	rateDropped atomic.Int64
}

// NewDirector faz o bind e inicia o director. O socket nasce com
// SO_BROADCAST ligado; SO_REUSEADDR segue cfg.Reuse.
func NewDirector(cfg Config) (*Director, error) {
	logger := logging.Component(cfg.Logger, "udp-director")

	lc := net.ListenConfig{Control: netutil.ListenControl(cfg.Reuse, true)}
	pc, err := lc.ListenPacket(context.Background(), "udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("binding udp %s: %w", cfg.Address, err)
	}
	conn := pc.(*net.UDPConn)

	d := &Director{
		cfg:        cfg,
		logger:     logger.With("address", conn.LocalAddr().String()),
		conn:       conn,
		factory:    cfg.ActorFactory,
		bound:      comm.AddrFrom(conn.LocalAddr()),
		peers:      make(map[comm.Address]*Actor),
		readerDone: make(chan struct{}),
	}
	if d.factory == nil {
		d.factory = NewActor
	}
	if cfg.Observer != nil {
		d.SetObserver(cfg.Observer)
	}
	d.pacer = netutil.NewPacer(cfg.RateLimit)
	comm.RegisterElement(cfg.ServiceID, d)
	comm.RegisterElement(cfg.SAPID, d)

	d.loop = task.NewLoop()
	go d.readLoop()

	d.logger.Info("udp director listening", "idle_timeout", cfg.Timeout, "reuse", cfg.Reuse)
	return d, nil
}

// LocalAddress retorna o endereço efetivamente vinculado.
func (d *Director) LocalAddress() comm.Address { return d.bound }

// Indication encaminha um PDU para o peer em pdu.Destination, criando o
// actor se necessário. O envio acontece no loop do director; erros de
// envio por peer chegam ao observer via ActorError.
func (d *Director) Indication(pdu *comm.PDU) error {
	if !pdu.Destination.IsValid() {
		return comm.ErrNoDestination
	}
	if !d.loop.Post(func() { d.sendDown(pdu) }) {
		return comm.ErrClosed
	}
	return nil
}

// GetActor devolve o actor do endereço, sem criar. Nil quando ausente.
func (d *Director) GetActor(addr comm.Address) *Actor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.peers[addr]
}

// Peers devolve um snapshot dos endereços com actor vivo.
func (d *Director) Peers() []comm.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]comm.Address, 0, len(d.peers))
	for peer := range d.peers {
		out = append(out, peer)
	}
	return out
}

// Stats devolve um snapshot das métricas.
func (d *Director) Stats() DirectorStats {
	d.mu.RLock()
	actors := len(d.peers)
	d.mu.RUnlock()
	return DirectorStats{
		Actors:      actors,
		PDUsIn:      d.pdusIn.Load(),
		PDUsOut:     d.pdusOut.Load(),
		SendErrors:  d.sendErrors.Load(),
		RateDropped: d.rateDropped.Load(),
	}
}

// Close cancela todos os timers de actor, fecha o socket e libera o mapa
// de peers. Idempotente. Não pode ser chamado de dentro de um callback
// do próprio director.
func (d *Director) Close() error {
	d.loop.PostWait(func() { d.shutdown() })
	d.loop.Close()
	<-d.readerDone
	d.loop.Wait()
	comm.UnregisterElement(d.cfg.ServiceID)
	comm.UnregisterElement(d.cfg.SAPID)
	return nil
}

// --- caminho descendente (loop) ---

func (d *Director) sendDown(pdu *comm.PDU) {
	if d.closed {
		return
	}
	actor := d.peers[pdu.Destination]
	if actor == nil {
		actor = d.createActor(pdu.Destination)
	}
	actor.indication(pdu)
}

// writeTo envia bytes crus para o peer. Roda no loop.
func (d *Director) writeTo(data []byte, peer comm.Address) {
	if !d.pacer.Allow(len(data)) {
		d.rateDropped.Add(1)
		d.logger.Debug("outbound datagram dropped by rate limit", "peer", peer.String(), "bytes", len(data))
		return
	}

	_, err := d.conn.WriteToUDP(data, peer.UDPAddr())
	if err != nil {
		if netutil.IsWouldBlock(err) {
			return
		}
		d.sendErrors.Add(1)
		if a := d.peers[peer]; a != nil {
			a.handleError(err)
		} else {
			d.fatal(err)
		}
		return
	}
	d.pdusOut.Add(1)
}

// --- caminho ascendente ---

func (d *Director) readLoop() {
	defer close(d.readerDone)

	buf := make([]byte, readBufferSize)
	for {
		n, raddr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if netutil.IsClosed(err) {
				return
			}
			if netutil.IsWouldBlock(err) {
				continue
			}
			d.loop.Post(func() { d.fatal(err) })
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		pdu := &comm.PDU{Data: data, Source: comm.AddrFrom(raddr)}
		d.loop.Post(func() { d.dispatch(pdu) })
	}
}

// dispatch roteia um datagrama recebido pelo endereço de origem.
func (d *Director) dispatch(pdu *comm.PDU) {
	if d.closed {
		return
	}
	d.pdusIn.Add(1)
	actor := d.peers[pdu.Source]
	if actor == nil {
		actor = d.createActor(pdu.Source)
	}
	actor.response(pdu)
}

// --- ciclo de vida de actors (loop) ---

func (d *Director) createActor(peer comm.Address) *Actor {
	a := d.factory(d, peer)
	d.mu.Lock()
	d.peers[peer] = a
	d.mu.Unlock()
	if d.cfg.Timeout > 0 {
		a.idleTimer = d.loop.Schedule(time.Now().Add(d.cfg.Timeout), a.idleTimeout)
	}
	d.NotifyAdd(a)
	return a
}

func (d *Director) delActor(a *Actor) {
	if d.peers[a.peer] != a {
		return
	}
	if a.idleTimer != nil {
		a.idleTimer.Cancel()
	}
	d.mu.Lock()
	delete(d.peers, a.peer)
	d.mu.Unlock()
	d.NotifyDel(a)
}

func (d *Director) actorError(a *Actor, err error) {
	d.logger.Warn("actor error", "peer", a.peer.String(), "error", err)
	d.NotifyError(a, err)
}

// fatal trata erros de socket que não identificam um peer: o director
// inteiro fecha. Roda no loop.
func (d *Director) fatal(err error) {
	if d.closed {
		return
	}
	d.logger.Error("udp socket error, closing director", "error", err)
	d.shutdown()
}

func (d *Director) shutdown() {
	if d.closed {
		return
	}
	d.closed = true
	for _, a := range d.peers {
		if a.idleTimer != nil {
			a.idleTimer.Cancel()
		}
	}
	d.mu.Lock()
	d.peers = make(map[comm.Address]*Actor)
	d.mu.Unlock()
	d.conn.Close()
	d.logger.Info("udp director closed")
}
