// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/bacomm/internal/codec"
	"github.com/nishisan-dev/bacomm/internal/comm"
	"github.com/nishisan-dev/bacomm/internal/logging"
	"github.com/nishisan-dev/bacomm/internal/netutil"
	"github.com/nishisan-dev/bacomm/internal/task"
)

// ClientActorFactory é a estratégia de criação de actors do director
// client. Default NewClientActor; variantes com codec usam
// NewClientCodecActorFactory.
type ClientActorFactory func(d *ClientDirector, peer comm.Address) *ClientActor

// ClientConfig parametriza o director client.
type ClientConfig struct {
	// ConnectTimeout limita o handshake TCP; 0 desabilita (fica o default
	// do sistema operacional).
	ConnectTimeout time.Duration
	// IdleTimeout remove actors sem tráfego; 0 desabilita.
	IdleTimeout time.Duration
	// ActorFactory define a estratégia de actor (nil → NewClientActor).
	ActorFactory ClientActorFactory
	// Observer recebe as notificações de ciclo de vida (opcional).
	Observer comm.ActorObserver
	// TLS, quando presente, faz o dial por tls.DialWithDialer.
	TLS *tls.Config
	// RateLimit limita a escrita somada de todas as conexões do director
	// em bytes/segundo; 0 desliga.
	RateLimit int64
	// QueueSize é o soft cap da fila de escrita por actor (0 → default).
	QueueSize int
	// ServiceID registra o director no registro de elementos (opcional).
	ServiceID string
	// SAPID registra o director como service access point (opcional).
	SAPID string
	// Logger default é slog.Default().
	Logger *slog.Logger
}

// ClientDirector apresenta um pool de conexões TCP como uma interface
// única: um indication para um destino sem conexão cria o actor, que
// disca e bufferiza até conectar. PDUs vindos do peer não carregam origem
// no socket; o actor carimba pdu.Source com o endereço do peer.
type ClientDirector struct {
	comm.ServerSide
	comm.ServiceAccessPoint

	cfg     ClientConfig
	logger  *slog.Logger
	loop    *task.Loop
	factory ClientActorFactory
	pacer   *netutil.Pacer

	// clients é mutado apenas no loop; o mutex cobre os leitores
	// síncronos (GetActor, Stats), válidos de qualquer goroutine.
	mu        sync.RWMutex
	clients   map[comm.Address]*ClientActor
	reconnect map[comm.Address]time.Duration
	closed    bool

	pdusIn  atomic.Int64
	pdusOut atomic.Int64
	dropped atomic.Int64
}

// NewClientDirector cria o director. Não há socket até o primeiro
// connect/indication.
func NewClientDirector(cfg ClientConfig) *ClientDirector {
	d := &ClientDirector{
		cfg:       cfg,
		logger:    logging.Component(cfg.Logger, "tcp-client-director"),
		factory:   cfg.ActorFactory,
		pacer:     netutil.NewPacer(cfg.RateLimit),
		clients:   make(map[comm.Address]*ClientActor),
		reconnect: make(map[comm.Address]time.Duration),
	}
	if d.factory == nil {
		d.factory = NewClientActor
	}
	if cfg.Observer != nil {
		d.SetObserver(cfg.Observer)
	}
	comm.RegisterElement(cfg.ServiceID, d)
	comm.RegisterElement(cfg.SAPID, d)

	d.loop = task.NewLoop()
	return d
}

// Connect abre (se necessário) a conexão com addr. backoff > 0 inscreve o
// peer no mapa de reconexão: após cada del_actor um novo connect é
// agendado para t+backoff.
func (d *ClientDirector) Connect(addr comm.Address, backoff time.Duration) error {
	if !addr.IsValid() {
		return comm.ErrNoDestination
	}
	if !d.loop.PostWait(func() {
		if d.closed {
			return
		}
		if backoff > 0 {
			d.reconnect[addr] = backoff
		}
		if d.clients[addr] != nil {
			return
		}
		d.createActor(addr)
	}) {
		return comm.ErrClosed
	}
	return nil
}

// Disconnect remove o peer do mapa de reconexão e encerra o actor com
// flush gracioso da fila de escrita.
func (d *ClientDirector) Disconnect(addr comm.Address) error {
	if !d.loop.PostWait(func() {
		delete(d.reconnect, addr)
		if a := d.clients[addr]; a != nil {
			a.beginFlush()
		}
	}) {
		return comm.ErrClosed
	}
	return nil
}

// Indication roteia o PDU para o actor de pdu.Destination, criando a
// conexão quando ainda não existe.
func (d *ClientDirector) Indication(pdu *comm.PDU) error {
	if !pdu.Destination.IsValid() {
		return comm.ErrNoDestination
	}
	if !d.loop.Post(func() { d.sendDown(pdu) }) {
		return comm.ErrClosed
	}
	return nil
}

// GetActor devolve o actor do endereço ou nil.
func (d *ClientDirector) GetActor(addr comm.Address) *ClientActor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clients[addr]
}

// Stats devolve um snapshot das métricas.
func (d *ClientDirector) Stats() DirectorStats {
	d.mu.RLock()
	actors := len(d.clients)
	d.mu.RUnlock()
	return DirectorStats{
		Actors:    actors,
		PDUsIn:    d.pdusIn.Load(),
		PDUsOut:   d.pdusOut.Load(),
		Dropped:   d.dropped.Load(),
		Throttled: d.pacer.Waits(),
	}
}

// Close encerra todos os actors (timers cancelados, conexões fechadas) e
// para o loop. Idempotente. Não pode ser chamado de dentro de um
// callback do próprio director.
func (d *ClientDirector) Close() error {
	d.loop.PostWait(func() { d.shutdown() })
	d.loop.Close()
	d.loop.Wait()
	comm.UnregisterElement(d.cfg.ServiceID)
	comm.UnregisterElement(d.cfg.SAPID)
	return nil
}

// --- loop ---

func (d *ClientDirector) sendDown(pdu *comm.PDU) {
	if d.closed {
		return
	}
	actor := d.clients[pdu.Destination]
	if actor == nil {
		actor = d.createActor(pdu.Destination)
	}
	actor.indication(pdu)
}

func (d *ClientDirector) createActor(peer comm.Address) *ClientActor {
	a := d.factory(d, peer)
	d.mu.Lock()
	d.clients[peer] = a
	d.mu.Unlock()
	d.NotifyAdd(a)
	a.start()
	return a
}

func (d *ClientDirector) delActor(a *ClientActor) {
	if d.clients[a.peer] != a {
		return
	}
	d.mu.Lock()
	delete(d.clients, a.peer)
	d.mu.Unlock()
	if d.closed {
		return
	}
	d.NotifyDel(a)

	// Reconexão automática: agenda um novo connect para t+backoff.
	if backoff, ok := d.reconnect[a.peer]; ok {
		peer := a.peer
		d.loop.Schedule(time.Now().Add(backoff), func() { d.redial(peer) })
	}
}

func (d *ClientDirector) redial(peer comm.Address) {
	if d.closed {
		return
	}
	if _, wanted := d.reconnect[peer]; !wanted {
		return
	}
	if d.clients[peer] != nil {
		return
	}
	d.logger.Info("reconnecting", "peer", peer.String())
	d.createActor(peer)
}

func (d *ClientDirector) actorError(a *ClientActor, err error) {
	d.logger.Warn("actor error", "peer", a.peer.String(), "error", err)
	d.NotifyError(a, err)
}

func (d *ClientDirector) shutdown() {
	if d.closed {
		return
	}
	d.closed = true
	for _, a := range d.clients {
		a.close()
	}
	d.mu.Lock()
	d.clients = make(map[comm.Address]*ClientActor)
	d.mu.Unlock()
	d.logger.Info("tcp client director closed")
}

// --- actor ---

type clientState int

const (
	stateConnecting clientState = iota
	stateConnected
	stateClosing
	stateClosed
)

// ClientActor é o estado por conexão de saída: a máquina
// connecting→connected→closing→closed, os timers de connect/idle, o
// buffer de bytes pré-conexão e a fila de escrita. Todos os métodos não
// exportados rodam no loop do director.
type ClientActor struct {
	director *ClientDirector
	peer     comm.Address

	state   clientState
	conn    net.Conn
	pending [][]byte
	queue   *writeQueue

	connectTimer *task.Timer
	idleTimer    *task.Timer
	flushTimer   *task.Timer

	ctx    context.Context
	cancel context.CancelFunc

	enc       func([]byte) ([]byte, error)
	dec       *codec.Decoder
	codecName string
}

// NewClientActor é a estratégia default: payload cru.
func NewClientActor(d *ClientDirector, peer comm.Address) *ClientActor {
	return &ClientActor{director: d, peer: peer, state: stateConnecting}
}

// NewClientCodecActorFactory devolve uma estratégia com serialização de
// payload. Exclusiva de bancadas locais de IPC; ver internal/codec.
func NewClientCodecActorFactory(c codec.Codec) ClientActorFactory {
	return func(d *ClientDirector, peer comm.Address) *ClientActor {
		a := NewClientActor(d, peer)
		a.enc = c.Encode
		a.dec = c.NewDecoder()
		a.codecName = c.Name()
		return a
	}
}

// Peer implementa comm.Actor.
func (a *ClientActor) Peer() comm.Address { return a.peer }

// Connected informa se o handshake já completou.
func (a *ClientActor) Connected() bool { return a.state == stateConnected }

// start arma o connect timer e dispara o dial assíncrono. Roda no loop.
func (a *ClientActor) start() {
	a.ctx, a.cancel = context.WithCancel(context.Background())
	if ct := a.director.cfg.ConnectTimeout; ct > 0 {
		a.connectTimer = a.director.loop.Schedule(time.Now().Add(ct), a.connectTimedOut)
	}
	go a.dial()
}

// dial roda fora do loop: só o handshake bloqueia aqui, o resultado volta
// para o loop via Post.
func (a *ClientActor) dial() {
	target := a.peer.AddrPort().String()
	dialer := &net.Dialer{Timeout: a.director.cfg.ConnectTimeout}

	var conn net.Conn
	var err error
	if tlsCfg := a.director.cfg.TLS; tlsCfg != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", target, tlsCfg)
	} else {
		conn, err = dialer.DialContext(a.ctx, "tcp", target)
	}
	a.director.loop.Post(func() { a.dialDone(conn, err) })
}

func (a *ClientActor) dialDone(conn net.Conn, err error) {
	if a.state != stateConnecting {
		// Fechado durante o handshake (timeout, disconnect, shutdown).
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		a.director.actorError(a, fmt.Errorf("connecting to %s (%s): %w",
			a.peer.String(), netutil.ClassifyDial(err), err))
		a.close()
		return
	}

	a.conn = conn
	a.state = stateConnected
	if a.connectTimer != nil {
		a.connectTimer.Cancel()
		a.connectTimer = nil
	}
	if it := a.director.cfg.IdleTimeout; it > 0 {
		a.idleTimer = a.director.loop.Schedule(time.Now().Add(it), a.idleTimedOut)
	}

	a.queue = newWriteQueue(a.director.cfg.QueueSize)
	go a.writeLoop(conn)
	go a.readLoop(conn)

	// Drena o que foi bufferizado enquanto conectava, em ordem.
	for _, b := range a.pending {
		a.enqueue(b)
	}
	a.pending = nil

	a.director.logger.Debug("actor connected", "peer", a.peer.String())
}

func (a *ClientActor) connectTimedOut() {
	if a.state != stateConnecting {
		return
	}
	a.director.actorError(a, fmt.Errorf("%w: %s", ErrConnectTimeout, a.peer.String()))
	a.close()
}

func (a *ClientActor) idleTimedOut() {
	a.close()
}

func (a *ClientActor) rearmIdle() {
	if a.idleTimer != nil {
		a.idleTimer.Rearm(time.Now().Add(a.director.cfg.IdleTimeout))
	}
}

// indication processa um PDU descendo. Durante o flush o tráfego novo é
// descartado; conectando, os bytes ficam bufferizados até o handshake.
func (a *ClientActor) indication(pdu *comm.PDU) {
	if a.state == stateClosing || a.state == stateClosed {
		return
	}
	a.rearmIdle()

	data := pdu.Data
	if a.enc != nil {
		encoded, err := a.enc(data)
		if err != nil {
			a.director.logger.Warn("codec encode failed, dropping pdu",
				"peer", a.peer.String(), "codec", a.codecName, "error", err)
			return
		}
		data = encoded
	}

	switch a.state {
	case stateConnecting:
		if len(a.pending) >= a.softCap() {
			a.director.dropped.Add(1)
			a.director.actorError(a, ErrWriteQueueFull)
			return
		}
		a.pending = append(a.pending, data)
	case stateConnected:
		a.enqueue(data)
	}
}

// softCap dimensiona o buffer pré-conexão igual à fila de escrita.
func (a *ClientActor) softCap() int {
	if size := a.director.cfg.QueueSize; size > 0 {
		return size
	}
	return defaultQueueSize
}

func (a *ClientActor) enqueue(b []byte) {
	if a.queue.push(b) {
		return
	}
	a.director.dropped.Add(1)
	a.director.actorError(a, ErrWriteQueueFull)
}

// response processa bytes subindo: carimba a origem com o peer, rearma o
// idle e entrega à camada superior (via codec quando configurado).
func (a *ClientActor) response(pdu *comm.PDU) {
	if a.state == stateClosing || a.state == stateClosed {
		return
	}
	a.rearmIdle()

	pdu = pdu.WithSource(a.peer)
	if a.dec == nil {
		a.deliver(pdu)
		return
	}

	a.dec.Feed(pdu.Data)
	for {
		msg, ok, err := a.dec.Next()
		if err != nil {
			a.director.logger.Warn("codec decode failed, dropping frame",
				"peer", a.peer.String(), "codec", a.codecName, "error", err)
			if !ok {
				return
			}
			continue
		}
		if !ok {
			return
		}
		a.deliver(pdu.WithData(msg))
	}
}

func (a *ClientActor) deliver(pdu *comm.PDU) {
	a.director.pdusIn.Add(1)
	if err := a.director.Response(pdu); err != nil {
		a.director.logger.Warn("upstream delivery failed", "peer", a.peer.String(), "error", err)
	}
}

// beginFlush entra no estado closing: drena a fila de escrita e fecha.
// Sem conexão estabelecida não há o que drenar; fecha direto.
func (a *ClientActor) beginFlush() {
	if a.state == stateClosing || a.state == stateClosed {
		return
	}
	if a.state == stateConnecting {
		a.close()
		return
	}
	a.state = stateClosing
	a.flush()
}

// flush re-agenda a si mesmo enquanto a fila de escrita tem pendências;
// vazia, transiciona para closed.
func (a *ClientActor) flush() {
	a.flushTimer = nil
	if a.state != stateClosing {
		return
	}
	if a.queue.pending() > 0 {
		a.flushTimer = a.director.loop.Schedule(time.Now().Add(flushPollInterval), a.flush)
		return
	}
	a.close()
}

// writeFailed trata erros da goroutine de escrita. Broken pipe encerra o
// actor sem afetar o director.
func (a *ClientActor) writeFailed(err error) {
	if a.state == stateClosed {
		return
	}
	a.director.actorError(a, fmt.Errorf("writing to %s: %w", a.peer.String(), err))
	a.close()
}

// remoteClosed trata o fim do stream de leitura (EOF ou erro).
func (a *ClientActor) remoteClosed(err error) {
	if a.state == stateClosed {
		return
	}
	if err != io.EOF && !netutil.IsClosed(err) {
		a.director.actorError(a, fmt.Errorf("reading from %s: %w", a.peer.String(), err))
	}
	a.close()
}

// close transiciona para closed: cancela os timers, fecha conexão e fila
// e remove o actor do director (del_actor → possível reconexão).
func (a *ClientActor) close() {
	if a.state == stateClosed {
		return
	}
	a.state = stateClosed

	if a.connectTimer != nil {
		a.connectTimer.Cancel()
		a.connectTimer = nil
	}
	if a.idleTimer != nil {
		a.idleTimer.Cancel()
		a.idleTimer = nil
	}
	if a.flushTimer != nil {
		a.flushTimer.Cancel()
		a.flushTimer = nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.queue != nil {
		a.queue.close()
	}
	if a.conn != nil {
		a.conn.Close()
	}
	a.pending = nil

	a.director.delActor(a)
}

// --- goroutines de I/O (fora do loop) ---

func (a *ClientActor) writeLoop(conn net.Conn) {
	for b := range a.queue.ch {
		// O pacer é do director: limita a soma das conexões. O ctx do
		// actor interrompe a espera no close — aí é só drenar e sair.
		if err := a.director.pacer.Throttle(a.ctx, len(b)); err != nil {
			a.queue.done()
			for range a.queue.ch {
				a.queue.done()
			}
			return
		}
		_, err := conn.Write(b)
		a.queue.done()
		if err != nil {
			a.director.loop.Post(func() { a.writeFailed(err) })
			// Continua drenando para não reter pushes já aceitos.
			for range a.queue.ch {
				a.queue.done()
			}
			return
		}
		a.director.pdusOut.Add(1)
	}
}

func (a *ClientActor) readLoop(conn net.Conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			a.director.loop.Post(func() { a.response(&comm.PDU{Data: data}) })
		}
		if err != nil {
			a.director.loop.Post(func() { a.remoteClosed(err) })
			return
		}
	}
}
