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

// ServerActorFactory é a estratégia de criação de actors do director
// server, invocada a cada conexão aceita.
type ServerActorFactory func(d *ServerDirector, conn net.Conn, peer comm.Address) *ServerActor

// ServerConfig parametriza o director server.
type ServerConfig struct {
	// Address é o host:port de escuta (obrigatório).
	Address string
	// Listeners dimensiona o backlog de conexões aceitas aguardando
	// registro (0 → default). O backlog de SYN fica com o kernel.
	Listeners int
	// IdleTimeout fecha actors sem tráfego; 0 desabilita.
	IdleTimeout time.Duration
	// Reuse liga SO_REUSEADDR no bind.
	Reuse bool
	// ActorFactory define a estratégia de actor (nil → NewServerActor).
	ActorFactory ServerActorFactory
	// Observer recebe as notificações de ciclo de vida (opcional).
	Observer comm.ActorObserver
	// TLS, quando presente, envolve o listener com tls.NewListener.
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

// ServerDirector escuta conexões TCP e mantém um actor por peer remoto.
// O server nunca disca: indication para um destino sem conexão falha com
// ErrPeerNotConnected. Duas conexões simultâneas do mesmo endereço
// remoto substituem o actor anterior, que é fechado de forma limpa.
type ServerDirector struct {
	comm.ServerSide
	comm.ServiceAccessPoint

	cfg     ServerConfig
	logger  *slog.Logger
	loop    *task.Loop
	factory ServerActorFactory
	pacer   *netutil.Pacer
	ln      net.Listener
	bound   comm.Address

	accepted   chan net.Conn
	acceptDone chan struct{}

	// servers é mutado apenas no loop; o mutex cobre os leitores
	// síncronos (Indication, GetActor, Stats).
	mu      sync.RWMutex
	servers map[comm.Address]*ServerActor
	closed  bool

	pdusIn  atomic.Int64
	pdusOut atomic.Int64
	dropped atomic.Int64
}

// NewServerDirector faz o bind (com retry em address-in-use) e começa a
// aceitar conexões. Com a porta ocupada, tenta por até 30 vezes em
// intervalos de 2s antes de falhar com ErrBindUnsuccessful.
func NewServerDirector(cfg ServerConfig) (*ServerDirector, error) {
	logger := logging.Component(cfg.Logger, "tcp-server-director")

	lc := net.ListenConfig{Control: netutil.ListenControl(cfg.Reuse, false)}

	var ln net.Listener
	var err error
	hadBindErrors := false
	for attempt := 1; attempt <= bindAttempts; attempt++ {
		ln, err = lc.Listen(context.Background(), "tcp", cfg.Address)
		if err == nil {
			break
		}
		if !netutil.IsAddrInUse(err) {
			return nil, fmt.Errorf("binding tcp %s: %w", cfg.Address, err)
		}
		hadBindErrors = true
		logger.Warn("bind error, sleep and try again",
			"address", cfg.Address, "attempt", attempt, "error", err)
		if attempt < bindAttempts {
			time.Sleep(rebindSleepInterval)
		}
	}
	if err != nil {
		logger.Error("unable to bind", "address", cfg.Address)
		return nil, ErrBindUnsuccessful
	}
	if hadBindErrors {
		logger.Info("bind successful", "address", cfg.Address)
	}

	bound := comm.AddrFrom(ln.Addr())
	if cfg.TLS != nil {
		ln = tls.NewListener(ln, cfg.TLS)
	}

	listeners := cfg.Listeners
	if listeners <= 0 {
		listeners = defaultListeners
	}

	d := &ServerDirector{
		cfg:        cfg,
		logger:     logger.With("address", ln.Addr().String()),
		factory:    cfg.ActorFactory,
		pacer:      netutil.NewPacer(cfg.RateLimit),
		ln:         ln,
		bound:      bound,
		accepted:   make(chan net.Conn, listeners),
		acceptDone: make(chan struct{}),
		servers:    make(map[comm.Address]*ServerActor),
	}
	if d.factory == nil {
		d.factory = NewServerActor
	}
	if cfg.Observer != nil {
		d.SetObserver(cfg.Observer)
	}
	comm.RegisterElement(cfg.ServiceID, d)
	comm.RegisterElement(cfg.SAPID, d)

	d.loop = task.NewLoop()
	go d.acceptLoop()
	go d.pump()

	d.logger.Info("tcp server director listening",
		"idle_timeout", cfg.IdleTimeout, "listeners", listeners)
	return d, nil
}

// LocalAddress retorna o endereço efetivamente vinculado.
func (d *ServerDirector) LocalAddress() comm.Address { return d.bound }

// Indication envia o PDU para o actor de pdu.Destination. O server não
// cria conexões: destino desconhecido falha com ErrPeerNotConnected.
func (d *ServerDirector) Indication(pdu *comm.PDU) error {
	if !pdu.Destination.IsValid() {
		return comm.ErrNoDestination
	}
	d.mu.RLock()
	actor := d.servers[pdu.Destination]
	d.mu.RUnlock()
	if actor == nil {
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, pdu.Destination.String())
	}
	if !d.loop.Post(func() { actor.indication(pdu) }) {
		return comm.ErrClosed
	}
	return nil
}

// GetActor devolve o actor do endereço ou nil.
func (d *ServerDirector) GetActor(addr comm.Address) *ServerActor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.servers[addr]
}

// Stats devolve um snapshot das métricas.
func (d *ServerDirector) Stats() DirectorStats {
	d.mu.RLock()
	actors := len(d.servers)
	d.mu.RUnlock()
	return DirectorStats{
		Actors:    actors,
		PDUsIn:    d.pdusIn.Load(),
		PDUsOut:   d.pdusOut.Load(),
		Dropped:   d.dropped.Load(),
		Throttled: d.pacer.Waits(),
	}
}

// Close fecha o listener e todos os actors. Idempotente. Não pode ser
// chamado de dentro de um callback do próprio director.
func (d *ServerDirector) Close() error {
	d.loop.PostWait(func() { d.shutdown() })
	d.loop.Close()
	<-d.acceptDone
	d.loop.Wait()
	comm.UnregisterElement(d.cfg.ServiceID)
	comm.UnregisterElement(d.cfg.SAPID)
	return nil
}

// --- accept (fora do loop) ---

func (d *ServerDirector) acceptLoop() {
	defer close(d.accepted)
	defer close(d.acceptDone)

	for {
		conn, err := d.ln.Accept()
		if err != nil {
			if netutil.IsClosed(err) {
				return
			}
			d.logger.Error("accept error", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		select {
		case d.accepted <- conn:
		default:
			d.logger.Warn("accept backlog full, rejecting connection",
				"peer", conn.RemoteAddr().String())
			conn.Close()
		}
	}
}

// pump registra as conexões aceitas no loop, uma por vez, preservando o
// backlog limitado entre accept e registro.
func (d *ServerDirector) pump() {
	for conn := range d.accepted {
		c := conn
		if !d.loop.PostWait(func() { d.registerConn(c) }) {
			c.Close()
		}
	}
}

// --- loop ---

func (d *ServerDirector) registerConn(conn net.Conn) {
	if d.closed {
		conn.Close()
		return
	}

	peer := comm.AddrFrom(conn.RemoteAddr())
	if old := d.servers[peer]; old != nil {
		// Unicidade por endereço: a conexão mais nova vence.
		d.logger.Warn("duplicate connection from peer, replacing actor", "peer", peer.String())
		old.close()
	}

	a := d.factory(d, conn, peer)
	d.mu.Lock()
	d.servers[peer] = a
	d.mu.Unlock()
	a.start()
	d.NotifyAdd(a)

	d.logger.Debug("connection accepted", "peer", peer.String())
}

func (d *ServerDirector) delActor(a *ServerActor) {
	if d.servers[a.peer] != a {
		return
	}
	d.mu.Lock()
	delete(d.servers, a.peer)
	d.mu.Unlock()
	if d.closed {
		return
	}
	d.NotifyDel(a)
}

func (d *ServerDirector) actorError(a *ServerActor, err error) {
	d.logger.Warn("actor error", "peer", a.peer.String(), "error", err)
	d.NotifyError(a, err)
}

func (d *ServerDirector) shutdown() {
	if d.closed {
		return
	}
	d.closed = true
	for _, a := range d.servers {
		a.close()
	}
	d.mu.Lock()
	d.servers = make(map[comm.Address]*ServerActor)
	d.mu.Unlock()
	d.ln.Close()
	d.logger.Info("tcp server director closed")
}

// --- actor ---

type serverState int

const (
	stateOpen serverState = iota
	stateFlushing
	stateServerClosed
)

// ServerActor é o estado por conexão aceita: open→flushing→closed, timer
// de inatividade e fila de escrita. Métodos não exportados rodam no loop.
type ServerActor struct {
	director *ServerDirector
	peer     comm.Address

	state serverState
	conn  net.Conn
	queue *writeQueue

	idleTimer  *task.Timer
	flushTimer *task.Timer

	ctx    context.Context
	cancel context.CancelFunc

	enc       func([]byte) ([]byte, error)
	dec       *codec.Decoder
	codecName string
}

// NewServerActor é a estratégia default: payload cru.
func NewServerActor(d *ServerDirector, conn net.Conn, peer comm.Address) *ServerActor {
	return &ServerActor{director: d, peer: peer, conn: conn, state: stateOpen}
}

// NewServerCodecActorFactory devolve uma estratégia com serialização de
// payload. Exclusiva de bancadas locais de IPC; ver internal/codec.
func NewServerCodecActorFactory(c codec.Codec) ServerActorFactory {
	return func(d *ServerDirector, conn net.Conn, peer comm.Address) *ServerActor {
		a := NewServerActor(d, conn, peer)
		a.enc = c.Encode
		a.dec = c.NewDecoder()
		a.codecName = c.Name()
		return a
	}
}

// Peer implementa comm.Actor.
func (a *ServerActor) Peer() comm.Address { return a.peer }

// Flush drena a fila de escrita e fecha o actor. Seguro de qualquer
// goroutine.
func (a *ServerActor) Flush() {
	a.director.loop.Post(func() { a.beginFlush() })
}

// start arma o idle e inicia as goroutines de I/O. Roda no loop.
func (a *ServerActor) start() {
	a.ctx, a.cancel = context.WithCancel(context.Background())
	if it := a.director.cfg.IdleTimeout; it > 0 {
		a.idleTimer = a.director.loop.Schedule(time.Now().Add(it), a.idleTimedOut)
	}
	a.queue = newWriteQueue(a.director.cfg.QueueSize)
	go a.writeLoop(a.conn)
	go a.readLoop(a.conn)
}

func (a *ServerActor) idleTimedOut() {
	a.close()
}

func (a *ServerActor) rearmIdle() {
	if a.idleTimer != nil {
		a.idleTimer.Rearm(time.Now().Add(a.director.cfg.IdleTimeout))
	}
}

// indication envia um PDU para o peer desta conexão. PDUs sem origem
// ganham o endereço vinculado do director. Tráfego novo durante o flush
// é descartado.
func (a *ServerActor) indication(pdu *comm.PDU) {
	if a.state != stateOpen {
		return
	}
	a.rearmIdle()

	if !pdu.Source.IsValid() {
		pdu = pdu.WithSource(a.director.bound)
	}

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

	if a.queue.push(data) {
		return
	}
	a.director.dropped.Add(1)
	a.director.actorError(a, ErrWriteQueueFull)
}

// response entrega bytes recebidos à camada superior com a origem
// carimbada com o peer.
func (a *ServerActor) response(pdu *comm.PDU) {
	if a.state != stateOpen {
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

func (a *ServerActor) deliver(pdu *comm.PDU) {
	a.director.pdusIn.Add(1)
	if err := a.director.Response(pdu); err != nil {
		a.director.logger.Warn("upstream delivery failed", "peer", a.peer.String(), "error", err)
	}
}

func (a *ServerActor) beginFlush() {
	if a.state != stateOpen {
		return
	}
	a.state = stateFlushing
	a.flush()
}

func (a *ServerActor) flush() {
	a.flushTimer = nil
	if a.state != stateFlushing {
		return
	}
	if a.queue.pending() > 0 {
		a.flushTimer = a.director.loop.Schedule(time.Now().Add(flushPollInterval), a.flush)
		return
	}
	a.close()
}

func (a *ServerActor) writeFailed(err error) {
	if a.state == stateServerClosed {
		return
	}
	a.director.actorError(a, fmt.Errorf("writing to %s: %w", a.peer.String(), err))
	a.close()
}

func (a *ServerActor) remoteClosed(err error) {
	if a.state == stateServerClosed {
		return
	}
	if err != io.EOF && !netutil.IsClosed(err) {
		a.director.actorError(a, fmt.Errorf("reading from %s: %w", a.peer.String(), err))
	}
	a.close()
}

func (a *ServerActor) close() {
	if a.state == stateServerClosed {
		return
	}
	a.state = stateServerClosed

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
	a.conn.Close()

	a.director.delActor(a)
}

// --- goroutines de I/O (fora do loop) ---

func (a *ServerActor) writeLoop(conn net.Conn) {
	for b := range a.queue.ch {
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
			for range a.queue.ch {
				a.queue.done()
			}
			return
		}
		a.director.pdusOut.Add(1)
	}
}

func (a *ServerActor) readLoop(conn net.Conn) {
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
