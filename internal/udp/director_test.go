// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package udp

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/bacomm/internal/codec"
	"github.com/nishisan-dev/bacomm/internal/comm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventRecorder acumula notificações de ciclo de vida de forma segura.
type eventRecorder struct {
	mu     sync.Mutex
	adds   []comm.Address
	dels   []comm.Address
	errors []error
}

func (r *eventRecorder) AddActor(a comm.Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adds = append(r.adds, a.Peer())
}

func (r *eventRecorder) DelActor(a comm.Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dels = append(r.dels, a.Peer())
}

func (r *eventRecorder) ActorError(a comm.Actor, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, fmt.Errorf("%s: %w", a.Peer().String(), err))
}

func (r *eventRecorder) counts() (adds, dels, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.adds), len(r.dels), len(r.errors)
}

// upstreamSink captura PDUs entregues à camada superior.
type upstreamSink struct {
	comm.ClientSide
	mu   sync.Mutex
	pdus []*comm.PDU
	ch   chan *comm.PDU
}

func newUpstreamSink() *upstreamSink {
	return &upstreamSink{ch: make(chan *comm.PDU, 64)}
}

func (s *upstreamSink) Confirmation(pdu *comm.PDU) error {
	s.mu.Lock()
	s.pdus = append(s.pdus, pdu)
	s.mu.Unlock()
	s.ch <- pdu
	return nil
}

func (s *upstreamSink) wait(t *testing.T, timeout time.Duration) *comm.PDU {
	t.Helper()
	select {
	case pdu := <-s.ch:
		return pdu
	case <-time.After(timeout):
		t.Fatal("timeout waiting for upstream pdu")
		return nil
	}
}

func newTestDirector(t *testing.T, cfg Config) *Director {
	t.Helper()
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	d, err := NewDirector(cfg)
	if err != nil {
		t.Fatalf("NewDirector: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// waitFor espera uma condição com polling (testes com timers reais).
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// --- Roundtrip ---

func TestEchoRoundtrip(t *testing.T) {
	obsA := &eventRecorder{}
	obsB := &eventRecorder{}

	a := newTestDirector(t, Config{Observer: obsA})
	b := newTestDirector(t, Config{Observer: obsB})

	upA := newUpstreamSink()
	upB := newUpstreamSink()
	if err := comm.Bind(upA, a); err != nil {
		t.Fatalf("Bind a: %v", err)
	}
	if err := comm.Bind(upB, b); err != nil {
		t.Fatalf("Bind b: %v", err)
	}

	payload := []byte{0x01, 0x02}
	if err := a.Indication(&comm.PDU{Data: payload, Destination: b.LocalAddress()}); err != nil {
		t.Fatalf("Indication: %v", err)
	}

	got := upB.wait(t, 2*time.Second)
	if string(got.Data) != string(payload) {
		t.Fatalf("payload mismatch: %x", got.Data)
	}
	if got.Source != a.LocalAddress() {
		t.Fatalf("source not stamped: got %v want %v", got.Source, a.LocalAddress())
	}

	// Devolve para a origem.
	if err := b.Indication(&comm.PDU{Data: got.Data, Destination: got.Source}); err != nil {
		t.Fatalf("echo Indication: %v", err)
	}
	back := upA.wait(t, 2*time.Second)
	if string(back.Data) != string(payload) {
		t.Fatalf("echoed payload mismatch: %x", back.Data)
	}
	if back.Source != b.LocalAddress() {
		t.Fatalf("echoed source mismatch: %v", back.Source)
	}

	// Cada director viu exatamente um add_actor.
	waitFor(t, 2*time.Second, func() bool {
		addsA, _, _ := obsA.counts()
		addsB, _, _ := obsB.counts()
		return addsA == 1 && addsB == 1
	}, "expected exactly one add_actor on each side")
}

// --- Unicidade ---

func TestActorUniqueness(t *testing.T) {
	d := newTestDirector(t, Config{})
	peer := comm.MustParseAddress("127.0.0.1:45454")

	for i := 0; i < 5; i++ {
		if err := d.Indication(&comm.PDU{Data: []byte("x"), Destination: peer}); err != nil {
			t.Fatalf("Indication %d: %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return d.Stats().PDUsOut == 5 }, "datagrams not sent")

	if got := d.Stats().Actors; got != 1 {
		t.Fatalf("expected 1 actor for repeated traffic, got %d", got)
	}
	if d.GetActor(peer) == nil {
		t.Fatal("GetActor returned nil for live actor")
	}
	if d.GetActor(comm.MustParseAddress("127.0.0.1:45455")) != nil {
		t.Fatal("GetActor created an actor on lookup")
	}
}

// --- Idle reaping ---

func TestIdleReaping(t *testing.T) {
	obs := &eventRecorder{}
	d := newTestDirector(t, Config{Timeout: 150 * time.Millisecond, Observer: obs})
	peer := comm.MustParseAddress("127.0.0.1:45456")

	if err := d.Indication(&comm.PDU{Data: []byte("x"), Destination: peer}); err != nil {
		t.Fatalf("Indication: %v", err)
	}
	waitFor(t, time.Second, func() bool { adds, _, _ := obs.counts(); return adds == 1 }, "actor never created")

	// Sem tráfego por mais que o timeout: removido exatamente uma vez.
	waitFor(t, 2*time.Second, func() bool { _, dels, _ := obs.counts(); return dels == 1 }, "actor never reaped")
	if d.GetActor(peer) != nil {
		t.Fatal("reaped actor still present")
	}

	time.Sleep(300 * time.Millisecond)
	if _, dels, _ := obs.counts(); dels != 1 {
		t.Fatalf("del_actor fired %d times", dels)
	}
}

func TestIdleDisabled(t *testing.T) {
	obs := &eventRecorder{}
	d := newTestDirector(t, Config{Timeout: 0, Observer: obs})
	peer := comm.MustParseAddress("127.0.0.1:45457")

	if err := d.Indication(&comm.PDU{Data: []byte("x"), Destination: peer}); err != nil {
		t.Fatalf("Indication: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if d.GetActor(peer) == nil {
		t.Fatal("actor reaped with timeout disabled")
	}
}

// Tráfego contínuo rearma o idle e o actor sobrevive além do timeout.
func TestIdleRearmOnTraffic(t *testing.T) {
	obs := &eventRecorder{}
	d := newTestDirector(t, Config{Timeout: 200 * time.Millisecond, Observer: obs})
	peer := comm.MustParseAddress("127.0.0.1:45458")

	for i := 0; i < 5; i++ {
		if err := d.Indication(&comm.PDU{Data: []byte("x"), Destination: peer}); err != nil {
			t.Fatalf("Indication: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if _, dels, _ := obs.counts(); dels != 0 {
		t.Fatal("active actor was reaped")
	}
}

// --- Isolamento de erros por peer ---

func TestPeerErrorIsolation(t *testing.T) {
	obs := &eventRecorder{}
	d := newTestDirector(t, Config{Observer: obs})

	p1 := comm.MustParseAddress("127.0.0.1:45460")
	p2 := comm.MustParseAddress("127.0.0.1:45461")

	d.Indication(&comm.PDU{Data: []byte("x"), Destination: p1})
	d.Indication(&comm.PDU{Data: []byte("x"), Destination: p2})
	waitFor(t, time.Second, func() bool { adds, _, _ := obs.counts(); return adds == 2 }, "actors never created")

	// Injeta uma falha de envio atribuída a p1, no loop do director.
	a1 := d.GetActor(p1)
	d.loop.PostWait(func() { a1.handleError(fmt.Errorf("send failed")) })

	_, _, errs := obs.counts()
	if errs != 1 {
		t.Fatalf("expected 1 actor_error, got %d", errs)
	}

	// p2 intacto; p1 também permanece (erros de envio não removem).
	if d.GetActor(p2) == nil || d.GetActor(p1) == nil {
		t.Fatal("peer error affected actor lifetime")
	}
}

// --- Close ---

func TestClose_ReleasesActors(t *testing.T) {
	obs := &eventRecorder{}
	d := newTestDirector(t, Config{Timeout: 50 * time.Millisecond, Observer: obs})

	d.Indication(&comm.PDU{Data: []byte("x"), Destination: comm.MustParseAddress("127.0.0.1:45462")})
	waitFor(t, time.Second, func() bool { adds, _, _ := obs.counts(); return adds == 1 }, "actor never created")

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Nenhum timer dispara após o close.
	time.Sleep(200 * time.Millisecond)
	if _, dels, _ := obs.counts(); dels != 0 {
		t.Fatal("idle timer fired after director close")
	}

	if err := d.Indication(&comm.PDU{Data: []byte("x"), Destination: comm.MustParseAddress("127.0.0.1:1")}); err != comm.ErrClosed {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}

	// Segundo close é no-op.
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// --- Variante com codec ---

func TestCodecActors_GobRoundtrip(t *testing.T) {
	factory := NewCodecActorFactory(codec.NewGob())

	a := newTestDirector(t, Config{ActorFactory: factory})
	b := newTestDirector(t, Config{ActorFactory: factory})

	upB := newUpstreamSink()
	if err := comm.Bind(upB, b); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	payload := []byte("serialized payload")
	if err := a.Indication(&comm.PDU{Data: payload, Destination: b.LocalAddress()}); err != nil {
		t.Fatalf("Indication: %v", err)
	}

	got := upB.wait(t, 2*time.Second)
	if string(got.Data) != string(payload) {
		t.Fatalf("codec roundtrip mismatch: %q", got.Data)
	}
}

// Datagrama indecifrável para o codec é descartado sem derrubar o actor.
func TestCodecActors_DropUnparseable(t *testing.T) {
	factory := NewCodecActorFactory(codec.NewGob())

	plain := newTestDirector(t, Config{})
	coded := newTestDirector(t, Config{ActorFactory: factory})

	up := newUpstreamSink()
	if err := comm.Bind(up, coded); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	// Lixo cru de um director sem codec.
	if err := plain.Indication(&comm.PDU{Data: []byte("\xff\xff\xffgarbage"), Destination: coded.LocalAddress()}); err != nil {
		t.Fatalf("Indication: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return coded.Stats().PDUsIn == 1 }, "datagram never arrived")
	select {
	case pdu := <-up.ch:
		t.Fatalf("unparseable datagram leaked upstream: %x", pdu.Data)
	case <-time.After(200 * time.Millisecond):
	}

	// O actor do peer continua vivo.
	if coded.GetActor(plain.LocalAddress()) == nil {
		t.Fatal("actor dropped after unparseable datagram")
	}
}
