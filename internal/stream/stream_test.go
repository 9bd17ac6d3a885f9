// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nishisan-dev/bacomm/internal/comm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// lengthFramer é o framer de teste: 1 byte de tamanho seguido do corpo.
func lengthFramer(buf []byte) (frame, rest []byte, ok bool) {
	if len(buf) < 1 {
		return nil, nil, false
	}
	n := int(buf[0])
	if len(buf) < 1+n {
		return nil, nil, false
	}
	return buf[1 : 1+n], buf[1+n:], true
}

// sink captura o que emerge embaixo (Indication) e em cima (Confirmation).
type sink struct {
	comm.ServerSide
	down [][]byte
}

func (s *sink) Indication(pdu *comm.PDU) error {
	s.down = append(s.down, pdu.Data)
	return nil
}

type upSink struct {
	comm.ClientSide
	up   [][]byte
	pdus []*comm.PDU
}

func (s *upSink) Confirmation(pdu *comm.PDU) error {
	s.up = append(s.up, pdu.Data)
	s.pdus = append(s.pdus, pdu)
	return nil
}

func newBoundSTP(t *testing.T) (*StreamToPacket, *upSink, *sink) {
	t.Helper()
	stp := New(lengthFramer, testLogger())
	top := &upSink{}
	bottom := &sink{}
	if err := comm.Bind(top, stp, bottom); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return stp, top, bottom
}

// Remontagem ascendente com frames cortados em pontos arbitrários.
func TestUpstream_Reassembly(t *testing.T) {
	stp, top, _ := newBoundSTP(t)
	peer := comm.MustParseAddress("10.0.0.1:47808")

	chunks := [][]byte{
		[]byte("\x02ab"),
		[]byte("\x03cde\x01"),
		[]byte("f\x02gh"),
	}
	for _, c := range chunks {
		pdu := &comm.PDU{Data: c, Source: peer}
		if err := stp.Confirmation(pdu); err != nil {
			t.Fatalf("Confirmation: %v", err)
		}
	}

	want := []string{"ab", "cde", "f", "gh"}
	if len(top.up) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(top.up))
	}
	for i, w := range want {
		if string(top.up[i]) != w {
			t.Errorf("frame %d: got %q want %q", i, top.up[i], w)
		}
	}
	if stp.Buffered(peer) != 0 {
		t.Fatalf("expected empty buffer, got %d bytes", stp.Buffered(peer))
	}

	// Endereços preservados nos frames emitidos.
	for _, pdu := range top.pdus {
		if pdu.Source != peer {
			t.Fatal("emitted frame lost the source address")
		}
	}
}

// Propriedade: qualquer fatiamento do stream produz os mesmos frames na
// mesma ordem, e o buffer zera quando todos os bytes chegaram.
func TestUpstream_ArbitraryChunking(t *testing.T) {
	frames := [][]byte{[]byte("a"), []byte("bcd"), {}, bytes.Repeat([]byte("z"), 200)}
	var wire []byte
	for _, f := range frames {
		wire = append(wire, byte(len(f)))
		wire = append(wire, f...)
	}

	peer := comm.MustParseAddress("10.0.0.2:47808")
	for _, chunkSize := range []int{1, 2, 3, 7, len(wire)} {
		stp, top, _ := newBoundSTP(t)

		for off := 0; off < len(wire); off += chunkSize {
			end := off + chunkSize
			if end > len(wire) {
				end = len(wire)
			}
			if err := stp.Confirmation(&comm.PDU{Data: wire[off:end], Source: peer}); err != nil {
				t.Fatalf("chunk %d Confirmation: %v", chunkSize, err)
			}
		}

		if len(top.up) != len(frames) {
			t.Fatalf("chunk %d: expected %d frames, got %d", chunkSize, len(frames), len(top.up))
		}
		for i := range frames {
			if !bytes.Equal(top.up[i], frames[i]) {
				t.Fatalf("chunk %d frame %d mismatch", chunkSize, i)
			}
		}
		if stp.Buffered(peer) != 0 {
			t.Fatalf("chunk %d: buffer not empty", chunkSize)
		}
	}
}

// Descendo, o buffer é por destino e frames completos passam 1:1.
func TestDownstream_KeyedByDestination(t *testing.T) {
	stp, _, bottom := newBoundSTP(t)
	d1 := comm.MustParseAddress("10.0.0.1:1")
	d2 := comm.MustParseAddress("10.0.0.2:2")

	// Meio frame para d1, frame inteiro para d2: só d2 emite.
	if err := stp.Indication(&comm.PDU{Data: []byte("\x04ab"), Destination: d1}); err != nil {
		t.Fatalf("Indication d1: %v", err)
	}
	if err := stp.Indication(&comm.PDU{Data: []byte("\x02xy"), Destination: d2}); err != nil {
		t.Fatalf("Indication d2: %v", err)
	}

	if len(bottom.down) != 1 || string(bottom.down[0]) != "xy" {
		t.Fatalf("unexpected downstream frames: %q", bottom.down)
	}

	// Completa o frame de d1.
	if err := stp.Indication(&comm.PDU{Data: []byte("cd"), Destination: d1}); err != nil {
		t.Fatalf("Indication d1 completion: %v", err)
	}
	if len(bottom.down) != 2 || string(bottom.down[1]) != "abcd" {
		t.Fatalf("d1 frame did not complete: %q", bottom.down)
	}
}

// Framer que não consome nada é violação de contrato: buffer descartado.
func TestFramerViolation(t *testing.T) {
	bad := func(buf []byte) (frame, rest []byte, ok bool) {
		return nil, buf, true // consome zero bytes
	}
	stp := New(bad, testLogger())
	top := &upSink{}
	bottom := &sink{}
	if err := comm.Bind(top, stp, bottom); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	peer := comm.MustParseAddress("10.0.0.9:9")
	err := stp.Confirmation(&comm.PDU{Data: []byte("abc"), Source: peer})
	if !errors.Is(err, ErrFramerViolation) {
		t.Fatalf("expected ErrFramerViolation, got %v", err)
	}
	if stp.Buffered(peer) != 0 {
		t.Fatal("violating framer left the buffer populated")
	}
}

// --- Ciclo de vida dos buffers ---

type lifecycleActor struct{ peer comm.Address }

func (a lifecycleActor) Peer() comm.Address { return a.peer }

func TestLifecycleGlue(t *testing.T) {
	stp, top, _ := newBoundSTP(t)

	var chained []string
	next := comm.ObserverFuncs{
		OnAdd: func(a comm.Actor) { chained = append(chained, "add") },
		OnDel: func(a comm.Actor) { chained = append(chained, "del") },
	}
	glue := NewLifecycleGlue(stp, next)

	peer := comm.MustParseAddress("10.0.0.3:3")
	actor := lifecycleActor{peer: peer}

	glue.AddActor(actor)
	// Frame parcial retido.
	if err := stp.Confirmation(&comm.PDU{Data: []byte("\x05ab"), Source: peer}); err != nil {
		t.Fatalf("Confirmation: %v", err)
	}
	if stp.Buffered(peer) == 0 {
		t.Fatal("expected partial frame buffered")
	}

	// del_actor descarta o parcial.
	glue.DelActor(actor)
	if stp.Buffered(peer) != 0 {
		t.Fatal("DelActor did not discard the partial frame")
	}
	if len(top.up) != 0 {
		t.Fatal("partial frame leaked upstream")
	}

	if len(chained) != 2 || chained[0] != "add" || chained[1] != "del" {
		t.Fatalf("notifications not chained: %v", chained)
	}
}

// PDU de peer desconhecido cria buffer on demand (tolerância a corridas
// com as notificações de ciclo de vida).
func TestUnknownPeerCreatesBuffer(t *testing.T) {
	stp, top, _ := newBoundSTP(t)
	peer := comm.MustParseAddress("10.0.0.4:4")

	if err := stp.Confirmation(&comm.PDU{Data: []byte("\x01a"), Source: peer}); err != nil {
		t.Fatalf("Confirmation: %v", err)
	}
	if len(top.up) != 1 || string(top.up[0]) != "a" {
		t.Fatalf("frame from unknown peer not emitted: %q", top.up)
	}
}
