// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package comm

import (
	"net"
	"testing"
)

// --- Address ---

func TestAddress_ParseRoundtrip(t *testing.T) {
	cases := []string{
		"127.0.0.1:47808",
		"192.168.0.255:47808*",
		"[::1]:47808",
	}
	for _, s := range cases {
		a, err := ParseAddress(s)
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", s, err)
		}
		if a.String() != s {
			t.Errorf("roundtrip mismatch: %q → %q", s, a.String())
		}
		if !a.IsValid() {
			t.Errorf("parsed address %q not valid", s)
		}
	}
}

func TestAddress_Broadcast(t *testing.T) {
	a := BroadcastAddress(47808)
	if !a.IsBroadcast() {
		t.Fatal("BroadcastAddress not flagged as broadcast")
	}
	if a.String() != "255.255.255.255:47808*" {
		t.Fatalf("unexpected broadcast form: %q", a.String())
	}

	parsed, err := ParseAddress(a.String())
	if err != nil {
		t.Fatalf("re-parsing broadcast: %v", err)
	}
	if parsed != a {
		t.Fatal("broadcast address did not roundtrip as a value")
	}
}

func TestAddress_ZeroValue(t *testing.T) {
	var a Address
	if a.IsValid() {
		t.Fatal("zero Address should be invalid")
	}
	if a.String() != "" {
		t.Fatalf("zero Address String should be empty, got %q", a.String())
	}

	var b Address
	if err := b.UnmarshalText(nil); err != nil {
		t.Fatalf("unmarshal empty: %v", err)
	}
	if b.IsValid() {
		t.Fatal("unmarshal of empty text should produce the zero value")
	}
}

func TestAddress_AddrFromNormalizes(t *testing.T) {
	// IPv4-mapped e IPv4 puro devem produzir a mesma chave.
	u4 := &net.UDPAddr{IP: net.ParseIP("127.0.0.1").To4(), Port: 47808}
	u4mapped := &net.UDPAddr{IP: net.ParseIP("127.0.0.1").To16(), Port: 47808}

	if AddrFrom(u4) != AddrFrom(u4mapped) {
		t.Fatalf("mapped and plain IPv4 differ: %v vs %v", AddrFrom(u4), AddrFrom(u4mapped))
	}
}

// --- PDU ---

func TestPDU_WithAddressesSharesPayload(t *testing.T) {
	src := MustParseAddress("10.0.0.1:47808")
	dst := MustParseAddress("10.0.0.2:47808")

	p := NewPDU([]byte{0x01, 0x02})
	q := p.WithSource(src).WithDestination(dst)

	if q.Source != src || q.Destination != dst {
		t.Fatal("addresses not applied")
	}
	if &q.Data[0] != &p.Data[0] {
		t.Fatal("payload was copied instead of shared")
	}
	if p.Source.IsValid() || p.Destination.IsValid() {
		t.Fatal("original PDU was mutated")
	}
}

// --- Stack plumbing ---

type topElement struct {
	ClientSide
	got []*PDU
}

func (e *topElement) Confirmation(pdu *PDU) error {
	e.got = append(e.got, pdu)
	return nil
}

type midElement struct {
	ClientSide
	ServerSide
}

func (e *midElement) Indication(pdu *PDU) error   { return e.Request(pdu) }
func (e *midElement) Confirmation(pdu *PDU) error { return e.Response(pdu) }

type bottomElement struct {
	ServerSide
	got []*PDU
}

func (e *bottomElement) Indication(pdu *PDU) error {
	e.got = append(e.got, pdu)
	return nil
}

func TestBind_ThreeElements(t *testing.T) {
	top := &topElement{}
	mid := &midElement{}
	bottom := &bottomElement{}

	if err := Bind(top, mid, bottom); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	down := NewPDU([]byte("down"))
	if err := top.Request(down); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(bottom.got) != 1 || string(bottom.got[0].Data) != "down" {
		t.Fatal("downstream pdu did not reach the bottom")
	}

	up := NewPDU([]byte("up"))
	if err := bottom.Response(up); err != nil {
		t.Fatalf("Response: %v", err)
	}
	if len(top.got) != 1 || string(top.got[0].Data) != "up" {
		t.Fatal("upstream pdu did not reach the top")
	}
}

func TestBind_RejectsNonServer(t *testing.T) {
	top := &topElement{}
	if err := Bind(top, struct{}{}); err == nil {
		t.Fatal("expected error binding to a non-Server")
	}
}

func TestRequest_Unbound(t *testing.T) {
	top := &topElement{}
	if err := top.Request(NewPDU(nil)); err != ErrNotBound {
		t.Fatalf("expected ErrNotBound, got %v", err)
	}
}

func TestResponse_UnboundIsSilent(t *testing.T) {
	bottom := &bottomElement{}
	if err := bottom.Response(NewPDU(nil)); err != nil {
		t.Fatalf("unbound Response should be a no-op, got %v", err)
	}
}

// --- Registro de elementos ---

func TestElementRegistry(t *testing.T) {
	top := &topElement{}
	bottom := &bottomElement{}

	RegisterElement("test-top", top)
	RegisterElement("test-bottom", bottom)
	defer UnregisterElement("test-top")
	defer UnregisterElement("test-bottom")

	if ElementByID("test-top") != top {
		t.Fatal("registry lookup failed")
	}
	if err := BindByID("test-top", "test-bottom"); err != nil {
		t.Fatalf("BindByID: %v", err)
	}
	if err := top.Request(NewPDU([]byte("x"))); err != nil {
		t.Fatalf("Request after BindByID: %v", err)
	}
	if len(bottom.got) != 1 {
		t.Fatal("pdu did not flow through id-bound pair")
	}

	if err := BindByID("missing", "test-bottom"); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

// --- ServiceAccessPoint ---

type fakeActor struct{ peer Address }

func (f fakeActor) Peer() Address { return f.peer }

func TestServiceAccessPoint_NilSafe(t *testing.T) {
	var sap ServiceAccessPoint
	// Sem observer, nenhuma notificação deve panicar.
	sap.NotifyAdd(fakeActor{})
	sap.NotifyDel(fakeActor{})
	sap.NotifyError(fakeActor{}, ErrNotBound)
}

func TestServiceAccessPoint_Notifies(t *testing.T) {
	var adds, dels, errs int
	var sap ServiceAccessPoint
	sap.SetObserver(ObserverFuncs{
		OnAdd:   func(Actor) { adds++ },
		OnDel:   func(Actor) { dels++ },
		OnError: func(Actor, error) { errs++ },
	})

	actor := fakeActor{peer: MustParseAddress("10.0.0.1:1")}
	sap.NotifyAdd(actor)
	sap.NotifyDel(actor)
	sap.NotifyError(actor, ErrNotBound)

	if adds != 1 || dels != 1 || errs != 1 {
		t.Fatalf("unexpected notification counts: add=%d del=%d err=%d", adds, dels, errs)
	}
}
