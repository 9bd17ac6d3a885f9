// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package trace

import "github.com/nishisan-dev/bacomm/internal/comm"

// Tap é um elemento de pilha transparente: registra cada PDU que passa e
// repassa sem tocar. Posicionado entre a aplicação e um director via
// comm.Bind.
type Tap struct {
	comm.ClientSide
	comm.ServerSide
	rec *Recorder
}

// NewTap cria o tap. rec nil vira pass-through puro.
func NewTap(rec *Recorder) *Tap {
	return &Tap{rec: rec}
}

// Indication registra o PDU descendo ("out", por destino) e repassa.
func (t *Tap) Indication(pdu *comm.PDU) error {
	t.rec.Record("out", pdu.Destination, pdu.Data)
	return t.Request(pdu)
}

// Confirmation registra o PDU subindo ("in", por origem) e repassa.
func (t *Tap) Confirmation(pdu *comm.PDU) error {
	t.rec.Record("in", pdu.Source, pdu.Data)
	return t.Response(pdu)
}
