// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package udp

import (
	"time"

	"github.com/nishisan-dev/bacomm/internal/codec"
	"github.com/nishisan-dev/bacomm/internal/comm"
	"github.com/nishisan-dev/bacomm/internal/task"
)

// Actor é o estado por peer de um director UDP: o timer de inatividade e,
// nas variantes com codec, o par encode/decode de payload. Actors são
// criados no primeiro tráfego de/para um peer e removidos no reaping, em
// erro fatal ou no Close do director. Todos os métodos rodam no loop.
type Actor struct {
	director *Director
	peer     comm.Address

	idleTimer *task.Timer

	enc       func([]byte) ([]byte, error)
	dec       *codec.Decoder
	codecName string
}

// NewActor é a estratégia default: payload cru, sem codec.
func NewActor(d *Director, peer comm.Address) *Actor {
	return &Actor{director: d, peer: peer}
}

// NewCodecActorFactory devolve uma estratégia cujos actors serializam o
// payload com o codec no envio e remontam mensagens na recepção.
//
// Variante para bancadas locais de IPC apenas: não deve ser usada em
// directors alcançáveis por tráfego de rede externo. Frames indecifráveis
// são descartados e logados, nunca propagados.
func NewCodecActorFactory(c codec.Codec) ActorFactory {
	return func(d *Director, peer comm.Address) *Actor {
		return &Actor{
			director:  d,
			peer:      peer,
			enc:       c.Encode,
			dec:       c.NewDecoder(),
			codecName: c.Name(),
		}
	}
}

// Peer implementa comm.Actor.
func (a *Actor) Peer() comm.Address { return a.peer }

// rearmIdle reinicia o timer de inatividade após tráfego em qualquer
// direção.
func (a *Actor) rearmIdle() {
	if a.idleTimer != nil {
		a.idleTimer.Rearm(time.Now().Add(a.director.cfg.Timeout))
	}
}

// idleTimeout é o callback do timer: remove o actor do director. Se o
// actor já saiu do mapa, delActor é um no-op.
func (a *Actor) idleTimeout() {
	a.director.delActor(a)
}

// indication processa um PDU descendo: rearma o idle e entrega os bytes
// ao socket do director.
func (a *Actor) indication(pdu *comm.PDU) {
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
	a.director.writeTo(data, a.peer)
}

// response processa um PDU subindo: rearma o idle e encaminha para a
// camada superior do director. Com codec, o datagrama é remontado em
// zero ou mais mensagens; frames corrompidos são descartados.
func (a *Actor) response(pdu *comm.PDU) {
	a.rearmIdle()

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

func (a *Actor) deliver(pdu *comm.PDU) {
	if err := a.director.Response(pdu); err != nil {
		a.director.logger.Warn("upstream delivery failed", "peer", a.peer.String(), "error", err)
	}
}

// handleError recebe erros de envio que identificam este peer e os
// repassa ao observer do director. O actor permanece vivo até o reaping
// por inatividade ou o Close do director.
func (a *Actor) handleError(err error) {
	if err != nil {
		a.director.actorError(a, err)
	}
}
