// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package comm

import (
	"errors"
	"fmt"
	"sync"
)

// Erros da pilha.
var (
	ErrNoDestination = errors.New("comm: pdu has no destination address")
	ErrNotBound      = errors.New("comm: element is not bound")
	ErrClosed        = errors.New("comm: director is closed")
)

// Server é o lado de baixo de um elemento: aceita PDUs descendo a pilha.
type Server interface {
	Indication(pdu *PDU) error
}

// Client é o lado de cima de um elemento: aceita PDUs subindo a pilha.
type Client interface {
	Confirmation(pdu *PDU) error
}

// ClientSide é a metade embutível de um elemento que fala com a camada de
// baixo. Request encaminha um PDU para o Server vinculado.
type ClientSide struct {
	below Server
}

// BindBelow vincula a camada inferior.
func (c *ClientSide) BindBelow(s Server) { c.below = s }

// Below retorna a camada inferior vinculada (nil se não houver).
func (c *ClientSide) Below() Server { return c.below }

// Request envia um PDU para baixo.
func (c *ClientSide) Request(pdu *PDU) error {
	if c.below == nil {
		return ErrNotBound
	}
	return c.below.Indication(pdu)
}

// ServerSide é a metade embutível de um elemento que fala com a camada de
// cima. Response encaminha um PDU para o Client vinculado.
type ServerSide struct {
	above Client
}

// BindAbove vincula a camada superior.
func (s *ServerSide) BindAbove(c Client) { s.above = c }

// Above retorna a camada superior vinculada (nil se não houver).
func (s *ServerSide) Above() Client { return s.above }

// Response envia um PDU para cima. Sem camada superior vinculada o PDU é
// descartado silenciosamente (um director pode operar sem aplicação
// durante testes de bancada).
func (s *ServerSide) Response(pdu *PDU) error {
	if s.above == nil {
		return nil
	}
	return s.above.Confirmation(pdu)
}

// belowBinder/aboveBinder são os contratos estruturais usados por Bind.
type belowBinder interface{ BindBelow(Server) }
type aboveBinder interface{ BindAbove(Client) }

// Bind encadeia elementos de cima para baixo: para cada par adjacente
// (upper, lower), upper passa a enviar Request para lower e lower passa a
// enviar Response para upper. Cada elemento precisa expor as metades
// adequadas (ClientSide embutido no upper, ServerSide no lower).
func Bind(elements ...any) error {
	for i := 0; i+1 < len(elements); i++ {
		upper, lower := elements[i], elements[i+1]

		cb, ok := upper.(belowBinder)
		if !ok {
			return fmt.Errorf("comm: element %d (%T) cannot bind downstream", i, upper)
		}
		srv, ok := lower.(Server)
		if !ok {
			return fmt.Errorf("comm: element %d (%T) is not a Server", i+1, lower)
		}
		cb.BindBelow(srv)

		sb, ok := lower.(aboveBinder)
		if !ok {
			return fmt.Errorf("comm: element %d (%T) cannot bind upstream", i+1, lower)
		}
		cli, ok := upper.(Client)
		if !ok {
			return fmt.Errorf("comm: element %d (%T) is not a Client", i, upper)
		}
		sb.BindAbove(cli)
	}
	return nil
}

// --- Registro de elementos por id ---

// O registro permite que elementos criados em pontos distintos do programa
// se encontrem por service id, sem passar referências pela construção.
// Vinculação tardia: RegisterElement na construção, ElementByID no Bind.

var (
	elementsMu sync.Mutex
	elements   = map[string]any{}
)

// RegisterElement registra um elemento sob um service id. Id vazio é um
// no-op. Registrar um id já em uso substitui o anterior.
func RegisterElement(id string, elem any) {
	if id == "" {
		return
	}
	elementsMu.Lock()
	defer elementsMu.Unlock()
	elements[id] = elem
}

// UnregisterElement remove o registro de um id. Idempotente.
func UnregisterElement(id string) {
	if id == "" {
		return
	}
	elementsMu.Lock()
	defer elementsMu.Unlock()
	delete(elements, id)
}

// ElementByID devolve o elemento registrado sob o id, ou nil.
func ElementByID(id string) any {
	elementsMu.Lock()
	defer elementsMu.Unlock()
	return elements[id]
}

// BindByID resolve dois ids no registro e aplica Bind(upper, lower).
func BindByID(upperID, lowerID string) error {
	upper := ElementByID(upperID)
	if upper == nil {
		return fmt.Errorf("comm: no element registered as %q", upperID)
	}
	lower := ElementByID(lowerID)
	if lower == nil {
		return fmt.Errorf("comm: no element registered as %q", lowerID)
	}
	return Bind(upper, lower)
}
