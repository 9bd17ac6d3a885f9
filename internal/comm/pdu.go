// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package comm

// PDU é o envelope trocado entre as camadas da pilha: payload bruto mais
// endereços de origem/destino e um campo opaco de user data que atravessa
// as camadas sem interpretação.
//
// O payload nunca é reescrito por adaptadores de camada; quem precisa
// trocar endereços produz um novo PDU compartilhando Data (WithSource /
// WithDestination).
type PDU struct {
	Data        []byte
	Source      Address
	Destination Address
	UserData    any
}

// NewPDU cria um PDU apenas com payload. Endereços são preenchidos pelo
// produtor ou pelos actors da camada de transporte.
func NewPDU(data []byte) *PDU {
	return &PDU{Data: data}
}

// WithSource retorna uma cópia rasa com a origem substituída.
// O payload é compartilhado.
func (p *PDU) WithSource(src Address) *PDU {
	q := *p
	q.Source = src
	return &q
}

// WithDestination retorna uma cópia rasa com o destino substituído.
// O payload é compartilhado.
func (p *PDU) WithDestination(dst Address) *PDU {
	q := *p
	q.Destination = dst
	return &q
}

// WithData retorna uma cópia rasa com o payload substituído, preservando
// endereços e user data. Usado por codecs e pelo StreamToPacket.
func (p *PDU) WithData(data []byte) *PDU {
	q := *p
	q.Data = data
	return &q
}
