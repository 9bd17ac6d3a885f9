// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package codec implementa a serialização opcional de payload usada pelas
// variantes de actor para testes locais de pilha (IPC na mesma máquina).
//
// As variantes serializam pdu.Data no envio e remontam um stream de
// mensagens na recepção. Frames indecifráveis são descartados pelo
// chamador (logados, nunca propagados). Nenhuma dessas variantes deve ser
// alcançável por tráfego de rede externo em produção: a escolha do codec
// é exclusivamente de construção, sem caminho via configuração.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// maxMessageSize limita o tamanho declarado de uma mensagem no stream
// (proteção contra input adversarial no length prefix).
const maxMessageSize = 16 * 1024 * 1024 // 16MB

// Erros do codec.
var (
	ErrMessageTooLarge = errors.New("codec: declared message exceeds limit")
)

// Codec serializa mensagens individuais de forma auto-delimitada.
type Codec interface {
	// Name identifica o codec em logs.
	Name() string
	// Encode transforma um payload em um frame auto-delimitado.
	Encode(msg []byte) ([]byte, error)
	// NewDecoder cria um decoder de stream para a direção de recepção.
	NewDecoder() *Decoder
}

// Decoder remonta mensagens a partir de um stream de bytes com frames
// [len uint32 BE][corpo]. O corpo é decodificado pela função do codec.
//
// Uso: Feed com os bytes recebidos, depois Next em loop até ok=false.
// Um erro de decodificação refere-se a um único frame já consumido do
// buffer; o stream continua utilizável para os frames seguintes. Um
// length acima do limite descarta o buffer inteiro.
type Decoder struct {
	buf    bytes.Buffer
	decode func(body []byte) ([]byte, error)
}

// Feed acrescenta bytes recebidos ao buffer de remontagem.
func (d *Decoder) Feed(p []byte) {
	d.buf.Write(p)
}

// Next extrai a próxima mensagem completa. ok=false quando o buffer não
// contém um frame inteiro. Um erro indica frame corrompido ou oversized:
// o frame é descartado (se delimitável) e o chamador decide logar.
func (d *Decoder) Next() (msg []byte, ok bool, err error) {
	if d.buf.Len() < 4 {
		return nil, false, nil
	}
	header := d.buf.Bytes()[:4]
	length := binary.BigEndian.Uint32(header)
	if length > maxMessageSize {
		// Sem delimitação confiável: descarta o buffer inteiro.
		d.buf.Reset()
		return nil, false, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)
	}
	if d.buf.Len() < 4+int(length) {
		return nil, false, nil
	}
	d.buf.Next(4)
	body := make([]byte, length)
	copy(body, d.buf.Next(int(length)))

	decoded, err := d.decode(body)
	if err != nil {
		return nil, true, err
	}
	return decoded, true, nil
}

// Buffered retorna quantos bytes aguardam remontagem.
func (d *Decoder) Buffered() int {
	return d.buf.Len()
}

// frame prefixa o corpo com o length uint32 big-endian.
func frame(body []byte) []byte {
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out
}
