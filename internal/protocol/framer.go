// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/nishisan-dev/bacomm/internal/stream"
)

// Framer devolve a função de framing do tunnel para o StreamToPacket:
// reconhece um frame completo no início do buffer e o devolve inteiro
// (cabeçalho incluído), com o excedente como remainder.
//
// Bytes que não começam com o magic são lixo de sincronização: saem como
// um "frame" que o DecodeFrame do consumidor rejeita, realinhando o
// stream no próximo magic sem quebrar o contrato de consumo do framer.
func Framer() stream.Framer {
	return frameSplit
}

func frameSplit(buf []byte) (frame, rest []byte, ok bool) {
	idx := bytes.Index(buf, MagicFrame[:])
	switch {
	case idx > 0:
		// Lixo antes do magic: emite o prefixo para descarte.
		return buf[:idx], buf[idx:], true
	case idx < 0:
		// Nenhum magic à vista. Retém só um sufixo que ainda possa ser
		// começo de magic parcial; o resto sai como lixo.
		if len(buf) > len(MagicFrame)-1 {
			cut := len(buf) - (len(MagicFrame) - 1)
			return buf[:cut], buf[cut:], true
		}
		return nil, nil, false
	}

	n, complete := frameLen(buf)
	if !complete {
		return nil, nil, false
	}
	return buf[:n], buf[n:], true
}

// frameLen calcula o tamanho total do frame no início do buffer.
// complete=false quando ainda faltam bytes.
func frameLen(buf []byte) (int, bool) {
	// Magic + version.
	if len(buf) < 5 {
		return 0, false
	}
	pos := 5

	// Dois campos de endereço terminados em '\n'.
	for i := 0; i < 2; i++ {
		idx := bytes.IndexByte(buf[pos:], '\n')
		if idx < 0 {
			return 0, false
		}
		pos += idx + 1
	}

	// Length + payload.
	if len(buf) < pos+4 {
		return 0, false
	}
	length := binary.BigEndian.Uint32(buf[pos:])
	if length > maxPayloadSize {
		// Frame inválido: deixa o DecodeFrame do consumidor reportar.
		length = 0
	}
	pos += 4 + int(length)
	if len(buf) < pos {
		return 0, false
	}
	return pos, true
}
