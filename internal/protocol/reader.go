// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/nishisan-dev/bacomm/internal/comm"
)

// DecodeFrame interpreta um frame completo serializado (como os emitidos
// pelo Framer). O slice deve conter exatamente um frame.
func DecodeFrame(data []byte) (*Frame, error) {
	rest, err := parseFrame(data)
	if err != nil {
		return nil, err
	}
	return rest, nil
}

// DecodePDU desfaz o encapsulamento de um frame em um PDU, restaurando
// os endereços originais.
func DecodePDU(data []byte) (*comm.PDU, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, err
	}

	pdu := &comm.PDU{Data: f.Payload}
	if err := pdu.Source.UnmarshalText([]byte(f.Source)); err != nil {
		return nil, fmt.Errorf("parsing frame source: %w", err)
	}
	if err := pdu.Destination.UnmarshalText([]byte(f.Destination)); err != nil {
		return nil, fmt.Errorf("parsing frame destination: %w", err)
	}
	return pdu, nil
}

// parseFrame valida e extrai os campos de um frame completo.
func parseFrame(data []byte) (*Frame, error) {
	if len(data) < 5 {
		return nil, ErrTruncatedFrame
	}
	if !bytes.Equal(data[:4], MagicFrame[:]) {
		return nil, ErrInvalidMagic
	}
	if data[4] != FrameVersion {
		return nil, ErrInvalidVersion
	}
	rest := data[5:]

	src, rest, err := takeLine(rest)
	if err != nil {
		return nil, err
	}
	dst, rest, err := takeLine(rest)
	if err != nil {
		return nil, err
	}

	if len(rest) < 4 {
		return nil, ErrTruncatedFrame
	}
	length := binary.BigEndian.Uint32(rest)
	if length > maxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	rest = rest[4:]
	if len(rest) < int(length) {
		return nil, ErrTruncatedFrame
	}

	payload := make([]byte, length)
	copy(payload, rest[:length])
	return &Frame{Source: src, Destination: dst, Payload: payload}, nil
}

// takeLine consome um campo terminado em '\n', limitado a maxAddressLen.
func takeLine(data []byte) (string, []byte, error) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		if len(data) > maxAddressLen {
			return "", nil, ErrAddressTooLong
		}
		return "", nil, ErrTruncatedFrame
	}
	if idx > maxAddressLen {
		return "", nil, ErrAddressTooLong
	}
	return string(data[:idx]), data[idx+1:], nil
}
