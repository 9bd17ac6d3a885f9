// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nishisan-dev/bacomm/internal/comm"
)

// WriteFrame escreve um frame de tunnel.
// Formato: [Magic 4B] [Version 1B] [Source] ['\n'] [Destination] ['\n'] [Length u32] [Payload]
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Source) > maxAddressLen || len(f.Destination) > maxAddressLen {
		return ErrAddressTooLong
	}
	if len(f.Payload) > maxPayloadSize {
		return ErrPayloadTooLarge
	}

	if _, err := w.Write(MagicFrame[:]); err != nil {
		return fmt.Errorf("writing frame magic: %w", err)
	}
	if _, err := w.Write([]byte{FrameVersion}); err != nil {
		return fmt.Errorf("writing frame version: %w", err)
	}
	for _, field := range []string{f.Source, f.Destination} {
		if _, err := w.Write([]byte(field)); err != nil {
			return fmt.Errorf("writing frame address: %w", err)
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("writing frame delimiter: %w", err)
		}
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(f.Payload))); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := w.Write(f.Payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// EncodeFrame serializa o frame em memória.
func EncodeFrame(f *Frame) ([]byte, error) {
	buf := make([]byte, 0, 16+len(f.Source)+len(f.Destination)+len(f.Payload))
	w := &appendWriter{buf: buf}
	if err := WriteFrame(w, f); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// EncodePDU encapsula um PDU em um frame serializado, preservando os
// endereços na forma textual.
func EncodePDU(pdu *comm.PDU) ([]byte, error) {
	return EncodeFrame(&Frame{
		Source:      pdu.Source.String(),
		Destination: pdu.Destination.String(),
		Payload:     pdu.Data,
	})
}

// appendWriter acumula escritas em um slice.
type appendWriter struct {
	buf []byte
}

func (w *appendWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}
