// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// GobCodec serializa cada payload como um valor gob independente dentro
// do frame delimitado. Equivale à variante de object stream do transporte
// original: cada mensagem é autossuficiente e um corpo malformado é
// descartado sem afetar as mensagens seguintes.
type GobCodec struct{}

// NewGob cria o codec gob.
func NewGob() *GobCodec { return &GobCodec{} }

func (*GobCodec) Name() string { return "gob" }

// Encode serializa o payload via gob e delimita com length prefix.
func (*GobCodec) Encode(msg []byte) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(msg); err != nil {
		return nil, fmt.Errorf("gob encoding payload: %w", err)
	}
	return frame(body.Bytes()), nil
}

// NewDecoder cria o decoder de stream com corpo gob.
func (*GobCodec) NewDecoder() *Decoder {
	return &Decoder{decode: gobDecodeBody}
}

func gobDecodeBody(body []byte) ([]byte, error) {
	var msg []byte
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&msg); err != nil {
		return nil, fmt.Errorf("gob decoding payload: %w", err)
	}
	return msg, nil
}
