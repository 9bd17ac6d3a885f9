// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ZstdCodec comprime cada payload com zstd dentro do frame delimitado.
// Variante para bancadas de IPC com payloads volumosos; mesma disciplina
// do gob: corpo indecifrável é descartado frame a frame.
type ZstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd cria o codec zstd. Encoder/decoder são reusados entre mensagens
// (EncodeAll/DecodeAll são stateless por chamada).
func NewZstd() (*ZstdCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &ZstdCodec{enc: enc, dec: dec}, nil
}

func (*ZstdCodec) Name() string { return "zstd" }

// Encode comprime o payload e delimita com length prefix.
func (c *ZstdCodec) Encode(msg []byte) ([]byte, error) {
	return frame(c.enc.EncodeAll(msg, nil)), nil
}

// NewDecoder cria o decoder de stream com corpo zstd.
func (c *ZstdCodec) NewDecoder() *Decoder {
	return &Decoder{decode: func(body []byte) ([]byte, error) {
		msg, err := c.dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decoding payload: %w", err)
		}
		return msg, nil
	}}
}
