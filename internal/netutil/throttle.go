// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package netutil agrupa utilitários de socket compartilhados pelos
// transportes: opções de socket, o pacer de saída e a classificação de
// erros de rede.
package netutil

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limites do burst do token bucket: o piso comporta um datagrama UDP
// máximo (Allow nunca falharia para sempre), o teto segura a rajada
// instantânea dos writers TCP.
const (
	minPacerBurst = 64 * 1024
	maxPacerBurst = 256 * 1024
)

// Pacer limita a vazão de saída de um director inteiro. É compartilhado
// por todos os actors: o limite configura a soma das conexões, não cada
// uma isoladamente. Duas disciplinas convivem sobre o mesmo orçamento:
//
//   - Throttle: os writers de actor TCP esperam tokens antes de cada
//     escrita; o ctx do actor interrompe a espera no close.
//   - Allow: o caminho de datagramas decide descartar sem nunca
//     bloquear o loop do director.
//
// O zero útil é o nil: NewPacer devolve nil sem limite configurado e
// todos os métodos são nil-safe.
type Pacer struct {
	limiter *rate.Limiter

	// waits conta chamadas de Throttle que encontraram o orçamento
	// esgotado e precisaram esperar. Exposto nas métricas dos directors.
	waits atomic.Int64
}

// NewPacer cria o pacer para bytesPerSec. bytesPerSec <= 0 desabilita
// (retorna nil).
func NewPacer(bytesPerSec int64) *Pacer {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst < minPacerBurst {
		burst = minPacerBurst
	}
	if burst > maxPacerBurst {
		burst = maxPacerBurst
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// Throttle bloqueia até haver orçamento para n bytes, fatiando pedidos
// maiores que o burst. Devolve o erro do ctx quando o actor fecha no
// meio da espera — o writer encerra sem tratar como falha de socket.
func (p *Pacer) Throttle(ctx context.Context, n int) error {
	if p == nil {
		return nil
	}

	if p.limiter.Tokens() < float64(n) {
		p.waits.Add(1)
	}

	for n > 0 {
		chunk := n
		if chunk > p.limiter.Burst() {
			chunk = p.limiter.Burst()
		}
		if err := p.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Allow consome o orçamento de n bytes se disponível imediatamente;
// false manda o chamador descartar o datagrama.
func (p *Pacer) Allow(n int) bool {
	if p == nil {
		return true
	}
	return p.limiter.AllowN(time.Now(), n)
}

// Waits devolve quantas escritas foram atrasadas pelo pacer.
func (p *Pacer) Waits() int64 {
	if p == nil {
		return 0
	}
	return p.waits.Load()
}
