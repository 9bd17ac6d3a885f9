// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package netutil

import (
	"context"
	"testing"
	"time"
)

func TestPacer_NilIsUnlimited(t *testing.T) {
	var p *Pacer
	if err := p.Throttle(context.Background(), 1<<20); err != nil {
		t.Fatalf("nil Throttle: %v", err)
	}
	if !p.Allow(1 << 20) {
		t.Fatal("nil Allow should always pass")
	}
	if p.Waits() != 0 {
		t.Fatal("nil Waits should be zero")
	}

	if NewPacer(0) != nil || NewPacer(-1) != nil {
		t.Fatal("NewPacer without limit should return nil")
	}
}

func TestPacer_AllowDrainsBudget(t *testing.T) {
	// Rate baixo com burst no piso: o primeiro datagrama máximo passa,
	// o segundo encontra o orçamento vazio.
	p := NewPacer(1000)

	if !p.Allow(minPacerBurst) {
		t.Fatal("first full-burst datagram should pass")
	}
	if p.Allow(minPacerBurst) {
		t.Fatal("second full-burst datagram should be dropped")
	}
}

func TestPacer_ThrottleChunksLargeWrites(t *testing.T) {
	// Rate alto: uma escrita maior que o burst completa rápido, fatiada.
	p := NewPacer(1 << 30)

	done := make(chan error, 1)
	go func() { done <- p.Throttle(context.Background(), 1<<20) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Throttle: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("large write never completed")
	}
}

func TestPacer_ThrottleHonorsActorClose(t *testing.T) {
	// Orçamento esgotado: a espera é interrompida pelo cancel do actor.
	p := NewPacer(1000)
	if !p.Allow(minPacerBurst) {
		t.Fatal("priming Allow failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Throttle(ctx, minPacerBurst) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Throttle returned nil after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Throttle did not observe the cancel")
	}

	if p.Waits() == 0 {
		t.Fatal("blocked Throttle was not counted in Waits")
	}
}
