// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package comm

// Actor é a visão mínima de um actor de transporte exposta aos observers:
// a identidade do peer. Os tipos concretos vivem nos pacotes udp/tcp.
type Actor interface {
	Peer() Address
}

// ActorObserver recebe as notificações de ciclo de vida emitidas por um
// director. As três chamadas são síncronas com a transição que as gerou e
// executam no domínio de serialização do transporte — o observer não deve
// bloquear nem chamar de volta operações síncronas do mesmo director.
type ActorObserver interface {
	AddActor(actor Actor)
	DelActor(actor Actor)
	ActorError(actor Actor, err error)
}

// ServiceAccessPoint é a metade embutível que um director usa para
// notificar seu observer opcional. Todas as notificações são nil-safe.
type ServiceAccessPoint struct {
	observer ActorObserver
}

// SetObserver define (ou remove, com nil) o observer de ciclo de vida.
func (s *ServiceAccessPoint) SetObserver(o ActorObserver) { s.observer = o }

// Observer retorna o observer atual (nil se ausente).
func (s *ServiceAccessPoint) Observer() ActorObserver { return s.observer }

// NotifyAdd informa a criação de um actor.
func (s *ServiceAccessPoint) NotifyAdd(actor Actor) {
	if s.observer != nil {
		s.observer.AddActor(actor)
	}
}

// NotifyDel informa a remoção de um actor.
func (s *ServiceAccessPoint) NotifyDel(actor Actor) {
	if s.observer != nil {
		s.observer.DelActor(actor)
	}
}

// NotifyError informa um erro associado a um actor.
func (s *ServiceAccessPoint) NotifyError(actor Actor, err error) {
	if s.observer != nil {
		s.observer.ActorError(actor, err)
	}
}

// ObserverFuncs adapta três closures em um ActorObserver. Campos nil são
// ignorados. Conveniente em testes e nos daemons.
type ObserverFuncs struct {
	OnAdd   func(Actor)
	OnDel   func(Actor)
	OnError func(Actor, error)
}

func (o ObserverFuncs) AddActor(a Actor) {
	if o.OnAdd != nil {
		o.OnAdd(a)
	}
}

func (o ObserverFuncs) DelActor(a Actor) {
	if o.OnDel != nil {
		o.OnDel(a)
	}
}

func (o ObserverFuncs) ActorError(a Actor, err error) {
	if o.OnError != nil {
		o.OnError(a, err)
	}
}
