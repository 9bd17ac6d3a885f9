// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package comm define os tipos fundamentais da pilha de transporte:
// Address, PDU, as interfaces Client/Server das duas direções, e o
// service access point que observa o ciclo de vida dos actors.
package comm

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Address identifica um peer de forma comparável (usável como chave de map).
// Para IP carrega host+porta mais um flag de broadcast. O zero value
// significa "endereço ausente".
type Address struct {
	addrPort  netip.AddrPort
	broadcast bool
}

// ParseAddress interpreta "host:port". O sufixo "*" marca broadcast
// (ex: "192.168.0.255:47808*").
func ParseAddress(s string) (Address, error) {
	broadcast := false
	if strings.HasSuffix(s, "*") {
		broadcast = true
		s = s[:len(s)-1]
	}
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("parsing address %q: %w", s, err)
	}
	return Address{addrPort: ap, broadcast: broadcast}, nil
}

// MustParseAddress é ParseAddress com panic em erro. Uso em testes e defaults.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddressOf converte um netip.AddrPort já resolvido.
func AddressOf(ap netip.AddrPort) Address {
	return Address{addrPort: ap}
}

// BroadcastAddress cria o endereço de broadcast local (255.255.255.255) na porta.
func BroadcastAddress(port uint16) Address {
	return Address{
		addrPort:  netip.AddrPortFrom(netip.AddrFrom4([4]byte{255, 255, 255, 255}), port),
		broadcast: true,
	}
}

// AddrFrom converte um net.Addr de socket (UDPAddr/TCPAddr) em Address.
// Endereços IPv4-mapped são normalizados para IPv4 puro, de modo que o
// mesmo peer sempre produza a mesma chave.
func AddrFrom(addr net.Addr) Address {
	var ip net.IP
	var port int
	switch a := addr.(type) {
	case *net.UDPAddr:
		ip, port = a.IP, a.Port
	case *net.TCPAddr:
		ip, port = a.IP, a.Port
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return Address{}
		}
		return Address{addrPort: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}
	}
	nip, ok := netip.AddrFromSlice(ip)
	if !ok {
		return Address{}
	}
	return Address{addrPort: netip.AddrPortFrom(nip.Unmap(), uint16(port))}
}

// IsValid informa se o endereço foi preenchido.
func (a Address) IsValid() bool { return a.addrPort.IsValid() }

// IsBroadcast informa se o endereço é de broadcast.
func (a Address) IsBroadcast() bool { return a.broadcast }

// AddrPort expõe o host:porta subjacente.
func (a Address) AddrPort() netip.AddrPort { return a.addrPort }

// Port retorna a porta.
func (a Address) Port() uint16 { return a.addrPort.Port() }

// UDPAddr converte para *net.UDPAddr (para sendto).
func (a Address) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(a.addrPort)
}

// TCPAddr converte para *net.TCPAddr.
func (a Address) TCPAddr() *net.TCPAddr {
	return net.TCPAddrFromAddrPort(a.addrPort)
}

// String devolve "host:port", com sufixo "*" quando broadcast.
// O zero value é representado como "".
func (a Address) String() string {
	if !a.IsValid() {
		return ""
	}
	if a.broadcast {
		return a.addrPort.String() + "*"
	}
	return a.addrPort.String()
}

// MarshalText implementa encoding.TextMarshaler (trace JSONL, frames do tunnel).
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implementa encoding.TextUnmarshaler. Texto vazio produz
// o zero value.
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
