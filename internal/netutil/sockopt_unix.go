// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build unix

package netutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenControl devolve a função Control para net.ListenConfig aplicando
// SO_REUSEADDR e SO_BROADCAST antes do bind, conforme os flags.
func ListenControl(reuseAddr, broadcast bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var optErr error
		err := c.Control(func(fd uintptr) {
			if reuseAddr {
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
					optErr = e
					return
				}
			}
			if broadcast {
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); e != nil {
					optErr = e
					return
				}
			}
		})
		if err != nil {
			return err
		}
		return optErr
	}
}
