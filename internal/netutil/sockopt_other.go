// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build !unix

package netutil

import "syscall"

// ListenControl é um no-op fora de plataformas unix; o bind segue com as
// opções default do sistema.
func ListenControl(reuseAddr, broadcast bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
