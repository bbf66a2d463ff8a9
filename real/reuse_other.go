//go:build !unix

package real

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
