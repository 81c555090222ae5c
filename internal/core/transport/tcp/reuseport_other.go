//go:build !unix

package tcp

import "syscall"

var reuseControl func(network, address string, c syscall.RawConn) error
