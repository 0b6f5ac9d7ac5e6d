//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package sockets

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// LocalAddr reports the textual host and port of fd's local endpoint.
func LocalAddr(fd int) (string, uint16, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", 0, errors.Wrap(err, "getsockname")
	}
	return hostPort(sa)
}

// PeerAddr reports the textual host and port of fd's remote endpoint. It
// fails when fd is not connected.
func PeerAddr(fd int) (string, uint16, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "", 0, errors.Wrap(err, "getpeername")
	}
	return hostPort(sa)
}

// hostPort matches exhaustively over the address families a connection can
// carry; anything else is a caller error, not something to alias through.
func hostPort(sa unix.Sockaddr) (string, uint16, error) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String(), uint16(a.Port), nil
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String(), uint16(a.Port), nil
	default:
		return "", 0, errors.Errorf("unsupported address family %T", sa)
	}
}
