// Copyright (c) 2022 Rocky Yang
// Copyright (c) 2020 Andy Pan
// Copyright (c) 2017 Max Riveiro
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

// Package sockets creates and configures client-side socket descriptors and
// converts between net.Addr values and the raw sockaddr forms the kernel
// wants. Every descriptor leaves this package non-blocking and close-on-exec.
package sockets

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Option is used for setting an option on a socket.
type Option struct {
	SetSockOpt func(int, int) error
	Opt        int
}

func SetReuseAddr(fd, v int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, v)
}

func SetReuseport(fd, v int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, v)
}

func SetNoDelay(fd, v int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

// SetRecvBuffer sets the maximum socket receive buffer in bytes.
func SetRecvBuffer(fd, size int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size)
}

// SetSendBuffer sets the maximum socket send buffer in bytes.
func SetSendBuffer(fd, size int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, size)
}

// TCPSocket opens a stream socket suitable for dialing dst.
func TCPSocket(dst *net.TCPAddr, sockOpts ...Option) (int, error) {
	return newSocket(unix.SOCK_STREAM, dst.IP, sockOpts)
}

// UDPSocket opens a datagram socket suitable for dialing dst.
func UDPSocket(dst *net.UDPAddr, sockOpts ...Option) (int, error) {
	return newSocket(unix.SOCK_DGRAM, dst.IP, sockOpts)
}

func newSocket(sotype int, ip net.IP, sockOpts []Option) (int, error) {
	family := unix.AF_INET
	if ip.To4() == nil && ip.To16() != nil {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, sotype, 0)
	if err != nil {
		return -1, errors.Wrap(err, "create socket")
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "set nonblocking")
	}
	unix.CloseOnExec(fd)
	for _, opt := range sockOpts {
		if err = opt.SetSockOpt(fd, opt.Opt); err != nil {
			unix.Close(fd)
			return -1, errors.Wrap(err, "apply socket option")
		}
	}
	return fd, nil
}

// Sockaddr converts a resolved TCP or UDP address into the kernel form.
func Sockaddr(addr net.Addr) (unix.Sockaddr, error) {
	var ip net.IP
	var port int
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip, port = a.IP, a.Port
	case *net.UDPAddr:
		ip, port = a.IP, a.Port
	default:
		return nil, errors.Errorf("unsupported address type %T", addr)
	}
	if v4 := ip.To4(); v4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], v4)
		return sa, nil
	}
	if v16 := ip.To16(); v16 != nil {
		sa := &unix.SockaddrInet6{Port: port}
		copy(sa.Addr[:], v16)
		return sa, nil
	}
	return nil, errors.Errorf("address %v carries no IP", addr)
}

// Bind binds fd to the given local address.
func Bind(fd int, addr net.Addr) error {
	sa, err := Sockaddr(addr)
	if err != nil {
		return err
	}
	return errors.Wrap(unix.Bind(fd, sa), "bind")
}
