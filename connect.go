package bufnet

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"bufnet/logging"
	"bufnet/sockets"
)

// Dial starts a non-blocking connect to the resolved address dst, optionally
// binding to src first. dst must be a *net.TCPAddr or *net.UDPAddr; the
// destination type classifies the transport (a prior SetTransport(TLS)
// survives for stream destinations). On success the connection is in its
// connecting state with a write watcher and a one-shot timeout armed; the
// outcome arrives through the event callback as EventConnected,
// EventError, or EventError|EventTimeout.
//
// Synchronous failures are reported twice on purpose: as the returned error
// and as an EventError, so callers listening only for events are not left
// waiting.
func (c *Conn) Dial(src, dst net.Addr, timeout time.Duration) error {
	if c.state != stateIdle {
		return ErrInUse
	}

	var (
		fd  int
		err error
	)
	switch d := dst.(type) {
	case *net.UDPAddr:
		fd, err = sockets.UDPSocket(d)
		c.transport = UDP
	case *net.TCPAddr:
		fd, err = sockets.TCPSocket(d)
		if c.transport != TLS {
			c.transport = TCP
		}
	default:
		return errors.Errorf("bufnet: cannot dial %T", dst)
	}
	if err != nil {
		c.state = stateClosed
		c.emit(EventError)
		return err
	}
	c.fd = fd

	if src != nil {
		// Source binding is best effort, as in classic client dialers:
		// a failed bind still lets the kernel pick the route.
		if err := sockets.Bind(fd, src); err != nil {
			logging.Warnf("bufnet: conn fd=%d: %v", fd, err)
		}
	}

	sa, err := sockets.Sockaddr(dst)
	if err != nil {
		c.teardownDial()
		return err
	}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		c.teardownDial()
		return errors.Wrap(err, "connect")
	}

	w, err := c.reactor.WatchWrite(fd, c.onConnectWritable)
	if err != nil {
		c.teardownDial()
		return err
	}
	c.watcher = w

	t, err := c.reactor.AddTimer(timeout, c.onConnectTimeout)
	if err != nil {
		c.stopWatcher()
		c.teardownDial()
		return err
	}
	c.timer = t

	c.state = stateConnecting
	logging.Debugf("bufnet: conn fd=%d: connecting to %s (timeout %s)", fd, dst, timeout)
	return nil
}

// teardownDial finishes a synchronous connect failure: close the socket,
// report, and leave the connection in its terminal state. No timer exists
// yet on any of these branches, and the watcher is already stopped.
func (c *Conn) teardownDial() {
	c.closeFd()
	c.state = stateClosed
	c.emit(EventError)
}

// AdoptFd wraps an already-connected stream descriptor, e.g. one returned by
// an accept loop. The transport is forced to TCP, the read watcher is armed,
// and EventConnected fires before AdoptFd returns. No timer is involved.
func (c *Conn) AdoptFd(fd int) error {
	if c.state != stateIdle {
		return ErrInUse
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return errors.Wrap(err, "set nonblocking")
	}
	c.fd = fd
	c.transport = TCP

	w, err := c.reactor.WatchRead(fd, c.onReadable)
	if err != nil {
		c.fd = -1
		return err
	}
	c.watcher = w
	c.state = stateConnected
	c.emit(EventConnected)
	return nil
}

// onConnectWritable resolves a pending connect. The timer is stopped before
// anything else happens, so a timeout can never fire after the outcome has
// been reported.
func (c *Conn) onConnectWritable() {
	if c.state != stateConnecting {
		return
	}
	c.stopWatcher()
	c.stopTimer()

	status, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || status != 0 {
		logging.Debugf("bufnet: conn fd=%d: async connect failed (so_error=%d, %v)", c.fd, status, err)
		c.closeFd()
		c.state = stateClosed
		c.emit(EventError)
		return
	}

	w, err := c.reactor.WatchRead(c.fd, c.onReadable)
	if err != nil {
		c.closeFd()
		c.state = stateClosed
		c.emit(EventError)
		return
	}
	c.watcher = w
	c.state = stateConnected
	c.emit(EventConnected)
}

// onConnectTimeout fires only while still connecting; the success path stops
// the timer before reporting, so reaching here means the attempt is dead.
func (c *Conn) onConnectTimeout() {
	c.timer = nil
	if c.state != stateConnecting {
		return
	}
	c.stopWatcher()
	c.closeFd()
	c.state = stateClosed
	c.emit(EventError | EventTimeout)
}
