// Package bufnet is a transport-agnostic, event-driven client connection
// layer. A Conn turns a raw socket descriptor plus a Reactor into a buffered,
// observable byte stream: it dials with a bounded connect timeout, drains
// readable sockets into an inbound queue, flushes outbound bytes without
// blocking the loop, and reports lifecycle changes through callbacks.
// Higher-level protocol code never touches the socket itself.
package bufnet

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"bufnet/logging"
	"bufnet/queue"
	"bufnet/sockets"
)

// Event is a bit-flag set describing what happened to a connection.
type Event uint8

const (
	EventConnected Event = 1 << iota
	EventEOF
	EventError
	// EventTimeout qualifies EventError when a connect attempt ran out of
	// time; it never appears alone.
	EventTimeout
)

func (e Event) String() string {
	var parts []string
	if e&EventConnected != 0 {
		parts = append(parts, "connected")
	}
	if e&EventEOF != 0 {
		parts = append(parts, "eof")
	}
	if e&EventError != 0 {
		parts = append(parts, "error")
	}
	if e&EventTimeout != 0 {
		parts = append(parts, "timeout")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// DataFunc observes data flow on a connection: as the read callback it runs
// once per successful socket read, as the write callback it runs when the
// outbound queue fully drains. State a callback needs is captured in its
// closure.
type DataFunc func(*Conn)

// EventFunc observes lifecycle changes.
type EventFunc func(*Conn, Event)

var (
	ErrInUse        = errors.New("bufnet: connection already in use")
	ErrNotConnected = errors.New("bufnet: not connected")
)

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
	stateClosed
)

// Conn is a single outbound connection. It owns its descriptor, both byte
// queues, and its reactor registrations exclusively.
//
// A Conn is not locked internally: every method must run on the reactor's
// loop goroutine (or under equivalent external serialization), the same
// single-threaded ownership model the reactor itself assumes.
type Conn struct {
	reactor   Reactor
	fd        int
	transport Transport
	state     connState

	rxq *queue.Queue
	txq *queue.Queue

	readCb  DataFunc
	writeCb DataFunc
	eventCb EventFunc

	// watcher is the state machine's single readiness registration:
	// write interest while connecting, read interest once connected.
	// txWatcher is write interest while outbound bytes are pending and
	// exists only on the connected TCP path.
	watcher   Watcher
	txWatcher Watcher
	timer     Timer
}

// New creates a Conn bound to r with both queues allocated.
func New(r Reactor) (*Conn, error) {
	if r == nil {
		return nil, errors.New("bufnet: nil reactor")
	}
	return &Conn{
		reactor:   r,
		fd:        -1,
		transport: TCP,
		rxq:       queue.New(),
		txq:       queue.New(),
	}, nil
}

// SetCallbacks installs the read, write and event callbacks. Any of them may
// be nil. Call before Dial or AdoptFd.
func (c *Conn) SetCallbacks(read, write DataFunc, event EventFunc) {
	c.readCb = read
	c.writeCb = write
	c.eventCb = event
}

// SetTransport overrides the transport classification. Its one real use is
// marking a connection TLS before Dial so that Write queues cleartext for a
// record-layer collaborator instead of hitting the socket.
func (c *Conn) SetTransport(t Transport) {
	c.transport = t
}

// Transport reports the connection's transport.
func (c *Conn) Transport() Transport {
	return c.transport
}

// Fd returns the underlying descriptor, or -1 when no socket is open.
func (c *Conn) Fd() int {
	return c.fd
}

// RxQueue exposes the inbound queue to collaborators such as a TLS record
// layer. Ordinary consumers should use Read, Peek and BytesAvailable.
func (c *Conn) RxQueue() *queue.Queue {
	return c.rxq
}

// TxQueue exposes the outbound queue. A TLS collaborator drains it, encrypts,
// and transmits; the core never does that itself.
func (c *Conn) TxQueue() *queue.Queue {
	return c.txq
}

// LocalAddr reports the socket's local host and port.
func (c *Conn) LocalAddr() (string, uint16, error) {
	if c.fd < 0 {
		return "", 0, ErrNotConnected
	}
	return sockets.LocalAddr(c.fd)
}

// PeerAddr reports the socket's remote host and port.
func (c *Conn) PeerAddr() (string, uint16, error) {
	if c.fd < 0 {
		return "", 0, ErrNotConnected
	}
	return sockets.PeerAddr(c.fd)
}

// Free tears the connection down: watchers and timer are deregistered before
// it returns, the descriptor is closed, and both queues hand their storage
// back. Free is idempotent and safe on a nil Conn, but not against
// concurrent use from another goroutine.
func (c *Conn) Free() {
	if c == nil {
		return
	}
	c.stopWatcher()
	c.stopTxWatcher()
	c.stopTimer()
	c.closeFd()
	c.rxq.Release()
	c.txq.Release()
	c.state = stateClosed
}

func (c *Conn) emit(ev Event) {
	logging.Debugf("bufnet: conn fd=%d %s: event %s", c.fd, TransportName(c.transport), ev)
	if c.eventCb != nil {
		c.eventCb(c, ev)
	}
}

func (c *Conn) stopWatcher() {
	if c.watcher != nil {
		w := c.watcher
		c.watcher = nil
		w.Stop()
	}
}

func (c *Conn) stopTxWatcher() {
	if c.txWatcher != nil {
		w := c.txWatcher
		c.txWatcher = nil
		w.Stop()
	}
}

func (c *Conn) stopTimer() {
	if c.timer != nil {
		t := c.timer
		c.timer = nil
		t.Stop()
	}
}

func (c *Conn) closeFd() {
	if c.fd >= 0 {
		unix.Close(c.fd)
		c.fd = -1
	}
}

func (c *Conn) String() string {
	return fmt.Sprintf("bufnet.Conn(fd=%d, transport=%s)", c.fd, TransportName(c.transport))
}
