package bufnet

import (
	"github.com/panjf2000/gnet/v2/pkg/pool/byteslice"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"bufnet/logging"
)

// readChunk bounds a single socket read during a drain cycle.
const readChunk = 4096

// onReadable drains the socket until it would block, appending each read to
// the inbound queue and firing the read callback once per read. A cycle that
// produces no bytes means the peer closed or the socket died: the read
// watcher comes off and EventEOF fires exactly once.
func (c *Conn) onReadable() {
	buf := byteslice.Get(readChunk)
	defer byteslice.Put(buf)

	total := 0
	for {
		n, err := unix.Read(c.fd, buf)
		if n > 0 {
			total += n
			c.rxq.Add(buf[:n])
			if c.readCb != nil {
				c.readCb(c)
			}
			continue
		}
		if err != nil && err != unix.EAGAIN {
			logging.Debugf("bufnet: conn fd=%d: read: %v", c.fd, err)
		}
		break
	}

	if total <= 0 {
		c.stopWatcher()
		c.state = stateClosed
		c.emit(EventEOF)
	}
}

// Write hands bytes to the connection. What that means depends on the
// transport:
//
//   - UDP: one best-effort datagram send, no queueing, no retry.
//   - TCP: p is queued and flushed opportunistically; whatever the kernel
//     does not take now goes out on later writability, so Write never spins
//     and never blocks the loop. The return value is bytes accepted into
//     the queue; OutboundBuffered exposes the backpressure.
//   - TLS: p is queued for the record-layer collaborator, nothing else.
func (c *Conn) Write(p []byte) (int, error) {
	switch c.transport {
	case UDP:
		if c.fd < 0 {
			return 0, ErrNotConnected
		}
		n, err := unix.Write(c.fd, p)
		if err != nil {
			return 0, errors.Wrap(err, "send")
		}
		return n, nil

	case TLS:
		return c.txq.Add(p), nil

	default: // TCP
		if c.state != stateConnected {
			return 0, ErrNotConnected
		}
		c.txq.Add(p)
		if err := c.flush(); err != nil {
			return 0, err
		}
		return len(p), nil
	}
}

// OutboundBuffered reports queued-but-unsent outbound bytes.
func (c *Conn) OutboundBuffered() int {
	return c.txq.Len()
}

// BytesAvailable reports buffered inbound bytes.
func (c *Conn) BytesAvailable() int {
	return c.rxq.Len()
}

// Peek copies up to len(p) buffered inbound bytes without consuming them.
func (c *Conn) Peek(p []byte) int {
	return c.rxq.Copy(p)
}

// Read consumes up to len(p) buffered inbound bytes.
func (c *Conn) Read(p []byte) int {
	return c.rxq.Remove(p)
}

// flush pushes queued outbound bytes at the socket until the queue empties
// or the kernel pushes back. On would-block the remainder waits for the
// write watcher; on a hard error the connection is done. An emptied queue
// fires the write callback.
func (c *Conn) flush() error {
	buf := byteslice.Get(readChunk)
	defer byteslice.Put(buf)

	for c.txq.Len() > 0 {
		n := c.txq.Copy(buf)
		sent, err := unix.Write(c.fd, buf[:n])
		if sent > 0 {
			c.txq.Discard(sent)
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return c.armTxWatcher()
			}
			logging.Debugf("bufnet: conn fd=%d: write: %v", c.fd, err)
			c.stopTxWatcher()
			c.stopWatcher()
			c.state = stateClosed
			c.emit(EventError)
			return errors.Wrap(err, "send")
		}
	}

	c.stopTxWatcher()
	if c.writeCb != nil {
		c.writeCb(c)
	}
	return nil
}

func (c *Conn) armTxWatcher() error {
	if c.txWatcher != nil {
		return nil
	}
	w, err := c.reactor.WatchWrite(c.fd, c.onFlushWritable)
	if err != nil {
		return err
	}
	c.txWatcher = w
	return nil
}

func (c *Conn) onFlushWritable() {
	if c.state != stateConnected {
		return
	}
	_ = c.flush()
}
