//go:build linux
// +build linux

package bufnet

import (
	"container/heap"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"bufnet/logging"
)

// Poller is the in-tree Reactor: an epoll instance owned by a single loop
// goroutine. Read and write interest for one descriptor share an epoll
// registration; an eventfd wakes the loop for Submit and Close; one-shot
// timers sit in a min-heap that drives the wait timeout.
//
// Only Submit and Close may be called from outside the loop goroutine.
type Poller struct {
	epfd   int
	wakeFd int
	fds    map[int]*pollDesc
	timers timerHeap

	mu      sync.Mutex
	pending []func()

	closed bool
}

type pollDesc struct {
	fd         int
	registered bool
	readFn     func()
	writeFn    func()
}

// NewPoller creates a ready-to-run Poller.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, errors.Wrap(err, "eventfd")
	}
	p := &Poller{epfd: epfd, wakeFd: wakeFd, fds: make(map[int]*pollDesc)}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, errors.Wrap(err, "register wakeup fd")
	}
	return p, nil
}

// WatchRead implements Reactor.
func (p *Poller) WatchRead(fd int, fn func()) (Watcher, error) {
	return p.watch(fd, fn, false)
}

// WatchWrite implements Reactor.
func (p *Poller) WatchWrite(fd int, fn func()) (Watcher, error) {
	return p.watch(fd, fn, true)
}

func (p *Poller) watch(fd int, fn func(), write bool) (Watcher, error) {
	if fn == nil {
		return nil, errors.New("bufnet: nil watcher callback")
	}
	d := p.fds[fd]
	if d == nil {
		d = &pollDesc{fd: fd}
		p.fds[fd] = d
	}
	if write {
		d.writeFn = fn
	} else {
		d.readFn = fn
	}
	if err := p.update(d); err != nil {
		if write {
			d.writeFn = nil
		} else {
			d.readFn = nil
		}
		if d.readFn == nil && d.writeFn == nil && !d.registered {
			delete(p.fds, fd)
		}
		return nil, err
	}
	return &fdWatcher{p: p, d: d, write: write}, nil
}

// update reconciles the kernel registration with the callbacks currently
// installed on d.
func (p *Poller) update(d *pollDesc) error {
	var events uint32
	if d.readFn != nil {
		events |= unix.EPOLLIN
	}
	if d.writeFn != nil {
		events |= unix.EPOLLOUT
	}
	if events == 0 {
		delete(p.fds, d.fd)
		if !d.registered {
			return nil
		}
		d.registered = false
		err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, d.fd, nil)
		if err == unix.ENOENT || err == unix.EBADF {
			// fd already closed out from under us, nothing to unhook
			return nil
		}
		return errors.Wrap(err, "epoll_ctl del")
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(d.fd)}
	if !d.registered {
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, d.fd, &ev); err != nil {
			return errors.Wrap(err, "epoll_ctl add")
		}
		d.registered = true
		return nil
	}
	return errors.Wrap(unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, d.fd, &ev), "epoll_ctl mod")
}

type fdWatcher struct {
	p       *Poller
	d       *pollDesc
	write   bool
	stopped bool
}

func (w *fdWatcher) Stop() {
	if w.stopped {
		return
	}
	w.stopped = true
	if w.write {
		w.d.writeFn = nil
	} else {
		w.d.readFn = nil
	}
	if err := w.p.update(w.d); err != nil {
		logging.Warnf("bufnet: poller: stop watcher fd=%d: %v", w.d.fd, err)
	}
}

// AddTimer implements Reactor.
func (p *Poller) AddTimer(d time.Duration, fn func()) (Timer, error) {
	if fn == nil {
		return nil, errors.New("bufnet: nil timer callback")
	}
	t := &pollTimer{deadline: time.Now().Add(d), fn: fn}
	heap.Push(&p.timers, t)
	return t, nil
}

// Submit queues fn to run on the loop goroutine and wakes the loop. It is
// safe to call from any goroutine.
func (p *Poller) Submit(fn func()) {
	p.mu.Lock()
	p.pending = append(p.pending, fn)
	p.mu.Unlock()
	p.wake()
}

// Close asks the loop to shut down. Run returns after already-queued work
// finishes; descriptors registered by connections stay open and remain
// their owners' to close.
func (p *Poller) Close() {
	p.Submit(func() { p.closed = true })
}

func (p *Poller) wake() {
	var one [8]byte
	one[0] = 1
	if _, err := unix.Write(p.wakeFd, one[:]); err != nil && err != unix.EAGAIN {
		logging.Warnf("bufnet: poller: wakeup: %v", err)
	}
}

// Run dispatches readiness events, submitted work, and timers until Close.
// Writability runs before readability for a descriptor reporting both, so a
// completing connect is resolved before any inbound data is drained.
func (p *Poller) Run() error {
	events := make([]unix.EpollEvent, 128)
	for {
		n, err := unix.EpollWait(p.epfd, events, p.nextTimeout())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "epoll_wait")
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)
			if fd == p.wakeFd {
				p.drainWake()
				p.runPending()
				continue
			}
			d := p.fds[fd]
			if d == nil {
				continue
			}
			// EPOLLERR/EPOLLHUP surface through whichever callback is
			// armed; a failed connect arrives this way.
			if d.writeFn != nil && ev.Events&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				d.writeFn()
			}
			if p.fds[fd] == d && d.readFn != nil &&
				ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				d.readFn()
			}
		}
		p.fireTimers()
		if p.closed {
			unix.Close(p.wakeFd)
			unix.Close(p.epfd)
			return nil
		}
	}
}

func (p *Poller) drainWake() {
	var buf [8]byte
	unix.Read(p.wakeFd, buf[:])
}

func (p *Poller) runPending() {
	p.mu.Lock()
	fns := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// nextTimeout converts the nearest live deadline into an epoll_wait timeout,
// discarding stopped timers as it goes.
func (p *Poller) nextTimeout() int {
	for p.timers.Len() > 0 {
		t := p.timers[0]
		if t.stopped {
			heap.Pop(&p.timers)
			continue
		}
		d := time.Until(t.deadline)
		if d <= 0 {
			return 0
		}
		ms := int(d / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
		return ms
	}
	return -1
}

func (p *Poller) fireTimers() {
	now := time.Now()
	for p.timers.Len() > 0 {
		t := p.timers[0]
		if t.stopped {
			heap.Pop(&p.timers)
			continue
		}
		if t.deadline.After(now) {
			return
		}
		heap.Pop(&p.timers)
		if t.fn != nil {
			t.fn()
		}
	}
}

type pollTimer struct {
	deadline time.Time
	fn       func()
	stopped  bool
	index    int
}

func (t *pollTimer) Stop() {
	t.stopped = true
	t.fn = nil
}

type timerHeap []*pollTimer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*pollTimer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	t.index = -1
	return t
}
