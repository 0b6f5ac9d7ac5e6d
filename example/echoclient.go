// Command echoclient dials a TCP echo service, sends one line, and prints
// whatever comes back, using a Poller-driven bufnet connection end to end.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"bufnet"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: echoclient host:port")
		os.Exit(2)
	}
	dst, err := net.ResolveTCPAddr("tcp", os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve:", err)
		os.Exit(1)
	}

	poller, err := bufnet.NewPoller()
	if err != nil {
		fmt.Fprintln(os.Stderr, "poller:", err)
		os.Exit(1)
	}

	done := make(chan struct{})

	poller.Submit(func() {
		conn, err := bufnet.New(poller)
		if err != nil {
			fmt.Fprintln(os.Stderr, "conn:", err)
			close(done)
			return
		}
		conn.SetCallbacks(
			func(c *bufnet.Conn) {
				buf := make([]byte, c.BytesAvailable())
				n := c.Read(buf)
				fmt.Printf("recv %d bytes: %q\n", n, buf[:n])
				c.Free()
				close(done)
			},
			nil,
			func(c *bufnet.Conn, ev bufnet.Event) {
				switch {
				case ev&bufnet.EventConnected != 0:
					host, port, _ := c.PeerAddr()
					fmt.Printf("connected to %s:%d\n", host, port)
					c.Write([]byte("hello, bufnet\n"))
				default:
					fmt.Println("event:", ev)
					c.Free()
					close(done)
				}
			},
		)
		if err := conn.Dial(nil, dst, 5*time.Second); err != nil {
			fmt.Fprintln(os.Stderr, "dial:", err)
			close(done)
		}
	})

	go poller.Run() //nolint:errcheck

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		fmt.Fprintln(os.Stderr, "timed out")
	}
	poller.Close()
}
