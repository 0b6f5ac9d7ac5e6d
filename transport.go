package bufnet

import "strings"

// Transport identifies the wire transport a connection speaks. TLS is a
// stream transport like TCP as far as the socket layer is concerned; the
// distinction only changes where outbound bytes go (see Conn.Write).
type Transport int

const (
	UDP Transport = iota
	TCP
	TLS
)

var transportTable = []struct {
	transport Transport
	name      string
}{
	{UDP, "udp"},
	{TCP, "tcp"},
	{TLS, "tls"},
}

// TransportName returns the canonical lower-case name of t, or "unknown".
func TransportName(t Transport) string {
	for _, entry := range transportTable {
		if entry.transport == t {
			return entry.name
		}
	}
	return "unknown"
}

// TransportFromName parses a transport name case-insensitively. Names outside
// the table fall back to TCP: the input is typically user configuration, and
// a connection-oriented default beats silently picking a lossy one.
func TransportFromName(name string) Transport {
	for _, entry := range transportTable {
		if strings.EqualFold(entry.name, name) {
			return entry.transport
		}
	}
	return TCP
}
