package bufnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportFromName(t *testing.T) {
	assert.Equal(t, TLS, TransportFromName("TLS"))
	assert.Equal(t, TCP, TransportFromName("Tcp"))
	assert.Equal(t, UDP, TransportFromName("udp"))

	// anything outside the table falls back to the stream default
	assert.Equal(t, TCP, TransportFromName("sctp"))
	assert.Equal(t, TCP, TransportFromName(""))
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "udp", TransportName(UDP))
	assert.Equal(t, "tcp", TransportName(TCP))
	assert.Equal(t, "tls", TransportName(TLS))
	assert.Equal(t, "unknown", TransportName(Transport(42)))
}

func TestTransportRoundTrip(t *testing.T) {
	for _, tr := range []Transport{UDP, TCP, TLS} {
		assert.Equal(t, tr, TransportFromName(TransportName(tr)))
	}
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "none", Event(0).String())
	assert.Equal(t, "connected", EventConnected.String())
	assert.Equal(t, "error|timeout", (EventError | EventTimeout).String())
}
