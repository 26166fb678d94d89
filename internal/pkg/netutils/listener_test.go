package netutils

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpd-go/bgpd/pkg/log"
)

func TestTCPListenerAccept(t *testing.T) {
	assert := assert.New(t)
	connCh := make(chan net.Conn, 1)
	l, err := NewTCPListener(log.NewTestLogger(), "127.0.0.1", 0, connCh)
	require.NoError(t, err)
	defer l.Close()

	c, err := net.Dial("tcp4", l.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	select {
	case conn := <-connCh:
		assert.Equal(netip.MustParseAddr("127.0.0.1"), RemoteAddr(conn))
		assert.Equal(netip.MustParseAddr("127.0.0.1"), LocalAddr(conn))
		assert.Equal(1, l.Accepted())
		conn.Close()
		assert.Equal(0, l.Accepted())
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
	}
}

func TestRemoteAddrUnmaps(t *testing.T) {
	a := &net.TCPAddr{IP: net.ParseIP("::ffff:192.0.2.1"), Port: 179}
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), tcpAddr(a))
	assert.False(t, tcpAddr(nil).IsValid())
}
