// Copyright (C) 2014-2021 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package peering

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpd-go/bgpd/internal/pkg/table"
	"github.com/bgpd-go/bgpd/pkg/config"
	"github.com/bgpd-go/bgpd/pkg/log"
	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
	"github.com/bgpd-go/bgpd/pkg/utils"
)

const testTimeout = 5 * time.Second

var (
	peerAddr  = netip.MustParseAddr("192.0.2.1")
	localAddr = netip.MustParseAddr("10.10.10.10")
	fourOctet = &bgp.MarshallingOption{FourOctetAS: true}
)

// MockConnection is one end of an in-memory pipe that reports TCP
// addresses.
type MockConnection struct {
	net.Conn
}

func (m *MockConnection) LocalAddr() net.Addr {
	return &net.TCPAddr{
		IP:   net.ParseIP(localAddr.String()),
		Port: bgp.BGP_PORT,
	}
}

func (m *MockConnection) RemoteAddr() net.Addr {
	return &net.TCPAddr{
		IP:   net.ParseIP(peerAddr.String()),
		Port: 50179,
	}
}

// remoteSpeaker is the far end of the session driven by the test.
type remoteSpeaker struct {
	conn net.Conn
	msgs chan *bgp.BGPMessage
}

func newRemoteSpeaker(conn net.Conn) *remoteSpeaker {
	r := &remoteSpeaker{
		conn: conn,
		msgs: make(chan *bgp.BGPMessage, 1024),
	}
	go func() {
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, bgp.BGP_MAX_MESSAGE_LENGTH), 2*bgp.BGP_MAX_MESSAGE_LENGTH)
		scanner.Split(bgp.SplitBGP)
		for scanner.Scan() {
			m, err := bgp.ParseBGPMessage(scanner.Bytes(), fourOctet)
			if err != nil {
				continue
			}
			r.msgs <- m
		}
	}()
	return r
}

func (r *remoteSpeaker) expect(t *testing.T, typ bgp.BGPMessageType) *bgp.BGPMessage {
	t.Helper()
	select {
	case m := <-r.msgs:
		require.Equal(t, typ, m.Header.Type)
		return m
	case <-time.After(testTimeout):
		t.Fatalf("no %s received", typ)
	}
	return nil
}

func (r *remoteSpeaker) send(t *testing.T, msgs ...*bgp.BGPMessage) {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		b, err := m.Serialize(fourOctet)
		require.NoError(t, err)
		buf.Write(b)
	}
	_, err := r.conn.Write(buf.Bytes())
	require.NoError(t, err)
}

type harness struct {
	peer   *Peer
	table  *table.Table
	events chan *Event
	remote *remoteSpeaker
	logger *log.TestLogger
}

func newHarness(t *testing.T, remoteAS uint32, opts ...PeerOption) *harness {
	logger := log.NewTestLogger()
	g := &config.Global{
		MyAS:     65000,
		HoldTime: 90,
		RouterID: netip.MustParseAddr("10.0.0.254"),
	}
	n := &config.Neighbour{RemoteAS: remoteAS, Address: peerAddr}
	h := &harness{
		table:  table.NewTable(logger, g.MyAS),
		events: make(chan *Event, 1024),
		logger: logger,
	}
	h.peer = NewPeer(g, n, h.table, func(ev *Event) { h.events <- ev }, logger, opts...)
	h.connect(t)
	t.Cleanup(func() {
		_ = h.peer.Shutdown("test done")
		h.remote.conn.Close()
		h.peer.Wait()
	})
	return h
}

func (h *harness) connect(t *testing.T) {
	local, remote := net.Pipe()
	h.remote = newRemoteSpeaker(remote)
	require.NoError(t, h.peer.PlaceConnection(&MockConnection{Conn: local}))
}

// step hands the next posted event to the peer, as the server loop does.
func (h *harness) step(t *testing.T, typ EventType) *Event {
	t.Helper()
	select {
	case ev := <-h.events:
		require.Equal(t, typ, ev.Type, "event %v", ev)
		h.peer.HandleEvent(ev)
		return ev
	case <-time.After(testTimeout):
		t.Fatalf("no %s event", typ)
	}
	return nil
}

func (h *harness) establish(t *testing.T, hold uint16) {
	t.Helper()
	h.remote.expect(t, bgp.BGP_MSG_OPEN)
	h.remote.send(t, openMsg(h.peer.RemoteAS(), hold))
	h.step(t, EventMessage)
	h.remote.expect(t, bgp.BGP_MSG_KEEPALIVE)
	h.remote.send(t, bgp.NewBGPKeepAliveMessage())
	h.step(t, EventMessage)
	require.True(t, h.peer.IsEstablished())
}

func openMsg(as uint32, hold uint16) *bgp.BGPMessage {
	caps := []bgp.ParameterCapabilityInterface{
		bgp.NewCapFourOctetASNumber(as),
		bgp.NewCapRouteRefresh(),
	}
	return bgp.NewBGPOpenMessage(uint16(as), hold, peerAddr,
		[]bgp.OptionParameterInterface{bgp.NewOptionParameterCapability(caps)})
}

func pathAttrs(nexthop string, lp uint32, as ...uint32) []bgp.PathAttributeInterface {
	var params []*bgp.AsPathParam
	if len(as) > 0 {
		params = append(params, bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, as))
	}
	attrs := []bgp.PathAttributeInterface{
		bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
		bgp.NewPathAttributeAsPath(params),
		bgp.NewPathAttributeNextHop(netip.MustParseAddr(nexthop)),
	}
	if lp != 0 {
		attrs = append(attrs, bgp.NewPathAttributeLocalPref(lp))
	}
	return attrs
}

func prefixes(l ...string) []*bgp.Prefix {
	out := make([]*bgp.Prefix, 0, len(l))
	for _, s := range l {
		out = append(out, bgp.MustPrefix(bgp.AFI_IP, s))
	}
	return out
}

func updateMsg(withdrawn, nlri []string, as ...uint32) *bgp.BGPMessage {
	var attrs []bgp.PathAttributeInterface
	if len(nlri) > 0 {
		attrs = pathAttrs(peerAddr.String(), 0, as...)
	}
	return bgp.NewBGPUpdateMessage(prefixes(withdrawn...), attrs, prefixes(nlri...))
}

func TestPlaceConnectionSendsOpen(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, 65001, WithHostname("router1.example.net"))

	m := h.remote.expect(t, bgp.BGP_MSG_OPEN)
	body := m.Body.(*bgp.BGPOpen)
	assert.Equal(uint16(65000), body.MyAS)
	assert.Equal(uint16(90), body.HoldTime)
	assert.Equal(netip.MustParseAddr("10.0.0.254"), body.ID)

	codes := map[bgp.BGPCapabilityCode]bgp.ParameterCapabilityInterface{}
	for _, c := range body.Capabilities() {
		codes[c.Code()] = c
	}
	assert.Contains(codes, bgp.BGP_CAP_ROUTE_REFRESH)
	assert.Contains(codes, bgp.BGP_CAP_MULTIPROTOCOL)
	require.Contains(t, codes, bgp.BGP_CAP_FOUR_OCTET_AS_NUMBER)
	assert.Equal(uint32(65000), codes[bgp.BGP_CAP_FOUR_OCTET_AS_NUMBER].(*bgp.CapFourOctetASNumber).CapValue)
	require.Contains(t, codes, bgp.BGP_CAP_FQDN)
	fqdn := codes[bgp.BGP_CAP_FQDN].(*bgp.CapFQDN)
	assert.Equal("router1", fqdn.HostName)
	assert.Equal("example.net", fqdn.DomainName)

	assert.Equal(BGP_FSM_OPENSENT, h.peer.State())
}

func TestOpenNegotiatesHoldTime(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, 65001)

	h.remote.expect(t, bgp.BGP_MSG_OPEN)
	h.remote.send(t, openMsg(65001, 30))
	h.step(t, EventMessage)
	h.remote.expect(t, bgp.BGP_MSG_KEEPALIVE)

	s := h.peer.Snapshot()
	assert.Equal(BGP_FSM_OPENCONFIRM, s.State)
	assert.Equal(uint16(30), s.HoldTime)
	assert.Equal(uint16(10), s.KeepaliveTime)
	assert.Equal(localAddr, s.LocalAddress)
	assert.NotEmpty(s.ConnID)
	assert.Equal([]string{"multiprotocol", "route-refresh", "4-octet-as"}, s.Capabilities)
	assert.Equal(uint64(1), s.Received[bgp.BGP_MSG_OPEN.String()])
}

func TestOpenBadPeerAS(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, 65001)

	h.remote.expect(t, bgp.BGP_MSG_OPEN)
	h.remote.send(t, openMsg(65099, 90))
	h.step(t, EventMessage)

	m := h.remote.expect(t, bgp.BGP_MSG_NOTIFICATION)
	body := m.Body.(*bgp.BGPNotification)
	assert.Equal(uint8(bgp.BGP_ERROR_OPEN_MESSAGE_ERROR), body.ErrorCode)
	assert.Equal(uint8(bgp.BGP_ERROR_SUB_BAD_PEER_AS), body.ErrorSubcode)
	assert.Equal(BGP_FSM_IDLE, h.peer.State())
}

func TestUpdateBeforeEstablished(t *testing.T) {
	h := newHarness(t, 65001)

	h.remote.expect(t, bgp.BGP_MSG_OPEN)
	h.remote.send(t, updateMsg([]string{"10.1.0.0/16"}, nil))
	h.step(t, EventMessage)

	m := h.remote.expect(t, bgp.BGP_MSG_NOTIFICATION)
	assert.Equal(t, uint8(bgp.BGP_ERROR_FSM_ERROR), m.Body.(*bgp.BGPNotification).ErrorCode)
	assert.Equal(t, BGP_FSM_IDLE, h.peer.State())
	assert.Equal(t, 0, h.table.Len())
}

func TestEstablishedSendsRewrittenTable(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, 65001)

	// learned from an iBGP neighbour
	nlri := bgp.MustPrefix(bgp.AFI_IP, "1.2.3.4/32")
	_, err := h.table.AddPath(nlri, pathAttrs("10.0.0.9", 150), netip.MustParseAddr("10.0.0.9"))
	require.NoError(t, err)

	h.establish(t, 90)
	m := h.remote.expect(t, bgp.BGP_MSG_UPDATE)
	body := m.Body.(*bgp.BGPUpdate)
	require.Len(t, body.NLRI, 1)
	assert.Equal("1.2.3.4/32", body.NLRI[0].String())
	assert.Nil(body.Attribute(bgp.BGP_ATTR_TYPE_LOCAL_PREF))
	nh := body.Attribute(bgp.BGP_ATTR_TYPE_NEXT_HOP).(*bgp.PathAttributeNextHop)
	assert.Equal(localAddr, nh.Value)
	asPath := body.Attribute(bgp.BGP_ATTR_TYPE_AS_PATH).(*bgp.PathAttributeAsPath)
	assert.Equal([]uint32{65000}, asPath.ASList())

	// the installed set keeps its values
	lp, ok := h.table.Best(nlri).Attributes().LocalPref()
	assert.True(ok)
	assert.Equal(uint32(150), lp)
	nhOrig, _ := h.table.Best(nlri).Attributes().NextHop()
	assert.Equal(netip.MustParseAddr("10.0.0.9"), nhOrig)
}

func TestTxUpdateIBGPUnmodified(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, 65000)
	h.establish(t, 90)

	nlri := bgp.MustPrefix(bgp.AFI_IP, "198.51.100.0/24")
	path, err := h.table.AddPath(nlri, pathAttrs("192.0.2.77", 150, 65010), netip.MustParseAddr("192.0.2.77"))
	require.NoError(t, err)
	require.NoError(t, h.peer.TxUpdate([]*bgp.Prefix{nlri}, path.Attributes(), prefixes("203.0.113.0/24")))

	body := h.remote.expect(t, bgp.BGP_MSG_UPDATE).Body.(*bgp.BGPUpdate)
	require.Len(t, body.WithdrawnRoutes, 1)
	assert.Equal("203.0.113.0/24", body.WithdrawnRoutes[0].String())
	assert.Equal(uint32(150), body.Attribute(bgp.BGP_ATTR_TYPE_LOCAL_PREF).(*bgp.PathAttributeLocalPref).Value)
	assert.Equal(netip.MustParseAddr("192.0.2.77"), body.Attribute(bgp.BGP_ATTR_TYPE_NEXT_HOP).(*bgp.PathAttributeNextHop).Value)
	assert.Equal([]uint32{65010}, body.Attribute(bgp.BGP_ATTR_TYPE_AS_PATH).(*bgp.PathAttributeAsPath).ASList())
}

func TestTxUpdateNotEstablished(t *testing.T) {
	h := newHarness(t, 65001)
	attrs, err := table.NewAttributes(pathAttrs("192.0.2.1", 100))
	require.NoError(t, err)
	assert.Error(t, h.peer.TxUpdate(prefixes("10.0.0.0/8"), attrs, nil))
}

func TestTxUpdateSplitsLargeUpdates(t *testing.T) {
	h := newHarness(t, 65001)
	h.establish(t, 90)

	nlri := make([]*bgp.Prefix, 0, 2000)
	for i := 0; i < 2000; i++ {
		nlri = append(nlri, bgp.MustPrefix(bgp.AFI_IP, fmt.Sprintf("10.%d.%d.0/24", i/256, i%256)))
	}
	attrs, err := table.NewAttributes(pathAttrs("192.0.2.1", 100, 65010))
	require.NoError(t, err)
	require.NoError(t, h.peer.TxUpdate(nlri, attrs, nil))

	total, msgs := 0, 0
	for total < len(nlri) {
		body := h.remote.expect(t, bgp.BGP_MSG_UPDATE).Body.(*bgp.BGPUpdate)
		total += len(body.NLRI)
		msgs++
	}
	assert.Equal(t, len(nlri), total)
	assert.Greater(t, msgs, 1)
}

func TestRxUpdateInstallsAndWithdraws(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, 65001)
	h.establish(t, 90)

	h.remote.send(t, updateMsg(nil, []string{"10.1.0.0/16"}, 65001))
	h.step(t, EventMessage)
	best := h.table.Best(bgp.MustPrefix(bgp.AFI_IP, "10.1.0.0/16"))
	require.NotNil(t, best)
	assert.Equal(peerAddr, best.Source())
	lp, _ := best.GetLocalPref()
	assert.Equal(uint32(table.DEFAULT_LOCAL_PREF), lp)

	h.remote.send(t, updateMsg([]string{"10.1.0.0/16"}, nil))
	h.step(t, EventMessage)
	assert.Nil(h.table.Best(bgp.MustPrefix(bgp.AFI_IP, "10.1.0.0/16")))
	assert.Equal(0, h.table.Len())
}

func TestRxUpdateOwnASDropped(t *testing.T) {
	h := newHarness(t, 65001)
	h.establish(t, 90)

	h.remote.send(t, updateMsg(nil, []string{"10.1.0.0/16"}, 65001, 65000))
	h.step(t, EventMessage)
	assert.Equal(t, 0, h.table.Len())
	assert.Equal(t, uint64(1), h.peer.Counters().Received.Discarded.Load())
}

func TestRxUpdateImportPolicy(t *testing.T) {
	assert := assert.New(t)
	lp := uint32(300)
	policy := table.NewPolicy("import",
		&table.PolicyEntry{
			Match:  table.PolicyMatch{Prefix: bgp.MustPrefix(bgp.AFI_IP, "10.0.0.0/8")},
			Action: table.POLICY_ACTION_DROP,
		},
		&table.PolicyEntry{
			Set:    table.PolicySet{LocalPref: &lp},
			Action: table.POLICY_ACTION_ACCEPT,
		},
	)
	h := newHarness(t, 65001, WithImportPolicy(policy))
	h.establish(t, 90)

	h.remote.send(t, updateMsg(nil, []string{"10.0.0.0/8", "172.16.0.0/12"}, 65001))
	h.step(t, EventMessage)
	assert.Nil(h.table.Best(bgp.MustPrefix(bgp.AFI_IP, "10.0.0.0/8")))
	best := h.table.Best(bgp.MustPrefix(bgp.AFI_IP, "172.16.0.0/12"))
	require.NotNil(t, best)
	got, _ := best.GetLocalPref()
	assert.Equal(lp, got)
}

func TestRxUpdateInvalidDropped(t *testing.T) {
	h := newHarness(t, 65001)
	h.establish(t, 90)

	// NLRI without the mandatory attributes
	h.remote.send(t, bgp.NewBGPUpdateMessage(nil, []bgp.PathAttributeInterface{
		bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
	}, prefixes("10.1.0.0/16")))
	h.step(t, EventMessage)
	assert.Equal(t, 0, h.table.Len())
	assert.True(t, h.peer.IsEstablished())
}

func TestConcatenatedMessages(t *testing.T) {
	h := newHarness(t, 65001)
	h.establish(t, 90)

	h.remote.send(t,
		updateMsg(nil, []string{"10.1.0.0/16"}, 65001),
		updateMsg(nil, []string{"10.2.0.0/16"}, 65001),
		bgp.NewBGPKeepAliveMessage(),
	)
	h.step(t, EventMessage)
	h.step(t, EventMessage)
	h.step(t, EventMessage)
	assert.Equal(t, 2, h.table.Len())
	assert.Equal(t, uint64(2), h.peer.Counters().Received.Update.Load())
}

func TestNotificationPurgesRoutes(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, 65001)
	h.establish(t, 90)

	h.remote.send(t, updateMsg(nil, []string{"10.1.0.0/16"}, 65001))
	h.step(t, EventMessage)
	require.Equal(t, 1, h.table.Len())

	h.remote.send(t, bgp.NewBGPNotificationMessage(bgp.BGP_ERROR_CEASE, bgp.BGP_ERROR_SUB_ADMINISTRATIVE_SHUTDOWN, []byte{3, 'b', 'y', 'e'}))
	h.step(t, EventMessage)
	assert.Equal(BGP_FSM_IDLE, h.peer.State())
	assert.Equal(0, h.table.Len())
	assert.Positive(h.logger.Count("warn"))
}

func TestRouteRefreshResendsTable(t *testing.T) {
	h := newHarness(t, 65001)
	_, err := h.table.AddPath(bgp.MustPrefix(bgp.AFI_IP, "203.0.113.0/24"), table.BaselineAttributes(), table.LocalPeer)
	require.NoError(t, err)
	h.establish(t, 90)
	h.remote.expect(t, bgp.BGP_MSG_UPDATE)

	h.remote.send(t, bgp.NewBGPRouteRefreshMessage(bgp.AFI_IP, 0, bgp.SAFI_UNICAST))
	h.step(t, EventMessage)
	body := h.remote.expect(t, bgp.BGP_MSG_UPDATE).Body.(*bgp.BGPUpdate)
	require.Len(t, body.NLRI, 1)
	assert.Equal(t, "203.0.113.0/24", body.NLRI[0].String())
}

func TestConnectionLossPurgesRoutes(t *testing.T) {
	h := newHarness(t, 65001)
	h.establish(t, 90)
	h.remote.send(t, updateMsg(nil, []string{"10.1.0.0/16"}, 65001))
	h.step(t, EventMessage)

	h.remote.conn.Close()
	h.step(t, EventConnError)
	assert.Equal(t, BGP_FSM_IDLE, h.peer.State())
	assert.Equal(t, 0, h.table.Len())
}

func TestBadMarkerSendsNotification(t *testing.T) {
	h := newHarness(t, 65001)
	h.remote.expect(t, bgp.BGP_MSG_OPEN)

	raw := bytes.Repeat([]byte{0xff}, bgp.BGP_HEADER_LENGTH)
	raw[3] = 0
	_, err := h.remote.conn.Write(raw)
	require.NoError(t, err)
	h.step(t, EventConnError)

	body := h.remote.expect(t, bgp.BGP_MSG_NOTIFICATION).Body.(*bgp.BGPNotification)
	assert.Equal(t, uint8(bgp.BGP_ERROR_MESSAGE_HEADER_ERROR), body.ErrorCode)
	assert.Equal(t, uint8(bgp.BGP_ERROR_SUB_CONNECTION_NOT_SYNCHRONIZED), body.ErrorSubcode)
	assert.Equal(t, BGP_FSM_IDLE, h.peer.State())
}

func TestPlaceConnectionReplaces(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, 65001)
	h.establish(t, 90)
	h.remote.send(t, updateMsg(nil, []string{"10.1.0.0/16"}, 65001))
	h.step(t, EventMessage)
	old := h.peer.Snapshot().ConnID

	oldRemote := h.remote
	h.connect(t)
	defer oldRemote.conn.Close()

	assert.Equal(BGP_FSM_OPENSENT, h.peer.State())
	assert.Equal(0, h.table.Len())
	assert.NotEqual(old, h.peer.Snapshot().ConnID)
	h.remote.expect(t, bgp.BGP_MSG_OPEN)
}

func TestStaleEventsIgnored(t *testing.T) {
	h := newHarness(t, 65001)
	keepalive, err := bgp.NewBGPKeepAliveMessage().Serialize()
	require.NoError(t, err)

	h.peer.HandleEvent(&Event{Type: EventMessage, ConnID: uuid.New(), Payload: keepalive})
	h.peer.HandleEvent(&Event{Type: EventConnError, ConnID: uuid.New(), Err: fmt.Errorf("gone")})
	h.peer.HandleEvent(&Event{Type: EventKeepalive, Generation: 12345})
	assert.Equal(t, BGP_FSM_OPENSENT, h.peer.State())
}

func TestKeepaliveTimer(t *testing.T) {
	h := newHarness(t, 65001)
	h.establish(t, 3)
	assert.Equal(t, uint16(1), h.peer.Snapshot().KeepaliveTime)

	ev := h.step(t, EventKeepalive)
	h.remote.expect(t, bgp.BGP_MSG_KEEPALIVE)

	// the timer was re-armed with a new generation
	h.peer.HandleEvent(&Event{Type: EventKeepalive, Generation: ev.Generation})
	next := h.step(t, EventKeepalive)
	h.remote.expect(t, bgp.BGP_MSG_KEEPALIVE)
	// keepalives go out every keepalive_time, hold/3 seconds
	assert.GreaterOrEqual(t, next.Timestamp.Sub(ev.Timestamp), time.Second)
}

func TestShutdownSendsCease(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, 65001)
	h.establish(t, 90)

	require.NoError(t, h.peer.Shutdown("maintenance"))
	m := h.remote.expect(t, bgp.BGP_MSG_NOTIFICATION)
	body := m.Body.(*bgp.BGPNotification)
	assert.Equal(uint8(bgp.BGP_ERROR_CEASE), body.ErrorCode)
	assert.Equal(uint8(bgp.BGP_ERROR_SUB_ADMINISTRATIVE_SHUTDOWN), body.ErrorSubcode)
	msg, rest := utils.DecodeAdministrativeCommunication(body.Data)
	assert.Equal("maintenance", msg)
	assert.Empty(rest)
	assert.Equal(BGP_FSM_IDLE, h.peer.State())

	// a second shutdown has nothing to send
	assert.NoError(h.peer.Shutdown("again"))
}
