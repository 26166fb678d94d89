// Copyright (C) 2016-2021 Nippon Telegraph and Telephone Corporation.
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

package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpd-go/bgpd/pkg/config"
	"github.com/bgpd-go/bgpd/pkg/log"
	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
	"github.com/bgpd-go/bgpd/pkg/peering"
	"github.com/bgpd-go/bgpd/pkg/utils"
)

const (
	testTimeout  = 5 * time.Second
	testDebounce = 50 * time.Millisecond
)

var fourOctet = &bgp.MarshallingOption{FourOctetAS: true}

func testConfig() *config.Config {
	return &config.Config{
		Global: config.Global{
			ListenAddress: "127.0.0.1",
			MyAS:          65000,
			HoldTime:      90,
			RouterID:      netip.MustParseAddr("10.0.0.254"),
		},
		Neighbours: []config.Neighbour{
			{RemoteAS: 65001, Address: netip.MustParseAddr("127.0.0.1")},
			{RemoteAS: 65003, Address: netip.MustParseAddr("127.0.0.3")},
			{RemoteAS: 65000, Address: netip.MustParseAddr("127.0.0.4")},
		},
		OriginateRoutes: []config.OriginateRoute{
			{Prefix: "203.0.113.0/24"},
			{Prefix: "198.51.100.0/24", PolicyName: "deny"},
		},
		Policies: map[string]config.PolicyDefinition{
			"deny": {Entries: []config.PolicyEntry{
				{MatchPrefixV4: "198.51.100.0/24", Action: "drop"},
			}},
		},
	}
}

func runNewServer(t *testing.T, c *config.Config) *BgpServer {
	s := NewBgpServer(
		LoggerOption(log.NewTestLogger()),
		DebounceOption(testDebounce),
		HostnameOption("bgpd-test"))
	go s.Serve()
	require.NoError(t, s.Start(context.Background(), c))
	t.Cleanup(func() {
		_ = s.Stop()
	})
	return s
}

// speaker is a remote BGP router driven by the test.
type speaker struct {
	conn net.Conn
	as   uint32
	id   netip.Addr
	// announced NEXT_HOP; loopback next hops fail validation
	nexthop netip.Addr
	msgs    chan *bgp.BGPMessage
}

func dialSpeaker(t *testing.T, s *BgpServer, local string, as uint32) *speaker {
	t.Helper()
	d := net.Dialer{
		LocalAddr: &net.TCPAddr{IP: net.ParseIP(local)},
		Timeout:   testTimeout,
	}
	conn, err := d.Dial("tcp", s.ListenAddr().String())
	require.NoError(t, err)
	sp := &speaker{
		conn:    conn,
		as:      as,
		id:      netip.MustParseAddr(local),
		nexthop: netip.MustParseAddr("192.0.2.200"),
		msgs:    make(chan *bgp.BGPMessage, 1024),
	}
	go func() {
		defer close(sp.msgs)
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, bgp.BGP_MAX_MESSAGE_LENGTH), 2*bgp.BGP_MAX_MESSAGE_LENGTH)
		scanner.Split(bgp.SplitBGP)
		for scanner.Scan() {
			m, err := bgp.ParseBGPMessage(scanner.Bytes(), fourOctet)
			if err != nil {
				continue
			}
			sp.msgs <- m
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return sp
}

func (sp *speaker) expect(t *testing.T, typ bgp.BGPMessageType) *bgp.BGPMessage {
	t.Helper()
	select {
	case m, ok := <-sp.msgs:
		require.True(t, ok, "connection closed waiting for %s", typ)
		require.Equal(t, typ, m.Header.Type)
		return m
	case <-time.After(testTimeout):
		t.Fatalf("no %s received", typ)
	}
	return nil
}

func (sp *speaker) send(t *testing.T, msgs ...*bgp.BGPMessage) {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		b, err := m.Serialize(fourOctet)
		require.NoError(t, err)
		buf.Write(b)
	}
	_, err := sp.conn.Write(buf.Bytes())
	require.NoError(t, err)
}

func (sp *speaker) establish(t *testing.T) {
	t.Helper()
	sp.expect(t, bgp.BGP_MSG_OPEN)
	caps := []bgp.ParameterCapabilityInterface{
		bgp.NewCapFourOctetASNumber(sp.as),
		bgp.NewCapRouteRefresh(),
	}
	open := bgp.NewBGPOpenMessage(uint16(sp.as), 90, sp.id,
		[]bgp.OptionParameterInterface{bgp.NewOptionParameterCapability(caps)})
	sp.send(t, open, bgp.NewBGPKeepAliveMessage())
	sp.expect(t, bgp.BGP_MSG_KEEPALIVE)
}

func (sp *speaker) announce(t *testing.T, prefix string) {
	t.Helper()
	attrs := []bgp.PathAttributeInterface{
		bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
		bgp.NewPathAttributeAsPath([]*bgp.AsPathParam{
			bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{sp.as}),
		}),
		bgp.NewPathAttributeNextHop(sp.nexthop),
	}
	sp.send(t, bgp.NewBGPUpdateMessage(nil, attrs, []*bgp.Prefix{bgp.MustPrefix(bgp.AFI_IP, prefix)}))
}

func (sp *speaker) withdraw(t *testing.T, prefix string) {
	t.Helper()
	sp.send(t, bgp.NewBGPUpdateMessage([]*bgp.Prefix{bgp.MustPrefix(bgp.AFI_IP, prefix)}, nil, nil))
}

func TestStop(t *testing.T) {
	assert := assert.New(t)
	s := NewBgpServer(LoggerOption(log.NewTestLogger()))
	go s.Serve()

	_, err := s.ListPeer()
	assert.ErrorContains(err, "hasn't started")

	c := testConfig()
	require.NoError(t, s.Start(context.Background(), c))
	assert.ErrorContains(s.Start(context.Background(), c), "already started")
	assert.NoError(s.Stop())

	assert.Error(s.Stop())
	_, err = s.ListPeer()
	assert.Error(err)
}

func TestStartOriginatesRoutes(t *testing.T) {
	assert := assert.New(t)
	s := runNewServer(t, testConfig())

	l, err := s.ListPath("")
	require.NoError(t, err)
	// 198.51.100.0/24 is dropped by its policy
	require.Len(t, l, 1)
	assert.Equal("203.0.113.0/24", l[0].Prefix)
	assert.Equal("local", l[0].Source)
	assert.Equal("0.0.0.0", l[0].Nexthop)
	assert.Equal(uint32(100), l[0].LocalPref)
	assert.True(l[0].Best)

	peers, err := s.ListPeer()
	require.NoError(t, err)
	require.Len(t, peers, 3)
	for i, addr := range []string{"127.0.0.1", "127.0.0.3", "127.0.0.4"} {
		assert.Equal(netip.MustParseAddr(addr), peers[i].Address)
		assert.Equal(peering.BGP_FSM_IDLE, peers[i].State)
	}
}

func TestEstablishSendsFullTable(t *testing.T) {
	assert := assert.New(t)
	s := runNewServer(t, testConfig())

	sp := dialSpeaker(t, s, "127.0.0.1", 65001)
	sp.establish(t)
	m := sp.expect(t, bgp.BGP_MSG_UPDATE)
	body := m.Body.(*bgp.BGPUpdate)
	require.Len(t, body.NLRI, 1)
	assert.Equal("203.0.113.0/24", body.NLRI[0].String())
	assert.Nil(body.Attribute(bgp.BGP_ATTR_TYPE_LOCAL_PREF))
	nh := body.Attribute(bgp.BGP_ATTR_TYPE_NEXT_HOP).(*bgp.PathAttributeNextHop)
	assert.Equal(netip.MustParseAddr("127.0.0.1"), nh.Value)
	asPath := body.Attribute(bgp.BGP_ATTR_TYPE_AS_PATH).(*bgp.PathAttributeAsPath)
	assert.Equal([]uint32{65000}, asPath.ASList())

	peers, err := s.ListPeer()
	require.NoError(t, err)
	assert.Equal(peering.BGP_FSM_ESTABLISHED, peers[0].State)
	assert.Equal(uint16(90), peers[0].HoldTime)
	assert.NotEmpty(peers[0].ConnID)
	assert.Contains(peers[0].Capabilities, "4-octet-as")
}

func TestPropagateBetweenPeers(t *testing.T) {
	assert := assert.New(t)
	s := runNewServer(t, testConfig())

	sp1 := dialSpeaker(t, s, "127.0.0.1", 65001)
	sp1.establish(t)
	sp1.expect(t, bgp.BGP_MSG_UPDATE)
	sp3 := dialSpeaker(t, s, "127.0.0.3", 65003)
	sp3.establish(t)
	sp3.expect(t, bgp.BGP_MSG_UPDATE)

	sp1.announce(t, "192.0.2.0/24")
	m := sp3.expect(t, bgp.BGP_MSG_UPDATE)
	body := m.Body.(*bgp.BGPUpdate)
	require.Len(t, body.NLRI, 1)
	assert.Equal("192.0.2.0/24", body.NLRI[0].String())
	asPath := body.Attribute(bgp.BGP_ATTR_TYPE_AS_PATH).(*bgp.PathAttributeAsPath)
	assert.Equal([]uint32{65001, 65000}, asPath.ASList())
	nh := body.Attribute(bgp.BGP_ATTR_TYPE_NEXT_HOP).(*bgp.PathAttributeNextHop)
	assert.Equal(netip.MustParseAddr("127.0.0.1"), nh.Value)

	l, err := s.ListPath("192.0.2.0/24")
	require.NoError(t, err)
	require.Len(t, l, 1)
	assert.Equal("127.0.0.1", l[0].Source)
	assert.Equal("192.0.2.200", l[0].Nexthop)
	assert.Equal("65001", l[0].AsPath)

	l, err = s.ListPath("192.0.2.77")
	require.NoError(t, err)
	require.Len(t, l, 1)
	assert.Equal("192.0.2.0/24", l[0].Prefix)

	l, err = s.ListPath("")
	require.NoError(t, err)
	assert.Len(l, 2)

	_, err = s.ListPath("192.0.2.0/33")
	assert.Error(err)
	_, err = s.ListPath("2001:db8::1")
	assert.Error(err)

	sp1.withdraw(t, "192.0.2.0/24")
	m = sp3.expect(t, bgp.BGP_MSG_UPDATE)
	body = m.Body.(*bgp.BGPUpdate)
	require.Len(t, body.WithdrawnRoutes, 1)
	assert.Equal("192.0.2.0/24", body.WithdrawnRoutes[0].String())
	assert.Empty(body.NLRI)
}

func TestUnknownPeerClosed(t *testing.T) {
	s := runNewServer(t, testConfig())

	d := net.Dialer{
		LocalAddr: &net.TCPAddr{IP: net.ParseIP("127.0.0.2")},
		Timeout:   testTimeout,
	}
	conn, err := d.Dial("tcp", s.ListenAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	_, err = conn.Read(make([]byte, bgp.BGP_HEADER_LENGTH))
	assert.ErrorIs(t, err, io.EOF)
}

func TestStopSendsCease(t *testing.T) {
	assert := assert.New(t)
	s := runNewServer(t, testConfig())

	sp := dialSpeaker(t, s, "127.0.0.1", 65001)
	sp.establish(t)
	sp.expect(t, bgp.BGP_MSG_UPDATE)

	require.NoError(t, s.Stop())
	m := sp.expect(t, bgp.BGP_MSG_NOTIFICATION)
	body := m.Body.(*bgp.BGPNotification)
	assert.Equal(uint8(bgp.BGP_ERROR_CEASE), body.ErrorCode)
	assert.Equal(uint8(bgp.BGP_ERROR_SUB_ADMINISTRATIVE_SHUTDOWN), body.ErrorSubcode)
	msg, _ := utils.DecodeAdministrativeCommunication(body.Data)
	assert.Equal(shutdownMessage, msg)
}

func TestScheduleDebounce(t *testing.T) {
	assert := assert.New(t)
	s := NewBgpServer(LoggerOption(log.NewTestLogger()), DebounceOption(testDebounce))

	start := time.Now()
	s.Schedule()
	select {
	case <-s.flushTimer.C:
	case <-time.After(testTimeout):
		t.Fatal("flush timer did not fire")
	}
	assert.GreaterOrEqual(time.Since(start), testDebounce)
}

func TestScheduleRearms(t *testing.T) {
	d := 4 * testDebounce
	s := NewBgpServer(LoggerOption(log.NewTestLogger()), DebounceOption(d))

	s.Schedule()
	time.Sleep(d / 2)
	last := time.Now()
	s.Schedule()
	select {
	case <-s.flushTimer.C:
	case <-time.After(testTimeout):
		t.Fatal("flush timer did not fire")
	}
	// the window restarts with every change
	assert.GreaterOrEqual(t, time.Since(last), d)

	select {
	case <-s.flushTimer.C:
		t.Fatal("flush timer fired twice")
	case <-time.After(d + testDebounce):
	}
}
