package bgputils

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpd-go/bgpd/pkg/config"
	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

func asPath(segs ...*bgp.AsPathParam) *bgp.PathAttributeAsPath {
	return bgp.NewPathAttributeAsPath(segs)
}

func TestHasOwnASLoop(t *testing.T) {
	assert := assert.New(t)
	p := asPath(
		bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{65001, 65002}),
		bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SET, []uint32{65000}),
	)
	assert.True(HasOwnASLoop(65000, 0, p))
	assert.False(HasOwnASLoop(65000, 1, p))
	assert.False(HasOwnASLoop(65003, 0, p))
	assert.False(HasOwnASLoop(65000, 0, nil))
}

func TestAppendAS(t *testing.T) {
	assert := assert.New(t)

	got := AppendAS(nil, 65000)
	require.Len(t, got.Value, 1)
	assert.Equal([]uint32{65000}, got.Value[0].AS)

	seq := asPath(bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{65001}))
	got = AppendAS(seq, 65000)
	require.Len(t, got.Value, 1)
	assert.Equal([]uint32{65001, 65000}, got.Value[0].AS)
	assert.Equal(uint8(2), got.Value[0].Num)
	// the input is left alone
	assert.Equal([]uint32{65001}, seq.Value[0].AS)

	set := asPath(bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SET, []uint32{65001, 65002}))
	got = AppendAS(set, 65000)
	require.Len(t, got.Value, 2)
	assert.Equal(uint8(bgp.BGP_ASPATH_ATTR_TYPE_SEQ), got.Value[1].Type)
	assert.Equal([]uint32{65000}, got.Value[1].AS)
	assert.Equal(2, got.ASLen())
}

func TestBuildOpenMessage(t *testing.T) {
	assert := assert.New(t)
	g := &config.Global{MyAS: 4200000000, HoldTime: 90, RouterID: netip.MustParseAddr("10.0.0.1")}
	n := &config.Neighbour{RemoteAS: 65001, HoldTime: 30}

	m := BuildOpenMessage(g, n, "")
	open := m.Body.(*bgp.BGPOpen)
	assert.Equal(uint16(bgp.AS_TRANS), open.MyAS)
	assert.Equal(uint16(30), open.HoldTime)
	caps := Open2Cap(open)
	require.Contains(t, caps, bgp.BGP_CAP_FOUR_OCTET_AS_NUMBER)
	assert.Equal(uint32(4200000000), caps[bgp.BGP_CAP_FOUR_OCTET_AS_NUMBER][0].(*bgp.CapFourOctetASNumber).CapValue)
	assert.NotContains(caps, bgp.BGP_CAP_FQDN)

	open = BuildOpenMessage(g, n, "bgp1").Body.(*bgp.BGPOpen)
	caps = Open2Cap(open)
	require.Contains(t, caps, bgp.BGP_CAP_FQDN)
	assert.Equal("bgp1", caps[bgp.BGP_CAP_FQDN][0].(*bgp.CapFQDN).HostName)
	assert.Equal("", caps[bgp.BGP_CAP_FQDN][0].(*bgp.CapFQDN).DomainName)
}

func TestOpen2CapDefaultsMultiProtocol(t *testing.T) {
	open := bgp.NewBGPOpenMessage(65001, 90, netip.MustParseAddr("10.0.0.2"), nil).Body.(*bgp.BGPOpen)
	caps := Open2Cap(open)
	require.Contains(t, caps, bgp.BGP_CAP_MULTIPROTOCOL)
	mp := caps[bgp.BGP_CAP_MULTIPROTOCOL][0].(*bgp.CapMultiProtocol)
	assert.Equal(t, uint16(bgp.AFI_IP), mp.CapValue.AFI)
}
