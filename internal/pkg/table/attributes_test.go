package table

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

func TestAttributesEqualIgnoresOrder(t *testing.T) {
	assert := assert.New(t)
	l := testAttrs(withMED(3))
	a, err := NewAttributes(l)
	require.NoError(t, err)
	l[0], l[3] = l[3], l[0]
	b, err := NewAttributes(l)
	require.NoError(t, err)
	assert.True(a.Equal(b))
	assert.NotSame(a, b)

	c, _ := NewAttributes(testAttrs(withMED(4)))
	assert.False(a.Equal(c))
	assert.False(a.Equal(nil))
}

func TestAttributesCloneIsPrivate(t *testing.T) {
	assert := assert.New(t)
	a, err := NewAttributes(testAttrs(withASPath(1, 2)))
	require.NoError(t, err)

	l := a.Clone()
	for _, attr := range l {
		switch v := attr.(type) {
		case *bgp.PathAttributeAsPath:
			v.Value[0].AS[0] = 99
		case *bgp.PathAttributeNextHop:
			v.Value = netip.MustParseAddr("203.0.113.1")
		}
	}
	assert.Equal([]uint32{1, 2}, a.ASPath().Value[0].AS)
	nh, _ := a.NextHop()
	assert.Equal(netip.MustParseAddr("192.0.2.1"), nh)
}

func TestAttrPoolRefcount(t *testing.T) {
	assert := assert.New(t)
	p := newAttrPool()
	a1, err := p.intern(testAttrs())
	require.NoError(t, err)
	a2, _ := p.intern(testAttrs())
	assert.Same(a1, a2)
	assert.Equal(1, p.len())

	p.release(a1)
	assert.Equal(1, p.len())
	p.release(a2)
	assert.Equal(0, p.len())

	a3, _ := p.intern(testAttrs())
	assert.NotSame(a1, a3)
}

func TestAttributesAccessors(t *testing.T) {
	assert := assert.New(t)
	a, _ := NewAttributes(testAttrs(withLocalPref(10)))
	_, ok := a.MED()
	assert.False(ok)
	lp, ok := a.LocalPref()
	assert.True(ok)
	assert.Equal(uint32(10), lp)
	n, ok := a.ASPathLen()
	assert.True(ok)
	assert.Equal(1, n)
	assert.Nil(a.Get(bgp.BGP_ATTR_TYPE_AGGREGATOR))
	assert.Equal(4, a.Len())
}
