package bgp

import (
	"net/netip"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_PrefixFromString(t *testing.T) {
	assert := assert.New(t)

	p, err := NewPrefixFromString(AFI_IP, "10.1.2.0/23")
	require.NoError(t, err)
	assert.Equal(uint16(AFI_IP), p.AFI())
	assert.Equal(uint8(23), p.Length())
	assert.Equal([]byte{10, 1, 2}, p.Bits())
	assert.Equal("10.1.2.0/23", p.String())

	p, err = NewPrefixFromString(AFI_IP6, "2001:db8::/32")
	require.NoError(t, err)
	assert.Equal([]byte{0x20, 0x01, 0x0d, 0xb8}, p.Bits())
	assert.Equal("2001:db8::/32", p.String())

	for _, s := range []string{"10.0.0.0/33", "10.0.0.0", "10.0.0.0/x", "2001:db8::/32", "foo/8"} {
		_, err := NewPrefixFromString(AFI_IP, s)
		assert.Error(err, s)
	}
	_, err = NewPrefixFromString(AFI_IP6, "2001:db8::/129")
	assert.Error(err)
	_, err = NewPrefixFromString(AFI_IP6, "10.0.0.0/8")
	assert.Error(err)
}

func Test_PrefixSerialize(t *testing.T) {
	assert := assert.New(t)

	for _, s := range []string{"0.0.0.0/0", "10.0.0.0/8", "172.16.0.0/12", "192.0.2.128/25", "198.51.100.7/32"} {
		p := MustPrefix(AFI_IP, s)
		buf, err := p.Serialize()
		require.NoError(t, err)
		assert.Equal(p.Len(), len(buf))
		assert.Equal(int(p.Length()+7)/8, len(buf)-1)

		l, err := DecodePrefixes(AFI_IP, buf)
		require.NoError(t, err)
		require.Len(t, l, 1)
		assert.True(p.Equal(l[0]), s)
		assert.Equal(s, l[0].String())
	}
}

func Test_DecodePrefixesErrors(t *testing.T) {
	for name, b := range map[string][]byte{
		"too long": {33, 1, 2, 3, 4, 5},
		"short":    {24, 10, 0},
		"trailing": {8, 10, 16},
	} {
		_, err := DecodePrefixes(AFI_IP, b)
		require.Error(t, err, name)
		e, ok := err.(*MessageError)
		require.True(t, ok, name)
		assert.Equal(t, uint8(BGP_ERROR_SUB_INVALID_NETWORK_FIELD), e.SubTypeCode, name)
	}
}

// Prefix identity covers the stored bytes unmasked: host bits beyond the
// prefix length are significant.
func Test_PrefixUnmaskedIdentity(t *testing.T) {
	assert := assert.New(t)

	a := MustPrefix(AFI_IP, "10.1.2.0/23")
	b := MustPrefix(AFI_IP, "10.1.3.0/23")
	assert.False(a.Equal(b))
	assert.NotEqual(0, ComparePrefix(a, b))
	assert.NotEqual(a.Key(), b.Key())

	c, err := NewPrefix(AFI_IP, []byte{10, 1, 2, 99}, 23)
	require.NoError(t, err)
	assert.True(a.Equal(c))
	assert.Equal(a.Key(), c.Key())
}

func Test_ComparePrefix(t *testing.T) {
	l := []*Prefix{
		MustPrefix(AFI_IP6, "2001:db8::/32"),
		MustPrefix(AFI_IP, "10.0.0.0/16"),
		MustPrefix(AFI_IP, "10.0.0.0/8"),
		MustPrefix(AFI_IP, "9.0.0.0/8"),
		MustPrefix(AFI_IP, "10.0.0.0/24"),
	}
	slices.SortFunc(l, ComparePrefix)

	s := make([]string, 0, len(l))
	for _, p := range l {
		s = append(s, p.String())
	}
	// bytes first, so 10/8 (1 byte) sorts before 10.0/16 (2 bytes)
	assert.Equal(t, []string{"9.0.0.0/8", "10.0.0.0/8", "10.0.0.0/16", "10.0.0.0/24", "2001:db8::/32"}, s)
}

func Test_PrefixContains(t *testing.T) {
	p := MustPrefix(AFI_IP, "192.0.2.0/24")
	assert.True(t, p.Contains(netip.MustParseAddr("192.0.2.77")))
	assert.False(t, p.Contains(netip.MustParseAddr("192.0.3.1")))
	assert.False(t, p.Contains(netip.MustParseAddr("2001:db8::1")))
}

func Test_PrefixUnknownFamily(t *testing.T) {
	p, err := NewPrefix(25, []byte{1, 2}, 16)
	require.NoError(t, err)
	assert.Equal(t, "[1 2]/16", p.String())
}
