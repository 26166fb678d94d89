package bgputils

import (
	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

func HasOwnASLoop(ownAS uint32, limit int, asPath *bgp.PathAttributeAsPath) bool {
	if asPath == nil {
		return false
	}
	cnt := 0
	for _, param := range asPath.Value {
		for _, as := range param.AS {
			if as == ownAS {
				cnt++
				if cnt > limit {
					return true
				}
			}
		}
	}
	return false
}

// AppendAS returns a new AS_PATH with as added at the end of the last
// AS_SEQUENCE, or in a new sequence when the path ends with a set or a full
// segment. A nil path yields a path holding only as.
func AppendAS(asPath *bgp.PathAttributeAsPath, as uint32) *bgp.PathAttributeAsPath {
	params := make([]*bgp.AsPathParam, 0, 1)
	if asPath != nil {
		for _, p := range asPath.Value {
			params = append(params, bgp.NewAsPathParam(p.Type, append([]uint32(nil), p.AS...)))
		}
	}
	if n := len(params); n > 0 && params[n-1].Type == bgp.BGP_ASPATH_ATTR_TYPE_SEQ && len(params[n-1].AS) < 255 {
		last := params[n-1]
		params[n-1] = bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, append(last.AS, as))
	} else {
		params = append(params, bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{as}))
	}
	return bgp.NewPathAttributeAsPath(params)
}
