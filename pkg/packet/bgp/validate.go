package bgp

import (
	"fmt"
	"strconv"
)

// ValidateUpdateMsg checks attribute uniqueness, the values of the
// well-known attributes and, when NLRI are announced, that ORIGIN,
// AS_PATH and NEXT_HOP are all present.
func ValidateUpdateMsg(m *BGPUpdate) (bool, error) {
	eCode := uint8(BGP_ERROR_UPDATE_MESSAGE_ERROR)
	eSubCodeAttrList := uint8(BGP_ERROR_SUB_MALFORMED_ATTRIBUTE_LIST)
	eSubCodeMissing := uint8(BGP_ERROR_SUB_MISSING_WELL_KNOWN_ATTRIBUTE)

	seen := make(map[BGPAttrType]PathAttributeInterface)
	for _, a := range m.PathAttributes {
		if _, ok := seen[a.GetType()]; ok {
			eMsg := "the path attribute appears twice. Type : " + strconv.Itoa(int(a.GetType()))
			return false, NewMessageError(eCode, eSubCodeAttrList, nil, eMsg)
		}
		seen[a.GetType()] = a

		if ok, e := ValidateAttribute(a); !ok {
			return false, e
		}
	}

	if len(m.NLRI) > 0 {
		mandatory := []BGPAttrType{BGP_ATTR_TYPE_ORIGIN, BGP_ATTR_TYPE_AS_PATH, BGP_ATTR_TYPE_NEXT_HOP}
		for _, t := range mandatory {
			if _, ok := seen[t]; !ok {
				eMsg := "well-known mandatory attributes are not present. type : " + strconv.Itoa(int(t))
				return false, NewMessageError(eCode, eSubCodeMissing, []byte{byte(t)}, eMsg)
			}
		}
	}
	return true, nil
}

func ValidateAttribute(a PathAttributeInterface) (bool, error) {
	eCode := uint8(BGP_ERROR_UPDATE_MESSAGE_ERROR)

	switch p := a.(type) {
	case *PathAttributeOrigin:
		v := p.Value
		if v != BGP_ORIGIN_ATTR_TYPE_IGP &&
			v != BGP_ORIGIN_ATTR_TYPE_EGP &&
			v != BGP_ORIGIN_ATTR_TYPE_INCOMPLETE {
			data, _ := a.Serialize()
			eMsg := "invalid origin attribute. value : " + strconv.Itoa(int(v))
			return false, NewMessageError(eCode, BGP_ERROR_SUB_INVALID_ORIGIN_ATTRIBUTE, data, eMsg)
		}
	case *PathAttributeNextHop:
		if !p.Value.Is4() {
			return false, NewMessageError(eCode, BGP_ERROR_SUB_INVALID_NEXT_HOP_ATTRIBUTE, nil, "invalid nexthop address")
		}
		ip := p.Value.As4()
		// host addresses only: no loopback, no 0/8, no class D or E
		if p.Value.IsLoopback() || ip[0] == 0 || ip[0]&0xe0 == 0xe0 {
			data, _ := a.Serialize()
			return false, NewMessageError(eCode, BGP_ERROR_SUB_INVALID_NEXT_HOP_ATTRIBUTE, data, "invalid nexthop address")
		}
	case *PathAttributeUnknown:
		if p.GetFlags()&BGP_ATTR_FLAG_OPTIONAL == 0 {
			eMsg := fmt.Sprintf("unrecognized well-known attribute %s", p.GetType())
			data, _ := a.Serialize()
			return false, NewMessageError(eCode, BGP_ERROR_SUB_UNRECOGNIZED_WELL_KNOWN_ATTRIBUTE, data, eMsg)
		}
	}
	return true, nil
}

// ValidateFlags checks the attribute flag octet against RFC 4271 4.3.
func ValidateFlags(t BGPAttrType, flags BGPAttrFlag) (bool, string) {
	/*
	 * RFC 4271 P.17 For well-known attributes, the Transitive bit MUST be set to 1.
	 */
	if flags&BGP_ATTR_FLAG_OPTIONAL == 0 && flags&BGP_ATTR_FLAG_TRANSITIVE == 0 {
		return false, fmt.Sprintf("well-known attribute %s must have transitive flag 1", t)
	}
	/*
	 * RFC 4271 P.17 For well-known attributes and for optional non-transitive attributes,
	 * the Partial bit MUST be set to 0.
	 */
	if flags&BGP_ATTR_FLAG_OPTIONAL == 0 && flags&BGP_ATTR_FLAG_PARTIAL != 0 {
		return false, fmt.Sprintf("well-known attribute %s must have partial bit 0", t)
	}
	if flags&BGP_ATTR_FLAG_OPTIONAL != 0 && flags&BGP_ATTR_FLAG_TRANSITIVE == 0 && flags&BGP_ATTR_FLAG_PARTIAL != 0 {
		return false, fmt.Sprintf("optional non-transitive attribute %s must have partial bit 0", t)
	}

	if f, ok := pathAttrFlags[t]; ok {
		if f != flags&^BGP_ATTR_FLAG_EXTENDED_LENGTH&^BGP_ATTR_FLAG_PARTIAL {
			return false, fmt.Sprintf("flags are invalid. attribute type: %s, expect: %d, actual: %d", t, f, flags)
		}
	}
	return true, ""
}

// ValidateOpenMsg returns the peer's AS, taken from the 4-octet AS
// capability when present, after checking it against expectedAS.
func ValidateOpenMsg(m *BGPOpen, expectedAS uint32) (uint32, error) {
	if m.Version != BGP_VERSION {
		return 0, NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_VERSION_NUMBER, nil, fmt.Sprintf("unsupported version %d", m.Version))
	}

	as := uint32(m.MyAS)
	for _, c := range m.Capabilities() {
		if c4, ok := c.(*CapFourOctetASNumber); ok {
			as = c4.CapValue
		}
	}
	if expectedAS != 0 && as != expectedAS {
		return 0, NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_BAD_PEER_AS, nil, fmt.Sprintf("as number mismatch expected %d, received %d", expectedAS, as))
	}

	if m.HoldTime < 3 && m.HoldTime != 0 {
		return 0, NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNACCEPTABLE_HOLD_TIME, nil, fmt.Sprintf("unacceptable hold time %d", m.HoldTime))
	}
	return as, nil
}
