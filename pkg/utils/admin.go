package utils

import (
	"unicode/utf8"

	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

// NewAdministrativeCommunication encodes the shutdown reason carried in a
// Cease NOTIFICATION (RFC 8203): one length octet followed by UTF-8 text.
// Text over the limit is cut at a rune boundary. An empty reason encodes
// to nil.
func NewAdministrativeCommunication(reason string) []byte {
	if reason == "" {
		return nil
	}
	n := len(reason)
	if n > bgp.BGP_ERROR_ADMINISTRATIVE_COMMUNICATION_MAX {
		n = bgp.BGP_ERROR_ADMINISTRATIVE_COMMUNICATION_MAX
		for n > 0 && !utf8.RuneStart(reason[n]) {
			n--
		}
	}
	data := make([]byte, 0, n+1)
	data = append(data, byte(n))
	return append(data, reason[:n]...)
}

// DecodeAdministrativeCommunication splits NOTIFICATION data into the
// shutdown reason and whatever follows it. A length octet pointing past
// the data is clamped.
func DecodeAdministrativeCommunication(data []byte) (reason string, rest []byte) {
	if len(data) == 0 {
		return "", data
	}
	n := min(int(data[0]), bgp.BGP_ERROR_ADMINISTRATIVE_COMMUNICATION_MAX, len(data)-1)
	return string(data[1 : n+1]), data[n+1:]
}
