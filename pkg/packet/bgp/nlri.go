// Copyright (C) 2014 Nippon Telegraph and Telephone Corporation.
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

package bgp

import (
	"bytes"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Prefix is an address-family tagged NLRI. Bits holds exactly
// ceil(Length/8) bytes as received or parsed; bits past Length are kept
// as stored and take part in comparisons.
type Prefix struct {
	afi    uint16
	length uint8
	bits   []byte
}

func maxPrefixLen(afi uint16) (int, bool) {
	switch afi {
	case AFI_IP:
		return 32, true
	case AFI_IP6:
		return 128, true
	}
	return 0, false
}

func prefixBytes(length uint8) int {
	return (int(length) + 7) / 8
}

// NewPrefix builds a prefix from raw wire bytes. Only the first
// ceil(length/8) bytes of bits are retained.
func NewPrefix(afi uint16, bits []byte, length uint8) (*Prefix, error) {
	if max, ok := maxPrefixLen(afi); ok && int(length) > max {
		return nil, fmt.Errorf("prefix length %d exceeds %d bits for afi %d", length, max, afi)
	}
	n := prefixBytes(length)
	if len(bits) < n {
		return nil, fmt.Errorf("prefix /%d needs %d bytes, %d available", length, n, len(bits))
	}
	b := make([]byte, n)
	copy(b, bits[:n])
	return &Prefix{
		afi:    afi,
		length: length,
		bits:   b,
	}, nil
}

// NewPrefixFromString parses "address/length".
func NewPrefixFromString(afi uint16, s string) (*Prefix, error) {
	addrStr, lenStr, found := strings.Cut(s, "/")
	if !found {
		return nil, fmt.Errorf("invalid prefix %q: missing length", s)
	}
	addr, err := netip.ParseAddr(addrStr)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix %q: %w", s, err)
	}
	switch afi {
	case AFI_IP:
		if !addr.Is4() {
			return nil, fmt.Errorf("invalid prefix %q: not an IPv4 address", s)
		}
	case AFI_IP6:
		if !addr.Is6() || addr.Is4In6() {
			return nil, fmt.Errorf("invalid prefix %q: not an IPv6 address", s)
		}
	default:
		return nil, fmt.Errorf("unsupported afi %d", afi)
	}
	l, err := strconv.ParseUint(lenStr, 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix %q: bad length", s)
	}
	return NewPrefix(afi, addr.AsSlice(), uint8(l))
}

// MustPrefix is NewPrefixFromString for literals known to be valid.
func MustPrefix(afi uint16, s string) *Prefix {
	p, err := NewPrefixFromString(afi, s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Prefix) AFI() uint16 {
	return p.afi
}

func (p *Prefix) Length() uint8 {
	return p.length
}

// Bits returns a copy of the stored prefix bytes.
func (p *Prefix) Bits() []byte {
	b := make([]byte, len(p.bits))
	copy(b, p.bits)
	return b
}

// Addr returns the prefix bytes zero padded to a full address.
func (p *Prefix) Addr() netip.Addr {
	switch p.afi {
	case AFI_IP:
		var a [4]byte
		copy(a[:], p.bits)
		return netip.AddrFrom4(a)
	case AFI_IP6:
		var a [16]byte
		copy(a[:], p.bits)
		return netip.AddrFrom16(a)
	}
	return netip.Addr{}
}

// Contains reports whether addr falls inside the prefix.
func (p *Prefix) Contains(addr netip.Addr) bool {
	a := p.Addr()
	if !a.IsValid() || a.BitLen() != addr.BitLen() {
		return false
	}
	return netip.PrefixFrom(a, int(p.length)).Masked().Contains(addr)
}

func (p *Prefix) Len() int {
	return 1 + len(p.bits)
}

func (p *Prefix) Serialize() ([]byte, error) {
	buf := make([]byte, 0, p.Len())
	buf = append(buf, p.length)
	return append(buf, p.bits...), nil
}

func (p *Prefix) String() string {
	switch p.afi {
	case AFI_IP, AFI_IP6:
		return p.Addr().String() + "/" + strconv.Itoa(int(p.length))
	}
	return fmt.Sprintf("%v/%d", p.bits, p.length)
}

// Key is a compact identity usable as a map key.
func (p *Prefix) Key() string {
	b := make([]byte, 0, 3+len(p.bits))
	b = append(b, byte(p.afi>>8), byte(p.afi), p.length)
	return string(append(b, p.bits...))
}

// ComparePrefix orders prefixes by (afi, bits, length).
func ComparePrefix(a, b *Prefix) int {
	switch {
	case a.afi < b.afi:
		return -1
	case a.afi > b.afi:
		return 1
	}
	if c := bytes.Compare(a.bits, b.bits); c != 0 {
		return c
	}
	switch {
	case a.length < b.length:
		return -1
	case a.length > b.length:
		return 1
	}
	return 0
}

func (p *Prefix) Equal(o *Prefix) bool {
	if p == nil || o == nil {
		return p == o
	}
	return ComparePrefix(p, o) == 0
}

// DecodePrefixes walks a run of length-prefixed NLRI entries.
func DecodePrefixes(afi uint16, data []byte) ([]*Prefix, error) {
	eCode := uint8(BGP_ERROR_UPDATE_MESSAGE_ERROR)
	eSubCode := uint8(BGP_ERROR_SUB_INVALID_NETWORK_FIELD)
	max, _ := maxPrefixLen(afi)
	var prefixes []*Prefix
	for len(data) > 0 {
		length := data[0]
		if max != 0 && int(length) > max {
			return nil, NewMessageError(eCode, eSubCode, data[:1], fmt.Sprintf("prefix length is too long: %d", length))
		}
		n := prefixBytes(length)
		if len(data) < 1+n {
			return nil, NewMessageError(eCode, eSubCode, data, "network bytes is short")
		}
		p, err := NewPrefix(afi, data[1:1+n], length)
		if err != nil {
			return nil, NewMessageError(eCode, eSubCode, data, err.Error())
		}
		prefixes = append(prefixes, p)
		data = data[1+n:]
	}
	return prefixes, nil
}
