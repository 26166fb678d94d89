// Copyright (C) 2016 Nippon Telegraph and Telephone Corporation.
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
	"net/netip"
)

func NewTestBGPOpenMessage() *BGPMessage {
	p1 := NewOptionParameterCapability(
		[]ParameterCapabilityInterface{NewCapRouteRefresh()})
	p2 := NewOptionParameterCapability(
		[]ParameterCapabilityInterface{NewCapMultiProtocol(AFI_IP, SAFI_UNICAST)})
	p3 := NewOptionParameterCapability(
		[]ParameterCapabilityInterface{NewCapFourOctetASNumber(100000)})
	p4 := NewOptionParameterCapability(
		[]ParameterCapabilityInterface{NewCapFQDN("router1", "example.net"), NewCapUnknown(200, []byte{1, 2, 3})})
	return NewBGPOpenMessage(AS_TRANS, 303, netip.MustParseAddr("100.4.10.3"),
		[]OptionParameterInterface{p1, p2, p3, p4})
}

func NewTestBGPUpdateMessage() *BGPMessage {
	w := []*Prefix{
		MustPrefix(AFI_IP, "121.1.2.0/23"),
		MustPrefix(AFI_IP, "100.33.0.0/17"),
	}

	aspath := []*AsPathParam{
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{1000}),
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SET, []uint32{1001, 1002}),
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{1003, 1004}),
	}

	p := []PathAttributeInterface{
		NewPathAttributeOrigin(BGP_ORIGIN_ATTR_TYPE_EGP),
		NewPathAttributeAsPath(aspath),
		NewPathAttributeNextHop(netip.MustParseAddr("129.1.1.2")),
		NewPathAttributeMultiExitDisc(1 << 20),
		NewPathAttributeLocalPref(1 << 22),
		NewPathAttributeAtomicAggregate(),
		NewPathAttributeAggregator(30002, netip.MustParseAddr("129.0.2.99")),
		NewPathAttributeUnknown(BGP_ATTR_FLAG_OPTIONAL|BGP_ATTR_FLAG_TRANSITIVE, 100, []byte{1, 2, 3, 4}),
	}

	n := []*Prefix{
		MustPrefix(AFI_IP, "13.2.3.1/32"),
		MustPrefix(AFI_IP, "10.0.0.0/8"),
		MustPrefix(AFI_IP, "0.0.0.0/0"),
	}
	return NewBGPUpdateMessage(w, p, n)
}
