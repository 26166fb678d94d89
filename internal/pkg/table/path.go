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

package table

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

// PeerID identifies the neighbour a path was learned from by its
// configured address. The zero value stands for locally originated routes.
type PeerID = netip.Addr

// LocalPeer is the source of locally originated paths.
var LocalPeer = PeerID{}

// Path is one candidate route for a prefix.
type Path struct {
	nlri      *bgp.Prefix
	attrs     *Attributes
	source    PeerID
	timestamp time.Time
	best      bool
}

func (p *Path) GetNlri() *bgp.Prefix {
	return p.nlri
}

func (p *Path) Attributes() *Attributes {
	return p.attrs
}

func (p *Path) Source() PeerID {
	return p.source
}

func (p *Path) IsLocal() bool {
	return !p.source.IsValid()
}

func (p *Path) Timestamp() time.Time {
	return p.timestamp
}

func (p *Path) IsBest() bool {
	return p.best
}

func (p *Path) GetLocalPref() (uint32, bool) {
	return p.attrs.LocalPref()
}

func (p *Path) GetMed() (uint32, bool) {
	return p.attrs.MED()
}

func (p *Path) GetOrigin() (uint8, bool) {
	return p.attrs.Origin()
}

func (p *Path) GetAsPathLen() (int, bool) {
	return p.attrs.ASPathLen()
}

func (p *Path) GetNexthop() (netip.Addr, bool) {
	return p.attrs.NextHop()
}

func (p *Path) SourceString() string {
	if p.IsLocal() {
		return "local"
	}
	return p.source.String()
}

func (p *Path) String() string {
	s := fmt.Sprintf("{ %s | src: %s", p.nlri, p.SourceString())
	if nh, ok := p.GetNexthop(); ok {
		s += fmt.Sprintf(", nh: %s", nh)
	}
	if p.best {
		s += ", best"
	}
	return s + " }"
}
