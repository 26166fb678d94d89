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
	"bytes"
	"net/netip"
	"slices"
	"strings"

	farm "github.com/dgryski/go-farm"

	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

// DEFAULT_LOCAL_PREF is assumed for paths received without LOCAL_PREF.
const DEFAULT_LOCAL_PREF = 100

// canonical encoding used for hashing and equality; four octet so no AS
// number is lost
var internOption = &bgp.MarshallingOption{FourOctetAS: true}

// Attributes is an immutable path attribute set shared by every path that
// carries an identical set. Never modify the attributes returned by List
// or Get; derive a private copy with Clone instead.
type Attributes struct {
	list []bgp.PathAttributeInterface
	raw  []byte
	hash uint64
	refs int
}

func newAttributes(list []bgp.PathAttributeInterface) (*Attributes, error) {
	l := slices.Clone(list)
	slices.SortStableFunc(l, func(a, b bgp.PathAttributeInterface) int {
		return int(a.GetType()) - int(b.GetType())
	})
	raw, err := bgp.SerializeAttributes(l, internOption)
	if err != nil {
		return nil, err
	}
	return &Attributes{
		list: l,
		raw:  raw,
		hash: farm.Hash64(raw),
	}, nil
}

// NewAttributes builds a standalone set that is not interned in any table.
func NewAttributes(list []bgp.PathAttributeInterface) (*Attributes, error) {
	return newAttributes(list)
}

func (a *Attributes) List() []bgp.PathAttributeInterface {
	return slices.Clone(a.list)
}

func (a *Attributes) Len() int {
	return len(a.list)
}

func (a *Attributes) Get(t bgp.BGPAttrType) bgp.PathAttributeInterface {
	for _, attr := range a.list {
		if attr.GetType() == t {
			return attr
		}
	}
	return nil
}

// Equal compares the sets by value.
func (a *Attributes) Equal(o *Attributes) bool {
	if a == o {
		return true
	}
	if a == nil || o == nil {
		return false
	}
	return a.hash == o.hash && bytes.Equal(a.raw, o.raw)
}

// Clone returns deep copies of every attribute, safe to modify.
func (a *Attributes) Clone() []bgp.PathAttributeInterface {
	return cloneAttributes(a.list)
}

func (a *Attributes) LocalPref() (uint32, bool) {
	if p, ok := a.Get(bgp.BGP_ATTR_TYPE_LOCAL_PREF).(*bgp.PathAttributeLocalPref); ok {
		return p.Value, true
	}
	return 0, false
}

func (a *Attributes) MED() (uint32, bool) {
	if p, ok := a.Get(bgp.BGP_ATTR_TYPE_MULTI_EXIT_DISC).(*bgp.PathAttributeMultiExitDisc); ok {
		return p.Value, true
	}
	return 0, false
}

func (a *Attributes) Origin() (uint8, bool) {
	if p, ok := a.Get(bgp.BGP_ATTR_TYPE_ORIGIN).(*bgp.PathAttributeOrigin); ok {
		return p.Value, true
	}
	return 0, false
}

func (a *Attributes) NextHop() (netip.Addr, bool) {
	if p, ok := a.Get(bgp.BGP_ATTR_TYPE_NEXT_HOP).(*bgp.PathAttributeNextHop); ok {
		return p.Value, true
	}
	return netip.Addr{}, false
}

func (a *Attributes) ASPath() *bgp.PathAttributeAsPath {
	if p, ok := a.Get(bgp.BGP_ATTR_TYPE_AS_PATH).(*bgp.PathAttributeAsPath); ok {
		return p
	}
	return nil
}

func (a *Attributes) ASPathLen() (int, bool) {
	if p := a.ASPath(); p != nil {
		return p.ASLen(), true
	}
	return 0, false
}

func (a *Attributes) String() string {
	s := make([]string, 0, len(a.list))
	for _, attr := range a.list {
		s = append(s, attr.String())
	}
	return "[" + strings.Join(s, ", ") + "]"
}

func cloneAttributes(list []bgp.PathAttributeInterface) []bgp.PathAttributeInterface {
	l := make([]bgp.PathAttributeInterface, 0, len(list))
	for _, attr := range list {
		l = append(l, cloneAttribute(attr))
	}
	return l
}

func cloneAttribute(attr bgp.PathAttributeInterface) bgp.PathAttributeInterface {
	switch a := attr.(type) {
	case *bgp.PathAttributeOrigin:
		c := *a
		return &c
	case *bgp.PathAttributeAsPath:
		c := *a
		c.Value = make([]*bgp.AsPathParam, 0, len(a.Value))
		for _, param := range a.Value {
			c.Value = append(c.Value, bgp.NewAsPathParam(param.Type, slices.Clone(param.AS)))
		}
		return &c
	case *bgp.PathAttributeNextHop:
		c := *a
		return &c
	case *bgp.PathAttributeMultiExitDisc:
		c := *a
		return &c
	case *bgp.PathAttributeLocalPref:
		c := *a
		return &c
	case *bgp.PathAttributeAtomicAggregate:
		c := *a
		return &c
	case *bgp.PathAttributeAggregator:
		c := *a
		return &c
	case *bgp.PathAttributeUnknown:
		c := *a
		c.Value = slices.Clone(a.Value)
		return &c
	}
	return attr
}

// attrPool interns attribute sets by value. Lookups hash the canonical
// encoding with farm and confirm with a byte comparison.
type attrPool struct {
	sets map[uint64][]*Attributes
}

func newAttrPool() *attrPool {
	return &attrPool{
		sets: make(map[uint64][]*Attributes),
	}
}

// intern returns the shared instance equal to list and takes a reference.
func (p *attrPool) intern(list []bgp.PathAttributeInterface) (*Attributes, error) {
	a, err := newAttributes(list)
	if err != nil {
		return nil, err
	}
	for _, s := range p.sets[a.hash] {
		if bytes.Equal(s.raw, a.raw) {
			s.refs++
			return s, nil
		}
	}
	a.refs = 1
	p.sets[a.hash] = append(p.sets[a.hash], a)
	return a, nil
}

// release drops a reference, forgetting the set once unused.
func (p *attrPool) release(a *Attributes) {
	if a == nil {
		return
	}
	a.refs--
	if a.refs > 0 {
		return
	}
	l := p.sets[a.hash]
	for i, s := range l {
		if s == a {
			l = slices.Delete(l, i, i+1)
			break
		}
	}
	if len(l) == 0 {
		delete(p.sets, a.hash)
	} else {
		p.sets[a.hash] = l
	}
}

func (p *attrPool) len() int {
	n := 0
	for _, l := range p.sets {
		n += len(l)
	}
	return n
}
