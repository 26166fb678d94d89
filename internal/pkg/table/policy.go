// Copyright (C) 2014-2016 Nippon Telegraph and Telephone Corporation.
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
	"slices"
	"strings"

	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

type RouteType int

const (
	ROUTE_TYPE_NONE RouteType = iota
	ROUTE_TYPE_ACCEPT
	ROUTE_TYPE_REJECT
)

func (t RouteType) String() string {
	switch t {
	case ROUTE_TYPE_ACCEPT:
		return "accept"
	case ROUTE_TYPE_REJECT:
		return "reject"
	}
	return "none"
}

type PolicyAction int

const (
	POLICY_ACTION_ACCEPT PolicyAction = iota
	POLICY_ACTION_DROP
	POLICY_ACTION_PASS
)

var PolicyActionNameMap = map[PolicyAction]string{
	POLICY_ACTION_ACCEPT: "accept",
	POLICY_ACTION_DROP:   "drop",
	POLICY_ACTION_PASS:   "pass",
}

func (a PolicyAction) String() string {
	return PolicyActionNameMap[a]
}

func ParsePolicyAction(s string) (PolicyAction, error) {
	for a, name := range PolicyActionNameMap {
		if strings.EqualFold(name, s) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown policy action %q", s)
}

// PolicyMatch lists the conditions of an entry; nil fields always match.
type PolicyMatch struct {
	Prefix    *bgp.Prefix
	NextHop   *netip.Addr
	LocalPref *uint32
}

func (m *PolicyMatch) Evaluate(nlri *bgp.Prefix, attrs []bgp.PathAttributeInterface) bool {
	if m.Prefix != nil && !m.Prefix.Equal(nlri) {
		return false
	}
	if m.NextHop != nil {
		nh, ok := getAttr[*bgp.PathAttributeNextHop](attrs, bgp.BGP_ATTR_TYPE_NEXT_HOP)
		if !ok || nh.Value != *m.NextHop {
			return false
		}
	}
	if m.LocalPref != nil {
		lp, ok := getAttr[*bgp.PathAttributeLocalPref](attrs, bgp.BGP_ATTR_TYPE_LOCAL_PREF)
		if !ok || lp.Value != *m.LocalPref {
			return false
		}
	}
	return true
}

type PolicySet struct {
	NextHop   *netip.Addr
	LocalPref *uint32
}

func (s *PolicySet) Apply(attrs []bgp.PathAttributeInterface) []bgp.PathAttributeInterface {
	if s.LocalPref != nil {
		attrs = SetAttribute(attrs, bgp.NewPathAttributeLocalPref(*s.LocalPref))
	}
	if s.NextHop != nil {
		attrs = SetAttribute(attrs, bgp.NewPathAttributeNextHop(*s.NextHop))
	}
	return attrs
}

type PolicyEntry struct {
	Match  PolicyMatch
	Set    PolicySet
	Action PolicyAction
}

// Policy is an ordered rule list evaluated top-down; the first matching
// accept or drop decides. Routes that no entry decides are rejected.
type Policy struct {
	Name    string
	Entries []*PolicyEntry
}

func NewPolicy(name string, entries ...*PolicyEntry) *Policy {
	return &Policy{
		Name:    name,
		Entries: entries,
	}
}

// Evaluate runs the policy over a private copy of attrs. The returned
// attributes are only meaningful with ROUTE_TYPE_ACCEPT.
func (p *Policy) Evaluate(nlri *bgp.Prefix, attrs []bgp.PathAttributeInterface) (RouteType, []bgp.PathAttributeInterface) {
	working := cloneAttributes(attrs)
	for _, e := range p.Entries {
		if !e.Match.Evaluate(nlri, working) {
			continue
		}
		working = e.Set.Apply(working)
		switch e.Action {
		case POLICY_ACTION_ACCEPT:
			return ROUTE_TYPE_ACCEPT, working
		case POLICY_ACTION_DROP:
			return ROUTE_TYPE_REJECT, nil
		}
	}
	return ROUTE_TYPE_REJECT, nil
}

// BaselineAttributes is the attribute set of a locally originated route.
func BaselineAttributes() []bgp.PathAttributeInterface {
	return []bgp.PathAttributeInterface{
		bgp.NewPathAttributeLocalPref(DEFAULT_LOCAL_PREF),
		bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
		bgp.NewPathAttributeNextHop(netip.IPv4Unspecified()),
	}
}

// OriginateAttributes returns the attributes a local route is installed
// with: the baseline, run through policy when one is bound.
func OriginateAttributes(nlri *bgp.Prefix, policy *Policy) (RouteType, []bgp.PathAttributeInterface) {
	attrs := BaselineAttributes()
	if policy == nil {
		return ROUTE_TYPE_ACCEPT, attrs
	}
	return policy.Evaluate(nlri, attrs)
}

// SetAttribute replaces the attribute of the same type in attrs, or
// appends it. attrs is modified in place.
func SetAttribute(attrs []bgp.PathAttributeInterface, attr bgp.PathAttributeInterface) []bgp.PathAttributeInterface {
	i := slices.IndexFunc(attrs, func(a bgp.PathAttributeInterface) bool {
		return a.GetType() == attr.GetType()
	})
	if i < 0 {
		return append(attrs, attr)
	}
	attrs[i] = attr
	return attrs
}

// RemoveAttribute drops every attribute of type t from attrs.
func RemoveAttribute(attrs []bgp.PathAttributeInterface, t bgp.BGPAttrType) []bgp.PathAttributeInterface {
	return slices.DeleteFunc(attrs, func(a bgp.PathAttributeInterface) bool {
		return a.GetType() == t
	})
}

func getAttr[T bgp.PathAttributeInterface](attrs []bgp.PathAttributeInterface, t bgp.BGPAttrType) (T, bool) {
	for _, a := range attrs {
		if a.GetType() == t {
			v, ok := a.(T)
			return v, ok
		}
	}
	var zero T
	return zero, false
}
