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

package config

import (
	"fmt"
	"net/netip"
	"strings"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/bgpd-go/bgpd/internal/pkg/table"
	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

// Global holds the speaker-wide settings. Its keys sit at the top level of
// the configuration file.
type Global struct {
	ListenPort    uint16     `mapstructure:"listen_on_port" yaml:"listen_on_port" toml:"listen_on_port"`
	ListenAddress string     `mapstructure:"listen_address" yaml:"listen_address,omitempty" toml:"listen_address,omitempty"`
	MyAS          uint32     `mapstructure:"my_as" yaml:"my_as" toml:"my_as"`
	HoldTime      uint16     `mapstructure:"hold_time" yaml:"hold_time" toml:"hold_time"`
	RouterID      netip.Addr `mapstructure:"bgp_router_id" yaml:"bgp_router_id" toml:"bgp_router_id"`
}

type Neighbour struct {
	RemoteAS uint32     `mapstructure:"remote_as" yaml:"remote_as" toml:"remote_as"`
	Address  netip.Addr `mapstructure:"address" yaml:"address" toml:"address"`
	// zero inherits the global hold time
	HoldTime     uint16 `mapstructure:"hold_time" yaml:"hold_time,omitempty" toml:"hold_time,omitempty"`
	Password     string `mapstructure:"password" yaml:"password,omitempty" toml:"password,omitempty"`
	ImportPolicy string `mapstructure:"import_policy" yaml:"import_policy,omitempty" toml:"import_policy,omitempty"`
}

// LocalHoldTime is the hold time offered in OPEN to this neighbour.
func (n *Neighbour) LocalHoldTime(g *Global) uint16 {
	if n.HoldTime != 0 {
		return n.HoldTime
	}
	return g.HoldTime
}

func (n *Neighbour) IsEBGP(g *Global) bool {
	return n.RemoteAS != g.MyAS
}

type OriginateRoute struct {
	Prefix     string `mapstructure:"prefix" yaml:"prefix" toml:"prefix"`
	PolicyName string `mapstructure:"policy_name" yaml:"policy_name,omitempty" toml:"policy_name,omitempty"`
}

type PolicyEntry struct {
	MatchPrefixV4  string  `mapstructure:"match_prefix_v4" yaml:"match_prefix_v4,omitempty" toml:"match_prefix_v4,omitempty"`
	MatchNexthop   string  `mapstructure:"match_nexthop" yaml:"match_nexthop,omitempty" toml:"match_nexthop,omitempty"`
	MatchLocalPref *uint32 `mapstructure:"match_localpref" yaml:"match_localpref,omitempty" toml:"match_localpref,omitempty"`
	SetNexthop     string  `mapstructure:"set_nexthop" yaml:"set_nexthop,omitempty" toml:"set_nexthop,omitempty"`
	SetLocalPref   *uint32 `mapstructure:"set_localpref" yaml:"set_localpref,omitempty" toml:"set_localpref,omitempty"`
	Action         string  `mapstructure:"action" yaml:"action" toml:"action"`
}

type PolicyDefinition struct {
	Entries []PolicyEntry `mapstructure:"entries" yaml:"entries" toml:"entries"`
}

type Admin struct {
	SocketPath     string `mapstructure:"socket_path" yaml:"socket_path" toml:"socket_path"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections" toml:"max_connections"`
}

type Config struct {
	Global          `mapstructure:",squash" yaml:",inline"`
	Neighbours      []Neighbour                 `mapstructure:"neighbours" yaml:"neighbours" toml:"neighbours"`
	OriginateRoutes []OriginateRoute            `mapstructure:"originate_routes" yaml:"originate_routes" toml:"originate_routes"`
	Policies        map[string]PolicyDefinition `mapstructure:"policies" yaml:"policies,omitempty" toml:"policies,omitempty"`
	Admin           Admin                       `mapstructure:"admin" yaml:"admin" toml:"admin"`
}

// policyKey normalizes policy names; the file loader folds map keys to
// lower case.
func policyKey(name string) string {
	return strings.ToLower(name)
}

func (c *Config) policy(name string) (PolicyDefinition, bool) {
	for k, p := range c.Policies {
		if policyKey(k) == policyKey(name) {
			return p, true
		}
	}
	return PolicyDefinition{}, false
}

func (c *Config) Neighbour(addr netip.Addr) *Neighbour {
	for i := range c.Neighbours {
		if c.Neighbours[i].Address == addr {
			return &c.Neighbours[i]
		}
	}
	return nil
}

// Validate reports every problem found in the configuration at once.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.MyAS == 0 {
		errs = multierror.Append(errs, fmt.Errorf("my_as must be set"))
	}
	if !c.RouterID.Is4() {
		errs = multierror.Append(errs, fmt.Errorf("bgp_router_id must be an IPv4 address"))
	}
	if c.HoldTime != 0 && c.HoldTime < 3 {
		errs = multierror.Append(errs, fmt.Errorf("hold_time %d: must be 0 or at least 3", c.HoldTime))
	}
	if c.ListenAddress != "" {
		if _, err := netip.ParseAddr(c.ListenAddress); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("listen_address: %w", err))
		}
	}

	seen := make(map[netip.Addr]struct{}, len(c.Neighbours))
	for _, n := range c.Neighbours {
		if !n.Address.Is4() {
			errs = multierror.Append(errs, fmt.Errorf("neighbour %s: address must be IPv4", n.Address))
			continue
		}
		if _, ok := seen[n.Address]; ok {
			errs = multierror.Append(errs, fmt.Errorf("neighbour %s: duplicated", n.Address))
		}
		seen[n.Address] = struct{}{}
		if n.RemoteAS == 0 {
			errs = multierror.Append(errs, fmt.Errorf("neighbour %s: remote_as must be set", n.Address))
		}
		if n.HoldTime != 0 && n.HoldTime < 3 {
			errs = multierror.Append(errs, fmt.Errorf("neighbour %s: hold_time %d: must be 0 or at least 3", n.Address, n.HoldTime))
		}
		if len(n.Password) > 80 {
			errs = multierror.Append(errs, fmt.Errorf("neighbour %s: password longer than 80 bytes", n.Address))
		}
		if n.ImportPolicy != "" {
			if _, ok := c.policy(n.ImportPolicy); !ok {
				errs = multierror.Append(errs, fmt.Errorf("neighbour %s: unknown import_policy %q", n.Address, n.ImportPolicy))
			}
		}
	}

	for _, r := range c.OriginateRoutes {
		if _, err := bgp.NewPrefixFromString(bgp.AFI_IP, r.Prefix); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("originate_routes %q: %w", r.Prefix, err))
		}
		if r.PolicyName != "" {
			if _, ok := c.policy(r.PolicyName); !ok {
				errs = multierror.Append(errs, fmt.Errorf("originate_routes %q: unknown policy %q", r.Prefix, r.PolicyName))
			}
		}
	}

	for name, p := range c.Policies {
		if _, err := NewPolicy(name, p); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// NewPolicy converts a policy definition into its table form.
func NewPolicy(name string, def PolicyDefinition) (*table.Policy, error) {
	entries := make([]*table.PolicyEntry, 0, len(def.Entries))
	for i, e := range def.Entries {
		entry, err := newPolicyEntry(e)
		if err != nil {
			return nil, fmt.Errorf("policy %s entry %d: %w", name, i, err)
		}
		entries = append(entries, entry)
	}
	return table.NewPolicy(policyKey(name), entries...), nil
}

func newPolicyEntry(e PolicyEntry) (*table.PolicyEntry, error) {
	action, err := table.ParsePolicyAction(e.Action)
	if err != nil {
		return nil, err
	}
	entry := &table.PolicyEntry{Action: action}
	if e.MatchPrefixV4 != "" {
		p, err := bgp.NewPrefixFromString(bgp.AFI_IP, e.MatchPrefixV4)
		if err != nil {
			return nil, fmt.Errorf("match_prefix_v4: %w", err)
		}
		entry.Match.Prefix = p
	}
	if e.MatchNexthop != "" {
		a, err := parseIPv4(e.MatchNexthop)
		if err != nil {
			return nil, fmt.Errorf("match_nexthop: %w", err)
		}
		entry.Match.NextHop = &a
	}
	if e.MatchLocalPref != nil {
		v := *e.MatchLocalPref
		entry.Match.LocalPref = &v
	}
	if e.SetNexthop != "" {
		a, err := parseIPv4(e.SetNexthop)
		if err != nil {
			return nil, fmt.Errorf("set_nexthop: %w", err)
		}
		entry.Set.NextHop = &a
	}
	if e.SetLocalPref != nil {
		v := *e.SetLocalPref
		entry.Set.LocalPref = &v
	}
	return entry, nil
}

func parseIPv4(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return a, err
	}
	if !a.Is4() {
		return a, fmt.Errorf("%s is not an IPv4 address", s)
	}
	return a, nil
}

// Policy returns the named policy, or nil for an empty name.
func (c *Config) Policy(name string) (*table.Policy, error) {
	if name == "" {
		return nil, nil
	}
	def, ok := c.policy(name)
	if !ok {
		return nil, fmt.Errorf("unknown policy %q", name)
	}
	return NewPolicy(name, def)
}
