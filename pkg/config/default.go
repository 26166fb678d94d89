package config

import (
	"fmt"
	"io"
	"net/netip"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

const (
	DEFAULT_HOLDTIME        = 90
	DEFAULT_ADMIN_SOCKET    = "/var/run/bgpd.sock"
	DEFAULT_ADMIN_MAX_CONNS = 4
)

func SetDefaultConfigValues(v *viper.Viper, c *Config) error {
	if v == nil {
		v = viper.New()
	}
	if c.ListenPort == 0 {
		c.ListenPort = bgp.BGP_PORT
	}
	if !v.IsSet("hold_time") {
		c.HoldTime = DEFAULT_HOLDTIME
	}
	if c.Admin.SocketPath == "" {
		c.Admin.SocketPath = DEFAULT_ADMIN_SOCKET
	}
	if c.Admin.MaxConnections == 0 {
		c.Admin.MaxConnections = DEFAULT_ADMIN_MAX_CONNS
	}
	if c.Policies == nil {
		c.Policies = map[string]PolicyDefinition{}
	}
	return nil
}

// NewDefaultConfig is the starter configuration written by GenerateDefault.
func NewDefaultConfig() *Config {
	lp := uint32(200)
	return &Config{
		Global: Global{
			ListenPort: bgp.BGP_PORT,
			MyAS:       31337,
			HoldTime:   60,
			RouterID:   netip.MustParseAddr("1.2.3.4"),
		},
		Neighbours: []Neighbour{
			{RemoteAS: 31337, Address: netip.MustParseAddr("127.0.0.1")},
			{RemoteAS: 31337, Address: netip.MustParseAddr("1.1.1.1")},
		},
		OriginateRoutes: []OriginateRoute{
			{Prefix: "1.2.3.4/32"},
			{Prefix: "6.6.6.6/32", PolicyName: "route_policy1"},
		},
		Policies: map[string]PolicyDefinition{
			"route_policy1": {
				Entries: []PolicyEntry{
					{MatchPrefixV4: "6.6.6.6/32", SetLocalPref: &lp, Action: "accept"},
				},
			},
		},
		Admin: Admin{
			SocketPath:     DEFAULT_ADMIN_SOCKET,
			MaxConnections: DEFAULT_ADMIN_MAX_CONNS,
		},
	}
}

// GenerateDefault writes the starter configuration to w as yaml or toml.
func GenerateDefault(w io.Writer, format string) error {
	c := NewDefaultConfig()
	switch format {
	case "", "yaml", "yml":
		b, err := yaml.Marshal(c)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case "toml":
		return toml.NewEncoder(w).Encode(c)
	}
	return fmt.Errorf("unsupported config format %q", format)
}
