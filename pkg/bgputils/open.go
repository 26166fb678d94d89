package bgputils

import (
	"strings"

	"github.com/bgpd-go/bgpd/pkg/config"
	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

// LocalCapabilities lists what this speaker advertises in OPEN. The FQDN
// capability is left out when hostname is empty.
func LocalCapabilities(gConf *config.Global, hostname string) []bgp.ParameterCapabilityInterface {
	caps := []bgp.ParameterCapabilityInterface{
		bgp.NewCapRouteRefresh(),
		bgp.NewCapFourOctetASNumber(gConf.MyAS),
		bgp.NewCapMultiProtocol(bgp.AFI_IP, bgp.SAFI_UNICAST),
	}
	if hostname != "" {
		host, domain, _ := strings.Cut(hostname, ".")
		caps = append(caps, bgp.NewCapFQDN(host, domain))
	}
	return caps
}

func BuildOpenMessage(gConf *config.Global, pConf *config.Neighbour, hostname string) *bgp.BGPMessage {
	opt := bgp.NewOptionParameterCapability(LocalCapabilities(gConf, hostname))
	as := gConf.MyAS
	if as > 1<<16-1 {
		as = bgp.AS_TRANS
	}
	return bgp.NewBGPOpenMessage(uint16(as), pConf.LocalHoldTime(gConf), gConf.RouterID,
		[]bgp.OptionParameterInterface{opt})
}

// Open2Cap indexes the capabilities a peer sent by code.
func Open2Cap(open *bgp.BGPOpen) map[bgp.BGPCapabilityCode][]bgp.ParameterCapabilityInterface {
	capMap := make(map[bgp.BGPCapabilityCode][]bgp.ParameterCapabilityInterface)
	for _, c := range open.Capabilities() {
		capMap[c.Code()] = append(capMap[c.Code()], c)
	}
	// remote open message may not include multi-protocol capability
	if _, y := capMap[bgp.BGP_CAP_MULTIPROTOCOL]; !y {
		capMap[bgp.BGP_CAP_MULTIPROTOCOL] = []bgp.ParameterCapabilityInterface{bgp.NewCapMultiProtocol(bgp.AFI_IP, bgp.SAFI_UNICAST)}
	}
	return capMap
}
