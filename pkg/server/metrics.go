package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bgpd-go/bgpd/pkg/log"
	"github.com/bgpd-go/bgpd/pkg/peering"
)

type bgpCollector struct {
	server *BgpServer
}

var _ prometheus.Collector = &bgpCollector{}

// NewBgpCollector exposes peer counters and table size of s. Every scrape
// is one round trip through the server goroutine.
func NewBgpCollector(s *BgpServer) prometheus.Collector {
	return &bgpCollector{server: s}
}

var (
	peerLabels = []string{"peer"}

	bgpReceivedMessageDesc = prometheus.NewDesc(
		"bgp_received_message_total",
		"Number of received BGP messages from peer by type",
		[]string{"peer", "type"}, nil,
	)
	bgpSentMessageDesc = prometheus.NewDesc(
		"bgp_sent_message_total",
		"Number of sent BGP messages to peer by type",
		[]string{"peer", "type"}, nil,
	)
	bgpReceivedDiscardedTotalDesc = prometheus.NewDesc(
		"bgp_received_discarded_total",
		"Number of discarded BGP messages from peer",
		peerLabels, nil,
	)
	bgpPeerStateDesc = prometheus.NewDesc(
		"bgp_peer_state",
		"FSM state of the peer (0 idle, 1 opensent, 2 openconfirm, 3 established)",
		peerLabels, nil,
	)
	bgpPeerUptimeDesc = prometheus.NewDesc(
		"bgp_peer_established_timestamp_seconds",
		"Unix time the session with the peer was established",
		peerLabels, nil,
	)
	bgpTableDestinationsDesc = prometheus.NewDesc(
		"bgp_table_destinations",
		"Number of prefixes in the routing table",
		nil, nil,
	)
	bgpTablePathsDesc = prometheus.NewDesc(
		"bgp_table_paths",
		"Number of paths in the routing table",
		nil, nil,
	)
	bgpTableAttributeSetsDesc = prometheus.NewDesc(
		"bgp_table_attribute_sets",
		"Number of distinct attribute sets shared by paths",
		nil, nil,
	)
)

func (c *bgpCollector) Describe(out chan<- *prometheus.Desc) {
	out <- bgpReceivedMessageDesc
	out <- bgpSentMessageDesc
	out <- bgpReceivedDiscardedTotalDesc
	out <- bgpPeerStateDesc
	out <- bgpPeerUptimeDesc
	out <- bgpTableDestinationsDesc
	out <- bgpTablePathsDesc
	out <- bgpTableAttributeSetsDesc
}

func (c *bgpCollector) Collect(out chan<- prometheus.Metric) {
	peers, err := c.server.ListPeer()
	if err != nil {
		c.server.logger.Debug("skipping metrics collection",
			log.Fields{
				"Topic": "Server",
				"Error": err})
		return
	}
	for _, p := range peers {
		c.collectPeer(out, p)
	}

	info, err := c.server.TableInfo()
	if err != nil {
		return
	}
	out <- prometheus.MustNewConstMetric(bgpTableDestinationsDesc, prometheus.GaugeValue, float64(info.Destinations))
	out <- prometheus.MustNewConstMetric(bgpTablePathsDesc, prometheus.GaugeValue, float64(info.Paths))
	out <- prometheus.MustNewConstMetric(bgpTableAttributeSetsDesc, prometheus.GaugeValue, float64(info.AttributeSets))
}

func (c *bgpCollector) collectPeer(out chan<- prometheus.Metric, p *peering.PeerState) {
	addr := p.Address.String()
	for typ, n := range p.Received {
		out <- prometheus.MustNewConstMetric(bgpReceivedMessageDesc, prometheus.CounterValue, float64(n), addr, typ)
	}
	for typ, n := range p.Sent {
		out <- prometheus.MustNewConstMetric(bgpSentMessageDesc, prometheus.CounterValue, float64(n), addr, typ)
	}
	out <- prometheus.MustNewConstMetric(bgpReceivedDiscardedTotalDesc, prometheus.CounterValue, float64(p.Discarded), addr)
	out <- prometheus.MustNewConstMetric(bgpPeerStateDesc, prometheus.GaugeValue, float64(p.State), addr)
	var uptime float64
	if !p.Uptime.IsZero() {
		uptime = float64(p.Uptime.Unix())
	}
	out <- prometheus.MustNewConstMetric(bgpPeerUptimeDesc, prometheus.GaugeValue, uptime, addr)
}
