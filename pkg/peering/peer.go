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

package peering

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/bgpd-go/bgpd/internal/pkg/netutils"
	"github.com/bgpd-go/bgpd/internal/pkg/table"
	"github.com/bgpd-go/bgpd/pkg/bgputils"
	"github.com/bgpd-go/bgpd/pkg/config"
	"github.com/bgpd-go/bgpd/pkg/log"
	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
	"github.com/bgpd-go/bgpd/pkg/utils"
)

// Peer is the session with one configured neighbour. It outlives its
// connections. Peer is not safe for concurrent use: every method is called
// from the goroutine that owns the routing table.
type Peer struct {
	global       *config.Global
	conf         *config.Neighbour
	table        *table.Table
	importPolicy *table.Policy
	post         PeerEventCallback
	logger       log.Logger
	hostname     string

	state          FSMState
	conn           *peerConn
	lastConn       *peerConn
	holdTime       uint16
	keepaliveTime  uint16
	keepaliveGen   uint64
	keepaliveTimer *time.Timer
	recvOpen       *bgp.BGPOpen
	capMap         map[bgp.BGPCapabilityCode][]bgp.ParameterCapabilityInterface
	option         *bgp.MarshallingOption
	localAddr      netip.Addr
	uptime         time.Time
	counters       *Counters
}

type PeerOption func(*Peer)

// WithImportPolicy filters and rewrites every announced route before it
// reaches the table.
func WithImportPolicy(p *table.Policy) PeerOption {
	return func(peer *Peer) {
		peer.importPolicy = p
	}
}

// WithHostname sets the name sent in the FQDN capability.
func WithHostname(h string) PeerOption {
	return func(peer *Peer) {
		peer.hostname = h
	}
}

func NewPeer(g *config.Global, n *config.Neighbour, tbl *table.Table, post PeerEventCallback, logger log.Logger, opts ...PeerOption) *Peer {
	p := &Peer{
		global:   g,
		conf:     n,
		table:    tbl,
		post:     post,
		logger:   logger,
		state:    BGP_FSM_IDLE,
		counters: &Counters{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Peer) String() string {
	return p.conf.Address.String()
}

func (p *Peer) Address() netip.Addr {
	return p.conf.Address
}

func (p *Peer) RemoteAS() uint32 {
	return p.conf.RemoteAS
}

func (p *Peer) IsEBGP() bool {
	return p.conf.IsEBGP(p.global)
}

func (p *Peer) State() FSMState {
	return p.state
}

func (p *Peer) IsEstablished() bool {
	return p.state == BGP_FSM_ESTABLISHED
}

func (p *Peer) Counters() *Counters {
	return p.counters
}

func (p *Peer) Password() string {
	return p.conf.Password
}

func (p *Peer) setState(s FSMState) {
	if p.state == s {
		return
	}
	p.logger.Info("peer state changed",
		log.Fields{
			"Topic": "Peer",
			"Key":   p.conf.Address,
			"Old":   p.state,
			"New":   s})
	p.state = s
}

// PlaceConnection hands an accepted connection to the peer. A connection
// already in place is closed first and the routes learned over it are
// purged. The OPEN is sent right away.
func (p *Peer) PlaceConnection(conn net.Conn) error {
	if p.conn != nil {
		p.logger.Info("replacing connection",
			log.Fields{
				"Topic":  "Peer",
				"Key":    p.conf.Address,
				"ConnID": p.conn.id})
		p.closeSession("replaced by a new connection")
	}
	p.conn = newPeerConn(conn, p.conf.Address, p.post, p.counters, p.logger)
	p.localAddr = netutils.LocalAddr(conn)
	p.conn.start()

	if err := p.send(bgputils.BuildOpenMessage(p.global, p.conf, p.hostname)); err != nil {
		p.logger.Warn("failed to send open",
			log.Fields{
				"Topic": "Peer",
				"Key":   p.conf.Address,
				"Error": err})
		p.closeSession("open not sent")
		return err
	}
	p.setState(BGP_FSM_OPENSENT)
	return nil
}

func (p *Peer) send(m *bgp.BGPMessage) error {
	if p.conn == nil {
		return fmt.Errorf("no connection to %s", p.conf.Address)
	}
	b, err := m.Serialize(p.option)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize %s", m.Header.Type)
	}
	if p.logger.GetLevel() >= log.DebugLevel {
		p.logger.Debug("sent",
			log.Fields{
				"Topic": "Peer",
				"Key":   p.conf.Address,
				"State": p.state,
				"Type":  m.Header.Type,
				"Len":   len(b)})
	}
	p.conn.push(m.Header.Type, b)
	return nil
}

func (p *Peer) sendNotification(code, subcode uint8, data []byte) {
	if err := p.send(bgp.NewBGPNotificationMessage(code, subcode, data)); err != nil {
		p.logger.Warn("failed to send notification",
			log.Fields{
				"Topic":   "Peer",
				"Key":     p.conf.Address,
				"Code":    code,
				"Subcode": subcode,
				"Error":   err})
	}
}

// closeSession drops the connection, returns to Idle and withdraws every
// route this peer contributed.
func (p *Peer) closeSession(reason string) {
	p.stopKeepaliveTimer()
	if p.conn != nil {
		p.conn.close()
		p.lastConn = p.conn
		p.conn = nil
	}
	prev := p.state
	p.setState(BGP_FSM_IDLE)
	p.recvOpen = nil
	p.capMap = nil
	p.option = nil
	p.holdTime = 0
	p.keepaliveTime = 0
	p.uptime = time.Time{}

	n := p.table.PurgePeer(p.conf.Address)
	p.logger.Info("peer down",
		log.Fields{
			"Topic":  "Peer",
			"Key":    p.conf.Address,
			"State":  prev,
			"Reason": reason,
			"Purged": n})
}

// Shutdown sends a Cease NOTIFICATION carrying msg and closes the session.
func (p *Peer) Shutdown(msg string) error {
	if p.conn == nil {
		return nil
	}
	err := p.send(bgp.NewBGPNotificationMessage(bgp.BGP_ERROR_CEASE, bgp.BGP_ERROR_SUB_ADMINISTRATIVE_SHUTDOWN, utils.NewAdministrativeCommunication(msg)))
	p.closeSession("administrative shutdown")
	return errors.Wrapf(err, "peer %s", p.conf.Address)
}

// Wait blocks until the goroutines of the last closed connection are done.
func (p *Peer) Wait() {
	if p.lastConn != nil {
		p.lastConn.wait()
	}
}

// nextHopSelf is the address advertised as NEXT_HOP to eBGP peers: the
// local end of the connection, or the router id when that is not IPv4.
func (p *Peer) nextHopSelf() netip.Addr {
	if p.localAddr.Is4() && !p.localAddr.IsUnspecified() {
		return p.localAddr
	}
	return p.global.RouterID
}

// exportAttributes derives the attributes sent to this peer. The shared
// set installed in the table is never modified.
func (p *Peer) exportAttributes(attrs *table.Attributes) []bgp.PathAttributeInterface {
	if !p.IsEBGP() {
		return attrs.List()
	}
	list := attrs.Clone()
	list = table.RemoveAttribute(list, bgp.BGP_ATTR_TYPE_LOCAL_PREF)
	list = table.SetAttribute(list, bgp.NewPathAttributeNextHop(p.nextHopSelf()))
	asPath, _ := attrs.Get(bgp.BGP_ATTR_TYPE_AS_PATH).(*bgp.PathAttributeAsPath)
	return table.SetAttribute(list, bgputils.AppendAS(asPath, p.global.MyAS))
}

// TxUpdate announces nlri with attrs and withdraws withdrawn in one UPDATE,
// or in several when they do not fit in one message.
func (p *Peer) TxUpdate(nlri []*bgp.Prefix, attrs *table.Attributes, withdrawn []*bgp.Prefix) error {
	if !p.IsEstablished() {
		return fmt.Errorf("peer %s is not established: %s", p.conf.Address, p.state)
	}
	var list []bgp.PathAttributeInterface
	if len(nlri) > 0 {
		if attrs == nil {
			return fmt.Errorf("no attributes for %d prefixes", len(nlri))
		}
		list = p.exportAttributes(attrs)
	}
	return p.sendUpdate(withdrawn, list, nlri)
}

func (p *Peer) sendUpdate(withdrawn []*bgp.Prefix, attrs []bgp.PathAttributeInterface, nlri []*bgp.Prefix) error {
	m := bgp.NewBGPUpdateMessage(withdrawn, attrs, nlri)
	b, err := m.Serialize(p.option)
	if err == nil {
		p.conn.push(bgp.BGP_MSG_UPDATE, b)
		return nil
	}
	var merr *bgp.MessageError
	if !errors.As(err, &merr) || merr.TypeCode != 0 {
		return errors.Wrap(err, "failed to serialize update")
	}
	switch {
	case len(nlri) > 1:
		h := len(nlri) / 2
		if err := p.sendUpdate(withdrawn, attrs, nlri[:h]); err != nil {
			return err
		}
		return p.sendUpdate(nil, attrs, nlri[h:])
	case len(withdrawn) > 1:
		h := len(withdrawn) / 2
		if err := p.sendUpdate(withdrawn[:h], nil, nil); err != nil {
			return err
		}
		return p.sendUpdate(withdrawn[h:], attrs, nlri)
	}
	return errors.Wrap(err, "update does not fit in one message")
}

// SendFullTable advertises the best path of every prefix. Routes are only
// redistributed to eBGP peers.
func (p *Peer) SendFullTable() {
	if !p.IsEBGP() {
		if p.logger.GetLevel() >= log.DebugLevel {
			p.logger.Debug("skip full table for ibgp peer",
				log.Fields{
					"Topic": "Peer",
					"Key":   p.conf.Address})
		}
		return
	}
	groups := p.table.BestGroups()
	for _, g := range groups {
		if err := p.TxUpdate(g.NLRI, g.Attrs, nil); err != nil {
			p.logger.Warn("failed to send table",
				log.Fields{
					"Topic": "Peer",
					"Key":   p.conf.Address,
					"Error": err})
			return
		}
	}
	p.logger.Info("sent full table",
		log.Fields{
			"Topic":  "Peer",
			"Key":    p.conf.Address,
			"Groups": len(groups)})
}

func (p *Peer) Snapshot() *PeerState {
	s := &PeerState{
		Address:       p.conf.Address,
		RemoteAS:      p.conf.RemoteAS,
		HoldTime:      p.holdTime,
		KeepaliveTime: p.keepaliveTime,
		State:         p.state,
		LocalAddress:  p.localAddr,
		Uptime:        p.uptime,
		Capabilities:  make([]string, 0, len(p.capMap)),
		Sent:          p.counters.Sent.ByType(),
		Received:      p.counters.Received.ByType(),
		Discarded:     p.counters.Received.Discarded.Load(),
	}
	if p.conn != nil {
		s.ConnID = p.conn.id.String()
	}
	codes := make([]bgp.BGPCapabilityCode, 0, len(p.capMap))
	for c := range p.capMap {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	for _, c := range codes {
		s.Capabilities = append(s.Capabilities, c.String())
	}
	return s
}
