// Copyright (C) 2014-2021 Nippon Telegraph and Telephone Corporation.
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
	"time"

	"github.com/pkg/errors"

	"github.com/bgpd-go/bgpd/internal/pkg/table"
	"github.com/bgpd-go/bgpd/pkg/bgputils"
	"github.com/bgpd-go/bgpd/pkg/log"
	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
	"github.com/bgpd-go/bgpd/pkg/utils"
)

// HandleEvent dispatches an event posted by a connection or a timer.
// Events from a connection that was replaced or closed are dropped.
func (p *Peer) HandleEvent(ev *Event) {
	switch ev.Type {
	case EventMessage, EventConnError:
		if p.conn == nil || p.conn.id != ev.ConnID {
			if p.logger.GetLevel() >= log.DebugLevel {
				p.logger.Debug("event from stale connection",
					log.Fields{
						"Topic":  "Peer",
						"Key":    p.conf.Address,
						"ConnID": ev.ConnID,
						"Event":  ev.Type})
			}
			return
		}
		if ev.Type == EventMessage {
			p.HandleMessage(ev.Payload)
		} else {
			p.HandleConnError(ev.Err)
		}
	case EventKeepalive:
		p.KeepaliveTimerFired(ev.Generation)
	}
}

// HandleConnError treats a failed connection as a lost session. Framing
// errors found by the reader are answered with a NOTIFICATION first.
func (p *Peer) HandleConnError(err error) {
	var merr *bgp.MessageError
	if errors.As(err, &merr) {
		p.sendNotification(merr.TypeCode, merr.SubTypeCode, merr.Data)
	}
	p.logger.Warn("connection lost",
		log.Fields{
			"Topic": "Peer",
			"Key":   p.conf.Address,
			"State": p.state,
			"Error": err})
	p.closeSession(err.Error())
}

// HandleMessage decodes one framed message and runs the receive handler
// for its type.
func (p *Peer) HandleMessage(raw []byte) {
	m, err := bgp.ParseBGPMessage(raw, p.option)
	if err != nil {
		p.handleParseError(raw, err)
		return
	}
	p.counters.Received.count(m.Header.Type)
	if p.logger.GetLevel() >= log.DebugLevel {
		p.logger.Debug("received",
			log.Fields{
				"Topic": "Peer",
				"Key":   p.conf.Address,
				"State": p.state,
				"Type":  m.Header.Type,
				"Len":   m.Header.Len})
	}

	switch body := m.Body.(type) {
	case *bgp.BGPOpen:
		p.rxOpen(body)
	case *bgp.BGPKeepAlive:
		p.rxKeepalive()
	case *bgp.BGPUpdate:
		p.rxUpdate(body)
	case *bgp.BGPNotification:
		p.rxNotification(body)
	case *bgp.BGPRouteRefresh:
		p.rxRouteRefresh(body)
	}
}

// handleParseError drops a malformed UPDATE and keeps the session. Any
// other malformed message ends the session with a NOTIFICATION.
func (p *Peer) handleParseError(raw []byte, err error) {
	p.counters.Received.Discarded.Add(1)
	typ := bgp.BGPMessageType(0)
	if len(raw) >= bgp.BGP_HEADER_LENGTH {
		typ = bgp.BGPMessageType(raw[bgp.BGP_HEADER_LENGTH-1])
	}
	if typ == bgp.BGP_MSG_UPDATE {
		p.logger.Warn("malformed update dropped",
			log.Fields{
				"Topic": "Peer",
				"Key":   p.conf.Address,
				"State": p.state,
				"Error": err})
		return
	}
	p.logger.Warn("malformed message",
		log.Fields{
			"Topic": "Peer",
			"Key":   p.conf.Address,
			"State": p.state,
			"Type":  typ,
			"Error": err})
	var merr *bgp.MessageError
	if errors.As(err, &merr) {
		p.sendNotification(merr.TypeCode, merr.SubTypeCode, merr.Data)
	}
	p.closeSession("malformed " + typ.String())
}

// fsmError answers a message that is not valid in the current state.
func (p *Peer) fsmError(typ bgp.BGPMessageType) {
	p.logger.Warn("unexpected message",
		log.Fields{
			"Topic": "Peer",
			"Key":   p.conf.Address,
			"State": p.state,
			"Type":  typ})
	p.sendNotification(bgp.BGP_ERROR_FSM_ERROR, bgp.BGP_ERROR_SUB_FSM_ERROR, nil)
	p.closeSession("unexpected " + typ.String() + " in " + p.state.String())
}

func (p *Peer) rxOpen(body *bgp.BGPOpen) {
	if p.state != BGP_FSM_OPENSENT {
		p.fsmError(bgp.BGP_MSG_OPEN)
		return
	}
	as, err := bgp.ValidateOpenMsg(body, p.conf.RemoteAS)
	if err != nil {
		p.logger.Warn("open rejected",
			log.Fields{
				"Topic": "Peer",
				"Key":   p.conf.Address,
				"AS":    body.MyAS,
				"Error": err})
		var merr *bgp.MessageError
		if errors.As(err, &merr) {
			p.sendNotification(merr.TypeCode, merr.SubTypeCode, merr.Data)
		}
		p.closeSession(err.Error())
		return
	}

	p.recvOpen = body
	p.capMap = bgputils.Open2Cap(body)
	if _, y := p.capMap[bgp.BGP_CAP_FOUR_OCTET_AS_NUMBER]; y {
		p.option = &bgp.MarshallingOption{FourOctetAS: true}
	}
	p.holdTime = min(p.conf.LocalHoldTime(p.global), body.HoldTime)
	p.keepaliveTime = p.holdTime / 3

	p.logger.Info("open received",
		log.Fields{
			"Topic":         "Peer",
			"Key":           p.conf.Address,
			"AS":            as,
			"RouterID":      body.ID,
			"HoldTime":      p.holdTime,
			"KeepaliveTime": p.keepaliveTime})

	if err := p.send(bgp.NewBGPKeepAliveMessage()); err != nil {
		p.logger.Warn("failed to send keepalive",
			log.Fields{
				"Topic": "Peer",
				"Key":   p.conf.Address,
				"Error": err})
	}
	p.setState(BGP_FSM_OPENCONFIRM)
}

func (p *Peer) rxKeepalive() {
	switch p.state {
	case BGP_FSM_OPENSENT, BGP_FSM_OPENCONFIRM:
		p.setState(BGP_FSM_ESTABLISHED)
		p.uptime = time.Now()
		p.startKeepaliveTimer()
		p.SendFullTable()
	case BGP_FSM_ESTABLISHED:
	default:
		p.closeSession("unexpected keepalive in " + p.state.String())
	}
}

func (p *Peer) rxUpdate(body *bgp.BGPUpdate) {
	if p.state != BGP_FSM_ESTABLISHED {
		p.fsmError(bgp.BGP_MSG_UPDATE)
		return
	}
	if _, err := bgp.ValidateUpdateMsg(body); err != nil {
		p.counters.Received.Discarded.Add(1)
		p.logger.Warn("invalid update dropped",
			log.Fields{
				"Topic": "Peer",
				"Key":   p.conf.Address,
				"Error": err})
		return
	}
	asPath, _ := body.Attribute(bgp.BGP_ATTR_TYPE_AS_PATH).(*bgp.PathAttributeAsPath)
	if bgputils.HasOwnASLoop(p.table.LocalAS(), 0, asPath) {
		p.counters.Received.Discarded.Add(1)
		p.logger.Info("update with own AS dropped",
			log.Fields{
				"Topic":  "Peer",
				"Key":    p.conf.Address,
				"AsPath": asPath})
		return
	}

	source := p.conf.Address
	for _, w := range body.WithdrawnRoutes {
		p.table.DelPath(w, source)
	}
	for _, n := range body.NLRI {
		attrs := body.PathAttributes
		if p.importPolicy != nil {
			rt, a := p.importPolicy.Evaluate(n, attrs)
			if rt == table.ROUTE_TYPE_REJECT {
				if p.logger.GetLevel() >= log.DebugLevel {
					p.logger.Debug("rejected by import policy",
						log.Fields{
							"Topic":  "Policy",
							"Key":    n,
							"Peer":   source,
							"Policy": p.importPolicy.Name})
				}
				p.table.DelPath(n, source)
				continue
			}
			attrs = a
		}
		if _, err := p.table.AddPath(n, attrs, source); err != nil {
			p.logger.Warn("failed to install path",
				log.Fields{
					"Topic": "Peer",
					"Key":   p.conf.Address,
					"Nlri":  n,
					"Error": err})
		}
	}
	p.table.BestPathSelectionAll()
}

func (p *Peer) rxNotification(body *bgp.BGPNotification) {
	fields := log.Fields{
		"Topic":   "Peer",
		"Key":     p.conf.Address,
		"State":   p.state,
		"Code":    body.ErrorCode,
		"Subcode": body.ErrorSubcode,
	}
	if body.ErrorCode == bgp.BGP_ERROR_CEASE && (body.ErrorSubcode == bgp.BGP_ERROR_SUB_ADMINISTRATIVE_SHUTDOWN || body.ErrorSubcode == bgp.BGP_ERROR_SUB_ADMINISTRATIVE_RESET) {
		communication, rest := utils.DecodeAdministrativeCommunication(body.Data)
		fields["Communicated-Reason"] = communication
		fields["Data"] = rest
	} else {
		fields["Data"] = body.Data
	}
	p.logger.Warn("received notification", fields)
	p.closeSession("notification received")
}

func (p *Peer) rxRouteRefresh(body *bgp.BGPRouteRefresh) {
	if p.state != BGP_FSM_ESTABLISHED {
		p.fsmError(bgp.BGP_MSG_ROUTE_REFRESH)
		return
	}
	if body.AFI != bgp.AFI_IP || body.SAFI != bgp.SAFI_UNICAST {
		p.logger.Warn("route refresh for unsupported family",
			log.Fields{
				"Topic": "Peer",
				"Key":   p.conf.Address,
				"AFI":   body.AFI,
				"SAFI":  body.SAFI})
		return
	}
	p.SendFullTable()
}
