package peering

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

type FSMState int

const (
	BGP_FSM_IDLE FSMState = iota
	BGP_FSM_OPENSENT
	BGP_FSM_OPENCONFIRM
	BGP_FSM_ESTABLISHED
)

func (s FSMState) String() string {
	switch s {
	case BGP_FSM_IDLE:
		return "BGP_FSM_IDLE"
	case BGP_FSM_OPENSENT:
		return "BGP_FSM_OPENSENT"
	case BGP_FSM_OPENCONFIRM:
		return "BGP_FSM_OPENCONFIRM"
	case BGP_FSM_ESTABLISHED:
		return "BGP_FSM_ESTABLISHED"
	}
	return "UNKNOWN"
}

type EventType uint8

const (
	// EventMessage carries one framed BGP message in Payload.
	EventMessage EventType = iota
	// EventConnError reports the end of a connection.
	EventConnError
	// EventKeepalive is the keepalive timer firing.
	EventKeepalive
)

func (t EventType) String() string {
	switch t {
	case EventMessage:
		return "message"
	case EventConnError:
		return "conn-error"
	case EventKeepalive:
		return "keepalive"
	}
	return "unknown"
}

// Event is posted from connection goroutines and timers to the goroutine
// that owns the peer. ConnID and Generation let the owner drop events of a
// connection or timer that has since been replaced.
type Event struct {
	Type       EventType
	Peer       netip.Addr
	ConnID     uuid.UUID
	Payload    []byte
	Err        error
	Generation uint64
	Timestamp  time.Time
}

// PeerEventCallback hands an event to the owner of the peer. It must not
// call back into the peer.
type PeerEventCallback func(*Event)

type MessageCounters struct {
	Open         atomic.Uint64
	Update       atomic.Uint64
	Notification atomic.Uint64
	Keepalive    atomic.Uint64
	RouteRefresh atomic.Uint64
	Discarded    atomic.Uint64
	Total        atomic.Uint64
}

func (c *MessageCounters) count(t bgp.BGPMessageType) {
	switch t {
	case bgp.BGP_MSG_OPEN:
		c.Open.Add(1)
	case bgp.BGP_MSG_UPDATE:
		c.Update.Add(1)
	case bgp.BGP_MSG_NOTIFICATION:
		c.Notification.Add(1)
	case bgp.BGP_MSG_KEEPALIVE:
		c.Keepalive.Add(1)
	case bgp.BGP_MSG_ROUTE_REFRESH:
		c.RouteRefresh.Add(1)
	}
	c.Total.Add(1)
}

// ByType returns the counters keyed by message type name.
func (c *MessageCounters) ByType() map[string]uint64 {
	return map[string]uint64{
		bgp.BGP_MSG_OPEN.String():          c.Open.Load(),
		bgp.BGP_MSG_UPDATE.String():        c.Update.Load(),
		bgp.BGP_MSG_NOTIFICATION.String():  c.Notification.Load(),
		bgp.BGP_MSG_KEEPALIVE.String():     c.Keepalive.Load(),
		bgp.BGP_MSG_ROUTE_REFRESH.String(): c.RouteRefresh.Load(),
	}
}

type Counters struct {
	Sent     MessageCounters
	Received MessageCounters
}

// PeerState is a point in time copy of a peer for the admin socket and the
// metrics collector.
type PeerState struct {
	Address       netip.Addr
	RemoteAS      uint32
	HoldTime      uint16
	KeepaliveTime uint16
	State         FSMState
	ConnID        string
	LocalAddress  netip.Addr
	Uptime        time.Time
	Capabilities  []string
	Sent          map[string]uint64
	Received      map[string]uint64
	Discarded     uint64
}
