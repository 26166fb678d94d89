package peering

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/tomb.v2"

	"github.com/bgpd-go/bgpd/internal/pkg/channels"
	"github.com/bgpd-go/bgpd/pkg/log"
	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

// time allowed to flush queued messages once a connection is closing
var closeFlushTimeout = time.Second

type outgoingMsg struct {
	typ  bgp.BGPMessageType
	data []byte
}

// peerConn is one incarnation of the TCP session with a peer. Its reader
// and writer goroutines never touch the Peer; they report back through
// the event callback, tagged with the connection id.
type peerConn struct {
	id       uuid.UUID
	conn     net.Conn
	peer     netip.Addr
	outgoing *channels.InfiniteChannel
	t        tomb.Tomb
	post     PeerEventCallback
	counters *Counters
	logger   log.Logger
}

func newPeerConn(conn net.Conn, peer netip.Addr, post PeerEventCallback, counters *Counters, logger log.Logger) *peerConn {
	return &peerConn{
		id:       uuid.New(),
		conn:     conn,
		peer:     peer,
		outgoing: channels.NewInfiniteChannel(),
		post:     post,
		counters: counters,
		logger:   logger,
	}
}

func (c *peerConn) start() {
	c.t.Go(c.sendLoop)
	c.t.Go(c.recvLoop)
}

// push queues data for the writer. Only valid before close.
func (c *peerConn) push(typ bgp.BGPMessageType, data []byte) {
	c.outgoing.Push(&outgoingMsg{typ: typ, data: data})
}

// close stops both goroutines. Messages queued before close are still
// written, bounded by closeFlushTimeout.
func (c *peerConn) close() {
	c.t.Kill(nil)
}

func (c *peerConn) wait() {
	_ = c.t.Wait()
}

func (c *peerConn) connError(err error) *Event {
	return &Event{
		Type:      EventConnError,
		Peer:      c.peer,
		ConnID:    c.id,
		Err:       err,
		Timestamp: time.Now(),
	}
}

func (c *peerConn) recvLoop() error {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, bgp.BGP_MAX_MESSAGE_LENGTH), 2*bgp.BGP_MAX_MESSAGE_LENGTH)
	scanner.Split(bgp.SplitBGP)
	for scanner.Scan() {
		c.post(&Event{
			Type:      EventMessage,
			Peer:      c.peer,
			ConnID:    c.id,
			Payload:   bytes.Clone(scanner.Bytes()),
			Timestamp: time.Now(),
		})
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case <-c.t.Dying():
		return nil
	default:
	}
	var merr *bgp.MessageError
	if !errors.As(err, &merr) {
		err = errors.Wrap(err, "failed to read")
	}
	c.post(c.connError(err))
	return nil
}

func (c *peerConn) write(m *outgoingMsg) error {
	if _, err := c.conn.Write(m.data); err != nil {
		return errors.Wrapf(err, "failed to send %s", m.typ)
	}
	c.counters.Sent.count(m.typ)
	return nil
}

func (c *peerConn) flush() {
	c.outgoing.Close()
	_ = c.conn.SetWriteDeadline(time.Now().Add(closeFlushTimeout))
	failed := false
	for v := range c.outgoing.Out() {
		if failed {
			continue
		}
		if err := c.write(v.(*outgoingMsg)); err != nil {
			failed = true
			if c.logger.GetLevel() >= log.DebugLevel {
				c.logger.Debug("failed to flush on close",
					log.Fields{
						"Topic":  "Peer",
						"Key":    c.peer,
						"ConnID": c.id,
						"Error":  err})
			}
		}
	}
}

func (c *peerConn) sendLoop() error {
	defer c.conn.Close()
	for {
		select {
		case <-c.t.Dying():
			c.flush()
			return nil
		case v := <-c.outgoing.Out():
			if err := c.write(v.(*outgoingMsg)); err != nil {
				c.post(c.connError(err))
				<-c.t.Dying()
				c.outgoing.Clean()
				return nil
			}
		}
	}
}
