// Copyright (C) 2016 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package netutils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/bgpd-go/bgpd/pkg/log"
)

type TCPConn struct {
	*net.TCPConn
	cb func(*TCPConn)
}

func (c *TCPConn) Close() error {
	if c.cb != nil {
		c.cb(c)
	}
	return c.TCPConn.Close()
}

func (c *TCPConn) Key() string {
	if c == nil || c.TCPConn == nil {
		return ""
	}
	addr := c.RemoteAddr()
	if addr == nil {
		return ""
	}
	return addr.String()
}

var (
	_ net.Conn     = (*TCPConn)(nil)
	_ syscall.Conn = (*TCPConn)(nil)
)

// TCPListener accepts BGP connections and hands them to connChan. Accepted
// connections not yet closed are tracked so Close can tear them down.
type TCPListener struct {
	ctx          context.Context
	cancel       context.CancelFunc
	l            *net.TCPListener
	connChan     chan<- net.Conn
	acceptedConn cmap.ConcurrentMap[string, *TCPConn] // key is RemoteAddr().String()
	stopWg       sync.WaitGroup
	logger       log.Logger
}

func listenControl(logger log.Logger) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		family := extractFamilyFromAddress(address)
		if err := setSockOptIpTtl(c, family, 255); err != nil {
			logger.Warn("cannot set TTL (255) for TCPListener",
				log.Fields{
					"Topic": "Peer",
					"Key":   address,
					"Error": err})
		}
		return nil
	}
}

func (l *TCPListener) closeConnCb(tcpConn *TCPConn) {
	key := tcpConn.Key()
	if key == "" {
		return
	}
	l.acceptedConn.Remove(key)
}

func (l *TCPListener) acceptLoop() {
	defer l.stopWg.Done()
	for {
		conn, err := l.l.AcceptTCP()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.logger.Warn("failed to accept",
					log.Fields{
						"Topic": "Peer",
						"Error": err})
			}
			return
		}
		tcpConn := &TCPConn{
			TCPConn: conn,
			cb:      l.closeConnCb,
		}
		key := tcpConn.Key()
		l.acceptedConn.Set(key, tcpConn)

		if err := conn.SetKeepAlive(false); err != nil {
			l.logger.Warn("failed to disable tcp keepalive",
				log.Fields{
					"Topic": "Peer",
					"Key":   key,
					"Error": err})
		}

		select {
		case l.connChan <- tcpConn:
		case <-l.ctx.Done():
			tcpConn.Close()
			return
		}
	}
}

// NewTCPListener listens on address:port; an empty address binds the IPv4
// wildcard.
func NewTCPListener(logger log.Logger, address string, port uint16, connChan chan<- net.Conn) (*TCPListener, error) {
	if address == "" {
		address = "0.0.0.0"
	}
	proto := extractProtoFromAddress(address)
	config := net.ListenConfig{
		Control: listenControl(logger),
	}
	// MPTCP listeners reject TCP_MD5SIG.
	config.SetMultipathTCP(false)

	addr := net.JoinHostPort(address, strconv.Itoa(int(port)))
	listener, err := config.Listen(context.Background(), proto, addr)
	if err != nil {
		return nil, err
	}
	netListener, ok := listener.(*net.TCPListener)
	if !ok {
		listener.Close()
		return nil, fmt.Errorf("unexpected connection listener (not for TCP)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &TCPListener{
		ctx:          ctx,
		cancel:       cancel,
		l:            netListener,
		connChan:     connChan,
		acceptedConn: cmap.New[*TCPConn](),
		logger:       logger,
	}
	l.stopWg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func (l *TCPListener) Close() {
	l.cancel()
	_ = l.l.Close()
	l.stopWg.Wait()
	for t := range l.acceptedConn.IterBuffered() {
		_ = t.Val.TCPConn.Close()
	}
	l.acceptedConn.Clear()
}

// Accepted is the number of accepted connections still open.
func (l *TCPListener) Accepted() int {
	return l.acceptedConn.Count()
}

func (l *TCPListener) Addr() net.Addr {
	if l.l == nil {
		return nil
	}
	return l.l.Addr()
}

func (l *TCPListener) Listener() *net.TCPListener {
	return l.l
}
