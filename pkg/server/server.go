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

package server

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/bgpd-go/bgpd/api"
	"github.com/bgpd-go/bgpd/internal/pkg/netutils"
	"github.com/bgpd-go/bgpd/internal/pkg/table"
	"github.com/bgpd-go/bgpd/internal/pkg/version"
	"github.com/bgpd-go/bgpd/pkg/config"
	"github.com/bgpd-go/bgpd/pkg/log"
	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
	"github.com/bgpd-go/bgpd/pkg/peering"
	"github.com/bgpd-go/bgpd/pkg/utils"
)

const (
	DEFAULT_UPDATE_DEBOUNCE = time.Second
	eventQueueLength        = 1024
	shutdownMessage         = "bgpd shutting down"
)

type options struct {
	logger   log.Logger
	hostname string
	debounce time.Duration
}

type ServerOption func(*options)

func LoggerOption(logger log.Logger) ServerOption {
	return func(o *options) {
		o.logger = logger
	}
}

// HostnameOption sets the name announced in the FQDN capability.
func HostnameOption(hostname string) ServerOption {
	return func(o *options) {
		o.hostname = hostname
	}
}

// DebounceOption sets how long table changes are batched before UPDATEs
// go out.
func DebounceOption(d time.Duration) ServerOption {
	return func(o *options) {
		o.debounce = d
	}
}

// BgpServer owns the routing table and every peer. All of their state is
// touched only from the Serve goroutine; other goroutines reach it through
// mgmtOperation or by posting peer events.
type BgpServer struct {
	conf        *config.Config
	acceptCh    chan net.Conn
	mgmtCh      chan *mgmtOp
	eventCh     chan *peering.Event
	listener    *netutils.TCPListener
	neighborMap map[netip.Addr]*peering.Peer
	table       *table.Table
	admin       *adminServer
	logger      log.Logger
	hostname    string

	debounce   time.Duration
	flushTimer *time.Timer

	unknownPeerLog rate.Sometimes
	stopping       bool

	isServing     atomic.Bool
	shutdownWG    *sync.WaitGroup
	runningCtx    context.Context
	runningCancel context.CancelFunc
}

func NewBgpServer(opt ...ServerOption) *BgpServer {
	opts := options{
		debounce: DEFAULT_UPDATE_DEBOUNCE,
	}
	for _, o := range opt {
		o(&opts)
	}
	logger := opts.logger
	if logger == nil {
		logger = log.NewDefaultLogger()
	}
	flushTimer := time.NewTimer(time.Hour)
	flushTimer.Stop()
	ctx, cancel := context.WithCancel(context.Background())

	return &BgpServer{
		mgmtCh:         make(chan *mgmtOp, 1),
		eventCh:        make(chan *peering.Event, eventQueueLength),
		neighborMap:    make(map[netip.Addr]*peering.Peer),
		logger:         logger,
		hostname:       opts.hostname,
		debounce:       opts.debounce,
		flushTimer:     flushTimer,
		unknownPeerLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
		shutdownWG:     &sync.WaitGroup{},
		runningCtx:     ctx,
		runningCancel:  cancel,
	}
}

func (s *BgpServer) active() error {
	if s.table == nil {
		return fmt.Errorf("bgp server hasn't started yet")
	}
	return nil
}

type mgmtOp struct {
	f           func() error
	errCh       chan error
	checkActive bool // check the server was started before calling f()
	timestamp   time.Time
}

func (s *BgpServer) handleMGMTOp(op *mgmtOp) {
	if op.checkActive {
		if err := s.active(); err != nil {
			op.errCh <- err
			return
		}
	}
	op.errCh <- op.f()
}

func (s *BgpServer) mgmtOperation(f func() error, checkActive bool) error {
	op := &mgmtOp{
		f:           f,
		errCh:       make(chan error, 1),
		checkActive: checkActive,
		timestamp:   time.Now(),
	}
	select {
	case <-s.runningCtx.Done():
		return fmt.Errorf("bgp server is stopped")
	case s.mgmtCh <- op:
	}
	select {
	case <-s.runningCtx.Done():
		return fmt.Errorf("bgp server is stopped")
	case err := <-op.errCh:
		return err
	}
}

// postEvent is handed to every peer; it runs on connection goroutines and
// timers.
func (s *BgpServer) postEvent(ev *peering.Event) {
	utils.PushWithContext(s.runningCtx, s.eventCh, ev, true)
}

// Schedule re-arms the update debounce: the flush runs one debounce
// period after the last table change.
func (s *BgpServer) Schedule() {
	if !s.flushTimer.Stop() {
		select {
		case <-s.flushTimer.C:
		default:
		}
	}
	s.flushTimer.Reset(s.debounce)
}

func (s *BgpServer) sortedPeers() []*peering.Peer {
	l := make([]*peering.Peer, 0, len(s.neighborMap))
	for _, p := range s.neighborMap {
		l = append(l, p)
	}
	slices.SortFunc(l, func(a, b *peering.Peer) int {
		return a.Address().Compare(b.Address())
	})
	return l
}

func (s *BgpServer) flushUpdates() {
	if s.table == nil {
		return
	}
	peers := s.sortedPeers()
	targets := make([]table.UpdateTarget, 0, len(peers))
	for _, p := range peers {
		targets = append(targets, p)
	}
	s.table.Flush(targets)
}

func (s *BgpServer) handlePeerEvent(ev *peering.Event) {
	peer, found := s.neighborMap[ev.Peer]
	if !found {
		return
	}
	peer.HandleEvent(ev)
}

func (s *BgpServer) passConnToPeer(conn net.Conn) {
	addr := netutils.RemoteAddr(conn)
	if s.stopping {
		conn.Close()
		return
	}
	peer, found := s.neighborMap[addr]
	if !found {
		s.unknownPeerLog.Do(func() {
			s.logger.Warn("Can't find configuration for a new passive connection",
				log.Fields{
					"Topic": "Server",
					"Key":   addr})
		})
		conn.Close()
		return
	}
	if s.logger.GetLevel() >= log.DebugLevel {
		s.logger.Debug("Accepted a new passive connection",
			log.Fields{
				"Topic": "Peer",
				"Key":   addr})
	}
	if err := peer.PlaceConnection(conn); err != nil {
		s.logger.Warn("failed to place connection",
			log.Fields{
				"Topic": "Peer",
				"Key":   addr,
				"Error": err})
		conn.Close()
	}
}

func (s *BgpServer) Serve() {
	if s.isServing.Swap(true) {
		s.logger.Warn("server is already serving",
			log.Fields{"Topic": "Server"})
		return
	}
	s.shutdownWG.Add(1)
	defer func() {
		s.shutdownWG.Done()
		s.isServing.Store(false)
	}()

	for {
		select {
		case <-s.runningCtx.Done():
			s.flushTimer.Stop()
			s.logger.Info("shutting down",
				log.Fields{"Topic": "Server"})
			return
		case op := <-s.mgmtCh:
			s.handleMGMTOp(op)
		case conn := <-s.acceptCh:
			s.passConnToPeer(conn)
		case ev := <-s.eventCh:
			s.handlePeerEvent(ev)
		case <-s.flushTimer.C:
			s.flushUpdates()
		}
	}
}

// Start builds the table and peers from c, originates the configured
// routes and opens the BGP listener. The admin socket is opened last when
// c.Admin.SocketPath is set.
func (s *BgpServer) Start(ctx context.Context, c *config.Config) error {
	if c == nil {
		return fmt.Errorf("nil config")
	}
	err := s.mgmtOperation(func() error {
		if s.table != nil {
			return fmt.Errorf("bgp server is already started")
		}
		tbl := table.NewTable(s.logger, c.MyAS)

		neighbors := make(map[netip.Addr]*peering.Peer, len(c.Neighbours))
		for i := range c.Neighbours {
			n := &c.Neighbours[i]
			policy, err := c.Policy(n.ImportPolicy)
			if err != nil {
				return errors.Wrapf(err, "neighbour %s", n.Address)
			}
			neighbors[n.Address] = peering.NewPeer(&c.Global, n, tbl, s.postEvent, s.logger,
				peering.WithImportPolicy(policy),
				peering.WithHostname(s.hostname))
		}

		for _, r := range c.OriginateRoutes {
			if err := s.originate(tbl, c, r); err != nil {
				return err
			}
		}
		tbl.BestPathSelectionAll()
		// peers get originated routes with the full table once established
		tbl.TakeUpdates()
		tbl.SetScheduler(s)

		acceptCh := make(chan net.Conn, 32)
		l, err := netutils.NewTCPListener(s.logger, c.ListenAddress, c.ListenPort, acceptCh)
		if err != nil {
			return errors.Wrapf(err, "can't listen on port %d", c.ListenPort)
		}
		for addr, p := range neighbors {
			if p.Password() == "" {
				continue
			}
			if err := netutils.SetTCPMD5SigSockopt(l.Listener(), addr, p.Password()); err != nil {
				s.logger.Warn("failed to set md5",
					log.Fields{
						"Topic": "Peer",
						"Key":   addr,
						"Error": err})
			}
		}

		s.conf = c
		s.table = tbl
		s.neighborMap = neighbors
		s.listener = l
		s.acceptCh = acceptCh
		s.logger.Info("bgp server started",
			log.Fields{
				"Topic":      "Server",
				"AS":         c.MyAS,
				"RouterID":   c.RouterID,
				"Listen":     l.Addr(),
				"Neighbours": len(neighbors),
				"Prefixes":   tbl.Len()})
		return nil
	}, false)
	if err != nil {
		return err
	}

	if c.Admin.SocketPath == "" {
		return nil
	}
	admin, err := newAdminServer(s, c.Admin.SocketPath, c.Admin.MaxConnections, s.logger)
	if err != nil {
		return err
	}
	return s.mgmtOperation(func() error {
		s.admin = admin
		return nil
	}, false)
}

func (s *BgpServer) originate(tbl *table.Table, c *config.Config, r config.OriginateRoute) error {
	nlri, err := bgp.NewPrefixFromString(bgp.AFI_IP, r.Prefix)
	if err != nil {
		return errors.Wrapf(err, "originate_routes %q", r.Prefix)
	}
	policy, err := c.Policy(r.PolicyName)
	if err != nil {
		return errors.Wrapf(err, "originate_routes %q", r.Prefix)
	}
	rt, attrs := table.OriginateAttributes(nlri, policy)
	if rt == table.ROUTE_TYPE_REJECT {
		s.logger.Info("originated route rejected by policy",
			log.Fields{
				"Topic":  "Policy",
				"Key":    nlri,
				"Policy": r.PolicyName})
		return nil
	}
	if _, err := tbl.AddPath(nlri, attrs, table.LocalPeer); err != nil {
		return errors.Wrapf(err, "originate_routes %q", r.Prefix)
	}
	return nil
}

// Stop shuts every session down with a Cease NOTIFICATION and closes the
// listeners. The errors of every peer are returned together.
func (s *BgpServer) Stop() error {
	if !s.isServing.Load() {
		return fmt.Errorf("bgp server is not running")
	}
	var admin *adminServer
	_ = s.mgmtOperation(func() error {
		admin, s.admin = s.admin, nil
		return nil
	}, false)
	// admin handlers call back into the reactor
	if admin != nil {
		admin.Close()
	}

	var errs *multierror.Error
	var peers []*peering.Peer
	err := s.mgmtOperation(func() error {
		s.stopping = true
		peers = s.sortedPeers()
		for _, p := range peers {
			if err := p.Shutdown(shutdownMessage); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		return nil
	}, false)
	if err != nil {
		return err
	}
	// the reactor keeps draining events while the sessions flush
	for _, p := range peers {
		p.Wait()
	}

	err = s.mgmtOperation(func() error {
		if s.listener != nil {
			s.listener.Close()
			s.listener = nil
		}
		return nil
	}, false)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	s.runningCancel()
	s.shutdownWG.Wait()
	return errs.ErrorOrNil()
}

// ListenAddr is the address of the BGP listener, nil before Start.
func (s *BgpServer) ListenAddr() net.Addr {
	var addr net.Addr
	_ = s.mgmtOperation(func() error {
		if s.listener != nil {
			addr = s.listener.Addr()
		}
		return nil
	}, true)
	return addr
}

func (s *BgpServer) Version() string {
	return version.Version()
}

// ListPeer returns a snapshot of every configured neighbour ordered by
// address.
func (s *BgpServer) ListPeer() ([]*peering.PeerState, error) {
	var l []*peering.PeerState
	err := s.mgmtOperation(func() error {
		peers := s.sortedPeers()
		l = make([]*peering.PeerState, 0, len(peers))
		for _, p := range peers {
			l = append(l, p.Snapshot())
		}
		return nil
	}, true)
	return l, err
}

// ListPath renders the table. An empty filter lists everything, a prefix
// is matched exactly and a bare address is looked up by longest match.
func (s *BgpServer) ListPath(filter string) ([]*api.TableEntry, error) {
	var l []*api.TableEntry
	err := s.mgmtOperation(func() error {
		var dests []*table.Destination
		switch {
		case filter == "":
			dests = s.table.GetSortedDestinations()
		case strings.Contains(filter, "/"):
			nlri, err := bgp.NewPrefixFromString(bgp.AFI_IP, filter)
			if err != nil {
				return err
			}
			if d := s.table.GetDestination(nlri); d != nil {
				dests = append(dests, d)
			}
		default:
			addr, err := netip.ParseAddr(filter)
			if err != nil {
				return err
			}
			if !addr.Is4() {
				return fmt.Errorf("%s is not an IPv4 address", filter)
			}
			if d := s.table.LongestMatch(addr); d != nil {
				dests = append(dests, d)
			}
		}
		for _, d := range dests {
			for _, p := range d.GetAllKnownPathList() {
				l = append(l, toTableEntry(p))
			}
		}
		return nil
	}, true)
	return l, err
}

func toTableEntry(p *table.Path) *api.TableEntry {
	e := &api.TableEntry{
		Prefix: p.GetNlri().String(),
		Source: p.SourceString(),
		Time:   p.Timestamp().Unix(),
		Best:   p.IsBest(),
	}
	if nh, ok := p.GetNexthop(); ok {
		e.Nexthop = nh.String()
	}
	if lp, ok := p.GetLocalPref(); ok {
		e.LocalPref = lp
	}
	if asPath := p.Attributes().ASPath(); asPath != nil {
		e.AsPath = asPath.String()
	}
	return e
}

type TableInfo struct {
	Destinations  int
	Paths         int
	AttributeSets int
	Pending       int
}

func (s *BgpServer) TableInfo() (*TableInfo, error) {
	var info *TableInfo
	err := s.mgmtOperation(func() error {
		info = &TableInfo{
			Destinations:  s.table.Len(),
			Paths:         s.table.PathCount(),
			AttributeSets: s.table.AttributeSets(),
			Pending:       s.table.Pending(),
		}
		return nil
	}, true)
	return info, err
}
