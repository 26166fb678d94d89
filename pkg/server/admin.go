package server

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/net/netutil"

	"github.com/bgpd-go/bgpd/api"
	"github.com/bgpd-go/bgpd/pkg/log"
)

// adminServer answers api requests on a unix socket. Handlers only read
// server state through mgmtOperation.
type adminServer struct {
	bgpServer *BgpServer
	path      string
	listener  net.Listener
	logger    log.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func newAdminServer(s *BgpServer, path string, maxConns int, logger log.Logger) (*adminServer, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, pkgerrors.Wrapf(err, "can't remove stale admin socket %s", path)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "can't listen on admin socket %s", path)
	}
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	a := &adminServer{
		bgpServer: s,
		path:      path,
		listener:  l,
		logger:    logger,
		conns:     make(map[net.Conn]struct{}),
	}
	a.wg.Add(1)
	go a.serve()
	return a, nil
}

func (a *adminServer) serve() {
	defer a.wg.Done()
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.logger.Warn("failed to accept admin connection",
					log.Fields{
						"Topic": "Admin",
						"Error": err})
			}
			return
		}
		a.mu.Lock()
		a.conns[conn] = struct{}{}
		a.mu.Unlock()
		a.wg.Add(1)
		go a.handleConn(conn)
	}
}

func (a *adminServer) handleConn(conn net.Conn) {
	defer func() {
		a.mu.Lock()
		delete(a.conns, conn)
		a.mu.Unlock()
		conn.Close()
		a.wg.Done()
	}()
	for {
		req, err := api.ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				a.logger.Debug("admin connection closed",
					log.Fields{
						"Topic": "Admin",
						"Error": err})
			}
			return
		}
		if err := api.WriteMessage(conn, a.handle(req)); err != nil {
			return
		}
	}
}

func (a *adminServer) handle(req *api.Message) *api.Message {
	if req.Type != api.MESSAGE_TYPE_REQ {
		return api.NewErrorResponse(req.Content, errors.New("not a request"))
	}
	var payload any
	switch req.Content {
	case api.CONTENT_SHOW_VERSION:
		payload = &api.VersionResponse{Version: a.bgpServer.Version()}
	case api.CONTENT_SHOW_TABLE:
		var r api.ShowTableRequest
		if err := req.Decode(&r); err != nil {
			return api.NewErrorResponse(req.Content, err)
		}
		l, err := a.bgpServer.ListPath(r.Prefix)
		if err != nil {
			return api.NewErrorResponse(req.Content, err)
		}
		if l == nil {
			l = []*api.TableEntry{}
		}
		payload = l
	case api.CONTENT_SHOW_NEIGHBOURS:
		peers, err := a.bgpServer.ListPeer()
		if err != nil {
			return api.NewErrorResponse(req.Content, err)
		}
		l := make([]*api.NeighbourEntry, 0, len(peers))
		for _, p := range peers {
			e := &api.NeighbourEntry{
				Address:      p.Address.String(),
				RemoteAS:     p.RemoteAS,
				HoldTime:     p.HoldTime,
				State:        p.State.String(),
				ConnID:       p.ConnID,
				Capabilities: p.Capabilities,
			}
			if !p.Uptime.IsZero() {
				e.Uptime = p.Uptime.Unix()
			}
			l = append(l, e)
		}
		payload = l
	default:
		return api.NewErrorResponse(req.Content, errors.New("unknown request"))
	}
	resp, err := api.NewResponse(req.Content, payload)
	if err != nil {
		return api.NewErrorResponse(req.Content, err)
	}
	return resp
}

// Close stops accepting, drops open connections and waits for their
// handlers.
func (a *adminServer) Close() {
	a.listener.Close()
	a.mu.Lock()
	for c := range a.conns {
		c.Close()
	}
	a.mu.Unlock()
	a.wg.Wait()
	os.Remove(a.path)
}
