package api

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Client talks to the admin socket of a running bgpd. It is not safe for
// concurrent use.
type Client struct {
	conn    net.Conn
	timeout time.Duration
}

const defaultClientTimeout = 10 * time.Second

func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, defaultClientTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "can't connect to %s", path)
	}
	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:    conn,
		timeout: defaultClientTimeout,
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(content ContentType, req, resp any) error {
	m, err := NewRequest(content, req)
	if err != nil {
		return err
	}
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	if err := WriteMessage(c.conn, m); err != nil {
		return errors.Wrapf(err, "can't send %s", content)
	}
	r, err := ReadMessage(c.conn)
	if err != nil {
		return errors.Wrapf(err, "can't read %s response", content)
	}
	if r.Content != content {
		return fmt.Errorf("unexpected response %s to %s", r.Content, content)
	}
	return r.Decode(resp)
}

func (c *Client) ShowVersion() (string, error) {
	var v VersionResponse
	if err := c.call(CONTENT_SHOW_VERSION, nil, &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

func (c *Client) ShowTable(prefix string) ([]*TableEntry, error) {
	var l []*TableEntry
	if err := c.call(CONTENT_SHOW_TABLE, &ShowTableRequest{Prefix: prefix}, &l); err != nil {
		return nil, err
	}
	return l, nil
}

func (c *Client) ShowNeighbours() ([]*NeighbourEntry, error) {
	var l []*NeighbourEntry
	if err := c.call(CONTENT_SHOW_NEIGHBOURS, nil, &l); err != nil {
		return nil, err
	}
	return l, nil
}
