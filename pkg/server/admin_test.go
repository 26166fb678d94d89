package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpd-go/bgpd/api"
	"github.com/bgpd-go/bgpd/internal/pkg/version"
)

func TestAdminSocket(t *testing.T) {
	assert := assert.New(t)
	c := testConfig()
	c.Admin.SocketPath = filepath.Join(t.TempDir(), "bgpd.sock")
	c.Admin.MaxConnections = 2
	runNewServer(t, c)

	client, err := api.Dial(c.Admin.SocketPath)
	require.NoError(t, err)
	defer client.Close()

	v, err := client.ShowVersion()
	require.NoError(t, err)
	assert.Equal(version.Version(), v)

	n, err := client.ShowNeighbours()
	require.NoError(t, err)
	require.Len(t, n, 3)
	assert.Equal("127.0.0.1", n[0].Address)
	assert.Equal(uint32(65001), n[0].RemoteAS)
	assert.Equal("BGP_FSM_IDLE", n[0].State)
	assert.Empty(n[0].ConnID)

	l, err := client.ShowTable("")
	require.NoError(t, err)
	require.Len(t, l, 1)
	assert.Equal("203.0.113.0/24", l[0].Prefix)
	assert.Equal("local", l[0].Source)
	assert.True(l[0].Best)

	l, err = client.ShowTable("203.0.113.9")
	require.NoError(t, err)
	assert.Len(l, 1)

	l, err = client.ShowTable("10.0.0.0/8")
	require.NoError(t, err)
	assert.Empty(l)

	// the connection survives an error response
	_, err = client.ShowTable("300.1.1.1")
	assert.Error(err)
	_, err = client.ShowVersion()
	assert.NoError(err)
}

func TestAdminUnknownRequest(t *testing.T) {
	a := &adminServer{}
	resp := a.handle(&api.Message{Type: api.MESSAGE_TYPE_REQ, Content: api.ContentType(42)})
	assert.Equal(t, api.MESSAGE_TYPE_ERROR, resp.Type)

	resp = a.handle(&api.Message{Type: api.MESSAGE_TYPE_RESP, Content: api.CONTENT_SHOW_VERSION})
	assert.Equal(t, api.MESSAGE_TYPE_ERROR, resp.Type)
}
