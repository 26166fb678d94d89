package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpd-go/bgpd/api"
)

func TestFormatTimedelta(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("00:00:05", formatTimedelta(5*time.Second))
	assert.Equal("01:02:03", formatTimedelta(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal("2d 00:00:01", formatTimedelta(48*time.Hour+time.Second))
}

func TestShowTable(t *testing.T) {
	now := time.Unix(1000, 0)
	var buf bytes.Buffer
	showTable(&buf, []*api.TableEntry{
		{Prefix: "203.0.113.0/24", Nexthop: "0.0.0.0", LocalPref: 100, Source: "local", Time: 940, Best: true},
		{Prefix: "192.0.2.0/24", Nexthop: "192.0.2.1", LocalPref: 100, Source: "192.0.2.1", Time: 999, AsPath: "65001 65002"},
	}, now)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "*>"))
	assert.Contains(t, lines[1], "00:01:00")
	assert.Contains(t, lines[2], "65001 65002")

	buf.Reset()
	showTable(&buf, nil, now)
	assert.Equal(t, "Network not in table\n", buf.String())
}

func TestShowNeighbours(t *testing.T) {
	var buf bytes.Buffer
	showNeighbours(&buf, []*api.NeighbourEntry{
		{Address: "192.0.2.1", RemoteAS: 65001, HoldTime: 90, State: "BGP_FSM_ESTABLISHED", Uptime: 10, Capabilities: []string{"route-refresh", "4-octet-as"}},
		{Address: "192.0.2.2", RemoteAS: 65002, State: "BGP_FSM_IDLE"},
	}, time.Unix(20, 0))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "ESTABLISHED")
	assert.Contains(t, lines[1], "route-refresh,4-octet-as")
	assert.Contains(t, lines[2], "never")
}
