package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bgpd-go/bgpd/api"
)

func newShowCmd() *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "show daemon state",
	}

	versionCmd := &cobra.Command{
		Use:  "version",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *api.Client) error {
				v, err := c.ShowVersion()
				if err != nil {
					return err
				}
				if globalOpts.Json {
					return printJSON(os.Stdout, &api.VersionResponse{Version: v})
				}
				fmt.Println("bgpd version", v)
				return nil
			})
		},
	}

	tableCmd := &cobra.Command{
		Use:   "table [<prefix>|<address>]",
		Short: "show the routing table, a prefix or the longest match of an address",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) > 0 {
				filter = args[0]
			}
			return withClient(func(c *api.Client) error {
				l, err := c.ShowTable(filter)
				if err != nil {
					return err
				}
				if globalOpts.Json {
					return printJSON(os.Stdout, l)
				}
				showTable(os.Stdout, l, time.Now())
				return nil
			})
		},
	}

	neighbourCmd := &cobra.Command{
		Use:     "neighbours",
		Aliases: []string{"neighbors", "neighbor", "neighbour"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *api.Client) error {
				l, err := c.ShowNeighbours()
				if err != nil {
					return err
				}
				if globalOpts.Json {
					return printJSON(os.Stdout, l)
				}
				showNeighbours(os.Stdout, l, time.Now())
				return nil
			})
		},
	}

	showCmd.AddCommand(versionCmd, tableCmd, neighbourCmd)
	return showCmd
}

func formatTimedelta(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if days == 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%dd %02d:%02d:%02d", days, h, m, s)
}

func showTable(w io.Writer, l []*api.TableEntry, now time.Time) {
	if len(l) == 0 {
		fmt.Fprintln(w, "Network not in table")
		return
	}
	maxPrefixLen, maxNexthopLen, maxSourceLen := len("Network"), len("Next Hop"), len("Source")
	for _, e := range l {
		maxPrefixLen = max(maxPrefixLen, len(e.Prefix))
		maxNexthopLen = max(maxNexthopLen, len(e.Nexthop))
		maxSourceLen = max(maxSourceLen, len(e.Source))
	}
	format := "%-3s %-" + fmt.Sprint(maxPrefixLen) + "s %-" + fmt.Sprint(maxNexthopLen) + "s %-" +
		fmt.Sprint(maxSourceLen) + "s %10s %-12s %s\n"
	fmt.Fprintf(w, format, "", "Network", "Next Hop", "Source", "LocPrf", "Age", "AS_PATH")
	for _, e := range l {
		best := ""
		if e.Best {
			best = "*>"
		}
		age := formatTimedelta(now.Sub(time.Unix(e.Time, 0)))
		fmt.Fprintf(w, format, best, e.Prefix, e.Nexthop, e.Source, fmt.Sprint(e.LocalPref), age, e.AsPath)
	}
}

func showNeighbours(w io.Writer, l []*api.NeighbourEntry, now time.Time) {
	maxaddrlen, maxaslen := len("Peer"), len("AS")
	for _, n := range l {
		maxaddrlen = max(maxaddrlen, len(n.Address))
		maxaslen = max(maxaslen, len(fmt.Sprint(n.RemoteAS)))
	}
	format := "%-" + fmt.Sprint(maxaddrlen) + "s %" + fmt.Sprint(maxaslen) + "s %8s %-11s %4s %s\n"
	fmt.Fprintf(w, format, "Peer", "AS", "Up/Down", "State", "Hold", "Capabilities")
	for _, n := range l {
		uptime := "never"
		if n.Uptime != 0 {
			uptime = formatTimedelta(now.Sub(time.Unix(n.Uptime, 0)))
		}
		state := strings.TrimPrefix(n.State, "BGP_FSM_")
		fmt.Fprintf(w, format, n.Address, fmt.Sprint(n.RemoteAS), uptime, state, fmt.Sprint(n.HoldTime), strings.Join(n.Capabilities, ","))
	}
}
