// Copyright (C) 2015 Nippon Telegraph and Telephone Corporation.
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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bgpd-go/bgpd/api"
	"github.com/bgpd-go/bgpd/pkg/config"
)

var globalOpts struct {
	Socket string
	Json   bool
}

func newRootCmd() *cobra.Command {
	cobra.EnablePrefixMatching = true

	rootCmd := &cobra.Command{
		Use:           "bgpcli",
		Short:         "query a running bgpd over its admin socket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&globalOpts.Socket, "socket", "s", config.DEFAULT_ADMIN_SOCKET, "path of the bgpd admin socket")
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.Json, "json", "j", false, "use json format to output format")

	rootCmd.AddCommand(newShowCmd())
	return rootCmd
}

// withClient runs f with a connection to the admin socket.
func withClient(f func(*api.Client) error) error {
	c, err := api.Dial(globalOpts.Socket)
	if err != nil {
		return err
	}
	defer c.Close()
	return f(c)
}

func printJSON(w io.Writer, v any) error {
	j, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(j))
	return err
}

func exitWithError(err error) {
	if globalOpts.Json {
		j, _ := json.Marshal(struct {
			Error string `json:"error"`
		}{Error: err.Error()})
		fmt.Println(string(j))
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}
