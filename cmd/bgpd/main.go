//
// Copyright (C) 2014-2017 Nippon Telegraph and Telephone Corporation.
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
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jessevdk/go-flags"
	"github.com/kr/pretty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/bgpd-go/bgpd/internal/pkg/version"
	"github.com/bgpd-go/bgpd/pkg/config"
	"github.com/bgpd-go/bgpd/pkg/log"
	"github.com/bgpd-go/bgpd/pkg/server"
)

var logger = logrus.New()

type options struct {
	ConfigFile  string `short:"f" long:"config-file" description:"specifying a config file" default:"bgpd.yaml"`
	ConfigType  string `short:"t" long:"config-type" description:"specifying config type (yaml, toml, json)" default:"yaml"`
	LogLevel    string `short:"l" long:"log-level" description:"specifying log level (panic, fatal, error, warn, info, debug, trace)" default:"info"`
	LogPlain    bool   `short:"p" long:"log-plain" description:"use plain format for logging (json by default)"`
	UseSyslog   string `short:"s" long:"syslog" description:"use syslogd, e.g. udp:localhost:514"`
	Facility    string `long:"syslog-facility" description:"specify syslog facility"`
	Dry         bool   `short:"d" long:"dry-run" description:"check configuration"`
	GenConfig   bool   `long:"gen-config" description:"write a starter config to the config file and exit"`
	PProfHost   string `long:"pprof-host" description:"specify the host that bgpd listens on for pprof and metrics" default:"localhost:6060"`
	MetricsPath string `long:"metrics-path" description:"specify path for prometheus metrics, empty value disables them" default:"/metrics"`
	UseSdNotify bool   `long:"sdnotify" description:"use sd_notify protocol"`
	Version     bool   `long:"version" description:"show version number"`
}

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		logger.Fatalf("Error parsing flags: %v", err)
	}

	if opts.Version {
		fmt.Println("bgpd version", version.Version())
		os.Exit(0)
	}

	setupLogger(&opts)

	if opts.GenConfig {
		if err := writeDefaultConfig(opts.ConfigFile, opts.ConfigType); err != nil {
			logger.WithFields(logrus.Fields{
				"Topic": "Config",
				"Error": err,
			}).Fatalf("Can't write config file %s", opts.ConfigFile)
		}
		logger.WithFields(logrus.Fields{
			"Topic": "Config",
		}).Infof("Wrote default config to %s", opts.ConfigFile)
		os.Exit(0)
	}

	c, err := config.ReadConfigFile(opts.ConfigFile, opts.ConfigType)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"Topic": "Config",
			"Error": err,
		}).Fatalf("Can't read config file %s", opts.ConfigFile)
	}
	logger.WithFields(logrus.Fields{
		"Topic": "Config",
	}).Info("Finished reading the config file")

	if opts.Dry {
		if opts.LogLevel == "debug" {
			pretty.Println(c)
		}
		os.Exit(0)
	}

	hostname, err := os.Hostname()
	if err != nil {
		logger.WithFields(logrus.Fields{
			"Topic": "Config",
			"Error": err,
		}).Warn("Can't get hostname, FQDN capability disabled")
	}

	bgpServer := server.NewBgpServer(
		server.LoggerOption(log.NewLogrusLogger(logger)),
		server.HostnameOption(hostname))
	go bgpServer.Serve()
	startHTTP(&opts, bgpServer)

	if err := bgpServer.Start(context.Background(), c); err != nil {
		logger.WithFields(logrus.Fields{
			"Topic": "Server",
			"Error": err,
		}).Fatal("Failed to start bgp server")
	}
	logger.Info("bgpd started")

	if opts.UseSdNotify {
		sdNotify(daemon.SdNotifyReady)
	}

	<-sigCh
	if opts.UseSdNotify {
		sdNotify(daemon.SdNotifyStopping)
	}
	if err := bgpServer.Stop(); err != nil {
		logger.WithFields(logrus.Fields{
			"Topic": "Server",
			"Error": err,
		}).Warn("Errors while stopping bgp server")
	}
	logger.Info("bgpd stopped")
}

func setupLogger(opts *options) {
	logger.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		logger.Warnf("Unknown log level %q, using info", opts.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if opts.UseSyslog != "" {
		if err := addSyslogHook(opts.UseSyslog, opts.Facility); err != nil {
			logger.Error("Unable to connect to syslog daemon, ", opts.UseSyslog)
		}
	}

	if opts.LogPlain {
		logger.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

func writeDefaultConfig(path, format string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if err := config.GenerateDefault(f, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func startHTTP(opts *options, s *server.BgpServer) {
	if opts.PProfHost == "" {
		return
	}
	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/debug/pprof/", pprof.Index)
	httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	if opts.MetricsPath != "" {
		prometheus.MustRegister(server.NewBgpCollector(s))
		httpMux.Handle(opts.MetricsPath, promhttp.Handler())
	}
	go func() {
		logger.Println(http.ListenAndServe(opts.PProfHost, httpMux))
	}()
}

func sdNotify(state string) {
	if status, err := daemon.SdNotify(false, state); !status {
		if err != nil {
			logger.Warnf("Failed to send notification via sd_notify(): %s", err)
		} else {
			logger.Warnf("The socket sd_notify() isn't available")
		}
	}
}
