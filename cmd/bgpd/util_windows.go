//go:build windows

package main

import "errors"

func addSyslogHook(_, _ string) error {
	return errors.New("syslog is not supported on this OS")
}
