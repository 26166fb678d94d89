//go:build !linux

package netutils

import (
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

func SetTCPMD5SigSockopt(l *net.TCPListener, address netip.Addr, key string) error {
	return fmt.Errorf("setting md5 is not supported")
}

func setSockOptIpTtl(sc syscall.RawConn, family int, value int) error {
	return nil
}
