// Copyright (C) 2016 Nippon Telegraph and Telephone Corporation.
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

//go:build linux

package netutils

import (
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"
)

func buildTcpMD5Sig(address netip.Addr, key string) *unix.TCPMD5Sig {
	t := unix.TCPMD5Sig{}
	if address.Is4() {
		t.Addr.Family = unix.AF_INET
		a := address.As4()
		copy(t.Addr.Data[2:], a[:])
	} else {
		t.Addr.Family = unix.AF_INET6
		a := address.As16()
		copy(t.Addr.Data[6:], a[:])
	}
	t.Keylen = uint16(len(key))
	copy(t.Key[0:], []byte(key))
	return &t
}

// SetTCPMD5SigSockopt installs the RFC 2385 key for address on the
// listening socket. An empty key removes it.
func SetTCPMD5SigSockopt(l *net.TCPListener, address netip.Addr, key string) error {
	if len(key) > unix.TCP_MD5SIG_MAXKEYLEN {
		return fmt.Errorf("md5 key for %s longer than %d bytes", address, unix.TCP_MD5SIG_MAXKEYLEN)
	}
	sc, err := l.SyscallConn()
	if err != nil {
		return err
	}
	var sockerr error
	t := buildTcpMD5Sig(address, key)
	if err := sc.Control(func(s uintptr) {
		sockerr = unix.SetsockoptTCPMD5Sig(int(s), unix.IPPROTO_TCP, unix.TCP_MD5SIG, t)
	}); err != nil {
		return err
	}
	return sockerr
}

func setSockOptIpTtl(sc syscall.RawConn, family int, value int) error {
	level := syscall.IPPROTO_IP
	name := syscall.IP_TTL
	if family == syscall.AF_INET6 {
		level = syscall.IPPROTO_IPV6
		name = syscall.IPV6_UNICAST_HOPS
	}
	var opterr error
	err := sc.Control(func(s uintptr) {
		opterr = syscall.SetsockoptInt(int(s), level, name, value)
	})
	if opterr == nil {
		return err
	}
	return opterr
}
