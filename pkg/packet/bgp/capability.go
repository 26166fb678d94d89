// Copyright (C) 2014 Nippon Telegraph and Telephone Corporation.
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

package bgp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"
)

type ParameterCapabilityInterface interface {
	DecodeFromBytes([]byte) error
	Serialize() ([]byte, error)
	Len() int
	Code() BGPCapabilityCode
	String() string
}

type DefaultParameterCapability struct {
	CapCode  BGPCapabilityCode
	CapLen   uint8
	CapValue []byte
}

func (c *DefaultParameterCapability) Code() BGPCapabilityCode {
	return c.CapCode
}

func (c *DefaultParameterCapability) DecodeFromBytes(data []byte) error {
	if len(data) < 2 {
		return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_CAPABILITY, nil, "not all capability bytes available")
	}
	c.CapCode = BGPCapabilityCode(data[0])
	c.CapLen = data[1]
	if len(data) < 2+int(c.CapLen) {
		return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_CAPABILITY, nil, "not all capability bytes available")
	}
	c.CapValue = append([]byte(nil), data[2:2+int(c.CapLen)]...)
	return nil
}

func (c *DefaultParameterCapability) Serialize() ([]byte, error) {
	if len(c.CapValue) > 255 {
		return nil, fmt.Errorf("capability %s value too long: %d", c.CapCode, len(c.CapValue))
	}
	c.CapLen = uint8(len(c.CapValue))
	buf := make([]byte, 2, 2+len(c.CapValue))
	buf[0] = uint8(c.CapCode)
	buf[1] = c.CapLen
	return append(buf, c.CapValue...), nil
}

func (c *DefaultParameterCapability) Len() int {
	return int(c.CapLen) + 2
}

func (c *DefaultParameterCapability) String() string {
	return c.CapCode.String()
}

type CapMultiProtocolValue struct {
	AFI  uint16
	SAFI uint8
}

type CapMultiProtocol struct {
	DefaultParameterCapability
	CapValue CapMultiProtocolValue
}

func (c *CapMultiProtocol) DecodeFromBytes(data []byte) error {
	if err := c.DefaultParameterCapability.DecodeFromBytes(data); err != nil {
		return err
	}
	data = data[2:]
	if c.CapLen != 4 {
		return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_CAPABILITY, nil, "not all CapabilityMultiProtocol bytes available")
	}
	c.CapValue.AFI = binary.BigEndian.Uint16(data[0:2])
	c.CapValue.SAFI = data[3]
	return nil
}

func (c *CapMultiProtocol) Serialize() ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:], c.CapValue.AFI)
	buf[3] = c.CapValue.SAFI
	c.DefaultParameterCapability.CapValue = buf
	return c.DefaultParameterCapability.Serialize()
}

func (c *CapMultiProtocol) String() string {
	return fmt.Sprintf("%s(afi=%d,safi=%d)", c.CapCode, c.CapValue.AFI, c.CapValue.SAFI)
}

func NewCapMultiProtocol(afi uint16, safi uint8) *CapMultiProtocol {
	return &CapMultiProtocol{
		DefaultParameterCapability{
			CapCode: BGP_CAP_MULTIPROTOCOL,
		},
		CapMultiProtocolValue{
			AFI:  afi,
			SAFI: safi,
		},
	}
}

type CapRouteRefresh struct {
	DefaultParameterCapability
}

func NewCapRouteRefresh() *CapRouteRefresh {
	return &CapRouteRefresh{
		DefaultParameterCapability{
			CapCode: BGP_CAP_ROUTE_REFRESH,
		},
	}
}

type CapFourOctetASNumber struct {
	DefaultParameterCapability
	CapValue uint32
}

func (c *CapFourOctetASNumber) DecodeFromBytes(data []byte) error {
	if err := c.DefaultParameterCapability.DecodeFromBytes(data); err != nil {
		return err
	}
	data = data[2:]
	if c.CapLen != 4 {
		return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_CAPABILITY, nil, "not all CapabilityFourOctetASNumber bytes available")
	}
	c.CapValue = binary.BigEndian.Uint32(data[0:4])
	return nil
}

func (c *CapFourOctetASNumber) Serialize() ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, c.CapValue)
	c.DefaultParameterCapability.CapValue = buf
	return c.DefaultParameterCapability.Serialize()
}

func (c *CapFourOctetASNumber) String() string {
	return fmt.Sprintf("%s(%d)", c.CapCode, c.CapValue)
}

func NewCapFourOctetASNumber(asnum uint32) *CapFourOctetASNumber {
	return &CapFourOctetASNumber{
		DefaultParameterCapability{
			CapCode: BGP_CAP_FOUR_OCTET_AS_NUMBER,
		},
		asnum,
	}
}

type CapFQDN struct {
	DefaultParameterCapability
	HostNameLen   uint8
	HostName      string
	DomainNameLen uint8
	DomainName    string
}

func (c *CapFQDN) DecodeFromBytes(data []byte) error {
	if err := c.DefaultParameterCapability.DecodeFromBytes(data); err != nil {
		return err
	}
	data = data[2 : 2+int(c.CapLen)]
	if len(data) < 1 {
		return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_CAPABILITY, nil, "not all CapabilityFQDN bytes available")
	}
	c.HostNameLen = data[0]
	data = data[1:]
	if len(data) < int(c.HostNameLen)+1 {
		return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_CAPABILITY, nil, "not all CapabilityFQDN bytes available")
	}
	c.HostName = string(data[:c.HostNameLen])
	data = data[c.HostNameLen:]
	c.DomainNameLen = data[0]
	data = data[1:]
	if len(data) < int(c.DomainNameLen) {
		return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_CAPABILITY, nil, "not all CapabilityFQDN bytes available")
	}
	c.DomainName = string(data[:c.DomainNameLen])
	return nil
}

func (c *CapFQDN) Serialize() ([]byte, error) {
	if len(c.HostName) > 64 || len(c.DomainName) > 64 {
		return nil, fmt.Errorf("fqdn capability name too long")
	}
	c.HostNameLen = uint8(len(c.HostName))
	c.DomainNameLen = uint8(len(c.DomainName))
	buf := make([]byte, 0, 2+len(c.HostName)+len(c.DomainName))
	buf = append(buf, c.HostNameLen)
	buf = append(buf, c.HostName...)
	buf = append(buf, c.DomainNameLen)
	buf = append(buf, c.DomainName...)
	c.DefaultParameterCapability.CapValue = buf
	return c.DefaultParameterCapability.Serialize()
}

func (c *CapFQDN) String() string {
	return fmt.Sprintf("%s(%s.%s)", c.CapCode, c.HostName, c.DomainName)
}

func NewCapFQDN(hostname, domain string) *CapFQDN {
	return &CapFQDN{
		DefaultParameterCapability: DefaultParameterCapability{
			CapCode: BGP_CAP_FQDN,
		},
		HostName:   hostname,
		DomainName: domain,
	}
}

// CapUnknown keeps capabilities this speaker does not interpret as an
// opaque code and value.
type CapUnknown struct {
	DefaultParameterCapability
}

func NewCapUnknown(code BGPCapabilityCode, value []byte) *CapUnknown {
	return &CapUnknown{
		DefaultParameterCapability{
			CapCode:  code,
			CapValue: value,
		},
	}
}

func (c *CapUnknown) String() string {
	return fmt.Sprintf("%s%v", c.CapCode, c.CapValue)
}

func DecodeCapability(data []byte) (ParameterCapabilityInterface, error) {
	if len(data) < 2 {
		return nil, NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_CAPABILITY, nil, "not all capability bytes available")
	}
	var c ParameterCapabilityInterface
	switch BGPCapabilityCode(data[0]) {
	case BGP_CAP_MULTIPROTOCOL:
		c = &CapMultiProtocol{}
	case BGP_CAP_ROUTE_REFRESH:
		c = &CapRouteRefresh{}
	case BGP_CAP_FOUR_OCTET_AS_NUMBER:
		c = &CapFourOctetASNumber{}
	case BGP_CAP_FQDN:
		c = &CapFQDN{}
	default:
		c = &CapUnknown{}
	}
	if err := c.DecodeFromBytes(data); err != nil {
		return nil, err
	}
	return c, nil
}

// CompareCapability orders capabilities by code and then by their
// encoded value, so unknown capabilities sort alongside known ones.
func CompareCapability(a, b ParameterCapabilityInterface) int {
	if a.Code() != b.Code() {
		if a.Code() < b.Code() {
			return -1
		}
		return 1
	}
	ab, _ := a.Serialize()
	bb, _ := b.Serialize()
	return bytes.Compare(ab, bb)
}

// UnionCapabilities merges capability lists into one sorted list without
// duplicates.
func UnionCapabilities(lists ...[]ParameterCapabilityInterface) []ParameterCapabilityInterface {
	var all []ParameterCapabilityInterface
	for _, l := range lists {
		all = append(all, l...)
	}
	slices.SortStableFunc(all, CompareCapability)
	return slices.CompactFunc(all, func(a, b ParameterCapabilityInterface) bool {
		return CompareCapability(a, b) == 0
	})
}

type OptionParameterInterface interface {
	Serialize() ([]byte, error)
}

type OptionParameterCapability struct {
	ParamType  uint8
	ParamLen   uint8
	Capability []ParameterCapabilityInterface
}

func (o *OptionParameterCapability) DecodeFromBytes(data []byte) error {
	if len(data) < int(o.ParamLen) {
		return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_OPTIONAL_PARAMETER, nil, "not all OptionParameterCapability bytes available")
	}
	for len(data) > 0 {
		c, err := DecodeCapability(data)
		if err != nil {
			return err
		}
		o.Capability = append(o.Capability, c)
		data = data[c.Len():]
	}
	return nil
}

func (o *OptionParameterCapability) Serialize() ([]byte, error) {
	buf := make([]byte, 2)
	buf[0] = o.ParamType
	for _, p := range o.Capability {
		pbuf, err := p.Serialize()
		if err != nil {
			return nil, err
		}
		buf = append(buf, pbuf...)
	}
	if len(buf)-2 > 255 {
		return nil, fmt.Errorf("too long capability parameter: %d", len(buf)-2)
	}
	o.ParamLen = uint8(len(buf) - 2)
	buf[1] = o.ParamLen
	return buf, nil
}

func NewOptionParameterCapability(capability []ParameterCapabilityInterface) *OptionParameterCapability {
	return &OptionParameterCapability{
		ParamType:  BGP_OPT_CAPABILITY,
		Capability: capability,
	}
}

type OptionParameterUnknown struct {
	ParamType uint8
	ParamLen  uint8
	Value     []byte
}

func (o *OptionParameterUnknown) Serialize() ([]byte, error) {
	buf := make([]byte, 2)
	buf[0] = o.ParamType
	o.ParamLen = uint8(len(o.Value))
	buf[1] = o.ParamLen
	return append(buf, o.Value...), nil
}
