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
	"net/netip"
	"strconv"
	"strings"
)

// MarshallingOption carries per-session encoding state into the codec.
type MarshallingOption struct {
	// FourOctetAS selects 4-octet AS numbers in AS_PATH and AGGREGATOR;
	// set once both sides advertised the capability.
	FourOctetAS bool
}

func IsFourOctetAS(options []*MarshallingOption) bool {
	for _, opt := range options {
		if opt != nil && opt.FourOctetAS {
			return true
		}
	}
	return false
}

type PathAttributeInterface interface {
	DecodeFromBytes([]byte, ...*MarshallingOption) error
	Serialize(...*MarshallingOption) ([]byte, error)
	Len(...*MarshallingOption) int
	GetFlags() BGPAttrFlag
	GetType() BGPAttrType
	String() string
}

type PathAttribute struct {
	Flags  BGPAttrFlag
	Type   BGPAttrType
	Length uint16
}

func (p *PathAttribute) Len(options ...*MarshallingOption) int {
	if p.Flags&BGP_ATTR_FLAG_EXTENDED_LENGTH != 0 {
		return 4 + int(p.Length)
	}
	return 3 + int(p.Length)
}

func (p *PathAttribute) GetFlags() BGPAttrFlag {
	return p.Flags
}

func (p *PathAttribute) GetType() BGPAttrType {
	return p.Type
}

func (p *PathAttribute) IsOptional() bool {
	return p.Flags&BGP_ATTR_FLAG_OPTIONAL != 0
}

func (p *PathAttribute) IsTransitive() bool {
	return p.Flags&BGP_ATTR_FLAG_TRANSITIVE != 0
}

func (p *PathAttribute) IsPartial() bool {
	return p.Flags&BGP_ATTR_FLAG_PARTIAL != 0
}

func (p *PathAttribute) IsExtendedLength() bool {
	return p.Flags&BGP_ATTR_FLAG_EXTENDED_LENGTH != 0
}

// DecodeFromBytes parses the attribute header and returns the value bytes.
func (p *PathAttribute) DecodeFromBytes(data []byte, options ...*MarshallingOption) ([]byte, error) {
	odata := data
	eCode := uint8(BGP_ERROR_UPDATE_MESSAGE_ERROR)
	eSubCode := uint8(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR)
	if len(data) < 2 {
		return nil, NewMessageError(eCode, eSubCode, data, "attribute header length is short")
	}
	p.Flags = BGPAttrFlag(data[0])
	p.Type = BGPAttrType(data[1])

	if p.Flags&BGP_ATTR_FLAG_EXTENDED_LENGTH != 0 {
		if len(data) < 4 {
			return nil, NewMessageError(eCode, eSubCode, data, "attribute header length is short")
		}
		p.Length = binary.BigEndian.Uint16(data[2:4])
		data = data[4:]
	} else {
		if len(data) < 3 {
			return nil, NewMessageError(eCode, eSubCode, data, "attribute header length is short")
		}
		p.Length = uint16(data[2])
		data = data[3:]
	}
	if len(data) < int(p.Length) {
		return nil, NewMessageError(eCode, eSubCode, data, "attribute value length is short")
	}

	if ok, eMsg := ValidateFlags(p.Type, p.Flags); !ok {
		return nil, NewMessageError(eCode, BGP_ERROR_SUB_ATTRIBUTE_FLAGS_ERROR, odata[:p.Len()], eMsg)
	}
	return data[:p.Length], nil
}

// Serialize prepends the attribute header to value. The extended length
// flag is kept if already set and forced on for values over 255 bytes.
func (p *PathAttribute) Serialize(value []byte, options ...*MarshallingOption) ([]byte, error) {
	if len(value) > 0xffff {
		return nil, fmt.Errorf("attribute %s too long: %d", p.Type, len(value))
	}
	p.Length = uint16(len(value))
	if p.Length > 255 {
		p.Flags |= BGP_ATTR_FLAG_EXTENDED_LENGTH
	}
	buf := make([]byte, 0, p.Len()+len(value))
	buf = append(buf, byte(p.Flags), byte(p.Type))
	if p.Flags&BGP_ATTR_FLAG_EXTENDED_LENGTH != 0 {
		buf = binary.BigEndian.AppendUint16(buf, p.Length)
	} else {
		buf = append(buf, byte(p.Length))
	}
	return append(buf, value...), nil
}

func newPathAttribute(t BGPAttrType) PathAttribute {
	return PathAttribute{
		Flags: pathAttrFlags[t],
		Type:  t,
	}
}

type PathAttributeOrigin struct {
	PathAttribute
	Value uint8
}

func (p *PathAttributeOrigin) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	value, err := p.PathAttribute.DecodeFromBytes(data, options...)
	if err != nil {
		return err
	}
	if p.Length != 1 {
		return NewMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, nil, "origin attribute length is incorrect")
	}
	p.Value = value[0]
	return nil
}

func (p *PathAttributeOrigin) Serialize(options ...*MarshallingOption) ([]byte, error) {
	return p.PathAttribute.Serialize([]byte{p.Value}, options...)
}

func (p *PathAttributeOrigin) String() string {
	typ := "-"
	switch p.Value {
	case BGP_ORIGIN_ATTR_TYPE_IGP:
		typ = "i"
	case BGP_ORIGIN_ATTR_TYPE_EGP:
		typ = "e"
	case BGP_ORIGIN_ATTR_TYPE_INCOMPLETE:
		typ = "?"
	}
	return fmt.Sprintf("{Origin: %s}", typ)
}

func NewPathAttributeOrigin(value uint8) *PathAttributeOrigin {
	return &PathAttributeOrigin{
		PathAttribute: newPathAttribute(BGP_ATTR_TYPE_ORIGIN),
		Value:         value,
	}
}

type AsPathParam struct {
	Type uint8
	Num  uint8
	AS   []uint32
}

func (a *AsPathParam) asLen(fourOctet bool) int {
	if fourOctet {
		return 4
	}
	return 2
}

func (a *AsPathParam) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	eCode := uint8(BGP_ERROR_UPDATE_MESSAGE_ERROR)
	eSubCode := uint8(BGP_ERROR_SUB_MALFORMED_AS_PATH)
	if len(data) < 2 {
		return NewMessageError(eCode, eSubCode, nil, "AS param header length is short")
	}
	a.Type = data[0]
	a.Num = data[1]
	if a.Type != BGP_ASPATH_ATTR_TYPE_SET && a.Type != BGP_ASPATH_ATTR_TYPE_SEQ {
		return NewMessageError(eCode, eSubCode, nil, fmt.Sprintf("invalid AS path segment type: %d", a.Type))
	}
	if a.Num == 0 {
		return NewMessageError(eCode, eSubCode, nil, "AS path segment is empty")
	}
	data = data[2:]
	asLen := a.asLen(IsFourOctetAS(options))
	if len(data) < int(a.Num)*asLen {
		return NewMessageError(eCode, eSubCode, nil, "AS param data length is short")
	}
	a.AS = make([]uint32, 0, a.Num)
	for i := 0; i < int(a.Num); i++ {
		if asLen == 4 {
			a.AS = append(a.AS, binary.BigEndian.Uint32(data))
		} else {
			a.AS = append(a.AS, uint32(binary.BigEndian.Uint16(data)))
		}
		data = data[asLen:]
	}
	return nil
}

func (a *AsPathParam) Serialize(options ...*MarshallingOption) ([]byte, error) {
	fourOctet := IsFourOctetAS(options)
	if len(a.AS) > 255 {
		return nil, fmt.Errorf("too many AS numbers in one segment: %d", len(a.AS))
	}
	a.Num = uint8(len(a.AS))
	buf := make([]byte, 0, a.Len(options...))
	buf = append(buf, a.Type, a.Num)
	for _, as := range a.AS {
		if fourOctet {
			buf = binary.BigEndian.AppendUint32(buf, as)
		} else {
			if as > 0xffff {
				as = AS_TRANS
			}
			buf = binary.BigEndian.AppendUint16(buf, uint16(as))
		}
	}
	return buf, nil
}

func (a *AsPathParam) Len(options ...*MarshallingOption) int {
	return 2 + len(a.AS)*a.asLen(IsFourOctetAS(options))
}

// ASLen counts a sequence by its members and a set as one hop.
func (a *AsPathParam) ASLen() int {
	switch a.Type {
	case BGP_ASPATH_ATTR_TYPE_SEQ:
		return len(a.AS)
	case BGP_ASPATH_ATTR_TYPE_SET:
		return 1
	}
	return 0
}

func (a *AsPathParam) String() string {
	s := make([]string, 0, len(a.AS))
	for _, as := range a.AS {
		s = append(s, strconv.FormatUint(uint64(as), 10))
	}
	switch a.Type {
	case BGP_ASPATH_ATTR_TYPE_SET:
		return "{" + strings.Join(s, ",") + "}"
	}
	return strings.Join(s, " ")
}

func NewAsPathParam(segType uint8, as []uint32) *AsPathParam {
	return &AsPathParam{
		Type: segType,
		Num:  uint8(len(as)),
		AS:   as,
	}
}

type PathAttributeAsPath struct {
	PathAttribute
	Value []*AsPathParam
}

func (p *PathAttributeAsPath) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	value, err := p.PathAttribute.DecodeFromBytes(data, options...)
	if err != nil {
		return err
	}
	p.Value = nil
	for len(value) > 0 {
		param := &AsPathParam{}
		if err := param.DecodeFromBytes(value, options...); err != nil {
			return err
		}
		p.Value = append(p.Value, param)
		value = value[param.Len(options...):]
	}
	return nil
}

func (p *PathAttributeAsPath) Serialize(options ...*MarshallingOption) ([]byte, error) {
	buf := make([]byte, 0)
	for _, v := range p.Value {
		vbuf, err := v.Serialize(options...)
		if err != nil {
			return nil, err
		}
		buf = append(buf, vbuf...)
	}
	return p.PathAttribute.Serialize(buf, options...)
}

// ASLen is the path length used by best path selection.
func (p *PathAttributeAsPath) ASLen() int {
	l := 0
	for _, v := range p.Value {
		l += v.ASLen()
	}
	return l
}

// Contains reports whether as appears in any segment.
func (p *PathAttributeAsPath) Contains(as uint32) bool {
	for _, v := range p.Value {
		for _, a := range v.AS {
			if a == as {
				return true
			}
		}
	}
	return false
}

// ASList flattens every segment in order.
func (p *PathAttributeAsPath) ASList() []uint32 {
	l := make([]uint32, 0)
	for _, v := range p.Value {
		l = append(l, v.AS...)
	}
	return l
}

func (p *PathAttributeAsPath) String() string {
	params := make([]string, 0, len(p.Value))
	for _, param := range p.Value {
		params = append(params, param.String())
	}
	return strings.Join(params, " ")
}

func NewPathAttributeAsPath(value []*AsPathParam) *PathAttributeAsPath {
	return &PathAttributeAsPath{
		PathAttribute: newPathAttribute(BGP_ATTR_TYPE_AS_PATH),
		Value:         value,
	}
}

type PathAttributeNextHop struct {
	PathAttribute
	Value netip.Addr
}

func (p *PathAttributeNextHop) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	value, err := p.PathAttribute.DecodeFromBytes(data, options...)
	if err != nil {
		return err
	}
	if p.Length != 4 {
		return NewMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, nil, "nexthop length isn't correct")
	}
	p.Value = netip.AddrFrom4([4]byte(value))
	return nil
}

func (p *PathAttributeNextHop) Serialize(options ...*MarshallingOption) ([]byte, error) {
	if !p.Value.Is4() {
		return nil, fmt.Errorf("invalid nexthop address: %s", p.Value)
	}
	return p.PathAttribute.Serialize(p.Value.AsSlice(), options...)
}

func (p *PathAttributeNextHop) String() string {
	return fmt.Sprintf("{Nexthop: %s}", p.Value)
}

func NewPathAttributeNextHop(addr netip.Addr) *PathAttributeNextHop {
	return &PathAttributeNextHop{
		PathAttribute: newPathAttribute(BGP_ATTR_TYPE_NEXT_HOP),
		Value:         addr,
	}
}

type PathAttributeMultiExitDisc struct {
	PathAttribute
	Value uint32
}

func (p *PathAttributeMultiExitDisc) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	value, err := p.PathAttribute.DecodeFromBytes(data, options...)
	if err != nil {
		return err
	}
	if p.Length != 4 {
		return NewMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, nil, "med length isn't correct")
	}
	p.Value = binary.BigEndian.Uint32(value)
	return nil
}

func (p *PathAttributeMultiExitDisc) Serialize(options ...*MarshallingOption) ([]byte, error) {
	return p.PathAttribute.Serialize(binary.BigEndian.AppendUint32(nil, p.Value), options...)
}

func (p *PathAttributeMultiExitDisc) String() string {
	return fmt.Sprintf("{Med: %d}", p.Value)
}

func NewPathAttributeMultiExitDisc(value uint32) *PathAttributeMultiExitDisc {
	return &PathAttributeMultiExitDisc{
		PathAttribute: newPathAttribute(BGP_ATTR_TYPE_MULTI_EXIT_DISC),
		Value:         value,
	}
}

type PathAttributeLocalPref struct {
	PathAttribute
	Value uint32
}

func (p *PathAttributeLocalPref) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	value, err := p.PathAttribute.DecodeFromBytes(data, options...)
	if err != nil {
		return err
	}
	if p.Length != 4 {
		return NewMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, nil, "local pref length isn't correct")
	}
	p.Value = binary.BigEndian.Uint32(value)
	return nil
}

func (p *PathAttributeLocalPref) Serialize(options ...*MarshallingOption) ([]byte, error) {
	return p.PathAttribute.Serialize(binary.BigEndian.AppendUint32(nil, p.Value), options...)
}

func (p *PathAttributeLocalPref) String() string {
	return fmt.Sprintf("{LocalPref: %d}", p.Value)
}

func NewPathAttributeLocalPref(value uint32) *PathAttributeLocalPref {
	return &PathAttributeLocalPref{
		PathAttribute: newPathAttribute(BGP_ATTR_TYPE_LOCAL_PREF),
		Value:         value,
	}
}

type PathAttributeAtomicAggregate struct {
	PathAttribute
}

func (p *PathAttributeAtomicAggregate) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	if _, err := p.PathAttribute.DecodeFromBytes(data, options...); err != nil {
		return err
	}
	if p.Length != 0 {
		return NewMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, nil, "atomic aggregate should have no value")
	}
	return nil
}

func (p *PathAttributeAtomicAggregate) Serialize(options ...*MarshallingOption) ([]byte, error) {
	return p.PathAttribute.Serialize(nil, options...)
}

func (p *PathAttributeAtomicAggregate) String() string {
	return "{AtomicAggregate}"
}

func NewPathAttributeAtomicAggregate() *PathAttributeAtomicAggregate {
	return &PathAttributeAtomicAggregate{
		PathAttribute: newPathAttribute(BGP_ATTR_TYPE_ATOMIC_AGGREGATE),
	}
}

type PathAttributeAggregatorParam struct {
	AS      uint32
	Address netip.Addr
}

type PathAttributeAggregator struct {
	PathAttribute
	Value PathAttributeAggregatorParam
}

func (p *PathAttributeAggregator) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	value, err := p.PathAttribute.DecodeFromBytes(data, options...)
	if err != nil {
		return err
	}
	switch {
	case IsFourOctetAS(options) && p.Length == 8:
		p.Value.AS = binary.BigEndian.Uint32(value[0:4])
		p.Value.Address = netip.AddrFrom4([4]byte(value[4:8]))
	case !IsFourOctetAS(options) && p.Length == 6:
		p.Value.AS = uint32(binary.BigEndian.Uint16(value[0:2]))
		p.Value.Address = netip.AddrFrom4([4]byte(value[2:6]))
	default:
		return NewMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, nil, "aggregator length isn't correct")
	}
	return nil
}

func (p *PathAttributeAggregator) Serialize(options ...*MarshallingOption) ([]byte, error) {
	if !p.Value.Address.Is4() {
		return nil, fmt.Errorf("invalid aggregator address: %s", p.Value.Address)
	}
	var buf []byte
	if IsFourOctetAS(options) {
		buf = binary.BigEndian.AppendUint32(buf, p.Value.AS)
	} else {
		as := p.Value.AS
		if as > 0xffff {
			as = AS_TRANS
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(as))
	}
	return p.PathAttribute.Serialize(append(buf, p.Value.Address.AsSlice()...), options...)
}

func (p *PathAttributeAggregator) String() string {
	return fmt.Sprintf("{Aggregate: {AS: %d, Address: %s}}", p.Value.AS, p.Value.Address)
}

func NewPathAttributeAggregator(as uint32, address netip.Addr) *PathAttributeAggregator {
	return &PathAttributeAggregator{
		PathAttribute: newPathAttribute(BGP_ATTR_TYPE_AGGREGATOR),
		Value: PathAttributeAggregatorParam{
			AS:      as,
			Address: address,
		},
	}
}

// PathAttributeUnknown carries an attribute this speaker does not interpret.
type PathAttributeUnknown struct {
	PathAttribute
	Value []byte
}

func (p *PathAttributeUnknown) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	value, err := p.PathAttribute.DecodeFromBytes(data, options...)
	if err != nil {
		return err
	}
	p.Value = append([]byte(nil), value...)
	return nil
}

func (p *PathAttributeUnknown) Serialize(options ...*MarshallingOption) ([]byte, error) {
	return p.PathAttribute.Serialize(p.Value, options...)
}

func (p *PathAttributeUnknown) String() string {
	return fmt.Sprintf("{Flags: %d, Type: %d, Value: %v}", p.Flags, p.Type, p.Value)
}

func NewPathAttributeUnknown(flags BGPAttrFlag, typ BGPAttrType, value []byte) *PathAttributeUnknown {
	return &PathAttributeUnknown{
		PathAttribute: PathAttribute{
			Flags: flags,
			Type:  typ,
		},
		Value: value,
	}
}

// GetPathAttribute returns an empty attribute of the type found in data's
// header.
func GetPathAttribute(data []byte) (PathAttributeInterface, error) {
	if len(data) < 2 {
		return nil, NewMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, data, "attribute type length is short")
	}
	switch BGPAttrType(data[1]) {
	case BGP_ATTR_TYPE_ORIGIN:
		return &PathAttributeOrigin{}, nil
	case BGP_ATTR_TYPE_AS_PATH:
		return &PathAttributeAsPath{}, nil
	case BGP_ATTR_TYPE_NEXT_HOP:
		return &PathAttributeNextHop{}, nil
	case BGP_ATTR_TYPE_MULTI_EXIT_DISC:
		return &PathAttributeMultiExitDisc{}, nil
	case BGP_ATTR_TYPE_LOCAL_PREF:
		return &PathAttributeLocalPref{}, nil
	case BGP_ATTR_TYPE_ATOMIC_AGGREGATE:
		return &PathAttributeAtomicAggregate{}, nil
	case BGP_ATTR_TYPE_AGGREGATOR:
		return &PathAttributeAggregator{}, nil
	}
	return &PathAttributeUnknown{}, nil
}

// SerializeAttributes concatenates the encoded attributes.
func SerializeAttributes(attrs []PathAttributeInterface, options ...*MarshallingOption) ([]byte, error) {
	var buf bytes.Buffer
	for _, a := range attrs {
		b, err := a.Serialize(options...)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}
