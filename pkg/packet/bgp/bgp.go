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
)

type BGPOpen struct {
	Version     uint8
	MyAS        uint16
	HoldTime    uint16
	ID          netip.Addr
	OptParamLen uint8
	OptParams   []OptionParameterInterface
}

func (msg *BGPOpen) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	if len(data) < BGP_OPEN_MIN_LENGTH {
		return NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, nil, "not all OPEN message bytes available")
	}
	msg.Version = data[0]
	msg.MyAS = binary.BigEndian.Uint16(data[1:3])
	msg.HoldTime = binary.BigEndian.Uint16(data[3:5])
	msg.ID = netip.AddrFrom4([4]byte(data[5:9]))
	msg.OptParamLen = data[9]
	data = data[10:]
	if len(data) < int(msg.OptParamLen) {
		return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_OPTIONAL_PARAMETER, nil, "not all OPEN optional parameters available")
	}
	data = data[:msg.OptParamLen]

	msg.OptParams = nil
	for len(data) > 0 {
		if len(data) < 2 {
			return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_OPTIONAL_PARAMETER, nil, "optional parameter header is short")
		}
		paramtype := data[0]
		paramlen := data[1]
		if len(data) < 2+int(paramlen) {
			return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_OPTIONAL_PARAMETER, nil, "optional parameter value is short")
		}
		value := data[2 : 2+int(paramlen)]
		if paramtype == BGP_OPT_CAPABILITY {
			p := &OptionParameterCapability{
				ParamType: paramtype,
				ParamLen:  paramlen,
			}
			if err := p.DecodeFromBytes(value); err != nil {
				return err
			}
			msg.OptParams = append(msg.OptParams, p)
		} else {
			msg.OptParams = append(msg.OptParams, &OptionParameterUnknown{
				ParamType: paramtype,
				ParamLen:  paramlen,
				Value:     append([]byte(nil), value...),
			})
		}
		data = data[2+int(paramlen):]
	}
	return nil
}

func (msg *BGPOpen) Serialize(options ...*MarshallingOption) ([]byte, error) {
	if !msg.ID.Is4() {
		return nil, fmt.Errorf("invalid router id: %s", msg.ID)
	}
	buf := make([]byte, 10)
	buf[0] = msg.Version
	binary.BigEndian.PutUint16(buf[1:3], msg.MyAS)
	binary.BigEndian.PutUint16(buf[3:5], msg.HoldTime)
	id := msg.ID.As4()
	copy(buf[5:9], id[:])
	pbuf := make([]byte, 0)
	for _, p := range msg.OptParams {
		b, err := p.Serialize()
		if err != nil {
			return nil, err
		}
		pbuf = append(pbuf, b...)
	}
	if len(pbuf) > 255 {
		return nil, fmt.Errorf("too long optional parameters: %d", len(pbuf))
	}
	msg.OptParamLen = uint8(len(pbuf))
	buf[9] = msg.OptParamLen
	return append(buf, pbuf...), nil
}

// Capabilities flattens every capability carried in the optional parameters.
func (msg *BGPOpen) Capabilities() []ParameterCapabilityInterface {
	caps := make([]ParameterCapabilityInterface, 0)
	for _, p := range msg.OptParams {
		if c, ok := p.(*OptionParameterCapability); ok {
			caps = append(caps, c.Capability...)
		}
	}
	return caps
}

func NewBGPOpenMessage(myas uint16, holdtime uint16, id netip.Addr, optparams []OptionParameterInterface) *BGPMessage {
	return &BGPMessage{
		Header: BGPHeader{Type: BGP_MSG_OPEN},
		Body:   &BGPOpen{BGP_VERSION, myas, holdtime, id, 0, optparams},
	}
}

type BGPUpdate struct {
	WithdrawnRoutesLen    uint16
	WithdrawnRoutes       []*Prefix
	TotalPathAttributeLen uint16
	PathAttributes        []PathAttributeInterface
	NLRI                  []*Prefix
}

func (msg *BGPUpdate) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	eCode := uint8(BGP_ERROR_UPDATE_MESSAGE_ERROR)
	eSubCode := uint8(BGP_ERROR_SUB_MALFORMED_ATTRIBUTE_LIST)

	if len(data) < 2 {
		return NewMessageError(eCode, eSubCode, nil, "not all UPDATE message bytes available")
	}
	msg.WithdrawnRoutesLen = binary.BigEndian.Uint16(data[0:2])
	data = data[2:]
	if len(data) < int(msg.WithdrawnRoutesLen) {
		return NewMessageError(eCode, eSubCode, nil, "withdrawn route length exceeds message length")
	}
	withdrawn, err := DecodePrefixes(AFI_IP, data[:msg.WithdrawnRoutesLen])
	if err != nil {
		return err
	}
	msg.WithdrawnRoutes = withdrawn
	data = data[msg.WithdrawnRoutesLen:]

	if len(data) < 2 {
		return NewMessageError(eCode, eSubCode, nil, "path attribute length is missing")
	}
	msg.TotalPathAttributeLen = binary.BigEndian.Uint16(data[0:2])
	data = data[2:]
	if len(data) < int(msg.TotalPathAttributeLen) {
		return NewMessageError(eCode, eSubCode, nil, "path attribute length exceeds message length")
	}
	attrs := data[:msg.TotalPathAttributeLen]
	msg.PathAttributes = nil
	for len(attrs) > 0 {
		p, err := GetPathAttribute(attrs)
		if err != nil {
			return err
		}
		if err := p.DecodeFromBytes(attrs, options...); err != nil {
			return err
		}
		msg.PathAttributes = append(msg.PathAttributes, p)
		attrs = attrs[p.Len(options...):]
	}
	data = data[msg.TotalPathAttributeLen:]

	nlri, err := DecodePrefixes(AFI_IP, data)
	if err != nil {
		return err
	}
	msg.NLRI = nlri
	return nil
}

func (msg *BGPUpdate) Serialize(options ...*MarshallingOption) ([]byte, error) {
	wbuf := make([]byte, 2)
	for _, w := range msg.WithdrawnRoutes {
		b, err := w.Serialize()
		if err != nil {
			return nil, err
		}
		wbuf = append(wbuf, b...)
	}
	msg.WithdrawnRoutesLen = uint16(len(wbuf) - 2)
	binary.BigEndian.PutUint16(wbuf, msg.WithdrawnRoutesLen)

	pbuf := make([]byte, 2)
	for _, p := range msg.PathAttributes {
		b, err := p.Serialize(options...)
		if err != nil {
			return nil, err
		}
		pbuf = append(pbuf, b...)
	}
	msg.TotalPathAttributeLen = uint16(len(pbuf) - 2)
	binary.BigEndian.PutUint16(pbuf, msg.TotalPathAttributeLen)

	buf := append(wbuf, pbuf...)
	for _, n := range msg.NLRI {
		b, err := n.Serialize()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

// Attribute returns the first attribute of type t, if present.
func (msg *BGPUpdate) Attribute(t BGPAttrType) PathAttributeInterface {
	for _, a := range msg.PathAttributes {
		if a.GetType() == t {
			return a
		}
	}
	return nil
}

func NewBGPUpdateMessage(withdrawnRoutes []*Prefix, pathattrs []PathAttributeInterface, nlri []*Prefix) *BGPMessage {
	return &BGPMessage{
		Header: BGPHeader{Type: BGP_MSG_UPDATE},
		Body:   &BGPUpdate{0, withdrawnRoutes, 0, pathattrs, nlri},
	}
}

type BGPNotification struct {
	ErrorCode    uint8
	ErrorSubcode uint8
	Data         []byte
}

func (msg *BGPNotification) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	if len(data) < 2 {
		return NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, nil, "not all NOTIFICATION bytes available")
	}
	msg.ErrorCode = data[0]
	msg.ErrorSubcode = data[1]
	msg.Data = nil
	if len(data) > 2 {
		msg.Data = append([]byte(nil), data[2:]...)
	}
	return nil
}

func (msg *BGPNotification) Serialize(options ...*MarshallingOption) ([]byte, error) {
	buf := make([]byte, 2, 2+len(msg.Data))
	buf[0] = msg.ErrorCode
	buf[1] = msg.ErrorSubcode
	return append(buf, msg.Data...), nil
}

func NewBGPNotificationMessage(errcode uint8, errsubcode uint8, data []byte) *BGPMessage {
	return &BGPMessage{
		Header: BGPHeader{Type: BGP_MSG_NOTIFICATION},
		Body:   &BGPNotification{errcode, errsubcode, data},
	}
}

type BGPKeepAlive struct {
}

func (msg *BGPKeepAlive) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	return nil
}

func (msg *BGPKeepAlive) Serialize(options ...*MarshallingOption) ([]byte, error) {
	return nil, nil
}

func NewBGPKeepAliveMessage() *BGPMessage {
	return &BGPMessage{
		Header: BGPHeader{Len: BGP_HEADER_LENGTH, Type: BGP_MSG_KEEPALIVE},
		Body:   &BGPKeepAlive{},
	}
}

type BGPRouteRefresh struct {
	AFI         uint16
	Demarcation uint8
	SAFI        uint8
}

func (msg *BGPRouteRefresh) DecodeFromBytes(data []byte, options ...*MarshallingOption) error {
	if len(data) < 4 {
		return NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, nil, "not all ROUTE_REFRESH bytes available")
	}
	msg.AFI = binary.BigEndian.Uint16(data[0:2])
	msg.Demarcation = data[2]
	msg.SAFI = data[3]
	return nil
}

func (msg *BGPRouteRefresh) Serialize(options ...*MarshallingOption) ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], msg.AFI)
	buf[2] = msg.Demarcation
	buf[3] = msg.SAFI
	return buf, nil
}

func NewBGPRouteRefreshMessage(afi uint16, demarcation uint8, safi uint8) *BGPMessage {
	return &BGPMessage{
		Header: BGPHeader{Type: BGP_MSG_ROUTE_REFRESH},
		Body:   &BGPRouteRefresh{afi, demarcation, safi},
	}
}

type BGPBody interface {
	DecodeFromBytes([]byte, ...*MarshallingOption) error
	Serialize(...*MarshallingOption) ([]byte, error)
}

var bgpMarker = bytes.Repeat([]byte{0xff}, BGP_MARKER_LENGTH)

// BGPHeader omits the marker; it is always sixteen 0xff octets on the wire.
type BGPHeader struct {
	Len  uint16
	Type BGPMessageType
}

func (msg *BGPHeader) DecodeFromBytes(data []byte) error {
	if len(data) < BGP_HEADER_LENGTH {
		return NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, nil, "not all BGP message header")
	}
	if !bytes.Equal(data[:BGP_MARKER_LENGTH], bgpMarker) {
		return NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_CONNECTION_NOT_SYNCHRONIZED, nil, "invalid marker")
	}
	msg.Len = binary.BigEndian.Uint16(data[16:18])
	if msg.Len < BGP_HEADER_LENGTH || msg.Len > BGP_MAX_MESSAGE_LENGTH {
		return NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, data[16:18], fmt.Sprintf("invalid message length %d", msg.Len))
	}
	msg.Type = BGPMessageType(data[18])
	return nil
}

func (msg *BGPHeader) Serialize() ([]byte, error) {
	buf := make([]byte, BGP_HEADER_LENGTH)
	copy(buf, bgpMarker)
	binary.BigEndian.PutUint16(buf[16:18], msg.Len)
	buf[18] = uint8(msg.Type)
	return buf, nil
}

type BGPMessage struct {
	Header BGPHeader
	Body   BGPBody
}

// checkLength enforces the per-type bounds on the total message length.
func checkLength(h *BGPHeader) error {
	l := int(h.Len)
	ok := true
	switch h.Type {
	case BGP_MSG_OPEN:
		ok = l >= BGP_HEADER_LENGTH+BGP_OPEN_MIN_LENGTH
	case BGP_MSG_UPDATE:
		ok = l >= BGP_HEADER_LENGTH+BGP_UPDATE_MIN_LENGTH
	case BGP_MSG_NOTIFICATION:
		ok = l >= BGP_HEADER_LENGTH+2
	case BGP_MSG_KEEPALIVE:
		ok = l == BGP_HEADER_LENGTH
	case BGP_MSG_ROUTE_REFRESH:
		ok = l == BGP_HEADER_LENGTH+4
	}
	if !ok {
		return NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, binary.BigEndian.AppendUint16(nil, h.Len), fmt.Sprintf("invalid %s message length %d", h.Type, l))
	}
	return nil
}

func parseBody(h *BGPHeader, data []byte, options ...*MarshallingOption) (*BGPMessage, error) {
	if len(data) < int(h.Len)-BGP_HEADER_LENGTH {
		return nil, NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, nil, "not all BGP message bytes available")
	}
	data = data[:int(h.Len)-BGP_HEADER_LENGTH]
	msg := &BGPMessage{Header: *h}

	switch msg.Header.Type {
	case BGP_MSG_OPEN:
		msg.Body = &BGPOpen{}
	case BGP_MSG_UPDATE:
		msg.Body = &BGPUpdate{}
	case BGP_MSG_NOTIFICATION:
		msg.Body = &BGPNotification{}
	case BGP_MSG_KEEPALIVE:
		msg.Body = &BGPKeepAlive{}
	case BGP_MSG_ROUTE_REFRESH:
		msg.Body = &BGPRouteRefresh{}
	default:
		return nil, NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_TYPE, []byte{byte(h.Type)}, "unknown message type")
	}
	if err := checkLength(h); err != nil {
		return nil, err
	}
	if err := msg.Body.DecodeFromBytes(data, options...); err != nil {
		return nil, err
	}
	return msg, nil
}

// ParseBGPMessage decodes one complete message from the front of data.
func ParseBGPMessage(data []byte, options ...*MarshallingOption) (*BGPMessage, error) {
	h := &BGPHeader{}
	if err := h.DecodeFromBytes(data); err != nil {
		return nil, err
	}
	return parseBody(h, data[BGP_HEADER_LENGTH:], options...)
}

func ParseBGPBody(h *BGPHeader, data []byte, options ...*MarshallingOption) (*BGPMessage, error) {
	return parseBody(h, data, options...)
}

func (msg *BGPMessage) Serialize(options ...*MarshallingOption) ([]byte, error) {
	b, err := msg.Body.Serialize(options...)
	if err != nil {
		return nil, err
	}
	if BGP_HEADER_LENGTH+len(b) > BGP_MAX_MESSAGE_LENGTH {
		return nil, NewMessageError(0, 0, nil, fmt.Sprintf("too long message length %d", BGP_HEADER_LENGTH+len(b)))
	}
	msg.Header.Len = BGP_HEADER_LENGTH + uint16(len(b))
	h, err := msg.Header.Serialize()
	if err != nil {
		return nil, err
	}
	return append(h, b...), nil
}

// SplitBGP is a bufio.SplitFunc that yields whole BGP messages, framing on
// the header length and waiting for more input on a partial message.
func SplitBGP(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 || len(data) < BGP_HEADER_LENGTH {
		return 0, nil, nil
	}
	h := &BGPHeader{}
	if err := h.DecodeFromBytes(data); err != nil {
		return 0, nil, err
	}
	if len(data) < int(h.Len) {
		return 0, nil, nil
	}
	return int(h.Len), data[:h.Len], nil
}

type MessageError struct {
	TypeCode    uint8
	SubTypeCode uint8
	Data        []byte
	Message     string
}

func NewMessageError(typeCode, subTypeCode uint8, data []byte, msg string) error {
	return &MessageError{
		TypeCode:    typeCode,
		SubTypeCode: subTypeCode,
		Data:        data,
		Message:     msg,
	}
}

func (e *MessageError) Error() string {
	return e.Message
}

// Notification builds the NOTIFICATION a session sends in response.
func (e *MessageError) Notification() *BGPMessage {
	return NewBGPNotificationMessage(e.TypeCode, e.SubTypeCode, e.Data)
}
