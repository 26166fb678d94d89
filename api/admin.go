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

// Package api is the request/response protocol spoken on the local admin
// socket of bgpd.
package api

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

type MessageType uint8

const (
	MESSAGE_TYPE_REQ MessageType = iota + 1
	MESSAGE_TYPE_RESP
	MESSAGE_TYPE_ERROR
)

func (t MessageType) String() string {
	switch t {
	case MESSAGE_TYPE_REQ:
		return "Req"
	case MESSAGE_TYPE_RESP:
		return "Resp"
	case MESSAGE_TYPE_ERROR:
		return "Error"
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

type ContentType uint8

const (
	CONTENT_SHOW_VERSION ContentType = iota + 1
	CONTENT_SHOW_TABLE
	CONTENT_SHOW_NEIGHBOURS
)

func (c ContentType) String() string {
	switch c {
	case CONTENT_SHOW_VERSION:
		return "ShowVersion"
	case CONTENT_SHOW_TABLE:
		return "ShowTable"
	case CONTENT_SHOW_NEIGHBOURS:
		return "ShowNeighbours"
	}
	return fmt.Sprintf("ContentType(%d)", uint8(c))
}

const (
	// length of the payload, type, content
	headerLength = 6
	// MaxPayloadLength bounds what ReadMessage accepts from a peer.
	MaxPayloadLength = 16 << 20
)

// Message is one framed request or response. Data carries a JSON encoded
// payload whose shape depends on Content; for MESSAGE_TYPE_ERROR it is the
// error text.
type Message struct {
	Type    MessageType
	Content ContentType
	Data    []byte
}

func NewRequest(c ContentType, payload any) (*Message, error) {
	return newMessage(MESSAGE_TYPE_REQ, c, payload)
}

func NewResponse(c ContentType, payload any) (*Message, error) {
	return newMessage(MESSAGE_TYPE_RESP, c, payload)
}

func NewErrorResponse(c ContentType, err error) *Message {
	return &Message{
		Type:    MESSAGE_TYPE_ERROR,
		Content: c,
		Data:    []byte(err.Error()),
	}
}

func newMessage(t MessageType, c ContentType, payload any) (*Message, error) {
	m := &Message{Type: t, Content: c}
	if payload == nil {
		return m, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "can't encode %s payload", c)
	}
	m.Data = b
	return m, nil
}

// Decode unmarshals the payload into v. An error response is returned as
// an error.
func (m *Message) Decode(v any) error {
	if m.Type == MESSAGE_TYPE_ERROR {
		return fmt.Errorf("%s: %s", m.Content, string(m.Data))
	}
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.Wrapf(err, "can't decode %s payload", m.Content)
	}
	return nil
}

func (m *Message) Serialize() ([]byte, error) {
	if len(m.Data) > MaxPayloadLength {
		return nil, fmt.Errorf("payload too large: %d bytes", len(m.Data))
	}
	buf := make([]byte, headerLength+len(m.Data))
	binary.BigEndian.PutUint32(buf, uint32(len(m.Data)))
	buf[4] = uint8(m.Type)
	buf[5] = uint8(m.Content)
	copy(buf[headerLength:], m.Data)
	return buf, nil
}

func WriteMessage(w io.Writer, m *Message) error {
	buf, err := m.Serialize()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadMessage reads one framed message. io.EOF is returned untouched when
// the stream ends cleanly between messages.
func ReadMessage(r io.Reader) (*Message, error) {
	var hdr [headerLength]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[:4])
	if length > MaxPayloadLength {
		return nil, fmt.Errorf("payload too large: %d bytes", length)
	}
	m := &Message{
		Type:    MessageType(hdr[4]),
		Content: ContentType(hdr[5]),
	}
	switch m.Type {
	case MESSAGE_TYPE_REQ, MESSAGE_TYPE_RESP, MESSAGE_TYPE_ERROR:
	default:
		return nil, fmt.Errorf("unknown message type %d", hdr[4])
	}
	if length > 0 {
		m.Data = make([]byte, length)
		if _, err := io.ReadFull(r, m.Data); err != nil {
			return nil, errors.Wrap(err, "short payload")
		}
	}
	return m, nil
}

type ShowTableRequest struct {
	// Prefix is either a prefix, matched exactly, or an address looked up
	// by longest match. Empty returns the whole table.
	Prefix string `json:"prefix,omitempty"`
}

type TableEntry struct {
	Prefix    string `json:"prefix"`
	Nexthop   string `json:"nexthop"`
	LocalPref uint32 `json:"local_pref"`
	Source    string `json:"source"`
	Time      int64  `json:"time"`
	AsPath    string `json:"as_path"`
	Best      bool   `json:"best"`
}

type NeighbourEntry struct {
	Address      string   `json:"address"`
	RemoteAS     uint32   `json:"remote_as"`
	HoldTime     uint16   `json:"hold_time"`
	State        string   `json:"state"`
	ConnID       string   `json:"conn_id,omitempty"`
	Uptime       int64    `json:"uptime,omitempty"`
	Capabilities []string `json:"capabilities"`
}

type VersionResponse struct {
	Version string `json:"version"`
}
