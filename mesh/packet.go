// Package mesh is the radio side model as seen by the relay: packets in
// on-air form, raw radio captures and the packet manager that owns them.
package mesh

import (
	"encoding/binary"
	"fmt"

	"github.com/juju/errors"
)

const (
	MaxPathSize    = 64
	MaxPayloadSize = 184
	headerSize     = 1
	pathLenSize    = 1
	transportSize  = 4
)

type RouteType uint8

const (
	RouteTransportFlood  RouteType = 0
	RouteFlood           RouteType = 1
	RouteDirect          RouteType = 2
	RouteTransportDirect RouteType = 3
)

// Letter is the single letter code used in packet messages.
// Transport flood is still a flood for consumers.
func (r RouteType) Letter() string {
	switch r {
	case RouteFlood, RouteTransportFlood:
		return "F"
	case RouteDirect:
		return "D"
	case RouteTransportDirect:
		return "T"
	default:
		return "U"
	}
}

func (r RouteType) HasTransportCodes() bool {
	return r == RouteTransportFlood || r == RouteTransportDirect
}

func (r RouteType) String() string {
	switch r {
	case RouteTransportFlood:
		return "transport-flood"
	case RouteFlood:
		return "flood"
	case RouteDirect:
		return "direct"
	case RouteTransportDirect:
		return "transport-direct"
	}
	return fmt.Sprintf("route(%d)", uint8(r))
}

type PayloadType uint8

const (
	PayloadReq       PayloadType = 0x00
	PayloadResponse  PayloadType = 0x01
	PayloadTxtMsg    PayloadType = 0x02
	PayloadAck       PayloadType = 0x03
	PayloadAdvert    PayloadType = 0x04
	PayloadGrpTxt    PayloadType = 0x05
	PayloadGrpData   PayloadType = 0x06
	PayloadAnonReq   PayloadType = 0x07
	PayloadPath      PayloadType = 0x08
	PayloadTrace     PayloadType = 0x09
	PayloadMultipart PayloadType = 0x0a
	PayloadRawCustom PayloadType = 0x0f
)

type Direction uint8

const (
	DirectionRx Direction = iota
	DirectionTx
)

func (d Direction) String() string {
	if d == DirectionTx {
		return "tx"
	}
	return "rx"
}

// Packet header layout: bits 0-1 route type, 2-5 payload type, 6-7 payload version.
// On air: header, [transport codes 2x uint16 LE], path_len, path, payload.
type Packet struct {
	Header         byte
	TransportCodes [2]uint16
	Path           []byte
	Payload        []byte
}

func NewPacket(route RouteType, payloadType PayloadType, path, payload []byte) *Packet {
	return &Packet{
		Header:  byte(route&0x03) | byte(payloadType&0x0f)<<2,
		Path:    path,
		Payload: payload,
	}
}

func (p *Packet) RouteType() RouteType     { return RouteType(p.Header & 0x03) }
func (p *Packet) PayloadType() PayloadType { return PayloadType((p.Header >> 2) & 0x0f) }
func (p *Packet) PayloadVersion() uint8    { return (p.Header >> 6) & 0x03 }

func (p *Packet) IsRouteDirect() bool {
	rt := p.RouteType()
	return rt == RouteDirect || rt == RouteTransportDirect
}

// WireLen is length of Encode() result.
func (p *Packet) WireLen() int {
	n := headerSize + pathLenSize + len(p.Path) + len(p.Payload)
	if p.RouteType().HasTransportCodes() {
		n += transportSize
	}
	return n
}

func (p *Packet) Encode() []byte {
	b := make([]byte, 0, p.WireLen())
	b = append(b, p.Header)
	if p.RouteType().HasTransportCodes() {
		b = binary.LittleEndian.AppendUint16(b, p.TransportCodes[0])
		b = binary.LittleEndian.AppendUint16(b, p.TransportCodes[1])
	}
	b = append(b, byte(len(p.Path)))
	b = append(b, p.Path...)
	b = append(b, p.Payload...)
	return b
}

// Decode parses on-air bytes. Result does not alias b.
func Decode(b []byte) (*Packet, error) {
	if len(b) < headerSize+pathLenSize {
		return nil, errors.NotValidf("packet length=%d", len(b))
	}
	p := &Packet{Header: b[0]}
	rest := b[1:]
	if p.RouteType().HasTransportCodes() {
		if len(rest) < transportSize+pathLenSize {
			return nil, errors.NotValidf("packet length=%d with transport codes", len(b))
		}
		p.TransportCodes[0] = binary.LittleEndian.Uint16(rest[0:])
		p.TransportCodes[1] = binary.LittleEndian.Uint16(rest[2:])
		rest = rest[transportSize:]
	}
	pathLen := int(rest[0])
	rest = rest[1:]
	if pathLen > MaxPathSize || pathLen > len(rest) {
		return nil, errors.NotValidf("packet path_len=%d remaining=%d", pathLen, len(rest))
	}
	if len(rest)-pathLen > MaxPayloadSize {
		return nil, errors.NotValidf("packet payload length=%d", len(rest)-pathLen)
	}
	p.Path = append([]byte(nil), rest[:pathLen]...)
	p.Payload = append([]byte(nil), rest[pathLen:]...)
	return p, nil
}

func (p *Packet) String() string {
	return fmt.Sprintf("<Packet route=%s type=%d path_len=%d payload_len=%d>",
		p.RouteType(), p.PayloadType(), len(p.Path), len(p.Payload))
}
