// Package mesh implements the reduced-AODV mesh routing layer: the mesh
// header, a bounded route table with TTL-based eviction, and the
// deliver/forward/drop decision for inbound frames. The mesh is a
// tree-shaped network anchored at node 0 (the coordinator).
package mesh

import (
	"encoding/binary"
	"fmt"
)

// Mesh frame packet types.
const (
	PacketData   uint8 = 0
	PacketRREQ   uint8 = 1
	PacketRREP   uint8 = 2
	PacketRERR   uint8 = 3
	PacketBeacon uint8 = 4
)

// Node addressing, mirrored from the protocol package to keep this
// package free of a dependency on it (the mesh header is addressing-only
// and carries an opaque payload).
const (
	NodeIDCoordinator uint8 = 0
	NodeIDBroadcast   uint8 = 255
)

// HeaderSize is the fixed size of a mesh header.
const HeaderSize = 1 + 1 + 1 + 1 + 1 + 1 + 1 + 2 // 9

// Header is the mesh header prepended to a payload when mesh routing is
// enabled on the sender.
type Header struct {
	PacketType     uint8
	SourceID       uint8
	DestID         uint8 // 255 = broadcast
	NextHop        uint8
	PrevHop        uint8
	HopCount       uint8
	TTL            uint8
	SequenceNumber uint16
}

// Encode serializes h.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.PacketType
	buf[1] = h.SourceID
	buf[2] = h.DestID
	buf[3] = h.NextHop
	buf[4] = h.PrevHop
	buf[5] = h.HopCount
	buf[6] = h.TTL
	binary.LittleEndian.PutUint16(buf[7:9], h.SequenceNumber)
	return buf
}

// DecodeHeader parses a mesh header from the front of buf.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("mesh: short header: %d bytes", len(buf))
	}
	return &Header{
		PacketType:     buf[0],
		SourceID:       buf[1],
		DestID:         buf[2],
		NextHop:        buf[3],
		PrevHop:        buf[4],
		HopCount:       buf[5],
		TTL:            buf[6],
		SequenceNumber: binary.LittleEndian.Uint16(buf[7:9]),
	}, nil
}

// WrapFrame prepends h's encoding to payload.
func WrapFrame(h *Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	copy(buf[:HeaderSize], h.Encode())
	copy(buf[HeaderSize:], payload)
	return buf
}
