package filexfer

import (
	"io"
)

// InitPacket defines the SSH_FXP_INIT packet.
//
// The handshake packets carry a version where every other packet carries a request-id,
// so they do not implement the Packet interface.
type InitPacket struct {
	Version    uint32
	Extensions []*ExtensionPair
}

// MarshalBinary returns p as the binary encoding of p.
func (p *InitPacket) MarshalBinary() ([]byte, error) {
	size := 1 + 4 // byte(type) + uint32(version)

	for _, ext := range p.Extensions {
		size += ext.Len()
	}

	b := NewBuffer(make([]byte, 4, 4+size))
	b.AppendUint8(uint8(PacketTypeInit))
	b.AppendUint32(p.Version)

	for _, ext := range p.Extensions {
		ext.MarshalInto(b)
	}

	b.PutLength(size)

	return b.Bytes(), nil
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint32(length) and uint8(type) have already been consumed.
func (p *InitPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	if p.Version, err = buf.ConsumeUint32(); err != nil {
		return err
	}

	for buf.Len() > 0 {
		var ext ExtensionPair
		if err := ext.UnmarshalFrom(buf); err != nil {
			return err
		}

		p.Extensions = append(p.Extensions, &ext)
	}

	return nil
}

// UnmarshalBinary unmarshals a full raw packet out of the given data.
// It is assumed that the uint32(length) and uint8(type) have already been consumed.
func (p *InitPacket) UnmarshalBinary(data []byte) error {
	return p.UnmarshalPacketBody(NewBuffer(data))
}

// ReadFrom reads a full SSH_FXP_INIT packet from r.
// It returns the PacketType actually read; a caller awaiting a handshake
// must be able to identify a peer that opens with the wrong packet.
func (p *InitPacket) ReadFrom(r io.Reader, maxPacketLength uint32) (PacketType, error) {
	data, err := readPacket(r, maxPacketLength)
	if err != nil {
		return 0, err
	}

	buf := NewBuffer(data)

	typ, err := buf.ConsumeUint8()
	if err != nil {
		return 0, err
	}

	if PacketType(typ) != PacketTypeInit {
		return PacketType(typ), nil
	}

	return PacketTypeInit, p.UnmarshalPacketBody(buf)
}

// VersionPacket defines the SSH_FXP_VERSION packet.
type VersionPacket struct {
	Version    uint32
	Extensions []*ExtensionPair
}

// MarshalBinary returns p as the binary encoding of p.
func (p *VersionPacket) MarshalBinary() ([]byte, error) {
	size := 1 + 4 // byte(type) + uint32(version)

	for _, ext := range p.Extensions {
		size += ext.Len()
	}

	b := NewBuffer(make([]byte, 4, 4+size))
	b.AppendUint8(uint8(PacketTypeVersion))
	b.AppendUint32(p.Version)

	for _, ext := range p.Extensions {
		ext.MarshalInto(b)
	}

	b.PutLength(size)

	return b.Bytes(), nil
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint32(length) and uint8(type) have already been consumed.
func (p *VersionPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	if p.Version, err = buf.ConsumeUint32(); err != nil {
		return err
	}

	for buf.Len() > 0 {
		var ext ExtensionPair
		if err := ext.UnmarshalFrom(buf); err != nil {
			return err
		}

		p.Extensions = append(p.Extensions, &ext)
	}

	return nil
}

// UnmarshalBinary unmarshals a full raw packet out of the given data.
// It is assumed that the uint32(length) and uint8(type) have already been consumed.
func (p *VersionPacket) UnmarshalBinary(data []byte) error {
	return p.UnmarshalPacketBody(NewBuffer(data))
}

// ReadFrom reads a full SSH_FXP_VERSION packet from r.
// It returns the PacketType actually read; a caller awaiting a handshake
// must be able to identify a peer that opens with the wrong packet.
func (p *VersionPacket) ReadFrom(r io.Reader, maxPacketLength uint32) (PacketType, error) {
	data, err := readPacket(r, maxPacketLength)
	if err != nil {
		return 0, err
	}

	buf := NewBuffer(data)

	typ, err := buf.ConsumeUint8()
	if err != nil {
		return 0, err
	}

	if PacketType(typ) != PacketTypeVersion {
		return PacketType(typ), nil
	}

	return PacketTypeVersion, p.UnmarshalPacketBody(buf)
}
