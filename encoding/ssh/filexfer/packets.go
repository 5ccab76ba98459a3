package filexfer

import (
	"fmt"
	"io"
)

// DefaultMaxPacketLength is the length cap applied to inbound frames when the caller does not set one.
// draft-ietf-secsh-filexfer-02 section 3 requires support for at least 34000-byte packets;
// 256 KiB leaves generous room for large READ/WRITE data strings while still bounding memory.
const DefaultMaxPacketLength = 256 * 1024

// NewPacketFromType returns a zero value of the request packet type named by typ.
// Only client-to-server request types are constructable this way;
// any other type returns an error, as a server must answer it SSH_FX_OP_UNSUPPORTED.
func NewPacketFromType(typ PacketType) (Packet, error) {
	switch typ {
	case PacketTypeOpen:
		return new(OpenPacket), nil
	case PacketTypeClose:
		return new(ClosePacket), nil
	case PacketTypeRead:
		return new(ReadPacket), nil
	case PacketTypeWrite:
		return new(WritePacket), nil
	case PacketTypeLStat:
		return new(LStatPacket), nil
	case PacketTypeFStat:
		return new(FStatPacket), nil
	case PacketTypeSetStat:
		return new(SetStatPacket), nil
	case PacketTypeFSetStat:
		return new(FSetStatPacket), nil
	case PacketTypeOpenDir:
		return new(OpenDirPacket), nil
	case PacketTypeReadDir:
		return new(ReadDirPacket), nil
	case PacketTypeRemove:
		return new(RemovePacket), nil
	case PacketTypeMkdir:
		return new(MkdirPacket), nil
	case PacketTypeRmdir:
		return new(RmdirPacket), nil
	case PacketTypeRealPath:
		return new(RealPathPacket), nil
	case PacketTypeStat:
		return new(StatPacket), nil
	case PacketTypeRename:
		return new(RenamePacket), nil
	case PacketTypeReadLink:
		return new(ReadLinkPacket), nil
	case PacketTypeSymlink:
		return new(SymlinkPacket), nil
	case PacketTypeExtended:
		return new(ExtendedPacket), nil
	default:
		return nil, fmt.Errorf("unexpected request packet type: %v", typ)
	}
}

// readPacket reads a uint32 length-prefixed binary data packet from r.
// A declared length of zero, or above maxPacketLength, rejects the frame before any allocation.
func readPacket(r io.Reader, maxPacketLength uint32) ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}

	length := unmarshalUint32(lb[:])
	if length < 1 {
		return nil, ErrShortPacket
	}
	if length > maxPacketLength {
		return nil, ErrLongPacket
	}

	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}

	return b, nil
}

// RawPacket implements the general packet format from draft-ietf-secsh-filexfer-02
// carrying an undecoded body.
//
// Defined in https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02#section-3
type RawPacket struct {
	PacketType PacketType
	RequestID  uint32

	Data Buffer
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *RawPacket) Type() PacketType {
	return p.PacketType
}

// MarshalPacket returns p as a two-part binary encoding of p.
func (p *RawPacket) MarshalPacket() (header, payload []byte, err error) {
	b := NewMarshalBuffer(p.PacketType, p.RequestID, 0)

	return b.Packet(p.Data.Bytes())
}

// MarshalBinary returns p as the binary encoding of p.
func (p *RawPacket) MarshalBinary() ([]byte, error) {
	return ComposePacket(p.MarshalPacket())
}

// UnmarshalPacketBody stores the remainder of buf as the undecoded Data.
//
// The Data field takes ownership of the underlying byte slice of buf.
// The caller should not use buf after this call.
func (p *RawPacket) UnmarshalPacketBody(buf *Buffer) error {
	p.Data = *buf
	return nil
}

// UnmarshalBinary decodes a full raw packet out of the given data.
// It is assumed that the uint32(length) has already been consumed to receive the data.
//
// NOTE: To avoid extra allocations, UnmarshalBinary aliases the given byte slice.
func (p *RawPacket) UnmarshalBinary(data []byte) error {
	buf := NewBuffer(data)

	typ, err := buf.ConsumeUint8()
	if err != nil {
		return err
	}

	p.PacketType = PacketType(typ)

	if p.RequestID, err = buf.ConsumeUint32(); err != nil {
		return err
	}

	return p.UnmarshalPacketBody(buf)
}

// ReadFrom reads a full raw packet out of the given reader.
func (p *RawPacket) ReadFrom(r io.Reader, maxPacketLength uint32) error {
	b, err := readPacket(r, maxPacketLength)
	if err != nil {
		return err
	}

	return p.UnmarshalBinary(b)
}

// RequestPacket decodes a fully typed request packet from the internal Data based on the PacketType.
func (p *RawPacket) RequestPacket() (Packet, error) {
	packet, err := NewPacketFromType(p.PacketType)
	if err != nil {
		return nil, err
	}

	if err := packet.UnmarshalPacketBody(&p.Data); err != nil {
		return nil, err
	}

	return packet, nil
}
