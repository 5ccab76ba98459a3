package openssh

import (
	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
)

// ExtensionNameLimits is the extension string identifying the limits@openssh.com extended request.
const ExtensionNameLimits = "limits@openssh.com"

// RegisterExtensionLimits registers the "limits@openssh.com" extended packet with the encoding/ssh/filexfer package.
func RegisterExtensionLimits() {
	sshfx.RegisterExtendedPacketType(ExtensionNameLimits, func() sshfx.ExtendedData {
		return new(LimitsExtendedPacket)
	})
}

// ExtensionLimits returns an ExtensionPair suitable to append into an sshfx.VersionPacket.
func ExtensionLimits() *sshfx.ExtensionPair {
	return &sshfx.ExtensionPair{
		Name: ExtensionNameLimits,
		Data: "1",
	}
}

// LimitsExtendedPacket defines the limits@openssh.com extend packet.
// The request carries no packet-specific data.
type LimitsExtendedPacket struct{}

// Type returns the SSH_FXP_EXTENDED packet type.
func (ep *LimitsExtendedPacket) Type() sshfx.PacketType {
	return sshfx.PacketTypeExtended
}

// MarshalBinary encodes ep into the binary encoding of the limits@openssh.com extended packet-specific data.
func (ep *LimitsExtendedPacket) MarshalBinary() ([]byte, error) {
	return nil, nil
}

// UnmarshalBinary decodes the limits@openssh.com extended packet-specific data into ep.
func (ep *LimitsExtendedPacket) UnmarshalBinary(data []byte) error {
	return nil
}

// LimitsExtendedReplyPacket defines the limits@openssh.com extended reply packet.
// A value of zero in any field means that limit is unbounded, or not available.
type LimitsExtendedReplyPacket struct {
	MaxPacketLength uint64
	MaxReadLength   uint64
	MaxWriteLength  uint64
	MaxOpenHandles  uint64
}

// MarshalInto encodes ep into the binary encoding of the limits@openssh.com extended reply packet-specific data.
func (ep *LimitsExtendedReplyPacket) MarshalInto(buf *sshfx.Buffer) {
	buf.AppendUint64(ep.MaxPacketLength)
	buf.AppendUint64(ep.MaxReadLength)
	buf.AppendUint64(ep.MaxWriteLength)
	buf.AppendUint64(ep.MaxOpenHandles)
}

// MarshalBinary encodes ep into the binary encoding of the limits@openssh.com extended reply packet-specific data.
//
// NOTE: This _only_ encodes the packet-specific data, it does not encode the full extended reply packet.
func (ep *LimitsExtendedReplyPacket) MarshalBinary() ([]byte, error) {
	size := 4 * 8 // 4 × uint64(various)

	b := sshfx.NewBuffer(make([]byte, 0, size))
	ep.MarshalInto(b)
	return b.Bytes(), nil
}

// UnmarshalFrom decodes the limits@openssh.com extended reply packet-specific data from buf.
func (ep *LimitsExtendedReplyPacket) UnmarshalFrom(buf *sshfx.Buffer) (err error) {
	if ep.MaxPacketLength, err = buf.ConsumeUint64(); err != nil {
		return err
	}

	if ep.MaxReadLength, err = buf.ConsumeUint64(); err != nil {
		return err
	}

	if ep.MaxWriteLength, err = buf.ConsumeUint64(); err != nil {
		return err
	}

	if ep.MaxOpenHandles, err = buf.ConsumeUint64(); err != nil {
		return err
	}

	return nil
}

// UnmarshalBinary decodes the limits@openssh.com extended reply packet-specific data into ep.
func (ep *LimitsExtendedReplyPacket) UnmarshalBinary(data []byte) (err error) {
	return ep.UnmarshalFrom(sshfx.NewBuffer(data))
}
