package openssh

import (
	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
)

// ExtensionNameFsync is the extension string identifying the fsync@openssh.com extended request.
const ExtensionNameFsync = "fsync@openssh.com"

// RegisterExtensionFsync registers the "fsync@openssh.com" extended packet with the encoding/ssh/filexfer package.
func RegisterExtensionFsync() {
	sshfx.RegisterExtendedPacketType(ExtensionNameFsync, func() sshfx.ExtendedData {
		return new(FsyncExtendedPacket)
	})
}

// ExtensionFsync returns an ExtensionPair suitable to append into an sshfx.VersionPacket.
func ExtensionFsync() *sshfx.ExtensionPair {
	return &sshfx.ExtensionPair{
		Name: ExtensionNameFsync,
		Data: "1",
	}
}

// FsyncExtendedPacket defines the fsync@openssh.com extend packet.
type FsyncExtendedPacket struct {
	Handle string
}

// Type returns the SSH_FXP_EXTENDED packet type.
func (ep *FsyncExtendedPacket) Type() sshfx.PacketType {
	return sshfx.PacketTypeExtended
}

// MarshalInto encodes ep into the binary encoding of the fsync@openssh.com extended packet-specific data.
func (ep *FsyncExtendedPacket) MarshalInto(buf *sshfx.Buffer) {
	buf.AppendString(ep.Handle)
}

// MarshalBinary encodes ep into the binary encoding of the fsync@openssh.com extended packet-specific data.
//
// NOTE: This _only_ encodes the packet-specific data, it does not encode the full extended packet.
func (ep *FsyncExtendedPacket) MarshalBinary() ([]byte, error) {
	// string(handle)
	size := 4 + len(ep.Handle)

	buf := sshfx.NewBuffer(make([]byte, 0, size))
	ep.MarshalInto(buf)
	return buf.Bytes(), nil
}

// UnmarshalFrom decodes the fsync@openssh.com extended packet-specific data from buf.
func (ep *FsyncExtendedPacket) UnmarshalFrom(buf *sshfx.Buffer) (err error) {
	if ep.Handle, err = buf.ConsumeString(); err != nil {
		return err
	}

	return nil
}

// UnmarshalBinary decodes the fsync@openssh.com extended packet-specific data into ep.
func (ep *FsyncExtendedPacket) UnmarshalBinary(data []byte) (err error) {
	return ep.UnmarshalFrom(sshfx.NewBuffer(data))
}
