// Package filexfer implements the wire encoding for secsh-filexfer as described in
// https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02
package filexfer

// Packet defines the behavior of a full end-to-end SFTP packet.
type Packet interface {
	// Type returns the SSH_FXP_xy value associated with the specific packet.
	Type() PacketType

	// MarshalPacket returns p as a two-part binary encoding of p.
	// The header is the length-prefixed framing along with every fixed-size field,
	// and payload is any trailing variable-length data that can be written through without copying.
	MarshalPacket() (header, payload []byte, err error)

	// UnmarshalPacketBody decodes a packet body from the given Buffer.
	// It is assumed that the uint32(length), uint8(type) and uint32(request-id) have already been consumed.
	UnmarshalPacketBody(buf *Buffer) error
}

// ComposePacket converts returns from MarshalPacket into the returns expected by MarshalBinary.
func ComposePacket(header, payload []byte, err error) ([]byte, error) {
	return append(header, payload...), err
}
