package filexfer

import (
	"bytes"
	"testing"
)

func TestInitPacket(t *testing.T) {
	p := &InitPacket{
		Version: 3,
	}

	data, err := p.MarshalBinary()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 5,
		1,
		0x00, 0x00, 0x00, 3,
	}

	if !bytes.Equal(data, want) {
		t.Fatalf("Marshal() = %X, but wanted %X", data, want)
	}

	var got InitPacket

	typ, err := got.ReadFrom(bytes.NewReader(data), DefaultMaxPacketLength)
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	if typ != PacketTypeInit {
		t.Errorf("ReadFrom(): type = %v, but expected SSH_FXP_INIT", typ)
	}

	if got.Version != 3 {
		t.Errorf("ReadFrom(): Version = %d, but expected 3", got.Version)
	}
}

func TestVersionPacketWithExtensions(t *testing.T) {
	p := &VersionPacket{
		Version: 3,
		Extensions: []*ExtensionPair{
			{Name: "limits@openssh.com", Data: "1"},
		},
	}

	data, err := p.MarshalBinary()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 32,
		2,
		0x00, 0x00, 0x00, 3,
		0x00, 0x00, 0x00, 18, 'l', 'i', 'm', 'i', 't', 's', '@', 'o', 'p', 'e', 'n', 's', 's', 'h', '.', 'c', 'o', 'm',
		0x00, 0x00, 0x00, 1, '1',
	}

	if !bytes.Equal(data, want) {
		t.Fatalf("Marshal() = %X, but wanted %X", data, want)
	}

	var got VersionPacket

	typ, err := got.ReadFrom(bytes.NewReader(data), DefaultMaxPacketLength)
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	if typ != PacketTypeVersion {
		t.Errorf("ReadFrom(): type = %v, but expected SSH_FXP_VERSION", typ)
	}

	if got.Version != 3 {
		t.Errorf("ReadFrom(): Version = %d, but expected 3", got.Version)
	}

	if len(got.Extensions) != 1 || got.Extensions[0].Name != "limits@openssh.com" || got.Extensions[0].Data != "1" {
		t.Errorf("ReadFrom(): Extensions = %#v, but expected the limits pair", got.Extensions)
	}
}

func TestVersionPacketWrongOpening(t *testing.T) {
	// A peer that opens with SSH_FXP_STATUS instead of the handshake.
	status := &StatusPacket{RequestID: 0, StatusCode: StatusFailure}

	data, err := status.MarshalBinary()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	var got VersionPacket

	typ, err := got.ReadFrom(bytes.NewReader(data), DefaultMaxPacketLength)
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	if typ != PacketTypeStatus {
		t.Errorf("ReadFrom(): type = %v, but expected SSH_FXP_STATUS", typ)
	}
}
