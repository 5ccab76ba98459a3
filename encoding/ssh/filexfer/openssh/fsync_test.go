package openssh

import (
	"bytes"
	"testing"

	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
)

func TestFsyncExtendedPacket(t *testing.T) {
	ep := &FsyncExtendedPacket{
		Handle: "h1",
	}

	data, err := ep.MarshalBinary()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 2, 'h', '1',
	}

	if !bytes.Equal(data, want) {
		t.Fatalf("MarshalBinary() = %X, but wanted %X", data, want)
	}

	*ep = FsyncExtendedPacket{}

	if err := ep.UnmarshalBinary(data); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if ep.Handle != "h1" {
		t.Errorf("UnmarshalBinary(): Handle = %q, but expected %q", ep.Handle, "h1")
	}
}

func TestFsyncExtendedPacketAsExtended(t *testing.T) {
	ep := &FsyncExtendedPacket{
		Handle: "h1",
	}

	data, err := ep.MarshalBinary()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	p := &sshfx.ExtendedPacket{
		RequestID:       8,
		ExtendedRequest: ExtensionNameFsync,
		Data:            sshfx.NewBuffer(data),
	}

	full, err := sshfx.ComposePacket(p.MarshalPacket())
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 32,
		200,
		0x00, 0x00, 0x00, 8,
		0x00, 0x00, 0x00, 17, 'f', 's', 'y', 'n', 'c', '@', 'o', 'p', 'e', 'n', 's', 's', 'h', '.', 'c', 'o', 'm',
		0x00, 0x00, 0x00, 2, 'h', '1',
	}

	if !bytes.Equal(full, want) {
		t.Fatalf("Marshal() = %X, but wanted %X", full, want)
	}
}
