package openssh

import (
	"bytes"
	"testing"
)

func TestHardlinkExtendedPacket(t *testing.T) {
	ep := &HardlinkExtendedPacket{
		OldPath: "/old",
		NewPath: "/new",
	}

	data, err := ep.MarshalBinary()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 4, '/', 'o', 'l', 'd',
		0x00, 0x00, 0x00, 4, '/', 'n', 'e', 'w',
	}

	if !bytes.Equal(data, want) {
		t.Fatalf("MarshalBinary() = %X, but wanted %X", data, want)
	}

	*ep = HardlinkExtendedPacket{}

	if err := ep.UnmarshalBinary(data); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if ep.OldPath != "/old" {
		t.Errorf("UnmarshalBinary(): OldPath = %q, but expected %q", ep.OldPath, "/old")
	}

	if ep.NewPath != "/new" {
		t.Errorf("UnmarshalBinary(): NewPath = %q, but expected %q", ep.NewPath, "/new")
	}
}
