package openssh

import (
	"bytes"
	"reflect"
	"testing"
)

func TestStatVFSExtendedPacket(t *testing.T) {
	ep := &StatVFSExtendedPacket{
		Path: "/",
	}

	data, err := ep.MarshalBinary()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 1, '/',
	}

	if !bytes.Equal(data, want) {
		t.Fatalf("MarshalBinary() = %X, but wanted %X", data, want)
	}

	*ep = StatVFSExtendedPacket{}

	if err := ep.UnmarshalBinary(data); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if ep.Path != "/" {
		t.Errorf("UnmarshalBinary(): Path = %q, but expected %q", ep.Path, "/")
	}
}

func TestStatVFSExtendedReplyPacket(t *testing.T) {
	ep := &StatVFSExtendedReplyPacket{
		BlockSize:     4096,
		FragmentSize:  4096,
		Blocks:        1000000,
		BlocksFree:    500000,
		BlocksAvail:   450000,
		Files:         65536,
		FilesFree:     32768,
		FilesAvail:    32000,
		FilesystemID:  0x0123456789ABCDEF,
		MountFlags:    MountFlagsReadOnly,
		MaxNameLength: 255,
	}

	data, err := ep.MarshalBinary()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	if len(data) != 88 {
		t.Fatalf("MarshalBinary() produced %d bytes, but the reply is eleven uint64s (88 bytes)", len(data))
	}

	got := new(StatVFSExtendedReplyPacket)
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if !reflect.DeepEqual(ep, got) {
		t.Errorf("round trip = %#v, but expected %#v", got, ep)
	}

	if got.TotalSpace() != 4096*1000000 {
		t.Errorf("TotalSpace() = %d, but expected %d", got.TotalSpace(), uint64(4096)*1000000)
	}

	if got.FreeSpace() != 4096*500000 {
		t.Errorf("FreeSpace() = %d, but expected %d", got.FreeSpace(), uint64(4096)*500000)
	}
}
