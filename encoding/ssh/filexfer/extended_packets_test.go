package filexfer

import (
	"bytes"
	"testing"
)

type testExtendedData struct {
	Value uint32
}

func (d *testExtendedData) MarshalBinary() ([]byte, error) {
	buf := NewBuffer(make([]byte, 0, 4))
	buf.AppendUint32(d.Value)
	return buf.Bytes(), nil
}

func (d *testExtendedData) UnmarshalBinary(data []byte) error {
	v, err := NewBuffer(data).ConsumeUint32()
	if err != nil {
		return err
	}
	d.Value = v
	return nil
}

func TestExtendedPacket(t *testing.T) {
	p := &ExtendedPacket{
		RequestID:       7,
		ExtendedRequest: "test@example.com",
		Data:            &testExtendedData{Value: 0x01020304},
	}

	data, err := ComposePacket(p.MarshalPacket())
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 29,
		200,
		0x00, 0x00, 0x00, 7,
		0x00, 0x00, 0x00, 16, 't', 'e', 's', 't', '@', 'e', 'x', 'a', 'm', 'p', 'l', 'e', '.', 'c', 'o', 'm',
		0x01, 0x02, 0x03, 0x04,
	}

	if !bytes.Equal(data, want) {
		t.Fatalf("Marshal() = %X, but wanted %X", data, want)
	}
}

func TestExtendedPacketRegistry(t *testing.T) {
	RegisterExtendedPacketType("registered@example.com", func() ExtendedData {
		return new(testExtendedData)
	})

	p := &ExtendedPacket{
		RequestID:       7,
		ExtendedRequest: "registered@example.com",
		Data:            &testExtendedData{Value: 42},
	}

	data, err := ComposePacket(p.MarshalPacket())
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	var raw RawPacket
	if err := raw.UnmarshalBinary(data[4:]); err != nil {
		t.Fatal("unexpected error:", err)
	}

	var got ExtendedPacket
	if err := got.UnmarshalPacketBody(&raw.Data); err != nil {
		t.Fatal("unexpected error:", err)
	}

	typed, ok := got.Data.(*testExtendedData)
	if !ok {
		t.Fatalf("Data = %T, but expected *testExtendedData", got.Data)
	}

	if typed.Value != 42 {
		t.Errorf("Data.Value = %d, but expected 42", typed.Value)
	}
}

func TestExtendedPacketUnregistered(t *testing.T) {
	p := &ExtendedPacket{
		RequestID:       7,
		ExtendedRequest: "unregistered@example.com",
		Data:            &testExtendedData{Value: 42},
	}

	data, err := ComposePacket(p.MarshalPacket())
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	var raw RawPacket
	if err := raw.UnmarshalBinary(data[4:]); err != nil {
		t.Fatal("unexpected error:", err)
	}

	var got ExtendedPacket
	if err := got.UnmarshalPacketBody(&raw.Data); err != nil {
		t.Fatal("unexpected error:", err)
	}

	// Unregistered extensions decode into a raw Buffer.
	buf, ok := got.Data.(*Buffer)
	if !ok {
		t.Fatalf("Data = %T, but expected *Buffer", got.Data)
	}

	v, err := buf.ConsumeUint32()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	if v != 42 {
		t.Errorf("Data = %d, but expected 42", v)
	}
}

func TestExtendedReplyPacket(t *testing.T) {
	p := &ExtendedReplyPacket{
		RequestID: 7,
		Data:      &testExtendedData{Value: 42},
	}

	data, err := ComposePacket(p.MarshalPacket())
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 9,
		201,
		0x00, 0x00, 0x00, 7,
		0x00, 0x00, 0x00, 42,
	}

	if !bytes.Equal(data, want) {
		t.Fatalf("Marshal() = %X, but wanted %X", data, want)
	}
}
