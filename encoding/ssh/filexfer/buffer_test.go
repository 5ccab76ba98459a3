package filexfer

import (
	"bytes"
	"testing"
)

func TestBufferByteSlice(t *testing.T) {
	b := new(Buffer)

	b.AppendByteSlice([]byte("foo"))

	want := []byte{
		0x00, 0x00, 0x00, 3,
		'f', 'o', 'o',
	}

	if !bytes.Equal(b.Bytes(), want) {
		t.Fatalf("AppendByteSlice() = %X, but wanted %X", b.Bytes(), want)
	}

	got, err := b.ConsumeByteSlice()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	if string(got) != "foo" {
		t.Errorf("ConsumeByteSlice() = %q, but expected %q", got, "foo")
	}

	if b.Len() != 0 {
		t.Errorf("Len() = %d, but expected 0", b.Len())
	}
}

func TestBufferEmptyString(t *testing.T) {
	b := new(Buffer)

	b.AppendString("")

	want := []byte{0x00, 0x00, 0x00, 0x00}

	if !bytes.Equal(b.Bytes(), want) {
		t.Fatalf("AppendString(\"\") = %X, but wanted %X", b.Bytes(), want)
	}

	got, err := b.ConsumeString()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	if got != "" {
		t.Errorf("ConsumeString() = %q, but expected empty string", got)
	}
}

func TestBufferShortConsume(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		fn   func(*Buffer) error
	}{
		{
			name: "uint32",
			data: []byte{0x00, 0x00, 0x00},
			fn: func(b *Buffer) error {
				_, err := b.ConsumeUint32()
				return err
			},
		},
		{
			name: "uint64",
			data: []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			fn: func(b *Buffer) error {
				_, err := b.ConsumeUint64()
				return err
			},
		},
		{
			name: "string length overruns buffer",
			data: []byte{0x00, 0x00, 0x00, 0x05, 'f', 'o', 'o'},
			fn: func(b *Buffer) error {
				_, err := b.ConsumeString()
				return err
			},
		},
		{
			name: "string missing length",
			data: []byte{0x00, 0x00},
			fn: func(b *Buffer) error {
				_, err := b.ConsumeString()
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(NewBuffer(tt.data)); err != ErrShortPacket {
				t.Errorf("expected ErrShortPacket, got %v", err)
			}
		})
	}
}

func TestBufferUTF8Validation(t *testing.T) {
	b := new(Buffer)
	b.AppendByteSlice([]byte{0xff, 0xfe, 0xfd})

	if _, err := b.ConsumeUTF8String(); err != ErrInvalidUTF8 {
		t.Errorf("expected ErrInvalidUTF8, got %v", err)
	}

	b = new(Buffer)
	b.AppendString("/føø")

	got, err := b.ConsumeUTF8String()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	if got != "/føø" {
		t.Errorf("ConsumeUTF8String() = %q, but expected %q", got, "/føø")
	}
}
