package wire

import (
	"bufio"
	"bytes"
	"testing"
)

func TestVarIntRoundTrip(t *testing.T) {
	values := []int32{0, 1, 2, 127, 128, 255, 25565, 2097151, 1 << 20, 1<<31 - 1, -1}
	for _, v := range values {
		encoded := WriteVarInt(v)
		if len(encoded) == 0 || len(encoded) > 5 {
			t.Fatalf("WriteVarInt(%d) produced %d bytes, want 1-5", v, len(encoded))
		}
		got, err := ReadVarInt(bufio.NewReader(bytes.NewReader(encoded)))
		if err != nil {
			t.Fatalf("ReadVarInt(%v) for %d: %v", encoded, v, err)
		}
		if got != v {
			t.Fatalf("round trip %d: got %d", v, got)
		}
	}
}

func TestReadVarIntTooBig(t *testing.T) {
	// Five bytes, all with the continuation bit set, never terminates.
	buf := []byte{0xff, 0xff, 0xff, 0xff, 0xff}
	_, err := ReadVarInt(bufio.NewReader(bytes.NewReader(buf)))
	if err != ErrVarIntTooBig {
		t.Fatalf("got %v, want ErrVarIntTooBig", err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello", "a long server address.example.com"} {
		encoded := WriteString(s)
		got, err := ReadString(bufio.NewReader(bytes.NewReader(encoded)))
		if err != nil {
			t.Fatalf("ReadString(%q): %v", s, err)
		}
		if got != s {
			t.Fatalf("round trip %q: got %q", s, got)
		}
	}
}

func TestReadStringOversized(t *testing.T) {
	over := WriteVarInt(MaxPacketLength + 1)
	_, err := ReadString(bufio.NewReader(bytes.NewReader(over)))
	if err != ErrVarIntTooBig {
		t.Fatalf("got %v, want ErrVarIntTooBig", err)
	}
}
