package varint

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	values := []uint32{
		0, 1, 127, 128, 129, 1<<14 - 1, 1 << 14, 1<<21 - 1, 1 << 21,
		1<<28 - 1, 1 << 28, 1<<32 - 1, 12345678,
	}
	for _, v := range values {
		var buf bytes.Buffer
		n, err := Write(&buf, v)
		if err != nil {
			t.Fatalf("Write(%d): %v", v, err)
		}
		if n != buf.Len() {
			t.Fatalf("Write(%d) returned %d, wrote %d bytes", v, n, buf.Len())
		}

		got, read, err := Read(&buf)
		if err != nil {
			t.Fatalf("Read after Write(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
		if read != n {
			t.Errorf("round trip %d: wrote %d bytes, read %d", v, n, read)
		}
	}
}

func TestWidths(t *testing.T) {
	cases := []struct {
		v     uint32
		width int
	}{
		{0, 1}, {127, 1},
		{128, 2}, {1<<14 - 1, 2},
		{1 << 14, 3}, {1<<21 - 1, 3},
		{1 << 21, 4}, {1<<28 - 1, 4},
		{1 << 28, 5}, {1<<32 - 1, 5},
	}
	for _, c := range cases {
		var buf [MaxSize]byte
		n := Put(buf[:], c.v)
		if n != c.width {
			t.Errorf("Put(%d): width = %d, want %d", c.v, n, c.width)
		}
	}
}
