package chunkedfile

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSignature(&buf, "Test Signature\n\r\xFF\n"); err != nil {
		t.Fatalf("WriteSignature: %v", err)
	}

	w := NewWriter(&buf)
	chunks := []Chunk{
		{Type: NewType("fyPR"), Data: []byte("a=1.0\nb=2.0\n")},
		{Type: NewType("dura"), Data: []byte{0, 0, 0, 10}},
	}
	for _, c := range chunks {
		if err := w.WriteChunk(c.Type, c.Data); err != nil {
			t.Fatalf("WriteChunk(%v): %v", c.Type, err)
		}
	}

	ok, err := ReadSignature(&buf, "Test Signature\n\r\xFF\n")
	if err != nil {
		t.Fatalf("ReadSignature: %v", err)
	}
	if !ok {
		t.Fatal("ReadSignature: signature mismatch")
	}

	r := NewReader(&buf, nil)
	var got []Chunk
	err = r.ReadAll(func(c Chunk) error {
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(chunks) {
		t.Fatalf("got %d chunks, want %d", len(got), len(chunks))
	}
	for i := range chunks {
		if got[i].Type != chunks[i].Type || !bytes.Equal(got[i].Data, chunks[i].Data) {
			t.Errorf("chunk %d: got %+v, want %+v", i, got[i], chunks[i])
		}
	}
}

func TestReadSkipsCorruptChunk(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteChunk(NewType("fyPR"), []byte("good=1\n")); err != nil {
		t.Fatalf("WriteChunk good: %v", err)
	}

	// Manually append a chunk with a mangled CRC.
	raw := buf.Bytes()
	var bad bytes.Buffer
	bad.Write(raw)
	badWriter := NewWriter(&bad)
	if err := badWriter.WriteChunk(NewType("junk"), []byte("noise")); err != nil {
		t.Fatalf("WriteChunk bad: %v", err)
	}
	corrupted := bad.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF // flip a CRC bit

	if err := w.WriteChunk(NewType("dura"), []byte{0, 0, 0, 1}); err != nil {
		t.Fatalf("WriteChunk trailing: %v", err)
	}

	stream := append(corrupted, buf.Bytes()[len(raw):]...)
	r := NewReader(bytes.NewReader(stream), nil)

	first, err := r.Next()
	if err != nil {
		t.Fatalf("Next (first): %v", err)
	}
	if first.Type != NewType("fyPR") {
		t.Errorf("first chunk type = %q, want fyPR", first.Type)
	}

	second, err := r.Next()
	if err != nil {
		t.Fatalf("Next (second, should skip corrupt): %v", err)
	}
	if second.Type != NewType("dura") {
		t.Errorf("second chunk type = %q, want dura (junk should have been skipped)", second.Type)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next (third): err = %v, want io.EOF", err)
	}
}
