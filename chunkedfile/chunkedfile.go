// Package chunkedfile implements the PNG-style chunked container used
// to store Fyre animations and embedded parameter strings: a fixed
// signature followed by zero or more {type, length, data, crc32}
// chunks. The chunk layout and CRC are bit-compatible with PNG, but
// this package imposes no meaning on the signature or the 4-byte
// chunk type tags; callers (package animation) own that.
package chunkedfile

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"

	"github.com/davidt/fyre/fyreerr"
	"github.com/davidt/fyre/fyrelog"
)

// Type is a 4-character chunk type tag, e.g. "KfrS".
type Type [4]byte

func (t Type) String() string { return string(t[:]) }

// NewType builds a Type from a 4-character string. It panics if s is
// not exactly 4 bytes long, since chunk type tags are always
// compile-time constants.
func NewType(s string) Type {
	if len(s) != 4 {
		panic("chunkedfile: chunk type must be 4 bytes: " + s)
	}
	var t Type
	copy(t[:], s)
	return t
}

// Chunk is one decoded chunk.
type Chunk struct {
	Type Type
	Data []byte
}

// WriteSignature writes an arbitrary file signature.
func WriteSignature(w io.Writer, signature string) error {
	_, err := io.WriteString(w, signature)
	return errors.Wrap(err, "chunkedfile: write signature")
}

// ReadSignature reads a signature from r and reports whether it matches
// any of the given acceptable signatures (the first is normally the
// current format, later ones legacy aliases). Signatures are tried in
// order, and r is read only as far as the longest one tried so far.
func ReadSignature(r io.Reader, signatures ...string) (bool, error) {
	if len(signatures) == 0 {
		return true, nil
	}
	var buf []byte
	for _, sig := range signatures {
		if len(sig) > len(buf) {
			more := make([]byte, len(sig)-len(buf))
			if _, err := io.ReadFull(r, more); err != nil {
				if err == io.ErrUnexpectedEOF || err == io.EOF {
					return false, nil
				}
				return false, errors.Wrap(err, "chunkedfile: read signature")
			}
			buf = append(buf, more...)
		}
		if string(buf[:len(sig)]) == sig {
			return true, nil
		}
	}
	return false, nil
}

// Writer writes chunks, each with a correct CRC32, to an underlying
// io.Writer.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// WriteChunk writes one chunk: 4-byte big-endian length, 4-byte type,
// length bytes of data, 4-byte big-endian CRC32 over type+data.
func (cw *Writer) WriteChunk(t Type, data []byte) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(data)))
	copy(hdr[4:8], t[:])
	if _, err := cw.w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "chunkedfile: write chunk header")
	}
	if _, err := cw.w.Write(data); err != nil {
		return errors.Wrap(err, "chunkedfile: write chunk data")
	}

	crc := crc32.NewIEEE()
	crc.Write(t[:])
	crc.Write(data)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	if _, err := cw.w.Write(sum[:]); err != nil {
		return errors.Wrap(err, "chunkedfile: write chunk crc")
	}
	return nil
}

// Reader reads chunks from an underlying io.Reader, skipping and
// logging any whose CRC doesn't match.
type Reader struct {
	r   io.Reader
	log fyrelog.Logger
}

// NewReader returns a Reader over r. If log is nil, corrupt/unknown
// chunk warnings are discarded.
func NewReader(r io.Reader, log fyrelog.Logger) *Reader {
	return &Reader{r: r, log: log}
}

// ErrUnexpectedEnd is returned when EOF occurs inside a chunk header or
// body, as opposed to cleanly between chunks.
var ErrUnexpectedEnd = fyreerr.ErrUnexpectedEnd

// Next reads the next valid chunk, transparently skipping and logging
// any with a corrupt CRC. It returns io.EOF once the stream is
// exhausted at a chunk boundary.
func (cr *Reader) Next() (Chunk, error) {
	for {
		var hdr [8]byte
		_, err := io.ReadFull(cr.r, hdr[:])
		if err == io.EOF {
			return Chunk{}, io.EOF
		}
		if err != nil {
			return Chunk{}, ErrUnexpectedEnd
		}

		length := binary.BigEndian.Uint32(hdr[0:4])
		var t Type
		copy(t[:], hdr[4:8])

		data := make([]byte, length)
		if _, err := io.ReadFull(cr.r, data); err != nil {
			cr.warnf("unexpected EOF reading data for chunk %q", t)
			return Chunk{}, ErrUnexpectedEnd
		}

		var sum [4]byte
		if _, err := io.ReadFull(cr.r, sum[:]); err != nil {
			cr.warnf("unexpected EOF reading CRC for chunk %q", t)
			return Chunk{}, ErrUnexpectedEnd
		}

		crc := crc32.NewIEEE()
		crc.Write(t[:])
		crc.Write(data)
		if crc.Sum32() == binary.BigEndian.Uint32(sum[:]) {
			return Chunk{Type: t, Data: data}, nil
		}
		cr.warnf("ignoring corrupted chunk of type %q", t)
	}
}

func (cr *Reader) warnf(format string, args ...interface{}) {
	if cr.log != nil {
		cr.log.Log(fyrelog.Warning, "chunkedfile: "+format, args...)
	}
}

// ReadAll calls callback for each successfully read chunk until end of
// stream, returning any terminal (non-EOF) error.
func (cr *Reader) ReadAll(callback func(Chunk) error) error {
	for {
		c, err := cr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := callback(c); err != nil {
			return err
		}
	}
}
