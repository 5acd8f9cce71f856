package wire

import (
	"encoding/binary"
	"fmt"
)

// binWriter is a small append-only byte buffer with fixed-width primitives
// for the compact binary codec. Strings use a uint16 length prefix (frame
// fields are short identifiers and paths, never chunk payloads); raw chunk
// bytes use a uint32 length prefix and are copied verbatim, never base64.
type binWriter struct {
	buf []byte
}

func (w *binWriter) byte(b byte) { w.buf = append(w.buf, b) }

func (w *binWriter) bool(b bool) {
	if b {
		w.byte(1)
	} else {
		w.byte(0)
	}
}

func (w *binWriter) u16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *binWriter) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *binWriter) i64(v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	w.buf = append(w.buf, tmp[:]...)
}

func (w *binWriter) str(s string) {
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *binWriter) bytesField(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *binWriter) strSlice(ss []string) {
	w.u16(uint16(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

func (w *binWriter) Bytes() []byte { return w.buf }

// binReader mirrors binWriter's layout for decoding.
type binReader struct {
	buf []byte
	pos int
}

func newBinReader(buf []byte) *binReader { return &binReader{buf: buf} }

func (r *binReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("binary codec: truncated frame (need %d bytes at offset %d, have %d)", n, r.pos, len(r.buf))
	}
	return nil
}

func (r *binReader) byteVal() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *binReader) boolVal() (bool, error) {
	b, err := r.byteVal()
	return b != 0, err
}

func (r *binReader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *binReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *binReader) i64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *binReader) str() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *binReader) bytesField() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

func (r *binReader) strSlice() ([]string, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := r.str()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}
