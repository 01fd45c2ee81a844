package tlv

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/qmuxd/internal/protocol"
)

// HeaderLen is id (1) + little-endian length (2).
const HeaderLen = 3

var (
	// ErrBounds marks a TLV whose header or value runs past the buffer.
	ErrBounds = fmt.Errorf("%w: tlv extends past buffer", protocol.ErrBounds)
	// ErrShortValue marks a typed read on a value narrower than the type.
	ErrShortValue = fmt.Errorf("%w: tlv value too short", protocol.ErrBounds)
)

// View is one TLV inside a caller-owned buffer. Value aliases that buffer.
type View struct {
	ID     uint8
	Length uint16
	Value  []byte
	// Offset is the index of the id byte in the buffer that was scanned.
	Offset int
}

// Next decodes the TLV starting at off. It returns the view and the offset of
// the following TLV.
func Next(buf []byte, off int) (View, int, error) {
	if off < 0 || len(buf)-off < HeaderLen {
		return View{}, off, ErrBounds
	}
	id := buf[off]
	l := binary.LittleEndian.Uint16(buf[off+1 : off+3])
	start := off + HeaderLen
	if len(buf)-start < int(l) {
		return View{}, off, ErrBounds
	}
	end := start + int(l)
	return View{ID: id, Length: l, Value: buf[start:end:end], Offset: off}, end, nil
}

// Walk calls fn for every complete TLV in buf until fn returns false. A
// truncated trailing TLV stops the walk and is reported as ErrBounds.
func Walk(buf []byte, fn func(View) bool) error {
	for off := 0; off < len(buf); {
		v, next, err := Next(buf, off)
		if err != nil {
			return err
		}
		if !fn(v) {
			return nil
		}
		off = next
	}
	return nil
}

// Find returns the first TLV with the given id. The scan stops at the first
// truncated TLV.
func Find(buf []byte, id uint8) (View, bool) {
	var found View
	ok := false
	_ = Walk(buf, func(v View) bool {
		if v.ID == id {
			found = v
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// Append encodes one TLV onto dst.
func Append(dst []byte, id uint8, value []byte) []byte {
	dst = append(dst, id)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(value)))
	return append(dst, value...)
}

func U8(b []byte) (uint8, error) {
	if len(b) < 1 {
		return 0, ErrShortValue
	}
	return b[0], nil
}

func U16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, ErrShortValue
	}
	return binary.LittleEndian.Uint16(b), nil
}

func U32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, ErrShortValue
	}
	return binary.LittleEndian.Uint32(b), nil
}
