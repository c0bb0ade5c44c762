// cursor.go - a small sequential byte reader used by the XBE loader.
package main

import "encoding/binary"

// cursor reads little-endian primitives out of a byte slice sequentially,
// latching the first out-of-range access into err so callers can read a
// whole record and check once at the end.
type cursor struct {
	data []byte
	pos  int
	err  error
}

func newCursor(data []byte, pos int) *cursor {
	return &cursor{data: data, pos: pos}
}

func (c *cursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if c.pos+n > len(c.data) || c.pos < 0 {
		c.err = errShortRead
		return false
	}
	return true
}

var errShortRead = parseError("", "unexpected end of data")

func (c *cursor) u32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v
}

func (c *cursor) u16() uint16 {
	if !c.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(c.data[c.pos:])
	c.pos += 2
	return v
}

func (c *cursor) bytes(dst []byte) {
	if !c.need(len(dst)) {
		return
	}
	copy(dst, c.data[c.pos:c.pos+len(dst)])
	c.pos += len(dst)
}

func (c *cursor) skip(n int) {
	if !c.need(n) {
		return
	}
	c.pos += n
}

func (c *cursor) align(n int) {
	if c.err != nil {
		return
	}
	rem := c.pos % n
	if rem != 0 {
		c.skip(n - rem)
	}
}

// cString reads a NUL-terminated ASCII string, consuming the terminator.
func (c *cursor) cString() string {
	if c.err != nil {
		return ""
	}
	start := c.pos
	for c.pos < len(c.data) && c.data[c.pos] != 0 {
		c.pos++
	}
	if c.pos >= len(c.data) {
		c.err = errShortRead
		return ""
	}
	s := string(c.data[start:c.pos])
	c.pos++ // consume NUL
	return s
}

// utf16String reads a NUL-terminated UTF-16LE string, consuming the
// terminating zero code unit.
func (c *cursor) utf16String() string {
	if c.err != nil {
		return ""
	}
	var runes []rune
	for {
		if !c.need(2) {
			return ""
		}
		v := binary.LittleEndian.Uint16(c.data[c.pos:])
		c.pos += 2
		if v == 0 {
			break
		}
		runes = append(runes, rune(v))
	}
	return string(runes)
}
