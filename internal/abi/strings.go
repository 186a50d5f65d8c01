package abi

import (
	"bytes"
	"errors"
	"strings"
	"unsafe"
)

// ErrEmbeddedNUL is returned when a string cannot be represented as a
// NUL-terminated string.
var ErrEmbeddedNUL = errors.New("abi: string contains NUL byte")

// Buf is a borrowed (pointer, length) view of bytes.
type Buf struct {
	Data *byte
	Len  int
}

// BufFrom borrows b. The result is valid only while b is reachable and
// unmodified.
func BufFrom(b []byte) Buf {
	if len(b) == 0 {
		return Buf{}
	}
	return Buf{Data: unsafe.SliceData(b), Len: len(b)}
}

// View returns the bytes without copying. Do not retain the result.
func (b Buf) View() []byte {
	if b.Data == nil || b.Len <= 0 {
		return nil
	}
	return unsafe.Slice(b.Data, b.Len)
}

// Bytes copies the buffer into memory owned by the caller.
func (b Buf) Bytes() []byte {
	return bytes.Clone(b.View())
}

// CString returns a NUL-terminated copy of s.
func CString(s string) (*byte, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return nil, ErrEmbeddedNUL
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return &b[0], nil
}

// MustCString is like CString but panics on embedded NUL.
func MustCString(s string) *byte {
	p, err := CString(s)
	if err != nil {
		panic(err)
	}
	return p
}

// OptionalCString returns nil for the empty string.
func OptionalCString(s string) *byte {
	if s == "" {
		return nil
	}
	p, err := CString(s)
	if err != nil {
		// Truncate at the first NUL rather than lose the whole value.
		p = MustCString(s[:strings.IndexByte(s, 0)])
	}
	return p
}

// GoString copies a NUL-terminated string. ok is false for a nil pointer.
func GoString(p *byte) (s string, ok bool) {
	if p == nil {
		return "", false
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n)), true
}
