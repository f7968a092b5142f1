// Package canonical renders values to the byte-stable JSON form that content
// signatures are computed over: sorted object keys, no insignificant
// whitespace and every non-ASCII character escaped as \uXXXX.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/gowebpki/jcs"
)

const hexDigits = "0123456789abcdef"

// JSON returns the canonical encoding of v. Struct tags are honoured.
func JSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	return Bytes(raw)
}

// Bytes canonicalizes an already encoded JSON document.
func Bytes(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return escapeNonASCII(out), nil
}

// Equal reports whether two JSON documents have the same canonical form.
// Documents that fail to parse are never equal.
func Equal(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	ca, err := Bytes(a)
	if err != nil {
		return false
	}
	cb, err := Bytes(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// escapeNonASCII rewrites every multi-byte rune as a \uXXXX escape, using a
// surrogate pair above the BMP. Non-ASCII bytes only ever occur inside JSON
// strings, so the rewrite is safe on the whole document.
func escapeNonASCII(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] < utf8.RuneSelf {
		i++
	}
	if i == len(b) {
		return b
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(b)+16))
	buf.Write(b[:i])
	for i < len(b) {
		c := b[i]
		if c < utf8.RuneSelf {
			buf.WriteByte(c)
			i++
			continue
		}
		r, size := utf8.DecodeRune(b[i:])
		i += size
		if r > 0xFFFF {
			r1, r2 := utf16.EncodeRune(r)
			writeEscape(buf, r1)
			writeEscape(buf, r2)
			continue
		}
		writeEscape(buf, r)
	}
	return buf.Bytes()
}

func writeEscape(buf *bytes.Buffer, r rune) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[(r>>12)&0xF])
	buf.WriteByte(hexDigits[(r>>8)&0xF])
	buf.WriteByte(hexDigits[(r>>4)&0xF])
	buf.WriteByte(hexDigits[r&0xF])
}
