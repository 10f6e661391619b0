package hpack

import (
	"bytes"
	"strings"

	"github.com/relaywire/httpcore/pkg/headers"
)

// Encoder encodes HPACK header blocks for one direction of one connection.
// Not safe for concurrent use, mirroring Decoder.
//
// Encoder only ever emits two instruction forms: a full indexed hit against
// the static table, or a literal header field without indexing. It never
// maintains or references a dynamic table, and header values are always
// written as plain literal strings, never Huffman-encoded.
type Encoder struct {
	maxSize uint32
}

// NewEncoder returns an Encoder. maxSize is retained for API symmetry with
// Decoder but has no effect since Encoder never grows a dynamic table.
func NewEncoder(maxSize uint32) *Encoder {
	if maxSize == 0 {
		maxSize = 4096
	}
	return &Encoder{maxSize: maxSize}
}

// Encode serializes h into an HPACK header block, in the wire order h
// already carries (callers are responsible for pseudo-headers preceding
// regular ones, per RFC 7540 §8.1.2.1).
func (e *Encoder) Encode(h *headers.Headers) []byte {
	var buf bytes.Buffer
	for i := 0; i < h.Len(); i++ {
		e.encodeField(&buf, h.NameAt(i), h.ValueAt(i))
	}
	return buf.Bytes()
}

func (e *Encoder) encodeField(buf *bytes.Buffer, name, value string) {
	// HTTP/2 header names are lowercase on the wire (RFC 7540 §8.1.2);
	// headers.Headers stores them canonicalized ("X-Custom").
	name = strings.ToLower(name)
	nameIdx, fullIdx := staticTableNameIndex(name, value)
	if fullIdx != 0 {
		encodeInteger(buf, 7, maskIndexed, uint64(fullIdx))
		return
	}
	encodeLiteralWithoutIndexing(buf, name, value, uint32(nameIdx))
}

// encodeLiteralWithoutIndexing writes a literal header field that never
// touches a dynamic table (RFC 7541 §6.2.2). nameIdx of 0 means name must
// also be written out as a literal string.
func encodeLiteralWithoutIndexing(buf *bytes.Buffer, name, value string, nameIdx uint32) {
	encodeInteger(buf, 4, 0x00, uint64(nameIdx))
	if nameIdx == 0 {
		encodeString(buf, name)
	}
	encodeString(buf, value)
}

// encodeString writes value as a plain (non-Huffman) literal string.
func encodeString(buf *bytes.Buffer, value string) {
	encodeInteger(buf, 7, 0x00, uint64(len(value)))
	buf.WriteString(value)
}
