package hpack

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/relaywire/httpcore/pkg/headers"
)

func TestDecodeIndexedMethodGet(t *testing.T) {
	d := NewDecoder(4096)
	h, err := d.Decode([]byte{0x82})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got := h.Get(":method"); got != "GET" {
		t.Fatalf("expected :method=GET, got %q", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := headers.New()
	in.AddLenient(":method", "GET")
	in.AddLenient(":path", "/")
	in.AddLenient(":authority", "example.com")
	in.AddLenient("x-custom", "a-fairly-long-header-value-for-plain-literal-testing")

	enc := NewEncoder(4096)
	dec := NewDecoder(4096)

	block := enc.Encode(in)
	out, err := dec.Decode(block)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	for _, name := range in.Names() {
		want := in.Get(name)
		got := out.Get(name)
		if want != got {
			t.Fatalf("field %s: want %q got %q", name, want, got)
		}
	}
}

func TestEncodeRepeatedFieldStaysLiteralEachTime(t *testing.T) {
	enc := NewEncoder(4096)
	dec := NewDecoder(4096)

	first := headers.New()
	first.AddLenient("x-trace-id", "abc123")
	block1 := enc.Encode(first)

	second := headers.New()
	second.AddLenient("x-trace-id", "abc123")
	block2 := enc.Encode(second)

	if len(block1) != len(block2) {
		t.Fatalf("expected repeated field to encode identically each time (no dynamic table reuse): %d vs %d", len(block1), len(block2))
	}
	if block1[0]&maskIndexed != 0 {
		t.Fatalf("expected literal opcode for an unknown name, got indexed first byte 0x%02x", block1[0])
	}

	out, err := dec.Decode(block2)
	if err != nil {
		t.Fatalf("decode block2: %v", err)
	}
	if got := out.Get("x-trace-id"); got != "abc123" {
		t.Fatalf("expected abc123, got %q", got)
	}
}

func TestEncodeNeverHuffmanEncodesValues(t *testing.T) {
	enc := NewEncoder(4096)
	h := headers.New()
	h.AddLenient("x-custom", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	block := enc.Encode(h)

	dec := NewDecoder(4096)
	if _, err := dec.Decode(block); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Walk the block and confirm no string's length octet carries the
	// Huffman flag (the top bit of the length prefix, RFC 7541 §5.2).
	r := bufio.NewReader(bytes.NewReader(block))
	first, err := r.ReadByte()
	if err != nil {
		t.Fatalf("read opcode: %v", err)
	}
	if first&maskIndexed != 0 {
		t.Fatalf("expected literal opcode, got 0x%02x", first)
	}
	if _, err := decodeInteger(r, 4, first); err != nil {
		t.Fatalf("decode name index: %v", err)
	}
	nameLenFirst, err := r.ReadByte()
	if err != nil {
		t.Fatalf("read name length octet: %v", err)
	}
	if nameLenFirst&0x80 != 0 {
		t.Fatalf("name was Huffman-encoded, expected plain literal")
	}
	nameLen, err := decodeInteger(r, 7, nameLenFirst)
	if err != nil {
		t.Fatalf("decode name length: %v", err)
	}
	if _, err := r.Discard(int(nameLen)); err != nil {
		t.Fatalf("skip name: %v", err)
	}
	valueLenFirst, err := r.ReadByte()
	if err != nil {
		t.Fatalf("read value length octet: %v", err)
	}
	if valueLenFirst&0x80 != 0 {
		t.Fatalf("value was Huffman-encoded, expected plain literal")
	}
}

func TestDynamicTableNewestEntryIsLowestIndex(t *testing.T) {
	dt := newDynamicTable(4096)
	dt.add("first", "1")
	dt.add("second", "2")

	f, ok := dt.get(0)
	if !ok || f.Name != "second" {
		t.Fatalf("expected newest entry 'second' at index 0, got %+v ok=%v", f, ok)
	}
	f, ok = dt.get(1)
	if !ok || f.Name != "first" {
		t.Fatalf("expected 'first' at index 1, got %+v ok=%v", f, ok)
	}
}

func TestDynamicTableEvictsOversizedInsert(t *testing.T) {
	dt := newDynamicTable(40)
	dt.add("a", "1")
	dt.add("this-name-is-long-enough-to-evict-everything", "value")
	if dt.len() != 0 {
		t.Fatalf("expected table emptied by oversized entry, got %d entries", dt.len())
	}
}

func TestDecodeRejectsUppercaseHeaderName(t *testing.T) {
	var buf bytes.Buffer
	// Literal header field without indexing, new name "X-Custom", value "v".
	encodeLiteralWithoutIndexing(&buf, "X-Custom", "v", 0)

	dec := NewDecoder(4096)
	_, err := dec.Decode(buf.Bytes())
	if err == nil {
		t.Fatalf("expected decode to reject an uppercase header name")
	}
	if !strings.Contains(err.Error(), "uppercase") {
		t.Fatalf("expected uppercase-related error, got: %v", err)
	}
}

func TestHuffmanRoundTrip(t *testing.T) {
	cases := []string{"", "a", "www.example.com", "no-cache", "custom-key", "custom-value"}
	for _, s := range cases {
		var buf bytes.Buffer
		huffmanEncode(&buf, s)
		r := bufio.NewReader(bytes.NewReader(buf.Bytes()))
		got, err := huffmanDecode(r, buf.Len())
		if err != nil {
			t.Fatalf("huffman decode(%q): %v", s, err)
		}
		if got != s {
			t.Fatalf("huffman round trip: want %q got %q", s, got)
		}
	}
}
