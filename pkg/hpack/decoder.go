// Package hpack implements RFC 7541 HPACK header compression: the static
// table, a dynamic table with "newest entry has lowest index" semantics,
// the integer-prefix encoding, and canonical Huffman coding for literal
// strings.
//
// Per connection, a single Decoder (or Encoder) must be used for an entire
// HTTP/2 connection's lifetime on one side: the dynamic table carries state
// across header blocks and is not safe to share between directions or
// streams, mirroring one HPACK instance per stream-of-headers direction.
package hpack

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/relaywire/httpcore/pkg/headers"
)

// instruction opcodes dispatched on the leading bits of each octet,
// per RFC 7541 §6.
const (
	maskIndexed              = 0x80 // 1xxxxxxx
	maskLiteralIncremental   = 0x40 // 01xxxxxx
	maskDynamicTableSizeUpd  = 0x20 // 001xxxxx
	maskLiteralNeverIndexed  = 0x10 // 0001xxxx
	checkLiteralIncremental  = 0xC0
	checkDynamicTableSizeUpd = 0xE0
	checkLiteralNeverIndexed = 0xF0
)

// Decoder decodes HPACK header blocks for one direction of one connection.
// Not safe for concurrent use; callers must serialize decode calls the way
// a single HTTP/2 connection serializes header-frame delivery.
type Decoder struct {
	dynTable *dynamicTable
	maxSize  uint32
}

// NewDecoder returns a Decoder whose dynamic table is bounded by maxSize
// octets (RFC 7541 §4.1 accounting), typically SETTINGS_HEADER_TABLE_SIZE.
func NewDecoder(maxSize uint32) *Decoder {
	if maxSize == 0 {
		maxSize = 4096
	}
	return &Decoder{dynTable: newDynamicTable(maxSize), maxSize: maxSize}
}

// SetMaxDynamicTableSize applies a new bound, evicting entries as needed.
func (d *Decoder) SetMaxDynamicTableSize(size uint32) {
	d.maxSize = size
	d.dynTable.setMaxSize(size)
}

// Decode parses a complete header block fragment into a headers.Headers,
// preserving wire order (required for pseudo-headers to precede regular
// ones and for Cookie-header reassembly).
func (d *Decoder) Decode(data []byte) (*headers.Headers, error) {
	out := headers.New()
	r := bufio.NewReader(bytes.NewReader(data))

	for {
		first, err := r.ReadByte()
		if err != nil {
			break // EOF: clean end of block
		}

		switch {
		case first&maskIndexed != 0:
			name, value, err := d.decodeIndexed(r, first)
			if err != nil {
				return nil, err
			}
			out.AddLenient(name, value)

		case first&checkLiteralIncremental == maskLiteralIncremental:
			name, value, err := d.decodeLiteral(r, first, 6, true)
			if err != nil {
				return nil, err
			}
			out.AddLenient(name, value)

		case first&checkDynamicTableSizeUpd == maskDynamicTableSizeUpd:
			size, err := decodeInteger(r, 5, first)
			if err != nil {
				return nil, err
			}
			if uint32(size) > d.maxSize {
				return nil, fmt.Errorf("hpack: dynamic table size update %d exceeds bound %d", size, d.maxSize)
			}
			d.dynTable.setMaxSize(uint32(size))

		case first&checkLiteralNeverIndexed == maskLiteralNeverIndexed:
			name, value, err := d.decodeLiteral(r, first, 4, false)
			if err != nil {
				return nil, err
			}
			out.AddLenient(name, value)

		default: // 0000xxxx: literal without indexing
			name, value, err := d.decodeLiteral(r, first, 4, false)
			if err != nil {
				return nil, err
			}
			out.AddLenient(name, value)
		}
	}

	return out, nil
}

func (d *Decoder) decodeIndexed(r *bufio.Reader, first byte) (string, string, error) {
	index, err := decodeInteger(r, 7, first)
	if err != nil {
		return "", "", err
	}
	if index == 0 {
		return "", "", fmt.Errorf("hpack: indexed header field with index 0")
	}
	return d.lookup(uint32(index))
}

// decodeLiteral decodes a literal header field; withIndexing controls
// whether the decoded pair is inserted into the dynamic table afterward.
func (d *Decoder) decodeLiteral(r *bufio.Reader, first byte, prefixBits int, withIndexing bool) (string, string, error) {
	nameIndex, err := decodeInteger(r, prefixBits, first)
	if err != nil {
		return "", "", err
	}

	var name string
	if nameIndex == 0 {
		name, err = d.readString(r)
		if err != nil {
			return "", "", fmt.Errorf("hpack: reading literal name: %w", err)
		}
		if err := checkLowercaseName(name); err != nil {
			return "", "", err
		}
	} else {
		name, _, err = d.lookup(uint32(nameIndex))
		if err != nil {
			return "", "", err
		}
	}

	value, err := d.readString(r)
	if err != nil {
		return "", "", fmt.Errorf("hpack: reading literal value: %w", err)
	}

	if withIndexing {
		d.dynTable.add(name, value)
	}
	return name, value, nil
}

// checkLowercaseName rejects header names containing uppercase ASCII.
// RFC 7541 §5.2 requires header names to be lowercase on the wire; a
// newly-introduced literal name is the only place a decoder actually sees
// raw bytes (names resolved via an index come from the static table or a
// dynamic-table entry that was already validated when inserted).
func checkLowercaseName(name string) error {
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			return fmt.Errorf("hpack: header name %q contains uppercase ASCII", name)
		}
	}
	return nil
}

// lookup resolves a 1-based HPACK index: 1..61 in the static table, then
// continuing into the dynamic table where the newest entry is the lowest
// index (RFC 7541 §2.3.3).
func (d *Decoder) lookup(index uint32) (string, string, error) {
	if index >= 1 && index <= staticTableSize {
		f := staticTable[index-1]
		return f.Name, f.Value, nil
	}
	dynIndex := index - staticTableSize - 1
	f, ok := d.dynTable.get(dynIndex)
	if !ok {
		return "", "", fmt.Errorf("hpack: index %d out of range (dynamic table has %d entries)", index, d.dynTable.len())
	}
	return f.Name, f.Value, nil
}

func (d *Decoder) readString(r *bufio.Reader) (string, error) {
	first, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	huffman := first&0x80 != 0
	length, err := decodeInteger(r, 7, first)
	if err != nil {
		return "", fmt.Errorf("hpack: reading string length: %w", err)
	}
	if huffman {
		return huffmanDecode(r, int(length))
	}
	buf := make([]byte, length)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
