// Package headers implements an ordered, case-insensitive multimap for
// request and response header fields, preserving wire order and
// canonicalizing names the way net/textproto does.
package headers

import (
	"net/textproto"
	"strings"
)

// entry is one name/value pair, keeping insertion order like the wire.
type entry struct {
	name  string // canonical form, e.g. "Content-Type"
	value string
}

// Headers is an ordered, case-insensitive multimap of header fields.
type Headers struct {
	entries []entry
}

// New returns an empty Headers.
func New() *Headers { return &Headers{} }

func canonical(name string) string {
	return textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
}

// Add appends a value under name, stripping CR and LF from the value so it
// cannot break an HTTP/1 header line; other control characters are kept.
func (h *Headers) Add(name, value string) *Headers {
	return h.addValue(name, value, true)
}

// AddLenient appends a value under name without validating the value,
// mirroring OkHttp's Headers.Builder.addLenient used when echoing values
// that arrived over the wire and must be preserved byte-for-byte.
func (h *Headers) AddLenient(name, value string) *Headers {
	return h.addValue(name, value, false)
}

func (h *Headers) addValue(name, value string, validate bool) *Headers {
	if validate {
		value = strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' {
				return -1
			}
			return r
		}, value)
	}
	h.entries = append(h.entries, entry{name: canonical(name), value: value})
	return h
}

// Set replaces all existing values under name with a single value.
func (h *Headers) Set(name, value string) *Headers {
	h.RemoveAll(name)
	return h.Add(name, value)
}

// RemoveAll removes every value stored under name.
func (h *Headers) RemoveAll(name string) *Headers {
	key := canonical(name)
	kept := h.entries[:0]
	for _, e := range h.entries {
		if e.name != key {
			kept = append(kept, e)
		}
	}
	h.entries = kept
	return h
}

// Get returns the first value stored under name, or "" if absent.
func (h *Headers) Get(name string) string {
	key := canonical(name)
	for _, e := range h.entries {
		if e.name == key {
			return e.value
		}
	}
	return ""
}

// Values returns every value stored under name, in insertion order.
func (h *Headers) Values(name string) []string {
	key := canonical(name)
	var out []string
	for _, e := range h.entries {
		if e.name == key {
			out = append(out, e.value)
		}
	}
	return out
}

// Names returns the distinct canonical header names present, in first-seen
// order.
func (h *Headers) Names() []string {
	seen := make(map[string]bool, len(h.entries))
	var out []string
	for _, e := range h.entries {
		if !seen[e.name] {
			seen[e.name] = true
			out = append(out, e.name)
		}
	}
	return out
}

// Len returns the number of name/value pairs stored (not distinct names).
func (h *Headers) Len() int { return len(h.entries) }

// NameAt and ValueAt give index-based access to the raw wire order, used by
// the HPACK codec and the HTTP/1 header writer which must preserve order.
func (h *Headers) NameAt(i int) string  { return h.entries[i].name }
func (h *Headers) ValueAt(i int) string { return h.entries[i].value }

// Clone returns an independent copy.
func (h *Headers) Clone() *Headers {
	out := &Headers{entries: make([]entry, len(h.entries))}
	copy(out.entries, h.entries)
	return out
}

// ToMap renders the multimap as a map[string][]string, the shape callers
// outside this package (and JSON-serialized Responses) expect.
func (h *Headers) ToMap() map[string][]string {
	out := make(map[string][]string)
	for _, e := range h.entries {
		out[e.name] = append(out[e.name], e.value)
	}
	return out
}

// Builder accumulates header fields before they are frozen into a Headers,
// mirroring OkHttp's Headers.Builder so call sites read the same way:
// headers.NewBuilder().Add("Host", host).Set("Accept", "*/*").Build().
type Builder struct {
	h *Headers
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{h: New()} }

func (b *Builder) Add(name, value string) *Builder {
	b.h.Add(name, value)
	return b
}

func (b *Builder) AddLenient(name, value string) *Builder {
	b.h.AddLenient(name, value)
	return b
}

func (b *Builder) Set(name, value string) *Builder {
	b.h.Set(name, value)
	return b
}

func (b *Builder) RemoveAll(name string) *Builder {
	b.h.RemoveAll(name)
	return b
}

// Build freezes the accumulated fields into a Headers value.
func (b *Builder) Build() *Headers {
	return b.h.Clone()
}
