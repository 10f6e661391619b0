package hpack

// dynamicTable is the per-connection, per-direction table described in
// RFC 7541 §2.3.2: entries are added at the front, the newest entry is
// always index 1 (relative to the dynamic table), and entries are evicted
// from the back once the table exceeds its size bound. It is implemented as
// a slice with the newest entry at index 0 rather than a ring buffer:
// insertion prepends by copying the whole slice, and the newest entry
// always has the lowest index.
type dynamicTable struct {
	entries []headerField // entries[0] is the newest
	size    uint32        // current total size per RFC 7541 §4.1
	maxSize uint32
}

func newDynamicTable(maxSize uint32) *dynamicTable {
	return &dynamicTable{maxSize: maxSize}
}

// add inserts a new entry at the front and evicts from the back until the
// table fits within maxSize, per RFC 7541 §4.4.
func (t *dynamicTable) add(name, value string) {
	f := headerField{Name: name, Value: value}
	fsize := f.size()

	if fsize > t.maxSize {
		// Per RFC 7541 §4.4: an entry larger than the table evicts
		// everything and is not itself stored.
		t.entries = nil
		t.size = 0
		return
	}

	t.entries = append([]headerField{f}, t.entries...)
	t.size += fsize
	t.evictToFit()
}

func (t *dynamicTable) evictToFit() {
	for t.size > t.maxSize && len(t.entries) > 0 {
		last := t.entries[len(t.entries)-1]
		t.entries = t.entries[:len(t.entries)-1]
		t.size -= last.size()
	}
}

// setMaxSize applies a new size bound, evicting if necessary, per the
// dynamic table size update instruction (RFC 7541 §6.3).
func (t *dynamicTable) setMaxSize(maxSize uint32) {
	t.maxSize = maxSize
	t.evictToFit()
}

// get returns the entry at the given 0-based dynamic-table index (0 is the
// newest entry), matching the "newest entry has lowest index" invariant.
func (t *dynamicTable) get(index uint32) (headerField, bool) {
	if index >= uint32(len(t.entries)) {
		return headerField{}, false
	}
	return t.entries[index], true
}

// len returns the number of entries currently held.
func (t *dynamicTable) len() int { return len(t.entries) }

// totalSize returns the current RFC 7541 §4.1 accounting size.
func (t *dynamicTable) totalSize() uint32 { return t.size }
