// Package proplist implements an insertion-ordered, UTF-8-keyed mapping from
// string keys to byte-string values, used to carry stream/sink/client
// metadata (spec.md §3 "Property list").
//
// Grounded on _examples/original_source/src/proplist.{h,c}: pa_proplist_sets,
// pa_proplist_update (merge/replace/set modes), insertion order preserved
// for iteration.
package proplist

// UpdateMode controls how Update merges a key that already exists.
type UpdateMode int

const (
	// Set inserts all of other's keys, overwriting any existing value in
	// place (the key keeps its position); new keys go to the end of the
	// insertion order.
	Set UpdateMode = iota
	// Merge inserts keys from other only if they are not already present;
	// existing keys and their order are left untouched.
	Merge
	// Replace discards every existing key and replaces the list wholesale
	// with other's contents, in other's order.
	Replace
)

// KeyClientCorrelationID is not one of upstream's PA_PROP_* keys; it
// carries a server-generated, process-local identifier for a client so
// log lines from different subsystems about the same peer can be joined
// without relying on the connection's reused numeric index.
const KeyClientCorrelationID = "driftsound.client.correlation-id"

// PropList is an insertion-ordered string -> []byte map.
type PropList struct {
	order []string
	data  map[string][]byte
}

// New creates an empty PropList.
func New() *PropList {
	return &PropList{data: make(map[string][]byte)}
}

// SetString sets key to the UTF-8 bytes of value.
func (p *PropList) SetString(key, value string) {
	p.SetBytes(key, []byte(value))
}

// SetBytes sets key to value, a raw byte string (not guaranteed UTF-8).
func (p *PropList) SetBytes(key string, value []byte) {
	if _, exists := p.data[key]; !exists {
		p.order = append(p.order, key)
	}
	p.data[key] = value
}

// GetString returns the value for key interpreted as UTF-8 text.
func (p *PropList) GetString(key string) (string, bool) {
	v, ok := p.data[key]
	if !ok {
		return "", false
	}
	return string(v), true
}

// GetBytes returns the raw value for key.
func (p *PropList) GetBytes(key string) ([]byte, bool) {
	v, ok := p.data[key]
	return v, ok
}

// Unset removes key, if present.
func (p *PropList) Unset(key string) {
	if _, exists := p.data[key]; !exists {
		return
	}
	delete(p.data, key)
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Contains reports whether key is present.
func (p *PropList) Contains(key string) bool {
	_, ok := p.data[key]
	return ok
}

// Len reports the number of keys.
func (p *PropList) Len() int {
	return len(p.order)
}

// Keys returns the keys in insertion order. The caller must not mutate it.
func (p *PropList) Keys() []string {
	return p.order
}

// Update merges other into p according to mode.
func (p *PropList) Update(other *PropList, mode UpdateMode) {
	if other == nil {
		return
	}

	switch mode {
	case Replace:
		p.order = nil
		p.data = make(map[string][]byte, other.Len())
		fallthrough
	case Set:
		for _, k := range other.order {
			p.SetBytes(k, other.data[k])
		}
	case Merge:
		for _, k := range other.order {
			if !p.Contains(k) {
				p.SetBytes(k, other.data[k])
			}
		}
	}
}

// Clone returns a deep copy of p.
func (p *PropList) Clone() *PropList {
	c := New()
	for _, k := range p.order {
		v := make([]byte, len(p.data[k]))
		copy(v, p.data[k])
		c.SetBytes(k, v)
	}
	return c
}
