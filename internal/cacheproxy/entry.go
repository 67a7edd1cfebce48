package cacheproxy

import "github.com/fxamacker/cbor/v2"

// Entry is the persisted form of one cached response: the RFC 7234
// policy state needed to judge freshness plus the fully-buffered
// response body, serialized with CBOR per spec.md §3.
type Entry struct {
	Policy Policy `cbor:"policy"`
	Body   []byte `cbor:"body"`
}

// Marshal encodes e for storage.
func (e Entry) Marshal() ([]byte, error) {
	return cbor.Marshal(e)
}

// UnmarshalEntry decodes a previously-stored Entry.
func UnmarshalEntry(b []byte) (Entry, error) {
	var e Entry
	if err := cbor.Unmarshal(b, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}
