package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Wildcard tokens accepted as a segment value in pattern addresses.
const (
	WildcardHash = "#"
	WildcardStar = "*"
)

// Segment is one (key, value) element of a resource address.
type Segment struct {
	Key   string
	Value string
}

// IsWildcard reports whether the segment value is a wildcard token.
func (s Segment) IsWildcard() bool {
	return s.Value == WildcardHash || s.Value == WildcardStar
}

// String returns the segment in key=value form.
func (s Segment) String() string {
	return escape(s.Key) + "=" + escape(s.Value)
}

// Address identifies a node in the resource tree.
//
// Addresses are immutable values. Internally the segments are kept in a
// canonical encoded form so that two addresses with the same segments compare
// equal with == and can be used directly as map keys. The zero Address is the
// root of the tree.
type Address struct {
	path string
}

// RootAddress returns the address of the tree root.
func RootAddress() Address {
	return Address{}
}

// NewAddress builds an address from the given segments. It panics if a
// segment has an empty key; use AddressOf for untrusted input.
func NewAddress(segments ...Segment) Address {
	a, err := AddressOf(segments...)
	if err != nil {
		panic(err)
	}
	return a
}

// AddressOf builds an address from the given segments, rejecting segments
// with an empty key.
func AddressOf(segments ...Segment) (Address, error) {
	for i, s := range segments {
		if s.Key == "" {
			return Address{}, fmt.Errorf("address segment %d has an empty key", i)
		}
	}
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(s.String())
	}
	return Address{path: b.String()}, nil
}

// Pairs builds an address from alternating key and value strings.
// It panics if an odd number of strings is given or a key is empty.
func Pairs(kv ...string) Address {
	if len(kv)%2 != 0 {
		panic("model.Pairs: odd number of key/value strings")
	}
	segments := make([]Segment, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		segments = append(segments, Segment{Key: kv[i], Value: kv[i+1]})
	}
	return NewAddress(segments...)
}

// ParseAddress parses the textual form produced by Address.String, for
// example "/subsystem=messaging/server=default". The strings "" and "/" both
// denote the root.
func ParseAddress(s string) (Address, error) {
	if s == "" || s == "/" {
		return Address{}, nil
	}
	if s[0] != '/' {
		return Address{}, fmt.Errorf("address %q must start with '/'", s)
	}
	segments, err := decode(s)
	if err != nil {
		return Address{}, err
	}
	return NewAddress(segments...), nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the textual form of the address.
func (a Address) String() string {
	if a.path == "" {
		return "/"
	}
	return a.path
}

// Segments returns a copy of the address segments.
func (a Address) Segments() []Segment {
	if a.path == "" {
		return nil
	}
	segments, err := decode(a.path)
	if err != nil {
		// The encoded form is produced by NewAddress and is always valid.
		panic(err)
	}
	return segments
}

// Len returns the number of segments.
func (a Address) Len() int {
	return len(a.Segments())
}

// IsRoot reports whether the address is the root.
func (a Address) IsRoot() bool {
	return a.path == ""
}

// Last returns the final segment, or false for the root.
func (a Address) Last() (Segment, bool) {
	segments := a.Segments()
	if len(segments) == 0 {
		return Segment{}, false
	}
	return segments[len(segments)-1], true
}

// Parent returns the address with the final segment removed. The parent of
// the root is the root.
func (a Address) Parent() Address {
	segments := a.Segments()
	if len(segments) == 0 {
		return a
	}
	return NewAddress(segments[:len(segments)-1]...)
}

// Append returns a child address.
func (a Address) Append(key, value string) Address {
	return Address{path: a.path + "/" + Segment{Key: key, Value: value}.String()}
}

// IsPattern reports whether any segment value is a wildcard token.
func (a Address) IsPattern() bool {
	for _, s := range a.Segments() {
		if s.IsWildcard() {
			return true
		}
	}
	return false
}

// Contains reports whether other equals a or lies beneath it.
func (a Address) Contains(other Address) bool {
	if a.path == "" {
		return true
	}
	if !strings.HasPrefix(other.path, a.path) {
		return false
	}
	// Separators inside keys and values are escaped, so an unescaped '/'
	// right after the prefix marks a segment boundary.
	return len(other.path) == len(a.path) || other.path[len(a.path)] == '/'
}

// Overlaps reports whether one address contains the other.
func (a Address) Overlaps(other Address) bool {
	return a.Contains(other) || other.Contains(a)
}

// CommonAncestor returns the deepest address containing every given address.
// With no addresses it returns the root.
func CommonAncestor(addrs ...Address) Address {
	if len(addrs) == 0 {
		return RootAddress()
	}
	common := addrs[0].Segments()
	for _, a := range addrs[1:] {
		segments := a.Segments()
		n := 0
		for n < len(common) && n < len(segments) && common[n] == segments[n] {
			n++
		}
		common = common[:n]
	}
	return NewAddress(common...)
}

// WildcardFallback returns the parent-wildcard fallback address used by
// notification delivery: all but the last segment, followed by a segment with
// the last key and the wildcard value. Addresses with fewer than two segments
// have no fallback.
func (a Address) WildcardFallback() (Address, bool) {
	segments := a.Segments()
	if len(segments) < 2 {
		return Address{}, false
	}
	last := segments[len(segments)-1]
	segments[len(segments)-1] = Segment{Key: last.Key, Value: WildcardHash}
	return NewAddress(segments...), true
}

// CanonicalWildcards returns the address with every * wildcard value
// replaced by #, the form WildcardFallback produces.
func (a Address) CanonicalWildcards() Address {
	if !strings.Contains(a.path, "="+WildcardStar) {
		return a
	}
	segments := a.Segments()
	for i := range segments {
		if segments[i].Value == WildcardStar {
			segments[i].Value = WildcardHash
		}
	}
	return NewAddress(segments...)
}

// Matches reports whether a concrete address is matched by pattern. Pattern
// segments with a wildcard value match any value for the same key.
func (a Address) Matches(pattern Address) bool {
	as, ps := a.Segments(), pattern.Segments()
	if len(as) != len(ps) {
		return false
	}
	for i := range ps {
		if ps[i].Key != as[i].Key {
			return false
		}
		if !ps[i].IsWildcard() && ps[i].Value != as[i].Value {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the address as an ordered list of single-entry
// objects, e.g. [{"subsystem":"messaging"},{"server":"default"}].
func (a Address) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, s := range a.Segments() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(s.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s.Value)
		if err != nil {
			return nil, err
		}
		buf.WriteByte('{')
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts either the list form written by MarshalJSON or the
// textual form as a JSON string.
func (a *Address) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		parsed, err := ParseAddress(s)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}

	var raw []map[string]string
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	segments := make([]Segment, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 1 {
			return fmt.Errorf("invalid address segment: expected one key, got %d", len(entry))
		}
		for k, v := range entry {
			segments = append(segments, Segment{Key: k, Value: v})
		}
	}
	parsed, err := AddressOf(segments...)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	*a = parsed
	return nil
}

func escape(s string) string {
	if !strings.ContainsAny(s, `\/=`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if r == '\\' || r == '/' || r == '=' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// decode splits an encoded path into segments.
func decode(path string) ([]Segment, error) {
	var (
		segments []Segment
		cur      strings.Builder
		key      string
		haveKey  bool
		escaped  bool
	)
	flush := func() error {
		if !haveKey {
			return fmt.Errorf("address segment %q has no '='", cur.String())
		}
		if key == "" {
			return fmt.Errorf("address segment has an empty key")
		}
		segments = append(segments, Segment{Key: key, Value: cur.String()})
		cur.Reset()
		key, haveKey = "", false
		return nil
	}

	// path[0] is the leading '/'
	for _, r := range path[1:] {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '=' && !haveKey:
			key = cur.String()
			haveKey = true
			cur.Reset()
		case r == '/':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		return nil, fmt.Errorf("address %q ends with an escape character", path)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return segments, nil
}
