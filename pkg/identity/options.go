package identity

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Value is the small scripted-value union recipe options carry: string,
// integer, boolean, nested mapping, or ordered list (§3).
type Value struct {
	kind    valueKind
	str     string
	integer int64
	boolean bool
	list    []Value
	mapping *Options
}

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
	kindList
	kindMap
)

func StringValue(s string) Value  { return Value{kind: kindString, str: s} }
func IntValue(i int64) Value      { return Value{kind: kindInt, integer: i} }
func BoolValue(b bool) Value      { return Value{kind: kindBool, boolean: b} }
func ListValue(vs []Value) Value  { return Value{kind: kindList, list: vs} }
func MapValue(o *Options) Value   { return Value{kind: kindMap, mapping: o} }

// Canonical renders v the way it appears inside a canonical key:
// unquoted scalars, []-bracketed lists, {}-bracketed nested maps.
func (v Value) Canonical() string {
	switch v.kind {
	case kindString:
		return v.str
	case kindInt:
		return strconv.FormatInt(v.integer, 10)
	case kindBool:
		return strconv.FormatBool(v.boolean)
	case kindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.Canonical()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case kindMap:
		return v.mapping.Canonical()
	default:
		return ""
	}
}

// Options is the ordered mapping from string keys to Value that a
// recipe spec carries. Canonicalization sorts keys lexicographically;
// the resulting string is the sole key for memoization, cache paths,
// and trace identity (§3).
type Options struct {
	entries map[string]Value
}

// NewOptions builds an Options from a plain map.
func NewOptions(m map[string]Value) *Options {
	if m == nil {
		m = map[string]Value{}
	}
	return &Options{entries: m}
}

// Keys returns o's keys in lexicographic order, treating a nil Options
// as empty. Callers that need to enumerate entries (e.g. the script
// adapter marshaling options into the interpreter) use this rather
// than reaching into the unexported map.
func (o *Options) Keys() []string { return o.sortedKeys() }

// Get returns the value for key and whether it was present.
func (o *Options) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	v, ok := o.entries[key]
	return v, ok
}

// Len reports the number of entries, treating a nil Options as empty.
func (o *Options) Len() int {
	if o == nil {
		return 0
	}
	return len(o.entries)
}

// sortedKeys returns o's keys in lexicographic order.
func (o *Options) sortedKeys() []string {
	keys := make([]string, 0, o.Len())
	if o == nil {
		return keys
	}
	for k := range o.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Canonical renders "{k1=v1,k2=v2,...}" with braces omitted when empty,
// keys sorted lexicographically (§3).
func (o *Options) Canonical() string {
	if o.Len() == 0 {
		return ""
	}
	keys := o.sortedKeys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, o.entries[k].Canonical())
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// CanonicalKey returns "identity{k1=v1,...}", the unique in-memory and
// filesystem key for (id, opts) (§3, testable property 1: deterministic
// and independent of option insertion order).
func CanonicalKey(id Identity, opts *Options) string {
	return id.String() + opts.Canonical()
}
