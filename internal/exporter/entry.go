package exporter

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Value is an attribute value: a single string, or a list when the attribute
// is multi-valued or was requested but not returned.
type Value struct {
	values []string
	list   bool
}

// Single returns a single-string value.
func Single(s string) Value {
	return Value{values: []string{s}}
}

// List returns a list value. List() is the empty list used for absent
// attributes.
func List(values ...string) Value {
	return Value{values: append([]string(nil), values...), list: true}
}

// IsList reports whether the value is a list.
func (v Value) IsList() bool {
	return v.list
}

// String returns the single value, or the empty string for a list.
func (v Value) String() string {
	if v.list || len(v.values) == 0 {
		return ""
	}
	return v.values[0]
}

// First returns the first value of a single value or a non-empty list.
func (v Value) First() (string, bool) {
	if len(v.values) == 0 {
		return "", false
	}
	return v.values[0], true
}

// Values returns a copy of every value.
func (v Value) Values() []string {
	return append([]string(nil), v.values...)
}

// Entry is an immutable directory entry: a DN plus its attributes. Attribute
// names are matched case-insensitively.
type Entry struct {
	dn    string
	attrs map[string]Value
	names []string
}

// NewEntry builds an entry from raw attribute values. An attribute with
// exactly one value becomes a single value, any other count becomes a list.
func NewEntry(dn string, attributes map[string][]string) Entry {
	e := Entry{dn: dn, attrs: make(map[string]Value, len(attributes))}
	for name, values := range attributes {
		e.set(name, valueOf(values))
	}
	return e
}

// FromLDAP converts a search result entry. Requested attributes the server
// did not return are present as empty lists.
func FromLDAP(entry *ldap.Entry, requested []string) Entry {
	e := Entry{dn: entry.DN, attrs: make(map[string]Value, len(entry.Attributes)+len(requested))}
	for _, attr := range entry.Attributes {
		e.set(attr.Name, valueOf(attr.Values))
	}
	for _, name := range requested {
		if _, ok := e.Lookup(name); !ok {
			e.set(name, List())
		}
	}
	return e
}

func valueOf(values []string) Value {
	if len(values) == 1 {
		return Single(values[0])
	}
	return List(values...)
}

func (e *Entry) set(name string, v Value) {
	key := strings.ToLower(name)
	if _, exists := e.attrs[key]; !exists {
		e.names = append(e.names, name)
	}
	e.attrs[key] = v
}

// DN returns the distinguished name of the entry.
func (e Entry) DN() string {
	return e.dn
}

// Lookup returns the named attribute.
func (e Entry) Lookup(name string) (Value, bool) {
	v, ok := e.attrs[strings.ToLower(name)]
	return v, ok
}

// Names returns the attribute names in the order they were first seen.
func (e Entry) Names() []string {
	return append([]string(nil), e.names...)
}

// Len returns the number of attributes.
func (e Entry) Len() int {
	return len(e.attrs)
}
