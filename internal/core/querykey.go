package core

import (
	"encoding/json"
	"fmt"
)

// Standard read operations used as the second element of a QueryKey.
const (
	OpGetOne          = "getOne"
	OpGetList         = "getList"
	OpGetMany         = "getMany"
	OpGetManyRef      = "getManyReference"
	OpGetInfiniteList = "getInfiniteList"
)

// QueryKey identifies one entry in the query cache.
// Keys are ordered tuples, typically {resource, operation, params}.
// Two keys are equal when their canonical encodings are equal.
type QueryKey []interface{}

// GetOneKey returns the key of the getOne query for a record.
// The id is stringified so that 1 and "1" address the same entry.
func GetOneKey(resource string, id interface{}) QueryKey {
	return QueryKey{resource, OpGetOne, map[string]interface{}{"id": fmt.Sprint(id)}}
}

// ListKey returns the prefix shared by every query of the given read operation.
func ListKey(resource, op string) QueryKey {
	return QueryKey{resource, op}
}

// Hash returns the canonical encoding of the key, usable as a map key.
func (k QueryKey) Hash() string {
	data, err := json.Marshal([]interface{}(k))
	if err != nil {
		// Unencodable elements (funcs, channels) still need a stable identity.
		return fmt.Sprintf("%#v", []interface{}(k))
	}
	return string(data)
}

// String implements fmt.Stringer.
func (k QueryKey) String() string {
	return k.Hash()
}

// Resource returns the first element of the key when it is a string.
func (k QueryKey) Resource() string {
	if len(k) == 0 {
		return ""
	}
	s, _ := k[0].(string)
	return s
}

// Equal reports whether both keys have the same canonical encoding.
func (k QueryKey) Equal(other QueryKey) bool {
	return k.Hash() == other.Hash()
}

// Matches reports whether prefix partially matches k.
//
// Every element of prefix must match the element of k at the same position.
// A map element matches when each of its fields is present and equal in the
// corresponding map of k; any other element must be equal.
func (k QueryKey) Matches(prefix QueryKey) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, p := range prefix {
		if !elementMatches(p, k[i]) {
			return false
		}
	}
	return true
}

func elementMatches(pattern, value interface{}) bool {
	pm, ok := pattern.(map[string]interface{})
	if !ok {
		return canonical(pattern) == canonical(value)
	}
	vm, ok := value.(map[string]interface{})
	if !ok {
		return false
	}
	for field, want := range pm {
		got, exists := vm[field]
		if !exists || canonical(want) != canonical(got) {
			return false
		}
	}
	return true
}

func canonical(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(data)
}
