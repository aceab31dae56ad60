package update

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// indexKind separates the key spaces of the index
type indexKind int

const (
	// Principal key values a command creates or changes (current values)
	principalKeyCurrent indexKind = iota
	// Foreign key values a command removes or re-points (original values)
	dependentKeyOriginal
	// Unique values a command releases (original values)
	uniqueValueOriginal
)

// KeyValueIndex maps (key definition, key value, kind) to the commands that
// registered it. Key values are canonicalized so that equal values of
// different integer types match.
type KeyValueIndex struct {
	entries map[string][]int
}

// NewKeyValueIndex creates an empty index
func NewKeyValueIndex() *KeyValueIndex {
	return &KeyValueIndex{entries: make(map[string][]int)}
}

// add registers a command index under the key. Keys containing nil are ignored.
func (x *KeyValueIndex) add(definition string, kind indexKind, values []any, command int) {
	key, ok := indexKey(definition, kind, values)
	if !ok {
		return
	}
	for _, existing := range x.entries[key] {
		if existing == command {
			return
		}
	}
	x.entries[key] = append(x.entries[key], command)
}

// lookup returns the commands registered under the key
func (x *KeyValueIndex) lookup(definition string, kind indexKind, values []any) []int {
	key, ok := indexKey(definition, kind, values)
	if !ok {
		return nil
	}
	return x.entries[key]
}

// Len returns the number of distinct keys
func (x *KeyValueIndex) Len() int {
	return len(x.entries)
}

func indexKey(definition string, kind indexKind, values []any) (string, bool) {
	key, ok := CanonicalKey(values...)
	if !ok {
		return "", false
	}
	return keyEscaper.Replace(definition) + "|" + strconv.Itoa(int(kind)) + "|" + key, true
}

// keyEscaper keeps the separator out of encoded parts, so that distinct
// composite keys never join into the same string
var keyEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`)

// canonicalValue encodes a key value so that equal values compare equal as
// strings. It returns false for nil values.
func canonicalValue(v any) (string, bool) {
	if v == nil {
		return "", false
	}

	switch t := v.(type) {
	case string:
		return "s:" + t, true
	case []byte:
		if t == nil {
			return "", false
		}
		return "b:" + hex.EncodeToString(t), true
	case time.Time:
		return "t:" + t.UTC().Format(time.RFC3339Nano), true
	case fmt.Stringer:
		if _, isTemp := v.(TemporaryValue); isTemp {
			return "tmp:" + t.String(), true
		}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "", false
		}
		return canonicalValue(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "i:" + strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		return "i:" + strconv.FormatUint(u, 10), true
	case reflect.Float32, reflect.Float64:
		return "f:" + strconv.FormatFloat(rv.Float(), 'g', -1, 64), true
	case reflect.Bool:
		return "l:" + strconv.FormatBool(rv.Bool()), true
	case reflect.String:
		return "s:" + rv.String(), true
	}
	return fmt.Sprintf("%T:%v", v, v), true
}

// CanonicalKey encodes key values as one string, for example "i:42" or
// "i:7|s:a". Equal keys of different integer types encode identically. A
// "|" or backslash inside a value is escaped with a backslash. It returns
// false when any value is nil.
func CanonicalKey(values ...any) (string, bool) {
	parts := make([]string, len(values))
	for i, v := range values {
		c, ok := canonicalValue(v)
		if !ok {
			return "", false
		}
		parts[i] = keyEscaper.Replace(c)
	}
	return strings.Join(parts, "|"), true
}

// valuesEqual compares two column values using their canonical encoding
func valuesEqual(a, b any) bool {
	ca, okA := canonicalValue(a)
	cb, okB := canonicalValue(b)
	if !okA || !okB {
		return !okA && !okB
	}
	return ca == cb
}

// TemporaryValue marks a placeholder key assigned by the change tracker to a
// row whose real key the store will generate. Temporary values participate in
// key matching but are never sent to the store.
type TemporaryValue interface {
	fmt.Stringer
	IsTemporary() bool
}
