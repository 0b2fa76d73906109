// Package qkey implements QueryKey: the structural identity of a cache
// entry. A key is an ordered tuple of scalars (string, int64, float64,
// bool); two keys are equal iff they have the same length and every
// element compares equal pairwise.
package qkey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key is an ordered, immutable scalar tuple used to address a Query or
// InfiniteQuery in a QueryClient's registry.
type Key struct {
	parts []any
	str   string
	hash  uint64
}

// New builds a Key from an ordered list of scalars. Supported element
// types are string, int, int64, float64 and bool; any other type panics,
// since an unsupported key element is a programmer error, not a runtime
// condition callers can recover from.
func New(parts ...any) Key {
	normalized := make([]any, len(parts))
	for i, p := range parts {
		normalized[i] = normalize(p)
	}

	str := toString(normalized)
	return Key{
		parts: normalized,
		str:   str,
		hash:  xxhash.Sum64String(str),
	}
}

func normalize(p any) any {
	switch v := p.(type) {
	case string, int64, float64, bool:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	default:
		panic(fmt.Sprintf("qkey: unsupported scalar type %T", p))
	}
}

// Len returns the number of elements in the key.
func (k Key) Len() int { return len(k.parts) }

// Part returns the i'th element.
func (k Key) Part(i int) any { return k.parts[i] }

// Equal reports element-wise equality between two keys.
func (k Key) Equal(other Key) bool {
	if len(k.parts) != len(other.parts) {
		return false
	}
	for i := range k.parts {
		if k.parts[i] != other.parts[i] {
			return false
		}
	}
	return true
}

// Hash returns a memoized hash of the key, suitable for map keys when a
// Key itself (a slice-backed struct) cannot be used directly as a map key.
func (k Key) Hash() uint64 { return k.hash }

// String returns the stable, underscore-joined string form of the key,
// used to derive PersistedStore slot names (see pkg/qcache).
func (k Key) String() string { return k.str }

// HasPrefix reports whether k matches pattern: len(k) >= len(pattern) and
// every element of pattern equals the corresponding element of k. An empty
// pattern matches every key.
func (k Key) HasPrefix(pattern Key) bool {
	if len(pattern.parts) > len(k.parts) {
		return false
	}
	for i := range pattern.parts {
		if k.parts[i] != pattern.parts[i] {
			return false
		}
	}
	return true
}

// MapKey returns a value suitable as a Go map key (Key itself holds a
// slice and so is not comparable; this form is the explicit, documented
// contract registries should use instead).
func (k Key) MapKey() string { return k.str }

func toString(parts []any) string {
	segments := make([]string, len(parts))
	for i, p := range parts {
		switch v := p.(type) {
		case string:
			segments[i] = v
		case int64:
			segments[i] = strconv.FormatInt(v, 10)
		case float64:
			segments[i] = strconv.FormatFloat(v, 'g', -1, 64)
		case bool:
			segments[i] = strconv.FormatBool(v)
		}
	}
	return strings.Join(segments, "_")
}
