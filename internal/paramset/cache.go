// Package paramset stores the active sequence/picture parameter sets for a
// session, keyed by type and id. Entries are replaced wholesale on re-parse;
// the cache detects content changes and forwards each distinct update to the
// backend with a monotonically increasing sequence count.
package paramset

import (
	"errors"
	"fmt"
	"reflect"
)

// Type tags the variant held by a Set.
type Type uint8

const (
	TypeH264SPS Type = iota + 1
	TypeH264PPS
	TypeH265VPS
	TypeH265SPS
	TypeH265PPS
	TypeAV1SequenceHeader
)

func (t Type) String() string {
	switch t {
	case TypeH264SPS:
		return "h264-sps"
	case TypeH264PPS:
		return "h264-pps"
	case TypeH265VPS:
		return "h265-vps"
	case TypeH265SPS:
		return "h265-sps"
	case TypeH265PPS:
		return "h265-pps"
	case TypeAV1SequenceHeader:
		return "av1-sequence-header"
	}
	return "unknown"
}

// ErrNotFound is returned by Lookup when no entry exists for the id. A
// picture referencing a missing set is a syntax error for that picture only.
var ErrNotFound = errors.New("paramset: not found")

// Set is a parsed parameter set. Implementations are plain value structs;
// the cache never mutates them after Put.
type Set interface {
	ParamType() Type
	ParamID() int32
}

type key struct {
	typ Type
	id  int32
}

// UpdateFunc receives each content-changing Put along with the cache's
// update sequence count. Re-delivery of an unchanged set is suppressed, so
// implementations need not be idempotent.
type UpdateFunc func(s Set, sequenceCount uint64) error

// Cache is owned by a single session and is not safe for concurrent use.
type Cache struct {
	entries  map[key]Set
	count    uint64
	onUpdate UpdateFunc
}

// NewCache returns an empty cache. onUpdate may be nil.
func NewCache(onUpdate UpdateFunc) *Cache {
	return &Cache{
		entries:  make(map[key]Set),
		onUpdate: onUpdate,
	}
}

// Put replaces the entry for s's type and id. It reports whether the content
// differs from what was cached, and pushes changed sets to the update
// callback.
func (c *Cache) Put(s Set) (bool, error) {
	k := key{s.ParamType(), s.ParamID()}
	if prev, ok := c.entries[k]; ok && reflect.DeepEqual(prev, s) {
		return false, nil
	}
	c.entries[k] = s
	c.count++
	if c.onUpdate != nil {
		if err := c.onUpdate(s, c.count); err != nil {
			return true, fmt.Errorf("paramset: update %s id %d: %w", k.typ, k.id, err)
		}
	}
	return true, nil
}

// Lookup returns the active set for (typ, id).
func (c *Cache) Lookup(typ Type, id int32) (Set, error) {
	if s, ok := c.entries[key{typ, id}]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("paramset: %s id %d: %w", typ, id, ErrNotFound)
}

// SequenceCount returns the number of content-changing updates so far.
func (c *Cache) SequenceCount() uint64 { return c.count }

// Flush drops every entry. The sequence count is preserved so backends can
// distinguish re-delivery after a reset from the original delivery.
func (c *Cache) Flush() {
	c.entries = make(map[key]Set)
}
