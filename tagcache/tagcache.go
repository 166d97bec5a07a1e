// Package tagcache holds the most recently accepted tag until the host
// collects it.
//
// The cache has a single slot. The all-zero identifier is the empty
// sentinel, so an all-0xFF UID is a real tag and compares like any other.
// The cache is not safe for concurrent use; it is owned by the device's
// control goroutine.
package tagcache

import "fmt"

// Size is the UID length in bytes.
const Size = 4

// TagID is a 4-byte card UID.
type TagID [Size]byte

// Empty is the "no tag stored" sentinel.
var Empty TagID

// IsEmpty reports whether id is the empty sentinel.
func (id TagID) IsEmpty() bool {
	return id == Empty
}

// String returns the UID as space-separated hex, e.g. "04 1A 99 3B".
func (id TagID) String() string {
	return fmt.Sprintf("%02X %02X %02X %02X", id[0], id[1], id[2], id[3])
}

// FromBytes builds a TagID from a UID slice. Shorter UIDs are zero-padded,
// longer ones truncated to Size.
func FromBytes(b []byte) TagID {
	var id TagID
	copy(id[:], b)
	return id
}

// Result is the outcome of Observe.
type Result int

const (
	// New means the candidate differs from the stored tag.
	New Result = iota
	// Repeat means the candidate is already pending retrieval.
	Repeat
)

func (r Result) String() string {
	switch r {
	case New:
		return "new"
	case Repeat:
		return "repeat"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Cache is a single-slot tag store.
type Cache struct {
	stored TagID
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Observe compares candidate with the stored tag. It never mutates the
// cache; callers Store explicitly once the card has been validated.
func (c *Cache) Observe(candidate TagID) Result {
	if candidate == c.stored {
		return Repeat
	}
	return New
}

// Store overwrites the slot. Last write wins.
func (c *Cache) Store(id TagID) {
	c.stored = id
}

// Clear resets the slot to the empty sentinel.
func (c *Cache) Clear() {
	c.stored = Empty
}

// HasData reports whether a tag is pending retrieval.
func (c *Cache) HasData() bool {
	return !c.stored.IsEmpty()
}

// Peek returns the stored tag without clearing it.
func (c *Cache) Peek() TagID {
	return c.stored
}
