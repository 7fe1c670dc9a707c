package uid

import (
	"strconv"
	"strings"
)

// Record keys share one column for allocated UIDs and supplier identifiers.
// Allocated UIDs carry allocatedPrefix; supplier identifiers that already
// start with either prefix are escaped with sourcePrefix so the two sets
// never overlap.
const (
	allocatedPrefix = "uid:"
	sourcePrefix    = "ext:"
)

// Key returns the record key for an allocated UID.
func Key(id int64) string {
	return allocatedPrefix + strconv.FormatInt(id, 10)
}

// SourceKey returns the record key for a supplier-provided identifier.
// Identifiers are returned unchanged unless they look like a Key.
func SourceKey(id string) string {
	if strings.HasPrefix(id, allocatedPrefix) || strings.HasPrefix(id, sourcePrefix) {
		return sourcePrefix + id
	}
	return id
}
