package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrFeedTooLarge is returned when a buffered feed exceeds its size cap.
var ErrFeedTooLarge = errors.New("feed too large")

// ErrMalformedFeed marks stream-level parse failures that abort a run.
var ErrMalformedFeed = errors.New("malformed feed")

// Record is one raw source row or element.
//
// Keys preserves source order; Values holds scalars (string, json.Number,
// bool, nil) or nested maps/slices. Err is set when the parser could read
// the item but found it unusable; the stream continues past such records.
type Record struct {
	Index  int
	Line   int // 1-based source line for CSV, 0 otherwise
	Keys   []string
	Values map[string]any
	Err    error
}

// Get returns the value for an exact key.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// Lookup returns the value of the first key, in source order, that equals
// key case-insensitively.
func (r Record) Lookup(key string) (any, bool) {
	if v, ok := r.Values[key]; ok {
		return v, true
	}
	for _, k := range r.Keys {
		if strings.EqualFold(k, key) {
			return r.Values[k], true
		}
	}
	return nil, false
}

// Snapshot renders the record as a JSON object in source key order,
// truncated to at most limit bytes. A limit <= 0 disables truncation.
func (r Record) Snapshot(limit int) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range r.Keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(r.Values[k])
		if err != nil {
			vb = []byte(`null`)
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
		if limit > 0 && b.Len() > limit {
			break
		}
	}
	b.WriteByte('}')
	return truncate(b.String(), limit)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func newRecord(index int) Record {
	return Record{Index: index, Values: make(map[string]any)}
}

// set appends key to the key order on first use. A repeated key turns the
// value into a slice of all occurrences.
func (r *Record) set(key string, v any) {
	existing, ok := r.Values[key]
	if !ok {
		r.Keys = append(r.Keys, key)
		r.Values[key] = v
		return
	}
	if list, isList := existing.([]any); isList {
		r.Values[key] = append(list, v)
		return
	}
	r.Values[key] = []any{existing, v}
}

// Parser yields records one at a time. Next returns io.EOF after the last
// record; any other error is fatal to the stream.
type Parser interface {
	Next() (Record, error)
}

// Options tune parser construction.
type Options struct {
	// Charset names a non-UTF-8 source encoding for CSV and JSON feeds
	// (IANA or WHATWG label, e.g. "windows-1251"). XML uses its declaration.
	Charset string

	// MaxXMLBytes caps the buffered size of XML feeds.
	MaxXMLBytes int64
}

// DefaultMaxXMLBytes is the XML size cap used when Options leaves it unset.
const DefaultMaxXMLBytes int64 = 25 << 20

// NewParser builds the parser for format over r. XML feeds are read and
// parsed here, so oversize and malformed XML fail before any record exists.
func NewParser(format Format, r io.Reader, opts Options) (Parser, error) {
	switch format {
	case FormatCSV:
		in, err := decodeInput(r, opts.Charset)
		if err != nil {
			return nil, err
		}
		return newCSVParser(in), nil
	case FormatJSON:
		in, err := decodeInput(r, opts.Charset)
		if err != nil {
			return nil, err
		}
		return newJSONParser(in), nil
	case FormatXML:
		limit := opts.MaxXMLBytes
		if limit <= 0 {
			limit = DefaultMaxXMLBytes
		}
		return newXMLParser(r, limit)
	default:
		return nil, fmt.Errorf("unsupported feed format %q", format)
	}
}
