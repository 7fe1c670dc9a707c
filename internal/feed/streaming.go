package feed

// streaming.go wraps raw feed input for constant-memory parsing:
//
//   - CountingReader: tracks bytes pulled from the source for progress
//   - decodeInput: charset decoding, BOM removal and ill-formed UTF-8
//     replacement, applied on the fly without buffering the whole feed

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// CountingReader counts bytes read from the underlying reader. The count
// may be read concurrently with Read.
type CountingReader struct {
	r     io.Reader
	n     atomic.Int64
	Total int64 // 0 if unknown
}

// NewCountingReader wraps r; total is the expected size or 0.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{r: r, Total: total}
}

// Read implements io.Reader.
func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (c *CountingReader) BytesRead() int64 {
	return c.n.Load()
}

// Progress returns read progress as 0-100, or 0 when the total is unknown.
func (c *CountingReader) Progress() int {
	if c.Total <= 0 {
		return 0
	}
	p := int(c.BytesRead() * 100 / c.Total)
	if p > 100 {
		p = 100
	}
	return p
}

// decodeInput converts r to clean UTF-8. A leading UTF-8 or UTF-16 BOM
// selects the matching Unicode decoding and is dropped; otherwise charset
// (default UTF-8) is used. Invalid sequences become U+FFFD.
func decodeInput(r io.Reader, charset string) (io.Reader, error) {
	fallback, err := lookupCharset(charset)
	if err != nil {
		return nil, err
	}
	t := transform.Chain(
		unicode.BOMOverride(fallback.NewDecoder()),
		runes.ReplaceIllFormed(),
	)
	return transform.NewReader(r, t), nil
}

func lookupCharset(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	return enc, nil
}
