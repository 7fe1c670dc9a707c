package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// jsonParser walks a top-level array one element at a time. A top-level
// object is searched for its first array-valued key, so wrapper documents
// like {"products": [...]} stream the same way.
type jsonParser struct {
	dec     *json.Decoder
	started bool
	done    bool
	index   int
}

func newJSONParser(in io.Reader) Parser {
	dec := json.NewDecoder(in)
	dec.UseNumber()
	return &jsonParser{dec: dec}
}

// Next returns the next array element. Elements that are not objects come
// back with Err set.
func (p *jsonParser) Next() (Record, error) {
	if p.done {
		return Record{}, io.EOF
	}
	if !p.started {
		p.started = true
		found, err := p.seekArray()
		if err != nil {
			p.done = true
			return Record{}, err
		}
		if !found {
			p.done = true
			return Record{}, io.EOF
		}
	}

	if !p.dec.More() {
		p.done = true
		if _, err := p.dec.Token(); err != nil {
			return Record{}, malformedJSON(err)
		}
		return Record{}, io.EOF
	}

	rec := newRecord(p.index)
	p.index++

	tok, err := p.dec.Token()
	if err != nil {
		p.done = true
		return Record{}, malformedJSON(err)
	}

	switch tok {
	case json.Delim('{'):
		if err := p.readObject(&rec); err != nil {
			p.done = true
			return Record{}, err
		}
	case json.Delim('['):
		if err := p.skipNested(); err != nil {
			p.done = true
			return Record{}, err
		}
		rec.Err = errors.New("array element is not an object")
	default:
		rec.set("value", tok)
		rec.Err = fmt.Errorf("array element is not an object: %v", tok)
	}
	return rec, nil
}

// seekArray positions the decoder just inside the item array.
func (p *jsonParser) seekArray() (bool, error) {
	tok, err := p.dec.Token()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, malformedJSON(err)
	}

	switch tok {
	case json.Delim('['):
		return true, nil
	case json.Delim('{'):
	default:
		return false, fmt.Errorf("%w: expected array or object, got %v", ErrMalformedFeed, tok)
	}

	for p.dec.More() {
		if _, err := p.dec.Token(); err != nil { // key
			return false, malformedJSON(err)
		}
		val, err := p.dec.Token()
		if err != nil {
			return false, malformedJSON(err)
		}
		switch val {
		case json.Delim('['):
			return true, nil
		case json.Delim('{'):
			if err := p.skipNested(); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// readObject fills rec from an object whose opening brace was consumed.
// Top-level key order is kept; nested values decode as plain maps.
func (p *jsonParser) readObject(rec *Record) error {
	for p.dec.More() {
		tok, err := p.dec.Token()
		if err != nil {
			return malformedJSON(err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: object key %v", ErrMalformedFeed, tok)
		}
		var v any
		if err := p.dec.Decode(&v); err != nil {
			return malformedJSON(err)
		}
		rec.set(key, v)
	}
	if _, err := p.dec.Token(); err != nil {
		return malformedJSON(err)
	}
	return nil
}

// skipNested consumes tokens up to the close of a container whose opening
// delimiter was already read.
func (p *jsonParser) skipNested() error {
	depth := 1
	for depth > 0 {
		tok, err := p.dec.Token()
		if err != nil {
			return malformedJSON(err)
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
	return nil
}

func malformedJSON(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %v", ErrMalformedFeed, err)
}
