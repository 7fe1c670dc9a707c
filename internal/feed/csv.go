package feed

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// sniffWindow bounds how much input is inspected to choose a delimiter.
const sniffWindow = 64 << 10

var candidateDelimiters = []rune{',', ';', '\t', '|'}

// csvParser reads a header row and then yields one record per data row.
type csvParser struct {
	src    *bufio.Reader
	reader *csv.Reader
	header []string
	index  int
}

func newCSVParser(in io.Reader) Parser {
	return &csvParser{src: bufio.NewReaderSize(in, sniffWindow)}
}

func (p *csvParser) init() error {
	peek, err := p.src.Peek(sniffWindow)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return fmt.Errorf("read csv header: %w", err)
	}

	r := csv.NewReader(p.src)
	r.Comma = sniffDelimiter(peek)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false
	p.reader = r

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if err != nil {
			return fmt.Errorf("%w: csv header: %v", ErrMalformedFeed, err)
		}
		if isBlankRow(row) {
			continue
		}
		p.header = headerNames(row)
		return nil
	}
}

// Next returns the next data row. Rows whose column count differs from the
// header, and rows the CSV reader rejects, come back with Err set.
func (p *csvParser) Next() (Record, error) {
	if p.reader == nil {
		if err := p.init(); err != nil {
			return Record{}, err
		}
	}

	for {
		row, err := p.reader.Read()
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}

		var perr *csv.ParseError
		if err != nil && !errors.As(err, &perr) {
			return Record{}, fmt.Errorf("read csv: %w", err)
		}

		if err == nil && isBlankRow(row) {
			continue
		}

		rec := newRecord(p.index)
		p.index++
		rec.Line, _ = p.reader.FieldPos(0)

		if perr != nil {
			rec.Line = perr.StartLine
			rec.Err = fmt.Errorf("line %d: %v", perr.StartLine, perr.Err)
			return rec, nil
		}

		for i, v := range row {
			key := columnName(i)
			if i < len(p.header) {
				key = p.header[i]
			}
			rec.set(key, v)
		}
		if len(row) != len(p.header) {
			rec.Err = fmt.Errorf("line %d: expected %d columns, got %d", rec.Line, len(p.header), len(row))
		}
		return rec, nil
	}
}

// sniffDelimiter picks the candidate delimiter that splits the first line
// into the most fields, ignoring quoted sections. Comma wins ties.
func sniffDelimiter(sample []byte) rune {
	line := sample
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		line = sample[:i]
	}

	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, r := range string(line) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}

	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

// headerNames trims header cells and makes them unique. Empty cells become
// column_N; repeated names get a numeric suffix.
func headerNames(row []string) []string {
	names := make([]string, len(row))
	seen := make(map[string]int, len(row))
	for i, h := range row {
		name := strings.TrimSpace(h)
		if name == "" {
			name = columnName(i)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = name + "_" + strconv.Itoa(n)
		}
		names[i] = name
	}
	return names
}

func columnName(i int) string {
	return "column_" + strconv.Itoa(i+1)
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
