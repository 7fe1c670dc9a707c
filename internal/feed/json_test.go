package feed

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONParserArray(t *testing.T) {
	input := `[
		{"title": "Widget", "sku": "abc", "price": 10.5, "tags": ["a", "b"]},
		{"sku": "def", "title": "Gadget", "stock": null}
	]`

	recs, err := parseString(t, FormatJSON, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	if got := strings.Join(recs[0].Keys, ","); got != "title,sku,price,tags" {
		t.Errorf("keys = %q, want source order", got)
	}
	price, _ := recs[0].Get("price")
	if n, ok := price.(json.Number); !ok || n.String() != "10.5" {
		t.Errorf("price = %#v, want json.Number 10.5", price)
	}
	if got := strings.Join(recs[1].Keys, ","); got != "sku,title,stock" {
		t.Errorf("keys = %q, want source order", got)
	}
	if v, ok := recs[1].Get("stock"); !ok || v != nil {
		t.Errorf("stock = %v (present %v), want explicit null", v, ok)
	}
}

func TestJSONParserWrapperObject(t *testing.T) {
	input := `{"meta": {"count": 2, "pages": [1]}, "version": 3, "products": [{"sku": "a"}, {"sku": "b"}]}`

	recs, err := parseString(t, FormatJSON, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if v, _ := recs[1].Get("sku"); v != "b" {
		t.Errorf("sku = %v, want b", v)
	}
}

func TestJSONParserNonObjectElements(t *testing.T) {
	recs, err := parseString(t, FormatJSON, `[{"sku":"a"}, 42, [1,2], {"sku":"b"}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("got %d records, want 4", len(recs))
	}
	for i, wantErr := range []bool{false, true, true, false} {
		if (recs[i].Err != nil) != wantErr {
			t.Errorf("record %d: Err = %v, wantErr %v", i, recs[i].Err, wantErr)
		}
	}
}

func TestJSONParserEmpty(t *testing.T) {
	tests := []string{"", "[]", `{"count": 0}`}
	for _, input := range tests {
		recs, err := parseString(t, FormatJSON, input)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", input, err)
		}
		if len(recs) != 0 {
			t.Errorf("%q: got %d records, want 0", input, len(recs))
		}
	}
}

func TestJSONParserMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"truncated", `[{"sku": "a"}, {"sku": `},
		{"scalar document", `"hello"`},
		{"garbage", `[{"sku": "a"} oops]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseString(t, FormatJSON, tt.input)
			if !errors.Is(err, ErrMalformedFeed) {
				t.Errorf("got %v, want ErrMalformedFeed", err)
			}
		})
	}
}

func TestJSONParserKeepsRecordsBeforeFailure(t *testing.T) {
	recs, err := parseString(t, FormatJSON, `[{"sku": "a"}, {"sku": `)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(recs) != 1 {
		t.Errorf("got %d records before failure, want 1", len(recs))
	}
}
