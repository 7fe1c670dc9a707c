package feed

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRecordLookup(t *testing.T) {
	rec := newRecord(0)
	rec.set("Title", "Widget")
	rec.set("SKU", "abc")

	if v, ok := rec.Lookup("title"); !ok || v != "Widget" {
		t.Errorf("Lookup(title) = %v, %v", v, ok)
	}
	if v, ok := rec.Lookup("SKU"); !ok || v != "abc" {
		t.Errorf("Lookup(SKU) = %v, %v", v, ok)
	}
	if _, ok := rec.Lookup("ean"); ok {
		t.Error("Lookup(ean) found a missing key")
	}
}

func TestRecordSetRepeatedKey(t *testing.T) {
	rec := newRecord(0)
	rec.set("tag", "a")
	rec.set("tag", "b")
	rec.set("tag", "c")

	if len(rec.Keys) != 1 {
		t.Errorf("keys = %v, want one entry", rec.Keys)
	}
	list, ok := rec.Values["tag"].([]any)
	if !ok || len(list) != 3 {
		t.Errorf("tag = %#v, want three values", rec.Values["tag"])
	}
}

func TestRecordSnapshot(t *testing.T) {
	rec := newRecord(0)
	rec.set("b", "x")
	rec.set("a", 1)

	if got, want := rec.Snapshot(0), `{"b":"x","a":1}`; got != want {
		t.Errorf("Snapshot = %s, want %s", got, want)
	}

	long := newRecord(0)
	long.set("title", strings.Repeat("é", 100))
	got := long.Snapshot(32)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated snapshot %q should end with ...", got)
	}
	if len(got) > 32+3 {
		t.Errorf("snapshot length %d exceeds limit", len(got))
	}
	if !utf8.ValidString(got) {
		t.Errorf("snapshot %q cut inside a rune", got)
	}
}
