package mapping

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/JonMunkholm/feedpipe/internal/model"
)

// ----------------------------------------------------------------------------
// Number Tests
// ----------------------------------------------------------------------------

func TestCoerceNumber(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  any
	}{
		{"positive integer", "123", 123.0},
		{"negative decimal", "-45.5", -45.5},
		{"currency and thousands", "$1,234.56", 1234.56},
		{"accounting negative", "(123.45)", -123.45},
		{"excel formula", `="42"`, 42.0},
		{"json number", json.Number("8.50"), 8.5},
		{"native float", 3.5, 3.5},
		{"empty string", "", nil},
		{"not a number", "abc", nil},
		{"bool", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Coerce(tt.input, model.DatatypeNumber); got != tt.want {
				t.Errorf("Coerce(%#v) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// Bool Tests
// ----------------------------------------------------------------------------

func TestCoerceBool(t *testing.T) {
	tests := []struct {
		input any
		want  any
	}{
		{"1", true}, {"true", true}, {"YES", true}, {"y", true},
		{"0", false}, {"False", false}, {"no", false}, {"N", false},
		{json.Number("1"), true},
		{true, true},
		{"t", nil}, {"maybe", nil}, {"", nil},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.input), func(t *testing.T) {
			if got := Coerce(tt.input, model.DatatypeBool); got != tt.want {
				t.Errorf("Coerce(%#v) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// Date Tests
// ----------------------------------------------------------------------------

func TestCoerceDate(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  any
	}{
		{"iso", "2024-03-15", "2024-03-15"},
		{"us slash", "3/15/2024", "2024-03-15"},
		{"dotted", "15.03.2024", nil},
		{"dotted day below 13", "05.03.2024", "2024-05-03"},
		{"month name", "Mar 15, 2024", "2024-03-15"},
		{"compact", "20240315", "2024-03-15"},
		{"compact json number", json.Number("20240315"), "2024-03-15"},
		{"rfc3339", "2024-03-15T10:30:00+02:00", "2024-03-15T08:30:00Z"},
		{"two digit year", "3/15/24", "2024-03-15"},
		{"invalid", "not a date", nil},
		{"empty", "", nil},
		{"time value", time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC), "2024-03-15T08:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Coerce(tt.input, model.DatatypeDate); got != tt.want {
				t.Errorf("Coerce(%#v) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCoerceDateTwoDigitYearPivot(t *testing.T) {
	farFuture := (time.Now().Year() + TwoDigitYearPivot + 1) % 100
	got := Coerce(fmt.Sprintf("1/2/%02d", farFuture), model.DatatypeDate)

	s, ok := got.(string)
	if !ok {
		t.Fatalf("got %#v, want a date", got)
	}
	year, _ := time.Parse(DateLayout, s)
	if year.Year() > time.Now().Year()+TwoDigitYearPivot {
		t.Errorf("year %d should have been moved to the previous century", year.Year())
	}
}

// ----------------------------------------------------------------------------
// JSON and Text Tests
// ----------------------------------------------------------------------------

func TestCoerceJSON(t *testing.T) {
	obj := map[string]any{"a": "b"}
	if got, ok := Coerce(obj, model.DatatypeJSON).(map[string]any); !ok || got["a"] != "b" {
		t.Errorf("object should pass through, got %#v", got)
	}

	parsed, ok := Coerce(`[1, "x"]`, model.DatatypeJSON).([]any)
	if !ok || len(parsed) != 2 {
		t.Errorf("string should be parsed, got %#v", parsed)
	}

	for _, bad := range []string{"{oops", `{"a":1} trailing`} {
		if got := Coerce(bad, model.DatatypeJSON); got != nil {
			t.Errorf("Coerce(%q) = %#v, want nil", bad, got)
		}
	}
}

func TestCoerceText(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  any
	}{
		{"string trimmed", "  Widget ", "Widget"},
		{"excel wrapper", `="00123"`, "00123"},
		{"inch mark kept", `12" pan`, `12" pan`},
		{"single quotes kept", "'Classic'", "'Classic'"},
		{"double quotes kept", `"Deluxe"`, `"Deluxe"`},
		{"leading equals kept", "=Sale=", "=Sale="},
		{"number", json.Number("12.50"), "12.50"},
		{"float", 2.5, "2.5"},
		{"bool", false, "false"},
		{"object", map[string]any{"k": "v"}, `{"k":"v"}`},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Coerce(tt.input, model.DatatypeText); got != tt.want {
				t.Errorf("Coerce(%#v) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}
