package mapping

// coerce.go converts mapped values to Custom Field datatypes.
//
// Supplier data is messy: dates arrive in US, EU and ISO layouts, numbers
// carry currency symbols and unit suffixes, booleans are spelled out, and
// spreadsheet exports wrap cells as ="value". Coercion never fails; input
// that cannot be read as the target type becomes nil.

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/JonMunkholm/feedpipe/internal/model"
	"github.com/JonMunkholm/feedpipe/internal/normalize"
)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006", "January 2, 2006",
		"20060102",
	}
	timestampLayouts = []string{
		time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05",
		time.RFC1123Z, time.RFC1123,
	}
)

// DateLayout is the output format for date-only values.
const DateLayout = "2006-01-02"

// Coerce converts v to the given datatype, returning nil when it cannot.
func Coerce(v any, dt model.Datatype) any {
	if v == nil {
		return nil
	}
	switch dt {
	case model.DatatypeNumber:
		return toNumber(v)
	case model.DatatypeBool:
		return toBool(v)
	case model.DatatypeDate:
		return toDate(v)
	case model.DatatypeJSON:
		return toJSON(v)
	default:
		return toText(v)
	}
}

func toText(v any) any {
	switch t := v.(type) {
	case string:
		return unwrapFormula(strings.TrimSpace(t))
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return normalize.Stringify(t)
	}
}

func toNumber(v any) any {
	if s, ok := v.(string); ok {
		s = CleanCell(s)
		// Accounting format "(123.45)"
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			if n, ok := normalize.ParseNumber(s[1 : len(s)-1]); ok {
				return -n
			}
			return nil
		}
		v = s
	}
	if n, ok := normalize.ParseNumber(v); ok {
		return n
	}
	return nil
}

func toBool(v any) any {
	if b, ok := v.(bool); ok {
		return b
	}
	switch strings.ToLower(CleanCell(normalize.Stringify(v))) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	default:
		return nil
	}
}

func toDate(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}

	s := CleanCell(normalize.Stringify(v))
	if s == "" {
		return nil
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout)
		}
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}

	// Try 2-digit year layouts with pivot year adjustment
	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t.Format(DateLayout)
		}
	}

	return nil
}

func toJSON(v any) any {
	switch t := v.(type) {
	case string:
		var out any
		dec := json.NewDecoder(strings.NewReader(t))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil || dec.More() {
			return nil
		}
		return out
	default:
		return t
	}
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes a matching pair of surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if u := unwrapFormula(s); u != s {
		s = u
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	for _, q := range []string{`"`, `'`} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			s = s[1 : len(s)-1]
			break
		}
	}
	return strings.TrimSpace(s)
}

// unwrapFormula strips the ="..." wrapper spreadsheets use to keep leading
// zeros. Anything else is returned unchanged.
func unwrapFormula(s string) string {
	if len(s) >= 3 && strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		return s[2 : len(s)-1]
	}
	return s
}
