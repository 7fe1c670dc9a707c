package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ParseNumber extracts a float from loosely formatted input such as
// "1 234,50 €", "$1,234.50", "12 pcs" or "1.234.567". It returns false
// instead of failing when no number can be read.
//
// Separator rules: when both ',' and '.' appear, the last one is the
// decimal point. A lone separator kind that occurs more than once is a
// thousands separator. A single comma followed by exactly three digits is
// a thousands separator; any other single comma is a decimal comma.
func ParseNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return finite(f)
		}
		return ParseNumber(t.String())
	case bool:
		return 0, false
	case string:
		return parseNumberString(t)
	case []any:
		if len(t) == 0 {
			return 0, false
		}
		return ParseNumber(t[0])
	default:
		return 0, false
	}
}

func parseNumberString(s string) (float64, bool) {
	var b strings.Builder
	negative := false
	started := false
	dashes := 0
scan:
	for _, r := range s {
		switch {
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			b.WriteRune(r)
			started = true
		case r == ',' || r == '.':
			if started {
				b.WriteRune(r)
			}
		case r == '-' && !started:
			// Only a lone dash is a sign; "--5" is not negative.
			dashes++
			negative = dashes == 1
		case started && (unicode.IsLetter(r) || r == '-' || r == '/'):
			// "12 pcs", "10-20": stop at the first word or range after digits.
			break scan
		case !started && unicode.IsLetter(r):
			// "T-shirt 5": a word separates the dash from the number.
			// Symbols and spaces do not, so "-$5" and "- 5 €" stay negative.
			negative = false
			dashes = 0
		}
	}

	digits := strings.TrimRight(b.String(), ",.")
	if digits == "" {
		return 0, false
	}

	normalized := normalizeSeparators(digits)
	f, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		f = -f
	}
	return finite(f)
}

func normalizeSeparators(s string) string {
	commas := strings.Count(s, ",")
	dots := strings.Count(s, ".")

	switch {
	case commas > 0 && dots > 0:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case commas > 1:
		return strings.ReplaceAll(s, ",", "")
	case dots > 1:
		return strings.ReplaceAll(s, ".", "")
	case commas == 1:
		i := strings.Index(s, ",")
		if len(s)-i-1 == 3 {
			return strings.Replace(s, ",", "", 1)
		}
		return strings.Replace(s, ",", ".", 1)
	default:
		return s
	}
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"€", "EUR"},
	{"£", "GBP"},
	{"₽", "RUB"},
	{"₸", "KZT"},
	{"₴", "UAH"},
	{"₹", "INR"},
	{"¥", "JPY"},
	{"zł", "PLN"},
	{"руб", "RUB"},
	{"$", "USD"},
}

var currencyCodes = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "RUB": true, "KZT": true,
	"UAH": true, "PLN": true, "CHF": true, "JPY": true, "CNY": true,
	"CAD": true, "AUD": true, "SEK": true, "NOK": true, "DKK": true,
	"CZK": true, "BRL": true, "INR": true, "TRY": true, "BYN": true,
}

// ExtractCurrency finds an ISO 4217 code or a currency symbol in s and
// returns the code, or "" when none is present.
func ExtractCurrency(s string) string {
	for _, word := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if code := strings.ToUpper(word); currencyCodes[code] {
			return code
		}
	}
	lower := strings.ToLower(s)
	for _, cs := range currencySymbols {
		if strings.Contains(lower, cs.symbol) {
			return cs.code
		}
	}
	return ""
}
