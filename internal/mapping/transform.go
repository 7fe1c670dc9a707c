package mapping

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/JonMunkholm/feedpipe/internal/model"
	"github.com/JonMunkholm/feedpipe/internal/normalize"
)

// defaultConcatSeparator joins concat parts when the rule gives none.
const defaultConcatSeparator = " "

// lookupFunc resolves an additional source key for transforms that read
// more than one value.
type lookupFunc func(key string) (any, bool)

// applyTransform runs t over v. String transforms on a missing value
// return nil; direct and unknown types pass v through.
func applyTransform(t model.Transform, v any, lookup lookupFunc) any {
	switch t.Type {
	case "", model.TransformDirect:
		return v
	case model.TransformTrim:
		return mapString(v, strings.TrimSpace)
	case model.TransformLowercase:
		return mapString(v, strings.ToLower)
	case model.TransformUppercase:
		return mapString(v, strings.ToUpper)
	case model.TransformCaseFold:
		return mapString(v, func(s string) string {
			return cases.Fold().String(s)
		})
	case model.TransformReplace:
		from, to := t.Args["from"], t.Args["to"]
		if from == "" {
			return v
		}
		return mapString(v, func(s string) string {
			return strings.ReplaceAll(s, from, to)
		})
	case model.TransformConcat:
		return concat(v, t.Args, lookup)
	case model.TransformExtractNumber:
		if n, ok := normalize.ParseNumber(v); ok {
			return n
		}
		return nil
	case model.TransformExtractCurrency:
		if c := normalize.ExtractCurrency(normalize.Stringify(v)); c != "" {
			return c
		}
		return nil
	default:
		return v
	}
}

func mapString(v any, fn func(string) string) any {
	if v == nil {
		return nil
	}
	return fn(normalize.Stringify(v))
}

// concat joins v with the values of the comma-separated "fields" argument.
// Missing or blank parts are skipped.
func concat(v any, args map[string]string, lookup lookupFunc) any {
	sep, ok := args["separator"]
	if !ok {
		sep = defaultConcatSeparator
	}

	var parts []string
	if s := normalize.Stringify(v); s != "" {
		parts = append(parts, s)
	}
	for _, key := range strings.Split(args["fields"], ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if extra, ok := lookup(key); ok {
			if s := normalize.Stringify(extra); s != "" {
				parts = append(parts, s)
			}
		}
	}

	if len(parts) == 0 {
		return nil
	}
	return strings.Join(parts, sep)
}
