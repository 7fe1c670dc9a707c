package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidDefinition wraps every validation failure of a user-supplied
// definition (custom field, mapping rule, dedup rule).
var ErrInvalidDefinition = errors.New("invalid definition")

var fieldKeyRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("fieldkey", func(fl validator.FieldLevel) bool {
		return fieldKeyRegex.MatchString(fl.Field().String())
	})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		rule := sl.Current().Interface().(DedupRule)
		if rule.MinPrice != nil && rule.MaxPrice != nil && *rule.MaxPrice < *rule.MinPrice {
			sl.ReportError(rule.MaxPrice, "MaxPrice", "max_price", "gtemin", "")
		}
		if rule.Policy == PolicyPreferredSupplier && len(rule.PreferredSuppliers) == 0 {
			sl.ReportError(rule.PreferredSuppliers, "PreferredSuppliers", "preferred_suppliers", "required_for_policy", "")
		}
	}, DedupRule{})

	return v
}

// Validate checks a custom field definition.
func (f CustomField) Validate() error {
	return check(f)
}

// Validate checks a mapping rule.
func (m FieldMapping) Validate() error {
	return check(m)
}

// Validate checks a dedup rule, including price bounds ordering and the
// preferred supplier list required by the preferred_supplier policy.
func (r DedupRule) Validate() error {
	return check(r)
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(msgs, "; "))
}
