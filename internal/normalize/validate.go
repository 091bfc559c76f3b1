package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/cadence-import/internal/model"
)

var (
	phonePattern   = regexp.MustCompile(`^[0-9+\-() .]{3,30}$`)
	httpURLPattern = regexp.MustCompile(`(?i)^https?://\S+$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return isPhone(fl.Field().String())
	})
	_ = v.RegisterValidation("httpurl", func(fl validator.FieldLevel) bool {
		return httpURLPattern.MatchString(fl.Field().String())
	})
	return v
}

func isPhone(s string) bool {
	if !phonePattern.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits >= 3
}

// Problem is one format or length violation on a present value.
type Problem struct {
	Field   string          `json:"field"`
	Kind    model.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

// ValidationError lists every missing required field and every malformed
// value of one record.
type ValidationError struct {
	Kind    model.ErrorKind
	Missing []string
	Invalid []Problem
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		msgs := make([]string, len(e.Invalid))
		for i, p := range e.Invalid {
			msgs[i] = p.Message
		}
		parts = append(parts, "invalid fields: "+strings.Join(msgs, "; "))
	}
	return strings.Join(parts, "; ")
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// check is one validated value. Tags run in order and stop at the first
// failure, so max length is reported before format.
type check struct {
	label string
	value string
	tags  string
}

// Validate enforces required fields and the format and length rules on one
// draft. It returns nil or a *ValidationError.
func Validate(d model.DraftRecord) error {
	var missing []string
	if d.FirstName == "" {
		missing = append(missing, "first name")
	}
	if d.OwnerID == "" {
		missing = append(missing, "owner id")
	}
	if d.IntegrationType.Kind() == model.KindLead && d.Account.Name == "" {
		missing = append(missing, "company name")
	}

	checks := []check{
		{"first name", d.FirstName, "max=50"},
		{"last name", d.LastName, "max=75"},
		{"job position", d.JobPosition, "max=100"},
		{"linkedin url", d.LinkedinURL, "max=500,httpurl"},
		{"url", d.URL, "max=500,httpurl"},
	}
	for _, p := range d.Phones {
		checks = append(checks, check{"phone", p.Value, "max=30,phone"})
	}
	for _, e := range d.Emails {
		checks = append(checks, check{"email", e.Value, "max=100,email"})
	}
	checks = append(checks,
		check{"company name", d.Account.Name, "max=200"},
		check{"company size", d.Account.Size, "max=25"},
		check{"country", d.Account.Country, "max=100"},
		check{"zip code", d.Account.Zipcode, "max=10"},
		check{"company phone", d.Account.PhoneNumber, "max=30,phone"},
		check{"company url", d.Account.URL, "max=500,httpurl"},
	)

	var invalid []Problem
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		if p, ok := runCheck(c); !ok {
			invalid = append(invalid, p)
		}
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}
	ve := &ValidationError{Missing: missing, Invalid: invalid}
	if len(missing) > 0 {
		ve.Kind = model.ErrKindMissingFields
	} else {
		ve.Kind = invalid[0].Kind
	}
	return ve
}

func runCheck(c check) (Problem, bool) {
	err := validate.Var(c.value, c.tags)
	if err == nil {
		return Problem{}, true
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return Problem{Field: c.label, Kind: model.ErrKindInternal, Message: fmt.Sprintf("%s could not be validated", c.label)}, false
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "max":
		return Problem{
			Field:   c.label,
			Kind:    model.ErrKindFieldTooLong,
			Message: fmt.Sprintf("%s exceeds %s characters", c.label, fe.Param()),
		}, false
	case "email":
		return Problem{
			Field:   c.label,
			Kind:    model.ErrKindInvalidEmail,
			Message: fmt.Sprintf("%s %q is not a valid email", c.label, c.value),
		}, false
	case "phone":
		return Problem{
			Field:   c.label,
			Kind:    model.ErrKindInvalidPhone,
			Message: fmt.Sprintf("%s %q is not a valid phone number", c.label, c.value),
		}, false
	default:
		return Problem{
			Field:   c.label,
			Kind:    model.ErrKindInvalidURL,
			Message: fmt.Sprintf("%s %q is not a valid URL", c.label, c.value),
		}, false
	}
}
