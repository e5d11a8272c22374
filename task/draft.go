package task

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"helpmate/docstore"

	"github.com/go-playground/validator/v10"
)

// Validate trims the draft and checks it against the posting rules.
func (d *Draft) Validate() error {
	d.Title = strings.TrimSpace(d.Title)
	d.Category = strings.TrimSpace(d.Category)
	d.CustomCategory = strings.TrimSpace(d.CustomCategory)
	d.Description = strings.TrimSpace(d.Description)
	d.TimeEstimate = strings.TrimSpace(d.TimeEstimate)
	d.PreferredDate = strings.TrimSpace(d.PreferredDate)
	d.PreferredTime = strings.TrimSpace(d.PreferredTime)
	d.Requirements.OtherDescription = strings.TrimSpace(d.Requirements.OtherDescription)

	problems := make([]string, 0, 4)
	if err := docstore.Validator().Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidDraft, err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}
	if d.Category != "" && !slices.Contains(Categories, d.Category) {
		problems = append(problems, fmt.Sprintf("category %q is not offered", d.Category))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDraft, strings.Join(problems, "; "))
	}
	return nil
}

// StoredCategory is the category persisted for the draft.
func (d Draft) StoredCategory() string {
	if d.Category == CategoryOther {
		return d.CustomCategory
	}
	return d.Category
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
