package domain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		}); err != nil {
			panic(fmt.Errorf("register notblank: %w", err))
		}
		validate = v
	})
	return validate
}

// ValidateDetails reports why an edit buffer cannot be persisted. A buffer is
// valid when both name and priority are non-blank.
func ValidateDetails(d TaskDetails) error {
	err := validatorInstance().Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s must not be blank", strings.ToLower(e.Field())))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Valid reports whether the buffer passes ValidateDetails.
func (d TaskDetails) Valid() bool {
	return ValidateDetails(d) == nil
}
