package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError lists the failing fields of a request body.
type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	fields := make(map[string]string, len(errs))
	for _, e := range errs {
		fields[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return ValidationError{Status: http.StatusUnprocessableEntity, Errors: fields}
}

// writeValidation answers with 422 and the field map, or 400 for anything
// the validator itself rejected.
func writeValidation(w http.ResponseWriter, err error) {
	var verr ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, verr.Status, verr)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
