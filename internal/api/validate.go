package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New()

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// bindQuery binds the request into req, fills struct-tag defaults and
// validates the result.
func bindQuery(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return validationFailure(err)
	}
	if err := defaults.Set(req); err != nil {
		return validationFailure(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return validationFailure(err)
	}
	return nil
}

func validationFailure(err error) *AppError {
	appErr := BadRequestError("invalid request").WithError(err)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			appErr.Details = append(appErr.Details, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: fieldMessage(fe),
			})
		}
		return appErr
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		appErr.Details = []ValidationError{{Code: "ERR_BIND", Message: fmt.Sprint(he.Message)}}
		return appErr
	}

	appErr.Details = []ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
	return appErr
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "alphanum":
		return fmt.Sprintf("%s must be alphanumeric", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
