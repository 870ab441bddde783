// Package validation runs structural validation over decoded job
// requests using struct tags, layered underneath the hand-written
// cross-field checks in pkg/messages (exactly-one-of rules that
// validator's tag vocabulary cannot express cleanly).
package validation

import (
	"github.com/go-playground/validator/v10"

	"github.com/isisneutron/jobcontroller/internal/apperrors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct runs struct-tag validation over s and returns a
// *apperrors.AppError of TypeValidation on the first failing rule.
func Struct(s any) error {
	if err := validate.Struct(s); err != nil {
		return apperrors.Wrap(err, apperrors.TypeValidation, "request failed structural validation")
	}
	return nil
}
