package validation

import (
	"eyecare-realtime/internal/models"

	"github.com/go-playground/validator/v10"
)

// New returns a validator that also understands the notification_type tag.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notification_type", func(fl validator.FieldLevel) bool {
		return models.NotificationType(fl.Field().String()).Valid()
	})
	return v
}

// Messages flattens validation errors into one message per failing field.
func Messages(err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}

	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+" failed "+fe.Tag())
	}
	return out
}
