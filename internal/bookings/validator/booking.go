package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	apperrors "slotkeeper/pkg/errors"
	"slotkeeper/pkg/logger"
	"slotkeeper/pkg/model"

	"github.com/go-playground/validator/v10"
)

const (
	MsgStartAfterEnd    = "start_at must be < end_at"
	MsgDurationTooShort = "Booking duration is too short"
	MsgStartInPast      = "start_at cannot be in the past"
	MsgDateOrder        = "date_from must be <= date_to"
	MsgInvalidStatus    = "Invalid status"
	MsgInvalidRequest   = "Invalid request"
)

var resourceIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// Details flattens the errors into the field -> message map sent to clients.
func (v ValidationErrors) Details() map[string]any {
	details := make(map[string]any, len(v))
	for _, err := range v {
		details[err.Field] = err.Message
	}
	return details
}

type BookingValidator struct {
	validate    *validator.Validate
	minDuration time.Duration
	logger      *logger.Logger
}

func NewBookingValidator(log *logger.Logger, minDuration time.Duration) *BookingValidator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("resource_id", validateResourceID); err != nil {
		log.Fatal("Failed to register 'resource_id' validator", "error", err)
	}

	log.Debug("Booking validator initialized successfully", "min_duration", minDuration)

	return &BookingValidator{
		validate:    v,
		minDuration: minDuration,
		logger:      log,
	}
}

func validateResourceID(fl validator.FieldLevel) bool {
	return resourceIDRegex.MatchString(fl.Field().String())
}

func (v *BookingValidator) MinDuration() time.Duration {
	return v.minDuration
}

// ValidateCreate checks that the request is well formed. Interval rules are
// applied separately by ValidateInterval.
func (v *BookingValidator) ValidateCreate(req *model.CreateBookingRequest) error {
	return v.validateStruct(req)
}

// ValidateInterval applies, in order: start before end, minimum duration,
// start not in the past. The first failing rule wins.
func (v *BookingValidator) ValidateInterval(start, end, now time.Time) error {
	if !start.Before(end) {
		return apperrors.Validation(MsgStartAfterEnd, map[string]any{
			"start_at": start.Format(time.RFC3339Nano),
			"end_at":   end.Format(time.RFC3339Nano),
		})
	}
	if end.Sub(start) < v.minDuration {
		return apperrors.Validation(MsgDurationTooShort, map[string]any{
			"min_duration_minutes": int(v.minDuration / time.Minute),
		})
	}
	if start.Before(now) {
		return apperrors.Validation(MsgStartInPast, map[string]any{
			"start_at": start.Format(time.RFC3339Nano),
		})
	}
	return nil
}

// ValidateQuery checks listing filters: date order first, then status.
func (v *BookingValidator) ValidateQuery(q *model.BookingQuery) error {
	if q.DateFrom != nil && q.DateTo != nil && q.DateFrom.After(*q.DateTo) {
		return apperrors.Validation(MsgDateOrder, map[string]any{
			"date_from": q.DateFrom.Format(time.RFC3339Nano),
			"date_to":   q.DateTo.Format(time.RFC3339Nano),
		})
	}

	err := v.validateStruct(q)
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if _, bad := appErr.Details["status"]; bad {
			return apperrors.Validation(MsgInvalidStatus, map[string]any{"status": "active|cancelled"})
		}
	}
	return err
}

func (v *BookingValidator) validateStruct(s any) error {
	if err := v.validate.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			translated := v.translateValidationErrors(validationErrs)
			return apperrors.Validation(MsgInvalidRequest, translated.Details())
		}
		return apperrors.Internal("validation failed", err)
	}
	return nil
}

func (v *BookingValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "max":
			message = fmt.Sprintf("%s must be at most %s characters", err.Field(), err.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
		case "resource_id":
			message = fmt.Sprintf("%s may only contain letters, digits, '-' and '_'", err.Field())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
