package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	historydomain "github.com/smallbiznis/invoicepay/internal/history/domain"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/smallbiznis/invoicepay/pkg/db/pagination"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not_found")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

// bindError converts a request binding failure into field level errors.
func bindError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalidRequestError()
	}
	return &ValidationErrors{
		Errors: lo.Map(fieldErrs, func(fe validator.FieldError, _ int) ValidationError {
			field := lo.SnakeCase(fe.Field())
			return ValidationError{
				Field:   field,
				Code:    "invalid_" + field,
				Message: field + " failed " + fe.Tag() + " validation",
			}
		}),
	}
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	}
	if isHistoryValidationError(err) {
		return validationPayload(err.Error())
	}

	switch paymentdomain.Kind(err) {
	case paymentdomain.ErrValidation:
		return validationPayload(errorCode(err))
	case paymentdomain.ErrNotFound:
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: errorCode(err),
		}
	case paymentdomain.ErrInvalidState:
		return http.StatusConflict, errorPayload{
			Type:    "invalid_state",
			Message: errorCode(err),
		}
	case paymentdomain.ErrForbidden:
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: errorCode(err),
		}
	case paymentdomain.ErrGateway:
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_error",
			Message: "payment gateway request failed",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func validationPayload(code string) (int, errorPayload) {
	return http.StatusBadRequest, errorPayload{
		Type:    "validation_error",
		Message: "validation error",
		Errors: []ValidationError{
			{
				Field:   validationErrorField(code),
				Code:    code,
				Message: validationErrorMessage(code),
			},
		},
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isHistoryValidationError(err error) bool {
	switch {
	case errors.Is(err, historydomain.ErrInvalidOrganization),
		errors.Is(err, historydomain.ErrInvalidInvoice),
		errors.Is(err, historydomain.ErrInvalidPageToken),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

// errorCode returns the snake_case code of a payment error.
func errorCode(err error) string {
	var coded *paymentdomain.Error
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return err.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "currency_mismatch":
		return "currency"
	case "refund_exceeds_payment_amount", "amount_exceeds_outstanding_balance", "partial_payment_not_allowed":
		return "amount"
	case "empty_patch":
		return "request"
	case "invalid_provider":
		return "gateway"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "currency_mismatch":
		return "payment currency does not match the invoice currency"
	case "refund_exceeds_payment_amount":
		return "refund amount exceeds the payment amount"
	case "amount_exceeds_outstanding_balance":
		return "amount exceeds the outstanding balance"
	case "partial_payment_not_allowed":
		return "invoice does not accept partial payments"
	case "invalid_signature":
		return "webhook signature verification failed"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog mirrors mapError for the request logger.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	} else if kind := paymentdomain.Kind(err); kind != nil {
		code = errorCode(err)
	}
	return payload.Type, code
}
