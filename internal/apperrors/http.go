package apperrors

import (
	"errors"
	"net/http"
)

// HTTPStatus maps a domain code to an HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInsufficientBalance:
		return http.StatusPaymentRequired
	case CodeInvalidTransition, CodeAlreadyAssigned, CodeAlreadyDecided,
		CodeCancellationPending, CodeReuploadNotAllowed:
		return http.StatusConflict
	case CodeInvalidAmount:
		return http.StatusBadRequest
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeConflictRetryExhausted:
		return http.StatusServiceUnavailable
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// Body builds the JSON error payload for err.
func Body(err error) map[string]any {
	code := CodeOf(err)
	body := map[string]any{"error": code}
	if code == CodeInternal {
		body["message"] = "internal error"
		return body
	}
	body["message"] = err.Error()

	var insufficient *InsufficientBalanceError
	if errors.As(err, &insufficient) {
		body["current_balance"] = insufficient.CurrentBalance
		body["required_amount"] = insufficient.RequiredAmount
		body["shortage"] = insufficient.Shortage
	}
	var transition *InvalidTransitionError
	if errors.As(err, &transition) {
		body["from"] = transition.From
		body["attempted"] = transition.Attempted
	}
	return body
}
