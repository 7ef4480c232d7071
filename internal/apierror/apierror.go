/*
Copyright 2024 Payline Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	// ErrValidation covers malformed input. Fatal, never retried.
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	// ErrAccessDenied covers role or ownership violations. Fatal.
	ErrAccessDenied ErrorCode = "ACCESS_DENIED"
	// ErrNotFound covers missing tasks, projects, or invoices. Fatal.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrCollisionExhausted means identifier allocation ran out of
	// attempts. Retryable by the caller with backoff, not automatically.
	ErrCollisionExhausted ErrorCode = "COLLISION_EXHAUSTED"
	// ErrAlreadyProcessed means an idempotency marker is present. It is
	// success-shaped: handlers surface it as a no-op, not a failure.
	ErrAlreadyProcessed ErrorCode = "ALREADY_PROCESSED"
	// ErrInsufficientBudget means the remaining budget is zero or less at
	// payout time. Fatal.
	ErrInsufficientBudget ErrorCode = "INSUFFICIENT_BUDGET"
	// ErrStorage covers store I/O failures. Retryable for reads only;
	// create-only writes must be re-read, never blindly replayed.
	ErrStorage ErrorCode = "STORAGE_ERROR"

	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Is reports whether err is an APIError with the given code.
func Is(err error, code ErrorCode) bool {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrValidation:
			return http.StatusBadRequest
		case ErrAccessDenied:
			return http.StatusForbidden
		case ErrNotFound:
			return http.StatusNotFound
		case ErrCollisionExhausted:
			return http.StatusConflict
		case ErrAlreadyProcessed:
			// Success-shaped: replayed triggers are no-ops, not failures.
			return http.StatusOK
		case ErrInsufficientBudget:
			return http.StatusUnprocessableEntity
		case ErrStorage, ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
