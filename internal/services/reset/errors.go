// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package reset

import (
	"errors"
	"net/http"
)

// Verification and completion failures. The recovery coordinator and
// the HTTP layer both depend on these sentinels.
var (
	ErrUsernameNotFound        = errors.New("username not found")
	ErrRecoveryNotSetup        = errors.New("recovery not set up")
	ErrIncorrectAnswers        = errors.New("incorrect answers")
	ErrInvalidRecoveryCode     = errors.New("invalid recovery code")
	ErrRecoveryCodeAlreadyUsed = errors.New("recovery code already used")
	ErrPasswordTooShort        = errors.New("password too short")
	ErrPasswordUpdateFailed    = errors.New("password update failed")
	ErrInvalidMethod           = errors.New("invalid recovery method")
)

// Stable machine-readable reason codes surfaced to clients.
const (
	ReasonUsernameNotFound        = "USERNAME_NOT_FOUND"
	ReasonRecoveryNotSetup        = "RECOVERY_NOT_SETUP"
	ReasonIncorrectAnswers        = "INCORRECT_ANSWERS"
	ReasonInvalidRecoveryCode     = "INVALID_RECOVERY_CODE"
	ReasonRecoveryCodeAlreadyUsed = "RECOVERY_CODE_ALREADY_USED"
	ReasonPasswordTooShort        = "PASSWORD_TOO_SHORT"
	ReasonPasswordUpdateFailed    = "PASSWORD_UPDATE_FAILED"
	ReasonInvalidMethod           = "INVALID_METHOD"
	ReasonInternalError           = "INTERNAL_ERROR"
)

// ReasonCode maps an error to its stable reason code.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrUsernameNotFound):
		return ReasonUsernameNotFound
	case errors.Is(err, ErrRecoveryNotSetup):
		return ReasonRecoveryNotSetup
	case errors.Is(err, ErrIncorrectAnswers):
		return ReasonIncorrectAnswers
	case errors.Is(err, ErrInvalidRecoveryCode):
		return ReasonInvalidRecoveryCode
	case errors.Is(err, ErrRecoveryCodeAlreadyUsed):
		return ReasonRecoveryCodeAlreadyUsed
	case errors.Is(err, ErrPasswordTooShort):
		return ReasonPasswordTooShort
	case errors.Is(err, ErrPasswordUpdateFailed):
		return ReasonPasswordUpdateFailed
	case errors.Is(err, ErrInvalidMethod):
		return ReasonInvalidMethod
	default:
		return ReasonInternalError
	}
}

// StatusCode maps an error to its HTTP status class: 400 for caller
// and verification errors, 404 for unknown accounts, 500 otherwise.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUsernameNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRecoveryNotSetup),
		errors.Is(err, ErrIncorrectAnswers),
		errors.Is(err, ErrInvalidRecoveryCode),
		errors.Is(err, ErrRecoveryCodeAlreadyUsed),
		errors.Is(err, ErrPasswordTooShort),
		errors.Is(err, ErrInvalidMethod):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
