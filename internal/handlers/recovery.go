// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"codeberg.org/oliverandrich/go-account-recovery/internal/services/email"
	"codeberg.org/oliverandrich/go-account-recovery/internal/services/reset"
	"github.com/labstack/echo/v4"
)

// CompleteRecoveryRequest is the body for POST /api/recovery/complete.
type CompleteRecoveryRequest struct {
	Username     string `json:"username"`
	Method       string `json:"method"`
	NewPassword  string `json:"newPassword"`
	Answer1      string `json:"answer1,omitempty"`
	Answer2      string `json:"answer2,omitempty"`
	RecoveryCode string `json:"recoveryCode,omitempty"`
}

// SendRecoveryEmailRequest is the body for POST /api/recovery/send-email.
type SendRecoveryEmailRequest struct {
	Username    string `json:"username"`
	Locale      string `json:"locale"`
	RedirectURL string `json:"redirectUrl"`
}

// VerifyRecoveryTokenRequest is the body for POST /api/recovery/verify-token.
type VerifyRecoveryTokenRequest struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// CompleteRecovery re-verifies the submitted proof and performs the
// password reset through the privileged operator.
func (h *Handlers) CompleteRecovery(c echo.Context) error {
	var req CompleteRecoveryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "INVALID_REQUEST"})
	}
	if req.Username == "" || req.Method == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "INVALID_REQUEST"})
	}

	err := h.reset.Complete(c.Request().Context(), reset.CompleteRequest{
		Username:    req.Username,
		Method:      req.Method,
		NewPassword: req.NewPassword,
		Answer1:     req.Answer1,
		Answer2:     req.Answer2,
		Code:        req.RecoveryCode,
		RequestID:   requestID(c),
		Origin:      c.RealIP(),
	})
	if err != nil {
		return recoveryError(c, reset.StatusCode(err), reset.ReasonCode(err), err)
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// SendRecoveryEmail issues a recovery token and dispatches it to the
// registered recovery address.
func (h *Handlers) SendRecoveryEmail(c echo.Context) error {
	if h.email == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "EMAIL_CHANNEL_DISABLED"})
	}

	var req SendRecoveryEmailRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "INVALID_REQUEST"})
	}
	if req.Username == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "INVALID_REQUEST"})
	}

	err := h.email.IssueToken(c.Request().Context(), req.Username, req.Locale, req.RedirectURL)
	if err != nil {
		return recoveryError(c, email.StatusCode(err), email.ReasonCode(err), err)
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// VerifyRecoveryToken confirms possession of an emailed token without
// consuming it or resetting the password.
func (h *Handlers) VerifyRecoveryToken(c echo.Context) error {
	if h.email == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "EMAIL_CHANNEL_DISABLED"})
	}

	var req VerifyRecoveryTokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "INVALID_REQUEST"})
	}
	if req.Username == "" || req.Token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "INVALID_REQUEST"})
	}

	err := h.email.VerifyToken(c.Request().Context(), req.Username, req.Token)
	if err != nil {
		return recoveryError(c, email.StatusCode(err), email.ReasonCode(err), err)
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// recoveryError writes the stable reason code; infrastructure faults
// additionally carry details for operators.
func recoveryError(c echo.Context, status int, reason string, err error) error {
	if status >= http.StatusInternalServerError {
		return c.JSON(status, map[string]string{
			"error":   reason,
			"details": err.Error(),
		})
	}
	return c.JSON(status, map[string]string{"error": reason})
}

func requestID(c echo.Context) string {
	id := c.Response().Header().Get(echo.HeaderXRequestID)
	if id == "" {
		id = c.Request().Header.Get(echo.HeaderXRequestID)
	}
	return id
}
