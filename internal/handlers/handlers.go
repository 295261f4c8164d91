// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package handlers contains the HTTP handlers for the privileged
// recovery endpoints.
package handlers

import (
	"net/http"

	"codeberg.org/oliverandrich/go-account-recovery/internal/services/email"
	"codeberg.org/oliverandrich/go-account-recovery/internal/services/reset"
	"github.com/labstack/echo/v4"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	reset *reset.Service
	email *email.Service
}

// New creates a new Handlers instance.
func New(resetService *reset.Service, emailService *email.Service) *Handlers {
	return &Handlers{reset: resetService, email: emailService}
}

// Health returns the health status.
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
