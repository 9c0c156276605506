// Package api contains the HTTP handlers for the transfer console.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"cardshift/backend/internal/pipefy"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "cardshift",
		Version:   "1.0.0",
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problem writes an RFC 7807 Problem Details JSON error response
func problem(c echo.Context, status int, title, detail string) error {
	p := ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, p)
}

// upstreamProblem maps client sentinel errors onto console-facing statuses.
// Upstream rate limiting and outages surface as 502 so the console can tell
// "our bug" from "their weather".
func upstreamProblem(c echo.Context, err error) error {
	switch {
	case errors.Is(err, pipefy.ErrUnauthorized):
		return problem(c, http.StatusUnauthorized, "Upstream rejected credentials", err.Error())
	case errors.Is(err, pipefy.ErrRateLimited),
		errors.Is(err, pipefy.ErrServerError),
		errors.Is(err, pipefy.ErrConnectivity):
		return problem(c, http.StatusBadGateway, "Upstream unavailable", err.Error())
	default:
		return problem(c, http.StatusInternalServerError, "Operation failed", err.Error())
	}
}
