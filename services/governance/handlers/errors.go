// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the governance HTTP API on gin.
//
// Every handler is a constructor returning gin.HandlerFunc so that routes
// can be wired with exactly the components they use. Errors from the
// domain packages are translated by respondError; no handler writes an
// error status directly.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianGovernance/services/governance/activity"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/project"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	// Detail is the wrapped error text. Omitted for 401 and 500.
	Detail string `json:"detail,omitempty"`
	// Retryable is set for transient infrastructure failures.
	Retryable bool `json:"retryable,omitempty"`
}

// statusFor maps an error to its HTTP status and public message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, datatypes.ErrProjectNotFound):
		return http.StatusNotFound, "project not found"
	case errors.Is(err, datatypes.ErrPlanNotFound):
		return http.StatusNotFound, "plan not found"
	case errors.Is(err, datatypes.ErrNoActivePlan):
		return http.StatusConflict, "no active plan"
	case errors.Is(err, datatypes.ErrInvalidState):
		return http.StatusConflict, "invalid plan state"
	case errors.Is(err, project.ErrProjectExists):
		return http.StatusConflict, "project already exists"
	case errors.Is(err, datatypes.ErrPlanImmutable):
		return http.StatusLocked, "plan is immutable"
	case errors.Is(err, datatypes.ErrVerificationFailed):
		return http.StatusUnauthorized, "verification failed"
	case errors.Is(err, datatypes.ErrChallengeExpired):
		return http.StatusGone, "verification challenge expired"
	case errors.Is(err, datatypes.ErrChallengeConsumed):
		return http.StatusGone, "verification challenge already consumed"
	case errors.Is(err, datatypes.ErrRateLimited):
		return http.StatusTooManyRequests, "too many approval attempts"
	case datatypes.IsRetryable(err):
		return http.StatusServiceUnavailable, "dependency unavailable"
	case errors.Is(err, project.ErrInvalidProjectID), errors.Is(err, activity.ErrInvalidActivity):
		return http.StatusBadRequest, "invalid request"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// respondError writes err as an ErrorResponse and aborts the chain.
func respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	resp := ErrorResponse{Error: msg}
	switch status {
	case http.StatusUnauthorized:
		// Never say which approval factor failed.
	case http.StatusInternalServerError:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	case http.StatusNotFound:
		// The fixed message is the whole contract for unknown projects.
	default:
		resp.Detail = err.Error()
	}
	resp.Retryable = status == http.StatusServiceUnavailable
	c.AbortWithStatusJSON(status, resp)
}

// badRequest reports a malformed request body.
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Detail: err.Error()})
}
