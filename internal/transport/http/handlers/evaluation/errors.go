package evaluationhandler

import (
	"errors"
	"net/http"

	"q360/internal/domain/evaluation"
	"q360/internal/platform/logger"
	"q360/internal/transport/http/api"
	"q360/internal/transport/http/middleware"
	"q360/internal/transport/http/shared"
)

// writeError maps domain errors onto the response envelope. Unknown errors are logged and
// reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, log *logger.Logger, op string, err error) {
	requestID := middleware.GetRequestID(r.Context())

	var validationErr *evaluation.ValidationError
	var stateErr *evaluation.StateError
	var authErr *evaluation.AuthorizationError
	var notFoundErr *evaluation.NotFoundError
	var lockedErr *evaluation.CampaignLockedError

	switch {
	case errors.As(err, &validationErr):
		issues := make([]shared.ValidationIssue, 0, len(validationErr.Issues))
		for _, issue := range validationErr.Issues {
			issues = append(issues, shared.ValidationIssue{Field: issue.Field, Reason: issue.Reason})
		}
		shared.FailValidation(w, requestID, issues)
	case errors.As(err, &lockedErr):
		api.Fail(w, http.StatusConflict, "campaign_locked", lockedErr.Error(), requestID)
	case errors.As(err, &stateErr):
		api.Fail(w, http.StatusConflict, "invalid_state", stateErr.Error(), requestID)
	case errors.Is(err, evaluation.ErrVersionConflict):
		api.Fail(w, http.StatusConflict, "invalid_state", err.Error(), requestID)
	case errors.As(err, &authErr):
		api.Fail(w, http.StatusForbidden, "forbidden", "not allowed", requestID)
	case errors.As(err, &notFoundErr):
		api.Fail(w, http.StatusNotFound, "not_found", notFoundErr.Entity+" not found", requestID)
	default:
		log.Error(op+" failed", "requestId", requestID, "err", err)
		api.Fail(w, http.StatusInternalServerError, "internal_error", op+" failed", requestID)
	}
}
