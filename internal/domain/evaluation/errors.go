package evaluation

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationIssue names one rejected input field.
type ValidationIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports malformed input. Callers fix the input; it is never retried.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if issue.Field == "" {
			parts = append(parts, issue.Reason)
			continue
		}
		parts = append(parts, issue.Field+": "+issue.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, reason string) {
	e.Issues = append(e.Issues, ValidationIssue{Field: field, Reason: reason})
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Issues: []ValidationIssue{{Field: field, Reason: reason}}}
}

// StateError reports an operation attempted against a result or campaign in the wrong state.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason)
}

var (
	ErrResultLocked     = &StateError{Op: "recalculate", Reason: "result is finalized and cannot be recomputed"}
	ErrAlreadyFinalized = &StateError{Op: "finalize", Reason: "result is already finalized; nothing changed"}
	ErrAdjustFinalized  = &StateError{Op: "adjust", Reason: "finalized results cannot be adjusted"}
)

// ErrVersionConflict means another writer changed the result between read and write.
var ErrVersionConflict = errors.New("evaluation result was modified concurrently")

// AuthorizationError reports a missing capability. It is never downgraded to a no-op.
type AuthorizationError struct {
	Capability string
	ActorID    string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %q lacks capability %q", e.ActorID, e.Capability)
}

// NotFoundError reports a missing campaign, assignment, question, result or user.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func notFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// CampaignLockedError rejects weight edits once any response exists for the campaign.
type CampaignLockedError struct {
	CampaignID string
}

func (e *CampaignLockedError) Error() string {
	return fmt.Sprintf("campaign %q has responses; weights can no longer change", e.CampaignID)
}

// IsNotFound reports whether err is a NotFoundError for any entity.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
