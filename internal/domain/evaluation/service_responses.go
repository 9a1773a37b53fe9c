package evaluation

import (
	"context"
	"errors"
	"time"
)

// SubmitResponse records one answer for the evaluator who owns the assignment. When the
// write completes the assignment the evaluatee's result is recomputed if still open.
func (s *Service) SubmitResponse(ctx context.Context, in SubmitInput) (Response, error) {
	assignment, err := s.Store.GetAssignment(ctx, in.AssignmentID)
	if err != nil {
		return Response{}, err
	}
	campaign, err := s.campaignFor(ctx, in.Actor, assignment.CampaignID)
	if err != nil {
		return Response{}, err
	}
	if assignment.EvaluatorID != in.Actor.UserID {
		return Response{}, &AuthorizationError{Capability: "respond", ActorID: in.Actor.UserID}
	}
	if campaign.Status != CampaignStatusActive {
		return Response{}, invalid("assignmentId", "campaign is "+campaign.Status+", not active")
	}
	if assignment.Status == AssignmentStatusCancelled {
		return Response{}, invalid("assignmentId", "assignment is cancelled")
	}
	if !withinWindow(campaign, s.now()) {
		return Response{}, invalid("assignmentId", "campaign is not open for responses on this date")
	}

	questions, err := s.Store.QuestionsFor(ctx, campaign.ID)
	if err != nil {
		return Response{}, err
	}
	var question *Question
	for i := range questions {
		if questions[i].ID == in.QuestionID {
			question = &questions[i]
			break
		}
	}
	if question == nil {
		return Response{}, notFound("question", in.QuestionID)
	}

	write, err := validateAnswer(*question, in)
	if err != nil {
		return Response{}, err
	}
	resp, completedNow, err := s.Store.SaveResponse(ctx, write, s.now())
	if err != nil {
		return Response{}, err
	}
	if completedNow {
		s.Log.Info("assignment completed",
			"assignmentId", assignment.ID,
			"campaignId", campaign.ID,
			"relationship", assignment.Relationship,
		)
		if _, err := s.Recalculate(ctx, campaign.ID, assignment.EvaluateeID); err != nil && !errors.Is(err, ErrResultLocked) {
			s.Log.Warn("recalculate after completion failed",
				"campaignId", campaign.ID,
				"evaluateeId", assignment.EvaluateeID,
				"err", err,
			)
		}
	}
	return resp, nil
}

// withinWindow reports whether at falls on a calendar day between the campaign's
// start and end dates, both inclusive.
func withinWindow(campaign Campaign, at time.Time) bool {
	at = at.UTC()
	if at.Before(campaign.StartDate) {
		return false
	}
	return at.Before(campaign.EndDate.AddDate(0, 0, 1))
}
