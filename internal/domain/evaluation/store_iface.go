package evaluation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type StoreAPI interface {
	CreateCampaign(ctx context.Context, c Campaign) (Campaign, error)
	GetCampaign(ctx context.Context, campaignID string) (Campaign, error)
	ListCampaigns(ctx context.Context, tenantID, status string) ([]Campaign, error)
	ListActiveCampaigns(ctx context.Context) ([]Campaign, error)
	// UpdateCampaignWeights fails with *CampaignLockedError when a response exists.
	UpdateCampaignWeights(ctx context.Context, campaignID string, w Weights) (Campaign, error)
	UpdateCampaignStatus(ctx context.Context, campaignID, fromStatus, toStatus string) (Campaign, error)
	// CancelCampaign moves the campaign to cancelled and cancels its open assignments in one transaction.
	CancelCampaign(ctx context.Context, campaignID string) (Campaign, int, error)
	HasResponses(ctx context.Context, campaignID string) (bool, error)

	AttachQuestions(ctx context.Context, campaignID string, questionIDs []string) (int, error)
	QuestionsFor(ctx context.Context, campaignID string) ([]Question, error)
	GetQuestion(ctx context.Context, questionID string) (Question, error)

	InsertAssignments(ctx context.Context, campaignID string, specs []AssignmentSpec) (int, error)
	GetAssignment(ctx context.Context, assignmentID string) (Assignment, error)
	ListAssignmentsForEvaluator(ctx context.Context, campaignID, evaluatorID string) ([]AssignmentProgress, error)
	ListAssignmentsForEvaluatee(ctx context.Context, campaignID, evaluateeID string) ([]Assignment, error)
	AssignmentCounts(ctx context.Context, campaignID, evaluateeID string) (total int, completed int, err error)
	ListEvaluatees(ctx context.Context, campaignID string) ([]string, error)

	// SaveResponse upserts the answer and, in the same transaction, flips the
	// assignment to completed once every required question is answered.
	SaveResponse(ctx context.Context, w ResponseWrite, at time.Time) (Response, bool, error)
	ScoreRows(ctx context.Context, campaignID, evaluateeID string) ([]ScoreRow, error)

	GetResult(ctx context.Context, resultID string) (Result, error)
	FindResult(ctx context.Context, campaignID, evaluateeID string) (Result, bool, error)
	ListResults(ctx context.Context, campaignID string) ([]Result, error)
	// SaveComputation upserts the computed scores; it returns ErrResultLocked for a finalized result.
	SaveComputation(ctx context.Context, campaignID, evaluateeID string, c Computation, at time.Time) (Result, error)
	// ApplyAdjustment overwrites the overall score and appends an AdjustmentRecord atomically.
	ApplyAdjustment(ctx context.Context, resultID string, expectedVersion int, newScore decimal.Decimal, reason, actorID string, at time.Time) (Result, AdjustmentRecord, error)
	MarkFinalized(ctx context.Context, resultID string, expectedVersion int, actorID string, at time.Time) (Result, error)
	ListAdjustments(ctx context.Context, resultID string) ([]AdjustmentRecord, error)
}
