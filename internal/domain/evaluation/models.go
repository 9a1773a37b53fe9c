package evaluation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Actor is the authenticated caller as seen by the authorization gate.
type Actor struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId"`
	RoleName string `json:"roleName"`
}

type Weights struct {
	Self        decimal.Decimal `json:"self"`
	Supervisor  decimal.Decimal `json:"supervisor"`
	Peer        decimal.Decimal `json:"peer"`
	Subordinate decimal.Decimal `json:"subordinate"`
}

// For returns the weight of a relationship category; unknown categories weigh zero.
func (w Weights) For(relationship string) decimal.Decimal {
	switch relationship {
	case RelationshipSelf:
		return w.Self
	case RelationshipSupervisor:
		return w.Supervisor
	case RelationshipPeer:
		return w.Peer
	case RelationshipSubordinate:
		return w.Subordinate
	}
	return decimal.Zero
}

func (w Weights) Sum() decimal.Decimal {
	return w.Self.Add(w.Supervisor).Add(w.Peer).Add(w.Subordinate)
}

type Campaign struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenantId"`
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	StartDate           time.Time `json:"startDate"`
	EndDate             time.Time `json:"endDate"`
	Status              string    `json:"status"`
	Weights             Weights   `json:"weights"`
	AllowSelfEvaluation bool      `json:"allowSelfEvaluation"`
	IsAnonymous         bool      `json:"isAnonymous"`
	CreatedBy           string    `json:"createdBy"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

type Question struct {
	ID           string `json:"id"`
	TenantID     string `json:"-"`
	CategoryID   string `json:"categoryId"`
	CategoryName string `json:"categoryName"`
	Text         string `json:"text"`
	Type         string `json:"type"`
	MaxScore     int    `json:"maxScore"`
	IsRequired   bool   `json:"isRequired"`
	SortOrder    int    `json:"sortOrder"`
}

type Assignment struct {
	ID           string     `json:"id"`
	CampaignID   string     `json:"campaignId"`
	EvaluatorID  string     `json:"evaluatorId"`
	EvaluateeID  string     `json:"evaluateeId"`
	Relationship string     `json:"relationship"`
	Status       string     `json:"status"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// AssignmentProgress is an assignment with how many of the campaign questions it has answered.
type AssignmentProgress struct {
	Assignment
	Answered  int `json:"answered"`
	Questions int `json:"questions"`
}

// AssignmentSpec is one required (evaluator, evaluatee, relationship) tuple before persistence.
type AssignmentSpec struct {
	EvaluatorID  string `json:"evaluatorId"`
	EvaluateeID  string `json:"evaluateeId"`
	Relationship string `json:"relationship"`
}

type Response struct {
	ID            string              `json:"id"`
	AssignmentID  string              `json:"assignmentId"`
	QuestionID    string              `json:"questionId"`
	Score         decimal.NullDecimal `json:"score"`
	TextAnswer    *string             `json:"textAnswer,omitempty"`
	BooleanAnswer *bool               `json:"booleanAnswer,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// ScoreRow is one numeric answer from a completed assignment, the raw input to aggregation.
type ScoreRow struct {
	Relationship string
	EvaluatorID  string
	QuestionID   string
	CategoryID   string
	CategoryName string
	Score        decimal.Decimal
}

type Result struct {
	ID                   string              `json:"id"`
	CampaignID           string              `json:"campaignId"`
	EvaluateeID          string              `json:"evaluateeId"`
	OverallScore         decimal.NullDecimal `json:"overallScore"`
	SelfScore            decimal.NullDecimal `json:"selfScore"`
	SupervisorScore      decimal.NullDecimal `json:"supervisorScore"`
	PeerScore            decimal.NullDecimal `json:"peerScore"`
	SubordinateScore     decimal.NullDecimal `json:"subordinateScore"`
	TotalAssignments     int                 `json:"totalAssignments"`
	CompletedAssignments int                 `json:"completedAssignments"`
	CompletionRate       decimal.Decimal     `json:"completionRate"`
	IsFinalized          bool                `json:"isFinalized"`
	FinalizedAt          *time.Time          `json:"finalizedAt,omitempty"`
	FinalizedBy          string              `json:"finalizedBy,omitempty"`
	AdjustmentReason     string              `json:"adjustmentReason,omitempty"`
	AdjustedBy           string              `json:"adjustedBy,omitempty"`
	Version              int                 `json:"version"`
	CalculatedAt         time.Time           `json:"calculatedAt"`
}

func (r Result) State() string {
	if r.IsFinalized {
		return ResultStateFinalized
	}
	return ResultStateOpen
}

// RelationshipScore returns the stored mean for one relationship category.
func (r Result) RelationshipScore(relationship string) decimal.NullDecimal {
	switch relationship {
	case RelationshipSelf:
		return r.SelfScore
	case RelationshipSupervisor:
		return r.SupervisorScore
	case RelationshipPeer:
		return r.PeerScore
	case RelationshipSubordinate:
		return r.SubordinateScore
	}
	return decimal.NullDecimal{}
}

// AdjustmentRecord is one append-only entry in a result's calibration trail.
type AdjustmentRecord struct {
	ID            string              `json:"id"`
	ResultID      string              `json:"resultId"`
	PreviousScore decimal.NullDecimal `json:"previousScore"`
	NewScore      decimal.Decimal     `json:"newScore"`
	Reason        string              `json:"reason"`
	ActorID       string              `json:"actorId"`
	CreatedAt     time.Time           `json:"createdAt"`
}

type FinalizeOutcome struct {
	ResultID    string `json:"resultId"`
	EvaluateeID string `json:"evaluateeId"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

const (
	OutcomeFinalized = "finalized"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

type BulkFinalizeReport struct {
	CampaignID string            `json:"campaignId"`
	Finalized  int               `json:"finalized"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	Outcomes   []FinalizeOutcome `json:"outcomes"`
}

type RecalculateOutcome struct {
	EvaluateeID string `json:"evaluateeId"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

const (
	RecalcUpdated = "updated"
	RecalcLocked  = "locked"
	RecalcFailed  = "failed"
)

type RecalculateReport struct {
	CampaignID string               `json:"campaignId"`
	Updated    int                  `json:"updated"`
	Locked     int                  `json:"locked"`
	Failed     int                  `json:"failed"`
	Outcomes   []RecalculateOutcome `json:"outcomes"`
}

// MaterializeReport counts assignments written by one matrix materialization.
type MaterializeReport struct {
	CampaignID string `json:"campaignId"`
	Evaluatees int    `json:"evaluatees"`
	Required   int    `json:"required"`
	Created    int    `json:"created"`
	Existing   int    `json:"existing"`
}
