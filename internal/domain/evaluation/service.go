package evaluation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"q360/internal/platform/logger"
	"q360/internal/platform/metrics"
)

// AuthorizationGate answers capability questions for calibration and campaign administration.
type AuthorizationGate interface {
	CanAdjust(actor Actor) bool
	CanFinalize(actor Actor) bool
	CanBulkFinalize(actor Actor) bool
	CanViewCalibration(actor Actor, campaign Campaign) bool
	CanManageCampaigns(actor Actor) bool
}

// Locker serializes writers of one (campaign, evaluatee) result.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type Service struct {
	Store           StoreAPI
	Org             OrgLookup
	Gate            AuthorizationGate
	Locks           Locker
	Log             *logger.Logger
	Metrics         *metrics.Collector
	Policy          AssignmentPolicy
	BulkConcurrency int

	now func() time.Time
}

func NewService(store StoreAPI, org OrgLookup, gate AuthorizationGate, locks Locker, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		Store:           store,
		Org:             org,
		Gate:            gate,
		Locks:           locks,
		Log:             log.With("component", "evaluation"),
		Policy:          DefaultAssignmentPolicy(),
		BulkConcurrency: DefaultBulkConcurrency,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func resultLockKey(campaignID, evaluateeID string) string {
	return "evaluation-result:" + campaignID + ":" + evaluateeID
}

func (s *Service) lockResult(ctx context.Context, campaignID, evaluateeID string) (func(), error) {
	unlock, err := s.Locks.Lock(ctx, resultLockKey(campaignID, evaluateeID))
	if err != nil {
		return nil, fmt.Errorf("lock result %s/%s: %w", campaignID, evaluateeID, err)
	}
	return unlock, nil
}

// campaignFor loads a campaign and hides it from actors of another organization.
func (s *Service) campaignFor(ctx context.Context, actor Actor, campaignID string) (Campaign, error) {
	campaign, err := s.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return Campaign{}, err
	}
	if actor.TenantID != campaign.TenantID {
		return Campaign{}, notFound("campaign", campaignID)
	}
	return campaign, nil
}

func (s *Service) requireManage(actor Actor) error {
	if !s.Gate.CanManageCampaigns(actor) {
		return &AuthorizationError{Capability: "manage_campaigns", ActorID: actor.UserID}
	}
	return nil
}

func (s *Service) CreateCampaign(ctx context.Context, actor Actor, in CampaignInput) (Campaign, error) {
	if err := s.requireManage(actor); err != nil {
		return Campaign{}, err
	}
	if err := validateCampaignInput(in); err != nil {
		return Campaign{}, err
	}
	weights := DefaultWeights()
	if in.Weights != nil {
		weights = *in.Weights
	}
	created, err := s.Store.CreateCampaign(ctx, Campaign{
		TenantID:            actor.TenantID,
		Title:               strings.TrimSpace(in.Title),
		Description:         strings.TrimSpace(in.Description),
		StartDate:           in.StartDate,
		EndDate:             in.EndDate,
		Status:              CampaignStatusDraft,
		Weights:             weights,
		AllowSelfEvaluation: in.AllowSelfEvaluation,
		IsAnonymous:         in.IsAnonymous,
		CreatedBy:           actor.UserID,
	})
	if err != nil {
		return Campaign{}, err
	}
	s.Log.Info("campaign created", "campaignId", created.ID, "tenantId", created.TenantID)
	return created, nil
}

func (s *Service) GetCampaign(ctx context.Context, actor Actor, campaignID string) (Campaign, error) {
	return s.campaignFor(ctx, actor, campaignID)
}

func (s *Service) ListCampaigns(ctx context.Context, actor Actor, status string) ([]Campaign, error) {
	return s.Store.ListCampaigns(ctx, actor.TenantID, status)
}

// UpdateCampaignWeights validates the new weights before anything is persisted and
// refuses the edit once the campaign has responses.
func (s *Service) UpdateCampaignWeights(ctx context.Context, actor Actor, campaignID string, w Weights) (Campaign, error) {
	if err := s.requireManage(actor); err != nil {
		return Campaign{}, err
	}
	if _, err := s.campaignFor(ctx, actor, campaignID); err != nil {
		return Campaign{}, err
	}
	if err := ValidateWeights(w); err != nil {
		return Campaign{}, err
	}
	hasResponses, err := s.Store.HasResponses(ctx, campaignID)
	if err != nil {
		return Campaign{}, err
	}
	if hasResponses {
		return Campaign{}, &CampaignLockedError{CampaignID: campaignID}
	}
	return s.Store.UpdateCampaignWeights(ctx, campaignID, w)
}

// AttachQuestions adds questions to a draft campaign's question set.
func (s *Service) AttachQuestions(ctx context.Context, actor Actor, campaignID string, questionIDs []string) ([]Question, error) {
	if err := s.requireManage(actor); err != nil {
		return nil, err
	}
	campaign, err := s.campaignFor(ctx, actor, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != CampaignStatusDraft {
		return nil, &StateError{Op: "attach questions", Reason: "campaign is " + campaign.Status + ", not draft"}
	}
	if len(questionIDs) == 0 {
		return nil, invalid("questionIds", "at least one question is required")
	}
	for _, id := range questionIDs {
		q, err := s.Store.GetQuestion(ctx, id)
		if err != nil {
			return nil, err
		}
		if q.TenantID != campaign.TenantID {
			return nil, notFound("question", id)
		}
	}
	if _, err := s.Store.AttachQuestions(ctx, campaignID, questionIDs); err != nil {
		return nil, err
	}
	return s.Store.QuestionsFor(ctx, campaignID)
}

func (s *Service) Questions(ctx context.Context, actor Actor, campaignID string) ([]Question, error) {
	if _, err := s.campaignFor(ctx, actor, campaignID); err != nil {
		return nil, err
	}
	return s.Store.QuestionsFor(ctx, campaignID)
}

// MaterializeAssignments builds and upserts the assignment matrix for the given evaluatees.
// Running it again for the same evaluatees creates nothing new.
func (s *Service) MaterializeAssignments(ctx context.Context, actor Actor, campaignID string, evaluateeIDs []string) (MaterializeReport, error) {
	if err := s.requireManage(actor); err != nil {
		return MaterializeReport{}, err
	}
	campaign, err := s.campaignFor(ctx, actor, campaignID)
	if err != nil {
		return MaterializeReport{}, err
	}
	if campaign.Status != CampaignStatusDraft && campaign.Status != CampaignStatusActive {
		return MaterializeReport{}, &StateError{Op: "materialize assignments", Reason: "campaign is " + campaign.Status}
	}
	return s.materialize(ctx, campaign, evaluateeIDs)
}

func (s *Service) materialize(ctx context.Context, campaign Campaign, evaluateeIDs []string) (MaterializeReport, error) {
	report := MaterializeReport{CampaignID: campaign.ID}
	for _, evaluateeID := range evaluateeIDs {
		specs, err := BuildAssignments(ctx, s.Org, campaign, evaluateeID, s.Policy)
		if err != nil {
			return report, err
		}
		created, err := s.Store.InsertAssignments(ctx, campaign.ID, specs)
		if err != nil {
			return report, fmt.Errorf("insert assignments for %s: %w", evaluateeID, err)
		}
		report.Evaluatees++
		report.Required += len(specs)
		report.Created += created
		report.Existing += len(specs) - created
	}
	s.Log.Info("assignments materialized",
		"campaignId", campaign.ID,
		"evaluatees", report.Evaluatees,
		"created", report.Created,
		"existing", report.Existing,
	)
	return report, nil
}

// ActivateCampaign materializes the matrix for every active member of the campaign's
// organization and moves the campaign from draft to active.
func (s *Service) ActivateCampaign(ctx context.Context, actor Actor, campaignID string) (Campaign, MaterializeReport, error) {
	if err := s.requireManage(actor); err != nil {
		return Campaign{}, MaterializeReport{}, err
	}
	campaign, err := s.campaignFor(ctx, actor, campaignID)
	if err != nil {
		return Campaign{}, MaterializeReport{}, err
	}
	if campaign.Status != CampaignStatusDraft {
		return Campaign{}, MaterializeReport{}, &StateError{Op: "activate", Reason: "campaign is " + campaign.Status + ", not draft"}
	}
	questions, err := s.Store.QuestionsFor(ctx, campaignID)
	if err != nil {
		return Campaign{}, MaterializeReport{}, err
	}
	if len(questions) == 0 {
		return Campaign{}, MaterializeReport{}, invalid("questions", "campaign has no questions")
	}
	members, err := s.Org.ActiveUsers(ctx, campaign.TenantID)
	if err != nil {
		return Campaign{}, MaterializeReport{}, fmt.Errorf("list active users: %w", err)
	}
	report, err := s.materialize(ctx, campaign, members)
	if err != nil {
		return Campaign{}, report, err
	}
	activated, err := s.Store.UpdateCampaignStatus(ctx, campaignID, CampaignStatusDraft, CampaignStatusActive)
	if err != nil {
		return Campaign{}, report, err
	}
	return activated, report, nil
}

// CloseCampaign moves an active campaign to completed. Results stay open for calibration.
func (s *Service) CloseCampaign(ctx context.Context, actor Actor, campaignID string) (Campaign, error) {
	if err := s.requireManage(actor); err != nil {
		return Campaign{}, err
	}
	campaign, err := s.campaignFor(ctx, actor, campaignID)
	if err != nil {
		return Campaign{}, err
	}
	if campaign.Status != CampaignStatusActive {
		return Campaign{}, &StateError{Op: "close", Reason: "campaign is " + campaign.Status + ", not active"}
	}
	return s.Store.UpdateCampaignStatus(ctx, campaignID, CampaignStatusActive, CampaignStatusCompleted)
}

// CancelCampaign cancels the campaign and every assignment that is not already cancelled.
func (s *Service) CancelCampaign(ctx context.Context, actor Actor, campaignID string) (Campaign, int, error) {
	if err := s.requireManage(actor); err != nil {
		return Campaign{}, 0, err
	}
	campaign, err := s.campaignFor(ctx, actor, campaignID)
	if err != nil {
		return Campaign{}, 0, err
	}
	if campaign.Status != CampaignStatusDraft && campaign.Status != CampaignStatusActive {
		return Campaign{}, 0, &StateError{Op: "cancel", Reason: "campaign is " + campaign.Status}
	}
	cancelled, n, err := s.Store.CancelCampaign(ctx, campaignID)
	if err != nil {
		return Campaign{}, 0, err
	}
	s.Log.Info("campaign cancelled", "campaignId", campaignID, "assignmentsCancelled", n)
	return cancelled, n, nil
}

// ListMyAssignments returns the actor's assignments in a campaign with answer progress.
func (s *Service) ListMyAssignments(ctx context.Context, actor Actor, campaignID string) ([]AssignmentProgress, error) {
	if _, err := s.campaignFor(ctx, actor, campaignID); err != nil {
		return nil, err
	}
	return s.Store.ListAssignmentsForEvaluator(ctx, campaignID, actor.UserID)
}

// ListActiveCampaigns is used by the scheduler; it is not scoped to an actor.
func (s *Service) ListActiveCampaigns(ctx context.Context) ([]Campaign, error) {
	return s.Store.ListActiveCampaigns(ctx)
}
