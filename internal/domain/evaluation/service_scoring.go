package evaluation

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Recalculate recomputes and persists the result for one evaluatee. It is idempotent
// while the result is open and fails with ErrResultLocked once it is finalized.
func (s *Service) Recalculate(ctx context.Context, campaignID, evaluateeID string) (Result, error) {
	campaign, err := s.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return Result{}, err
	}
	user, found, err := s.Org.User(ctx, evaluateeID)
	if err != nil {
		return Result{}, fmt.Errorf("lookup evaluatee: %w", err)
	}
	if !found || user.TenantID != campaign.TenantID {
		return Result{}, notFound("user", evaluateeID)
	}
	assignments, err := s.Store.ListAssignmentsForEvaluatee(ctx, campaignID, evaluateeID)
	if err != nil {
		return Result{}, err
	}
	if len(assignments) == 0 {
		// not an evaluatee of this campaign
		return Result{}, notFound("evaluatee", evaluateeID)
	}

	unlock, err := s.lockResult(ctx, campaignID, evaluateeID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()
	return s.recalculateLocked(ctx, campaign, evaluateeID)
}

func (s *Service) recalculateLocked(ctx context.Context, campaign Campaign, evaluateeID string) (Result, error) {
	existing, found, err := s.Store.FindResult(ctx, campaign.ID, evaluateeID)
	if err != nil {
		return Result{}, err
	}
	if found && existing.IsFinalized {
		s.lockedRecompute(campaign.ID, evaluateeID)
		return existing, ErrResultLocked
	}

	total, completed, err := s.Store.AssignmentCounts(ctx, campaign.ID, evaluateeID)
	if err != nil {
		return Result{}, err
	}
	rows, err := s.Store.ScoreRows(ctx, campaign.ID, evaluateeID)
	if err != nil {
		return Result{}, err
	}
	computed := Aggregate(AggregateInput{
		Weights:              campaign.Weights,
		Scores:               rows,
		TotalAssignments:     total,
		CompletedAssignments: completed,
	})

	saved, err := s.Store.SaveComputation(ctx, campaign.ID, evaluateeID, computed, s.now())
	if errors.Is(err, ErrResultLocked) {
		// finalized by a writer that did not hold our lock
		s.lockedRecompute(campaign.ID, evaluateeID)
		return Result{}, err
	}
	if err != nil {
		return Result{}, err
	}
	s.Metrics.RecordRecalculation()
	return saved, nil
}

// recalculateOpen is the sweep variant of recalculateLocked: a finalized result is an
// expected skip there, so it reports ErrResultLocked without counting a refused recompute.
func (s *Service) recalculateOpen(ctx context.Context, campaign Campaign, evaluateeID string) error {
	existing, found, err := s.Store.FindResult(ctx, campaign.ID, evaluateeID)
	if err != nil {
		return err
	}
	if found && existing.IsFinalized {
		return ErrResultLocked
	}
	_, err = s.recalculateLocked(ctx, campaign, evaluateeID)
	return err
}

func (s *Service) lockedRecompute(campaignID, evaluateeID string) {
	s.Metrics.RecordLockedRecompute()
	s.Log.Warn("recalculation attempted on finalized result",
		"campaignId", campaignID,
		"evaluateeId", evaluateeID,
	)
}

// RecalculateCampaign recomputes every evaluatee that has assignments. Finalized results
// are reported as locked; other failures are reported per evaluatee.
func (s *Service) RecalculateCampaign(ctx context.Context, campaignID string) (RecalculateReport, error) {
	campaign, err := s.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return RecalculateReport{}, err
	}
	evaluatees, err := s.Store.ListEvaluatees(ctx, campaignID)
	if err != nil {
		return RecalculateReport{}, err
	}

	outcomes := make([]RecalculateOutcome, len(evaluatees))
	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i, evaluateeID := range evaluatees {
		g.Go(func() error {
			outcome := RecalculateOutcome{EvaluateeID: evaluateeID, Status: RecalcUpdated}
			unlock, err := s.lockResult(ctx, campaign.ID, evaluateeID)
			if err == nil {
				err = s.recalculateOpen(ctx, campaign, evaluateeID)
				unlock()
			}
			switch {
			case errors.Is(err, ErrResultLocked):
				outcome.Status = RecalcLocked
			case err != nil:
				outcome.Status = RecalcFailed
				outcome.Error = err.Error()
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	report := RecalculateReport{CampaignID: campaignID, Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case RecalcUpdated:
			report.Updated++
		case RecalcLocked:
			report.Locked++
		default:
			report.Failed++
		}
	}
	s.Log.Info("campaign recalculated",
		"campaignId", campaignID,
		"updated", report.Updated,
		"locked", report.Locked,
		"failed", report.Failed,
	)
	return report, nil
}

func (s *Service) concurrency() int {
	if s.BulkConcurrency <= 0 {
		return DefaultBulkConcurrency
	}
	return s.BulkConcurrency
}

// GetResult returns a result to calibration viewers or to the evaluatee it belongs to.
func (s *Service) GetResult(ctx context.Context, actor Actor, resultID string) (Result, error) {
	result, campaign, err := s.resultFor(ctx, actor, resultID)
	if err != nil {
		return Result{}, err
	}
	if result.EvaluateeID != actor.UserID && !s.Gate.CanViewCalibration(actor, campaign) {
		return Result{}, &AuthorizationError{Capability: "view_calibration", ActorID: actor.UserID}
	}
	return result, nil
}

func (s *Service) resultFor(ctx context.Context, actor Actor, resultID string) (Result, Campaign, error) {
	result, err := s.Store.GetResult(ctx, resultID)
	if err != nil {
		return Result{}, Campaign{}, err
	}
	campaign, err := s.Store.GetCampaign(ctx, result.CampaignID)
	if err != nil {
		return Result{}, Campaign{}, err
	}
	if campaign.TenantID != actor.TenantID {
		return Result{}, Campaign{}, notFound("result", resultID)
	}
	return result, campaign, nil
}

func (s *Service) ListResults(ctx context.Context, actor Actor, campaignID string) ([]Result, error) {
	campaign, err := s.viewableCampaign(ctx, actor, campaignID)
	if err != nil {
		return nil, err
	}
	return s.Store.ListResults(ctx, campaign.ID)
}

func (s *Service) viewableCampaign(ctx context.Context, actor Actor, campaignID string) (Campaign, error) {
	campaign, err := s.campaignFor(ctx, actor, campaignID)
	if err != nil {
		return Campaign{}, err
	}
	if !s.Gate.CanViewCalibration(actor, campaign) {
		return Campaign{}, &AuthorizationError{Capability: "view_calibration", ActorID: actor.UserID}
	}
	return campaign, nil
}

// ScoreDistribution buckets the campaign's defined overall scores, scaled to the
// campaign's maximum question score.
func (s *Service) ScoreDistribution(ctx context.Context, campaignID string) (Distribution, error) {
	if _, err := s.Store.GetCampaign(ctx, campaignID); err != nil {
		return Distribution{}, err
	}
	results, err := s.Store.ListResults(ctx, campaignID)
	if err != nil {
		return Distribution{}, err
	}
	questions, err := s.Store.QuestionsFor(ctx, campaignID)
	if err != nil {
		return Distribution{}, err
	}
	return BuildDistribution(results, campaignMaxScore(questions)), nil
}

// ScoreDistributionFor is ScoreDistribution gated on calibration visibility.
func (s *Service) ScoreDistributionFor(ctx context.Context, actor Actor, campaignID string) (Distribution, error) {
	if _, err := s.viewableCampaign(ctx, actor, campaignID); err != nil {
		return Distribution{}, err
	}
	return s.ScoreDistribution(ctx, campaignID)
}

// ResultBreakdown returns per-category and per-relationship detail for one result.
func (s *Service) ResultBreakdown(ctx context.Context, actor Actor, resultID string) (Breakdown, error) {
	result, campaign, err := s.resultFor(ctx, actor, resultID)
	if err != nil {
		return Breakdown{}, err
	}
	if !s.Gate.CanViewCalibration(actor, campaign) {
		return Breakdown{}, &AuthorizationError{Capability: "view_calibration", ActorID: actor.UserID}
	}
	rows, err := s.Store.ScoreRows(ctx, campaign.ID, result.EvaluateeID)
	if err != nil {
		return Breakdown{}, err
	}
	return buildBreakdown(result, campaign.Weights, rows), nil
}
