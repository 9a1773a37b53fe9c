package evaluation

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type AdjustInput struct {
	ResultID string
	NewScore decimal.Decimal
	Reason   string
	Actor    Actor
}

// Adjust overrides the overall score of an open result and appends an adjustment record.
// The result stays open. Checks run in order: authorization, state, input.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (Result, AdjustmentRecord, error) {
	if !s.Gate.CanAdjust(in.Actor) {
		return Result{}, AdjustmentRecord{}, &AuthorizationError{Capability: "adjust", ActorID: in.Actor.UserID}
	}
	current, campaign, err := s.resultFor(ctx, in.Actor, in.ResultID)
	if err != nil {
		return Result{}, AdjustmentRecord{}, err
	}

	unlock, err := s.lockResult(ctx, campaign.ID, current.EvaluateeID)
	if err != nil {
		return Result{}, AdjustmentRecord{}, err
	}
	defer unlock()

	current, err = s.Store.GetResult(ctx, in.ResultID)
	if err != nil {
		return Result{}, AdjustmentRecord{}, err
	}
	if current.IsFinalized {
		return Result{}, AdjustmentRecord{}, ErrAdjustFinalized
	}

	questions, err := s.Store.QuestionsFor(ctx, campaign.ID)
	if err != nil {
		return Result{}, AdjustmentRecord{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	if err := validateAdjustment(in.NewScore, reason, campaignMaxScore(questions)); err != nil {
		return Result{}, AdjustmentRecord{}, err
	}

	updated, record, err := s.Store.ApplyAdjustment(ctx, current.ID, current.Version, in.NewScore, reason, in.Actor.UserID, s.now())
	if err != nil {
		return Result{}, AdjustmentRecord{}, err
	}
	s.Log.Info("result adjusted",
		"resultId", updated.ID,
		"campaignId", campaign.ID,
		"previousScore", record.PreviousScore,
		"newScore", record.NewScore,
		"actorId", in.Actor.UserID,
	)
	return updated, record, nil
}

func validateAdjustment(score decimal.Decimal, reason string, maxScore decimal.Decimal) error {
	verr := &ValidationError{}
	if reason == "" {
		verr.add("reason", "is required")
	}
	switch {
	case score.IsNegative() || score.GreaterThan(maxScore):
		verr.add("newScore", "must be between 0 and "+maxScore.String())
	case !hasScale(score, scoreDecimalPlaces):
		verr.add("newScore", "must have at most 2 decimal places")
	}
	return verr.orNil()
}

// Finalize locks an open result. Finalizing twice fails with ErrAlreadyFinalized.
func (s *Service) Finalize(ctx context.Context, actor Actor, resultID string) (Result, error) {
	if !s.Gate.CanFinalize(actor) {
		return Result{}, &AuthorizationError{Capability: "finalize", ActorID: actor.UserID}
	}
	current, campaign, err := s.resultFor(ctx, actor, resultID)
	if err != nil {
		return Result{}, err
	}
	unlock, err := s.lockResult(ctx, campaign.ID, current.EvaluateeID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	finalized, err := s.finalizeLocked(ctx, resultID, actor)
	if err != nil {
		return Result{}, err
	}
	s.Metrics.RecordFinalized(1)
	s.Log.Info("result finalized", "resultId", resultID, "campaignId", campaign.ID, "actorId", actor.UserID)
	return finalized, nil
}

func (s *Service) finalizeLocked(ctx context.Context, resultID string, actor Actor) (Result, error) {
	current, err := s.Store.GetResult(ctx, resultID)
	if err != nil {
		return Result{}, err
	}
	if current.IsFinalized {
		return Result{}, ErrAlreadyFinalized
	}
	return s.Store.MarkFinalized(ctx, current.ID, current.Version, actor.UserID, s.now())
}

// BulkFinalize finalizes every open result in the campaign. Each result is finalized
// under its own lock and transaction, so one failure never undoes another's success.
// Results that are already finalized are skipped.
func (s *Service) BulkFinalize(ctx context.Context, actor Actor, campaignID string) (BulkFinalizeReport, error) {
	if !s.Gate.CanBulkFinalize(actor) {
		return BulkFinalizeReport{}, &AuthorizationError{Capability: "bulk_finalize", ActorID: actor.UserID}
	}
	campaign, err := s.campaignFor(ctx, actor, campaignID)
	if err != nil {
		return BulkFinalizeReport{}, err
	}
	results, err := s.Store.ListResults(ctx, campaign.ID)
	if err != nil {
		return BulkFinalizeReport{}, err
	}

	outcomes := make([]FinalizeOutcome, len(results))
	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i, r := range results {
		outcomes[i] = FinalizeOutcome{ResultID: r.ID, EvaluateeID: r.EvaluateeID, Status: OutcomeSkipped}
		if r.IsFinalized {
			continue
		}
		g.Go(func() error {
			outcomes[i] = s.finalizeOne(ctx, campaign, r, actor)
			return nil
		})
	}
	_ = g.Wait()

	report := BulkFinalizeReport{CampaignID: campaign.ID, Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case OutcomeFinalized:
			report.Finalized++
		case OutcomeSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}
	s.Metrics.RecordFinalized(report.Finalized)
	s.Log.Info("bulk finalize done",
		"campaignId", campaign.ID,
		"finalized", report.Finalized,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"actorId", actor.UserID,
	)
	return report, nil
}

func (s *Service) finalizeOne(ctx context.Context, campaign Campaign, r Result, actor Actor) FinalizeOutcome {
	outcome := FinalizeOutcome{ResultID: r.ID, EvaluateeID: r.EvaluateeID, Status: OutcomeFinalized}
	unlock, err := s.lockResult(ctx, campaign.ID, r.EvaluateeID)
	if err == nil {
		_, err = s.finalizeLocked(ctx, r.ID, actor)
		unlock()
	}
	switch {
	case errors.Is(err, ErrAlreadyFinalized):
		outcome.Status = OutcomeSkipped
	case err != nil:
		outcome.Status = OutcomeFailed
		outcome.Error = err.Error()
		s.Log.Warn("bulk finalize item failed", "resultId", r.ID, "campaignId", campaign.ID, "err", err)
	}
	return outcome
}

// ListAdjustments returns a result's calibration trail, oldest first.
func (s *Service) ListAdjustments(ctx context.Context, actor Actor, resultID string) ([]AdjustmentRecord, error) {
	_, campaign, err := s.resultFor(ctx, actor, resultID)
	if err != nil {
		return nil, err
	}
	if !s.Gate.CanViewCalibration(actor, campaign) {
		return nil, &AuthorizationError{Capability: "view_calibration", ActorID: actor.UserID}
	}
	return s.Store.ListAdjustments(ctx, resultID)
}

type DepartmentStat struct {
	DepartmentID   string              `json:"departmentId"`
	DepartmentName string              `json:"departmentName"`
	Results        int                 `json:"results"`
	AverageScore   decimal.NullDecimal `json:"averageScore"`
}

type CalibrationOverview struct {
	CampaignID   string              `json:"campaignId"`
	Results      int                 `json:"results"`
	Finalized    int                 `json:"finalized"`
	Pending      int                 `json:"pending"`
	AverageScore decimal.NullDecimal `json:"averageScore"`
	Distribution Distribution        `json:"distribution"`
	Departments  []DepartmentStat    `json:"departments"`
}

// CalibrationOverview summarizes a campaign's results for the calibration dashboard.
func (s *Service) CalibrationOverview(ctx context.Context, actor Actor, campaignID string) (CalibrationOverview, error) {
	campaign, err := s.viewableCampaign(ctx, actor, campaignID)
	if err != nil {
		return CalibrationOverview{}, err
	}
	results, err := s.Store.ListResults(ctx, campaign.ID)
	if err != nil {
		return CalibrationOverview{}, err
	}
	questions, err := s.Store.QuestionsFor(ctx, campaign.ID)
	if err != nil {
		return CalibrationOverview{}, err
	}
	members := make(map[string]OrgUser, len(results))
	for _, r := range results {
		user, found, err := s.Org.User(ctx, r.EvaluateeID)
		if err != nil {
			return CalibrationOverview{}, err
		}
		if found {
			members[r.EvaluateeID] = user
		}
	}
	return buildOverview(campaign.ID, results, members, campaignMaxScore(questions)), nil
}

func buildOverview(campaignID string, results []Result, members map[string]OrgUser, maxScore decimal.Decimal) CalibrationOverview {
	out := CalibrationOverview{
		CampaignID:   campaignID,
		Results:      len(results),
		Distribution: BuildDistribution(results, maxScore),
	}
	type deptAcc struct {
		stat   DepartmentStat
		scores []decimal.Decimal
	}
	depts := map[string]*deptAcc{}
	var all []decimal.Decimal
	for _, r := range results {
		if r.IsFinalized {
			out.Finalized++
		} else {
			out.Pending++
		}
		member := members[r.EvaluateeID]
		acc, ok := depts[member.DepartmentID]
		if !ok {
			acc = &deptAcc{stat: DepartmentStat{DepartmentID: member.DepartmentID, DepartmentName: member.DepartmentName}}
			depts[member.DepartmentID] = acc
		}
		acc.stat.Results++
		if r.OverallScore.Valid {
			all = append(all, r.OverallScore.Decimal)
			acc.scores = append(acc.scores, r.OverallScore.Decimal)
		}
	}
	if mean, ok := pooledMean(all); ok {
		out.AverageScore = decimal.NewNullDecimal(mean)
	}
	for _, acc := range depts {
		if mean, ok := pooledMean(acc.scores); ok {
			acc.stat.AverageScore = decimal.NewNullDecimal(mean)
		}
		out.Departments = append(out.Departments, acc.stat)
	}
	sort.Slice(out.Departments, func(i, j int) bool {
		return out.Departments[i].DepartmentName < out.Departments[j].DepartmentName
	})
	return out
}
