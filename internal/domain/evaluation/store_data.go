package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

const campaignColumns = `
    id, tenant_id, title, COALESCE(description, ''), start_date, end_date, status,
    weight_self, weight_supervisor, weight_peer, weight_subordinate,
    allow_self_evaluation, is_anonymous, COALESCE(created_by::text, ''), created_at, updated_at`

const resultColumns = `
    id, campaign_id, evaluatee_id,
    overall_score, self_score, supervisor_score, peer_score, subordinate_score,
    total_assignments, completed_assignments, completion_rate,
    is_finalized, finalized_at, COALESCE(finalized_by::text, ''),
    COALESCE(adjustment_reason, ''), COALESCE(adjusted_by::text, ''),
    version, calculated_at`

const questionColumns = `
    q.id, c.tenant_id, q.category_id, c.name, q.text, q.question_type, q.max_score, q.is_required, q.sort_order`

func scanCampaign(row pgx.Row) (Campaign, error) {
	var c Campaign
	var self, supervisor, peer, subordinate pgtype.Numeric
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Title, &c.Description, &c.StartDate, &c.EndDate, &c.Status,
		&self, &supervisor, &peer, &subordinate,
		&c.AllowSelfEvaluation, &c.IsAnonymous, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return Campaign{}, err
	}
	c.Weights = Weights{
		Self:        numericValue(self),
		Supervisor:  numericValue(supervisor),
		Peer:        numericValue(peer),
		Subordinate: numericValue(subordinate),
	}
	return c, nil
}

func scanResult(row pgx.Row) (Result, error) {
	var r Result
	var overall, self, supervisor, peer, subordinate, rate pgtype.Numeric
	err := row.Scan(
		&r.ID, &r.CampaignID, &r.EvaluateeID,
		&overall, &self, &supervisor, &peer, &subordinate,
		&r.TotalAssignments, &r.CompletedAssignments, &rate,
		&r.IsFinalized, &r.FinalizedAt, &r.FinalizedBy,
		&r.AdjustmentReason, &r.AdjustedBy,
		&r.Version, &r.CalculatedAt,
	)
	if err != nil {
		return Result{}, err
	}
	r.OverallScore = numericNull(overall)
	r.SelfScore = numericNull(self)
	r.SupervisorScore = numericNull(supervisor)
	r.PeerScore = numericNull(peer)
	r.SubordinateScore = numericNull(subordinate)
	r.CompletionRate = numericValue(rate)
	return r, nil
}

func scanQuestion(row pgx.Row) (Question, error) {
	var q Question
	err := row.Scan(&q.ID, &q.TenantID, &q.CategoryID, &q.CategoryName, &q.Text, &q.Type, &q.MaxScore, &q.IsRequired, &q.SortOrder)
	return q, err
}

// numericNull converts a numeric column without going through float64.
func numericNull(n pgtype.Numeric) decimal.NullDecimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromBigInt(n.Int, n.Exp))
}

func numericValue(n pgtype.Numeric) decimal.Decimal {
	return numericNull(n).Decimal
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func (s *Store) CreateCampaign(ctx context.Context, c Campaign) (Campaign, error) {
	created, err := scanCampaign(s.DB.QueryRow(ctx, `
    INSERT INTO campaigns (tenant_id, title, description, start_date, end_date, status,
      weight_self, weight_supervisor, weight_peer, weight_subordinate,
      allow_self_evaluation, is_anonymous, created_by)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
    RETURNING `+campaignColumns,
		c.TenantID, c.Title, c.Description, c.StartDate, c.EndDate, c.Status,
		c.Weights.Self, c.Weights.Supervisor, c.Weights.Peer, c.Weights.Subordinate,
		c.AllowSelfEvaluation, c.IsAnonymous, nullIfEmpty(c.CreatedBy),
	))
	if err != nil {
		return Campaign{}, fmt.Errorf("insert campaign: %w", err)
	}
	return created, nil
}

func (s *Store) GetCampaign(ctx context.Context, campaignID string) (Campaign, error) {
	c, err := scanCampaign(s.DB.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, campaignID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Campaign{}, notFound("campaign", campaignID)
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (s *Store) ListCampaigns(ctx context.Context, tenantID, status string) ([]Campaign, error) {
	return s.queryCampaigns(ctx, `
    SELECT `+campaignColumns+`
    FROM campaigns
    WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
    ORDER BY start_date DESC, created_at DESC
  `, tenantID, status)
}

func (s *Store) ListActiveCampaigns(ctx context.Context) ([]Campaign, error) {
	return s.queryCampaigns(ctx, `
    SELECT `+campaignColumns+`
    FROM campaigns
    WHERE status = $1
    ORDER BY created_at
  `, CampaignStatusActive)
}

func (s *Store) queryCampaigns(ctx context.Context, sql string, args ...any) ([]Campaign, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCampaignWeights(ctx context.Context, campaignID string, w Weights) (Campaign, error) {
	updated, err := scanCampaign(s.DB.QueryRow(ctx, `
    UPDATE campaigns
    SET weight_self = $2, weight_supervisor = $3, weight_peer = $4, weight_subordinate = $5, updated_at = now()
    WHERE id = $1
      AND NOT EXISTS (
        SELECT 1 FROM responses r
        JOIN assignments a ON a.id = r.assignment_id
        WHERE a.campaign_id = $1
      )
    RETURNING `+campaignColumns,
		campaignID, w.Self, w.Supervisor, w.Peer, w.Subordinate,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetCampaign(ctx, campaignID); getErr != nil {
			return Campaign{}, getErr
		}
		return Campaign{}, &CampaignLockedError{CampaignID: campaignID}
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("update campaign weights: %w", err)
	}
	return updated, nil
}

func (s *Store) UpdateCampaignStatus(ctx context.Context, campaignID, fromStatus, toStatus string) (Campaign, error) {
	updated, err := scanCampaign(s.DB.QueryRow(ctx, `
    UPDATE campaigns
    SET status = $3, updated_at = now()
    WHERE id = $1 AND status = $2
    RETURNING `+campaignColumns,
		campaignID, fromStatus, toStatus,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetCampaign(ctx, campaignID)
		if getErr != nil {
			return Campaign{}, getErr
		}
		return Campaign{}, &StateError{Op: "change campaign status", Reason: "campaign is " + current.Status + ", not " + fromStatus}
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("update campaign status: %w", err)
	}
	return updated, nil
}

func (s *Store) CancelCampaign(ctx context.Context, campaignID string) (Campaign, int, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Campaign{}, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cancelled, err := scanCampaign(tx.QueryRow(ctx, `
    UPDATE campaigns
    SET status = $2, updated_at = now()
    WHERE id = $1 AND status IN ($3, $4)
    RETURNING `+campaignColumns,
		campaignID, CampaignStatusCancelled, CampaignStatusDraft, CampaignStatusActive,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Campaign{}, 0, &StateError{Op: "cancel", Reason: "campaign is not draft or active"}
	}
	if err != nil {
		return Campaign{}, 0, fmt.Errorf("cancel campaign: %w", err)
	}

	tag, err := tx.Exec(ctx, `
    UPDATE assignments
    SET status = $2
    WHERE campaign_id = $1 AND status <> $2
  `, campaignID, AssignmentStatusCancelled)
	if err != nil {
		return Campaign{}, 0, fmt.Errorf("cancel assignments: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Campaign{}, 0, err
	}
	return cancelled, int(tag.RowsAffected()), nil
}

func (s *Store) HasResponses(ctx context.Context, campaignID string) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx, `
    SELECT EXISTS (
      SELECT 1 FROM responses r
      JOIN assignments a ON a.id = r.assignment_id
      WHERE a.campaign_id = $1
    )
  `, campaignID).Scan(&exists)
	return exists, err
}

func (s *Store) AttachQuestions(ctx context.Context, campaignID string, questionIDs []string) (int, error) {
	tag, err := s.DB.Exec(ctx, `
    INSERT INTO campaign_questions (campaign_id, question_id, sort_order)
    SELECT $1, q.id::uuid, q.ord
    FROM unnest($2::text[]) WITH ORDINALITY AS q(id, ord)
    ON CONFLICT (campaign_id, question_id) DO NOTHING
  `, campaignID, questionIDs)
	if err != nil {
		return 0, fmt.Errorf("attach questions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) QuestionsFor(ctx context.Context, campaignID string) ([]Question, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+questionColumns+`
    FROM campaign_questions cq
    JOIN questions q ON q.id = cq.question_id
    JOIN question_categories c ON c.id = q.category_id
    WHERE cq.campaign_id = $1
    ORDER BY c.sort_order, c.name, cq.sort_order, q.sort_order, q.id
  `, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) GetQuestion(ctx context.Context, questionID string) (Question, error) {
	q, err := scanQuestion(s.DB.QueryRow(ctx, `
    SELECT `+questionColumns+`
    FROM questions q
    JOIN question_categories c ON c.id = q.category_id
    WHERE q.id = $1 AND q.is_active
  `, questionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Question{}, notFound("question", questionID)
	}
	if err != nil {
		return Question{}, fmt.Errorf("get question: %w", err)
	}
	return q, nil
}

// InsertAssignments upserts on (campaign, evaluator, evaluatee) and returns how many rows were new.
func (s *Store) InsertAssignments(ctx context.Context, campaignID string, specs []AssignmentSpec) (int, error) {
	if len(specs) == 0 {
		return 0, nil
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created := 0
	for _, spec := range specs {
		tag, err := tx.Exec(ctx, `
      INSERT INTO assignments (campaign_id, evaluator_id, evaluatee_id, relationship, status)
      VALUES ($1,$2,$3,$4,$5)
      ON CONFLICT (campaign_id, evaluator_id, evaluatee_id) DO NOTHING
    `, campaignID, spec.EvaluatorID, spec.EvaluateeID, spec.Relationship, AssignmentStatusPending)
		if err != nil {
			return 0, err
		}
		created += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return created, nil
}

const assignmentColumns = `a.id, a.campaign_id, a.evaluator_id, a.evaluatee_id, a.relationship, a.status, a.completed_at, a.created_at`

func scanAssignment(row pgx.Row, extra ...any) (Assignment, error) {
	var a Assignment
	dest := append([]any{&a.ID, &a.CampaignID, &a.EvaluatorID, &a.EvaluateeID, &a.Relationship, &a.Status, &a.CompletedAt, &a.CreatedAt}, extra...)
	err := row.Scan(dest...)
	return a, err
}

func (s *Store) GetAssignment(ctx context.Context, assignmentID string) (Assignment, error) {
	a, err := scanAssignment(s.DB.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments a WHERE a.id = $1`, assignmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, notFound("assignment", assignmentID)
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

func (s *Store) ListAssignmentsForEvaluator(ctx context.Context, campaignID, evaluatorID string) ([]AssignmentProgress, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+assignmentColumns+`,
      (SELECT COUNT(1) FROM responses r WHERE r.assignment_id = a.id),
      (SELECT COUNT(1) FROM campaign_questions cq WHERE cq.campaign_id = a.campaign_id)
    FROM assignments a
    WHERE a.campaign_id = $1 AND a.evaluator_id = $2
    ORDER BY a.created_at, a.id
  `, campaignID, evaluatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AssignmentProgress
	for rows.Next() {
		var p AssignmentProgress
		a, err := scanAssignment(rows, &p.Answered, &p.Questions)
		if err != nil {
			return nil, err
		}
		p.Assignment = a
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListAssignmentsForEvaluatee(ctx context.Context, campaignID, evaluateeID string) ([]Assignment, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+assignmentColumns+`
    FROM assignments a
    WHERE a.campaign_id = $1 AND a.evaluatee_id = $2
    ORDER BY a.relationship, a.evaluator_id
  `, campaignID, evaluateeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AssignmentCounts ignores cancelled assignments.
func (s *Store) AssignmentCounts(ctx context.Context, campaignID, evaluateeID string) (int, int, error) {
	var total, completed int
	err := s.DB.QueryRow(ctx, `
    SELECT
      COUNT(1) FILTER (WHERE status <> $3),
      COUNT(1) FILTER (WHERE status = $4)
    FROM assignments
    WHERE campaign_id = $1 AND evaluatee_id = $2
  `, campaignID, evaluateeID, AssignmentStatusCancelled, AssignmentStatusCompleted).Scan(&total, &completed)
	return total, completed, err
}

func (s *Store) ListEvaluatees(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT DISTINCT evaluatee_id::text
    FROM assignments
    WHERE campaign_id = $1 AND status <> $2
    ORDER BY 1
  `, campaignID, AssignmentStatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) SaveResponse(ctx context.Context, w ResponseWrite, at time.Time) (Response, bool, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Response{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// concurrent answers to one assignment must see each other before the completion check
	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM assignments WHERE id = $1 FOR UPDATE`, w.AssignmentID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Response{}, false, notFound("assignment", w.AssignmentID)
		}
		return Response{}, false, err
	}

	resp := Response{
		AssignmentID:  w.AssignmentID,
		QuestionID:    w.QuestionID,
		Score:         w.Score,
		TextAnswer:    w.TextAnswer,
		BooleanAnswer: w.BooleanAnswer,
	}
	if err := tx.QueryRow(ctx, `
    INSERT INTO responses (assignment_id, question_id, score, text_answer, boolean_answer, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$6)
    ON CONFLICT (assignment_id, question_id) DO UPDATE
    SET score = EXCLUDED.score,
        text_answer = EXCLUDED.text_answer,
        boolean_answer = EXCLUDED.boolean_answer,
        updated_at = EXCLUDED.updated_at
    RETURNING id, created_at, updated_at
  `, w.AssignmentID, w.QuestionID, nullDecimalArg(w.Score), w.TextAnswer, w.BooleanAnswer, at).Scan(&resp.ID, &resp.CreatedAt, &resp.UpdatedAt); err != nil {
		return Response{}, false, fmt.Errorf("upsert response: %w", err)
	}

	tag, err := tx.Exec(ctx, `
    UPDATE assignments a
    SET status = $3, completed_at = $4
    WHERE a.id = $1 AND a.status = $2
      AND NOT EXISTS (
        SELECT 1
        FROM campaign_questions cq
        JOIN questions q ON q.id = cq.question_id
        WHERE cq.campaign_id = a.campaign_id
          AND q.is_required
          AND NOT EXISTS (
            SELECT 1 FROM responses r
            WHERE r.assignment_id = a.id
              AND r.question_id = q.id
              AND (r.score IS NOT NULL OR r.boolean_answer IS NOT NULL OR btrim(COALESCE(r.text_answer, '')) <> '')
          )
      )
  `, w.AssignmentID, AssignmentStatusPending, AssignmentStatusCompleted, at)
	if err != nil {
		return Response{}, false, fmt.Errorf("complete assignment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Response{}, false, err
	}
	return resp, tag.RowsAffected() == 1, nil
}

func (s *Store) ScoreRows(ctx context.Context, campaignID, evaluateeID string) ([]ScoreRow, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT a.relationship, a.evaluator_id::text, q.id::text, c.id::text, c.name, r.score
    FROM responses r
    JOIN assignments a ON a.id = r.assignment_id
    JOIN questions q ON q.id = r.question_id
    JOIN question_categories c ON c.id = q.category_id
    JOIN campaign_questions cq ON cq.campaign_id = a.campaign_id AND cq.question_id = q.id
    WHERE a.campaign_id = $1
      AND a.evaluatee_id = $2
      AND a.status = $3
      AND q.question_type = $4
      AND r.score IS NOT NULL
    ORDER BY a.relationship, a.evaluator_id, q.id
  `, campaignID, evaluateeID, AssignmentStatusCompleted, QuestionTypeScale)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoreRow
	for rows.Next() {
		var row ScoreRow
		var score pgtype.Numeric
		if err := rows.Scan(&row.Relationship, &row.EvaluatorID, &row.QuestionID, &row.CategoryID, &row.CategoryName, &score); err != nil {
			return nil, err
		}
		row.Score = numericValue(score)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) GetResult(ctx context.Context, resultID string) (Result, error) {
	r, err := scanResult(s.DB.QueryRow(ctx, `SELECT `+resultColumns+` FROM evaluation_results WHERE id = $1`, resultID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Result{}, notFound("result", resultID)
	}
	if err != nil {
		return Result{}, fmt.Errorf("get result: %w", err)
	}
	return r, nil
}

func (s *Store) FindResult(ctx context.Context, campaignID, evaluateeID string) (Result, bool, error) {
	r, err := scanResult(s.DB.QueryRow(ctx, `
    SELECT `+resultColumns+`
    FROM evaluation_results
    WHERE campaign_id = $1 AND evaluatee_id = $2
  `, campaignID, evaluateeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("find result: %w", err)
	}
	return r, true, nil
}

func (s *Store) ListResults(ctx context.Context, campaignID string) ([]Result, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+resultColumns+`
    FROM evaluation_results
    WHERE campaign_id = $1
    ORDER BY overall_score DESC NULLS LAST, evaluatee_id
  `, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveComputation keeps a manual override of the overall score in place; only the
// relationship means and participation figures follow the responses.
func (s *Store) SaveComputation(ctx context.Context, campaignID, evaluateeID string, c Computation, at time.Time) (Result, error) {
	r, err := scanResult(s.DB.QueryRow(ctx, `
    INSERT INTO evaluation_results (campaign_id, evaluatee_id,
      overall_score, self_score, supervisor_score, peer_score, subordinate_score,
      total_assignments, completed_assignments, completion_rate, calculated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    ON CONFLICT (campaign_id, evaluatee_id) DO UPDATE
    SET overall_score = CASE WHEN evaluation_results.adjusted_by IS NULL
                             THEN EXCLUDED.overall_score
                             ELSE evaluation_results.overall_score END,
        self_score = EXCLUDED.self_score,
        supervisor_score = EXCLUDED.supervisor_score,
        peer_score = EXCLUDED.peer_score,
        subordinate_score = EXCLUDED.subordinate_score,
        total_assignments = EXCLUDED.total_assignments,
        completed_assignments = EXCLUDED.completed_assignments,
        completion_rate = EXCLUDED.completion_rate,
        calculated_at = EXCLUDED.calculated_at,
        version = evaluation_results.version + 1
    WHERE NOT evaluation_results.is_finalized
    RETURNING `+resultColumns,
		campaignID, evaluateeID,
		nullDecimalArg(c.Overall),
		nullDecimalArg(c.ByRelationship[RelationshipSelf]),
		nullDecimalArg(c.ByRelationship[RelationshipSupervisor]),
		nullDecimalArg(c.ByRelationship[RelationshipPeer]),
		nullDecimalArg(c.ByRelationship[RelationshipSubordinate]),
		c.TotalAssignments, c.CompletedAssignments, c.CompletionRate, at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Result{}, ErrResultLocked
	}
	if err != nil {
		return Result{}, fmt.Errorf("save result: %w", err)
	}
	return r, nil
}

func (s *Store) ApplyAdjustment(ctx context.Context, resultID string, expectedVersion int, newScore decimal.Decimal, reason, actorID string, at time.Time) (Result, AdjustmentRecord, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Result{}, AdjustmentRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var previous pgtype.Numeric
	var finalized bool
	var version int
	err = tx.QueryRow(ctx, `
    SELECT overall_score, is_finalized, version
    FROM evaluation_results
    WHERE id = $1
    FOR UPDATE
  `, resultID).Scan(&previous, &finalized, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Result{}, AdjustmentRecord{}, notFound("result", resultID)
	}
	if err != nil {
		return Result{}, AdjustmentRecord{}, err
	}
	if finalized {
		return Result{}, AdjustmentRecord{}, ErrAdjustFinalized
	}
	if version != expectedVersion {
		return Result{}, AdjustmentRecord{}, ErrVersionConflict
	}

	updated, err := scanResult(tx.QueryRow(ctx, `
    UPDATE evaluation_results
    SET overall_score = $2, adjustment_reason = $3, adjusted_by = $4, version = version + 1
    WHERE id = $1
    RETURNING `+resultColumns,
		resultID, newScore, reason, actorID,
	))
	if err != nil {
		return Result{}, AdjustmentRecord{}, fmt.Errorf("adjust result: %w", err)
	}

	record := AdjustmentRecord{
		ResultID:      resultID,
		PreviousScore: numericNull(previous),
		NewScore:      newScore,
		Reason:        reason,
		ActorID:       actorID,
	}
	if err := tx.QueryRow(ctx, `
    INSERT INTO adjustment_records (result_id, previous_score, new_score, reason, actor_id, created_at)
    VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id, created_at
  `, resultID, nullDecimalArg(record.PreviousScore), newScore, reason, actorID, at).Scan(&record.ID, &record.CreatedAt); err != nil {
		return Result{}, AdjustmentRecord{}, fmt.Errorf("insert adjustment record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, AdjustmentRecord{}, err
	}
	return updated, record, nil
}

func (s *Store) MarkFinalized(ctx context.Context, resultID string, expectedVersion int, actorID string, at time.Time) (Result, error) {
	r, err := scanResult(s.DB.QueryRow(ctx, `
    UPDATE evaluation_results
    SET is_finalized = true, finalized_at = $3, finalized_by = $4, version = version + 1
    WHERE id = $1 AND version = $2 AND NOT is_finalized
    RETURNING `+resultColumns,
		resultID, expectedVersion, at, actorID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetResult(ctx, resultID)
		if getErr != nil {
			return Result{}, getErr
		}
		if current.IsFinalized {
			return Result{}, ErrAlreadyFinalized
		}
		return Result{}, ErrVersionConflict
	}
	if err != nil {
		return Result{}, fmt.Errorf("finalize result: %w", err)
	}
	return r, nil
}

func (s *Store) ListAdjustments(ctx context.Context, resultID string) ([]AdjustmentRecord, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, result_id, previous_score, new_score, reason, actor_id::text, created_at
    FROM adjustment_records
    WHERE result_id = $1
    ORDER BY created_at, id
  `, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AdjustmentRecord
	for rows.Next() {
		var rec AdjustmentRecord
		var previous, next pgtype.Numeric
		if err := rows.Scan(&rec.ID, &rec.ResultID, &previous, &next, &rec.Reason, &rec.ActorID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.PreviousScore = numericNull(previous)
		rec.NewScore = numericValue(next)
		out = append(out, rec)
	}
	return out, rows.Err()
}
