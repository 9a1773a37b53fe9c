package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"q360/internal/domain/evaluation"
	"q360/internal/platform/config"
	"q360/internal/platform/logger"
)

const (
	JobRecalculate  = "evaluation_recalculate"
	JobBulkFinalize = "evaluation_bulk_finalize"
)

const (
	statusRunning   = "running"
	statusCompleted = "completed"
	statusFailed    = "failed"
)

// Recalculator is the slice of the evaluation service the scheduler drives.
type Recalculator interface {
	ListActiveCampaigns(ctx context.Context) ([]evaluation.Campaign, error)
	RecalculateCampaign(ctx context.Context, campaignID string) (evaluation.RecalculateReport, error)
}

// RunStore persists one row per job execution.
type RunStore interface {
	Begin(ctx context.Context, tenantID, jobType string) (string, error)
	Finish(ctx context.Context, runID, status string, details []byte) error
}

type Service struct {
	Runs        RunStore
	Evaluations Recalculator
	Interval    time.Duration
	Log         *logger.Logger
	queue       chan job
}

type job struct {
	Type     string
	TenantID string
	Run      func(context.Context) (any, error)
}

func New(db *pgxpool.Pool, cfg config.Config, evaluations Recalculator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		Runs:        &pgRunStore{DB: db},
		Evaluations: evaluations,
		Interval:    cfg.RecalcInterval,
		Log:         log.With("service", "jobs"),
		queue:       make(chan job, 128),
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
	if s.Interval > 0 && s.Evaluations != nil {
		go s.scheduleRecalculation(ctx, s.Interval)
	}
}

// Enqueue drops the job when the queue is full; the next tick schedules it again.
func (s *Service) Enqueue(jobType, tenantID string, run func(context.Context) (any, error)) bool {
	select {
	case s.queue <- job{Type: jobType, TenantID: tenantID, Run: run}:
		return true
	default:
		s.Log.Warn("job queue full", "jobType", jobType, "tenantId", tenantID)
		return false
	}
}

func (s *Service) RunNow(ctx context.Context, jobType, tenantID string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{Type: jobType, TenantID: tenantID, Run: run})
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				s.Log.Warn("job run failed", "jobType", j.Type, "tenantId", j.TenantID, "err", err)
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	runID, err := s.Runs.Begin(ctx, j.TenantID, j.Type)
	if err != nil {
		s.Log.Warn("job run insert failed", "jobType", j.Type, "err", err)
	}

	details, err := j.Run(ctx)
	status := statusCompleted
	if err != nil {
		status = statusFailed
	}
	detailsJSON, marshalErr := json.Marshal(details)
	if marshalErr != nil {
		s.Log.Warn("job details marshal failed", "jobType", j.Type, "err", marshalErr)
		detailsJSON = []byte("{}")
	}
	if runID != "" {
		if updErr := s.Runs.Finish(ctx, runID, status, detailsJSON); updErr != nil {
			s.Log.Warn("job run update failed", "runId", runID, "err", updErr)
		}
	}
	return details, err
}

func (s *Service) scheduleRecalculation(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.enqueueActiveCampaigns(ctx)
		}
	}
}

// enqueueActiveCampaigns queues one recalculation per active campaign and reports how many were queued.
func (s *Service) enqueueActiveCampaigns(ctx context.Context) int {
	campaigns, err := s.Evaluations.ListActiveCampaigns(ctx)
	if err != nil {
		s.Log.Warn("recalculation scheduler campaign lookup failed", "err", err)
		return 0
	}
	queued := 0
	for _, c := range campaigns {
		campaignID := c.ID
		if s.Enqueue(JobRecalculate, c.TenantID, func(ctx context.Context) (any, error) {
			return s.Evaluations.RecalculateCampaign(ctx, campaignID)
		}) {
			queued++
		}
	}
	return queued
}

type pgRunStore struct {
	DB *pgxpool.Pool
}

func (p *pgRunStore) Begin(ctx context.Context, tenantID, jobType string) (string, error) {
	var runID string
	err := p.DB.QueryRow(ctx, `
    INSERT INTO job_runs (tenant_id, job_type, status)
    VALUES ($1,$2,$3)
    RETURNING id
  `, nullIfEmpty(tenantID), jobType, statusRunning).Scan(&runID)
	return runID, err
}

func (p *pgRunStore) Finish(ctx context.Context, runID, status string, details []byte) error {
	_, err := p.DB.Exec(ctx, `
    UPDATE job_runs
    SET status = $1, details_json = $2, completed_at = now()
    WHERE id = $3
  `, status, details, runID)
	return err
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
