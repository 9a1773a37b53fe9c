package evaluationhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"q360/internal/domain/audit"
	"q360/internal/domain/auth"
	"q360/internal/domain/evaluation"
	"q360/internal/platform/logger"
	"q360/internal/transport/http/api"
	"q360/internal/transport/http/middleware"
	"q360/internal/transport/http/shared"
)

// JobRunner records long-running calibration work as job runs.
type JobRunner interface {
	RunNow(ctx context.Context, jobType, tenantID string, run func(context.Context) (any, error)) (any, error)
}

// EvaluationService is the part of evaluation.Service the HTTP surface calls.
type EvaluationService interface {
	ListCampaigns(ctx context.Context, actor evaluation.Actor, status string) ([]evaluation.Campaign, error)
	CreateCampaign(ctx context.Context, actor evaluation.Actor, in evaluation.CampaignInput) (evaluation.Campaign, error)
	GetCampaign(ctx context.Context, actor evaluation.Actor, campaignID string) (evaluation.Campaign, error)
	UpdateCampaignWeights(ctx context.Context, actor evaluation.Actor, campaignID string, w evaluation.Weights) (evaluation.Campaign, error)
	Questions(ctx context.Context, actor evaluation.Actor, campaignID string) ([]evaluation.Question, error)
	AttachQuestions(ctx context.Context, actor evaluation.Actor, campaignID string, questionIDs []string) ([]evaluation.Question, error)
	MaterializeAssignments(ctx context.Context, actor evaluation.Actor, campaignID string, evaluateeIDs []string) (evaluation.MaterializeReport, error)
	ListMyAssignments(ctx context.Context, actor evaluation.Actor, campaignID string) ([]evaluation.AssignmentProgress, error)
	ActivateCampaign(ctx context.Context, actor evaluation.Actor, campaignID string) (evaluation.Campaign, evaluation.MaterializeReport, error)
	CloseCampaign(ctx context.Context, actor evaluation.Actor, campaignID string) (evaluation.Campaign, error)
	CancelCampaign(ctx context.Context, actor evaluation.Actor, campaignID string) (evaluation.Campaign, int, error)
	SubmitResponse(ctx context.Context, in evaluation.SubmitInput) (evaluation.Response, error)
	Recalculate(ctx context.Context, campaignID, evaluateeID string) (evaluation.Result, error)
	RecalculateCampaign(ctx context.Context, campaignID string) (evaluation.RecalculateReport, error)
	BulkFinalize(ctx context.Context, actor evaluation.Actor, campaignID string) (evaluation.BulkFinalizeReport, error)
	ListResults(ctx context.Context, actor evaluation.Actor, campaignID string) ([]evaluation.Result, error)
	ScoreDistributionFor(ctx context.Context, actor evaluation.Actor, campaignID string) (evaluation.Distribution, error)
	CalibrationOverview(ctx context.Context, actor evaluation.Actor, campaignID string) (evaluation.CalibrationOverview, error)
	GetResult(ctx context.Context, actor evaluation.Actor, resultID string) (evaluation.Result, error)
	ResultBreakdown(ctx context.Context, actor evaluation.Actor, resultID string) (evaluation.Breakdown, error)
	ListAdjustments(ctx context.Context, actor evaluation.Actor, resultID string) ([]evaluation.AdjustmentRecord, error)
	Adjust(ctx context.Context, in evaluation.AdjustInput) (evaluation.Result, evaluation.AdjustmentRecord, error)
	Finalize(ctx context.Context, actor evaluation.Actor, resultID string) (evaluation.Result, error)
}

var _ EvaluationService = (*evaluation.Service)(nil)

type Handler struct {
	Service EvaluationService
	Perms   middleware.PermissionStore
	Audit   audit.Recorder
	Jobs    JobRunner
	Log     *logger.Logger
	Timeout time.Duration
}

func NewHandler(service EvaluationService, perms middleware.PermissionStore, auditSvc audit.Recorder, jobs JobRunner, log *logger.Logger, timeout time.Duration) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{Service: service, Perms: perms, Audit: auditSvc, Jobs: jobs, Log: log.With("handler", "evaluations"), Timeout: timeout}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/evaluations", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermResultsRead, h.Perms)).Get("/campaigns", h.handleListCampaigns)
		r.With(middleware.RequirePermission(auth.PermCampaignsManage, h.Perms)).Post("/campaigns", h.handleCreateCampaign)
		r.Route("/campaigns/{campaignID}", func(r chi.Router) {
			r.Use(h.requireUUIDParam("campaignID"))
			r.With(middleware.RequirePermission(auth.PermResultsRead, h.Perms)).Get("/", h.handleGetCampaign)
			r.With(middleware.RequirePermission(auth.PermCampaignsManage, h.Perms)).Put("/weights", h.handleUpdateWeights)
			r.With(middleware.RequirePermission(auth.PermEvaluationRespond, h.Perms)).Get("/questions", h.handleListQuestions)
			r.With(middleware.RequirePermission(auth.PermCampaignsManage, h.Perms)).Post("/questions", h.handleAttachQuestions)
			r.With(middleware.RequirePermission(auth.PermCampaignsManage, h.Perms)).Post("/assignments", h.handleMaterialize)
			r.With(middleware.RequirePermission(auth.PermEvaluationRespond, h.Perms)).Get("/assignments/mine", h.handleMyAssignments)
			r.With(middleware.RequirePermission(auth.PermCampaignsManage, h.Perms)).Post("/activate", h.handleActivate)
			r.With(middleware.RequirePermission(auth.PermCampaignsManage, h.Perms)).Post("/close", h.handleClose)
			r.With(middleware.RequirePermission(auth.PermCampaignsManage, h.Perms)).Post("/cancel", h.handleCancel)
			r.With(middleware.RequirePermission(auth.PermCampaignsManage, h.Perms)).Post("/recalculate", h.handleRecalculate)
			r.With(middleware.RequirePermission(auth.PermBulkFinalize, h.Perms)).Post("/finalize", h.handleBulkFinalize)
			r.With(middleware.RequirePermission(auth.PermCalibrationView, h.Perms)).Get("/results", h.handleListResults)
			r.With(middleware.RequirePermission(auth.PermCalibrationView, h.Perms)).Get("/distribution", h.handleDistribution)
			r.With(middleware.RequirePermission(auth.PermCalibrationView, h.Perms)).Get("/calibration", h.handleCalibrationOverview)
		})
		r.With(middleware.RequirePermission(auth.PermEvaluationRespond, h.Perms)).Post("/responses", h.handleSubmitResponse)
		r.Route("/results/{resultID}", func(r chi.Router) {
			r.Use(h.requireUUIDParam("resultID"))
			r.With(middleware.RequirePermission(auth.PermResultsRead, h.Perms)).Get("/", h.handleGetResult)
			r.With(middleware.RequirePermission(auth.PermResultsRead, h.Perms)).Get("/breakdown", h.handleBreakdown)
			r.With(middleware.RequirePermission(auth.PermCalibrationView, h.Perms)).Get("/adjustments", h.handleListAdjustments)
			r.With(middleware.RequirePermission(auth.PermCalibrationAdjust, h.Perms)).Post("/adjust", h.handleAdjust)
			r.With(middleware.RequirePermission(auth.PermCalibrationFinalize, h.Perms)).Post("/finalize", h.handleFinalize)
		})
	})
}

// requireUUIDParam answers 404 for path ids that can never match a row.
func (h *Handler) requireUUIDParam(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v := shared.NewValidator()
			v.UUID(name, chi.URLParam(r, name))
			if v.HasIssues() {
				api.Fail(w, http.StatusNotFound, "not_found", "resource not found", middleware.GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// begin resolves the caller and bounds the request context with the configured timeout.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request) (evaluation.Actor, context.Context, context.CancelFunc, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return evaluation.Actor{}, nil, nil, false
	}
	actor := evaluation.Actor{UserID: user.UserID, TenantID: user.TenantID, RoleName: user.RoleName}
	if h.Timeout <= 0 {
		ctx, cancel := context.WithCancel(r.Context())
		return actor, ctx, cancel, true
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	return actor, ctx, cancel, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Fail(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", middleware.GetRequestID(r.Context()))
			return false
		}
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}

func (h *Handler) record(ctx context.Context, actor evaluation.Actor, action, entityType, entityID string, before, after any) {
	if h.Audit == nil {
		return
	}
	err := h.Audit.Record(ctx, audit.Entry{
		TenantID:   actor.TenantID,
		ActorID:    actor.UserID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     before,
		After:      after,
	})
	if err != nil {
		h.Log.Warn("audit "+action+" failed", "entityId", entityID, "err", err)
	}
}

func (h *Handler) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	v := shared.NewValidator()
	v.OneOf("status", status, evaluation.CampaignStatuses)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	campaigns, err := h.Service.ListCampaigns(ctx, actor, status)
	if err != nil {
		writeError(w, r, h.Log, "campaign list", err)
		return
	}
	api.Success(w, campaigns, middleware.GetRequestID(r.Context()))
}

type campaignPayload struct {
	Title               string              `json:"title"`
	Description         string              `json:"description"`
	StartDate           string              `json:"startDate"`
	EndDate             string              `json:"endDate"`
	Weights             *evaluation.Weights `json:"weights"`
	AllowSelfEvaluation bool                `json:"allowSelfEvaluation"`
	IsAnonymous         bool                `json:"isAnonymous"`
}

func (h *Handler) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	var payload campaignPayload
	if !decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.Required("title", payload.Title, "is required")
	start, _ := v.Date("startDate", payload.StartDate)
	end, _ := v.Date("endDate", payload.EndDate)
	v.DateOrder("startDate", start, "endDate", end)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	campaign, err := h.Service.CreateCampaign(ctx, actor, evaluation.CampaignInput{
		Title:               payload.Title,
		Description:         payload.Description,
		StartDate:           start,
		EndDate:             end,
		Weights:             payload.Weights,
		AllowSelfEvaluation: payload.AllowSelfEvaluation,
		IsAnonymous:         payload.IsAnonymous,
	})
	if err != nil {
		writeError(w, r, h.Log, "campaign create", err)
		return
	}
	h.record(ctx, actor, audit.ActionCampaignCreate, audit.EntityCampaign, campaign.ID, nil, campaign)
	api.Created(w, campaign, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	campaign, err := h.Service.GetCampaign(ctx, actor, chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, r, h.Log, "campaign get", err)
		return
	}
	api.Success(w, campaign, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdateWeights(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	var payload evaluation.Weights
	if !decode(w, r, &payload) {
		return
	}
	campaignID := chi.URLParam(r, "campaignID")
	before, err := h.Service.GetCampaign(ctx, actor, campaignID)
	if err != nil {
		writeError(w, r, h.Log, "campaign weights", err)
		return
	}
	updated, err := h.Service.UpdateCampaignWeights(ctx, actor, campaignID, payload)
	if err != nil {
		writeError(w, r, h.Log, "campaign weights", err)
		return
	}
	h.record(ctx, actor, audit.ActionCampaignWeights, audit.EntityCampaign, campaignID, before.Weights, updated.Weights)
	api.Success(w, updated, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	questions, err := h.Service.Questions(ctx, actor, chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, r, h.Log, "question list", err)
		return
	}
	api.Success(w, questions, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAttachQuestions(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	var payload struct {
		QuestionIDs []string `json:"questionIds"`
	}
	if !decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.UUIDs("questionIds", payload.QuestionIDs)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	campaignID := chi.URLParam(r, "campaignID")
	questions, err := h.Service.AttachQuestions(ctx, actor, campaignID, payload.QuestionIDs)
	if err != nil {
		writeError(w, r, h.Log, "question attach", err)
		return
	}
	h.record(ctx, actor, audit.ActionQuestionsAttach, audit.EntityCampaign, campaignID, nil, payload)
	api.Success(w, questions, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	var payload struct {
		EvaluateeIDs []string `json:"evaluateeIds"`
	}
	if !decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.UUIDs("evaluateeIds", payload.EvaluateeIDs)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	campaignID := chi.URLParam(r, "campaignID")
	report, err := h.Service.MaterializeAssignments(ctx, actor, campaignID, payload.EvaluateeIDs)
	if err != nil {
		writeError(w, r, h.Log, "assignment materialize", err)
		return
	}
	h.record(ctx, actor, audit.ActionAssignments, audit.EntityCampaign, campaignID, nil, report)
	api.Success(w, report, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleMyAssignments(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	assignments, err := h.Service.ListMyAssignments(ctx, actor, chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, r, h.Log, "assignment list", err)
		return
	}
	api.Success(w, assignments, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	campaignID := chi.URLParam(r, "campaignID")
	campaign, report, err := h.Service.ActivateCampaign(ctx, actor, campaignID)
	if err != nil {
		writeError(w, r, h.Log, "campaign activate", err)
		return
	}
	h.record(ctx, actor, audit.ActionCampaignActivate, audit.EntityCampaign, campaignID, nil, report)
	api.Success(w, map[string]any{"campaign": campaign, "assignments": report}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	campaignID := chi.URLParam(r, "campaignID")
	campaign, err := h.Service.CloseCampaign(ctx, actor, campaignID)
	if err != nil {
		writeError(w, r, h.Log, "campaign close", err)
		return
	}
	h.record(ctx, actor, audit.ActionCampaignClose, audit.EntityCampaign, campaignID, nil, map[string]string{"status": campaign.Status})
	api.Success(w, campaign, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	campaignID := chi.URLParam(r, "campaignID")
	campaign, n, err := h.Service.CancelCampaign(ctx, actor, campaignID)
	if err != nil {
		writeError(w, r, h.Log, "campaign cancel", err)
		return
	}
	h.record(ctx, actor, audit.ActionCampaignCancel, audit.EntityCampaign, campaignID, nil, map[string]int{"assignmentsCancelled": n})
	api.Success(w, map[string]any{"campaign": campaign, "assignmentsCancelled": n}, middleware.GetRequestID(r.Context()))
}
