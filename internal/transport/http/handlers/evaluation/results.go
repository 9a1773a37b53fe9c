package evaluationhandler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"q360/internal/domain/audit"
	"q360/internal/domain/evaluation"
	"q360/internal/platform/jobs"
	"q360/internal/transport/http/api"
	"q360/internal/transport/http/middleware"
	"q360/internal/transport/http/shared"
)

const (
	resultPageSize    = 200
	maxResultPageSize = 1000
)

func (h *Handler) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	var payload struct {
		AssignmentID string           `json:"assignmentId"`
		QuestionID   string           `json:"questionId"`
		Score        *decimal.Decimal `json:"score"`
		Text         *string          `json:"text"`
		Boolean      *bool            `json:"boolean"`
	}
	if !decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.UUID("assignmentId", payload.AssignmentID)
	v.UUID("questionId", payload.QuestionID)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	response, err := h.Service.SubmitResponse(ctx, evaluation.SubmitInput{
		AssignmentID: payload.AssignmentID,
		QuestionID:   payload.QuestionID,
		Score:        payload.Score,
		Text:         payload.Text,
		Boolean:      payload.Boolean,
		Actor:        actor,
	})
	if err != nil {
		writeError(w, r, h.Log, "response submit", err)
		return
	}
	api.Success(w, response, middleware.GetRequestID(r.Context()))
}

// handleRecalculate recomputes one evaluatee when evaluateeId is given, otherwise the whole campaign.
func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	campaignID := chi.URLParam(r, "campaignID")
	if _, err := h.Service.GetCampaign(ctx, actor, campaignID); err != nil {
		writeError(w, r, h.Log, "recalculate", err)
		return
	}

	evaluateeID := strings.TrimSpace(r.URL.Query().Get("evaluateeId"))
	if evaluateeID != "" {
		v := shared.NewValidator()
		v.UUID("evaluateeId", evaluateeID)
		if v.Reject(w, middleware.GetRequestID(r.Context())) {
			return
		}
		result, err := h.Service.Recalculate(ctx, campaignID, evaluateeID)
		if err != nil {
			writeError(w, r, h.Log, "recalculate", err)
			return
		}
		api.Success(w, result, middleware.GetRequestID(r.Context()))
		return
	}

	report, err := h.Service.RecalculateCampaign(ctx, campaignID)
	if err != nil {
		writeError(w, r, h.Log, "recalculate", err)
		return
	}
	h.record(ctx, actor, audit.ActionRecalculate, audit.EntityCampaign, campaignID, nil, map[string]int{
		"updated": report.Updated,
		"locked":  report.Locked,
		"failed":  report.Failed,
	})
	api.Success(w, report, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleBulkFinalize(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	campaignID := chi.URLParam(r, "campaignID")
	var report evaluation.BulkFinalizeReport
	run := func(ctx context.Context) (any, error) {
		var err error
		report, err = h.Service.BulkFinalize(ctx, actor, campaignID)
		return report, err
	}
	var err error
	if h.Jobs != nil {
		_, err = h.Jobs.RunNow(ctx, jobs.JobBulkFinalize, actor.TenantID, run)
	} else {
		_, err = run(ctx)
	}
	if err != nil {
		writeError(w, r, h.Log, "bulk finalize", err)
		return
	}
	h.record(ctx, actor, audit.ActionBulkFinalize, audit.EntityCampaign, campaignID, nil, map[string]int{
		"finalized": report.Finalized,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	})
	api.Success(w, report, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	v := shared.NewValidator()
	page := shared.ParsePagination(r, v, resultPageSize, maxResultPageSize)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	results, err := h.Service.ListResults(ctx, actor, chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, r, h.Log, "result list", err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(results)))
	api.Success(w, shared.Slice(results, page), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDistribution(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	distribution, err := h.Service.ScoreDistributionFor(ctx, actor, chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, r, h.Log, "distribution", err)
		return
	}
	api.Success(w, distribution, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCalibrationOverview(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	overview, err := h.Service.CalibrationOverview(ctx, actor, chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, r, h.Log, "calibration overview", err)
		return
	}
	api.Success(w, overview, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	result, err := h.Service.GetResult(ctx, actor, chi.URLParam(r, "resultID"))
	if err != nil {
		writeError(w, r, h.Log, "result get", err)
		return
	}
	api.Success(w, result, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	breakdown, err := h.Service.ResultBreakdown(ctx, actor, chi.URLParam(r, "resultID"))
	if err != nil {
		writeError(w, r, h.Log, "result breakdown", err)
		return
	}
	api.Success(w, breakdown, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	records, err := h.Service.ListAdjustments(ctx, actor, chi.URLParam(r, "resultID"))
	if err != nil {
		writeError(w, r, h.Log, "adjustment list", err)
		return
	}
	api.Success(w, records, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	var payload struct {
		NewScore *decimal.Decimal `json:"newScore"`
		Reason   string           `json:"reason"`
	}
	if !decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	newScore, _ := v.Score("newScore", payload.NewScore)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	resultID := chi.URLParam(r, "resultID")
	result, record, err := h.Service.Adjust(ctx, evaluation.AdjustInput{
		ResultID: resultID,
		NewScore: newScore,
		Reason:   payload.Reason,
		Actor:    actor,
	})
	if err != nil {
		writeError(w, r, h.Log, "adjust", err)
		return
	}
	h.record(ctx, actor, audit.ActionResultAdjust, audit.EntityResult, resultID,
		map[string]any{"overallScore": record.PreviousScore},
		map[string]any{"overallScore": record.NewScore, "adjustmentId": record.ID},
	)
	api.Success(w, map[string]any{"result": result, "adjustment": record}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	actor, ctx, cancel, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	resultID := chi.URLParam(r, "resultID")
	result, err := h.Service.Finalize(ctx, actor, resultID)
	if err != nil {
		writeError(w, r, h.Log, "finalize", err)
		return
	}
	h.record(ctx, actor, audit.ActionResultFinalize, audit.EntityResult, resultID, nil, map[string]any{"overallScore": result.OverallScore})
	api.Success(w, result, middleware.GetRequestID(r.Context()))
}
