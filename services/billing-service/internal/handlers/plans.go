package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/plans"
)

type createPlanRequest struct {
	Name                 string  `json:"name" validate:"required,min=3,max=60"`
	TrialDays            int     `json:"trial_days" validate:"gte=0"`
	IsTrial              bool    `json:"is_trial"`
	Amount               float64 `json:"amount" validate:"gt=0"`
	Currency             string  `json:"currency" validate:"omitempty,len=3,alpha"`
	Type                 string  `json:"type" validate:"required,oneof=day week month year"`
	UserCount            int     `json:"user_count" validate:"gte=0"`
	ChatInference        string  `json:"chat_inference" validate:"required"`
	ImageGeneration      int     `json:"image_generation" validate:"gte=0"`
	VideoSummarization   string  `json:"youtube_video_summarization" validate:"required"`
	StockInsights        bool    `json:"financial_data_insight_for_stocks"`
	NewsAggregatorPerDay int     `json:"news_aggregator_per_day" validate:"gte=0"`
}

func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	plan, err := h.catalog.CreatePlan(r.Context(), plans.Params{
		Name:      strings.TrimSpace(req.Name),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Interval:  req.Type,
		TrialDays: req.TrialDays,
		IsTrial:   req.IsTrial,
		Features: model.Features{
			UserCount:            req.UserCount,
			ChatInference:        req.ChatInference,
			ImageGeneration:      req.ImageGeneration,
			VideoSummarization:   req.VideoSummarization,
			StockInsights:        req.StockInsights,
			NewsAggregatorPerDay: req.NewsAggregatorPerDay,
		},
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "Subscription plan created", plan)
}

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	all, err := h.catalog.ListPlans(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Subscription plans fetched", all)
}
