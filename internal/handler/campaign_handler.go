// internal/handler/campaign_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

// CampaignHandler serves the read-only campaign views.
type CampaignHandler struct {
	Service *service.CampaignService
	Log     zerolog.Logger
}

// ListCampaignsHandler returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	page := 1
	pageSize := 20

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}

	status := r.URL.Query().Get("status")
	switch status {
	case "", model.CampaignQueued, model.CampaignProcessing, model.CampaignCompleted, model.CampaignFailed:
	default:
		Error(w, http.StatusBadRequest, "unknown status "+strconv.Quote(status))
		return
	}

	campaigns, pagination, err := h.Service.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		h.Log.Error().Err(err).Msg("list campaigns")
		Error(w, http.StatusInternalServerError, "failed to fetch campaigns")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

// GetCampaignHandler returns one campaign with its per-status row counts.
func (h *CampaignHandler) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), id)
	if appErrors.IsCampaignNotFound(err) {
		Error(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.Log.Error().Err(err).Str("campaign_id", id).Msg("get campaign")
		Error(w, http.StatusInternalServerError, "failed to fetch campaign")
		return
	}

	JSON(w, http.StatusOK, details)
}
