// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/handler"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

// BatchRunner runs one budgeted batch invocation.
type BatchRunner interface {
	Run(ctx context.Context, campaignID string) (*service.BatchResult, error)
}

type CampaignController struct {
	CampaignService *service.CampaignService
	Processor       BatchRunner
	Log             zerolog.Logger
}

type campaignSummary struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	TotalRecipients int    `json:"total_recipients"`
	SentCount       int    `json:"sent_count"`
	FailedCount     int    `json:"failed_count"`
}

// CreateCampaign handles POST /create-campaign.
func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Subject         string   `json:"subject"`
		HTMLContent     string   `json:"htmlContent"`
		ExcludeProUsers bool     `json:"excludeProUsers"`
		ExcludedEmails  []string `json:"excludedEmails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.Error(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(body.Subject) == "" || strings.TrimSpace(body.HTMLContent) == "" {
		handler.Error(w, http.StatusBadRequest, "subject and htmlContent are required")
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), service.CreateCampaignInput{
		Subject:            body.Subject,
		Body:               body.HTMLContent,
		CreatedBy:          handler.OperatorFrom(r.Context()),
		ExcludeSubscribers: body.ExcludeProUsers,
		ExcludedEmails:     body.ExcludedEmails,
	})
	switch {
	case errors.Is(err, appErrors.ErrNoEligibleRecipients):
		handler.Error(w, http.StatusBadRequest, appErrors.ErrNoEligibleRecipients.Error())
		return
	case errors.Is(err, appErrors.ErrInvalidInput):
		handler.Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		c.Log.Error().Err(err).Msg("create campaign")
		handler.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	handler.JSON(w, http.StatusOK, map[string]any{
		"campaign": campaignSummary{
			ID:              campaign.ID,
			Status:          campaign.Status,
			TotalRecipients: campaign.TotalRecipients,
			SentCount:       campaign.SentCount,
			FailedCount:     campaign.FailedCount,
		},
	})
}

// ProcessCampaignQueue handles POST /process-campaign-queue. The batch runs
// to completion even if the caller disconnects.
func (c *CampaignController) ProcessCampaignQueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CampaignID string `json:"campaignId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.CampaignID) == "" {
		handler.Error(w, http.StatusBadRequest, "campaignId is required")
		return
	}

	result, err := c.Processor.Run(context.WithoutCancel(r.Context()), body.CampaignID)
	if appErrors.IsCampaignNotFound(err) {
		handler.Error(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		c.Log.Error().Err(err).Str("campaign_id", body.CampaignID).Msg("process batch")
		handler.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	handler.JSON(w, http.StatusOK, result)
}
