package handle

import (
	"context"
	"net/http"

	"leafscan/api/internal/auth"
	"leafscan/api/internal/compose"
	"leafscan/api/internal/provider/types"
)

const (
	identifyService = "Plant identification service"
	healthService   = "Plant health service"
)

type quotaResponse struct {
	Success   bool `json:"success"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

type identifyResponse struct {
	Success bool `json:"success"`
	types.IdentifyResult
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}

type healthResponse struct {
	Success   bool                    `json:"success"`
	IsHealthy *bool                   `json:"is_healthy"`
	Diagnoses []types.HealthDiagnosis `json:"diagnoses"`
	Remaining int                     `json:"remaining"`
	Limit     int                     `json:"limit"`
}

// QuotaStatus handles GET /api/identify.
func (h *Handle) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	st := h.comp.Quota(h.quotaToken(r))
	writeJSON(w, http.StatusOK, quotaResponse{Success: true, Remaining: st.Remaining, Limit: st.Limit})
}

// Identify handles POST /api/identify.
func (h *Handle) Identify(w http.ResponseWriter, r *http.Request) {
	token := h.quotaToken(r)
	st := h.comp.Quota(token)

	images, provider, err := h.readImages(w, r)
	if err != nil {
		writeError(w, r, err, identifyService, &st)
		return
	}
	if p := r.URL.Query().Get("provider"); p != "" {
		provider = p
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.RequestTimeout)
	defer cancel()

	resp, err := h.comp.Identify(ctx, compose.Request{
		Images:     images,
		QuotaToken: token,
		UserID:     auth.UserIDFromContext(r.Context()),
		Provider:   provider,
	})
	if err != nil {
		writeError(w, r, err, identifyService, &st)
		return
	}

	h.setQuotaCookie(w, resp.Quota.Token)
	writeJSON(w, http.StatusOK, identifyResponse{
		Success:        true,
		IdentifyResult: resp.Result,
		Remaining:      resp.Quota.Remaining,
		Limit:          resp.Quota.Limit,
	})
}

// Health handles POST /api/health.
func (h *Handle) Health(w http.ResponseWriter, r *http.Request) {
	token := h.quotaToken(r)
	st := h.comp.Quota(token)

	images, _, err := h.readImages(w, r)
	if err != nil {
		writeError(w, r, err, healthService, &st)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.RequestTimeout)
	defer cancel()

	resp, err := h.comp.Diagnose(ctx, compose.Request{Images: images, QuotaToken: token})
	if err != nil {
		writeError(w, r, err, healthService, &st)
		return
	}

	h.setQuotaCookie(w, resp.Quota.Token)
	diagnoses := resp.Assessment.Diagnoses
	if diagnoses == nil {
		diagnoses = []types.HealthDiagnosis{}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Success:   true,
		IsHealthy: resp.Assessment.IsHealthy,
		Diagnoses: diagnoses,
		Remaining: resp.Quota.Remaining,
		Limit:     resp.Quota.Limit,
	})
}
