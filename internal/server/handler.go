package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/alert"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/apperror"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/tracker"
)

type handler struct {
	deps Deps
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Registry.Sources())
}

type startTrackingBody struct {
	OrgID     string               `json:"orgId"`
	YourPrice *float64             `json:"yourPrice,omitempty"`
	Targets   []tracker.TargetSpec `json:"targets"`
}

type startTrackingResponse struct {
	JobIDs []string `json:"jobIds"`
}

func (h *handler) startTracking(w http.ResponseWriter, r *http.Request) {
	var body startTrackingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := tracker.StartTrackingRequest{
		OrgID:     body.OrgID,
		ProductID: chi.URLParam(r, "id"),
		YourPrice: body.YourPrice,
		Targets:   body.Targets,
	}

	jobIDs, err := h.deps.Scheduler.StartTracking(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, startTrackingResponse{JobIDs: jobIDs})
}

func (h *handler) stopTracking(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Scheduler.StopTracking(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	req := tracker.ListJobsRequest{
		ProductID: r.URL.Query().Get("productId"),
		OrgID:     r.URL.Query().Get("orgId"),
	}
	writeJSON(w, http.StatusOK, h.deps.Scheduler.Jobs(req))
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.deps.Scheduler.Job(chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *handler) rearmJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Scheduler.Rearm(id); err != nil {
		writeAppError(w, err)
		return
	}
	j, err := h.deps.Scheduler.Job(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type alertRuleBody struct {
	MinChangePercent float64 `json:"minChangePercent"`
	MediumPercent    float64 `json:"mediumPercent"`
	HighPercent      float64 `json:"highPercent"`
	Frequency        string  `json:"frequency"`
}

func (h *handler) putAlertRule(w http.ResponseWriter, r *http.Request) {
	var body alertRuleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.MinChangePercent < 0 || body.MediumPercent < 0 || body.HighPercent < 0 {
		writeError(w, http.StatusBadRequest, "thresholds must be non-negative")
		return
	}

	productID := chi.URLParam(r, "id")
	rule := alert.Rule{
		ID:        uuid.NewString(),
		ProductID: productID,
		Thresholds: alert.Thresholds{
			MinChangePercent: body.MinChangePercent,
			MediumPercent:    body.MediumPercent,
			HighPercent:      body.HighPercent,
		},
		Frequency: alert.ParseFrequency(body.Frequency),
	}
	h.deps.Rules.Set(productID, rule)

	writeJSON(w, http.StatusOK, h.deps.Rules.For(productID))
}

func (h *handler) listObservations(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid days parameter")
			return
		}
		days = n
	}

	observations, err := h.deps.Observations.History(r.Context(), chi.URLParam(r, "id"), days)
	if err != nil {
		writeAppError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeCSV(w, observations)
		return
	}
	writeJSON(w, http.StatusOK, observations)
}

func (h *handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = n
	}

	alerts, err := h.deps.Alerts.ListByProduct(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *handler) getInsights(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	var yourPrice *float64
	if v := r.URL.Query().Get("yourPrice"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil || p <= 0 {
			writeError(w, http.StatusBadRequest, "yourPrice must be a positive number")
			return
		}
		yourPrice = &p
	} else {
		// Fall back to the reference price registered with the product's
		// tracking targets, if any.
		for _, j := range h.deps.Scheduler.Jobs(tracker.ListJobsRequest{ProductID: productID}) {
			if j.Target.YourPrice != nil {
				yourPrice = j.Target.YourPrice
				break
			}
		}
	}

	report, err := h.deps.Pipeline.Insights(r.Context(), productID, yourPrice)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeAppError(w http.ResponseWriter, err error) {
	var ae *apperror.AppError
	if errors.As(err, &ae) {
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
