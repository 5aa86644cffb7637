// Package api exposes HTTP handlers for the tracker service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/timetracker/internal/auth"
	"example.com/timetracker/internal/domain"
	"example.com/timetracker/internal/localtime"
	"example.com/timetracker/internal/persistence"
)

// dateOnlyFormat is accepted for statistic bounds alongside the full civil format.
const dateOnlyFormat = "2006-01-02"

// Handler coordinates HTTP requests with the domain service. All timestamps
// on the wire are civil times in the configured zone.
type Handler struct {
	service  *domain.Service
	zone     localtime.Zone
	pageSize int
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, zone localtime.Zone, pageSize int) *Handler {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Handler{service: service, zone: zone, pageSize: pageSize}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/tracking/start", h.startTracking)
	mux.HandleFunc("/v1/tracking/stop", h.stopTracking)
	mux.HandleFunc("/v1/periods", h.listPeriods)
	mux.HandleFunc("/v1/periods/", h.periodByID)
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) startTracking(w http.ResponseWriter, r *http.Request) {
	claims, executorID, ok := h.requireExecutor(w, r, auth.ScopeTrackingWrite)
	if !ok {
		return
	}

	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.ExecutorID != 0 {
		executorID = req.ExecutorID
	}
	if req.ActivityID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "activity_id is required")
		return
	}

	period, err := h.service.StartTracking(r.Context(), claims.TenantID, req.ActivityID, executorID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toPeriodView(*period))
}

func (h *Handler) stopTracking(w http.ResponseWriter, r *http.Request) {
	claims, executorID, ok := h.requireExecutor(w, r, auth.ScopeTrackingWrite)
	if !ok {
		return
	}

	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.ExecutorID != 0 {
		executorID = req.ExecutorID
	}
	if req.ActivityID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "activity_id is required")
		return
	}

	periods, err := h.service.StopTracking(r.Context(), claims.TenantID, req.ActivityID, executorID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPeriodsResponse(periods, nil))
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.requireScope(w, r, auth.ScopeTrackingRead, auth.ScopeTrackingWrite)
	if !ok {
		return
	}

	filter := domain.StatisticFilter{}
	query := r.URL.Query()
	if raw := query.Get("activity_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid activity_id")
			return
		}
		filter.ActivityID = parsed
	}
	if raw := query.Get("executor_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid executor_id")
			return
		}
		filter.ExecutorID = parsed
	}

	var err error
	if filter.From, err = h.parseBound(query.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid from bound")
		return
	}
	if filter.To, err = h.parseBound(query.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid to bound")
		return
	}

	limit := h.pageSize
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= h.pageSize {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(query.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	periods, next, err := h.service.GetStatistic(r.Context(), claims.TenantID, filter, cursor, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPeriodsResponse(periods, next))
}

func (h *Handler) periodByID(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/v1/periods/")
	periodID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || periodID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing period id")
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.updatePeriod(w, r, periodID)
	case http.MethodDelete:
		h.deletePeriod(w, r, periodID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) updatePeriod(w http.ResponseWriter, r *http.Request, periodID int64) {
	claims, executorID, ok := h.requireExecutor(w, r, auth.ScopeTrackingWrite)
	if !ok {
		return
	}

	var req UpdatePeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	newStart, err := h.parseCivil(req.NewStartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid new_start_time")
		return
	}
	newStop, err := h.parseCivil(req.NewStopTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid new_stop_time")
		return
	}

	periods, err := h.service.UpdatePeriod(r.Context(), claims.TenantID, periodID, executorID, newStart, newStop)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPeriodsResponse(periods, nil))
}

func (h *Handler) deletePeriod(w http.ResponseWriter, r *http.Request, periodID int64) {
	claims, ok := h.requireScope(w, r, auth.ScopeTrackingWrite)
	if !ok {
		return
	}

	if err := h.service.DeletePeriod(r.Context(), claims.TenantID, periodID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeletePeriodResponse{Deleted: true})
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	claims, ownerID, ok := h.requireExecutor(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req CreateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "name is required")
		return
	}

	activity, err := h.service.CreateActivity(r.Context(), claims.TenantID, ownerID, strings.TrimSpace(req.Name))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActivityView(*activity))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	claims, ownerID, ok := h.requireExecutor(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	activities, err := h.service.ListActivities(r.Context(), claims.TenantID, ownerID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, activity := range activities {
		items = append(items, toActivityView(activity))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{Items: items})
}

// requireScope authenticates the request and checks that at least one of the
// scopes is present.
func (h *Handler) requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", fmt.Sprintf("scope %s required", scopes[0]))
	return nil, false
}

// requireExecutor additionally resolves the caller's numeric user ID from the
// token subject.
func (h *Handler) requireExecutor(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, int64, bool) {
	claims, ok := h.requireScope(w, r, scopes...)
	if !ok {
		return nil, 0, false
	}
	executorID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || executorID <= 0 {
		writeError(w, http.StatusUnauthorized, "unauthorized", "subject is not a user id")
		return nil, 0, false
	}
	return claims, executorID, true
}

func (h *Handler) parseCivil(value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	parsed, err := h.zone.ParseWire(strings.TrimSpace(*value))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseBound accepts either a full civil timestamp or a bare date.
func (h *Handler) parseBound(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if parsed, err := h.zone.ParseWire(value); err == nil {
		return &parsed, nil
	}
	parsed, err := time.ParseInLocation(dateOnlyFormat, value, h.zone.Location())
	if err != nil {
		return nil, err
	}
	utc := parsed.UTC()
	return &utc, nil
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAlreadyTracking):
		writeError(w, http.StatusConflict, "already_tracking", err.Error())
	case errors.Is(err, domain.ErrNoOpenPeriod):
		writeError(w, http.StatusConflict, "no_open_period", err.Error())
	case errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrActivityArchived):
		writeError(w, http.StatusConflict, "activity_archived", err.Error())
	case errors.Is(err, domain.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not_owner", err.Error())
	case errors.Is(err, domain.ErrPeriodNotFound), errors.Is(err, domain.ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, "invalid_interval", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// TrackRequest is the payload for POST /v1/tracking/{start,stop}. ExecutorID
// defaults to the authenticated user and may name a collaborator in shared
// projects.
type TrackRequest struct {
	ActivityID int64 `json:"activity_id"`
	ExecutorID int64 `json:"executor_id,omitempty"`
}

// UpdatePeriodRequest is the payload for PUT /v1/periods/{id}. Bounds are
// civil timestamps in the tracker zone.
type UpdatePeriodRequest struct {
	NewStartTime *string `json:"new_start_time,omitempty"`
	NewStopTime  *string `json:"new_stop_time,omitempty"`
}

// CreateActivityRequest is the payload for POST /v1/activities.
type CreateActivityRequest struct {
	Name string `json:"name"`
}

// PeriodView exposes one tracked period with civil-time bounds.
type PeriodView struct {
	PeriodID     int64  `json:"period_id"`
	ActivityID   int64  `json:"activity_id"`
	ExecutorID   int64  `json:"executor_id"`
	StartTime    string `json:"start_time"`
	StopTime     string `json:"stop_time,omitempty"`
	TotalSeconds *int64 `json:"total_seconds,omitempty"`
	TotalTime    string `json:"total_time,omitempty"`
	Tracking     bool   `json:"tracking"`
}

// PeriodsResponse packages one or more period records plus their summed total.
type PeriodsResponse struct {
	Items        []PeriodView `json:"items"`
	TotalSeconds int64        `json:"total_seconds"`
	NextCursor   string       `json:"next_cursor,omitempty"`
}

// DeletePeriodResponse acknowledges a period deletion.
type DeletePeriodResponse struct {
	Deleted bool `json:"deleted"`
}

// ActivityView exposes an activity and its tracking status.
type ActivityView struct {
	ActivityID int64  `json:"activity_id"`
	OwnerID    int64  `json:"owner_id"`
	Name       string `json:"name"`
	StatusID   int    `json:"status_id"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items []ActivityView `json:"items"`
}

func (h *Handler) toPeriodView(period domain.Period) PeriodView {
	view := PeriodView{
		PeriodID:   period.ID,
		ActivityID: period.ActivityID,
		ExecutorID: period.ExecutorID,
		StartTime:  h.zone.FormatWire(period.StartTime),
		Tracking:   period.Open(),
	}
	if period.StopTime != nil {
		view.StopTime = h.zone.FormatWire(*period.StopTime)
	}
	if period.TotalSeconds != nil {
		view.TotalSeconds = period.TotalSeconds
		view.TotalTime = formatTotal(*period.TotalSeconds)
	}
	return view
}

func (h *Handler) toPeriodsResponse(periods []domain.Period, next *domain.Cursor) PeriodsResponse {
	items := make([]PeriodView, 0, len(periods))
	for _, period := range periods {
		items = append(items, h.toPeriodView(period))
	}
	return PeriodsResponse{
		Items:        items,
		TotalSeconds: domain.SumSeconds(periods),
		NextCursor:   persistence.EncodeCursor(next),
	}
}

func toActivityView(activity domain.Activity) ActivityView {
	return ActivityView{
		ActivityID: activity.ID,
		OwnerID:    activity.OwnerID,
		Name:       activity.Name,
		StatusID:   int(activity.Status),
	}
}

// formatTotal renders a second count as HH:MM:SS.
func formatTotal(seconds int64) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
