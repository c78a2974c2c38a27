package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-companion/internal/api/middleware"
	"github.com/dvloznov/finance-companion/internal/docstore"
	"github.com/dvloznov/finance-companion/internal/domain"
	"github.com/dvloznov/finance-companion/internal/jobs"
	"github.com/dvloznov/finance-companion/internal/notifications"
	"github.com/dvloznov/finance-companion/internal/scheduler"
)

// DataReader is the read side of the query client.
type DataReader interface {
	Transactions(ctx context.Context, id domain.Identity, start, end civil.Date) ([]domain.Transaction, error)
	Goals(ctx context.Context, id domain.Identity) ([]domain.Goal, error)
	Categories(ctx context.Context, id domain.Identity) ([]domain.Category, error)
}

// ScheduleController is the part of the scheduler the API drives.
type ScheduleController interface {
	Policy() scheduler.Policy
	Active() bool
	UpdateSchedule(ctx context.Context, p scheduler.Policy) error
	Check(ctx context.Context, id domain.Identity) ([]notifications.Notification, error)
}

// NotificationHistory is the audit log.
type NotificationHistory interface {
	RecentNotifications(ctx context.Context, userID string, limit int) ([]notifications.Notification, error)
}

// statusFor maps query client errors to HTTP statuses.
func statusFor(err error) int {
	var fetchErr *docstore.FetchError
	switch {
	case errors.Is(err, docstore.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, docstore.ErrAuthentication):
		return http.StatusBadGateway
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// DataHandler serves the user's transactions, goals and categories.
type DataHandler struct {
	repo DataReader
	id   domain.Identity
	now  func() time.Time
	log  zerolog.Logger
}

// NewDataHandler creates a new data handler for the daemon's user.
func NewDataHandler(repo DataReader, id domain.Identity, log zerolog.Logger) *DataHandler {
	return &DataHandler{
		repo: repo,
		id:   id,
		now:  time.Now,
		log:  log,
	}
}

// ListTransactions handles GET /api/transactions
func (h *DataHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Defaults to the current month
	today := civil.DateOf(h.now())
	startDate := civil.Date{Year: today.Year, Month: today.Month, Day: 1}
	endDate := startDate.AddMonths(1).AddDays(-1)

	query := r.URL.Query()
	var err error
	if s := query.Get("start_date"); s != "" {
		if startDate, err = civil.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid start_date format")
			return
		}
	}
	if s := query.Get("end_date"); s != "" {
		if endDate, err = civil.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid end_date format")
			return
		}
	}
	if endDate.Before(startDate) {
		middleware.WriteError(w, http.StatusBadRequest, "end_date is before start_date")
		return
	}

	transactions, err := h.repo.Transactions(ctx, h.id, startDate, endDate)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, statusFor(err), "Failed to query transactions")
		return
	}

	// Return array directly for frontend compatibility
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, transactions)
}

// ListGoals handles GET /api/goals
func (h *DataHandler) ListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := h.repo.Goals(r.Context(), h.id)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list goals")
		middleware.WriteError(w, statusFor(err), "Failed to list goals")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"goals": goals,
		"count": len(goals),
	})
}

// ListCategories handles GET /api/categories
func (h *DataHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.repo.Categories(r.Context(), h.id)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list categories")
		middleware.WriteError(w, statusFor(err), "Failed to list categories")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": categories,
		"count":      len(categories),
	})
}

// NotificationsHandler serves the notification feed and the schedule.
type NotificationsHandler struct {
	feed      *notifications.Feed
	scheduler ScheduleController
	history   NotificationHistory
	id        domain.Identity
	log       zerolog.Logger
}

// NewNotificationsHandler creates a new notifications handler. history may be nil.
func NewNotificationsHandler(feed *notifications.Feed, s ScheduleController, history NotificationHistory, id domain.Identity, log zerolog.Logger) *NotificationsHandler {
	return &NotificationsHandler{
		feed:      feed,
		scheduler: s,
		history:   history,
		id:        id,
		log:       log,
	}
}

// ListNotifications handles GET /api/notifications
func (h *NotificationsHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := h.feed.Items(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list notifications")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
		"badge": h.feed.Badge(),
	})
}

// ClearNotifications handles POST /api/notifications/clear
func (h *NotificationsHandler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := h.feed.Clear(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to clear notifications")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to clear notifications")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
		"badge": h.feed.Badge(),
	})
}

// CheckNow handles POST /api/notifications/check
func (h *NotificationsHandler) CheckNow(w http.ResponseWriter, r *http.Request) {
	ns, err := h.scheduler.Check(r.Context(), h.id)
	if err != nil {
		h.log.Error().Err(err).Msg("Check failed")
		middleware.WriteError(w, statusFor(err), "Check failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": ns,
		"count":         len(ns),
	})
}

// History handles GET /api/notifications/history
func (h *NotificationsHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		middleware.WriteError(w, http.StatusNotFound, "Notification history is not configured")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil {
			limit = v
		}
	}

	ns, err := h.history.RecentNotifications(r.Context(), h.id.UserID, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read notification history")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read notification history")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": ns,
		"count":         len(ns),
	})
}

type scheduleResponse struct {
	Policy    scheduler.Policy `json:"policy"`
	Active    bool             `json:"active"`
	Intervals []string         `json:"intervals"`
	Reminders []string         `json:"reminders"`
	Cap       int              `json:"cap"`
}

func (h *NotificationsHandler) scheduleState() scheduleResponse {
	p := h.scheduler.Policy()
	resp := scheduleResponse{Policy: p, Active: h.scheduler.Active(), Cap: p.Cap()}
	for _, d := range p.Intervals() {
		resp.Intervals = append(resp.Intervals, d.String())
	}
	for _, t := range p.ReminderTimes() {
		resp.Reminders = append(resp.Reminders, t.String())
	}
	return resp
}

// GetSchedule handles GET /api/schedule
func (h *NotificationsHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.scheduleState())
}

// UpdateSchedule handles PUT /api/schedule
func (h *NotificationsHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Periodicity string `json:"periodicity"`
		Intensity   string `json:"intensity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	current := h.scheduler.Policy()
	if req.Periodicity == "" {
		req.Periodicity = string(current.Periodicity)
	}
	if req.Intensity == "" {
		req.Intensity = string(current.Intensity)
	}
	policy, err := scheduler.ParsePolicy(req.Periodicity, req.Intensity)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.scheduler.UpdateSchedule(r.Context(), policy); err != nil {
		h.log.Error().Err(err).Msg("Failed to update schedule")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to update schedule")
		return
	}

	h.log.Info().
		Str("periodicity", string(policy.Periodicity)).
		Str("intensity", string(policy.Intensity)).
		Msg("Schedule updated")
	middleware.WriteJSON(w, http.StatusOK, h.scheduleState())
}

// DeliveriesHandler handles delivery job endpoints.
type DeliveriesHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewDeliveriesHandler creates a new deliveries handler.
func NewDeliveriesHandler(store jobs.JobStore, log zerolog.Logger) *DeliveriesHandler {
	return &DeliveriesHandler{
		store: store,
		log:   log,
	}
}

// GetDelivery handles GET /api/deliveries/{id}
func (h *DeliveriesHandler) GetDelivery(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Delivery not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get delivery")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get delivery")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListDeliveries handles GET /api/deliveries
func (h *DeliveriesHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		RequestID: query.Get("request_id"),
		Status:    jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	deliveries, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list deliveries")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list deliveries")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}
