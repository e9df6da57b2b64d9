// Package dashboard serves usage statistics and API client management for
// logged-in users.
package dashboard

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/chatverify/chatverify/internal/account"
	"github.com/chatverify/chatverify/internal/domain"
	"github.com/chatverify/chatverify/internal/http/middleware"
	"github.com/chatverify/chatverify/internal/httputil"
	"github.com/chatverify/chatverify/internal/repository"
)

const maxPageSize = 100

// Handler handles dashboard endpoints.
type Handler struct {
	logger   *slog.Logger
	accounts *account.Service
	requests *repository.OTPRequestsRepository
	clients  *repository.APIClientsRepository
}

// NewHandler creates a new dashboard handler.
func NewHandler(logger *slog.Logger, accounts *account.Service, requests *repository.OTPRequestsRepository, clients *repository.APIClientsRepository) *Handler {
	return &Handler{
		logger:   logger,
		accounts: accounts,
		requests: requests,
		clients:  clients,
	}
}

func (h *Handler) clientIDs(r *http.Request) ([]uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		return nil, false
	}
	ids, err := h.clients.IDsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list client ids", "error", err)
		return nil, false
	}
	return ids, true
}

// Stats summarizes the user's verification traffic.
// GET /dashboard/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.clientIDs(r)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	lastMonth := thisMonth.AddDate(0, -1, 0)

	count := func(filter repository.RequestFilter) int {
		filter.ClientIDs = ids
		n, err := h.requests.Count(r.Context(), filter)
		if err != nil {
			h.logger.Error("failed to count requests", "error", err)
		}
		return n
	}

	total := count(repository.RequestFilter{})
	verified := count(repository.RequestFilter{Status: domain.StatusVerified})

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats": map[string]any{
			"total":            total,
			"today":            count(repository.RequestFilter{From: &today}),
			"thisMonth":        count(repository.RequestFilter{From: &thisMonth}),
			"lastMonth":        count(repository.RequestFilter{From: &lastMonth, To: &thisMonth}),
			"verified":         verified,
			"expired":          count(repository.RequestFilter{Status: domain.StatusExpired}),
			"incorrect":        count(repository.RequestFilter{Status: domain.StatusIncorrect}),
			"verificationRate": rate(verified, total),
		},
	})
}

// Chart returns daily request counts for the current and previous month.
// GET /dashboard/chart
func (h *Handler) Chart(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.clientIDs(r)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// UTC on both sides: DailyCounts buckets by UTC day, so the month
	// boundaries must be UTC too or midnight-adjacent rows shift a slot.
	now := time.Now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	lastMonth := thisMonth.AddDate(0, -1, 0)
	nextMonth := thisMonth.AddDate(0, 1, 0)
	daysInMonth := nextMonth.AddDate(0, 0, -1).Day()

	thisDaily, err := h.requests.DailyCounts(r.Context(), ids, thisMonth, nextMonth)
	if err != nil {
		h.logger.Error("failed to load daily counts", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	lastDaily, err := h.requests.DailyCounts(r.Context(), ids, lastMonth, thisMonth)
	if err != nil {
		h.logger.Error("failed to load daily counts", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	labels := make([]string, daysInMonth)
	for i := range labels {
		labels[i] = strconv.Itoa(i + 1)
	}
	thisSeries := fillDailySeries(thisDaily, thisMonth, daysInMonth)
	lastSeries := fillDailySeries(lastDaily, lastMonth, daysInMonth)

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"chart": map[string]any{
			"labels":    labels,
			"thisMonth": thisSeries,
			"lastMonth": lastSeries,
		},
	})
}

// fillDailySeries zero-fills a per-day series for one month from UTC day
// buckets. Buckets outside the month are ignored rather than wrapping into a
// neighboring slot.
func fillDailySeries(counts []repository.DailyCount, monthStart time.Time, days int) []int {
	series := make([]int, days)
	for _, c := range counts {
		day := c.Day.UTC()
		if day.Year() != monthStart.Year() || day.Month() != monthStart.Month() {
			continue
		}
		if i := day.Day() - 1; i >= 0 && i < days {
			series[i] = c.Count
		}
	}
	return series
}

func (h *Handler) parseFilter(r *http.Request, ids []uuid.UUID) repository.RequestFilter {
	q := r.URL.Query()
	filter := repository.RequestFilter{
		ClientIDs:   ids,
		PhoneNumber: q.Get("phoneNumber"),
		ServiceName: q.Get("serviceName"),
		Status:      domain.OTPRequestStatus(q.Get("status")),
	}
	if v := q.Get("startDate"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			filter.From = &t
		}
	}
	if v := q.Get("endDate"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			end := t.AddDate(0, 0, 1)
			filter.To = &end
		}
	}
	return filter
}

// SentOTPs lists the user's requests with filters and pagination.
// GET /dashboard/sent-otps
func (h *Handler) SentOTPs(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.clientIDs(r)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Settle overdue rows so listed statuses reflect the expiry rule.
	if err := h.requests.ExpireOverdueForClients(r.Context(), ids); err != nil {
		h.logger.Error("failed to expire overdue requests", "error", err)
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 20
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	items, total, err := h.requests.List(r.Context(), h.parseFilter(r, ids), page, limit)
	if err != nil {
		h.logger.Error("failed to list requests", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	otps := make([]map[string]any, 0, len(items))
	for _, item := range items {
		entry := map[string]any{
			"id":          item.ID,
			"phoneNumber": item.PhoneNumber,
			"serviceName": item.ServiceName,
			"status":      item.Status,
			"date":        item.CreatedAt.Format("2006-01-02"),
			"time":        item.CreatedAt.Format("15:04:05"),
		}
		if item.VerifiedAt != nil {
			entry["verifiedAt"] = item.VerifiedAt.Format(time.RFC3339)
		}
		otps = append(otps, entry)
	}

	pages := (total + limit - 1) / limit
	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"otps":    otps,
		"pagination": map[string]any{
			"page":  page,
			"limit": limit,
			"total": total,
			"pages": pages,
		},
	})
}

// ExportSentOTPs streams the filtered request list as CSV.
// GET /dashboard/sent-otps/export
func (h *Handler) ExportSentOTPs(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.clientIDs(r)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.requests.ExpireOverdueForClients(r.Context(), ids); err != nil {
		h.logger.Error("failed to expire overdue requests", "error", err)
	}

	filter := h.parseFilter(r, ids)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="sent-otps-%s.csv"`, time.Now().Format("2006-01-02")))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "phone_number", "service_name", "status", "created_at", "verified_at"})

	// Page through everything; the writer flushes as it goes.
	for page := 1; ; page++ {
		items, _, err := h.requests.List(r.Context(), filter, page, maxPageSize)
		if err != nil {
			h.logger.Error("failed to export requests", "error", err)
			return
		}
		for _, item := range items {
			verifiedAt := ""
			if item.VerifiedAt != nil {
				verifiedAt = item.VerifiedAt.Format(time.RFC3339)
			}
			_ = cw.Write([]string{
				item.ID.String(),
				item.PhoneNumber,
				item.ServiceName,
				string(item.Status),
				item.CreatedAt.Format(time.RFC3339),
				verifiedAt,
			})
		}
		cw.Flush()
		if len(items) < maxPageSize {
			return
		}
	}
}

// Reports returns monthly totals for the last 12 months.
// GET /dashboard/reports
func (h *Handler) Reports(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.clientIDs(r)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	now := time.Now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	from := thisMonth.AddDate(0, -11, 0)

	stats, err := h.requests.MonthlyStats(r.Context(), ids, from)
	if err != nil {
		h.logger.Error("failed to load monthly stats", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	byMonth := make(map[string]repository.MonthlyStat, len(stats))
	for _, s := range stats {
		byMonth[s.Month.Format("2006-01")] = s
	}

	// Newest first, with zero rows for silent months.
	reports := make([]map[string]any, 0, 12)
	for i := 0; i < 12; i++ {
		month := thisMonth.AddDate(0, -i, 0)
		s := byMonth[month.Format("2006-01")]
		reports = append(reports, map[string]any{
			"month":            month.Format("January 2006"),
			"monthKey":         month.Format("2006-01"),
			"total":            s.Total,
			"verified":         s.Verified,
			"expired":          s.Expired,
			"verificationRate": rate(s.Verified, s.Total),
		})
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"reports": reports,
	})
}

// ListAPIClients lists the user's clients with per-client request totals.
// GET /dashboard/api-clients
func (h *Handler) ListAPIClients(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	clients, err := h.accounts.ListAPIClients(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list api clients", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	ids := make([]uuid.UUID, len(clients))
	for i, c := range clients {
		ids[i] = c.ID
	}
	counts, err := h.requests.CountByClient(r.Context(), ids)
	if err != nil {
		h.logger.Error("failed to count requests by client", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]map[string]any, 0, len(clients))
	for _, c := range clients {
		out = append(out, map[string]any{
			"id":            c.ID,
			"name":          c.Name,
			"keyPrefix":     c.KeyPrefix,
			"webhookUrl":    c.WebhookURL,
			"isActive":      c.IsActive,
			"createdAt":     c.CreatedAt.Format(time.RFC3339),
			"totalRequests": counts[c.ID],
		})
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"clients": out,
	})
}

// CreateAPIClientRequest provisions a new client.
type CreateAPIClientRequest struct {
	Name       string  `json:"name"`
	WebhookURL *string `json:"webhookUrl,omitempty"`
}

// CreateAPIClient provisions a new client and returns the raw key once.
// POST /dashboard/api-clients
func (h *Handler) CreateAPIClient(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateAPIClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		httputil.Error(w, http.StatusBadRequest, "client name is required")
		return
	}

	client, rawKey, err := h.accounts.CreateAPIClient(r.Context(), userID, req.Name, req.WebhookURL)
	if err != nil {
		h.logger.Error("failed to create api client", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	httputil.JSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"client": map[string]any{
			"id":         client.ID,
			"name":       client.Name,
			"apiKey":     rawKey,
			"webhookUrl": client.WebhookURL,
			"isActive":   client.IsActive,
			"createdAt":  client.CreatedAt.Format(time.RFC3339),
		},
		"message": "save this API key securely - it won't be shown again!",
	})
}

func rate(verified, total int) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(verified)/float64(total)*100)
}
