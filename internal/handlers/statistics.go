package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// StatsTagItem represents a tag with its spending statistics.
type StatsTagItem struct {
	Tag        string  `json:"tag"`
	Total      float64 `json:"total"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// StatsView is the monthly spending breakdown returned to the chart.
type StatsView struct {
	Year           int            `json:"year"`
	Month          int            `json:"month"`
	MonthName      string         `json:"monthName"`
	Total          float64        `json:"total"`
	Count          int            `json:"count"`
	Tags           []StatsTagItem `json:"tags"`
	PrevYear       int            `json:"prevYear"`
	PrevMonth      int            `json:"prevMonth"`
	NextYear       int            `json:"nextYear"`
	NextMonth      int            `json:"nextMonth"`
	IsCurrentMonth bool           `json:"isCurrentMonth"`
}

// Statistics returns per-tag totals for one calendar month of the caller's
// expenses, defaulting to the current month.
func (h *Handlers) Statistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, r, methodNotAllowed())
		return
	}
	identity, err := h.caller(r, r.URL.Query().Get("userId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	now := h.now().UTC()
	year := now.Year()
	month := int(now.Month())

	if yearStr := r.URL.Query().Get("year"); yearStr != "" {
		y, err := strconv.Atoi(yearStr)
		if err != nil || y < 1 || y > 9999 {
			h.writeError(w, r, validation("year must be a number between 1 and 9999"))
			return
		}
		year = y
	}
	if monthStr := r.URL.Query().Get("month"); monthStr != "" {
		m, err := strconv.Atoi(monthStr)
		if err != nil || m < 1 || m > 12 {
			h.writeError(w, r, validation("month must be a number between 1 and 12"))
			return
		}
		month = m
	}

	tagTotals, err := h.store.TagTotalsByMonth(r.Context(), identity.ID, year, month)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("tag totals: %w", err))
		return
	}

	var total float64
	var count int
	for _, tt := range tagTotals {
		total += tt.Total
		count += tt.Count
	}

	tags := make([]StatsTagItem, 0, len(tagTotals))
	for _, tt := range tagTotals {
		percentage := 0.0
		if total > 0 {
			percentage = (tt.Total / total) * 100
		}
		tags = append(tags, StatsTagItem{
			Tag:        tt.Tag,
			Total:      tt.Total,
			Count:      tt.Count,
			Percentage: percentage,
		})
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	prevDate := first.AddDate(0, -1, 0)
	nextDate := first.AddDate(0, 1, 0)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": StatsView{
			Year:           year,
			Month:          month,
			MonthName:      time.Month(month).String(),
			Total:          total,
			Count:          count,
			Tags:           tags,
			PrevYear:       prevDate.Year(),
			PrevMonth:      int(prevDate.Month()),
			NextYear:       nextDate.Year(),
			NextMonth:      int(nextDate.Month()),
			IsCurrentMonth: year == now.Year() && month == int(now.Month()),
		},
	})
}
