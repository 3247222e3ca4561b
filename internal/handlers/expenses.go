package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tracspend/internal/apperr"
	"tracspend/internal/models"
	"tracspend/internal/storage"
)

// dateLayouts are the accepted spellings of an expense date, most specific
// first. Layouts without a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// expenseInput is the JSON body of create and update requests. Amount is kept
// raw so numeric strings can be coerced.
type expenseInput struct {
	ID     string          `json:"id"`
	UserID string          `json:"userId"`
	Amount json.RawMessage `json:"amount"`
	Tag    *string         `json:"tag"`
	Date   *string         `json:"date"`
}

// Expenses serves GET, POST, PUT and DELETE on the expense collection of the
// authenticated caller.
func (h *Handlers) Expenses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listExpenses(w, r)
	case http.MethodPost:
		h.createExpense(w, r)
	case http.MethodPut:
		h.updateExpense(w, r)
	case http.MethodDelete:
		h.deleteExpense(w, r)
	default:
		h.writeError(w, r, methodNotAllowed())
	}
}

func (h *Handlers) listExpenses(w http.ResponseWriter, r *http.Request) {
	identity, err := h.caller(r, r.URL.Query().Get("userId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	expenses, err := h.store.ListExpenses(r.Context(), identity.ID)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("list expenses: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(expenses),
		"data":    expenses,
	})
}

func (h *Handlers) createExpense(w http.ResponseWriter, r *http.Request) {
	in, err := decodeExpenseInput(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	identity, err := h.caller(r, in.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	amount, err := parseAmount(in.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if in.Tag == nil {
		h.writeError(w, r, validation("tag is required"))
		return
	}
	tag, err := parseTag(*in.Tag)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var date time.Time
	if in.Date != nil && strings.TrimSpace(*in.Date) != "" {
		if date, err = parseDate(*in.Date); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	expense := &models.Expense{
		UserID: identity.ID,
		Amount: amount,
		Tag:    tag,
		Date:   date,
	}
	if err := h.store.CreateExpense(r.Context(), expense); err != nil {
		h.writeError(w, r, fmt.Errorf("create expense: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": expense})
}

func (h *Handlers) updateExpense(w http.ResponseWriter, r *http.Request) {
	in, err := decodeExpenseInput(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	identity, err := h.caller(r, in.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("id"))
	}
	if id == "" {
		h.writeError(w, r, validation("id is required"))
		return
	}

	var patch storage.ExpensePatch
	if len(in.Amount) > 0 {
		amount, err := parseAmount(in.Amount)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		patch.Amount = &amount
	}
	if in.Tag != nil {
		tag, err := parseTag(*in.Tag)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		patch.Tag = &tag
	}
	if in.Date != nil {
		date, err := parseDate(*in.Date)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		patch.Date = &date
	}

	// An id that cannot exist can only be "not found".
	if !storage.ValidID(id) {
		h.writeError(w, r, notFound())
		return
	}
	expense, err := h.store.UpdateExpense(r.Context(), identity.ID, id, patch)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, r, notFound())
		return
	}
	if err != nil {
		h.writeError(w, r, fmt.Errorf("update expense: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": expense})
}

func (h *Handlers) deleteExpense(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	identity, err := h.caller(r, query.Get("userId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id := strings.TrimSpace(query.Get("id"))
	if !storage.ValidID(id) {
		h.writeError(w, r, validation("a valid id query parameter is required"))
		return
	}

	err = h.store.DeleteExpense(r.Context(), identity.ID, id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, r, notFound())
		return
	}
	if err != nil {
		h.writeError(w, r, fmt.Errorf("delete expense: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]string{"_id": id},
	})
}

// Reset deletes every expense of the caller.
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, r, methodNotAllowed())
		return
	}
	identity, err := h.caller(r, r.URL.Query().Get("userId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	deleted, err := h.store.DeleteAllExpenses(r.Context(), identity.ID)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("reset expenses: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deletedCount": deleted})
}

// Health pings the expense store.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, r, methodNotAllowed())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.writeError(w, r, fmt.Errorf("ping store: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// caller returns the authenticated identity. A userId supplied by the client
// is only accepted when it names the caller.
func (h *Handlers) caller(r *http.Request, claimed string) (models.Identity, error) {
	identity, ok := GetIdentityFromContext(r)
	if !ok {
		return models.Identity{}, apperr.New(apperr.CodeUnauthorized, "Authentication required")
	}
	if claimed = strings.TrimSpace(claimed); claimed != "" && claimed != identity.ID {
		return models.Identity{}, apperr.New(apperr.CodeUnauthorized, "userId does not match the authenticated identity")
	}
	return identity, nil
}

func decodeExpenseInput(w http.ResponseWriter, r *http.Request) (expenseInput, error) {
	var in expenseInput
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return in, apperr.Wrap(apperr.CodeValidation, "request body is too large or unreadable", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return in, validation("request body is required")
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return in, apperr.Wrap(apperr.CodeValidation, "request body must be a JSON object", err)
	}
	return in, nil
}

// parseAmount accepts a JSON number or a numeric string and requires a
// finite value greater than zero.
func parseAmount(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, validation("amount is required")
	}

	var amount float64
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, validation("amount must be a number")
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, validation("amount must be a number")
		}
		amount = v
	} else if err := json.Unmarshal(raw, &amount); err != nil {
		return 0, validation("amount must be a number")
	}

	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, validation("amount must be greater than zero")
	}
	return amount, nil
}

func parseTag(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", validation("tag must not be empty")
	}
	return tag, nil
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, validation("date must be an ISO 8601 date or timestamp")
}

func validation(message string) error {
	return apperr.New(apperr.CodeValidation, message)
}

func notFound() error {
	return apperr.New(apperr.CodeNotFound, "Expense not found")
}
