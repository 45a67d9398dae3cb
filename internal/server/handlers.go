package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	gocache "github.com/patrickmn/go-cache"

	"expensegrid/internal/events"
	"expensegrid/internal/storage"
)

const categoriesCacheKey = "categories"

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type authResponse struct {
	Token string   `json:"token"`
	User  authUser `json:"user"`
}

type authUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type upsertExpenseRequest struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Date        string  `json:"date"`
	CategoryID  string  `json:"categoryId"`
}

type updateExpenseRequest struct {
	Amount      *float64 `json:"amount"`
	Description *string  `json:"description"`
	Date        *string  `json:"date"`
	CategoryID  *string  `json:"categoryId"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var problems []string
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		problems = append(problems, "email is required")
	}
	if len(req.Password) < 6 {
		problems = append(problems, "password must be at least 6 characters")
	}
	if len(problems) > 0 {
		sendJSONError(w, strings.Join(problems, "; "), http.StatusBadRequest)
		return
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		slog.ErrorContext(r.Context(), "Password hashing failed", "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	user, err := s.repo.CreateUser(r.Context(), req.Email, hash, req.Name)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			sendJSONError(w, "Email already in use", http.StatusBadRequest)
			return
		}
		slog.ErrorContext(r.Context(), "User creation failed", "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	token, err := s.auth.GenerateToken(user.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Token generation failed", "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusCreated, authResponse{
		Token: token,
		User:  authUser{ID: user.ID, Email: user.Email, Name: user.Name},
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.repo.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		sendJSONError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := s.auth.CompareHashAndPassword(user.PasswordHash, req.Password); err != nil {
		sendJSONError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.auth.GenerateToken(user.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Token generation failed", "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, authResponse{
		Token: token,
		User:  authUser{ID: user.ID, Email: user.Email, Name: user.Name},
	})
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.repo.ListExpenses(r.Context(), userID(r.Context()))
	if err != nil {
		slog.ErrorContext(r.Context(), "Listing expenses failed", "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if expenses == nil {
		expenses = []storage.Expense{}
	}
	sendJSON(w, http.StatusOK, expenses)
}

func (s *Server) handleUpsertExpense(w http.ResponseWriter, r *http.Request) {
	var req upsertExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var problems []string
	if req.Amount < 0 {
		problems = append(problems, "amount must not be negative")
	}
	date, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		problems = append(problems, "date must be RFC 3339")
	}
	if len(problems) > 0 {
		sendJSONError(w, strings.Join(problems, "; "), http.StatusBadRequest)
		return
	}

	uid := userID(r.Context())
	expense, created, err := s.repo.UpsertExpense(r.Context(), uid, req.Amount, req.Description, date, req.CategoryID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Expense upsert failed", "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.publishExpenseEvent(r, uid, expense)
	s.cache.Delete(summaryCacheKey(uid, expense.Date))

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	sendJSON(w, status, expense)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req updateExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var date *time.Time
	if req.Date != nil {
		parsed, err := time.Parse(time.RFC3339, *req.Date)
		if err != nil {
			sendJSONError(w, "date must be RFC 3339", http.StatusBadRequest)
			return
		}
		date = &parsed
	}
	if req.Amount != nil && *req.Amount < 0 {
		sendJSONError(w, "amount must not be negative", http.StatusBadRequest)
		return
	}

	uid := userID(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.repo.UpdateExpense(r.Context(), uid, id, req.Amount, req.Description, date, req.CategoryID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			sendJSONError(w, "Expense not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(r.Context(), "Expense update failed", "id", id, "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	expense, err := s.repo.GetExpense(r.Context(), uid, id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Reading updated expense failed", "id", id, "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.publishExpenseEvent(r, uid, expense)
	s.cache.Delete(summaryCacheKey(uid, expense.Date))
	sendJSON(w, http.StatusOK, expense)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	id := chi.URLParam(r, "id")

	expense, err := s.repo.GetExpense(r.Context(), uid, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			sendJSONError(w, "Expense not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(r.Context(), "Reading expense failed", "id", id, "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	deleted, err := s.repo.DeleteExpense(r.Context(), uid, id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Expense delete failed", "id", id, "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !deleted {
		sendJSONError(w, "Expense not found", http.StatusNotFound)
		return
	}

	s.publishExpenseEvent(r, uid, expense)
	s.cache.Delete(summaryCacheKey(uid, expense.Date))
	sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.cache.Get(categoriesCacheKey); ok {
		sendJSON(w, http.StatusOK, cached)
		return
	}

	categories, err := s.repo.ListCategories(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Listing categories failed", "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.cache.Set(categoriesCacheKey, categories, gocache.DefaultExpiration)
	sendJSON(w, http.StatusOK, categories)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		sendJSONError(w, "name is required", http.StatusBadRequest)
		return
	}

	category, err := s.repo.CreateCategory(r.Context(), req.Name)
	if err != nil {
		slog.ErrorContext(r.Context(), "Category creation failed", "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.cache.Delete(categoriesCacheKey)
	sendJSON(w, http.StatusCreated, category)
}

// handleMonthSummary serves the precomputed month total, falling back to a
// live sum when the worker has not caught up yet. Month is zero-based like
// everywhere else in the API.
func (s *Server) handleMonthSummary(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		sendJSONError(w, "year is required", http.StatusBadRequest)
		return
	}
	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil || month < 0 || month > 11 {
		sendJSONError(w, "month must be in [0, 11]", http.StatusBadRequest)
		return
	}

	uid := userID(r.Context())
	cacheKey := fmt.Sprintf("summary/%s/%d-%d", uid, year, month)
	if cached, ok := s.cache.Get(cacheKey); ok {
		sendJSON(w, http.StatusOK, cached)
		return
	}

	summary, err := s.repo.GetMonthSummary(r.Context(), uid, year, month)
	if errors.Is(err, storage.ErrNotFound) {
		total, sumErr := s.repo.SumExpensesForMonth(r.Context(), uid, year, month)
		if sumErr != nil {
			slog.ErrorContext(r.Context(), "Summing month failed", "error", sumErr)
			sendJSONError(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		summary = storage.MonthSummary{Year: year, Month: month, Total: total, UpdatedAt: time.Now().UTC()}
	} else if err != nil {
		slog.ErrorContext(r.Context(), "Reading month summary failed", "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.cache.Set(cacheKey, summary, time.Minute)
	sendJSON(w, http.StatusOK, summary)
}

// publishExpenseEvent tells the worker which (user, month) needs its
// summary recomputed. Failure is logged and swallowed.
func (s *Server) publishExpenseEvent(r *http.Request, uid string, expense storage.Expense) {
	if s.publisher == nil {
		return
	}
	date := expense.Date.UTC()
	event := events.NewExpenseEvent(uid, date.Year(), int(date.Month())-1, expense.ID)
	if err := s.publisher.PublishExpenseEvent(r.Context(), event); err != nil {
		slog.WarnContext(r.Context(), "Publishing expense event failed",
			"expense_id", expense.ID, "error", err)
	}
}

func summaryCacheKey(uid string, date time.Time) string {
	d := date.UTC()
	return fmt.Sprintf("summary/%s/%d-%d", uid, d.Year(), int(d.Month())-1)
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Encoding response failed", "error", err)
	}
}

func sendJSONError(w http.ResponseWriter, message string, status int) {
	sendJSON(w, status, map[string]string{"error": message})
}
